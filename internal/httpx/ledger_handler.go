package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/go-supplychain-ledger/internal/allocator"
	"github.com/ariefcatur/go-supplychain-ledger/internal/contracts"
	"github.com/ariefcatur/go-supplychain-ledger/internal/flow"
	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
	"github.com/ariefcatur/go-supplychain-ledger/internal/notary"
	"github.com/ariefcatur/go-supplychain-ledger/internal/vault"
)

// Ledger is the node API the handler drives. *flow.Node implements it.
type Ledger interface {
	Party() ledger.Party
	Vault() vault.Store
	Stock(ctx context.Context) (ledger.StockState, error)
	AddProduct(ctx context.Context, p ledger.Product) (ledger.StockState, error)
	CreatePurchaseOrder(ctx context.Context, seller ledger.Party, products map[ledger.ProductType]int, valueInCents int64) (uuid.UUID, error)
	ReserveForOrder(ctx context.Context, orderID uuid.UUID) (ledger.StockState, error)
	CreateDeliveryOrder(ctx context.Context, deliverCompany ledger.Party, orderID uuid.UUID) (uuid.UUID, error)
	ResumeDeliveryOrder(ctx context.Context, orderID uuid.UUID) error
	AcceptDeliveryOrder(ctx context.Context, id uuid.UUID) error
	ReceiveDeliveryOrder(ctx context.Context, id uuid.UUID) error
	ResumeReceipt(ctx context.Context, id uuid.UUID) error
	SellProduct(ctx context.Context, t ledger.ProductType, price int64) (ledger.SaleState, error)
	Undelivered() []ledger.TxID
	Redistribute(ctx context.Context, id ledger.TxID) error
}

type LedgerHandler struct {
	Node Ledger
}

type AddProductReq struct {
	Type ledger.ProductType `json:"type"`
}

type CreatePurchaseOrderReq struct {
	Seller       ledger.Party               `json:"seller"`
	Products     map[ledger.ProductType]int `json:"products"`
	ValueInCents int64                      `json:"value_in_cents"`
}

type CreateDeliveryOrderReq struct {
	DeliverCompany ledger.Party `json:"deliver_company"`
	OrderID        uuid.UUID    `json:"order_id"`
}

type SellProductReq struct {
	Type  ledger.ProductType `json:"type"`
	Price int64              `json:"price"`
}

type IDResp struct {
	ID uuid.UUID `json:"id"`
}

func (h *LedgerHandler) Register(r chi.Router) {
	r.Get("/stock", h.getStock)
	r.Post("/products", h.addProduct)
	r.Post("/purchase-orders", h.createPurchaseOrder)
	r.Post("/purchase-orders/{id}/reserve", h.reserve)
	r.Post("/purchase-orders/{id}/resume-delivery", h.resumeDelivery)
	r.Post("/delivery-orders", h.createDeliveryOrder)
	r.Post("/delivery-orders/{id}/accept", h.acceptDeliveryOrder)
	r.Post("/delivery-orders/{id}/receive", h.receiveDeliveryOrder)
	r.Post("/delivery-orders/{id}/resume-receipt", h.resumeReceipt)
	r.Post("/sales", h.sellProduct)
	r.Get("/states/{contract}", h.listStates)
	r.Get("/states/{contract}/{id}/history", h.stateHistory)
	r.Get("/transactions/undelivered", h.listUndelivered)
	r.Get("/transactions/{txid}", h.getTransaction)
	r.Post("/transactions/{txid}/redistribute", h.redistribute)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResp struct {
	Error string `json:"error"`
	Rule  string `json:"rule,omitempty"`
	Step  string `json:"step,omitempty"`

	Undelivered []ledger.TxID `json:"undelivered,omitempty"`
}

// writeError maps the ledger error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResp{Error: err.Error()}
	var (
		verr    *contracts.ValidationError
		partial *flow.PartialError
	)
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &partial):
		resp.Step = partial.Step
		resp.Undelivered = partial.Undelivered
	case errors.As(err, &verr):
		code = http.StatusUnprocessableEntity
		resp.Rule = verr.Rule
	case errors.Is(err, allocator.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, vault.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, flow.ErrNotParty):
		code = http.StatusForbidden
	case errors.Is(err, notary.ErrConflict),
		errors.Is(err, vault.ErrSingletonViolation),
		errors.Is(err, allocator.ErrInsufficientStock),
		errors.Is(err, allocator.ErrDuplicateReservation),
		errors.Is(err, flow.ErrNotReserved):
		code = http.StatusConflict
	case errors.Is(err, flow.ErrRefused):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *LedgerHandler) getStock(w http.ResponseWriter, r *http.Request) {
	st, err := h.Node.Stock(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *LedgerHandler) addProduct(w http.ResponseWriter, r *http.Request) {
	var req AddProductReq
	if !decode(w, r, &req) {
		return
	}
	if !req.Type.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "unknown product type"})
		return
	}
	st, err := h.Node.AddProduct(r.Context(), ledger.NewProduct(h.Node.Party(), req.Type))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *LedgerHandler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseOrderReq
	if !decode(w, r, &req) {
		return
	}
	if req.Seller == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "missing seller"})
		return
	}
	id, err := h.Node.CreatePurchaseOrder(r.Context(), req.Seller, req.Products, req.ValueInCents)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResp{ID: id})
}

func (h *LedgerHandler) reserve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := h.Node.ReserveForOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *LedgerHandler) resumeDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Node.ResumeDeliveryOrder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) createDeliveryOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateDeliveryOrderReq
	if !decode(w, r, &req) {
		return
	}
	if req.DeliverCompany == "" || req.OrderID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "missing fields"})
		return
	}
	id, err := h.Node.CreateDeliveryOrder(r.Context(), req.DeliverCompany, req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResp{ID: id})
}

func (h *LedgerHandler) acceptDeliveryOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Node.AcceptDeliveryOrder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) receiveDeliveryOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Node.ReceiveDeliveryOrder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) resumeReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Node.ResumeReceipt(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) sellProduct(w http.ResponseWriter, r *http.Request) {
	var req SellProductReq
	if !decode(w, r, &req) {
		return
	}
	if !req.Type.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "unknown product type"})
		return
	}
	sale, err := h.Node.SellProduct(r.Context(), req.Type, req.Price)
	if err != nil && !errors.Is(err, flow.ErrPartial) {
		writeError(w, err)
		return
	}
	if err != nil {
		// The sale is final; only the producer notification is missing.
		writeJSON(w, http.StatusAccepted, sale)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

// listStates returns the live states of one contract as {ref, state} pairs.
func (h *LedgerHandler) listStates(w http.ResponseWriter, r *http.Request) {
	contract := ledger.ContractID(chi.URLParam(r, "contract"))
	all, err := h.Node.Vault().All(r.Context(), contract)
	if err != nil {
		writeError(w, err)
		return
	}
	if all == nil {
		all = []ledger.StateAndRef{}
	}
	writeJSON(w, http.StatusOK, all)
}

// stateHistory returns every recorded version of one linear state, oldest first.
func (h *LedgerHandler) stateHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	contract := ledger.ContractID(chi.URLParam(r, "contract"))
	versions, err := h.Node.Vault().History(r.Context(), contract, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(versions) == 0 {
		writeError(w, fmt.Errorf("%w: %s %s", vault.ErrNotFound, contract, id))
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *LedgerHandler) getTransaction(w http.ResponseWriter, r *http.Request) {
	f, err := h.Node.Vault().Transaction(r.Context(), ledger.TxID(chi.URLParam(r, "txid")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *LedgerHandler) listUndelivered(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Node.Undelivered())
}

func (h *LedgerHandler) redistribute(w http.ResponseWriter, r *http.Request) {
	if err := h.Node.Redistribute(r.Context(), ledger.TxID(chi.URLParam(r, "txid"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
