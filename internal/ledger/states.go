package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ContractID names the rule set a state belongs to.
type ContractID string

const (
	ContractStock            ContractID = "stock"
	ContractPurchaseOrder    ContractID = "purchase-order"
	ContractDeliveryOrder    ContractID = "delivery-order"
	ContractSale             ContractID = "sale"
	ContractSaleNotification ContractID = "sale-notification"
)

// State is an immutable record valid until a later transaction consumes it.
type State interface {
	Contract() ContractID
	Participants() []Party
	Equal(State) bool
}

// LinearState keeps a stable identity across successive versions.
type LinearState interface {
	State
	LinearID() uuid.UUID
}

// OwnableState has a single owning party used by owner queries.
type OwnableState interface {
	State
	Owner() Party
}

type StockState struct {
	OwnerParty Party `json:"owner"`
	Stock      Stock `json:"stock"`
}

func NewStockState(owner Party) StockState {
	return StockState{OwnerParty: owner, Stock: NewStock()}
}

func (s StockState) Contract() ContractID  { return ContractStock }
func (s StockState) Participants() []Party { return []Party{s.OwnerParty} }
func (s StockState) Owner() Party          { return s.OwnerParty }

func (s StockState) WithStock(st Stock) StockState {
	s.Stock = st
	return s
}

func (s StockState) Equal(other State) bool {
	o, ok := other.(StockState)
	return ok && s.OwnerParty == o.OwnerParty && s.Stock.Equal(o.Stock)
}

type PurchaseOrderState struct {
	Buyer        Party               `json:"buyer"`
	Seller       Party               `json:"seller"`
	Products     map[ProductType]int `json:"products"`
	ValueInCents int64               `json:"value_in_cents"`
	ID           uuid.UUID           `json:"linear_id"`
}

func NewPurchaseOrder(buyer, seller Party, products map[ProductType]int, valueInCents int64) PurchaseOrderState {
	cp := make(map[ProductType]int, len(products))
	for t, q := range products {
		cp[t] = q
	}
	return PurchaseOrderState{Buyer: buyer, Seller: seller, Products: cp, ValueInCents: valueInCents, ID: uuid.New()}
}

func (s PurchaseOrderState) Contract() ContractID  { return ContractPurchaseOrder }
func (s PurchaseOrderState) Participants() []Party { return []Party{s.Buyer, s.Seller} }
func (s PurchaseOrderState) LinearID() uuid.UUID   { return s.ID }

func (s PurchaseOrderState) Equal(other State) bool {
	o, ok := other.(PurchaseOrderState)
	if !ok || s.Buyer != o.Buyer || s.Seller != o.Seller || s.ValueInCents != o.ValueInCents || s.ID != o.ID {
		return false
	}
	if len(s.Products) != len(o.Products) {
		return false
	}
	for t, q := range s.Products {
		if oq, ok := o.Products[t]; !ok || oq != q {
			return false
		}
	}
	return true
}

type DeliveryOrderState struct {
	Buyer          Party     `json:"buyer"`
	Seller         Party     `json:"seller"`
	DeliverCompany Party     `json:"deliver_company"`
	Products       Inventory `json:"products"`
	Accepted       bool      `json:"accepted"`
	ID             uuid.UUID `json:"linear_id"`
}

func NewDeliveryOrder(buyer, seller, deliverCompany Party, products Inventory) DeliveryOrderState {
	return DeliveryOrderState{
		Buyer:          buyer,
		Seller:         seller,
		DeliverCompany: deliverCompany,
		Products:       products.Clone(),
		ID:             uuid.New(),
	}
}

func (s DeliveryOrderState) Contract() ContractID { return ContractDeliveryOrder }
func (s DeliveryOrderState) Participants() []Party {
	return []Party{s.Buyer, s.Seller, s.DeliverCompany}
}
func (s DeliveryOrderState) LinearID() uuid.UUID { return s.ID }

// Accept returns the next version with only the accepted flag changed.
func (s DeliveryOrderState) Accept() DeliveryOrderState {
	s.Products = s.Products.Clone()
	s.Accepted = true
	return s
}

func (s DeliveryOrderState) Equal(other State) bool {
	o, ok := other.(DeliveryOrderState)
	return ok && s.Buyer == o.Buyer && s.Seller == o.Seller && s.DeliverCompany == o.DeliverCompany &&
		s.Accepted == o.Accepted && s.ID == o.ID && s.Products.Equal(o.Products)
}

type SaleState struct {
	Retail  Party   `json:"retail"`
	Product Product `json:"product"`
	Price   int64   `json:"price"`
}

func (s SaleState) Contract() ContractID  { return ContractSale }
func (s SaleState) Participants() []Party { return []Party{s.Retail} }
func (s SaleState) Owner() Party          { return s.Retail }

func (s SaleState) Equal(other State) bool {
	o, ok := other.(SaleState)
	return ok && s == o
}

// SaleNotificationState is the producer's copy of a sale of one of its
// products.
type SaleNotificationState struct {
	Retail  Party   `json:"retail"`
	Product Product `json:"product"`
}

func (s SaleNotificationState) Contract() ContractID  { return ContractSaleNotification }
func (s SaleNotificationState) Participants() []Party { return []Party{s.Product.Producer} }
func (s SaleNotificationState) Owner() Party          { return s.Product.Producer }

func (s SaleNotificationState) Equal(other State) bool {
	o, ok := other.(SaleNotificationState)
	return ok && s == o
}

// TypedState is the wire form of a State.
type TypedState struct {
	Contract ContractID      `json:"contract"`
	Data     json.RawMessage `json:"data"`
}

func EncodeState(s State) (TypedState, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return TypedState{}, fmt.Errorf("encode %s state: %w", s.Contract(), err)
	}
	return TypedState{Contract: s.Contract(), Data: b}, nil
}

func DecodeState(ts TypedState) (State, error) {
	switch ts.Contract {
	case ContractStock:
		return decodeAs[StockState](ts)
	case ContractPurchaseOrder:
		return decodeAs[PurchaseOrderState](ts)
	case ContractDeliveryOrder:
		return decodeAs[DeliveryOrderState](ts)
	case ContractSale:
		return decodeAs[SaleState](ts)
	case ContractSaleNotification:
		return decodeAs[SaleNotificationState](ts)
	default:
		return nil, fmt.Errorf("unknown contract %q", ts.Contract)
	}
}

func decodeAs[T State](ts TypedState) (State, error) {
	var t T
	if err := json.Unmarshal(ts.Data, &t); err != nil {
		return nil, fmt.Errorf("decode %s state: %w", ts.Contract, err)
	}
	return t, nil
}

// HasParticipant reports whether p is among the state's participants.
func HasParticipant(s State, p Party) bool {
	for _, q := range s.Participants() {
		if q == p {
			return true
		}
	}
	return false
}
