// Package allocator computes the stock deltas behind reservations, releases,
// sales and arrivals. It never touches the ledger: callers build the
// transaction from the returned Stock.
package allocator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

var (
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrDuplicateReservation = errors.New("reservation already exists")
	ErrUnknownReservation   = errors.New("reservation not found")
	ErrInvalidRequest       = errors.New("invalid product request")
)

// InsufficientStockError reports the first product type that cannot be
// covered.
type InsufficientStockError struct {
	Type      ledger.ProductType
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough items in stock for product %s: requested %d, available %d",
		e.Type, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ValidateRequest rejects unknown types, non-positive quantities and empty
// requests.
func ValidateRequest(request map[ledger.ProductType]int) error {
	if len(request) == 0 {
		return fmt.Errorf("%w: no products requested", ErrInvalidRequest)
	}
	for t, q := range request {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown product type %q", ErrInvalidRequest, t)
		}
		if q <= 0 {
			return fmt.Errorf("%w: quantity for %s must be positive, got %d", ErrInvalidRequest, t, q)
		}
	}
	return nil
}

// Shortfalls lists every requested type the available stock cannot cover, in
// product-type order.
func Shortfalls(s ledger.Stock, request map[ledger.ProductType]int) []InsufficientStockError {
	var out []InsufficientStockError
	for _, t := range ledger.ProductTypes() {
		q, ok := request[t]
		if !ok {
			continue
		}
		if have := len(s.Available[t]); have < q {
			out = append(out, InsufficientStockError{Type: t, Requested: q, Available: have})
		}
	}
	return out
}

// Sufficient is the advisory check a seller runs before agreeing to an
// order. The validator never repeats it.
func Sufficient(s ledger.Stock, request map[ledger.ProductType]int) error {
	if err := ValidateRequest(request); err != nil {
		return err
	}
	if short := Shortfalls(s, request); len(short) > 0 {
		return &short[0]
	}
	return nil
}

// Add appends p at the back of its type bucket.
func Add(s ledger.Stock, p ledger.Product) (ledger.Stock, error) {
	if !p.Type.Valid() {
		return ledger.Stock{}, fmt.Errorf("%w: unknown product type %q", ErrInvalidRequest, p.Type)
	}
	if _, held := s.ProductIDs()[p.ID]; held {
		return ledger.Stock{}, fmt.Errorf("product %s already in stock", p.ID)
	}
	out := s.Clone()
	out.Available[p.Type] = append(out.Available[p.Type], p)
	return out, nil
}

// Reserve moves the oldest products of each requested type under orderID.
func Reserve(s ledger.Stock, orderID uuid.UUID, request map[ledger.ProductType]int) (ledger.Stock, error) {
	if err := Sufficient(s, request); err != nil {
		return ledger.Stock{}, err
	}
	if _, exists := s.Reserved[orderID]; exists {
		return ledger.Stock{}, fmt.Errorf("%w: %s", ErrDuplicateReservation, orderID)
	}
	out := s.Clone()
	reserved := ledger.Inventory{}
	for _, t := range ledger.ProductTypes() {
		q, ok := request[t]
		if !ok {
			continue
		}
		bucket := out.Available[t]
		taken := make([]ledger.Product, q)
		copy(taken, bucket[:q])
		rest := make([]ledger.Product, len(bucket)-q)
		copy(rest, bucket[q:])
		reserved[t] = taken
		out.Available[t] = rest
	}
	out.Reserved[orderID] = reserved
	return out, nil
}

// Release drops the reservation. The products are not made available again:
// they are assumed to travel with the order's delivery.
func Release(s ledger.Stock, orderID uuid.UUID) (ledger.Stock, ledger.Inventory, error) {
	inv, ok := s.Reserved[orderID]
	if !ok {
		return ledger.Stock{}, nil, fmt.Errorf("%w: %s", ErrUnknownReservation, orderID)
	}
	out := s.Clone()
	delete(out.Reserved, orderID)
	return out, inv.Clone(), nil
}

// Consume takes the oldest available product of type t.
func Consume(s ledger.Stock, t ledger.ProductType) (ledger.Stock, ledger.Product, error) {
	if len(s.Available[t]) == 0 {
		return ledger.Stock{}, ledger.Product{}, &InsufficientStockError{Type: t, Requested: 1}
	}
	out := s.Clone()
	p := out.Available[t][0]
	out.Available[t] = out.Available[t][1:]
	return out, p, nil
}
