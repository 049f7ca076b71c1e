package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Inventory groups products by type. Slice order is arrival order and is what
// FIFO consumption relies on. A missing bucket and an empty one are equal.
type Inventory map[ProductType][]Product

func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	for t, ps := range inv {
		cp := make([]Product, len(ps))
		copy(cp, ps)
		out[t] = cp
	}
	return out
}

// Equal compares bucket by bucket, order included.
func (inv Inventory) Equal(other Inventory) bool {
	for t, ps := range inv {
		if !productsEqual(ps, other[t]) {
			return false
		}
	}
	for t, ps := range other {
		if _, ok := inv[t]; !ok && len(ps) > 0 {
			return false
		}
	}
	return true
}

func (inv Inventory) Count() int {
	n := 0
	for _, ps := range inv {
		n += len(ps)
	}
	return n
}

// Products flattens the inventory in product-type order.
func (inv Inventory) Products() []Product {
	out := make([]Product, 0, inv.Count())
	for _, t := range productTypes {
		out = append(out, inv[t]...)
	}
	for t, ps := range inv {
		if !t.Valid() {
			out = append(out, ps...)
		}
	}
	return out
}

func productsEqual(a, b []Product) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Stock is what one owner holds: products free for sale or order, and
// products earmarked per purchase order.
type Stock struct {
	Available Inventory               `json:"available"`
	Reserved  map[uuid.UUID]Inventory `json:"reserved"`
}

func NewStock() Stock {
	return Stock{Available: Inventory{}, Reserved: map[uuid.UUID]Inventory{}}
}

func (s Stock) Clone() Stock {
	out := Stock{Available: s.Available.Clone(), Reserved: make(map[uuid.UUID]Inventory, len(s.Reserved))}
	for k, inv := range s.Reserved {
		out.Reserved[k] = inv.Clone()
	}
	return out
}

func (s Stock) Equal(other Stock) bool {
	return s.Available.Equal(other.Available) && ReservedEqual(s.Reserved, other.Reserved)
}

func ReservedEqual(a, b map[uuid.UUID]Inventory) bool {
	if len(a) != len(b) {
		return false
	}
	for k, inv := range a {
		o, ok := b[k]
		if !ok || !inv.Equal(o) {
			return false
		}
	}
	return true
}

// ProductIDs returns every product ID held, available or reserved.
func (s Stock) ProductIDs() map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{})
	for _, p := range s.Available.Products() {
		out[p.ID] = struct{}{}
	}
	for _, inv := range s.Reserved {
		for _, p := range inv.Products() {
			out[p.ID] = struct{}{}
		}
	}
	return out
}

// CheckUnique reports the first product ID found in more than one place.
func (s Stock) CheckUnique() error {
	seen := make(map[uuid.UUID]string)
	visit := func(where string, inv Inventory) error {
		for _, p := range inv.Products() {
			if prev, ok := seen[p.ID]; ok {
				return fmt.Errorf("product %s held twice (%s and %s)", p.ID, prev, where)
			}
			seen[p.ID] = where
		}
		return nil
	}
	if err := visit("available", s.Available); err != nil {
		return err
	}
	for k, inv := range s.Reserved {
		if err := visit("reserved:"+k.String(), inv); err != nil {
			return err
		}
	}
	return nil
}
