package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Party is the stable name of a ledger participant. Keys are resolved through
// the identity directory, never carried on the state itself.
type Party string

type ProductType string

const (
	TypeA ProductType = "A"
	TypeB ProductType = "B"
	TypeC ProductType = "C"
	TypeD ProductType = "D"
)

var productTypes = []ProductType{TypeA, TypeB, TypeC, TypeD}

// ProductTypes returns the closed set of product types in a stable order.
func ProductTypes() []ProductType {
	out := make([]ProductType, len(productTypes))
	copy(out, productTypes)
	return out
}

func (t ProductType) Valid() bool {
	for _, pt := range productTypes {
		if pt == t {
			return true
		}
	}
	return false
}

func ParseProductType(s string) (ProductType, error) {
	t := ProductType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown product type %q", s)
	}
	return t, nil
}

// Product is one physical item. Two products of the same type are distinct.
type Product struct {
	ID       uuid.UUID   `json:"id"`
	Producer Party       `json:"producer"`
	Type     ProductType `json:"type"`
}

func NewProduct(producer Party, t ProductType) Product {
	return Product{ID: uuid.New(), Producer: producer, Type: t}
}
