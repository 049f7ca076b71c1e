package contracts

import (
	"github.com/google/uuid"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

func verifyStockCreate(tx ledger.Transaction, cmd ledger.Command) error {
	r := rulesFor(cmd)
	r.require("cannot create a StockState when one already exists", len(ledger.InputsOf[ledger.StockState](tx)) == 0)
	r.require("exactly one StockState must be created", len(ledger.OutputsOf[ledger.StockState](tx)) == 1)
	return r.err
}

// stockPair returns the single StockState consumed and the single one
// produced.
func stockPair(tx ledger.Transaction, r *rules) (ledger.StockState, ledger.StockState, bool) {
	in, okIn := single(ledger.InputsOf[ledger.StockState](tx))
	out, okOut := single(ledger.OutputsOf[ledger.StockState](tx))
	r.require("exactly one StockState input is required", okIn)
	r.require("exactly one StockState output is required", okOut)
	return in, out, okIn && okOut
}

// AddProduct only rejects no-op writes. Corruption of the appended bucket is
// caught by the reservation and sale rules that follow.
func verifyAddProduct(tx ledger.Transaction, cmd ledger.Command) error {
	r := rulesFor(cmd)
	in, out, ok := stockPair(tx, r)
	if !ok {
		return r.err
	}
	r.require("trying to update StockState with the same value", !in.Equal(out))
	return r.err
}

func verifyReserveProducts(tx ledger.Transaction, cmd ledger.Command) error {
	r := rulesFor(cmd)
	inState, outState, ok := stockPair(tx, r)
	if !ok {
		return r.err
	}
	in, out := inState.Stock, outState.Stock

	added := keysMinus(out.Reserved, in.Reserved)
	if len(added) != 1 {
		return r.fail("exactly one reservation must be added")
	}
	k := added[0]

	expectedReserved := withoutKey(out.Reserved, k)
	r.require("only one ID should have been added to reserved", ledger.ReservedEqual(in.Reserved, expectedReserved))

	// Putting the reserved products back in front of what is left must give
	// the input's availability, bucket order included.
	expectedAvailable := out.Available.Clone()
	for t, ps := range out.Reserved[k] {
		merged := make([]ledger.Product, 0, len(ps)+len(expectedAvailable[t]))
		merged = append(merged, ps...)
		merged = append(merged, expectedAvailable[t]...)
		expectedAvailable[t] = merged
	}
	r.require("only reserved products should be removed from available", in.Available.Equal(expectedAvailable))
	return r.err
}

// RemoveReservedProducts drops one reservation without returning its products
// to availability: they left with the order that reserved them.
func verifyRemoveReservedProducts(tx ledger.Transaction, cmd ledger.Command) error {
	r := rulesFor(cmd)
	inState, outState, ok := stockPair(tx, r)
	if !ok {
		return r.err
	}
	in, out := inState.Stock, outState.Stock

	removed := keysMinus(in.Reserved, out.Reserved)
	if len(removed) != 1 {
		return r.fail("exactly one reservation must be removed")
	}
	r.require("available products should not change", in.Available.Equal(out.Available))
	r.require("only one ID should be removed from reserved", ledger.ReservedEqual(out.Reserved, withoutKey(in.Reserved, removed[0])))
	return r.err
}

func verifySellProduct(tx ledger.Transaction, cmd ledger.Command) error {
	r := rulesFor(cmd)
	inState, outState, ok := stockPair(tx, r)
	if !ok {
		return r.err
	}
	in, out := inState.Stock, outState.Stock

	r.require("stock owner must not change", inState.OwnerParty == outState.OwnerParty)
	r.require("stock should not change except for available", ledger.ReservedEqual(in.Reserved, out.Reserved))

	inAvail := byID(in.Available)
	outAvail := byID(out.Available)
	var vanished []ledger.Product
	for id, p := range inAvail {
		if _, ok := outAvail[id]; !ok {
			vanished = append(vanished, p)
		}
	}
	// A kept ID must keep its producer and type too.
	appeared := 0
	for id, p := range outAvail {
		if was, ok := inAvail[id]; !ok || was != p {
			appeared++
		}
	}
	r.require("only one product should be removed from available", len(vanished) == 1)
	r.require("there should be no new output products", appeared == 0)
	if r.err != nil {
		return r.err
	}

	sale, ok := single(ledger.OutputsOf[ledger.SaleState](tx))
	r.require("exactly one SaleState must be produced", ok)
	r.require("no SaleState should be consumed", len(ledger.InputsOf[ledger.SaleState](tx)) == 0)
	if !ok {
		return r.err
	}
	r.require("price has to be greater than 0", sale.Price > 0)
	r.require("SaleState.product should be the product removed from stock", sale.Product == vanished[0])
	return r.err
}

func keysMinus(a, b map[uuid.UUID]ledger.Inventory) []uuid.UUID {
	var out []uuid.UUID
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func withoutKey(m map[uuid.UUID]ledger.Inventory, k uuid.UUID) map[uuid.UUID]ledger.Inventory {
	out := make(map[uuid.UUID]ledger.Inventory, len(m))
	for key, inv := range m {
		if key != k {
			out[key] = inv
		}
	}
	return out
}

func byID(inv ledger.Inventory) map[uuid.UUID]ledger.Product {
	out := make(map[uuid.UUID]ledger.Product, inv.Count())
	for _, p := range inv.Products() {
		out[p.ID] = p
	}
	return out
}
