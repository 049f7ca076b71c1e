package contracts

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

const (
	producer ledger.Party = "Producer"
	retail   ledger.Party = "Retail"
)

func ref(i int) ledger.StateRef { return ledger.StateRef{TxID: "prev", Index: i} }

func stockTx(cmd ledger.Command, in, out ledger.Stock, extra ...ledger.State) ledger.Transaction {
	outs := append([]ledger.State{ledger.StockState{OwnerParty: producer, Stock: out}}, extra...)
	return ledger.Transaction{
		Inputs:  []ledger.StateAndRef{{Ref: ref(0), State: ledger.StockState{OwnerParty: producer, Stock: in}}},
		Outputs: outs,
		Command: cmd,
		Signers: []ledger.Party{producer},
	}
}

func products(n int, t ledger.ProductType) []ledger.Product {
	out := make([]ledger.Product, n)
	for i := range out {
		out[i] = ledger.NewProduct(producer, t)
	}
	return out
}

func assertRule(t *testing.T, err error, rule string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, rule, ve.Rule)
}

func TestStockCreate(t *testing.T) {
	tx := ledger.Transaction{
		Outputs: []ledger.State{ledger.NewStockState(producer)},
		Command: ledger.StockCreate{},
		Signers: []ledger.Party{producer},
	}
	require.NoError(t, Verify(tx))

	tx.Inputs = []ledger.StateAndRef{{Ref: ref(0), State: ledger.NewStockState(producer)}}
	assertRule(t, Verify(tx), "cannot create a StockState when one already exists")
}

func TestAddProduct(t *testing.T) {
	p := ledger.NewProduct(producer, ledger.TypeA)
	in := ledger.NewStock()
	out := ledger.Stock{Available: ledger.Inventory{ledger.TypeA: {p}}}

	require.NoError(t, Verify(stockTx(ledger.StockAddProduct{}, in, out)))
	assertRule(t, Verify(stockTx(ledger.StockAddProduct{}, in, in)), "trying to update StockState with the same value")
}

func TestReserveProducts(t *testing.T) {
	as := products(3, ledger.TypeA)
	bs := products(1, ledger.TypeB)
	order := uuid.New()
	in := ledger.Stock{Available: ledger.Inventory{ledger.TypeA: as, ledger.TypeB: bs}}

	tests := []struct {
		name string
		out  ledger.Stock
		rule string
	}{
		{
			name: "first two of A reserved",
			out: ledger.Stock{
				Available: ledger.Inventory{ledger.TypeA: as[2:], ledger.TypeB: bs},
				Reserved:  map[uuid.UUID]ledger.Inventory{order: {ledger.TypeA: as[:2]}},
			},
		},
		{
			name: "whole bucket leaves an empty slice",
			out: ledger.Stock{
				Available: ledger.Inventory{ledger.TypeA: as, ledger.TypeB: {}},
				Reserved:  map[uuid.UUID]ledger.Inventory{order: {ledger.TypeB: bs}},
			},
		},
		{
			name: "two reservations at once",
			out: ledger.Stock{
				Available: ledger.Inventory{ledger.TypeA: as[2:], ledger.TypeB: {}},
				Reserved: map[uuid.UUID]ledger.Inventory{
					order:      {ledger.TypeA: as[:2]},
					uuid.New(): {ledger.TypeB: bs},
				},
			},
			rule: "exactly one reservation must be added",
		},
		{
			name: "reserved product conjured",
			out: ledger.Stock{
				Available: ledger.Inventory{ledger.TypeA: as, ledger.TypeB: bs},
				Reserved:  map[uuid.UUID]ledger.Inventory{order: {ledger.TypeC: products(1, ledger.TypeC)}},
			},
			rule: "only reserved products should be removed from available",
		},
		{
			name: "partial reservation drops a product",
			out: ledger.Stock{
				Available: ledger.Inventory{ledger.TypeA: as[2:], ledger.TypeB: bs},
				Reserved:  map[uuid.UUID]ledger.Inventory{order: {ledger.TypeA: as[:1]}},
			},
			rule: "only reserved products should be removed from available",
		},
		{
			name: "reservation out of arrival order",
			out: ledger.Stock{
				Available: ledger.Inventory{ledger.TypeA: as[:1], ledger.TypeB: bs},
				Reserved:  map[uuid.UUID]ledger.Inventory{order: {ledger.TypeA: as[1:]}},
			},
			rule: "only reserved products should be removed from available",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Verify(stockTx(ledger.StockReserveProducts{}, in, tc.out))
			if tc.rule == "" {
				require.NoError(t, err)
				assert.Len(t, keysMinus(tc.out.Reserved, in.Reserved), 1)
				assert.Equal(t, in.ProductIDs(), tc.out.ProductIDs())
				return
			}
			assertRule(t, err, tc.rule)
		})
	}
}

func TestReserveProductsKeepsExistingReservations(t *testing.T) {
	as := products(2, ledger.TypeA)
	held := products(1, ledger.TypeA)
	existing, order := uuid.New(), uuid.New()
	in := ledger.Stock{
		Available: ledger.Inventory{ledger.TypeA: as},
		Reserved:  map[uuid.UUID]ledger.Inventory{existing: {ledger.TypeA: held}},
	}
	out := ledger.Stock{
		Available: ledger.Inventory{ledger.TypeA: as[1:]},
		Reserved:  map[uuid.UUID]ledger.Inventory{existing: {ledger.TypeA: held}, order: {ledger.TypeA: as[:1]}},
	}
	require.NoError(t, Verify(stockTx(ledger.StockReserveProducts{}, in, out)))

	out.Reserved[existing] = ledger.Inventory{}
	assertRule(t, Verify(stockTx(ledger.StockReserveProducts{}, in, out)), "only one ID should have been added to reserved")
}

func TestRemoveReservedProducts(t *testing.T) {
	as := products(2, ledger.TypeA)
	order, other := uuid.New(), uuid.New()
	in := ledger.Stock{
		Available: ledger.Inventory{ledger.TypeA: as[1:]},
		Reserved:  map[uuid.UUID]ledger.Inventory{order: {ledger.TypeA: as[:1]}, other: {}},
	}

	ok := ledger.Stock{
		Available: ledger.Inventory{ledger.TypeA: as[1:]},
		Reserved:  map[uuid.UUID]ledger.Inventory{other: {}},
	}
	require.NoError(t, Verify(stockTx(ledger.StockRemoveReservedProducts{}, in, ok)))

	restored := ledger.Stock{
		Available: ledger.Inventory{ledger.TypeA: as},
		Reserved:  map[uuid.UUID]ledger.Inventory{other: {}},
	}
	assertRule(t, Verify(stockTx(ledger.StockRemoveReservedProducts{}, in, restored)), "available products should not change")

	both := ledger.Stock{Available: ledger.Inventory{ledger.TypeA: as[1:]}}
	assertRule(t, Verify(stockTx(ledger.StockRemoveReservedProducts{}, in, both)), "exactly one reservation must be removed")
}

func TestSellProduct(t *testing.T) {
	as := products(2, ledger.TypeA)
	in := ledger.Stock{Available: ledger.Inventory{ledger.TypeA: as}}
	out := ledger.Stock{Available: ledger.Inventory{ledger.TypeA: as[1:]}}
	sale := func(p ledger.Product, price int64) ledger.SaleState {
		return ledger.SaleState{Retail: producer, Product: p, Price: price}
	}

	t.Run("valid sale", func(t *testing.T) {
		require.NoError(t, Verify(stockTx(ledger.StockSellProduct{}, in, out, sale(as[0], 150))))
		removed := 0
		outIDs := out.ProductIDs()
		for id := range in.ProductIDs() {
			if _, ok := outIDs[id]; !ok {
				removed++
			}
		}
		assert.Equal(t, 1, removed)
	})
	t.Run("zero price", func(t *testing.T) {
		assertRule(t, Verify(stockTx(ledger.StockSellProduct{}, in, out, sale(as[0], 0))), "price has to be greater than 0")
	})
	t.Run("sale names another product", func(t *testing.T) {
		assertRule(t, Verify(stockTx(ledger.StockSellProduct{}, in, out, sale(as[1], 10))),
			"SaleState.product should be the product removed from stock")
	})
	t.Run("missing sale", func(t *testing.T) {
		assertRule(t, Verify(stockTx(ledger.StockSellProduct{}, in, out)), "exactly one SaleState must be produced")
	})
	t.Run("two products removed", func(t *testing.T) {
		empty := ledger.Stock{Available: ledger.Inventory{ledger.TypeA: {}}}
		assertRule(t, Verify(stockTx(ledger.StockSellProduct{}, in, empty, sale(as[0], 10))),
			"only one product should be removed from available")
	})
	t.Run("product conjured", func(t *testing.T) {
		swapped := ledger.Stock{Available: ledger.Inventory{ledger.TypeA: {as[1], ledger.NewProduct(producer, ledger.TypeA)}}}
		assertRule(t, Verify(stockTx(ledger.StockSellProduct{}, in, swapped, sale(as[0], 10))),
			"there should be no new output products")
	})
	t.Run("remaining product rewritten", func(t *testing.T) {
		retyped := as[1]
		retyped.Type = ledger.TypeB
		assertRule(t, Verify(stockTx(ledger.StockSellProduct{}, in, ledger.Stock{Available: ledger.Inventory{ledger.TypeA: {retyped}}}, sale(as[0], 10))),
			"there should be no new output products")

		forged := as[1]
		forged.Producer = retail
		assertRule(t, Verify(stockTx(ledger.StockSellProduct{}, in, ledger.Stock{Available: ledger.Inventory{ledger.TypeA: {forged}}}, sale(as[0], 10))),
			"there should be no new output products")
	})
	t.Run("reservation touched", func(t *testing.T) {
		touched := out.Clone()
		touched.Reserved[uuid.New()] = ledger.Inventory{}
		assertRule(t, Verify(stockTx(ledger.StockSellProduct{}, in, touched, sale(as[0], 10))),
			"stock should not change except for available")
	})
	t.Run("sale consumed", func(t *testing.T) {
		tx := stockTx(ledger.StockSellProduct{}, in, out, sale(as[0], 10))
		tx.Inputs = append(tx.Inputs, ledger.StateAndRef{Ref: ref(1), State: sale(as[1], 10)})
		assertRule(t, Verify(tx), "no SaleState should be consumed")
	})
}

func TestFrameworkRejectsForeignStates(t *testing.T) {
	p := ledger.NewProduct(producer, ledger.TypeA)
	tx := stockTx(ledger.StockAddProduct{}, ledger.NewStock(),
		ledger.Stock{Available: ledger.Inventory{ledger.TypeA: {p}}},
		ledger.SaleState{Retail: retail, Product: p, Price: 1})

	err := Verify(tx)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ledger.ContractID("framework"), ve.Contract)
}

func TestFrameworkSigners(t *testing.T) {
	tx := stockTx(ledger.StockAddProduct{}, ledger.NewStock(),
		ledger.Stock{Available: ledger.Inventory{ledger.TypeA: products(1, ledger.TypeA)}})

	tx.Signers = nil
	assertRule(t, Verify(tx), "signer set must not be empty")

	tx.Signers = []ledger.Party{producer, producer}
	assertRule(t, Verify(tx), "signer set must not repeat a party")

	tx.Signers = []ledger.Party{producer}
	tx.Command = nil
	assertRule(t, Verify(tx), "transaction must carry exactly one command")
}
