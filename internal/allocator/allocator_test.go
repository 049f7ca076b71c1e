package allocator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-supplychain-ledger/internal/contracts"
	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

const owner ledger.Party = "Distributor"

func stockWith(ps ...ledger.Product) ledger.Stock {
	s := ledger.NewStock()
	for _, p := range ps {
		s.Available[p.Type] = append(s.Available[p.Type], p)
	}
	return s
}

func transition(cmd ledger.Command, in, out ledger.Stock, extra ...ledger.State) ledger.Transaction {
	return ledger.Transaction{
		Inputs:  []ledger.StateAndRef{{Ref: ledger.StateRef{TxID: "t", Index: 0}, State: ledger.StockState{OwnerParty: owner, Stock: in}}},
		Outputs: append([]ledger.State{ledger.StockState{OwnerParty: owner, Stock: out}}, extra...),
		Command: cmd,
		Signers: []ledger.Party{owner},
	}
}

func TestAddToEmptyStock(t *testing.T) {
	p := ledger.NewProduct("Producer", ledger.TypeA)
	out, err := Add(ledger.NewStock(), p)
	require.NoError(t, err)

	assert.True(t, out.Available.Equal(ledger.Inventory{ledger.TypeA: {p}}))
	assert.Empty(t, out.Reserved)
	require.NoError(t, contracts.Verify(transition(ledger.StockAddProduct{}, ledger.NewStock(), out)))

	_, err = Add(out, p)
	assert.Error(t, err, "the same product cannot arrive twice")
}

func TestReserveSingleProduct(t *testing.T) {
	p1 := ledger.NewProduct("Producer", ledger.TypeA)
	in := stockWith(p1)
	order := uuid.New()

	out, err := Reserve(in, order, map[ledger.ProductType]int{ledger.TypeA: 1})
	require.NoError(t, err)

	require.Contains(t, out.Available, ledger.TypeA)
	assert.Empty(t, out.Available[ledger.TypeA])
	assert.Equal(t, ledger.Inventory{ledger.TypeA: {p1}}, out.Reserved[order])
	require.NoError(t, contracts.Verify(transition(ledger.StockReserveProducts{}, in, out)))

	assert.Len(t, in.Available[ledger.TypeA], 1, "input stock must not be mutated")
}

func TestReserveTakesOldestFirst(t *testing.T) {
	a1 := ledger.NewProduct("Producer", ledger.TypeA)
	a2 := ledger.NewProduct("Producer", ledger.TypeA)
	a3 := ledger.NewProduct("Producer", ledger.TypeA)
	b1 := ledger.NewProduct("Producer", ledger.TypeB)
	in := stockWith(a1, a2, b1, a3)
	order := uuid.New()

	out, err := Reserve(in, order, map[ledger.ProductType]int{ledger.TypeA: 2, ledger.TypeB: 1})
	require.NoError(t, err)

	assert.Equal(t, []ledger.Product{a1, a2}, out.Reserved[order][ledger.TypeA])
	assert.Equal(t, []ledger.Product{b1}, out.Reserved[order][ledger.TypeB])
	assert.Equal(t, []ledger.Product{a3}, out.Available[ledger.TypeA])
	assert.Equal(t, in.ProductIDs(), out.ProductIDs())
	require.NoError(t, out.CheckUnique())
	require.NoError(t, contracts.Verify(transition(ledger.StockReserveProducts{}, in, out)))
}

func TestReserveInsufficient(t *testing.T) {
	in := stockWith(ledger.NewProduct("Producer", ledger.TypeA))

	_, err := Reserve(in, uuid.New(), map[ledger.ProductType]int{ledger.TypeA: 2})
	require.ErrorIs(t, err, ErrInsufficientStock)
	var ie *InsufficientStockError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, InsufficientStockError{Type: ledger.TypeA, Requested: 2, Available: 1}, *ie)

	_, err = Reserve(in, uuid.New(), map[ledger.ProductType]int{ledger.TypeD: 1})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestReserveRejectsBadRequests(t *testing.T) {
	in := stockWith(ledger.NewProduct("Producer", ledger.TypeA))
	for name, req := range map[string]map[ledger.ProductType]int{
		"empty":        {},
		"zero":         {ledger.TypeA: 0},
		"negative":     {ledger.TypeA: -1},
		"unknown type": {"Z": 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Reserve(in, uuid.New(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestReserveDuplicateKey(t *testing.T) {
	in := stockWith(ledger.NewProduct("Producer", ledger.TypeA), ledger.NewProduct("Producer", ledger.TypeA))
	order := uuid.New()
	out, err := Reserve(in, order, map[ledger.ProductType]int{ledger.TypeA: 1})
	require.NoError(t, err)

	_, err = Reserve(out, order, map[ledger.ProductType]int{ledger.TypeA: 1})
	assert.ErrorIs(t, err, ErrDuplicateReservation)
}

func TestRelease(t *testing.T) {
	a1 := ledger.NewProduct("Producer", ledger.TypeA)
	a2 := ledger.NewProduct("Producer", ledger.TypeA)
	order := uuid.New()
	reserved, err := Reserve(stockWith(a1, a2), order, map[ledger.ProductType]int{ledger.TypeA: 1})
	require.NoError(t, err)

	out, freed, err := Release(reserved, order)
	require.NoError(t, err)
	assert.Equal(t, ledger.Inventory{ledger.TypeA: {a1}}, freed)
	assert.NotContains(t, out.Reserved, order)
	assert.Equal(t, []ledger.Product{a2}, out.Available[ledger.TypeA], "released products are not made available again")
	require.NoError(t, contracts.Verify(transition(ledger.StockRemoveReservedProducts{}, reserved, out)))

	_, _, err = Release(out, order)
	assert.ErrorIs(t, err, ErrUnknownReservation)
}

func TestConsume(t *testing.T) {
	a1 := ledger.NewProduct("Producer", ledger.TypeA)
	a2 := ledger.NewProduct("Producer", ledger.TypeA)
	in := stockWith(a1, a2)

	out, p, err := Consume(in, ledger.TypeA)
	require.NoError(t, err)
	assert.Equal(t, a1, p)
	assert.Equal(t, []ledger.Product{a2}, out.Available[ledger.TypeA])

	sale := ledger.SaleState{Retail: owner, Product: p, Price: 990}
	require.NoError(t, contracts.Verify(transition(ledger.StockSellProduct{}, in, out, sale)))

	_, _, err = Consume(in, ledger.TypeB)
	var ie *InsufficientStockError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ledger.TypeB, ie.Type)
}

func TestShortfallsAreOrdered(t *testing.T) {
	in := stockWith(ledger.NewProduct("Producer", ledger.TypeB))
	short := Shortfalls(in, map[ledger.ProductType]int{ledger.TypeC: 1, ledger.TypeA: 1, ledger.TypeB: 1})
	require.Len(t, short, 2)
	assert.Equal(t, ledger.TypeA, short[0].Type)
	assert.Equal(t, ledger.TypeC, short[1].Type)
}
