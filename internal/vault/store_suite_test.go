package vault

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

const (
	seller ledger.Party = "Producer"
	buyer  ledger.Party = "Distributor"
)

func finalize(t *testing.T, pos uint64, tx ledger.Transaction) ledger.Finalized {
	t.Helper()
	tx.Salt = uuid.New()
	return ledger.Finalized{Tx: ledger.NewSignedTransaction(tx), Position: pos}
}

func outputRef(t *testing.T, f ledger.Finalized, i int) ledger.StateAndRef {
	t.Helper()
	refs, err := f.Tx.Tx.OutputRefs()
	require.NoError(t, err)
	return refs[i]
}

// runStoreSuite exercises behaviour every Store must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T, me ledger.Party) Store) {
	ctx := context.Background()

	t.Run("stock versions", func(t *testing.T) {
		s := newStore(t, seller)
		_, ok, err := s.CurrentStock(ctx, seller)
		require.NoError(t, err)
		assert.False(t, ok)

		create := finalize(t, 1, ledger.Transaction{
			Outputs: []ledger.State{ledger.NewStockState(seller)},
			Command: ledger.StockCreate{},
			Signers: []ledger.Party{seller},
		})
		require.NoError(t, s.Record(ctx, create))
		require.NoError(t, s.Record(ctx, create), "recording twice is a no-op")

		current, ok, err := s.CurrentStock(ctx, seller)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, outputRef(t, create, 0).Ref, current.Ref)

		next := ledger.NewStockState(seller)
		next.Stock.Available[ledger.TypeA] = []ledger.Product{ledger.NewProduct(seller, ledger.TypeA)}
		add := finalize(t, 2, ledger.Transaction{
			Inputs:  []ledger.StateAndRef{current},
			Outputs: []ledger.State{next},
			Command: ledger.StockAddProduct{},
			Signers: []ledger.Party{seller},
		})
		require.NoError(t, s.Record(ctx, add))

		current, ok, err = s.CurrentStock(ctx, seller)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, next.Equal(current.State))

		all, err := s.All(ctx, ledger.ContractStock)
		require.NoError(t, err)
		assert.Len(t, all, 1, "consumed versions are not live")

		got, err := s.Transaction(ctx, outputRef(t, add, 0).Ref.TxID)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Position)

		versions, err := s.StockHistory(ctx, seller)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, outputRef(t, create, 0).Ref, versions[0].Ref)
		assert.True(t, next.Equal(versions[1].State))
	})

	t.Run("second live stock is refused", func(t *testing.T) {
		s := newStore(t, seller)
		for i, pos := range []uint64{1, 2} {
			err := s.Record(ctx, finalize(t, pos, ledger.Transaction{
				Outputs: []ledger.State{ledger.NewStockState(seller)},
				Command: ledger.StockCreate{},
				Signers: []ledger.Party{seller},
			}))
			if i == 0 {
				require.NoError(t, err)
				continue
			}
			assert.ErrorIs(t, err, ErrSingletonViolation)
		}
		all, err := s.OwnedBy(ctx, ledger.ContractStock, seller)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("linear lifecycle", func(t *testing.T) {
		s := newStore(t, seller)
		do := ledger.NewDeliveryOrder(buyer, seller, "Transporter",
			ledger.Inventory{ledger.TypeA: {ledger.NewProduct(seller, ledger.TypeA)}})
		create := finalize(t, 1, ledger.Transaction{
			Outputs: []ledger.State{do},
			Command: ledger.DeliveryOrderCreate{},
			Signers: []ledger.Party{seller, "Transporter"},
		})
		require.NoError(t, s.Record(ctx, create))

		accept := finalize(t, 2, ledger.Transaction{
			Inputs:  []ledger.StateAndRef{outputRef(t, create, 0)},
			Outputs: []ledger.State{do.Accept()},
			Command: ledger.DeliveryOrderAccept{},
			Signers: []ledger.Party{"Transporter"},
		})
		require.NoError(t, s.Record(ctx, accept))

		live, err := s.ByLinearID(ctx, ledger.ContractDeliveryOrder, do.ID)
		require.NoError(t, err)
		assert.True(t, live.State.(ledger.DeliveryOrderState).Accepted)

		history, err := s.History(ctx, ledger.ContractDeliveryOrder, do.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.False(t, history[0].State.(ledger.DeliveryOrderState).Accepted)

		receive := finalize(t, 3, ledger.Transaction{
			Inputs:  []ledger.StateAndRef{live},
			Command: ledger.DeliveryOrderReceive{},
			Signers: []ledger.Party{buyer},
		})
		require.NoError(t, s.Record(ctx, receive))
		_, err = s.ByLinearID(ctx, ledger.ContractDeliveryOrder, do.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("only relevant outputs are kept", func(t *testing.T) {
		s := newStore(t, buyer)
		p := ledger.NewProduct(seller, ledger.TypeB)
		require.NoError(t, s.Record(ctx, finalize(t, 1, ledger.Transaction{
			Outputs: []ledger.State{ledger.SaleNotificationState{Retail: "Retail", Product: p}},
			Command: ledger.SaleNotificationCreate{},
			Signers: []ledger.Party{seller},
		})))
		all, err := s.All(ctx, ledger.ContractSaleNotification)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}
