package notary

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-supplychain-ledger/internal/allocator"
	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

func services(t *testing.T) map[string]Service {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Service{
		"memory": NewMemory(),
		"redis":  NewRedis(rdb),
	}
}

// reserveAgainst builds a reservation for a fresh order on the given stock
// version.
func reserveAgainst(t *testing.T, current ledger.StateAndRef) *ledger.SignedTransaction {
	t.Helper()
	st := current.State.(ledger.StockState)
	next, err := allocator.Reserve(st.Stock, uuid.New(), map[ledger.ProductType]int{ledger.TypeA: 1})
	require.NoError(t, err)
	return ledger.NewSignedTransaction(ledger.Transaction{
		Inputs:  []ledger.StateAndRef{current},
		Outputs: []ledger.State{st.WithStock(next)},
		Command: ledger.StockReserveProducts{},
		Signers: []ledger.Party{st.OwnerParty},
		Salt:    uuid.New(),
	})
}

func currentStock() ledger.StateAndRef {
	st := ledger.NewStockState("Producer")
	st.Stock.Available[ledger.TypeA] = []ledger.Product{
		ledger.NewProduct("Producer", ledger.TypeA),
		ledger.NewProduct("Producer", ledger.TypeA),
	}
	return ledger.StateAndRef{Ref: ledger.StateRef{TxID: "genesis", Index: 0}, State: st}
}

func TestConcurrentReservationsOnOneVersion(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			current := currentStock()
			ids := map[ledger.TxID]bool{}
			txs := []*ledger.SignedTransaction{reserveAgainst(t, current), reserveAgainst(t, current)}

			var wg sync.WaitGroup
			errs := make([]error, len(txs))
			for i, stx := range txs {
				id, err := stx.ID()
				require.NoError(t, err)
				ids[id] = true
				wg.Add(1)
				go func(i int, stx *ledger.SignedTransaction) {
					defer wg.Done()
					_, errs[i] = svc.Submit(context.Background(), stx)
				}(i, stx)
			}
			wg.Wait()

			finalized, rejected := 0, 0
			for _, err := range errs {
				switch {
				case err == nil:
					finalized++
				case assert.ErrorIs(t, err, ErrConflict):
					rejected++
					var ce *ConflictError
					require.ErrorAs(t, err, &ce)
					require.Len(t, ce.Conflicts, 1)
					assert.Equal(t, current.Ref, ce.Conflicts[0].Ref)
					assert.True(t, ids[ce.Conflicts[0].ConsumedBy], "the winner is named")
				}
			}
			assert.Equal(t, 1, finalized)
			assert.Equal(t, 1, rejected)
		})
	}
}

func TestResubmitReturnsSameReceipt(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			stx := reserveAgainst(t, currentStock())
			first, err := svc.Submit(context.Background(), stx)
			require.NoError(t, err)
			again, err := svc.Submit(context.Background(), stx)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		})
	}
}

func TestPositionsIncrease(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			var last uint64
			for i := 0; i < 3; i++ {
				st := ledger.NewStockState(ledger.Party("Owner" + uuid.NewString()))
				stx := ledger.NewSignedTransaction(ledger.Transaction{
					Outputs: []ledger.State{st},
					Command: ledger.StockCreate{},
					Signers: []ledger.Party{st.OwnerParty},
					Salt:    uuid.New(),
				})
				r, err := svc.Submit(context.Background(), stx)
				require.NoError(t, err)
				assert.Greater(t, r.Position, last)
				last = r.Position
			}
		})
	}
}
