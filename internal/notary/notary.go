// Package notary is the ordering and uniqueness service: it gives every
// finalized transaction a position and lets each state version be consumed
// by at most one of them.
package notary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

// ErrConflict matches every *ConflictError.
var ErrConflict = errors.New("input already consumed")

type Receipt struct {
	TxID     ledger.TxID
	Position uint64
}

type Conflict struct {
	Ref        ledger.StateRef
	ConsumedBy ledger.TxID
}

// ConflictError is returned when another finalized transaction already
// consumed one of the inputs. The caller may re-fetch and rebuild.
type ConflictError struct {
	TxID      ledger.TxID
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("%s consumed by %s", c.Ref, c.ConsumedBy)
	}
	return fmt.Sprintf("transaction %s rejected: %s", e.TxID, strings.Join(parts, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Service commits transactions. Resubmitting a committed transaction returns
// its original receipt.
type Service interface {
	Submit(ctx context.Context, stx *ledger.SignedTransaction) (Receipt, error)
}
