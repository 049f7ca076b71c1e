// Package vault is a participant's local view of the ledger: every state
// version it took part in, current or consumed.
package vault

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

var (
	ErrNotFound = errors.New("state not found")
	// ErrSingletonViolation is returned when recording would leave an owner
	// with two live StockStates. Callers treat it like a conflict.
	ErrSingletonViolation = errors.New("owner already has a live stock state")
	ErrAmbiguous          = errors.New("more than one live state matched")
)

type Store interface {
	// Record stores the relevant outputs of a finalized transaction and marks
	// its inputs consumed. Recording the same transaction twice is a no-op.
	Record(ctx context.Context, f ledger.Finalized) error

	// ByLinearID returns the live version of a linear state.
	ByLinearID(ctx context.Context, contract ledger.ContractID, id uuid.UUID) (ledger.StateAndRef, error)

	// History returns every recorded version of a linear state, oldest first.
	History(ctx context.Context, contract ledger.ContractID, id uuid.UUID) ([]ledger.StateAndRef, error)

	// All returns the live states of a contract in recording order.
	All(ctx context.Context, contract ledger.ContractID) ([]ledger.StateAndRef, error)

	// OwnedBy returns the live states of a contract owned by owner.
	OwnedBy(ctx context.Context, contract ledger.ContractID, owner ledger.Party) ([]ledger.StateAndRef, error)

	// StockHistory returns every recorded StockState version of owner, oldest
	// first, consumed ones included.
	StockHistory(ctx context.Context, owner ledger.Party) ([]ledger.StateAndRef, error)

	// CurrentStock returns the owner's single live StockState.
	CurrentStock(ctx context.Context, owner ledger.Party) (ledger.StateAndRef, bool, error)

	// Transaction returns a recorded transaction.
	Transaction(ctx context.Context, id ledger.TxID) (ledger.Finalized, error)
}

// relevantOutputs are the outputs me takes part in.
func relevantOutputs(me ledger.Party, tx ledger.Transaction) ([]ledger.StateAndRef, error) {
	all, err := tx.OutputRefs()
	if err != nil {
		return nil, err
	}
	var out []ledger.StateAndRef
	for _, sr := range all {
		if ledger.HasParticipant(sr.State, me) {
			out = append(out, sr)
		}
	}
	return out, nil
}

func ownerOf(s ledger.State) (ledger.Party, bool) {
	if o, ok := s.(ledger.OwnableState); ok {
		return o.Owner(), true
	}
	return "", false
}

func linearIDOf(s ledger.State) (uuid.UUID, bool) {
	if l, ok := s.(ledger.LinearState); ok {
		return l.LinearID(), true
	}
	return uuid.Nil, false
}
