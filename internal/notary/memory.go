package notary

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

// Memory is a single-process uniqueness service.
type Memory struct {
	mu        sync.Mutex
	spent     map[ledger.StateRef]ledger.TxID
	committed map[ledger.TxID]uint64
	position  uint64
}

func NewMemory() *Memory {
	return &Memory{
		spent:     map[ledger.StateRef]ledger.TxID{},
		committed: map[ledger.TxID]uint64{},
	}
}

func (m *Memory) Submit(ctx context.Context, stx *ledger.SignedTransaction) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	id, err := stx.ID()
	if err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pos, ok := m.committed[id]; ok {
		return Receipt{TxID: id, Position: pos}, nil
	}
	var conflicts []Conflict
	for _, ref := range stx.Tx.InputRefs() {
		if by, ok := m.spent[ref]; ok {
			conflicts = append(conflicts, Conflict{Ref: ref, ConsumedBy: by})
		}
	}
	if len(conflicts) > 0 {
		return Receipt{}, &ConflictError{TxID: id, Conflicts: conflicts}
	}
	for _, ref := range stx.Tx.InputRefs() {
		m.spent[ref] = id
	}
	m.position++
	m.committed[id] = m.position
	return Receipt{TxID: id, Position: m.position}, nil
}
