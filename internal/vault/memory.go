package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

type record struct {
	sr         ledger.StateAndRef
	consumedBy ledger.TxID
}

// Memory is an in-process vault for one party.
type Memory struct {
	me ledger.Party

	mu      sync.RWMutex
	states  map[ledger.StateRef]*record
	order   []ledger.StateRef
	txs     map[ledger.TxID]ledger.Finalized
	liveStk map[ledger.Party]ledger.StateRef
}

func NewMemory(me ledger.Party) *Memory {
	return &Memory{
		me:      me,
		states:  map[ledger.StateRef]*record{},
		txs:     map[ledger.TxID]ledger.Finalized{},
		liveStk: map[ledger.Party]ledger.StateRef{},
	}
}

func (m *Memory) Record(_ context.Context, f ledger.Finalized) error {
	id, err := f.Tx.ID()
	if err != nil {
		return err
	}
	outs, err := relevantOutputs(m.me, f.Tx.Tx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.txs[id]; done {
		return nil
	}

	consumed := map[ledger.StateRef]bool{}
	for _, ref := range f.Tx.Tx.InputRefs() {
		consumed[ref] = true
	}
	for _, sr := range outs {
		st, ok := sr.State.(ledger.StockState)
		if !ok {
			continue
		}
		if live, ok := m.liveStk[st.OwnerParty]; ok && !consumed[live] {
			return fmt.Errorf("%w: %s (live %s)", ErrSingletonViolation, st.OwnerParty, live)
		}
	}

	for ref := range consumed {
		rec, ok := m.states[ref]
		if !ok {
			continue
		}
		rec.consumedBy = id
		if st, ok := rec.sr.State.(ledger.StockState); ok && m.liveStk[st.OwnerParty] == ref {
			delete(m.liveStk, st.OwnerParty)
		}
	}
	for _, sr := range outs {
		m.states[sr.Ref] = &record{sr: sr}
		m.order = append(m.order, sr.Ref)
		if st, ok := sr.State.(ledger.StockState); ok {
			m.liveStk[st.OwnerParty] = sr.Ref
		}
	}
	m.txs[id] = f
	return nil
}

func (m *Memory) live(match func(ledger.State) bool) []ledger.StateAndRef {
	var out []ledger.StateAndRef
	for _, ref := range m.order {
		rec := m.states[ref]
		if rec.consumedBy == "" && match(rec.sr.State) {
			out = append(out, rec.sr)
		}
	}
	return out
}

func (m *Memory) ByLinearID(_ context.Context, contract ledger.ContractID, id uuid.UUID) (ledger.StateAndRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := m.live(func(s ledger.State) bool {
		lid, ok := linearIDOf(s)
		return ok && s.Contract() == contract && lid == id
	})
	switch len(found) {
	case 0:
		return ledger.StateAndRef{}, fmt.Errorf("%w: %s %s", ErrNotFound, contract, id)
	case 1:
		return found[0], nil
	default:
		return ledger.StateAndRef{}, fmt.Errorf("%w: %s %s", ErrAmbiguous, contract, id)
	}
}

func (m *Memory) History(_ context.Context, contract ledger.ContractID, id uuid.UUID) ([]ledger.StateAndRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.StateAndRef
	for _, ref := range m.order {
		s := m.states[ref].sr.State
		if lid, ok := linearIDOf(s); ok && s.Contract() == contract && lid == id {
			out = append(out, m.states[ref].sr)
		}
	}
	return out, nil
}

func (m *Memory) All(_ context.Context, contract ledger.ContractID) ([]ledger.StateAndRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live(func(s ledger.State) bool { return s.Contract() == contract }), nil
}

func (m *Memory) OwnedBy(_ context.Context, contract ledger.ContractID, owner ledger.Party) ([]ledger.StateAndRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live(func(s ledger.State) bool {
		o, ok := ownerOf(s)
		return ok && s.Contract() == contract && o == owner
	}), nil
}

func (m *Memory) StockHistory(_ context.Context, owner ledger.Party) ([]ledger.StateAndRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.StateAndRef
	for _, ref := range m.order {
		if st, ok := m.states[ref].sr.State.(ledger.StockState); ok && st.OwnerParty == owner {
			out = append(out, m.states[ref].sr)
		}
	}
	return out, nil
}

func (m *Memory) CurrentStock(_ context.Context, owner ledger.Party) (ledger.StateAndRef, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.liveStk[owner]
	if !ok {
		return ledger.StateAndRef{}, false, nil
	}
	return m.states[ref].sr, true, nil
}

func (m *Memory) Transaction(_ context.Context, id ledger.TxID) (ledger.Finalized, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.txs[id]
	if !ok {
		return ledger.Finalized{}, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	return f, nil
}
