package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

var (
	// ErrRefused matches every *RefusalError.
	ErrRefused = errors.New("counterparty refused to sign")
	// ErrPartial matches every *PartialError.
	ErrPartial = errors.New("operation partially applied")
	// ErrUndelivered matches every *UndeliveredError.
	ErrUndelivered = errors.New("transaction final but not recorded everywhere")

	ErrNotReserved = errors.New("order has no stock reservation")
	ErrNotParty    = errors.New("this node is not the expected party")
)

type RefusalError struct {
	Party    ledger.Party
	Protocol string
	Reason   string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("%s refused %s: %s", e.Party, e.Protocol, e.Reason)
}

func (e *RefusalError) Unwrap() error { return ErrRefused }

// UndeliveredError reports a transaction the ordering service finalized that
// this node or one of its peers failed to record. Redistribute resends it.
type UndeliveredError struct {
	TxID ledger.TxID
	Err  error
}

func (e *UndeliveredError) Error() string {
	return fmt.Sprintf("%s finalized but not delivered: %v", e.TxID, e.Err)
}

func (e *UndeliveredError) Unwrap() []error { return []error{ErrUndelivered, e.Err} }

// PartialError reports a compound operation that stopped after some of its
// transactions were finalized. Nothing is rolled back; retrying Step
// completes the operation. Undelivered lists finalized transactions that
// still need Redistribute.
type PartialError struct {
	Operation   string
	Completed   []string
	Step        string
	Undelivered []ledger.TxID
	Err         error
}

func (e *PartialError) Error() string {
	msg := fmt.Sprintf("%s stopped at %s after [%s]", e.Operation, e.Step, strings.Join(e.Completed, ", "))
	if len(e.Undelivered) > 0 {
		ids := make([]string, len(e.Undelivered))
		for i, id := range e.Undelivered {
			ids[i] = string(id)
		}
		msg += fmt.Sprintf(" undelivered [%s]", strings.Join(ids, ", "))
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *PartialError) Unwrap() []error { return []error{ErrPartial, e.Err} }

// StepRedistribute is the PartialError step when every transaction finalized
// but some participant did not record one of them.
const StepRedistribute = "redistribute"

// sequence tracks the transactions of one compound operation.
type sequence struct {
	op          string
	completed   []string
	undelivered []ledger.TxID
	errs        []error
}

// step records the outcome of one finalize call. A non-nil f means the
// transaction is final even if err is set, so the step counts as done.
func (s *sequence) step(name string, f *ledger.Finalized, err error) error {
	if f == nil {
		if err == nil {
			err = fmt.Errorf("%s produced no transaction", name)
		}
		return s.stop(name, err)
	}
	s.completed = append(s.completed, name)
	if err != nil {
		id, _ := f.Tx.ID()
		s.undelivered = append(s.undelivered, id)
		s.errs = append(s.errs, err)
	}
	return nil
}

// stop ends the sequence at the named step. Before anything finalized the
// error is returned as is.
func (s *sequence) stop(name string, err error) error {
	if len(s.completed) == 0 {
		return err
	}
	return &PartialError{Operation: s.op, Completed: s.completed, Step: name,
		Undelivered: s.undelivered, Err: errors.Join(append([]error{err}, s.errs...)...)}
}

func (s *sequence) finish() error {
	if len(s.undelivered) == 0 {
		return nil
	}
	return &PartialError{Operation: s.op, Completed: s.completed, Step: StepRedistribute,
		Undelivered: s.undelivered, Err: errors.Join(s.errs...)}
}
