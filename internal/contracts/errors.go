package contracts

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("transaction validation failed")

// ValidationError names the rule a transaction broke. It is never retried.
type ValidationError struct {
	Contract ledger.ContractID
	Command  string
	Rule     string
}

func (e *ValidationError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s: %s", e.Contract, e.Rule)
	}
	return fmt.Sprintf("%s.%s: %s", e.Contract, e.Command, e.Rule)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// rules collects the first broken requirement of one command.
type rules struct {
	contract ledger.ContractID
	command  string
	err      error
}

func rulesFor(cmd ledger.Command) *rules {
	return &rules{contract: cmd.Contract(), command: cmd.Name()}
}

func (r *rules) require(rule string, ok bool) {
	if r.err == nil && !ok {
		r.err = &ValidationError{Contract: r.contract, Command: r.command, Rule: rule}
	}
}

func (r *rules) fail(rule string) error {
	r.require(rule, false)
	return r.err
}
