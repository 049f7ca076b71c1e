package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// TxID is the hex BLAKE2b-256 digest of a transaction's canonical encoding.
type TxID string

type StateRef struct {
	TxID  TxID `json:"tx_id"`
	Index int  `json:"index"`
}

func (r StateRef) String() string { return fmt.Sprintf("%s:%d", r.TxID, r.Index) }

type StateAndRef struct {
	Ref   StateRef
	State State
}

type wireStateAndRef struct {
	Ref   StateRef   `json:"ref"`
	State TypedState `json:"state"`
}

func (s StateAndRef) MarshalJSON() ([]byte, error) {
	ts, err := EncodeState(s.State)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireStateAndRef{Ref: s.Ref, State: ts})
}

func (s *StateAndRef) UnmarshalJSON(b []byte) error {
	var w wireStateAndRef
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	st, err := DecodeState(w.State)
	if err != nil {
		return err
	}
	s.Ref, s.State = w.Ref, st
	return nil
}

// Transaction consumes Inputs and produces Outputs under one Command that
// Signers must all sign. Salt keeps otherwise identical transactions apart.
type Transaction struct {
	Inputs  []StateAndRef
	Outputs []State
	Command Command
	Signers []Party
	Salt    uuid.UUID
}

type wireCommand struct {
	Contract ContractID `json:"contract"`
	Name     string     `json:"name"`
}

type wireTransaction struct {
	Inputs  []StateAndRef `json:"inputs"`
	Outputs []TypedState  `json:"outputs"`
	Command wireCommand   `json:"command"`
	Signers []Party       `json:"signers"`
	Salt    uuid.UUID     `json:"salt"`
}

func (tx Transaction) MarshalJSON() ([]byte, error) {
	if tx.Command == nil {
		return nil, fmt.Errorf("transaction has no command")
	}
	w := wireTransaction{
		Inputs:  tx.Inputs,
		Outputs: make([]TypedState, 0, len(tx.Outputs)),
		Command: wireCommand{Contract: tx.Command.Contract(), Name: tx.Command.Name()},
		Signers: tx.Signers,
		Salt:    tx.Salt,
	}
	if w.Inputs == nil {
		w.Inputs = []StateAndRef{}
	}
	for _, o := range tx.Outputs {
		ts, err := EncodeState(o)
		if err != nil {
			return nil, err
		}
		w.Outputs = append(w.Outputs, ts)
	}
	return json.Marshal(w)
}

func (tx *Transaction) UnmarshalJSON(b []byte) error {
	var w wireTransaction
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	cmd, err := LookupCommand(w.Command.Contract, w.Command.Name)
	if err != nil {
		return err
	}
	outs := make([]State, 0, len(w.Outputs))
	for _, ts := range w.Outputs {
		st, err := DecodeState(ts)
		if err != nil {
			return err
		}
		outs = append(outs, st)
	}
	*tx = Transaction{Inputs: w.Inputs, Outputs: outs, Command: cmd, Signers: w.Signers, Salt: w.Salt}
	return nil
}

// ID hashes the canonical JSON form. encoding/json sorts map keys, so equal
// transactions always hash equally.
func (tx Transaction) ID() (TxID, error) {
	b, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	sum := blake2b.Sum256(b)
	return TxID(hex.EncodeToString(sum[:])), nil
}

// OutputRefs names the outputs as they will be known once finalized.
func (tx Transaction) OutputRefs() ([]StateAndRef, error) {
	id, err := tx.ID()
	if err != nil {
		return nil, err
	}
	out := make([]StateAndRef, len(tx.Outputs))
	for i, s := range tx.Outputs {
		out[i] = StateAndRef{Ref: StateRef{TxID: id, Index: i}, State: s}
	}
	return out, nil
}

func (tx Transaction) InputRefs() []StateRef {
	out := make([]StateRef, len(tx.Inputs))
	for i, in := range tx.Inputs {
		out[i] = in.Ref
	}
	return out
}

// Participants is the union of every input and output participant.
func (tx Transaction) Participants() []Party {
	seen := map[Party]bool{}
	var out []Party
	add := func(s State) {
		for _, p := range s.Participants() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	for _, in := range tx.Inputs {
		add(in.State)
	}
	for _, o := range tx.Outputs {
		add(o)
	}
	return out
}

func InputsOf[T State](tx Transaction) []T {
	var out []T
	for _, in := range tx.Inputs {
		if t, ok := in.State.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func OutputsOf[T State](tx Transaction) []T {
	var out []T
	for _, o := range tx.Outputs {
		if t, ok := o.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// SignedTransaction carries the signatures collected so far, keyed by party.
type SignedTransaction struct {
	Tx         Transaction      `json:"tx"`
	Signatures map[Party][]byte `json:"signatures"`
}

func NewSignedTransaction(tx Transaction) *SignedTransaction {
	return &SignedTransaction{Tx: tx, Signatures: map[Party][]byte{}}
}

func (s *SignedTransaction) ID() (TxID, error) { return s.Tx.ID() }

// Missing lists required signers that have not signed yet.
func (s *SignedTransaction) Missing() []Party {
	var out []Party
	for _, p := range s.Tx.Signers {
		if _, ok := s.Signatures[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *SignedTransaction) AddSignature(p Party, sig []byte) {
	if s.Signatures == nil {
		s.Signatures = map[Party][]byte{}
	}
	s.Signatures[p] = sig
}

// Finalized is a transaction committed by the ordering service at Position.
type Finalized struct {
	Tx       *SignedTransaction `json:"tx"`
	Position uint64             `json:"position"`
}
