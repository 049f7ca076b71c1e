// Package transport carries point-to-point protocol sessions between parties.
// Payloads are JSON on every implementation.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

var (
	ErrUnknownParty = errors.New("unknown counterparty")
	ErrNoHandler    = errors.New("counterparty does not serve protocol")
	ErrClosed       = errors.New("session closed")
)

// ClosedError is what Receive returns once the peer has ended the session.
// Reason is empty when the peer finished normally.
type ClosedError struct {
	Party  ledger.Party
	Reason string
}

func (e *ClosedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("session with %s closed", e.Party)
	}
	return fmt.Sprintf("session with %s closed: %s", e.Party, e.Reason)
}

func (e *ClosedError) Unwrap() error { return ErrClosed }

type Session interface {
	ID() string
	Counterparty() ledger.Party
	Send(ctx context.Context, v any) error
	// Receive blocks until the next message arrives and decodes it into out.
	Receive(ctx context.Context, out any) error
	Close() error
}

// Handler serves one inbound session. A returned error closes the session
// with the error text as reason.
type Handler func(ctx context.Context, s Session) error

type Transport interface {
	Open(ctx context.Context, to ledger.Party, protocol string) (Session, error)
	Handle(protocol string, h Handler)
}

type envelope struct {
	payload json.RawMessage
	close   bool
	reason  string
}

// session is the part shared by every transport: an inbox fed by the
// transport and a send function that reaches the peer.
type session struct {
	id    string
	peer  ledger.Party
	inbox chan envelope
	send  func(ctx context.Context, e envelope) error

	done     chan struct{}
	doneOnce sync.Once

	mu    sync.Mutex
	ended error
}

func newSession(id string, peer ledger.Party, send func(ctx context.Context, e envelope) error) *session {
	return &session{
		id:    id,
		peer:  peer,
		inbox: make(chan envelope, 16),
		send:  send,
		done:  make(chan struct{}),
	}
}

func (s *session) ID() string                 { return s.id }
func (s *session) Counterparty() ledger.Party { return s.peer }

func (s *session) Send(ctx context.Context, v any) error {
	select {
	case <-s.done:
		return fmt.Errorf("send to %s: %w", s.peer, ErrClosed)
	default:
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", s.peer, err)
	}
	return s.send(ctx, envelope{payload: b})
}

func (s *session) Receive(ctx context.Context, out any) error {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended != nil {
		return ended
	}

	select {
	case e := <-s.inbox:
		if e.close {
			err := &ClosedError{Party: s.peer, Reason: e.reason}
			s.mu.Lock()
			s.ended = err
			s.mu.Unlock()
			return err
		}
		if err := json.Unmarshal(e.payload, out); err != nil {
			return fmt.Errorf("decode message from %s: %w", s.peer, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tells the peer this side is done.
func (s *session) Close() error {
	return s.finish(context.Background(), "")
}

func (s *session) finish(ctx context.Context, reason string) error {
	var err error
	s.doneOnce.Do(func() {
		close(s.done)
		err = s.send(ctx, envelope{close: true, reason: reason})
	})
	return err
}

// push hands an inbound envelope to the session.
func (s *session) push(ctx context.Context, e envelope) error {
	select {
	case s.inbox <- e:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
