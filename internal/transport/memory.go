package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

// Network connects in-process endpoints. Messages still travel as JSON.
type Network struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	endpoints map[ledger.Party]*Endpoint
}

func NewNetwork() *Network {
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{ctx: ctx, cancel: cancel, endpoints: map[ledger.Party]*Endpoint{}}
}

// Close cancels every running responder.
func (n *Network) Close() { n.cancel() }

// Join returns the endpoint for party, creating it on first use.
func (n *Network) Join(party ledger.Party) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.endpoints[party]; ok {
		return ep
	}
	ep := &Endpoint{party: party, net: n, handlers: map[string]Handler{}}
	n.endpoints[party] = ep
	return ep
}

func (n *Network) endpoint(party ledger.Party) (*Endpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ep, ok := n.endpoints[party]
	return ep, ok
}

// Endpoint is one party's Transport on a Network.
type Endpoint struct {
	party ledger.Party
	net   *Network

	mu       sync.RWMutex
	handlers map[string]Handler
}

func (e *Endpoint) Handle(protocol string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[protocol] = h
}

func (e *Endpoint) handler(protocol string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[protocol]
	return h, ok
}

func (e *Endpoint) Open(_ context.Context, to ledger.Party, protocol string) (Session, error) {
	peer, ok := e.net.endpoint(to)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParty, to)
	}
	h, ok := peer.handler(protocol)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not serve %s", ErrNoHandler, to, protocol)
	}

	id := uuid.NewString()
	var initiator, responder *session
	initiator = newSession(id, to, func(ctx context.Context, env envelope) error {
		return responder.push(ctx, env)
	})
	responder = newSession(id, e.party, func(ctx context.Context, env envelope) error {
		return initiator.push(ctx, env)
	})

	go func() {
		err := h(e.net.ctx, responder)
		_ = responder.finish(e.net.ctx, reasonOf(err))
	}()
	return initiator, nil
}
