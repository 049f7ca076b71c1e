// Package flow runs the multi-party protocols of a ledger node: build a
// transaction, sign it, collect countersignatures, submit it for ordering and
// hand the result to every participant.
package flow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-supplychain-ledger/internal/contracts"
	"github.com/ariefcatur/go-supplychain-ledger/internal/identity"
	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
	"github.com/ariefcatur/go-supplychain-ledger/internal/metrics"
	"github.com/ariefcatur/go-supplychain-ledger/internal/notary"
	"github.com/ariefcatur/go-supplychain-ledger/internal/transport"
	"github.com/ariefcatur/go-supplychain-ledger/internal/vault"
)

const defaultTimeout = 30 * time.Second

type Deps struct {
	Identity  identity.Identity
	Directory identity.Directory
	Vault     vault.Store
	Notary    notary.Service
	Transport transport.Transport
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	// Timeout bounds each business operation and each responder run.
	Timeout time.Duration
}

type Node struct {
	id      identity.Identity
	dir     identity.Directory
	vault   vault.Store
	notary  notary.Service
	net     transport.Transport
	log     zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	stockInit singleflight.Group

	mu          sync.Mutex
	undelivered map[ledger.TxID]ledger.Finalized
}

// NewNode wires a node and registers its responders on the transport.
func NewNode(d Deps) *Node {
	if d.Timeout <= 0 {
		d.Timeout = defaultTimeout
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}
	n := &Node{
		id:      d.Identity,
		dir:     d.Directory,
		vault:   d.Vault,
		notary:  d.Notary,
		net:     d.Transport,
		log:     d.Logger.With().Str("party", string(d.Identity.Party)).Logger(),
		metrics: d.Metrics,
		timeout: d.Timeout,

		undelivered: map[ledger.TxID]ledger.Finalized{},
	}
	n.net.Handle(ProtocolPurchaseOrderCreate, n.respondPurchaseOrder)
	n.net.Handle(ProtocolDeliveryOrderCreate, n.respondDeliveryOrder)
	n.net.Handle(ProtocolDeliveryOrderAccept, n.respondFinality)
	n.net.Handle(ProtocolDeliveryOrderReceive, n.respondFinality)
	n.net.Handle(ProtocolSaleNotify, n.respondSaleNotification)
	n.net.Handle(ProtocolFinalityResend, n.respondFinality)
	return n
}

func (n *Node) Party() ledger.Party { return n.id.Party }

func (n *Node) Vault() vault.Store { return n.vault }

// peer is a counterparty session taking part in one transaction.
type peer struct {
	s        transport.Session
	protocol string
	sign     bool
}

// run tracks one transaction through its lifecycle.
type run struct {
	op     string
	stx    *ledger.SignedTransaction
	id     ledger.TxID
	status Status
	log    zerolog.Logger
}

func (r *run) advance(to Status) {
	if !CanTransition(r.status, to) {
		panic(fmt.Sprintf("flow: illegal transition %s -> %s", r.status, to))
	}
	r.log.Debug().Str("from", string(r.status)).Str("to", string(to)).Msg("transaction status")
	r.status = to
}

// finalize drives tx from Building to Finalized or Rejected. Peers that must
// sign are asked first; every peer then receives the finalized transaction.
// An error returned together with a non-nil result means the transaction is
// final but distribution failed.
func (n *Node) finalize(ctx context.Context, op string, tx ledger.Transaction, peers ...peer) (*ledger.Finalized, error) {
	if err := contracts.Verify(tx); err != nil {
		return nil, err
	}
	stx := ledger.NewSignedTransaction(tx)
	id, err := stx.ID()
	if err != nil {
		return nil, err
	}
	label := ledger.CommandLabel(tx.Command)
	r := &run{op: op, stx: stx, id: id, status: StatusBuilding,
		log: n.log.With().Str("op", op).Str("tx_id", string(id)).Str("command", label).Logger()}

	if err := n.id.SignTransaction(stx); err != nil {
		return nil, err
	}
	r.advance(StatusLocallySigned)

	var signers []peer
	for _, p := range peers {
		if p.sign {
			signers = append(signers, p)
		}
	}
	if len(signers) > 0 {
		r.advance(StatusCollectingSignatures)
		for _, p := range signers {
			if err := n.requestSignature(ctx, p, stx); err != nil {
				return nil, err
			}
		}
	}
	if err := identity.VerifySignatures(n.dir, stx, true); err != nil {
		return nil, fmt.Errorf("collect signatures for %s: %w", id, err)
	}
	r.advance(StatusFullySigned)

	r.advance(StatusSubmitted)
	receipt, err := n.notary.Submit(ctx, stx)
	if err != nil {
		if errors.Is(err, notary.ErrConflict) {
			r.advance(StatusRejected)
			n.metrics.Rejected(label)
			r.log.Warn().Err(err).Msg("transaction rejected")
		}
		return nil, err
	}
	r.advance(StatusFinalized)
	n.metrics.Finalized(label)
	f := &ledger.Finalized{Tx: stx, Position: receipt.Position}
	r.log.Info().Uint64("position", receipt.Position).Msg("transaction finalized")

	// From here on the transaction is final: record and distribute even if
	// one of them fails, and keep it for Redistribute.
	var errs []error
	if err := n.vault.Record(ctx, *f); err != nil {
		errs = append(errs, fmt.Errorf("record %s: %w", id, err))
	}
	if err := n.distribute(ctx, *f, peers); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		n.keepUndelivered(id, *f)
		r.log.Warn().Err(err).Msg("transaction not delivered")
		return f, &UndeliveredError{TxID: id, Err: err}
	}
	return f, nil
}

func (n *Node) keepUndelivered(id ledger.TxID, f ledger.Finalized) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.undelivered[id] = f
}

// Undelivered lists finalized transactions that still need Redistribute.
func (n *Node) Undelivered() []ledger.TxID {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ledger.TxID, 0, len(n.undelivered))
	for id := range n.undelivered {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Redistribute records a finalized transaction locally and sends it again to
// every other participant and signer. Receivers that already hold it only
// acknowledge.
func (n *Node) Redistribute(ctx context.Context, id ledger.TxID) (err error) {
	ctx, done := n.observe(ctx, "redistribute")
	defer done(&err)

	n.mu.Lock()
	f, ok := n.undelivered[id]
	n.mu.Unlock()
	if !ok {
		if f, err = n.vault.Transaction(ctx, id); err != nil {
			return err
		}
	}
	if err := n.vault.Record(ctx, f); err != nil {
		return fmt.Errorf("record %s: %w", id, err)
	}

	var peers []peer
	defer func() { closePeers(peers) }()
	for _, p := range counterparties(f.Tx.Tx, n.id.Party) {
		s, err := n.open(ctx, p, ProtocolFinalityResend)
		if err != nil {
			return err
		}
		peers = append(peers, peer{s: s, protocol: ProtocolFinalityResend})
	}
	if err := n.distribute(ctx, f, peers); err != nil {
		return err
	}

	n.mu.Lock()
	delete(n.undelivered, id)
	n.mu.Unlock()
	return nil
}

// counterparties are the participants and signers of tx other than me.
func counterparties(tx ledger.Transaction, me ledger.Party) []ledger.Party {
	seen := map[ledger.Party]bool{me: true}
	var out []ledger.Party
	for _, p := range append(tx.Participants(), tx.Signers...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func (n *Node) requestSignature(ctx context.Context, p peer, stx *ledger.SignedTransaction) error {
	s := p.s
	if err := s.Send(ctx, SignRequest{Tx: stx}); err != nil {
		return err
	}
	var resp SignResponse
	if err := s.Receive(ctx, &resp); err != nil {
		return fmt.Errorf("signature from %s: %w", s.Counterparty(), err)
	}
	if resp.Refused != "" {
		n.metrics.Refused(p.protocol)
		return &RefusalError{Party: s.Counterparty(), Protocol: p.protocol, Reason: resp.Refused}
	}
	stx.AddSignature(s.Counterparty(), resp.Signature)
	return nil
}

// distribute sends f to every peer concurrently and waits for their acks.
func (n *Node) distribute(ctx context.Context, f ledger.Finalized, peers []peer) error {
	id, err := f.Tx.ID()
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		s := p.s
		g.Go(func() error {
			if err := s.Send(gctx, FinalityNotice{Finalized: f}); err != nil {
				return err
			}
			var ack FinalityAck
			if err := s.Receive(gctx, &ack); err != nil {
				return fmt.Errorf("finality ack from %s: %w", s.Counterparty(), err)
			}
			if ack.Error != "" {
				return fmt.Errorf("%s could not record %s: %s", s.Counterparty(), id, ack.Error)
			}
			if ack.Note != "" {
				n.log.Warn().Str("tx_id", string(id)).Str("from", string(s.Counterparty())).Msg(ack.Note)
			}
			return nil
		})
	}
	return g.Wait()
}

// open starts a session and closes it when the operation is done.
func (n *Node) open(ctx context.Context, to ledger.Party, protocol string) (transport.Session, error) {
	s, err := n.net.Open(ctx, to, protocol)
	if err != nil {
		return nil, fmt.Errorf("open %s with %s: %w", protocol, to, err)
	}
	return s, nil
}

func closeAll(sessions ...transport.Session) {
	for _, s := range sessions {
		if s != nil {
			_ = s.Close()
		}
	}
}

// observe applies the operation timeout and records duration and outcome.
func (n *Node) observe(ctx context.Context, op string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	return ctx, func(errp *error) {
		cancel()
		err := *errp
		n.metrics.ObserveFlow(op, start, err)
		ev := n.log.Info()
		if err != nil {
			ev = n.log.Warn().Err(err)
		}
		ev.Str("op", op).Dur("took", time.Since(start)).Msg("operation finished")
	}
}
