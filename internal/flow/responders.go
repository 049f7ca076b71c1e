package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-supplychain-ledger/internal/allocator"
	"github.com/ariefcatur/go-supplychain-ledger/internal/contracts"
	"github.com/ariefcatur/go-supplychain-ledger/internal/identity"
	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
	"github.com/ariefcatur/go-supplychain-ledger/internal/transport"
)

// errRefusedHere ends a responder that already told the coordinator why it
// would not sign.
var errRefusedHere = errors.New("refused to sign")

// countersign answers one SignRequest. The validator always runs before
// check; any failure is sent back as a refusal.
func (n *Node) countersign(ctx context.Context, s transport.Session, check func(*ledger.SignedTransaction) error) (*ledger.SignedTransaction, error) {
	var req SignRequest
	if err := s.Receive(ctx, &req); err != nil {
		return nil, err
	}
	stx := req.Tx
	if stx == nil {
		return nil, n.refuse(ctx, s, errors.New("empty sign request"))
	}
	if err := contracts.Verify(stx.Tx); err != nil {
		return nil, n.refuse(ctx, s, err)
	}
	if err := identity.VerifySignatures(n.dir, stx, false); err != nil {
		return nil, n.refuse(ctx, s, err)
	}
	if _, ok := stx.Signatures[s.Counterparty()]; !ok {
		return nil, n.refuse(ctx, s, fmt.Errorf("%s has not signed", s.Counterparty()))
	}
	if err := check(stx); err != nil {
		return nil, n.refuse(ctx, s, err)
	}
	id, err := stx.ID()
	if err != nil {
		return nil, err
	}
	if err := s.Send(ctx, SignResponse{Signature: n.id.Sign(id)}); err != nil {
		return nil, err
	}
	return stx, nil
}

func (n *Node) refuse(ctx context.Context, s transport.Session, reason error) error {
	n.log.Warn().Err(reason).Str("from", string(s.Counterparty())).Msg("refusing to sign")
	if err := s.Send(ctx, SignResponse{Refused: reason.Error()}); err != nil {
		return err
	}
	return errRefusedHere
}

// receiveFinality records the finalized transaction sent on s. When expect is
// set the transaction must be the one this node signed. after runs once the
// transaction is recorded and before the ack; its result becomes the ack note.
func (n *Node) receiveFinality(ctx context.Context, s transport.Session, expect ledger.TxID, after func(ledger.Finalized) string) (ledger.Finalized, error) {
	var notice FinalityNotice
	if err := s.Receive(ctx, &notice); err != nil {
		return ledger.Finalized{}, err
	}
	f := notice.Finalized
	err := n.checkFinalized(f, expect)
	if err == nil {
		err = n.vault.Record(ctx, f)
	}
	ack := FinalityAck{}
	if f.Tx != nil {
		ack.TxID, _ = f.Tx.ID()
	}
	if err != nil {
		ack.Error = err.Error()
		_ = s.Send(ctx, ack)
		return ledger.Finalized{}, err
	}
	if after != nil {
		ack.Note = after(f)
	}
	return f, s.Send(ctx, ack)
}

func (n *Node) checkFinalized(f ledger.Finalized, expect ledger.TxID) error {
	if f.Tx == nil {
		return errors.New("finality notice without transaction")
	}
	id, err := f.Tx.ID()
	if err != nil {
		return err
	}
	if expect != "" && id != expect {
		return fmt.Errorf("finalized %s, signed %s", id, expect)
	}
	if err := contracts.Verify(f.Tx.Tx); err != nil {
		return err
	}
	if err := identity.VerifySignatures(n.dir, f.Tx, true); err != nil {
		return err
	}
	if !involves(f.Tx.Tx, n.id.Party) {
		return fmt.Errorf("%s is not a participant of %s", n.id.Party, id)
	}
	return nil
}

func involves(tx ledger.Transaction, p ledger.Party) bool {
	for _, q := range tx.Participants() {
		if q == p {
			return true
		}
	}
	for _, q := range tx.Signers {
		if q == p {
			return true
		}
	}
	return false
}

// sameSigners reports whether the signer set is exactly want.
func sameSigners(tx ledger.Transaction, want ...ledger.Party) bool {
	if len(tx.Signers) != len(want) {
		return false
	}
	set := map[ledger.Party]bool{}
	for _, p := range want {
		set[p] = true
	}
	for _, p := range tx.Signers {
		if !set[p] {
			return false
		}
	}
	return true
}

func (n *Node) responderContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, n.timeout)
}

// respondPurchaseOrder is the seller side of purchase-order.create.
func (n *Node) respondPurchaseOrder(ctx context.Context, s transport.Session) error {
	ctx, cancel := n.responderContext(ctx)
	defer cancel()
	buyer := s.Counterparty()

	stx, err := n.countersign(ctx, s, func(stx *ledger.SignedTransaction) error {
		if _, ok := stx.Tx.Command.(ledger.PurchaseOrderCreate); !ok {
			return fmt.Errorf("command should be purchase-order.Create, got %s", ledger.CommandLabel(stx.Tx.Command))
		}
		if !sameSigners(stx.Tx, n.id.Party, buyer) {
			return fmt.Errorf("wrong signers: expected [%s %s], got %v", n.id.Party, buyer, stx.Tx.Signers)
		}
		po := ledger.OutputsOf[ledger.PurchaseOrderState](stx.Tx)[0]
		if po.Seller != n.id.Party || po.Buyer != buyer {
			return fmt.Errorf("order is between %s and %s", po.Buyer, po.Seller)
		}
		stock, err := n.Stock(ctx)
		if err != nil {
			return err
		}
		if short := allocator.Shortfalls(stock.Stock, po.Products); len(short) > 0 {
			parts := make([]string, len(short))
			for i, sh := range short {
				parts[i] = string(sh.Type)
			}
			return fmt.Errorf("%w for products: %s", allocator.ErrInsufficientStock, strings.Join(parts, ", "))
		}
		return nil
	})
	if err != nil {
		return ignoreRefusal(err)
	}
	id, err := stx.ID()
	if err != nil {
		return err
	}

	_, err = n.receiveFinality(ctx, s, id, func(f ledger.Finalized) string {
		po := ledger.OutputsOf[ledger.PurchaseOrderState](f.Tx.Tx)[0]
		if _, err := n.reserve(ctx, po.ID); err != nil {
			if errors.Is(err, ErrUndelivered) {
				n.log.Warn().Err(err).Str("order_id", po.ID.String()).Msg("reservation final but not recorded")
				return fmt.Sprintf("reservation for order %s needs redistribute: %v", po.ID, err)
			}
			// The order stands; ReserveForOrder retries the reservation.
			n.log.Warn().Err(err).Str("order_id", po.ID.String()).Msg("reservation failed")
			return fmt.Sprintf("reservation for order %s failed: %v", po.ID, err)
		}
		return ""
	})
	return err
}

// respondDeliveryOrder serves both delivery-order creation and the purchase
// order consumption that follows it. The first message says whether to sign.
func (n *Node) respondDeliveryOrder(ctx context.Context, s transport.Session) error {
	ctx, cancel := n.responderContext(ctx)
	defer cancel()

	var should ShouldSign
	if err := s.Receive(ctx, &should); err != nil {
		return err
	}
	if !should.Sign {
		_, err := n.receiveFinality(ctx, s, "", nil)
		return err
	}

	seller := s.Counterparty()
	stx, err := n.countersign(ctx, s, func(stx *ledger.SignedTransaction) error {
		if _, ok := stx.Tx.Command.(ledger.DeliveryOrderCreate); !ok {
			return fmt.Errorf("command should be delivery-order.Create, got %s", ledger.CommandLabel(stx.Tx.Command))
		}
		if !sameSigners(stx.Tx, n.id.Party, seller) {
			return fmt.Errorf("wrong signers: expected [%s %s], got %v", n.id.Party, seller, stx.Tx.Signers)
		}
		return nil
	})
	if err != nil {
		return ignoreRefusal(err)
	}
	id, err := stx.ID()
	if err != nil {
		return err
	}
	_, err = n.receiveFinality(ctx, s, id, nil)
	return err
}

// respondFinality records a transaction this node observes without signing.
func (n *Node) respondFinality(ctx context.Context, s transport.Session) error {
	ctx, cancel := n.responderContext(ctx)
	defer cancel()
	_, err := n.receiveFinality(ctx, s, "", nil)
	return err
}

// respondSaleNotification records that a retailer sold one of our products.
func (n *Node) respondSaleNotification(ctx context.Context, s transport.Session) error {
	ctx, cancel := n.responderContext(ctx)
	defer cancel()

	var p ledger.Product
	if err := s.Receive(ctx, &p); err != nil {
		return err
	}
	ack := FinalityAck{}
	if p.Producer != n.id.Party {
		ack.Error = fmt.Sprintf("product %s was produced by %s", p.ID, p.Producer)
		return s.Send(ctx, ack)
	}
	f, err := n.finalize(ctx, "sale-notification", buildSaleNotification(n.id.Party, s.Counterparty(), p))
	if f == nil {
		ack.Error = err.Error()
		return s.Send(ctx, ack)
	}
	ack.TxID, _ = f.Tx.ID()
	if err != nil {
		// Final all the same; the retailer must not notify again.
		ack.Note = err.Error()
	}
	return s.Send(ctx, ack)
}

func ignoreRefusal(err error) error {
	if errors.Is(err, errRefusedHere) {
		return nil
	}
	return err
}
