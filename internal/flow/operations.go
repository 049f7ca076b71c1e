package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-supplychain-ledger/internal/allocator"
	"github.com/ariefcatur/go-supplychain-ledger/internal/contracts"
	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
	"github.com/ariefcatur/go-supplychain-ledger/internal/transport"
	"github.com/ariefcatur/go-supplychain-ledger/internal/vault"
)

func firstOutput[T ledger.State](f *ledger.Finalized) T {
	var zero T
	outs := ledger.OutputsOf[T](f.Tx.Tx)
	if len(outs) == 0 {
		return zero
	}
	return outs[0]
}

// currentStock returns this node's live StockState, creating it on first use.
// Concurrent first calls share one Create transaction.
func (n *Node) currentStock(ctx context.Context) (ledger.StateAndRef, error) {
	me := n.id.Party
	if sr, ok, err := n.vault.CurrentStock(ctx, me); err != nil || ok {
		return sr, err
	}
	v, err, _ := n.stockInit.Do(string(me), func() (any, error) {
		if sr, ok, err := n.vault.CurrentStock(ctx, me); err != nil || ok {
			return sr, err
		}
		f, err := n.finalize(ctx, "create-stock", buildCreateStock(me))
		if err != nil {
			return nil, fmt.Errorf("create stock for %s: %w", me, err)
		}
		refs, err := f.Tx.Tx.OutputRefs()
		if err != nil {
			return nil, err
		}
		return refs[0], nil
	})
	if err != nil {
		return ledger.StateAndRef{}, err
	}
	return v.(ledger.StateAndRef), nil
}

// Stock returns this node's current stock, creating an empty one if needed.
func (n *Node) Stock(ctx context.Context) (ledger.StockState, error) {
	sr, err := n.currentStock(ctx)
	if err != nil {
		return ledger.StockState{}, err
	}
	return stockOf(sr)
}

func (n *Node) AddProduct(ctx context.Context, p ledger.Product) (_ ledger.StockState, err error) {
	ctx, done := n.observe(ctx, "add-product")
	defer done(&err)

	if !p.Type.Valid() {
		return ledger.StockState{}, fmt.Errorf("%w: unknown product type %q", allocator.ErrInvalidRequest, p.Type)
	}
	current, err := n.currentStock(ctx)
	if err != nil {
		return ledger.StockState{}, err
	}
	tx, err := buildAddProduct(current, p)
	if err != nil {
		return ledger.StockState{}, err
	}
	f, err := n.finalize(ctx, "add-product", tx)
	if f == nil {
		return ledger.StockState{}, err
	}
	return firstOutput[ledger.StockState](f), err
}

// CreatePurchaseOrder proposes an order to seller, who countersigns only if
// its stock covers the request, and reserves it once the order is final.
func (n *Node) CreatePurchaseOrder(ctx context.Context, seller ledger.Party, products map[ledger.ProductType]int, valueInCents int64) (_ uuid.UUID, err error) {
	ctx, done := n.observe(ctx, "create-purchase-order")
	defer done(&err)

	if err := allocator.ValidateRequest(products); err != nil {
		return uuid.Nil, err
	}
	po := ledger.NewPurchaseOrder(n.id.Party, seller, products, valueInCents)
	tx := buildPurchaseOrder(po)

	s, err := n.open(ctx, seller, ProtocolPurchaseOrderCreate)
	if err != nil {
		return uuid.Nil, err
	}
	defer closeAll(s)

	f, err := n.finalize(ctx, "create-purchase-order", tx,
		peer{s: s, protocol: ProtocolPurchaseOrderCreate, sign: true})
	if f == nil {
		return uuid.Nil, err
	}
	return po.ID, err
}

// ReserveForOrder reserves stock for a purchase order this node sells. The
// purchase-order responder calls it once the order is final; calling it
// again retries a reservation that failed.
func (n *Node) ReserveForOrder(ctx context.Context, orderID uuid.UUID) (_ ledger.StockState, err error) {
	ctx, done := n.observe(ctx, "reserve-for-order")
	defer done(&err)
	return n.reserve(ctx, orderID)
}

func (n *Node) reserve(ctx context.Context, orderID uuid.UUID) (ledger.StockState, error) {
	sr, err := n.vault.ByLinearID(ctx, ledger.ContractPurchaseOrder, orderID)
	if err != nil {
		return ledger.StockState{}, err
	}
	po := sr.State.(ledger.PurchaseOrderState)
	if po.Seller != n.id.Party {
		return ledger.StockState{}, fmt.Errorf("%w: order %s is sold by %s", ErrNotParty, orderID, po.Seller)
	}
	current, err := n.currentStock(ctx)
	if err != nil {
		return ledger.StockState{}, err
	}
	tx, err := buildReserve(current, orderID, po.Products)
	if err != nil {
		return ledger.StockState{}, err
	}
	f, err := n.finalize(ctx, "reserve-for-order", tx)
	if f == nil {
		return ledger.StockState{}, err
	}
	return firstOutput[ledger.StockState](f), err
}

// CreateDeliveryOrder ships the stock reserved for orderID. It runs three
// transactions in order: create the delivery order, consume the purchase
// order, drop the reservation. A failure after the first one is final returns
// a *PartialError naming the step to retry; a transaction that is final but
// not recorded by every participant counts as done and is listed in
// Undelivered.
func (n *Node) CreateDeliveryOrder(ctx context.Context, deliverCompany ledger.Party, orderID uuid.UUID) (_ uuid.UUID, err error) {
	const op = "create-delivery-order"
	ctx, done := n.observe(ctx, op)
	defer done(&err)

	poRef, err := n.vault.ByLinearID(ctx, ledger.ContractPurchaseOrder, orderID)
	if err != nil {
		return uuid.Nil, err
	}
	po := poRef.State.(ledger.PurchaseOrderState)
	if po.Seller != n.id.Party {
		return uuid.Nil, fmt.Errorf("%w: order %s is sold by %s", ErrNotParty, orderID, po.Seller)
	}
	stock, err := n.Stock(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	products, ok := stock.Stock.Reserved[orderID]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNotReserved, orderID)
	}

	do := ledger.NewDeliveryOrder(po.Buyer, n.id.Party, deliverCompany, products)
	seq := &sequence{op: op}
	f, err := n.createDeliveryOrder(ctx, do)
	if err := seq.step("create delivery order", f, err); err != nil {
		return uuid.Nil, err
	}
	f, err = n.consumePurchaseOrder(ctx, poRef, po.Buyer)
	if err := seq.step("consume purchase order", f, err); err != nil {
		return do.ID, err
	}
	f, err = n.releaseReservation(ctx, orderID)
	if err := seq.step("release reservation", f, err); err != nil {
		return do.ID, err
	}
	return do.ID, seq.finish()
}

// ResumeDeliveryOrder finishes a CreateDeliveryOrder that stopped with a
// *PartialError: it consumes the purchase order if it is still live and
// drops the reservation if it is still held.
func (n *Node) ResumeDeliveryOrder(ctx context.Context, orderID uuid.UUID) (err error) {
	ctx, done := n.observe(ctx, "resume-delivery-order")
	defer done(&err)

	stock, err := n.Stock(ctx)
	if err != nil {
		return err
	}
	reserved, held := stock.Stock.Reserved[orderID]
	seq := &sequence{op: "resume-delivery-order"}

	poRef, err := n.vault.ByLinearID(ctx, ledger.ContractPurchaseOrder, orderID)
	switch {
	case err == nil:
		po := poRef.State.(ledger.PurchaseOrderState)
		if po.Seller != n.id.Party {
			return fmt.Errorf("%w: order %s is sold by %s", ErrNotParty, orderID, po.Seller)
		}
		if !held {
			return fmt.Errorf("%w: %s", ErrNotReserved, orderID)
		}
		shipped, err := n.hasDeliveryOrder(ctx, po.Buyer, reserved)
		if err != nil {
			return err
		}
		if !shipped {
			return fmt.Errorf("order %s has no delivery order yet", orderID)
		}
		f, err := n.consumePurchaseOrder(ctx, poRef, po.Buyer)
		if err := seq.step("consume purchase order", f, err); err != nil {
			return err
		}
	case errors.Is(err, vault.ErrNotFound):
	default:
		return err
	}

	if held {
		f, err := n.releaseReservation(ctx, orderID)
		if err := seq.step("release reservation", f, err); err != nil {
			return err
		}
	}
	return seq.finish()
}

// hasDeliveryOrder reports whether this node ships products to buyer in a
// live delivery order.
func (n *Node) hasDeliveryOrder(ctx context.Context, buyer ledger.Party, products ledger.Inventory) (bool, error) {
	all, err := n.vault.All(ctx, ledger.ContractDeliveryOrder)
	if err != nil {
		return false, err
	}
	for _, sr := range all {
		do := sr.State.(ledger.DeliveryOrderState)
		if do.Seller == n.id.Party && do.Buyer == buyer && do.Products.Equal(products) {
			return true, nil
		}
	}
	return false, nil
}

func (n *Node) createDeliveryOrder(ctx context.Context, do ledger.DeliveryOrderState) (*ledger.Finalized, error) {
	carrier, err := n.openDeliveryOrder(ctx, do.DeliverCompany, true)
	if err != nil {
		return nil, err
	}
	defer closeAll(carrier)
	buyer, err := n.openDeliveryOrder(ctx, do.Buyer, false)
	if err != nil {
		return nil, err
	}
	defer closeAll(buyer)

	return n.finalize(ctx, "create-delivery-order", buildDeliveryOrder(do),
		peer{s: carrier, protocol: ProtocolDeliveryOrderCreate, sign: true},
		peer{s: buyer, protocol: ProtocolDeliveryOrderCreate})
}

// openDeliveryOrder opens a delivery-order.create session and tells the
// counterparty whether it is expected to sign.
func (n *Node) openDeliveryOrder(ctx context.Context, to ledger.Party, sign bool) (transport.Session, error) {
	s, err := n.open(ctx, to, ProtocolDeliveryOrderCreate)
	if err != nil {
		return nil, err
	}
	if err := s.Send(ctx, ShouldSign{Sign: sign}); err != nil {
		closeAll(s)
		return nil, err
	}
	return s, nil
}

func (n *Node) consumePurchaseOrder(ctx context.Context, poRef ledger.StateAndRef, buyer ledger.Party) (*ledger.Finalized, error) {
	s, err := n.openDeliveryOrder(ctx, buyer, false)
	if err != nil {
		return nil, err
	}
	defer closeAll(s)
	return n.finalize(ctx, "consume-purchase-order", buildConsumePurchaseOrder(poRef, n.id.Party),
		peer{s: s, protocol: ProtocolDeliveryOrderCreate})
}

func (n *Node) releaseReservation(ctx context.Context, orderID uuid.UUID) (*ledger.Finalized, error) {
	current, err := n.currentStock(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := buildRelease(current, orderID)
	if err != nil {
		return nil, err
	}
	return n.finalize(ctx, "release-reservation", tx)
}

// AcceptDeliveryOrder is run by the delivery company. Buyer and seller
// receive the accepted version.
func (n *Node) AcceptDeliveryOrder(ctx context.Context, id uuid.UUID) (err error) {
	ctx, done := n.observe(ctx, "accept-delivery-order")
	defer done(&err)

	current, err := n.vault.ByLinearID(ctx, ledger.ContractDeliveryOrder, id)
	if err != nil {
		return err
	}
	do := current.State.(ledger.DeliveryOrderState)
	if do.DeliverCompany != n.id.Party {
		return fmt.Errorf("%w: delivery order %s is carried by %s", ErrNotParty, id, do.DeliverCompany)
	}
	tx, err := buildAccept(current)
	if err != nil {
		return err
	}
	// Validate before opening sessions so a bad accept costs no round trip.
	if err := contracts.Verify(tx); err != nil {
		return err
	}
	peers, err := n.observers(ctx, ProtocolDeliveryOrderAccept, do.Buyer, do.Seller)
	if err != nil {
		return err
	}
	defer closePeers(peers)
	_, err = n.finalize(ctx, "accept-delivery-order", tx, peers...)
	return err
}

// ReceiveDeliveryOrder is run by the buyer: it consumes the delivery order,
// then adds every delivered product to the buyer's stock one transaction at
// a time. Once the receipt is final the products are added even if a
// participant missed it; ResumeReceipt adds whatever a failure left out.
func (n *Node) ReceiveDeliveryOrder(ctx context.Context, id uuid.UUID) (err error) {
	const op = "receive-delivery-order"
	ctx, done := n.observe(ctx, op)
	defer done(&err)

	current, err := n.vault.ByLinearID(ctx, ledger.ContractDeliveryOrder, id)
	if err != nil {
		return err
	}
	do := current.State.(ledger.DeliveryOrderState)
	if do.Buyer != n.id.Party {
		return fmt.Errorf("%w: delivery order %s is bought by %s", ErrNotParty, id, do.Buyer)
	}
	tx := buildReceive(current, n.id.Party)
	if err := contracts.Verify(tx); err != nil {
		return err
	}
	peers, err := n.observers(ctx, ProtocolDeliveryOrderReceive, do.Seller, do.DeliverCompany)
	if err != nil {
		return err
	}
	seq := &sequence{op: op}
	f, err := n.finalize(ctx, op, tx, peers...)
	closePeers(peers)
	if err := seq.step("receive delivery order", f, err); err != nil {
		return err
	}
	if err := n.addReceived(ctx, seq, do.Products.Products()); err != nil {
		return err
	}
	return seq.finish()
}

// ResumeReceipt adds to the buyer's stock every product of a received
// delivery order that never reached it. Products the stock ever held are
// skipped, so calling it again is a no-op.
func (n *Node) ResumeReceipt(ctx context.Context, id uuid.UUID) (err error) {
	const op = "resume-receipt"
	ctx, done := n.observe(ctx, op)
	defer done(&err)

	if _, err := n.vault.ByLinearID(ctx, ledger.ContractDeliveryOrder, id); err == nil {
		return fmt.Errorf("delivery order %s has not been received yet", id)
	} else if !errors.Is(err, vault.ErrNotFound) {
		return err
	}
	versions, err := n.vault.History(ctx, ledger.ContractDeliveryOrder, id)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("%w: %s %s", vault.ErrNotFound, ledger.ContractDeliveryOrder, id)
	}
	do := versions[len(versions)-1].State.(ledger.DeliveryOrderState)
	if do.Buyer != n.id.Party {
		return fmt.Errorf("%w: delivery order %s is bought by %s", ErrNotParty, id, do.Buyer)
	}

	held, err := n.everHeld(ctx)
	if err != nil {
		return err
	}
	var missing []ledger.Product
	for _, p := range do.Products.Products() {
		if !held[p.ID] {
			missing = append(missing, p)
		}
	}
	seq := &sequence{op: op}
	if err := n.addReceived(ctx, seq, missing); err != nil {
		return err
	}
	return seq.finish()
}

// everHeld collects the product IDs found in any version of this node's
// stock, including products since reserved away or sold.
func (n *Node) everHeld(ctx context.Context) (map[uuid.UUID]bool, error) {
	versions, err := n.vault.StockHistory(ctx, n.id.Party)
	if err != nil {
		return nil, err
	}
	out := map[uuid.UUID]bool{}
	for _, sr := range versions {
		for pid := range sr.State.(ledger.StockState).Stock.ProductIDs() {
			out[pid] = true
		}
	}
	return out, nil
}

// addReceived adds products to this node's stock one transaction each.
func (n *Node) addReceived(ctx context.Context, seq *sequence, products []ledger.Product) error {
	for _, p := range products {
		step := fmt.Sprintf("add product %s", p.ID)
		stock, err := n.currentStock(ctx)
		if err != nil {
			return seq.stop(step, err)
		}
		tx, err := buildAddProduct(stock, p)
		if err != nil {
			return seq.stop(step, err)
		}
		f, err := n.finalize(ctx, "add-product", tx)
		if err := seq.step(step, f, err); err != nil {
			return err
		}
	}
	return nil
}

// SellProduct sells the oldest product of type t and tells its producer.
// The sale is final before the producer is contacted; a failed notification
// returns a *PartialError.
func (n *Node) SellProduct(ctx context.Context, t ledger.ProductType, price int64) (_ ledger.SaleState, err error) {
	const op = "sell-product"
	ctx, done := n.observe(ctx, op)
	defer done(&err)

	current, err := n.currentStock(ctx)
	if err != nil {
		return ledger.SaleState{}, err
	}
	tx, sale, err := buildSell(current, t, price)
	if err != nil {
		return ledger.SaleState{}, err
	}
	seq := &sequence{op: op}
	f, err := n.finalize(ctx, op, tx)
	if err := seq.step("sell product", f, err); err != nil {
		return ledger.SaleState{}, err
	}
	if sale.Product.Producer == n.id.Party {
		f, err := n.finalize(ctx, "sale-notification", buildSaleNotification(n.id.Party, n.id.Party, sale.Product))
		if err := seq.step("notify producer", f, err); err != nil {
			return sale, err
		}
		return sale, seq.finish()
	}
	if err := n.notifyProducer(ctx, sale.Product); err != nil {
		return sale, seq.stop("notify producer", err)
	}
	return sale, seq.finish()
}

func (n *Node) notifyProducer(ctx context.Context, p ledger.Product) error {
	s, err := n.open(ctx, p.Producer, ProtocolSaleNotify)
	if err != nil {
		return err
	}
	defer closeAll(s)
	if err := s.Send(ctx, p); err != nil {
		return err
	}
	var ack FinalityAck
	if err := s.Receive(ctx, &ack); err != nil {
		return fmt.Errorf("sale notification ack from %s: %w", p.Producer, err)
	}
	if ack.Error != "" {
		return fmt.Errorf("%s could not record sale notification: %s", p.Producer, ack.Error)
	}
	if ack.Note != "" {
		n.log.Warn().Str("from", string(p.Producer)).Msg(ack.Note)
	}
	return nil
}

// observers opens finality-only sessions to every party.
func (n *Node) observers(ctx context.Context, protocol string, parties ...ledger.Party) ([]peer, error) {
	var peers []peer
	for _, p := range parties {
		s, err := n.open(ctx, p, protocol)
		if err != nil {
			closePeers(peers)
			return nil, err
		}
		peers = append(peers, peer{s: s, protocol: protocol})
	}
	return peers, nil
}

func closePeers(peers []peer) {
	for _, p := range peers {
		closeAll(p.s)
	}
}
