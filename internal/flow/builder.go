package flow

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-supplychain-ledger/internal/allocator"
	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

// The build* functions assemble one candidate transaction from a snapshot.
// They only fail on business preconditions; structural rules are left to
// contracts.Verify.

func newTx(cmd ledger.Command, signers ...ledger.Party) ledger.Transaction {
	return ledger.Transaction{Command: cmd, Signers: signers, Salt: uuid.New()}
}

func stockOf(sr ledger.StateAndRef) (ledger.StockState, error) {
	st, ok := sr.State.(ledger.StockState)
	if !ok {
		return ledger.StockState{}, fmt.Errorf("state %s is %s, not stock", sr.Ref, sr.State.Contract())
	}
	return st, nil
}

func buildCreateStock(owner ledger.Party) ledger.Transaction {
	tx := newTx(ledger.StockCreate{}, owner)
	tx.Outputs = []ledger.State{ledger.NewStockState(owner)}
	return tx
}

// buildStockUpdate consumes current and produces its successor holding next.
func buildStockUpdate(current ledger.StateAndRef, next ledger.Stock, cmd ledger.Command) (ledger.Transaction, error) {
	st, err := stockOf(current)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx := newTx(cmd, st.OwnerParty)
	tx.Inputs = []ledger.StateAndRef{current}
	tx.Outputs = []ledger.State{st.WithStock(next)}
	return tx, nil
}

func buildAddProduct(current ledger.StateAndRef, p ledger.Product) (ledger.Transaction, error) {
	st, err := stockOf(current)
	if err != nil {
		return ledger.Transaction{}, err
	}
	next, err := allocator.Add(st.Stock, p)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return buildStockUpdate(current, next, ledger.StockAddProduct{})
}

func buildReserve(current ledger.StateAndRef, orderID uuid.UUID, request map[ledger.ProductType]int) (ledger.Transaction, error) {
	st, err := stockOf(current)
	if err != nil {
		return ledger.Transaction{}, err
	}
	next, err := allocator.Reserve(st.Stock, orderID, request)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return buildStockUpdate(current, next, ledger.StockReserveProducts{})
}

func buildRelease(current ledger.StateAndRef, orderID uuid.UUID) (ledger.Transaction, error) {
	st, err := stockOf(current)
	if err != nil {
		return ledger.Transaction{}, err
	}
	next, _, err := allocator.Release(st.Stock, orderID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return buildStockUpdate(current, next, ledger.StockRemoveReservedProducts{})
}

// buildSell takes the oldest product of type t and records its sale.
func buildSell(current ledger.StateAndRef, t ledger.ProductType, price int64) (ledger.Transaction, ledger.SaleState, error) {
	st, err := stockOf(current)
	if err != nil {
		return ledger.Transaction{}, ledger.SaleState{}, err
	}
	next, p, err := allocator.Consume(st.Stock, t)
	if err != nil {
		return ledger.Transaction{}, ledger.SaleState{}, err
	}
	tx, err := buildStockUpdate(current, next, ledger.StockSellProduct{})
	if err != nil {
		return ledger.Transaction{}, ledger.SaleState{}, err
	}
	sale := ledger.SaleState{Retail: st.OwnerParty, Product: p, Price: price}
	tx.Outputs = append(tx.Outputs, sale)
	return tx, sale, nil
}

func buildPurchaseOrder(po ledger.PurchaseOrderState) ledger.Transaction {
	tx := newTx(ledger.PurchaseOrderCreate{}, po.Buyer, po.Seller)
	tx.Outputs = []ledger.State{po}
	return tx
}

func buildConsumePurchaseOrder(po ledger.StateAndRef, seller ledger.Party) ledger.Transaction {
	tx := newTx(ledger.PurchaseOrderConsume{}, seller)
	tx.Inputs = []ledger.StateAndRef{po}
	return tx
}

func buildDeliveryOrder(do ledger.DeliveryOrderState) ledger.Transaction {
	tx := newTx(ledger.DeliveryOrderCreate{}, do.Seller, do.DeliverCompany)
	tx.Outputs = []ledger.State{do}
	return tx
}

func buildAccept(current ledger.StateAndRef) (ledger.Transaction, error) {
	do, ok := current.State.(ledger.DeliveryOrderState)
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("state %s is not a delivery order", current.Ref)
	}
	tx := newTx(ledger.DeliveryOrderAccept{}, do.DeliverCompany)
	tx.Inputs = []ledger.StateAndRef{current}
	tx.Outputs = []ledger.State{do.Accept()}
	return tx, nil
}

func buildReceive(current ledger.StateAndRef, buyer ledger.Party) ledger.Transaction {
	tx := newTx(ledger.DeliveryOrderReceive{}, buyer)
	tx.Inputs = []ledger.StateAndRef{current}
	return tx
}

func buildSaleNotification(producer, retail ledger.Party, p ledger.Product) ledger.Transaction {
	tx := newTx(ledger.SaleNotificationCreate{}, producer)
	tx.Outputs = []ledger.State{ledger.SaleNotificationState{Retail: retail, Product: p}}
	return tx
}
