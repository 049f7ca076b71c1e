// Package contracts holds the transition rules every transaction must pass
// before it is signed, countersigned or recorded.
package contracts

import (
	"fmt"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

// Verify runs the framework checks and then the rules of the command's
// contract. It is pure: the same transaction always gets the same answer.
func Verify(tx ledger.Transaction) error {
	if err := verifyFramework(tx); err != nil {
		return err
	}
	switch cmd := tx.Command.(type) {
	case ledger.StockCreate:
		return verifyStockCreate(tx, cmd)
	case ledger.StockAddProduct:
		return verifyAddProduct(tx, cmd)
	case ledger.StockReserveProducts:
		return verifyReserveProducts(tx, cmd)
	case ledger.StockRemoveReservedProducts:
		return verifyRemoveReservedProducts(tx, cmd)
	case ledger.StockSellProduct:
		return verifySellProduct(tx, cmd)
	case ledger.PurchaseOrderCreate:
		return verifyPurchaseOrderCreate(tx, cmd)
	case ledger.PurchaseOrderConsume:
		return verifyPurchaseOrderConsume(tx, cmd)
	case ledger.DeliveryOrderCreate:
		return verifyDeliveryOrderCreate(tx, cmd)
	case ledger.DeliveryOrderAccept:
		return verifyDeliveryOrderAccept(tx, cmd)
	case ledger.DeliveryOrderReceive:
		return verifyDeliveryOrderReceive(tx, cmd)
	case ledger.SaleNotificationCreate:
		return nil
	default:
		return &ValidationError{Contract: "unknown", Rule: fmt.Sprintf("unrecognized command %T", cmd)}
	}
}

func verifyFramework(tx ledger.Transaction) error {
	if tx.Command == nil {
		return &ValidationError{Contract: "framework", Rule: "transaction must carry exactly one command"}
	}
	r := &rules{contract: "framework", command: ledger.CommandLabel(tx.Command)}

	r.require("signer set must not be empty", len(tx.Signers) > 0)
	seen := map[ledger.Party]bool{}
	for _, p := range tx.Signers {
		r.require("signer names must not be empty", p != "")
		r.require("signer set must not repeat a party", !seen[p])
		seen[p] = true
	}

	allowed := map[ledger.ContractID]bool{tx.Command.Contract(): true}
	if c, ok := tx.Command.(ledger.Companion); ok {
		for _, id := range c.Companions() {
			allowed[id] = true
		}
	}
	refs := map[ledger.StateRef]bool{}
	for _, in := range tx.Inputs {
		r.require("input state must not be nil", in.State != nil)
		if in.State == nil {
			return r.err
		}
		r.require(fmt.Sprintf("input of contract %s not allowed under this command", in.State.Contract()), allowed[in.State.Contract()])
		r.require("inputs must not repeat a state reference", !refs[in.Ref])
		refs[in.Ref] = true
	}
	for _, out := range tx.Outputs {
		r.require("output state must not be nil", out != nil)
		if out == nil {
			return r.err
		}
		r.require(fmt.Sprintf("output of contract %s not allowed under this command", out.Contract()), allowed[out.Contract()])
		r.require("every output needs at least one participant", len(out.Participants()) > 0)
		for _, p := range out.Participants() {
			r.require("participant names must not be empty", p != "")
		}
	}
	return r.err
}

func single[T any](xs []T) (T, bool) {
	if len(xs) != 1 {
		var zero T
		return zero, false
	}
	return xs[0], true
}

func partySet(ps []ledger.Party) map[ledger.Party]struct{} {
	out := make(map[ledger.Party]struct{}, len(ps))
	for _, p := range ps {
		out[p] = struct{}{}
	}
	return out
}

func sameParties(a, b []ledger.Party) bool {
	sa, sb := partySet(a), partySet(b)
	if len(sa) != len(sb) {
		return false
	}
	for p := range sa {
		if _, ok := sb[p]; !ok {
			return false
		}
	}
	return true
}
