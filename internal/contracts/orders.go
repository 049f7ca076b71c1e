package contracts

import "github.com/ariefcatur/go-supplychain-ledger/internal/ledger"

func verifyPurchaseOrderCreate(tx ledger.Transaction, cmd ledger.Command) error {
	r := rulesFor(cmd)
	out, ok := single(ledger.OutputsOf[ledger.PurchaseOrderState](tx))
	if !ok {
		return r.fail("exactly one PurchaseOrderState must be created")
	}
	r.require("transaction must have 0 inputs", len(tx.Inputs) == 0)
	r.require("buyer and seller must be different", out.Buyer != out.Seller)
	r.require("products list cannot be empty", len(out.Products) > 0)
	r.require("current signers must be the same as participants", sameParties(tx.Signers, out.Participants()))
	return r.err
}

// Consume retires the order with no successor.
func verifyPurchaseOrderConsume(tx ledger.Transaction, cmd ledger.Command) error {
	r := rulesFor(cmd)
	_, ok := single(ledger.InputsOf[ledger.PurchaseOrderState](tx))
	r.require("exactly one PurchaseOrderState must be consumed", ok)
	r.require("outputs should be empty", len(tx.Outputs) == 0)
	return r.err
}

func verifyDeliveryOrderCreate(tx ledger.Transaction, cmd ledger.Command) error {
	r := rulesFor(cmd)
	out, ok := single(ledger.OutputsOf[ledger.DeliveryOrderState](tx))
	if !ok {
		return r.fail("exactly one DeliveryOrderState must be created")
	}
	r.require("transaction must have 0 inputs", len(tx.Inputs) == 0)
	r.require("accepted should be false", !out.Accepted)
	r.require("there should be 3 distinct participants", len(partySet(out.Participants())) == 3)
	r.require("seller and delivery company should sign",
		sameParties(tx.Signers, []ledger.Party{out.Seller, out.DeliverCompany}))
	return r.err
}

func verifyDeliveryOrderAccept(tx ledger.Transaction, cmd ledger.Command) error {
	r := rulesFor(cmd)
	in, okIn := single(ledger.InputsOf[ledger.DeliveryOrderState](tx))
	out, okOut := single(ledger.OutputsOf[ledger.DeliveryOrderState](tx))
	r.require("exactly one DeliveryOrderState input is required", okIn)
	r.require("exactly one DeliveryOrderState output is required", okOut)
	if r.err != nil {
		return r.err
	}
	signer, ok := single(tx.Signers)
	r.require("input.accepted should be false", !in.Accepted)
	r.require("only accepted property should change", out.Equal(in.Accept()))
	r.require("only delivery company should sign", ok && signer == out.DeliverCompany)
	return r.err
}

func verifyDeliveryOrderReceive(tx ledger.Transaction, cmd ledger.Command) error {
	r := rulesFor(cmd)
	in, ok := single(ledger.InputsOf[ledger.DeliveryOrderState](tx))
	if !ok {
		return r.fail("exactly one DeliveryOrderState input is required")
	}
	signer, ok := single(tx.Signers)
	r.require("input.accepted should be true", in.Accepted)
	r.require("there should be no outputs", len(tx.Outputs) == 0)
	r.require("only buyer should sign", ok && signer == in.Buyer)
	return r.err
}
