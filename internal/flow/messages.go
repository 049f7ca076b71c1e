package flow

import "github.com/ariefcatur/go-supplychain-ledger/internal/ledger"

const (
	ProtocolPurchaseOrderCreate  = "purchase-order.create"
	ProtocolDeliveryOrderCreate  = "delivery-order.create"
	ProtocolDeliveryOrderAccept  = "delivery-order.accept"
	ProtocolDeliveryOrderReceive = "delivery-order.receive"
	ProtocolSaleNotify           = "sale.notify"
	// ProtocolFinalityResend delivers an already finalized transaction again.
	ProtocolFinalityResend = "finality.resend"
)

// ShouldSign opens a delivery-order.create session: countersign, or only
// receive the finalized transaction.
type ShouldSign struct {
	Sign bool `json:"sign"`
}

type SignRequest struct {
	Tx *ledger.SignedTransaction `json:"tx"`
}

// SignResponse carries either a signature or the reason for refusing.
type SignResponse struct {
	Signature []byte `json:"signature,omitempty"`
	Refused   string `json:"refused,omitempty"`
}

type FinalityNotice struct {
	Finalized ledger.Finalized `json:"finalized"`
}

// FinalityAck confirms the receiver recorded the transaction. Note carries
// non-fatal follow-up problems on the receiving side.
type FinalityAck struct {
	TxID  ledger.TxID `json:"tx_id"`
	Error string      `json:"error,omitempty"`
	Note  string      `json:"note,omitempty"`
}
