package contracts

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

const (
	distributor ledger.Party = "Distributor"
	transporter ledger.Party = "Transporter"
)

func TestPurchaseOrderCreate(t *testing.T) {
	po := ledger.NewPurchaseOrder(distributor, producer, map[ledger.ProductType]int{ledger.TypeA: 1}, 1000)
	valid := ledger.Transaction{
		Outputs: []ledger.State{po},
		Command: ledger.PurchaseOrderCreate{},
		Signers: []ledger.Party{distributor, producer},
	}
	require.NoError(t, Verify(valid))

	t.Run("with input", func(t *testing.T) {
		tx := valid
		tx.Inputs = []ledger.StateAndRef{{Ref: ref(0), State: po}}
		assertRule(t, Verify(tx), "transaction must have 0 inputs")
	})
	t.Run("buyer is seller", func(t *testing.T) {
		same := po
		same.Seller = distributor
		tx := valid
		tx.Outputs = []ledger.State{same}
		tx.Signers = []ledger.Party{distributor}
		assertRule(t, Verify(tx), "buyer and seller must be different")
	})
	t.Run("no products", func(t *testing.T) {
		empty := po
		empty.Products = map[ledger.ProductType]int{}
		tx := valid
		tx.Outputs = []ledger.State{empty}
		assertRule(t, Verify(tx), "products list cannot be empty")
	})
	t.Run("seller did not sign", func(t *testing.T) {
		tx := valid
		tx.Signers = []ledger.Party{distributor}
		assertRule(t, Verify(tx), "current signers must be the same as participants")
	})
	t.Run("extra signer", func(t *testing.T) {
		tx := valid
		tx.Signers = []ledger.Party{distributor, producer, transporter}
		assertRule(t, Verify(tx), "current signers must be the same as participants")
	})
}

func TestPurchaseOrderConsume(t *testing.T) {
	po := ledger.NewPurchaseOrder(distributor, producer, map[ledger.ProductType]int{ledger.TypeA: 1}, 1000)
	tx := ledger.Transaction{
		Inputs:  []ledger.StateAndRef{{Ref: ref(0), State: po}},
		Command: ledger.PurchaseOrderConsume{},
		Signers: []ledger.Party{producer},
	}
	require.NoError(t, Verify(tx))

	tx.Outputs = []ledger.State{po}
	assertRule(t, Verify(tx), "outputs should be empty")

	tx.Inputs, tx.Outputs = nil, nil
	assertRule(t, Verify(tx), "exactly one PurchaseOrderState must be consumed")
}

func deliveryOrder() ledger.DeliveryOrderState {
	return ledger.NewDeliveryOrder(distributor, producer, transporter,
		ledger.Inventory{ledger.TypeA: products(1, ledger.TypeA)})
}

func TestDeliveryOrderCreate(t *testing.T) {
	do := deliveryOrder()
	valid := ledger.Transaction{
		Outputs: []ledger.State{do},
		Command: ledger.DeliveryOrderCreate{},
		Signers: []ledger.Party{producer, transporter},
	}
	require.NoError(t, Verify(valid))

	t.Run("already accepted", func(t *testing.T) {
		tx := valid
		tx.Outputs = []ledger.State{do.Accept()}
		assertRule(t, Verify(tx), "accepted should be false")
	})
	t.Run("roles collapse", func(t *testing.T) {
		collapsed := do
		collapsed.DeliverCompany = distributor
		tx := valid
		tx.Outputs = []ledger.State{collapsed}
		tx.Signers = []ledger.Party{producer, distributor}
		assertRule(t, Verify(tx), "there should be 3 distinct participants")
	})
	t.Run("buyer signs", func(t *testing.T) {
		tx := valid
		tx.Signers = []ledger.Party{producer, transporter, distributor}
		assertRule(t, Verify(tx), "seller and delivery company should sign")
	})
	t.Run("with input", func(t *testing.T) {
		tx := valid
		tx.Inputs = []ledger.StateAndRef{{Ref: ref(0), State: do}}
		assertRule(t, Verify(tx), "transaction must have 0 inputs")
	})
}

func acceptTx(in, out ledger.DeliveryOrderState, signers ...ledger.Party) ledger.Transaction {
	return ledger.Transaction{
		Inputs:  []ledger.StateAndRef{{Ref: ref(0), State: in}},
		Outputs: []ledger.State{out},
		Command: ledger.DeliveryOrderAccept{},
		Signers: signers,
	}
}

func TestDeliveryOrderAccept(t *testing.T) {
	do := deliveryOrder()
	accepted := do.Accept()
	require.NoError(t, Verify(acceptTx(do, accepted, transporter)))

	changed := []struct {
		name   string
		mutate func(*ledger.DeliveryOrderState)
	}{
		{"buyer", func(s *ledger.DeliveryOrderState) { s.Buyer = retail }},
		{"seller", func(s *ledger.DeliveryOrderState) { s.Seller = retail }},
		{"deliver company", func(s *ledger.DeliveryOrderState) { s.DeliverCompany = retail }},
		{"linear id", func(s *ledger.DeliveryOrderState) { s.ID = uuid.New() }},
		{"products", func(s *ledger.DeliveryOrderState) {
			s.Products = ledger.Inventory{ledger.TypeB: products(1, ledger.TypeB)}
		}},
		{"accepted left false", func(s *ledger.DeliveryOrderState) { s.Accepted = false }},
	}
	for _, tc := range changed {
		t.Run(tc.name, func(t *testing.T) {
			out := do.Accept()
			tc.mutate(&out)
			assertRule(t, Verify(acceptTx(do, out, out.DeliverCompany)), "only accepted property should change")
		})
	}

	t.Run("second accept", func(t *testing.T) {
		assertRule(t, Verify(acceptTx(accepted, accepted, transporter)), "input.accepted should be false")
	})
	t.Run("seller signs", func(t *testing.T) {
		assertRule(t, Verify(acceptTx(do, accepted, producer)), "only delivery company should sign")
	})
	t.Run("two signers", func(t *testing.T) {
		assertRule(t, Verify(acceptTx(do, accepted, transporter, producer)), "only delivery company should sign")
	})
}

func TestDeliveryOrderReceive(t *testing.T) {
	accepted := deliveryOrder().Accept()
	tx := ledger.Transaction{
		Inputs:  []ledger.StateAndRef{{Ref: ref(0), State: accepted}},
		Command: ledger.DeliveryOrderReceive{},
		Signers: []ledger.Party{distributor},
	}
	require.NoError(t, Verify(tx))

	notYet := tx
	notYet.Inputs = []ledger.StateAndRef{{Ref: ref(0), State: deliveryOrder()}}
	assertRule(t, Verify(notYet), "input.accepted should be true")

	wrongSigner := tx
	wrongSigner.Signers = []ledger.Party{producer}
	assertRule(t, Verify(wrongSigner), "only buyer should sign")

	withOutput := tx
	withOutput.Outputs = []ledger.State{accepted}
	assertRule(t, Verify(withOutput), "there should be no outputs")
}

func TestSaleNotificationCreate(t *testing.T) {
	p := ledger.NewProduct(producer, ledger.TypeC)
	tx := ledger.Transaction{
		Outputs: []ledger.State{ledger.SaleNotificationState{Retail: retail, Product: p}},
		Command: ledger.SaleNotificationCreate{},
		Signers: []ledger.Party{producer},
	}
	require.NoError(t, Verify(tx))

	tx.Outputs = append(tx.Outputs, ledger.SaleState{Retail: retail, Product: p, Price: 3})
	err := Verify(tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}
