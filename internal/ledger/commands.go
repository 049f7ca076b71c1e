package ledger

import "fmt"

// Command is the declared intent of a transaction. The set of variants is
// closed: only this package can implement it.
type Command interface {
	Contract() ContractID
	Name() string
	isCommand()
}

// Companion is implemented by commands that may carry states of another
// contract alongside their own.
type Companion interface {
	Companions() []ContractID
}

type (
	StockCreate                 struct{}
	StockAddProduct             struct{}
	StockReserveProducts        struct{}
	StockRemoveReservedProducts struct{}
	StockSellProduct            struct{}

	PurchaseOrderCreate  struct{}
	PurchaseOrderConsume struct{}

	DeliveryOrderCreate  struct{}
	DeliveryOrderAccept  struct{}
	DeliveryOrderReceive struct{}

	SaleNotificationCreate struct{}
)

func (StockCreate) Contract() ContractID                 { return ContractStock }
func (StockAddProduct) Contract() ContractID             { return ContractStock }
func (StockReserveProducts) Contract() ContractID        { return ContractStock }
func (StockRemoveReservedProducts) Contract() ContractID { return ContractStock }
func (StockSellProduct) Contract() ContractID            { return ContractStock }
func (PurchaseOrderCreate) Contract() ContractID         { return ContractPurchaseOrder }
func (PurchaseOrderConsume) Contract() ContractID        { return ContractPurchaseOrder }
func (DeliveryOrderCreate) Contract() ContractID         { return ContractDeliveryOrder }
func (DeliveryOrderAccept) Contract() ContractID         { return ContractDeliveryOrder }
func (DeliveryOrderReceive) Contract() ContractID        { return ContractDeliveryOrder }
func (SaleNotificationCreate) Contract() ContractID      { return ContractSaleNotification }

func (StockCreate) Name() string                 { return "Create" }
func (StockAddProduct) Name() string             { return "AddProduct" }
func (StockReserveProducts) Name() string        { return "ReserveProducts" }
func (StockRemoveReservedProducts) Name() string { return "RemoveReservedProducts" }
func (StockSellProduct) Name() string            { return "SellProduct" }
func (PurchaseOrderCreate) Name() string         { return "Create" }
func (PurchaseOrderConsume) Name() string        { return "Consume" }
func (DeliveryOrderCreate) Name() string         { return "Create" }
func (DeliveryOrderAccept) Name() string         { return "Accept" }
func (DeliveryOrderReceive) Name() string        { return "Receive" }
func (SaleNotificationCreate) Name() string      { return "Create" }

func (StockCreate) isCommand()                 {}
func (StockAddProduct) isCommand()             {}
func (StockReserveProducts) isCommand()        {}
func (StockRemoveReservedProducts) isCommand() {}
func (StockSellProduct) isCommand()            {}
func (PurchaseOrderCreate) isCommand()         {}
func (PurchaseOrderConsume) isCommand()        {}
func (DeliveryOrderCreate) isCommand()         {}
func (DeliveryOrderAccept) isCommand()         {}
func (DeliveryOrderReceive) isCommand()        {}
func (SaleNotificationCreate) isCommand()      {}

// A sale is recorded in the same transaction that takes the product out of
// stock.
func (StockSellProduct) Companions() []ContractID { return []ContractID{ContractSale} }

var allCommands = []Command{
	StockCreate{}, StockAddProduct{}, StockReserveProducts{}, StockRemoveReservedProducts{}, StockSellProduct{},
	PurchaseOrderCreate{}, PurchaseOrderConsume{},
	DeliveryOrderCreate{}, DeliveryOrderAccept{}, DeliveryOrderReceive{},
	SaleNotificationCreate{},
}

// CommandLabel is the "contract.Name" form used in logs and metrics.
func CommandLabel(c Command) string {
	if c == nil {
		return "none"
	}
	return string(c.Contract()) + "." + c.Name()
}

func LookupCommand(contract ContractID, name string) (Command, error) {
	for _, c := range allCommands {
		if c.Contract() == contract && c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown command %s.%s", contract, name)
}
