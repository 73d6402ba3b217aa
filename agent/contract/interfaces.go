package contract

import (
	"context"

	"github.com/cloudwego/eino/schema"
	storex "github.com/tanpawarit/support-agent/agent/store"
)

// RecordStore is the subset of the record store the tool dispatcher drives.
type RecordStore interface {
	FindCustomer(ctx context.Context, field storex.SearchField, value string) (storex.Customer, bool, error)
	GetCustomer(ctx context.Context, id string) (storex.Customer, bool, error)
	ListOrdersForCustomer(ctx context.Context, customerID string) ([]storex.Order, error)
	GetOrder(ctx context.Context, id string) (storex.Order, bool, error)
	CancelOrder(ctx context.Context, id string) (storex.CancelResult, error)
	UpdateCustomerContact(ctx context.Context, id string, upd storex.ContactUpdate) (storex.UpdateResult, error)
	GetCustomerWithOrders(ctx context.Context, field storex.LookupField, value string) (storex.CustomerOrders, bool, error)
}

type ToolDispatcher interface {
	Tools() []*schema.ToolInfo
	Dispatch(ctx context.Context, call ToolCall) ToolInvocation
}

// ChatService is the single entry point exposed to the surrounding application.
type ChatService interface {
	HandleChatTurn(ctx context.Context, message string) (ChatResult, error)
}
