package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/support-agent/agent/contract"
	"github.com/tanpawarit/support-agent/agent/orchestrator"
	storex "github.com/tanpawarit/support-agent/agent/store"
	"github.com/tanpawarit/support-agent/agent/tool"
	dbx "github.com/tanpawarit/support-agent/pkg/database"
)

type scriptedModel struct {
	responses []*schema.Message
	idx       int
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if m.idx >= len(m.responses) {
		return nil, errors.New("script exhausted")
	}
	msg := m.responses[m.idx]
	m.idx++
	return msg, nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return m, nil
}

func toolCall(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

func newSeededStore(t *testing.T) *storex.Store {
	t.Helper()

	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", filepath.Join(t.TempDir(), "support.db"))
	db, err := dbx.Open(ctx, dbx.Config{Driver: dbx.DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := storex.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	fixture, err := storex.DefaultFixture()
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	if _, _, err := storex.Seed(ctx, db, fixture); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return storex.MustNew(db)
}

func newService(t *testing.T, store *storex.Store, script ...*schema.Message) *orchestrator.Orchestrator {
	t.Helper()
	o, err := orchestrator.New(context.Background(), &scriptedModel{responses: script}, tool.MustNewDispatcher(store), "support prompt", orchestrator.Config{})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	return o
}

func TestLookupUnknownCustomer(t *testing.T) {
	store := newSeededStore(t)
	o := newService(t, store,
		toolCall("call_1", tool.ToolGetUser, `{"key":"email","value":"nobody@example.com"}`),
		schema.AssistantMessage("I couldn't find a customer with that email.", nil),
	)

	res, err := o.HandleChatTurn(context.Background(), "Look up the customer with email nobody@example.com")
	if err != nil {
		t.Fatalf("HandleChatTurn() error = %v", err)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(res.ToolCalls))
	}
	inv := res.ToolCalls[0]
	if inv.Tool != tool.ToolGetUser || !inv.IsError || inv.ErrorKind() != contractx.ToolErrNotFound {
		t.Fatalf("unexpected invocation: %#v", inv)
	}
	if res.Text == "" {
		t.Fatal("expected a final answer")
	}
}

func TestCancelShippedOrderIsRefused(t *testing.T) {
	store := newSeededStore(t)
	o := newService(t, store,
		toolCall("call_1", tool.ToolGetOrderByID, `{"order_id":"24601"}`),
		toolCall("call_2", tool.ToolCancelOrder, `{"order_id":"24601"}`),
		schema.AssistantMessage("Order 24601 has already shipped, so it cannot be cancelled.", nil),
	)

	res, err := o.HandleChatTurn(context.Background(), "Cancel order 24601")
	if err != nil {
		t.Fatalf("HandleChatTurn() error = %v", err)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(res.ToolCalls))
	}
	if res.ToolCalls[0].Tool != tool.ToolGetOrderByID || res.ToolCalls[0].IsError {
		t.Fatalf("unexpected first invocation: %#v", res.ToolCalls[0])
	}
	if res.ToolCalls[1].ErrorKind() != contractx.ToolErrInvalidState {
		t.Fatalf("expected invalid_state refusal, got %#v", res.ToolCalls[1])
	}

	order, _, err := store.GetOrder(context.Background(), "24601")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if order.Status != storex.StatusShipped {
		t.Fatalf("shipped order must be unchanged, got %s", order.Status)
	}
}

func TestCancelProcessingOrder(t *testing.T) {
	store := newSeededStore(t)
	o := newService(t, store,
		toolCall("call_1", tool.ToolCancelOrder, `{"order_id":"13579"}`),
		schema.AssistantMessage("Order 13579 has been cancelled.", nil),
	)

	res, err := o.HandleChatTurn(context.Background(), "Cancel order 13579")
	if err != nil {
		t.Fatalf("HandleChatTurn() error = %v", err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].IsError {
		t.Fatalf("expected one successful invocation, got %#v", res.ToolCalls)
	}

	order, _, err := store.GetOrder(context.Background(), "13579")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if order.Status != storex.StatusCancelled {
		t.Fatalf("expected Cancelled, got %s", order.Status)
	}
}

func TestHallucinatedToolKeepsConversationAlive(t *testing.T) {
	store := newSeededStore(t)
	o := newService(t, store,
		toolCall("call_1", "refund_order", `{"order_id":"13579"}`),
		toolCall("call_2", tool.ToolGetUserInfo, `{"key":"customer_id","value":"1213210"}`),
		schema.AssistantMessage("I can't issue refunds, but here are John's orders.", nil),
	)

	res, err := o.HandleChatTurn(context.Background(), "Refund John's last order")
	if err != nil {
		t.Fatalf("HandleChatTurn() error = %v", err)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(res.ToolCalls))
	}
	if res.ToolCalls[0].ErrorKind() != contractx.ToolErrUnknownTool {
		t.Fatalf("expected unknown_tool, got %#v", res.ToolCalls[0])
	}
	co, ok := res.ToolCalls[1].Result.(storex.CustomerOrders)
	if !ok || co.OrderCount != 3 {
		t.Fatalf("unexpected customer orders: %#v", res.ToolCalls[1].Result)
	}
}

func TestFindCustomerThenListOrders(t *testing.T) {
	store := newSeededStore(t)
	o := newService(t, store,
		schema.AssistantMessage("", []schema.ToolCall{
			{ID: "call_1", Type: "function", Function: schema.FunctionCall{Name: tool.ToolGetUser, Arguments: `{"key":"email","value":"john@example.com"}`}},
			{ID: "call_2", Type: "function", Function: schema.FunctionCall{Name: tool.ToolGetCustomerOrders, Arguments: `{"customer_id":"1213210"}`}},
		}),
		schema.AssistantMessage("John Doe has three orders.", nil),
	)

	res, err := o.HandleChatTurn(context.Background(), "What orders does john@example.com have?")
	if err != nil {
		t.Fatalf("HandleChatTurn() error = %v", err)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(res.ToolCalls))
	}
	for i, want := range []string{tool.ToolGetUser, tool.ToolGetCustomerOrders} {
		inv := res.ToolCalls[i]
		if inv.Tool != want || inv.IsError {
			t.Fatalf("invocation %d: expected successful %s, got %#v", i, want, inv)
		}
	}

	c, ok := res.ToolCalls[0].Result.(storex.Customer)
	if !ok || c.ID != "1213210" {
		t.Fatalf("unexpected customer: %#v", res.ToolCalls[0].Result)
	}

	raw, err := json.Marshal(res.ToolCalls[1].Result)
	if err != nil {
		t.Fatalf("marshal orders result: %v", err)
	}
	var orders struct {
		CustomerID string         `json:"customer_id"`
		Orders     []storex.Order `json:"orders"`
		OrderCount int            `json:"order_count"`
	}
	if err := json.Unmarshal(raw, &orders); err != nil {
		t.Fatalf("decode orders result: %v", err)
	}
	want, err := store.ListOrdersForCustomer(context.Background(), "1213210")
	if err != nil {
		t.Fatalf("ListOrdersForCustomer() error = %v", err)
	}
	if orders.CustomerID != "1213210" || orders.OrderCount != 3 || orders.OrderCount != len(want) || len(orders.Orders) != len(want) {
		t.Fatalf("unexpected orders result: %+v", orders)
	}
	if res.Text != "John Doe has three orders." {
		t.Fatalf("unexpected answer: %q", res.Text)
	}
}
