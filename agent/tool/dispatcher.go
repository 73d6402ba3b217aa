package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/support-agent/agent/contract"
	storex "github.com/tanpawarit/support-agent/agent/store"
)

var ErrRegistryMismatch = errors.New("tool registry and handler table disagree")

var _ contractx.ToolDispatcher = (*Dispatcher)(nil)

type handler func(ctx context.Context, args string) (any, *contractx.ToolError, error)

// Dispatcher turns model tool calls into record store operations. It is the
// only path from model output to state mutation and is safe for concurrent
// use.
type Dispatcher struct {
	store    contractx.RecordStore
	tools    []*schema.ToolInfo
	handlers map[string]handler
	validate *validator.Validate
}

func NewDispatcher(store contractx.RecordStore) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: record store is required", contractx.ErrValidation)
	}
	d := &Dispatcher{
		store:    store,
		tools:    Catalog(),
		validate: newValidator(),
	}
	d.handlers = map[string]handler{
		ToolGetUser:           bound(d, d.getUser),
		ToolGetOrderByID:      bound(d, d.getOrderByID),
		ToolGetCustomerOrders: bound(d, d.getCustomerOrders),
		ToolCancelOrder:       bound(d, d.cancelOrder),
		ToolUpdateUserContact: bound(d, d.updateUserContact),
		ToolGetUserInfo:       bound(d, d.getUserInfo),
	}
	if err := checkRegistry(d.tools, d.handlers); err != nil {
		return nil, err
	}
	return d, nil
}

func MustNewDispatcher(store contractx.RecordStore) *Dispatcher {
	d, err := NewDispatcher(store)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Dispatcher) Tools() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(d.tools))
	copy(out, d.tools)
	return out
}

// Dispatch executes one tool call. It never returns an error: every failure
// is folded into an error-flagged invocation the model can read.
func (d *Dispatcher) Dispatch(ctx context.Context, call contractx.ToolCall) (inv contractx.ToolInvocation) {
	log := zerolog.Ctx(ctx).With().Str("tool", call.Tool).Str("call_id", call.ID).Logger()

	inv = contractx.ToolInvocation{
		ID:    call.ID,
		Tool:  call.Tool,
		Input: rawInput(call.Arguments),
	}

	h, ok := d.handlers[call.Tool]
	if !ok {
		log.Warn().Msg("model requested unknown tool")
		return failed(inv, &contractx.ToolError{
			Kind:    contractx.ToolErrUnknownTool,
			Message: fmt.Sprintf("unknown tool %q; available tools: %s", call.Tool, strings.Join(Names(), ", ")),
		})
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("tool handler panicked")
			inv = failed(inv, &contractx.ToolError{
				Kind:    contractx.ToolErrInternal,
				Message: fmt.Sprintf("tool %s failed unexpectedly", call.Tool),
			})
		}
	}()

	result, toolErr, err := h(ctx, call.Arguments)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("tool execution failed")
		return failed(inv, &contractx.ToolError{
			Kind:    contractx.ToolErrInternal,
			Message: fmt.Sprintf("tool %s could not complete: %v", call.Tool, err),
		})
	case toolErr != nil:
		log.Debug().Str("kind", string(toolErr.Kind)).Msg(toolErr.Message)
		return failed(inv, toolErr)
	}

	log.Debug().Msg("tool executed")
	inv.Result = result
	return inv
}

func (d *Dispatcher) getUser(ctx context.Context, in getUserInput) (any, *contractx.ToolError, error) {
	c, found, err := d.store.FindCustomer(ctx, storex.SearchField(in.Key), in.Value)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, notFound("no customer found with %s %q", in.Key, in.Value), nil
	}
	return c, nil, nil
}

func (d *Dispatcher) getOrderByID(ctx context.Context, in orderIDInput) (any, *contractx.ToolError, error) {
	o, found, err := d.store.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, notFound("order %s not found", in.OrderID), nil
	}
	return o, nil, nil
}

type customerOrdersResult struct {
	CustomerID string         `json:"customer_id"`
	Orders     []storex.Order `json:"orders"`
	OrderCount int            `json:"order_count"`
}

func (d *Dispatcher) getCustomerOrders(ctx context.Context, in customerIDInput) (any, *contractx.ToolError, error) {
	orders, err := d.store.ListOrdersForCustomer(ctx, in.CustomerID)
	if err != nil {
		return nil, nil, err
	}
	if orders == nil {
		orders = []storex.Order{}
	}
	return customerOrdersResult{CustomerID: in.CustomerID, Orders: orders, OrderCount: len(orders)}, nil, nil
}

func (d *Dispatcher) cancelOrder(ctx context.Context, in orderIDInput) (any, *contractx.ToolError, error) {
	res, err := d.store.CancelOrder(ctx, in.OrderID)
	if err != nil {
		return nil, nil, err
	}
	switch res.Outcome {
	case storex.OutcomeOK:
		return res, nil, nil
	case storex.OutcomeNotFound:
		return nil, &contractx.ToolError{Kind: contractx.ToolErrNotFound, Message: res.Reason, Details: res}, nil
	case storex.OutcomeInvalidState:
		return nil, &contractx.ToolError{Kind: contractx.ToolErrInvalidState, Message: res.Reason, Details: res}, nil
	default:
		return nil, nil, fmt.Errorf("unexpected cancel outcome %q", res.Outcome)
	}
}

func (d *Dispatcher) updateUserContact(ctx context.Context, in updateContactInput) (any, *contractx.ToolError, error) {
	upd := storex.ContactUpdate{Email: in.Email, Phone: in.Phone}
	if upd.Empty() {
		return nil, &contractx.ToolError{
			Kind:    contractx.ToolErrInvalidInput,
			Message: "at least one of email or phone must be provided",
		}, nil
	}

	res, err := d.store.UpdateCustomerContact(ctx, in.CustomerID, upd)
	if err != nil {
		return nil, nil, err
	}
	switch res.Outcome {
	case storex.OutcomeOK:
		return res.Customer, nil, nil
	case storex.OutcomeNotFound:
		return nil, &contractx.ToolError{Kind: contractx.ToolErrNotFound, Message: res.Reason}, nil
	case storex.OutcomeValidation:
		return nil, &contractx.ToolError{Kind: contractx.ToolErrValidation, Message: res.Reason, Details: res}, nil
	default:
		return nil, nil, fmt.Errorf("unexpected update outcome %q", res.Outcome)
	}
}

func (d *Dispatcher) getUserInfo(ctx context.Context, in getUserInfoInput) (any, *contractx.ToolError, error) {
	co, found, err := d.store.GetCustomerWithOrders(ctx, storex.LookupField(in.Key), in.Value)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, notFound("no customer found with %s %q", in.Key, in.Value), nil
	}
	return co, nil, nil
}

// bound adapts a typed handler to the untyped dispatch table.
func bound[T any](d *Dispatcher, fn func(context.Context, T) (any, *contractx.ToolError, error)) handler {
	return func(ctx context.Context, args string) (any, *contractx.ToolError, error) {
		var in T
		if terr := bind(d.validate, args, &in); terr != nil {
			return nil, terr, nil
		}
		return fn(ctx, in)
	}
}

func checkRegistry(tools []*schema.ToolInfo, handlers map[string]handler) error {
	declared := make(map[string]struct{}, len(tools))
	var problems []string
	for _, info := range tools {
		if info == nil {
			continue
		}
		if _, dup := declared[info.Name]; dup {
			problems = append(problems, "duplicate declaration "+info.Name)
		}
		declared[info.Name] = struct{}{}
		if _, ok := handlers[info.Name]; !ok {
			problems = append(problems, "no handler for "+info.Name)
		}
	}
	for name := range handlers {
		if _, ok := declared[name]; !ok {
			problems = append(problems, "undeclared handler "+name)
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrRegistryMismatch, strings.Join(problems, "; "))
	}
	return nil
}

func failed(inv contractx.ToolInvocation, te *contractx.ToolError) contractx.ToolInvocation {
	inv.IsError = true
	inv.Result = *te
	return inv
}

func notFound(format string, args ...any) *contractx.ToolError {
	return &contractx.ToolError{Kind: contractx.ToolErrNotFound, Message: fmt.Sprintf(format, args...)}
}
