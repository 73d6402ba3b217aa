package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/support-agent/agent/contract"
	statex "github.com/tanpawarit/support-agent/agent/state"
)

const (
	DefaultMaxTurns        = 10
	DefaultToolConcurrency = 4

	emptyAnswerText = "I was not able to produce an answer for this request."
	truncatedText   = "I could not finish this request within the allowed number of steps. The actions listed were carried out."
)

// Phase is the turn loop position of a chat call.
type Phase string

const (
	PhaseAwaitingModel  Phase = "awaiting_model"
	PhaseExecutingTools Phase = "executing_tools"
	PhaseDone           Phase = "done"
)

type Config struct {
	// MaxTurns bounds the number of model calls per chat call.
	MaxTurns int
	// RequestTimeout bounds each model round-trip. Zero means no limit
	// beyond the caller's context.
	RequestTimeout  time.Duration
	ToolConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = DefaultToolConcurrency
	}
	return c
}

type Orchestrator struct {
	runner compose.Runnable[[]*schema.Message, *schema.Message]
	tools  contractx.ToolDispatcher
	cfg    Config

	now   func() time.Time
	newID func() string
}

var _ contractx.ChatService = (*Orchestrator)(nil)

func New(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	tools contractx.ToolDispatcher,
	systemPrompt string,
	cfg Config,
) (*Orchestrator, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if tools == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: system prompt is empty", contractx.ErrPromptMissing)
	}

	toolModel, err := chatModel.WithTools(tools.Tools())
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrModelInvoke, err)
	}
	runner, err := compileModelGraph(ctx, toolModel, systemPrompt)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		runner: runner,
		tools:  tools,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// HandleChatTurn answers one operator message in a fresh conversation.
func (o *Orchestrator) HandleChatTurn(ctx context.Context, message string) (contractx.ChatResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return emptyResult(), fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	}
	conv := statex.NewConversation(o.newID(), message, o.now())
	return o.Run(ctx, conv)
}

// Run drives conv until the model gives a final answer, the turn limit is
// reached, or the model fails. The conversation is extended in place and
// returned in the result. The result always lists every tool invocation
// executed, including when an error is returned.
func (o *Orchestrator) Run(ctx context.Context, conv *statex.Conversation) (contractx.ChatResult, error) {
	if err := conv.Validate(); err != nil {
		return emptyResult(), fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	log := zerolog.Ctx(ctx).With().Str("conversation_id", conv.ID).Logger()
	ctx = log.WithContext(ctx)

	res := emptyResult()
	res.State = conv

	var (
		phase   = PhaseAwaitingModel
		pending *schema.Message
	)
	for phase != PhaseDone {
		switch phase {
		case PhaseAwaitingModel:
			msg, err := o.generate(ctx, conv.Messages())
			res.Turns++
			if err != nil {
				log.Error().Err(err).Int("turn", res.Turns).Int("tool_calls", len(res.ToolCalls)).Msg("model call failed")
				return res, err
			}
			if len(msg.ToolCalls) == 0 {
				if err := conv.AppendFinal(msg, o.now()); err != nil {
					return res, fmt.Errorf("%w: %v", contractx.ErrSchemaViolation, err)
				}
				res.Text = strings.TrimSpace(msg.Content)
				if res.Text == "" {
					log.Warn().Int("turn", res.Turns).Msg("model returned an empty final answer")
					res.Text = emptyAnswerText
				}
				phase = PhaseDone
				continue
			}
			pending = o.assignCallIDs(msg)
			phase = PhaseExecutingTools

		case PhaseExecutingTools:
			invocations, results := o.executeTools(ctx, pending)
			res.ToolCalls = append(res.ToolCalls, invocations...)
			if err := conv.AppendExchange(pending, results, o.now()); err != nil {
				return res, fmt.Errorf("%w: %v", contractx.ErrSchemaViolation, err)
			}
			pending = nil

			if res.Turns >= o.cfg.MaxTurns {
				res.Truncated = true
				res.Text = conv.LastModelText()
				if res.Text == "" {
					res.Text = truncatedText
				}
				log.Warn().Int("turns", res.Turns).Int("tool_calls", len(res.ToolCalls)).Msg("turn limit reached")
				return res, fmt.Errorf("%w: no final answer after %d model turns", contractx.ErrTurnLimitExceeded, res.Turns)
			}
			phase = PhaseAwaitingModel
		}
	}

	log.Info().Int("turns", res.Turns).Int("tool_calls", len(res.ToolCalls)).Msg("chat turn completed")
	return res, nil
}

func (o *Orchestrator) generate(ctx context.Context, history []*schema.Message) (*schema.Message, error) {
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}

	msg, err := o.runner.Invoke(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
	}
	if msg.Role == "" {
		msg.Role = schema.Assistant
	}
	return msg, nil
}

// assignCallIDs returns a copy of msg where every tool call has a unique
// correlation id, since results are paired to calls by id.
func (o *Orchestrator) assignCallIDs(msg *schema.Message) *schema.Message {
	out := *msg
	out.ToolCalls = make([]schema.ToolCall, len(msg.ToolCalls))
	copy(out.ToolCalls, msg.ToolCalls)

	seen := make(map[string]struct{}, len(out.ToolCalls))
	for i := range out.ToolCalls {
		id := strings.TrimSpace(out.ToolCalls[i].ID)
		if _, dup := seen[id]; id == "" || dup {
			id = "call_" + o.newID()
			out.ToolCalls[i].ID = id
		}
		seen[id] = struct{}{}
	}
	return &out
}

// executeTools dispatches every call of one model message concurrently and
// returns the invocations and tool-result messages in request order.
func (o *Orchestrator) executeTools(ctx context.Context, msg *schema.Message) ([]contractx.ToolInvocation, []*schema.Message) {
	calls := msg.ToolCalls
	invocations := make([]contractx.ToolInvocation, len(calls))

	var g errgroup.Group
	g.SetLimit(o.cfg.ToolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			invocations[i] = o.tools.Dispatch(ctx, contractx.ToolCall{
				ID:        call.ID,
				Tool:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
			return nil
		})
	}
	_ = g.Wait()

	results := make([]*schema.Message, len(invocations))
	for i, inv := range invocations {
		results[i] = schema.ToolMessage(toolContent(inv), inv.ID, schema.WithToolName(inv.Tool))
	}
	return invocations, results
}

type toolEnvelope struct {
	IsError bool `json:"is_error"`
	Result  any  `json:"result"`
}

func toolContent(inv contractx.ToolInvocation) string {
	body, err := json.Marshal(toolEnvelope{IsError: inv.IsError, Result: inv.Result})
	if err != nil {
		body, _ = json.Marshal(toolEnvelope{
			IsError: true,
			Result: contractx.ToolError{
				Kind:    contractx.ToolErrInternal,
				Message: fmt.Sprintf("tool result could not be encoded: %v", err),
			},
		})
	}
	return string(body)
}

func emptyResult() contractx.ChatResult {
	return contractx.ChatResult{ToolCalls: []contractx.ToolInvocation{}}
}

// Disabled is the chat service used when the LLM provider cannot be
// configured. Every call fails with the configured error.
type Disabled struct {
	Err error
}

var _ contractx.ChatService = Disabled{}

func (d Disabled) HandleChatTurn(ctx context.Context, message string) (contractx.ChatResult, error) {
	err := d.Err
	if err == nil {
		err = contractx.ErrMissingCredential
	}
	return emptyResult(), err
}
