package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Conversation is the ephemeral message history of a single chat call.
// It is never persisted; each call starts from NewConversation.
type Conversation struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	messages []*schema.Message
}

type Role string

const (
	RoleOperator Role = "operator"
	RoleModel    Role = "model"
	RoleTool     Role = "tool-result"
)

// Turn is a role/content view of one message.
type Turn struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolCalls  int    `json:"tool_calls,omitempty"`
}

var (
	ErrNilConversation   = errors.New("conversation is nil")
	ErrEmptyConversation = errors.New("conversation has no operator message")
	ErrUnpairedToolCall  = errors.New("tool call without matching tool result")
	ErrOrphanToolResult  = errors.New("tool result without matching tool call")
)

func NewConversation(id, operatorMessage string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		StartedAt: now.UTC(),
		UpdatedAt: now.UTC(),
		messages:  []*schema.Message{schema.UserMessage(operatorMessage)},
	}
}

func (c *Conversation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// Messages returns a copy of the message list suitable for a model request.
func (c *Conversation) Messages() []*schema.Message {
	if c == nil {
		return nil
	}
	out := make([]*schema.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	return len(c.messages)
}

// AppendOperator continues a conversation with a new operator message. The
// previous exchange must have ended with a final model answer.
func (c *Conversation) AppendOperator(message string, now time.Time) error {
	if c == nil {
		return ErrNilConversation
	}
	if n := len(c.messages); n > 0 && c.messages[n-1].Role != schema.Assistant {
		return fmt.Errorf("cannot append operator message after role=%s", c.messages[n-1].Role)
	}
	c.messages = append(c.messages, schema.UserMessage(message))
	c.Touch(now)
	return nil
}

// AppendFinal appends a model message that carries no tool calls.
func (c *Conversation) AppendFinal(msg *schema.Message, now time.Time) error {
	if c == nil {
		return ErrNilConversation
	}
	if msg == nil {
		return errors.New("model message is nil")
	}
	if len(msg.ToolCalls) > 0 {
		return fmt.Errorf("%w: final message carries %d tool calls", ErrUnpairedToolCall, len(msg.ToolCalls))
	}
	c.messages = append(c.messages, msg)
	c.Touch(now)
	return nil
}

// AppendExchange appends the model's tool-requesting message followed by the
// batch of tool results. Every call id must be answered exactly once.
func (c *Conversation) AppendExchange(request *schema.Message, results []*schema.Message, now time.Time) error {
	if c == nil {
		return ErrNilConversation
	}
	if request == nil {
		return errors.New("model message is nil")
	}
	if err := checkPairing(request, results); err != nil {
		return err
	}
	c.messages = append(c.messages, request)
	c.messages = append(c.messages, results...)
	c.Touch(now)
	return nil
}

// LastModelText returns the most recent non-empty model content.
func (c *Conversation) LastModelText() string {
	if c == nil {
		return ""
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role != schema.Assistant {
			continue
		}
		if text := strings.TrimSpace(m.Content); text != "" {
			return text
		}
	}
	return ""
}

func (c *Conversation) Turns() []Turn {
	if c == nil {
		return nil
	}
	turns := make([]Turn, 0, len(c.messages))
	for _, m := range c.messages {
		t := Turn{Content: m.Content}
		switch m.Role {
		case schema.User:
			t.Role = RoleOperator
		case schema.Assistant:
			t.Role = RoleModel
			t.ToolCalls = len(m.ToolCalls)
		case schema.Tool:
			t.Role = RoleTool
			t.ToolCallID = m.ToolCallID
		default:
			t.Role = Role(m.Role)
		}
		turns = append(turns, t)
	}
	return turns
}

// Validate checks the provider's message-pair ordering: the history starts
// with an operator message, and each tool-requesting model message is
// immediately followed by one result per call id.
func (c *Conversation) Validate() error {
	if c == nil {
		return ErrNilConversation
	}
	if len(c.messages) == 0 || c.messages[0].Role != schema.User {
		return ErrEmptyConversation
	}

	for i := 0; i < len(c.messages); i++ {
		m := c.messages[i]
		switch m.Role {
		case schema.Tool:
			return fmt.Errorf("%w: tool_call_id=%s at index %d", ErrOrphanToolResult, m.ToolCallID, i)
		case schema.Assistant:
			if len(m.ToolCalls) == 0 {
				continue
			}
			end := i + 1
			for end < len(c.messages) && c.messages[end].Role == schema.Tool {
				end++
			}
			if err := checkPairing(m, c.messages[i+1:end]); err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
			i = end - 1
		}
	}
	return nil
}

func checkPairing(request *schema.Message, results []*schema.Message) error {
	pending := make(map[string]struct{}, len(request.ToolCalls))
	for _, call := range request.ToolCalls {
		pending[call.ID] = struct{}{}
	}
	if len(results) != len(pending) {
		return fmt.Errorf("%w: %d calls, %d results", ErrUnpairedToolCall, len(pending), len(results))
	}
	for _, r := range results {
		if r == nil || r.Role != schema.Tool {
			return fmt.Errorf("%w: non-tool message in result batch", ErrOrphanToolResult)
		}
		if _, ok := pending[r.ToolCallID]; !ok {
			return fmt.Errorf("%w: tool_call_id=%s", ErrOrphanToolResult, r.ToolCallID)
		}
		delete(pending, r.ToolCallID)
	}
	return nil
}
