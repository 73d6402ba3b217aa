package contract

import (
	"encoding/json"

	statex "github.com/tanpawarit/support-agent/agent/state"
)

// ToolErrorKind classifies why a tool invocation carries the error flag.
type ToolErrorKind string

const (
	// Dispatch faults.
	ToolErrUnknownTool  ToolErrorKind = "unknown_tool"
	ToolErrInvalidInput ToolErrorKind = "invalid_input"
	ToolErrInternal     ToolErrorKind = "internal"

	// Domain refusals.
	ToolErrNotFound     ToolErrorKind = "not_found"
	ToolErrInvalidState ToolErrorKind = "invalid_state"
	ToolErrValidation   ToolErrorKind = "validation_failed"
)

// ToolCall is one tool-invocation request issued by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolError is the result payload of an error-flagged invocation.
type ToolError struct {
	Kind    ToolErrorKind `json:"kind"`
	Message string        `json:"message"`
	Details any           `json:"details,omitempty"`
}

// ToolInvocation is the audit record of one executed tool call.
type ToolInvocation struct {
	ID      string          `json:"id"`
	Tool    string          `json:"tool"`
	Input   json.RawMessage `json:"input"`
	Result  any             `json:"result"`
	IsError bool            `json:"is_error"`
}

// ErrorKind returns the classification of an error-flagged invocation.
func (t ToolInvocation) ErrorKind() ToolErrorKind {
	if !t.IsError {
		return ""
	}
	if te, ok := t.Result.(ToolError); ok {
		return te.Kind
	}
	return ToolErrInternal
}

// ChatResult is the outcome of one chat call. ToolCalls lists every
// invocation in request order, including those made before a failure.
type ChatResult struct {
	Text      string               `json:"response"`
	ToolCalls []ToolInvocation     `json:"tool_calls"`
	Truncated bool                 `json:"truncated"`
	Turns     int                  `json:"turns"`
	State     *statex.Conversation `json:"-"`
}
