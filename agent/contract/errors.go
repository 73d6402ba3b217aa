package contract

import "errors"

var (
	ErrModelInvoke       = errors.New("model invoke failed")
	ErrSchemaViolation   = errors.New("model response violates schema")
	ErrPromptMissing     = errors.New("required prompt is missing")
	ErrValidation        = errors.New("validation failed")
	ErrMissingCredential = errors.New("llm provider credential is missing")
	ErrTurnLimitExceeded = errors.New("turn limit exceeded")
)
