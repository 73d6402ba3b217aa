package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	contractx "github.com/tanpawarit/support-agent/agent/contract"
	storex "github.com/tanpawarit/support-agent/agent/store"
)

type getUserInput struct {
	Key   string `json:"key" validate:"required,oneof=email phone username"`
	Value string `json:"value" validate:"required"`
}

type getUserInfoInput struct {
	Key   string `json:"key" validate:"required,oneof=email phone username customer_id"`
	Value string `json:"value" validate:"required"`
}

type orderIDInput struct {
	OrderID string `json:"order_id" validate:"required,len=5,numeric"`
}

type customerIDInput struct {
	CustomerID string `json:"customer_id" validate:"required,len=7,numeric"`
}

type updateContactInput struct {
	CustomerID string  `json:"customer_id" validate:"required,len=7,numeric"`
	Email      *string `json:"email" validate:"omitempty,email"`
	Phone      *string `json:"phone" validate:"omitempty,phone"`
}

// normalize drops blank optional fields so they count as absent.
func (in *updateContactInput) normalize() {
	in.Email = trimOptional(in.Email)
	in.Phone = trimOptional(in.Phone)
}

type normalizer interface {
	normalize()
}

// FieldViolation describes one rule an argument failed.
type FieldViolation struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return storex.ValidPhone(fl.Field().String())
	})
	return v
}

// bind decodes raw tool arguments into dst and validates them. A nil return
// means dst is ready for use.
func bind(v *validator.Validate, raw string, dst any) *contractx.ToolError {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &contractx.ToolError{
			Kind:    contractx.ToolErrInvalidInput,
			Message: fmt.Sprintf("arguments are not a valid object for this tool: %v", err),
		}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &contractx.ToolError{
			Kind:    contractx.ToolErrInvalidInput,
			Message: "arguments contain trailing data after the JSON object",
		}
	}

	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}

	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &contractx.ToolError{Kind: contractx.ToolErrInvalidInput, Message: err.Error()}
		}
		violations := make([]FieldViolation, 0, len(verrs))
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			violations = append(violations, FieldViolation{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
			msgs = append(msgs, describe(fe))
		}
		return &contractx.ToolError{
			Kind:    contractx.ToolErrInvalidInput,
			Message: strings.Join(msgs, "; "),
			Details: violations,
		}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", fe.Field(), fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must contain only digits", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "phone":
		return fmt.Sprintf("%s must use the XXX-XXX-XXXX format", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// rawInput returns the arguments as valid JSON for the audit record.
func rawInput(raw string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
