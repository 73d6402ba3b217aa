package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/uptrace/bun"
)

var (
	customerIDPattern = regexp.MustCompile(`^\d{7}$`)
	orderIDPattern    = regexp.MustCompile(`^\d{5}$`)
	phonePattern      = regexp.MustCompile(`^\d{3}-\d{3}-\d{4}$`)
	usernamePattern   = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
)

type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID       string `bun:"id,pk" json:"id"`
	Name     string `bun:"name,notnull" json:"name"`
	Email    string `bun:"email,notnull,unique" json:"email"`
	Phone    string `bun:"phone,notnull" json:"phone"`
	Username string `bun:"username,notnull,unique" json:"username"`
}

type OrderStatus string

const (
	StatusProcessing OrderStatus = "Processing"
	StatusShipped    OrderStatus = "Shipped"
	StatusDelivered  OrderStatus = "Delivered"
	StatusCancelled  OrderStatus = "Cancelled"
)

// AllStatuses lists the order statuses in lifecycle order.
var AllStatuses = []OrderStatus{StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	for _, s := range AllStatuses {
		if strings.EqualFold(raw, string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Delivered and Cancelled are terminal.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	switch s {
	case StatusProcessing:
		return next == StatusShipped || next == StatusCancelled
	case StatusShipped:
		return next == StatusDelivered
	default:
		return false
	}
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID         string      `bun:"id,pk" json:"id"`
	CustomerID string      `bun:"customer_id,notnull" json:"customer_id"`
	Product    string      `bun:"product,notnull" json:"product"`
	Quantity   int         `bun:"quantity,notnull" json:"quantity"`
	Price      float64     `bun:"price,notnull" json:"price"`
	Status     OrderStatus `bun:"status,notnull" json:"status"`
}

// SearchField is the allow-list of customer columns usable for exact-match
// lookup. Values outside this set never reach SQL.
type SearchField string

const (
	FieldEmail    SearchField = "email"
	FieldPhone    SearchField = "phone"
	FieldUsername SearchField = "username"
)

func (f SearchField) column() (string, bool) {
	switch f {
	case FieldEmail:
		return "email", true
	case FieldPhone:
		return "phone", true
	case FieldUsername:
		return "username", true
	default:
		return "", false
	}
}

// LookupField is SearchField extended with the customer id.
type LookupField string

const (
	LookupEmail      LookupField = LookupField(FieldEmail)
	LookupPhone      LookupField = LookupField(FieldPhone)
	LookupUsername   LookupField = LookupField(FieldUsername)
	LookupCustomerID LookupField = "customer_id"
)

// Outcome discriminates the result of a mutating store operation.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeInvalidState Outcome = "invalid_state"
	OutcomeValidation   Outcome = "validation_failed"
)

type CancelResult struct {
	Outcome       Outcome     `json:"outcome"`
	OrderID       string      `json:"order_id"`
	Cancelled     bool        `json:"cancelled"`
	Reason        string      `json:"reason,omitempty"`
	CurrentStatus OrderStatus `json:"current_status,omitempty"`
}

// ContactUpdate is a partial update; nil fields are left untouched.
type ContactUpdate struct {
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

func (u ContactUpdate) Empty() bool {
	return u.Email == nil && u.Phone == nil
}

type UpdateResult struct {
	Outcome  Outcome   `json:"outcome"`
	Customer *Customer `json:"customer,omitempty"`
	Field    string    `json:"field,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

type CustomerOrders struct {
	Customer   Customer `json:"customer"`
	Orders     []Order  `json:"orders"`
	OrderCount int      `json:"order_count"`
}

func ValidCustomerID(id string) bool { return customerIDPattern.MatchString(id) }

func ValidOrderID(id string) bool { return orderIDPattern.MatchString(id) }

func ValidPhone(phone string) bool { return phonePattern.MatchString(phone) }

func ValidUsername(username string) bool { return usernamePattern.MatchString(username) }
