package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrUnsupportedField = errors.New("unsupported lookup field")
	ErrNilDB            = errors.New("bun db is nil")

	// errContactRejected rolls back a contact update that failed a data
	// constraint; the caller reports the prepared validation result.
	errContactRejected = errors.New("contact update rejected")
)

// Store is the record store for customers and orders. Expected absence and
// business refusals are reported as values; only storage faults are errors.
type Store struct {
	db       bun.IDB
	validate *validator.Validate
}

func New(db bun.IDB) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	return &Store{db: db, validate: validator.New()}, nil
}

func MustNew(db bun.IDB) *Store {
	s, err := New(db)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Store) FindCustomer(ctx context.Context, field SearchField, value string) (Customer, bool, error) {
	column, ok := field.column()
	if !ok {
		return Customer{}, false, fmt.Errorf("%w: %q", ErrUnsupportedField, field)
	}

	var c Customer
	err := s.db.NewSelect().Model(&c).Where("? = ?", bun.Ident(column), value).Limit(1).Scan(ctx)
	return scanOne(c, err, "find customer by "+column)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (Customer, bool, error) {
	var c Customer
	err := s.db.NewSelect().Model(&c).Where("id = ?", id).Scan(ctx)
	return scanOne(c, err, "get customer")
}

func (s *Store) ListCustomers(ctx context.Context) ([]Customer, error) {
	customers := make([]Customer, 0)
	if err := s.db.NewSelect().Model(&customers).OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return customers, nil
}

// ListOrdersForCustomer never reports not-found: a missing customer and a
// customer without orders both yield an empty slice.
func (s *Store) ListOrdersForCustomer(ctx context.Context, customerID string) ([]Order, error) {
	orders := make([]Order, 0)
	err := s.db.NewSelect().
		Model(&orders).
		Where("customer_id = ?", customerID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders for customer: %w", err)
	}
	return orders, nil
}

func (s *Store) ListOrders(ctx context.Context, status *OrderStatus) ([]Order, error) {
	orders := make([]Order, 0)
	q := s.db.NewSelect().Model(&orders).OrderExpr("id ASC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (Order, bool, error) {
	var o Order
	err := s.db.NewSelect().Model(&o).Where("id = ?", id).Scan(ctx)
	return scanOne(o, err, "get order")
}

// CancelOrder moves an order from Processing to Cancelled with a single
// conditional update, so concurrent attempts on one order yield exactly one
// success and an order that has left Processing is never cancelled.
func (s *Store) CancelOrder(ctx context.Context, id string) (CancelResult, error) {
	res, err := s.db.NewUpdate().
		Model((*Order)(nil)).
		Set("status = ?", StatusCancelled).
		Where("id = ?", id).
		Where("status = ?", StatusProcessing).
		Exec(ctx)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel order rows affected: %w", err)
	}
	if affected == 1 {
		return CancelResult{Outcome: OutcomeOK, OrderID: id, Cancelled: true}, nil
	}

	order, found, err := s.GetOrder(ctx, id)
	if err != nil {
		return CancelResult{}, err
	}
	if !found {
		return CancelResult{
			Outcome: OutcomeNotFound,
			OrderID: id,
			Reason:  fmt.Sprintf("Order %s not found", id),
		}, nil
	}
	return CancelResult{
		Outcome:       OutcomeInvalidState,
		OrderID:       id,
		CurrentStatus: order.Status,
		Reason: fmt.Sprintf("Cannot cancel order %s. Status is '%s'. Only orders with status '%s' can be cancelled.",
			id, order.Status, StatusProcessing),
	}, nil
}

// UpdateCustomerContact applies a partial email/phone update in one
// transaction. Email must be unique among other customers.
func (s *Store) UpdateCustomerContact(ctx context.Context, id string, upd ContactUpdate) (UpdateResult, error) {
	if upd.Empty() {
		return validationResult("", "at least one of email or phone is required"), nil
	}
	if upd.Email != nil {
		if err := s.validate.Var(*upd.Email, "required,email"); err != nil {
			return validationResult("email", fmt.Sprintf("invalid email address %q", *upd.Email)), nil
		}
	}
	if upd.Phone != nil && !ValidPhone(*upd.Phone) {
		return validationResult("phone", fmt.Sprintf("invalid phone %q: expected XXX-XXX-XXXX", *upd.Phone)), nil
	}

	var result UpdateResult
	err := s.runInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		exists, err := tx.NewSelect().Model((*Customer)(nil)).Where("id = ?", id).Exists(ctx)
		if err != nil {
			return fmt.Errorf("check customer: %w", err)
		}
		if !exists {
			result = UpdateResult{Outcome: OutcomeNotFound, Reason: fmt.Sprintf("Customer %s not found", id)}
			return nil
		}

		if upd.Email != nil {
			taken, err := tx.NewSelect().
				Model((*Customer)(nil)).
				Where("email = ?", *upd.Email).
				Where("id <> ?", id).
				Exists(ctx)
			if err != nil {
				return fmt.Errorf("check email uniqueness: %w", err)
			}
			if taken {
				result = validationResult("email", fmt.Sprintf("email %s is already in use", *upd.Email))
				return errContactRejected
			}
		}

		q := tx.NewUpdate().Model((*Customer)(nil)).Where("id = ?", id)
		if upd.Email != nil {
			q = q.Set("email = ?", *upd.Email)
		}
		if upd.Phone != nil {
			q = q.Set("phone = ?", *upd.Phone)
		}
		if _, err := q.Exec(ctx); err != nil {
			if upd.Email != nil && isUniqueViolation(err) {
				result = validationResult("email", fmt.Sprintf("email %s is already in use", *upd.Email))
				return errContactRejected
			}
			return fmt.Errorf("update customer contact: %w", err)
		}

		var c Customer
		if err := tx.NewSelect().Model(&c).Where("id = ?", id).Scan(ctx); err != nil {
			return fmt.Errorf("reload customer: %w", err)
		}
		result = UpdateResult{Outcome: OutcomeOK, Customer: &c}
		return nil
	})
	switch {
	case errors.Is(err, errContactRejected):
		return result, nil
	case err != nil:
		return UpdateResult{}, err
	}
	return result, nil
}

// GetCustomerWithOrders resolves a customer and its orders in one call.
func (s *Store) GetCustomerWithOrders(ctx context.Context, field LookupField, value string) (CustomerOrders, bool, error) {
	var (
		c     Customer
		found bool
		err   error
	)
	if field == LookupCustomerID {
		c, found, err = s.GetCustomer(ctx, value)
	} else {
		c, found, err = s.FindCustomer(ctx, SearchField(field), value)
	}
	if err != nil || !found {
		return CustomerOrders{}, false, err
	}

	orders, err := s.ListOrdersForCustomer(ctx, c.ID)
	if err != nil {
		return CustomerOrders{}, false, err
	}
	return CustomerOrders{Customer: c, Orders: orders, OrderCount: len(orders)}, true, nil
}

func (s *Store) runInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

func scanOne[T any](v T, err error, op string) (T, bool, error) {
	var zero T
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return zero, false, nil
	default:
		return zero, false, fmt.Errorf("%s: %w", op, err)
	}
}

func validationResult(field, reason string) UpdateResult {
	return UpdateResult{Outcome: OutcomeValidation, Field: field, Reason: reason}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
