package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/uptrace/bun"
)

//go:embed fixture/seed.json
var seedRaw []byte

type Fixture struct {
	Customers []Customer `json:"customers"`
	Orders    []Order    `json:"orders"`
}

var fixtureValidate = validator.New()

// DefaultFixture returns the embedded demo data set.
func DefaultFixture() (Fixture, error) {
	var f Fixture
	if err := json.Unmarshal(seedRaw, &f); err != nil {
		return Fixture{}, fmt.Errorf("decode seed fixture: %w", err)
	}
	return f, f.Validate()
}

// Validate checks the fixture against the record constraints before any
// row is written.
func (f Fixture) Validate() error {
	customers := make(map[string]struct{}, len(f.Customers))
	emails := make(map[string]struct{}, len(f.Customers))
	usernames := make(map[string]struct{}, len(f.Customers))
	for _, c := range f.Customers {
		switch {
		case !ValidCustomerID(c.ID):
			return fmt.Errorf("customer %q: id must be 7 digits", c.ID)
		case c.Name == "":
			return fmt.Errorf("customer %s: name is required", c.ID)
		case fixtureValidate.Var(c.Email, "required,email") != nil:
			return fmt.Errorf("customer %s: invalid email %q", c.ID, c.Email)
		case !ValidPhone(c.Phone):
			return fmt.Errorf("customer %s: invalid phone %q", c.ID, c.Phone)
		case !ValidUsername(c.Username):
			return fmt.Errorf("customer %s: invalid username %q", c.ID, c.Username)
		}
		if _, dup := emails[c.Email]; dup {
			return fmt.Errorf("customer %s: duplicate email %s", c.ID, c.Email)
		}
		if _, dup := usernames[c.Username]; dup {
			return fmt.Errorf("customer %s: duplicate username %s", c.ID, c.Username)
		}
		customers[c.ID] = struct{}{}
		emails[c.Email] = struct{}{}
		usernames[c.Username] = struct{}{}
	}

	for _, o := range f.Orders {
		switch {
		case !ValidOrderID(o.ID):
			return fmt.Errorf("order %q: id must be 5 digits", o.ID)
		case o.Quantity <= 0:
			return fmt.Errorf("order %s: quantity must be positive", o.ID)
		case o.Price < 0:
			return fmt.Errorf("order %s: price must be non-negative", o.ID)
		}
		if _, err := ParseOrderStatus(string(o.Status)); err != nil {
			return fmt.Errorf("order %s: %w", o.ID, err)
		}
		if _, ok := customers[o.CustomerID]; !ok {
			return fmt.Errorf("order %s: unknown customer %s", o.ID, o.CustomerID)
		}
	}
	return nil
}

// Seed inserts the fixture, skipping rows whose id already exists.
func Seed(ctx context.Context, db bun.IDB, f Fixture) (customers, orders int, err error) {
	if err := f.Validate(); err != nil {
		return 0, 0, err
	}

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(f.Customers) > 0 {
			res, err := tx.NewInsert().Model(&f.Customers).On("CONFLICT (id) DO NOTHING").Exec(ctx)
			if err != nil {
				return fmt.Errorf("insert customers: %w", err)
			}
			n, _ := res.RowsAffected()
			customers = int(n)
		}
		if len(f.Orders) > 0 {
			res, err := tx.NewInsert().Model(&f.Orders).On("CONFLICT (id) DO NOTHING").Exec(ctx)
			if err != nil {
				return fmt.Errorf("insert orders: %w", err)
			}
			n, _ := res.RowsAffected()
			orders = int(n)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return customers, orders, nil
}
