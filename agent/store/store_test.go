package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storex "github.com/tanpawarit/support-agent/agent/store"
	dbx "github.com/tanpawarit/support-agent/pkg/database"
)

func testFixture() storex.Fixture {
	return storex.Fixture{
		Customers: []storex.Customer{
			{ID: "1213210", Name: "John Doe", Email: "john@example.com", Phone: "123-456-7890", Username: "johndoe"},
			{ID: "2837622", Name: "Priya Patel", Email: "priya@example.com", Phone: "987-654-3210", Username: "priya123"},
			{ID: "3924156", Name: "Liam Nguyen", Email: "liam@example.com", Phone: "555-123-4567", Username: "liamn"},
		},
		Orders: []storex.Order{
			{ID: "24601", CustomerID: "1213210", Product: "Wireless Headphones", Quantity: 1, Price: 79.99, Status: storex.StatusShipped},
			{ID: "13579", CustomerID: "1213210", Product: "Phone Case", Quantity: 2, Price: 19.99, Status: storex.StatusProcessing},
			{ID: "86420", CustomerID: "2837622", Product: "Fitness Tracker", Quantity: 1, Price: 129.99, Status: storex.StatusDelivered},
			{ID: "90357", CustomerID: "2837622", Product: "Smartphone", Quantity: 1, Price: 799.99, Status: storex.StatusCancelled},
			{ID: "47652", CustomerID: "2837622", Product: "Smartwatch", Quantity: 1, Price: 199.99, Status: storex.StatusProcessing},
		},
	}
}

func setup(t *testing.T) *storex.Store {
	t.Helper()

	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", filepath.Join(t.TempDir(), "store.db"))
	db, err := dbx.Open(ctx, dbx.Config{Driver: dbx.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, storex.EnsureSchema(ctx, db))
	_, _, err = storex.Seed(ctx, db, testFixture())
	require.NoError(t, err)

	return storex.MustNew(db)
}

func TestFindCustomer(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	cases := []struct {
		field storex.SearchField
		value string
	}{
		{storex.FieldEmail, "john@example.com"},
		{storex.FieldPhone, "123-456-7890"},
		{storex.FieldUsername, "johndoe"},
	}
	for _, tc := range cases {
		t.Run(string(tc.field), func(t *testing.T) {
			c, found, err := s.FindCustomer(ctx, tc.field, tc.value)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "1213210", c.ID)
		})
	}

	t.Run("not found", func(t *testing.T) {
		_, found, err := s.FindCustomer(ctx, storex.FieldEmail, "a@x.com")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("exact match only", func(t *testing.T) {
		_, found, err := s.FindCustomer(ctx, storex.FieldUsername, "john")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("field outside allow-list", func(t *testing.T) {
		_, _, err := s.FindCustomer(ctx, storex.SearchField("name"), "John Doe")
		assert.ErrorIs(t, err, storex.ErrUnsupportedField)
	})
}

func TestListOrdersForCustomer(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	orders, err := s.ListOrdersForCustomer(ctx, "1213210")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "13579", orders[0].ID)
	assert.Equal(t, "24601", orders[1].ID)

	t.Run("customer without orders", func(t *testing.T) {
		orders, err := s.ListOrdersForCustomer(ctx, "3924156")
		require.NoError(t, err)
		assert.NotNil(t, orders)
		assert.Empty(t, orders)
	})

	t.Run("unknown customer", func(t *testing.T) {
		orders, err := s.ListOrdersForCustomer(ctx, "9999999")
		require.NoError(t, err)
		assert.NotNil(t, orders)
		assert.Empty(t, orders)
	})
}

func TestCancelOrderRefusesNonProcessing(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	for id, status := range map[string]storex.OrderStatus{
		"24601": storex.StatusShipped,
		"86420": storex.StatusDelivered,
		"90357": storex.StatusCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			res, err := s.CancelOrder(ctx, id)
			require.NoError(t, err)
			assert.False(t, res.Cancelled)
			assert.Equal(t, storex.OutcomeInvalidState, res.Outcome)
			assert.Equal(t, status, res.CurrentStatus)
			assert.NotEmpty(t, res.Reason)

			o, found, err := s.GetOrder(ctx, id)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, status, o.Status)
		})
	}
}

func TestCancelOrderProcessing(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	res, err := s.CancelOrder(ctx, "13579")
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, storex.OutcomeOK, res.Outcome)

	o, found, err := s.GetOrder(ctx, "13579")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storex.StatusCancelled, o.Status)

	again, err := s.CancelOrder(ctx, "13579")
	require.NoError(t, err)
	assert.False(t, again.Cancelled)
	assert.Equal(t, storex.StatusCancelled, again.CurrentStatus)
}

func TestCancelOrderNotFound(t *testing.T) {
	s := setup(t)

	res, err := s.CancelOrder(context.Background(), "00000")
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, storex.OutcomeNotFound, res.Outcome)
	assert.Empty(t, res.CurrentStatus)
}

func TestCancelOrderConcurrent(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	const attempts = 16
	results := make([]storex.CancelResult, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = s.CancelOrder(ctx, "47652")
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for i, res := range results {
		require.NoError(t, errs[i])
		if res.Cancelled {
			succeeded++
			continue
		}
		assert.Equal(t, storex.OutcomeInvalidState, res.Outcome)
		assert.Equal(t, storex.StatusCancelled, res.CurrentStatus)
	}
	assert.Equal(t, 1, succeeded)
}

func TestUpdateCustomerContact(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	strPtr := func(v string) *string { return &v }

	t.Run("email only keeps phone", func(t *testing.T) {
		res, err := s.UpdateCustomerContact(ctx, "1213210", storex.ContactUpdate{Email: strPtr("john.doe@example.com")})
		require.NoError(t, err)
		require.Equal(t, storex.OutcomeOK, res.Outcome)
		require.NotNil(t, res.Customer)
		assert.Equal(t, "john.doe@example.com", res.Customer.Email)
		assert.Equal(t, "123-456-7890", res.Customer.Phone)
	})

	t.Run("phone only keeps email", func(t *testing.T) {
		res, err := s.UpdateCustomerContact(ctx, "1213210", storex.ContactUpdate{Phone: strPtr("111-111-1111")})
		require.NoError(t, err)
		require.Equal(t, storex.OutcomeOK, res.Outcome)
		assert.Equal(t, "john.doe@example.com", res.Customer.Email)
		assert.Equal(t, "111-111-1111", res.Customer.Phone)
	})

	t.Run("same email as own record", func(t *testing.T) {
		res, err := s.UpdateCustomerContact(ctx, "1213210", storex.ContactUpdate{Email: strPtr("john.doe@example.com")})
		require.NoError(t, err)
		assert.Equal(t, storex.OutcomeOK, res.Outcome)
	})

	t.Run("email taken by another customer", func(t *testing.T) {
		res, err := s.UpdateCustomerContact(ctx, "1213210", storex.ContactUpdate{Email: strPtr("priya@example.com")})
		require.NoError(t, err)
		assert.Equal(t, storex.OutcomeValidation, res.Outcome)
		assert.Equal(t, "email", res.Field)

		c, _, err := s.GetCustomer(ctx, "1213210")
		require.NoError(t, err)
		assert.Equal(t, "john.doe@example.com", c.Email)
	})

	t.Run("invalid email", func(t *testing.T) {
		res, err := s.UpdateCustomerContact(ctx, "1213210", storex.ContactUpdate{Email: strPtr("not-an-email")})
		require.NoError(t, err)
		assert.Equal(t, storex.OutcomeValidation, res.Outcome)
		assert.Equal(t, "email", res.Field)
	})

	t.Run("invalid phone", func(t *testing.T) {
		res, err := s.UpdateCustomerContact(ctx, "1213210", storex.ContactUpdate{Phone: strPtr("5551234567")})
		require.NoError(t, err)
		assert.Equal(t, storex.OutcomeValidation, res.Outcome)
		assert.Equal(t, "phone", res.Field)
	})

	t.Run("no fields", func(t *testing.T) {
		res, err := s.UpdateCustomerContact(ctx, "1213210", storex.ContactUpdate{})
		require.NoError(t, err)
		assert.Equal(t, storex.OutcomeValidation, res.Outcome)
	})

	t.Run("unknown customer", func(t *testing.T) {
		res, err := s.UpdateCustomerContact(ctx, "9999999", storex.ContactUpdate{Phone: strPtr("222-222-2222")})
		require.NoError(t, err)
		assert.Equal(t, storex.OutcomeNotFound, res.Outcome)
	})
}

func TestGetCustomerWithOrders(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	res, found, err := s.GetCustomerWithOrders(ctx, storex.LookupEmail, "priya@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2837622", res.Customer.ID)
	assert.Equal(t, 3, res.OrderCount)
	assert.Len(t, res.Orders, 3)

	byID, found, err := s.GetCustomerWithOrders(ctx, storex.LookupCustomerID, "3924156")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0, byID.OrderCount)
	assert.NotNil(t, byID.Orders)

	_, found, err = s.GetCustomerWithOrders(ctx, storex.LookupUsername, "nobody")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListOrdersByStatus(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	all, err := s.ListOrders(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	processing := storex.StatusProcessing
	open, err := s.ListOrders(ctx, &processing)
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, o := range open {
		assert.Equal(t, storex.StatusProcessing, o.Status)
	}

	customers, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 3)
	assert.Equal(t, "John Doe", customers[0].Name)
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", filepath.Join(t.TempDir(), "seed.db"))
	db, err := dbx.Open(ctx, dbx.Config{Driver: dbx.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storex.EnsureSchema(ctx, db))

	fixture, err := storex.DefaultFixture()
	require.NoError(t, err)

	customers, orders, err := storex.Seed(ctx, db, fixture)
	require.NoError(t, err)
	assert.Equal(t, len(fixture.Customers), customers)
	assert.Equal(t, len(fixture.Orders), orders)

	customers, orders, err = storex.Seed(ctx, db, fixture)
	require.NoError(t, err)
	assert.Zero(t, customers)
	assert.Zero(t, orders)
}

func TestSchemaEnforcesConstraints(t *testing.T) {
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", filepath.Join(t.TempDir(), "fk.db"))
	db, err := dbx.Open(ctx, dbx.Config{Driver: dbx.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storex.EnsureSchema(ctx, db))

	_, err = db.NewInsert().Model(&storex.Order{
		ID: "11111", CustomerID: "0000000", Product: "Ghost", Quantity: 1, Price: 1, Status: storex.StatusProcessing,
	}).Exec(ctx)
	assert.Error(t, err)

	_, err = db.NewInsert().Model(&storex.Customer{
		ID: "1111111", Name: "Zero Qty", Email: "zero@example.com", Phone: "000-000-0000", Username: "zeroqty",
	}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&storex.Order{
		ID: "11112", CustomerID: "1111111", Product: "Nothing", Quantity: 0, Price: 1, Status: storex.StatusProcessing,
	}).Exec(ctx)
	assert.Error(t, err)
}

func TestFixtureValidate(t *testing.T) {
	f := testFixture()
	f.Orders = append(f.Orders, storex.Order{ID: "55555", CustomerID: "7777777", Product: "x", Quantity: 1, Status: storex.StatusShipped})
	assert.Error(t, f.Validate())

	f = testFixture()
	f.Customers[1].Email = f.Customers[0].Email
	assert.Error(t, f.Validate())

	f = testFixture()
	f.Customers[2].Email = "liam.example.com"
	assert.ErrorContains(t, f.Validate(), "invalid email")

	assert.NoError(t, testFixture().Validate())
}

func TestOrderStatusTransitions(t *testing.T) {
	assert.True(t, storex.StatusProcessing.CanTransition(storex.StatusCancelled))
	assert.True(t, storex.StatusProcessing.CanTransition(storex.StatusShipped))
	assert.True(t, storex.StatusShipped.CanTransition(storex.StatusDelivered))
	assert.False(t, storex.StatusShipped.CanTransition(storex.StatusCancelled))
	assert.False(t, storex.StatusDelivered.CanTransition(storex.StatusCancelled))
	assert.False(t, storex.StatusCancelled.CanTransition(storex.StatusProcessing))
	assert.True(t, storex.StatusCancelled.IsTerminal())

	st, err := storex.ParseOrderStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, storex.StatusShipped, st)
	_, err = storex.ParseOrderStatus("lost")
	assert.Error(t, err)
}
