package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// schemaStatements is portable between Postgres and SQLite.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id       TEXT PRIMARY KEY,
		name     TEXT NOT NULL CHECK (length(name) >= 1),
		email    TEXT NOT NULL UNIQUE,
		phone    TEXT NOT NULL,
		username TEXT NOT NULL UNIQUE CHECK (length(username) >= 3 AND length(username) <= 20)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
		product     TEXT NOT NULL CHECK (length(product) >= 1),
		quantity    INTEGER NOT NULL CHECK (quantity > 0),
		price       DOUBLE PRECISION NOT NULL CHECK (price >= 0),
		status      TEXT NOT NULL CHECK (status IN ('Processing', 'Shipped', 'Delivered', 'Cancelled'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders(customer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
}

// EnsureSchema creates tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db bun.IDB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
