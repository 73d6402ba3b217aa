package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSNEnablesForeignKeys(t *testing.T) {
	assert.Equal(t, "file:a.db?_pragma=foreign_keys(1)", sqliteDSN("file:a.db"))
	assert.Equal(t, "file:a.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", sqliteDSN("file:a.db?_pragma=busy_timeout(5000)"))
	assert.Equal(t, "file:a.db?_pragma=foreign_keys(1)", sqliteDSN("file:a.db?_pragma=foreign_keys(1)"))
}

func TestOpenSQLiteEnforcesForeignKeysWithoutPragma(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "plain.db")

	db, err := Open(ctx, Config{Driver: DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var enabled int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled))
	assert.Equal(t, 1, enabled)

	_, err = db.ExecContext(ctx, `CREATE TABLE parent (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE child (id TEXT PRIMARY KEY, parent_id TEXT NOT NULL REFERENCES parent(id))`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO child (id, parent_id) VALUES ('c1', 'missing')`)
	assert.Error(t, err)
}

func TestOpenSQLiteRejectsDisabledForeignKeys(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "off.db") + "?_pragma=foreign_keys(0)"

	_, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn})
	assert.ErrorContains(t, err, "foreign key enforcement is off")
}
