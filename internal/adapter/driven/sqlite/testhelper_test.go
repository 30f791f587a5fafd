package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB creates a named shared in-memory SQLite database with the
// account and run schema applied. The name is derived from t.Name() so
// parallel tests never share state.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// WAL does not apply to in-memory databases, so journal_mode is omitted.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		url.PathEscape(t.Name()),
	)

	open := func(maxConns int) *sql.DB {
		conn, err := sql.Open("sqlite", dsn)
		require.NoError(t, err, "open test db")
		conn.SetMaxOpenConns(maxConns)
		require.NoError(t, conn.PingContext(context.Background()), "ping test db")
		return conn
	}

	// The writer opens first and stays open, keeping the shared memory
	// database alive for the reader.
	db := &DB{Writer: open(1), path: dsn}
	db.Reader = open(4)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db.Writer), "run migrations")

	return db
}
