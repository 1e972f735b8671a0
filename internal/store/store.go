package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotOpened is returned when a Store is used before Open.
var ErrNotOpened = errors.New("database not opened")

// DriverFor returns the driver that serves the given connection string.
// PostgreSQL URLs and key/value DSNs map to DriverPostgres; file paths,
// "file:" and "sqlite:" URIs and ":memory:" map to DriverSQLite.
func DriverFor(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	lower := strings.ToLower(dsn)
	switch {
	case dsn == "":
		return "", fmt.Errorf("empty connection string")
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres, nil
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return DriverPostgres, nil
	case lower == ":memory:",
		strings.HasPrefix(lower, "file:"),
		strings.HasPrefix(lower, "sqlite:"),
		strings.HasSuffix(lower, ".db"),
		strings.HasSuffix(lower, ".sqlite"),
		strings.HasSuffix(lower, ".sqlite3"):
		return DriverSQLite, nil
	}
	return "", fmt.Errorf("cannot determine driver for connection %q", Redact(dsn))
}

// Redact hides the password of a URL-style connection string.
func Redact(dsn string) string {
	scheme := strings.Index(dsn, "://")
	at := strings.LastIndex(dsn, "@")
	if scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":****" + dsn[at:]
	}
	return dsn
}

// Conn implements Runner and Transaction over a database/sql handle.
// Dialect packages embed it.
type Conn struct {
	DB *sql.DB
}

// Run executes query and discards the result.
func (c *Conn) Run(ctx context.Context, query string, args ...any) error {
	if c.DB == nil {
		return ErrNotOpened
	}
	_, err := c.DB.ExecContext(ctx, query, args...)
	return err
}

// Query returns the rows of query.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.DB == nil {
		return nil, ErrNotOpened
	}
	return c.DB.QueryContext(ctx, query, args...)
}

// Transaction runs fn inside a transaction, committing on success.
func (c *Conn) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	if c.DB == nil {
		return ErrNotOpened
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Conn) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Run(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QuoteIdent quotes an SQL identifier with double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
