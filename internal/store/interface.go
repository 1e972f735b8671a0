package store

import (
	"context"
	"database/sql"
)

// StoreState represents the state of the migration ledger inside the target database.
type StoreState int

const (
	StateMissing       StoreState = iota // Connection not opened
	StateUninitialized                   // Database reachable but no ledger table
	StateReady                           // Ledger table exists
)

func (s StoreState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Column describes one column of a user table, as reported by the target database.
type Column struct {
	Table    string
	Name     string
	DataType string
	Nullable bool
}

// Runner executes statements and queries. Both Store and Tx satisfy it.
type Runner interface {
	// Run executes sql and discards any result rows.
	Run(ctx context.Context, query string, args ...any) error

	// Query returns zero or more rows. The caller must close them.
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Tx is a Runner bound to an open transaction.
type Tx interface {
	Runner
}

// Dialect holds the SQL differences between target databases.
type Dialect interface {
	// Name is the short driver name, "sqlite" or "postgres".
	Name() string

	// Bind returns the placeholder for the n-th (1-based) query argument.
	Bind(n int) string

	// Table returns the quoted, schema-qualified identifier for a table.
	Table(name string) string

	// LedgerDDL returns an idempotent CREATE TABLE statement for the ledger.
	LedgerDDL(table string) string

	// DropTable returns the statement that drops the named table.
	DropTable(name string) string

	// DeferConstraints returns the statement run before dropping tables so
	// that foreign keys between them do not dictate the drop order.
	DeferConstraints() string
}

// Store defines the target database contract used by the migration engine.
// Implementations are used from a single goroutine per invocation.
type Store interface {
	Runner

	// Open opens the datastore connection
	Open(ctx context.Context) error

	// Close closes the datastore connection
	Close() error

	// Transaction runs fn inside one transaction. It commits when fn
	// returns nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	// CheckState reports whether the ledger table exists.
	CheckState(ctx context.Context, table string) (StoreState, error)

	// Tables lists the user tables in the configured schema.
	Tables(ctx context.Context) ([]string, error)

	// Columns lists the columns of every user table in the configured schema.
	Columns(ctx context.Context) ([]Column, error)

	// Dialect returns the SQL dialect of the target database.
	Dialect() Dialect
}
