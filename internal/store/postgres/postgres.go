// Package postgres implements store.Store for PostgreSQL using the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/maloquacious/migrator/internal/store"
)

// DefaultSchema is used when no schema is configured.
const DefaultSchema = "public"

// PostgresStore implements the Store interface for one schema of a PostgreSQL database.
type PostgresStore struct {
	store.Conn
	dsn    string
	schema string
}

// New creates a new PostgresStore. Tables are resolved inside schema.
func New(dsn, schema string) *PostgresStore {
	if schema == "" {
		schema = DefaultSchema
	}
	return &PostgresStore{
		dsn:    dsn,
		schema: schema,
	}
}

// Open opens the connection pool and verifies the server is reachable.
func (s *PostgresStore) Open(ctx context.Context) error {
	db, err := sql.Open("pgx", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to %s: %w", store.Redact(s.dsn), err)
	}

	s.DB = db
	return nil
}

// Dialect returns the PostgreSQL dialect bound to the store's schema.
func (s *PostgresStore) Dialect() store.Dialect {
	return dialect{schema: s.schema}
}

// CheckState returns whether the ledger table exists in the schema.
func (s *PostgresStore) CheckState(ctx context.Context, table string) (store.StoreState, error) {
	if s.DB == nil {
		return store.StateMissing, store.ErrNotOpened
	}

	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		s.schema, table).Scan(&exists)
	if err != nil {
		return store.StateUninitialized, fmt.Errorf("failed to check %s table: %w", table, err)
	}

	if !exists {
		return store.StateUninitialized, nil
	}
	return store.StateReady, nil
}

// Tables lists the base tables of the schema.
func (s *PostgresStore) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.Query(ctx, `SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = $1 ORDER BY tablename`, s.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Columns lists the columns of every base table in the schema.
func (s *PostgresStore) Columns(ctx context.Context) ([]store.Column, error) {
	rows, err := s.Query(ctx, `
SELECT c.table_name, c.column_name, c.udt_name, c.is_nullable
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`, s.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	defer rows.Close()

	var columns []store.Column
	for rows.Next() {
		var col store.Column
		var nullable string
		if err := rows.Scan(&col.Table, &col.Name, &col.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

type dialect struct {
	schema string
}

func (dialect) Name() string { return store.DriverPostgres }

func (dialect) Bind(n int) string { return "$" + strconv.Itoa(n) }

func (d dialect) Table(name string) string {
	return store.QuoteIdent(d.schema) + "." + store.QuoteIdent(name)
}

func (d dialect) LedgerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id SERIAL PRIMARY KEY,
    filename TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    hash TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    applied_at BIGINT NOT NULL
)`, d.Table(table))
}

func (d dialect) DropTable(name string) string {
	return "DROP TABLE IF EXISTS " + d.Table(name) + " CASCADE"
}

// DeferConstraints defers deferrable constraints; CASCADE on DropTable
// handles the rest.
func (dialect) DeferConstraints() string { return "SET CONSTRAINTS ALL DEFERRED" }
