package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/maloquacious/migrator/internal/store"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using modernc.org/sqlite.
type SQLiteStore struct {
	store.Conn
	dsn string
}

// New creates a new SQLiteStore. A leading "sqlite:" scheme is accepted and stripped.
func New(dsn string) *SQLiteStore {
	return &SQLiteStore{
		dsn: strings.TrimPrefix(dsn, "sqlite:"),
	}
}

// Open opens the SQLite database with safe defaults.
func (s *SQLiteStore) Open(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer, and an in-memory database exists only
	// on the connection that created it.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s.DB = db
	return nil
}

// Dialect returns the SQLite dialect.
func (s *SQLiteStore) Dialect() store.Dialect {
	return dialect{}
}

// CheckState returns whether the ledger table exists.
func (s *SQLiteStore) CheckState(ctx context.Context, table string) (store.StoreState, error) {
	if s.DB == nil {
		return store.StateMissing, store.ErrNotOpened
	}

	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	if err != nil {
		return store.StateUninitialized, fmt.Errorf("failed to check %s table: %w", table, err)
	}

	if count == 0 {
		return store.StateUninitialized, nil
	}
	return store.StateReady, nil
}

// Tables lists user tables, skipping SQLite's internal ones.
func (s *SQLiteStore) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.Query(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
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

// Columns lists the columns of every user table.
func (s *SQLiteStore) Columns(ctx context.Context) ([]store.Column, error) {
	tables, err := s.Tables(ctx)
	if err != nil {
		return nil, err
	}

	var columns []store.Column
	for _, table := range tables {
		cols, err := s.tableColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		columns = append(columns, cols...)
	}
	return columns, nil
}

func (s *SQLiteStore) tableColumns(ctx context.Context, table string) ([]store.Column, error) {
	rows, err := s.Query(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []store.Column
	for rows.Next() {
		var name, dataType string
		var notNull, pk int
		if err := rows.Scan(&name, &dataType, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		columns = append(columns, store.Column{
			Table:    table,
			Name:     name,
			DataType: strings.ToLower(dataType),
			Nullable: notNull == 0 && pk == 0,
		})
	}
	return columns, rows.Err()
}

type dialect struct{}

func (dialect) Name() string { return store.DriverSQLite }

func (dialect) Bind(int) string { return "?" }

func (dialect) Table(name string) string { return store.QuoteIdent(name) }

func (d dialect) LedgerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    filename TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    hash TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    applied_at INTEGER NOT NULL
)`, d.Table(table))
}

func (d dialect) DropTable(name string) string {
	return "DROP TABLE IF EXISTS " + d.Table(name)
}

func (dialect) DeferConstraints() string { return "PRAGMA defer_foreign_keys = ON" }
