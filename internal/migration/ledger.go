package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/maloquacious/migrator/internal/store"
)

// DefaultTable is the ledger table name used when none is configured.
const DefaultTable = "_migrations"

// LedgerRecord is one row of the ledger table: a migration currently applied.
type LedgerRecord struct {
	ID        int64
	Filename  string
	Title     string
	Content   string
	Hash      string
	CreatedAt time.Time // file timestamp
	AppliedAt time.Time
}

// Ledger reads and writes the table that records applied migrations.
type Ledger struct {
	db    store.Store
	table string
}

func NewLedger(db store.Store, table string) *Ledger {
	if table == "" {
		table = DefaultTable
	}
	return &Ledger{db: db, table: table}
}

// EnsureTable creates the ledger table using r if it does not exist.
func (l *Ledger) EnsureTable(ctx context.Context, r store.Runner) error {
	if err := r.Run(ctx, l.db.Dialect().LedgerDDL(l.table)); err != nil {
		return fmt.Errorf("failed to create ledger table %s: %w", l.table, err)
	}
	return nil
}

// Exists reports whether the ledger table has been created.
func (l *Ledger) Exists(ctx context.Context) (bool, error) {
	state, err := l.db.CheckState(ctx, l.table)
	if err != nil {
		return false, err
	}
	return state == store.StateReady, nil
}

// Read lists the ledger rows without writing anything. A ledger table that
// does not exist yet reads as empty.
func (l *Ledger) Read(ctx context.Context) ([]LedgerRecord, error) {
	exists, err := l.Exists(ctx)
	if err != nil || !exists {
		return nil, err
	}
	return l.List(ctx)
}

// List returns every ledger row ordered by file timestamp.
func (l *Ledger) List(ctx context.Context) ([]LedgerRecord, error) {
	query := fmt.Sprintf(`SELECT id, filename, title, content, hash, created_at, applied_at
FROM %s
ORDER BY created_at, id`, l.db.Dialect().Table(l.table))

	rows, err := l.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", l.table, err)
	}
	defer rows.Close()

	var records []LedgerRecord
	for rows.Next() {
		var rec LedgerRecord
		var created, applied int64
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.Title, &rec.Content, &rec.Hash, &created, &applied); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created)
		rec.AppliedAt = time.UnixMilli(applied)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", l.table, err)
	}

	return records, nil
}

// Add inserts a ledger row using r, normally the run's transaction.
func (l *Ledger) Add(ctx context.Context, r store.Runner, rec LedgerRecord) error {
	d := l.db.Dialect()
	query := fmt.Sprintf(`INSERT INTO %s (filename, title, content, hash, created_at, applied_at)
VALUES (%s, %s, %s, %s, %s, %s)`,
		d.Table(l.table), d.Bind(1), d.Bind(2), d.Bind(3), d.Bind(4), d.Bind(5), d.Bind(6))

	return r.Run(ctx, query,
		rec.Filename, rec.Title, rec.Content, rec.Hash,
		rec.CreatedAt.UnixMilli(), rec.AppliedAt.UnixMilli())
}

// Remove deletes the ledger row for filename using r.
func (l *Ledger) Remove(ctx context.Context, r store.Runner, filename string) error {
	d := l.db.Dialect()
	query := fmt.Sprintf(`DELETE FROM %s WHERE filename = %s`, d.Table(l.table), d.Bind(1))
	return r.Run(ctx, query, filename)
}

// recordFor builds the ledger row written when file is applied.
func recordFor(file MigrationFile, appliedAt time.Time) LedgerRecord {
	return LedgerRecord{
		Filename:  file.Filename,
		Title:     file.Title,
		Content:   file.Content,
		Hash:      file.Hash,
		CreatedAt: time.UnixMilli(file.Timestamp),
		AppliedAt: appliedAt,
	}
}
