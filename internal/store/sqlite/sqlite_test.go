package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/maloquacious/migrator/internal/store"
)

func openMemory(t *testing.T) *SQLiteStore {
	t.Helper()
	s := New(":memory:")
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckState(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	state, err := s.CheckState(ctx, "_migrations")
	if err != nil {
		t.Fatalf("check state: %v", err)
	}
	if state != store.StateUninitialized {
		t.Errorf("got %v, want %v", state, store.StateUninitialized)
	}

	if err := s.Run(ctx, s.Dialect().LedgerDDL("_migrations")); err != nil {
		t.Fatalf("create ledger: %v", err)
	}
	// idempotent
	if err := s.Run(ctx, s.Dialect().LedgerDDL("_migrations")); err != nil {
		t.Fatalf("create ledger twice: %v", err)
	}

	state, err = s.CheckState(ctx, "_migrations")
	if err != nil {
		t.Fatalf("check state: %v", err)
	}
	if state != store.StateReady {
		t.Errorf("got %v, want %v", state, store.StateReady)
	}
}

func TestCheckStateNotOpened(t *testing.T) {
	s := New(":memory:")
	state, err := s.CheckState(context.Background(), "_migrations")
	if !errors.Is(err, store.ErrNotOpened) {
		t.Errorf("got error %v, want ErrNotOpened", err)
	}
	if state != store.StateMissing {
		t.Errorf("got %v, want %v", state, store.StateMissing)
	}
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	if err := s.Run(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx store.Tx) error {
		if err := tx.Run(ctx, `INSERT INTO items (name) VALUES (?)`, "first"); err != nil {
			return err
		}
		if err := tx.Run(ctx, `CREATE TABLE other (id INTEGER)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}

	tables, err := s.Tables(ctx)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "items" {
		t.Errorf("rolled back DDL survived: %v", tables)
	}

	err = s.Transaction(ctx, func(tx store.Tx) error {
		return tx.Run(ctx, `INSERT INTO items (name) VALUES (?)`, "second")
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	rows, err := s.Query(ctx, `SELECT name FROM items`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		names = append(names, name)
	}
	if len(names) != 1 || names[0] != "second" {
		t.Errorf("got %v, want [second]", names)
	}
}

func TestColumns(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	if err := s.Run(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, bio TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	cols, err := s.Columns(ctx)
	if err != nil {
		t.Fatalf("columns: %v", err)
	}

	want := []store.Column{
		{Table: "users", Name: "id", DataType: "integer", Nullable: false},
		{Table: "users", Name: "email", DataType: "text", Nullable: false},
		{Table: "users", Name: "bio", DataType: "text", Nullable: true},
	}
	if len(cols) != len(want) {
		t.Fatalf("got %d columns, want %d: %v", len(cols), len(want), cols)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("column %d: got %+v, want %+v", i, cols[i], want[i])
		}
	}
}

func TestFileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")

	s := New("sqlite:" + path)
	if err := s.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Run(ctx, `CREATE TABLE t (id INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := New(path)
	if err := reopened.Open(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	tables, err := reopened.Tables(ctx)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "t" {
		t.Errorf("got %v, want [t]", tables)
	}
}

func TestDropWithDeferredForeignKeys(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	d := s.Dialect()

	for _, stmt := range []string{
		`CREATE TABLE parent (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER NOT NULL REFERENCES parent(id))`,
		`INSERT INTO parent (id) VALUES (1)`,
		`INSERT INTO child (id, parent_id) VALUES (1, 1)`,
	} {
		if err := s.Run(ctx, stmt); err != nil {
			t.Fatalf("setup %q: %v", stmt, err)
		}
	}

	// parent first: only the deferred check lets this commit
	err := s.Transaction(ctx, func(tx store.Tx) error {
		for _, stmt := range []string{d.DeferConstraints(), d.DropTable("parent"), d.DropTable("child")} {
			if err := tx.Run(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}

	tables, err := s.Tables(ctx)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("got %v, want no tables", tables)
	}
}
