package postgres

import (
	"strings"
	"testing"
)

func TestDialect(t *testing.T) {
	d := New("postgres://localhost/app", "").Dialect()

	if got := d.Name(); got != "postgres" {
		t.Errorf("Name: got %q, want %q", got, "postgres")
	}
	if got := d.Bind(3); got != "$3" {
		t.Errorf("Bind: got %q, want %q", got, "$3")
	}
	if got := d.Table("_migrations"); got != `"public"."_migrations"` {
		t.Errorf("Table: got %q", got)
	}
	if got := d.DropTable("users"); got != `DROP TABLE IF EXISTS "public"."users" CASCADE` {
		t.Errorf("DropTable: got %q", got)
	}

	if got := d.DeferConstraints(); got != "SET CONSTRAINTS ALL DEFERRED" {
		t.Errorf("DeferConstraints: got %q", got)
	}

	ddl := New("postgres://localhost/app", "tenant").Dialect().LedgerDDL("_migrations")
	for _, want := range []string{`"tenant"."_migrations"`, "filename TEXT NOT NULL UNIQUE", "created_at BIGINT NOT NULL"} {
		if !strings.Contains(ddl, want) {
			t.Errorf("LedgerDDL missing %q:\n%s", want, ddl)
		}
	}
}

func TestCheckStateBeforeOpen(t *testing.T) {
	s := New("postgres://localhost/app", "public")
	if _, err := s.CheckState(t.Context(), "_migrations"); err == nil {
		t.Error("expected error for unopened store")
	}
}
