package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maloquacious/migrator/internal/migration"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), append([]string{"--no-color"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLI(t *testing.T) {
	root := t.TempDir()
	t.Setenv("DATABASE_URL", filepath.Join(root, "app.db"))
	rootFlag := "--root=" + root

	if code, _, stderr := run(t, rootFlag, "setup"); code != 0 {
		t.Fatalf("setup: exit %d: %s", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(root, "migrator.yaml")); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if code, _, _ := run(t, rootFlag, "setup"); code != 1 {
		t.Errorf("setup over existing config: exit %d, want 1", code)
	}

	code, stdout, stderr := run(t, rootFlag, "create", "add users")
	if code != 0 {
		t.Fatalf("create: exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "_add-users.sql") {
		t.Errorf("create output: %q", stdout)
	}

	migrations := filepath.Join(root, "migrations")
	if err := os.WriteFile(filepath.Join(migrations, "1_users.sql"), []byte(
		"/* BEGIN_UP */\nCREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT);\n/* END_UP */\n"+
			"/* BEGIN_DOWN */\nDROP TABLE users;\n/* END_DOWN */\n"), 0644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr = run(t, rootFlag, "down")
	if code != 0 {
		t.Fatalf("down on empty ledger: exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "not possible") {
		t.Errorf("down output: %q", stdout)
	}

	code, stdout, stderr = run(t, rootFlag, "up")
	if code != 0 {
		t.Fatalf("up: exit %d: %s", code, stderr)
	}
	for _, want := range []string{"Migration completed [UP]", "1_users.sql", "Empty migration file"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("up output missing %q:\n%s", want, stdout)
		}
	}

	code, stdout, _ = run(t, rootFlag, "status", "--details")
	if code != 0 {
		t.Fatalf("status: exit %d", code)
	}
	// the template file created above has no SQL, so it stays pending
	if !strings.Contains(stdout, "Steps already applied: 1") || !strings.Contains(stdout, "Files pending: 1") {
		t.Errorf("status output:\n%s", stdout)
	}

	code, stdout, _ = run(t, rootFlag, "redo", "1")
	if code != 0 {
		t.Fatalf("redo: exit %d", code)
	}
	if strings.Count(stdout, "Migration completed") != 2 {
		t.Errorf("redo output:\n%s", stdout)
	}

	if code, _, _ := run(t, rootFlag, "reset"); code != 1 {
		t.Errorf("reset without --yes: exit %d, want 1", code)
	}
	code, stdout, _ = run(t, rootFlag, "reset", "--yes")
	if code != 0 || !strings.Contains(stdout, "Database Reset successful") {
		t.Errorf("reset: exit %d:\n%s", code, stdout)
	}
}

func TestCLIFailureExitCode(t *testing.T) {
	root := t.TempDir()
	migrations := filepath.Join(root, "migrations")
	if err := os.MkdirAll(migrations, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(migrations, "1_bad.sql"), []byte("/* BEGIN_UP */ CREATE TABLE ( /* END_UP */"), 0644); err != nil {
		t.Fatal(err)
	}

	code, stdout, _ := run(t, "--database-url="+filepath.Join(root, "app.db"), "--migrations-dir="+migrations, "up")
	if code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
	for _, want := range []string{"Migration failed", "1_bad.sql", "No changes were committed."} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestReportRedoShowsFindingsOnce(t *testing.T) {
	findings := []migration.Finding{{Name: "1_gone.sql", Resource: migration.ResourceFile, Kind: migration.MissingFile}}

	tests := []struct {
		name    string
		results []migration.Result
	}{
		{
			name: "both halves applied",
			results: []migration.Result{
				{Direction: migration.Down, State: migration.StateDownCompleted, Applied: []string{"2_b.sql"}, Findings: findings},
				{Direction: migration.Up, State: migration.StateUpCompleted, Applied: []string{"2_b.sql"}, Findings: findings},
			},
		},
		{
			name: "nothing to revert",
			results: []migration.Result{
				{Direction: migration.Down, State: migration.StateNoMigrationsApplied, Err: migration.ErrDownNotPossible, Findings: findings},
				{Direction: migration.Up, State: migration.StateUpCompleted, Applied: []string{"2_b.sql"}, Findings: findings},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			reportRedo(migration.NewReporter(&buf, false), tt.results)
			if got := strings.Count(buf.String(), "1_gone.sql"); got != 1 {
				t.Errorf("finding shown %d times, want 1:\n%s", got, buf.String())
			}
		})
	}
}

func TestParseSteps(t *testing.T) {
	tests := []struct {
		args    []string
		want    int
		wantErr bool
	}{
		{nil, 0, false},
		{[]string{"3"}, 3, false},
		{[]string{"0"}, 0, false},
		{[]string{"-1"}, 0, true},
		{[]string{"two"}, 0, true},
	}
	for _, tt := range tests {
		got, err := parseSteps(tt.args)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseSteps(%v) = %d, %v", tt.args, got, err)
		}
	}
}

func TestVersion(t *testing.T) {
	code, stdout, _ := run(t, "version")
	if code != 0 || !strings.Contains(stdout, "0.1.0") {
		t.Errorf("version: exit %d, output %q", code, stdout)
	}
}
