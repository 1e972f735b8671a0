package migration

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestScanSortsByTimestamp(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "30_c.sql", "/* BEGIN_UP */ SELECT 3; /* END_UP */")
	writeFile(t, dir, "1_a.sql", "/* BEGIN_UP */ SELECT 1; /* END_UP */")
	writeFile(t, dir, "200_b.sql", "/* BEGIN_UP */ SELECT 2; /* END_UP */")
	writeFile(t, dir, "README.md", "not a migration")
	if err := os.Mkdir(filepath.Join(dir, "99_nested.sql"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var names []string
	for _, f := range files {
		names = append(names, f.Filename)
	}
	if want := []string{"1_a.sql", "30_c.sql", "200_b.sql"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	if files[2].Timestamp != 200 || files[2].Title != "b" {
		t.Errorf("files[2] = %d %q, want 200 \"b\"", files[2].Timestamp, files[2].Title)
	}
	if want := filepath.Join(dir, "200_b.sql"); files[2].FullPath != want {
		t.Errorf("FullPath = %q, want %q", files[2].FullPath, want)
	}
}

func TestScanErrors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, err := Scan(filepath.Join(t.TempDir(), "nope"))
		if !errors.Is(err, ErrMissingDirectory) {
			t.Errorf("err = %v, want ErrMissingDirectory", err)
		}
		var fsErr *FileSystemError
		if !errors.As(err, &fsErr) {
			t.Errorf("err = %T, want *FileSystemError", err)
		}
	})

	t.Run("invalid filename", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "1_ok.sql", "")
		writeFile(t, dir, "first_table.sql", "")

		_, err := Scan(dir)
		if !errors.Is(err, ErrInvalidFilename) {
			t.Fatalf("err = %v, want ErrInvalidFilename", err)
		}
		var nameErr *InvalidFilenameError
		if !errors.As(err, &nameErr) || nameErr.Filename != "first_table.sql" {
			t.Errorf("err = %v, want InvalidFilenameError for first_table.sql", err)
		}
	})
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		timestamp int64
		title     string
		wantErr   bool
	}{
		{"millis", "1700000000000_create-users.sql", 1700000000000, "create-users", false},
		{"small", "1_a.sql", 1, "a", false},
		{"empty title", "5_.sql", 5, "", false},
		{"no underscore", "1700000000000.sql", 0, "", true},
		{"not a number", "abc_users.sql", 0, "", true},
		{"negative", "-1_users.sql", 0, "", true},
		{"overflow", "99999999999999999999_users.sql", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, title, err := ParseFilename(tt.filename)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFilename) {
					t.Errorf("err = %v, want ErrInvalidFilename", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFilename: %v", err)
			}
			if ts != tt.timestamp || title != tt.title {
				t.Errorf("got %d %q, want %d %q", ts, title, tt.timestamp, tt.title)
			}
		})
	}
}

func TestParseContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		up      string
		down    string
	}{
		{
			name: "both regions",
			content: `/* BEGIN_UP */
CREATE TABLE users (
    id INTEGER PRIMARY KEY
);
/* END_UP */

/* BEGIN_DOWN */
DROP TABLE users;
/* END_DOWN */
`,
			up:   "CREATE TABLE users ( id INTEGER PRIMARY KEY );",
			down: "DROP TABLE users;",
		},
		{
			name:    "up only",
			content: "/* BEGIN_UP */\nCREATE TABLE a (id INTEGER);\n/* END_UP */\n",
			up:      "CREATE TABLE a (id INTEGER);",
		},
		{
			name:    "down only with tolerant markers",
			content: "/*BEGIN_DOWN*/ DROP TABLE a; /*   END_DOWN   */",
			down:    "DROP TABLE a;",
		},
		{
			name:    "comment lines dropped",
			content: "/* BEGIN_UP */\n-- add a table\nCREATE TABLE a (id INTEGER);\n  -- trailing note\n/* END_UP */",
			up:      "CREATE TABLE a (id INTEGER);",
		},
		{
			name:    "end of line comment keeps later statements",
			content: "/* BEGIN_UP */\nSELECT 1; -- note\nCREATE TABLE b (id INTEGER);\n/* END_UP */",
			up:      "SELECT 1; CREATE TABLE b (id INTEGER);",
		},
		{
			name:    "dashes inside literals kept",
			content: "/* BEGIN_UP */\nINSERT INTO t VALUES ('a--b', \"c--d\"); -- seed\nSELECT 2;\n/* END_UP */",
			up:      "INSERT INTO t VALUES ('a--b', \"c--d\"); SELECT 2;",
		},
		{
			name:    "empty template",
			content: migrationTemplate,
		},
		{
			name:    "no markers",
			content: "CREATE TABLE a (id INTEGER);",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up, down := ParseContent(tt.content)
			if up != tt.up {
				t.Errorf("up = %q, want %q", up, tt.up)
			}
			if down != tt.down {
				t.Errorf("down = %q, want %q", down, tt.down)
			}
		})
	}
}

func TestHash(t *testing.T) {
	content := "/* BEGIN_UP */\nCREATE TABLE a (id INTEGER);\n/* END_UP */"

	h := Hash(content)
	if !strings.HasPrefix(h, "sha256-") {
		t.Errorf("Hash = %q, want sha256- prefix", h)
	}
	if Hash(content) != h {
		t.Error("Hash is not deterministic")
	}

	reformatted := "/* BEGIN_UP */   CREATE TABLE a (id INTEGER);\n\n\n/* END_UP */"
	if Hash(reformatted) != h {
		t.Error("reformatted content hashes differently")
	}
	if Hash("a b") != Hash("a\nb") || Hash("a b") != Hash("a \t  b") {
		t.Error("whitespace runs are not collapsed")
	}
	if Hash(strings.Replace(content, "INTEGER", "TEXT", 1)) == h {
		t.Error("changed content hashes the same")
	}
}

func TestCreateFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")
	now := time.UnixMilli(1700000000123)

	path, err := CreateFile(dir, "add users_table.v2,final", now)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if want := filepath.Join(dir, "1700000000123_add-users-table-v2-final.sql"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	file, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if file.Timestamp != 1700000000123 || file.Title != "add-users-table-v2-final" {
		t.Errorf("parsed %d %q", file.Timestamp, file.Title)
	}
	if !strings.Contains(file.Content, "/* BEGIN_UP */") || !strings.Contains(file.Content, "/* END_DOWN */") {
		t.Errorf("template markers missing:\n%s", file.Content)
	}

	if _, err := CreateFile(dir, "add users_table.v2,final", now); err == nil {
		t.Error("existing file was overwritten")
	}
	if _, err := CreateFile(dir, "  ", now); err == nil {
		t.Error("expected error for a blank name")
	}
}
