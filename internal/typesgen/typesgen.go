// Package typesgen writes TypeScript type aliases for the user tables of a
// target database.
package typesgen

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/maloquacious/migrator/internal/store"
)

// Conversion maps database column types to TypeScript types. PostgreSQL
// udt names come first, then SQLite declared types and affinities.
var Conversion = map[string]string{
	"int2":        "number",
	"int4":        "number",
	"int8":        "number",
	"float4":      "number",
	"float8":      "number",
	"numeric":     "number",
	"serial":      "number",
	"serial4":     "number",
	"serial8":     "number",
	"varchar":     "string",
	"uuid":        "string",
	"char":        "string",
	"bpchar":      "string",
	"text":        "string",
	"bool":        "boolean",
	"json":        "object",
	"jsonb":       "object",
	"date":        "Date",
	"time":        "Date",
	"timestamp":   "Date",
	"timestamptz": "Date",
	"timestampz":  "Date",

	"integer":  "number",
	"int":      "number",
	"bigint":   "number",
	"smallint": "number",
	"real":     "number",
	"double":   "number",
	"float":    "number",
	"boolean":  "boolean",
	"datetime": "Date",
	"blob":     "Uint8Array",
}

// TypeFor returns the TypeScript type for a column type, "unknown" when
// the type has no mapping. Length and precision suffixes are ignored.
func TypeFor(dataType string) string {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if ts, ok := Conversion[t]; ok {
		return ts
	}
	switch {
	case strings.HasPrefix(t, "varchar"), strings.HasPrefix(t, "character"):
		return "string"
	case strings.HasPrefix(t, "double"):
		return "number"
	}
	return "unknown"
}

// Render writes one alias per table in column order. Tables listed in
// exclude are skipped.
func Render(w io.Writer, columns []store.Column, exclude ...string) error {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	var tables []string
	byTable := make(map[string][]store.Column)
	for _, c := range columns {
		if skip[c.Table] {
			continue
		}
		if _, ok := byTable[c.Table]; !ok {
			tables = append(tables, c.Table)
		}
		byTable[c.Table] = append(byTable[c.Table], c)
	}

	for i, table := range tables {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}

		var b strings.Builder
		fmt.Fprintf(&b, "export type %s = {\n", table)
		for _, c := range byTable[table] {
			optional := ""
			if c.Nullable {
				optional = "?"
			}
			fmt.Fprintf(&b, "    %s%s: %s;\n", c.Name, optional, TypeFor(c.DataType))
		}
		b.WriteString("}\n")

		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

// Generate introspects db and writes the types file to path, skipping the
// ledger table.
func Generate(ctx context.Context, db store.Store, ledgerTable, path string) error {
	columns, err := db.Columns(ctx)
	if err != nil {
		return fmt.Errorf("typesgen: read columns: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("typesgen: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("typesgen: %w", err)
	}
	if err := Render(f, columns, ledgerTable); err != nil {
		f.Close()
		return fmt.Errorf("typesgen: write %s: %w", path, err)
	}
	return f.Close()
}
