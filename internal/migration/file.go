package migration

import (
	"crypto/sha256"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Direction selects which region of a migration file is executed.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func (d Direction) Label() string {
	return "[" + strings.ToUpper(string(d)) + "]"
}

// MigrationFile is one parsed migration file. Scan produces a fresh list on
// every invocation.
type MigrationFile struct {
	FullPath  string
	Filename  string
	Timestamp int64 // parsed from the filename prefix, unix milliseconds
	Title     string
	Content   string // raw file content
	UpSQL     string
	DownSQL   string
	Hash      string

	// Applied is set by MarkApplied when a ledger row has the same filename.
	Applied bool
}

// SQL returns the extracted SQL for a direction.
func (f MigrationFile) SQL(d Direction) string {
	if d == Down {
		return f.DownSQL
	}
	return f.UpSQL
}

var (
	upRegion   = regexp.MustCompile(`(?s)/\*\s*BEGIN_UP\s*\*/(.*?)/\*\s*END_UP\s*\*/`)
	downRegion = regexp.MustCompile(`(?s)/\*\s*BEGIN_DOWN\s*\*/(.*?)/\*\s*END_DOWN\s*\*/`)

	// runs of two or more whitespace characters, or any single newline
	hashWhitespace = regexp.MustCompile(`\s{2,}|\n`)

	titleReplacer = regexp.MustCompile(`[_\s.,]`)
)

//go:embed templates/migration.sql
var migrationTemplate string

// Scan reads dir and returns its migration files in ascending timestamp
// order. Files without a .sql extension are ignored. Duplicate timestamps
// are not rejected here; Diff reports them.
func Scan(dir string) ([]MigrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &FileSystemError{Path: dir, Operation: "scan directory", Err: ErrMissingDirectory}
		}
		return nil, &FileSystemError{Path: dir, Operation: "read directory", Err: err}
	}

	var files []MigrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		file, err := ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Timestamp != files[j].Timestamp {
			return files[i].Timestamp < files[j].Timestamp
		}
		return files[i].Filename < files[j].Filename
	})

	return files, nil
}

// ReadFile parses a single migration file.
func ReadFile(path string) (MigrationFile, error) {
	filename := filepath.Base(path)

	ts, title, err := ParseFilename(filename)
	if err != nil {
		return MigrationFile{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return MigrationFile{}, &FileSystemError{Path: path, Operation: "read file", Err: err}
	}
	content := string(data)
	up, down := ParseContent(content)

	return MigrationFile{
		FullPath:  path,
		Filename:  filename,
		Timestamp: ts,
		Title:     title,
		Content:   content,
		UpSQL:     up,
		DownSQL:   down,
		Hash:      Hash(content),
	}, nil
}

// ParseFilename splits <timestamp>_<title>.sql into its parts.
func ParseFilename(filename string) (int64, string, error) {
	base := strings.TrimSuffix(filename, ".sql")

	prefix, title, ok := strings.Cut(base, "_")
	if !ok {
		return 0, "", &InvalidFilenameError{Filename: filename, Reason: "expected <timestamp>_<title>.sql"}
	}

	ts, err := strconv.ParseUint(prefix, 10, 63)
	if err != nil {
		return 0, "", &InvalidFilenameError{Filename: filename, Reason: fmt.Sprintf("timestamp %q is not an integer", prefix)}
	}

	return int64(ts), title, nil
}

// ParseContent extracts the UP and DOWN SQL from a migration file body.
// A missing region yields an empty string.
func ParseContent(content string) (up, down string) {
	if m := upRegion.FindStringSubmatch(content); m != nil {
		up = cleanSQL(m[1])
	}
	if m := downRegion.FindStringSubmatch(content); m != nil {
		down = cleanSQL(m[1])
	}
	return up, down
}

// cleanSQL strips "--" comments, joins the remaining lines with single
// spaces and trims the result.
func cleanSQL(sql string) string {
	var parts []string
	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimSpace(stripComment(line))
		if line == "" {
			continue
		}
		parts = append(parts, line)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// stripComment cuts line at the first "--" that is not inside a quoted
// literal or identifier. Once lines are joined a comment would otherwise
// swallow every statement after it.
func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '-' && i+1 < len(line) && line[i+1] == '-':
			return line[:i]
		}
	}
	return line
}

// Hash returns the content hash recorded in the ledger: sha256 over the
// content with whitespace runs collapsed, base64 encoded, prefixed "sha256-".
func Hash(content string) string {
	sum := sha256.Sum256([]byte(hashWhitespace.ReplaceAllString(content, " ")))
	return "sha256-" + base64.StdEncoding.EncodeToString(sum[:])
}

// CreateFile writes a new migration file from the template into dir and
// returns its path. Underscores, whitespace, dots and commas in name become
// dashes so the title never contains an underscore.
func CreateFile(dir, name string, now time.Time) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("migration name cannot be empty")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &FileSystemError{Path: dir, Operation: "create directory", Err: err}
	}

	filename := fmt.Sprintf("%d_%s.sql", now.UnixMilli(), titleReplacer.ReplaceAllString(name, "-"))
	path := filepath.Join(dir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", &FileSystemError{Path: path, Operation: "create file", Err: err}
	}
	if _, err := f.WriteString(migrationTemplate); err != nil {
		f.Close()
		return "", &FileSystemError{Path: path, Operation: "write file", Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &FileSystemError{Path: path, Operation: "close file", Err: err}
	}

	return path, nil
}
