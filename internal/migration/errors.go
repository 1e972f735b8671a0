package migration

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidFilename indicates a .sql file whose name does not start with <integer>_
	ErrInvalidFilename = errors.New("invalid migration filename")

	// ErrMissingDirectory indicates the migrations directory does not exist
	ErrMissingDirectory = errors.New("migrations directory not found")

	// ErrDuplicateTimestamp indicates that several files share a timestamp
	ErrDuplicateTimestamp = errors.New("multiple migration files have the same timestamp")

	// ErrDownNotPossible indicates a down run against an empty ledger
	ErrDownNotPossible = errors.New("down not possible: no migrations have been applied")

	// ErrMigrationFailed indicates that executing the queue failed and was rolled back
	ErrMigrationFailed = errors.New("migration execution failed")
)

// InvalidFilenameError reports a migration file whose name cannot be parsed.
type InvalidFilenameError struct {
	Filename string
	Reason   string
}

func (e *InvalidFilenameError) Error() string {
	return fmt.Sprintf("invalid migration filename %q: %s", e.Filename, e.Reason)
}

func (e *InvalidFilenameError) Is(target error) bool {
	return target == ErrInvalidFilename
}

// FileSystemError wraps file system errors raised while reading migrations.
type FileSystemError struct {
	Path      string // File or directory path
	Operation string // File operation (read, scan, etc.)
	Err       error  // Underlying error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// ReconcileError aborts a run before any database write. It carries the
// error-level findings that caused it.
type ReconcileError struct {
	Findings []Finding
}

func (e *ReconcileError) Error() string {
	names := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		names = append(names, f.Name)
	}
	return fmt.Sprintf("%v: %s", ErrDuplicateTimestamp, strings.Join(names, ", "))
}

func (e *ReconcileError) Unwrap() error {
	return ErrDuplicateTimestamp
}

// ExecutionError reports the migration whose SQL failed. The whole
// transaction was rolled back when this error is returned.
type ExecutionError struct {
	Filename string // Migration file that failed
	Query    string // SQL that was executing
	Err      error  // Database error
}

func (e *ExecutionError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("%v: %v", ErrMigrationFailed, e.Err)
	}
	return fmt.Sprintf("migration %s failed: %v", e.Filename, e.Err)
}

// Unwrap exposes both ErrMigrationFailed and the database error.
func (e *ExecutionError) Unwrap() []error {
	return []error{ErrMigrationFailed, e.Err}
}
