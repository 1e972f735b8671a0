package migration

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	headline = color.New(color.Bold).SprintFunc()
	success  = color.New(color.FgGreen).SprintFunc()
	warning  = color.New(color.FgYellow).SprintFunc()
	failure  = color.New(color.FgRed, color.Bold).SprintFunc()
	muted    = color.New(color.FgHiBlack).SprintFunc()
)

var findingMessages = map[FindingKind]map[Resource]string{
	DuplicateTimestamp: {
		ResourceFile: "Multiple migration files have the same timestamp. Migration is not possible as this will cause an error!",
	},
	ContentChanged: {
		ResourceFile: "The following migration steps have been applied but the migration file content seems to have changed:",
	},
	MissingFile: {
		ResourceFile: "The following migration steps have been applied but don't exist as a migration file:",
	},
	DuplicateHash: {
		ResourceDB:   "The following applied migration steps contain the same SQL content:",
		ResourceFile: "The following migration files contain the same SQL content:",
	},
}

// kinds in the order they are rendered
var findingOrder = []FindingKind{DuplicateTimestamp, ContentChanged, MissingFile, DuplicateHash}

// Reporter renders summaries, findings and run results. It never touches
// the database.
type Reporter struct {
	w       io.Writer
	details bool
}

// NewReporter returns a Reporter writing to w. With details set, file and
// ledger names are listed in addition to counts.
func NewReporter(w io.Writer, details bool) *Reporter {
	return &Reporter{w: w, details: details}
}

// Summary renders the status view.
func (r *Reporter) Summary(s Summary) {
	fmt.Fprintln(r.w, headline("Migration Status:"))
	fmt.Fprintf(r.w, "  Steps already applied: %d\n", len(s.Ledger))
	if r.details {
		for _, row := range s.Ledger {
			fmt.Fprintf(r.w, "    %s %s\n", row.Filename, muted(row.AppliedAt.Format("2006-01-02 15:04:05")))
		}
	}
	fmt.Fprintf(r.w, "  Files pending: %d\n", len(s.Pending))
	if r.details {
		for _, f := range s.Pending {
			fmt.Fprintf(r.w, "    %s\n", f.Filename)
		}
	}
	r.Findings(s.Findings)
}

// Findings renders findings grouped by kind and resource.
func (r *Reporter) Findings(findings []Finding) {
	for _, kind := range findingOrder {
		for _, res := range []Resource{ResourceFile, ResourceDB} {
			var names []string
			for _, f := range findings {
				if f.Kind == kind && f.Resource == res {
					names = append(names, f.Name)
				}
			}
			if len(names) == 0 {
				continue
			}

			msg := findingMessages[kind][res]
			if kind.IsError() {
				fmt.Fprintln(r.w, failure(msg))
			} else {
				fmt.Fprintln(r.w, warning(msg))
			}
			for _, name := range names {
				fmt.Fprintf(r.w, "  - %s\n", name)
			}
		}
	}
}

// Result renders the outcome of a run.
func (r *Reporter) Result(res Result) {
	r.Findings(warningsOf(res.Findings))

	label := res.Direction.Label()
	switch res.State {
	case StateFailed:
		r.Failure(res.Err)
		return
	case StateNoMigrationsApplied:
		if len(res.Skipped) == 0 {
			fmt.Fprintf(r.w, "No migrations are pending for %s\n", label)
			return
		}
		fmt.Fprintf(r.w, "No migrations were applied for %s\n", label)
	default:
		fmt.Fprintln(r.w, success("Migration completed "+label))
		fmt.Fprintf(r.w, "Applied %d:\n", len(res.Applied))
		for _, name := range res.Applied {
			fmt.Fprintf(r.w, "  - %s\n", name)
		}
	}

	if len(res.Skipped) > 0 {
		fmt.Fprintln(r.w, warning("The following files were skipped:"))
		for _, s := range res.Skipped {
			fmt.Fprintf(r.w, "  - %s (%s)\n", s.Name, s.Reason)
		}
	}
}

// Failure renders an error that stopped a run. For execution failures the
// failing file and query are shown.
func (r *Reporter) Failure(err error) {
	if err == nil {
		return
	}

	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		r.Findings(recErr.Findings)
		fmt.Fprintln(r.w, failure("Migration failed"))
		return
	}

	fmt.Fprintln(r.w, failure("Migration failed"))
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		if execErr.Filename != "" {
			fmt.Fprintf(r.w, "  File:  %s\n", execErr.Filename)
		}
		fmt.Fprintf(r.w, "  Error: %v\n", execErr.Err)
		if execErr.Query != "" {
			fmt.Fprintf(r.w, "  Query: %s\n", execErr.Query)
		}
		fmt.Fprintln(r.w, "No changes were committed.")
		return
	}
	fmt.Fprintf(r.w, "  Error: %v\n", err)
}

// DownNotPossible renders the advisory shown when nothing has been applied.
func (r *Reporter) DownNotPossible() {
	fmt.Fprintln(r.w, warning("Down migration not possible: no migration steps have been applied"))
}

// Reset renders the tables dropped by Engine.Reset.
func (r *Reporter) Reset(tables []string) {
	if len(tables) == 0 {
		fmt.Fprintln(r.w, "No tables exist")
		return
	}
	fmt.Fprintln(r.w, success("Database Reset successful"))
	for _, t := range tables {
		fmt.Fprintf(r.w, "  - dropped %s\n", t)
	}
}

// Created renders the path of a new migration file.
func (r *Reporter) Created(path string) {
	fmt.Fprintf(r.w, "Created migration file %s\n", path)
}

func warningsOf(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if !f.Kind.IsError() {
			out = append(out, f)
		}
	}
	return out
}
