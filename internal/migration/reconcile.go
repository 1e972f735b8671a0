package migration

import (
	"sort"

	"github.com/google/uuid"
)

// Run is the immutable description of one invocation: which direction and
// how many steps. Steps of 0 means unbounded.
type Run struct {
	ID        string
	Direction Direction
	Steps     int
}

func NewRun(d Direction, steps int) Run {
	if steps < 0 {
		steps = 0
	}
	return Run{ID: uuid.NewString(), Direction: d, Steps: steps}
}

// FindingKind classifies a difference between the files and the ledger.
type FindingKind string

const (
	DuplicateTimestamp FindingKind = "DUPLICATE_TIMESTAMP"
	ContentChanged     FindingKind = "CONTENT_CHANGED"
	MissingFile        FindingKind = "MISSING_FILE"
	DuplicateHash      FindingKind = "DUPLICATE_HASH"
)

// IsError reports whether the kind halts a run. Every other kind is advisory.
func (k FindingKind) IsError() bool {
	return k == DuplicateTimestamp
}

// Resource says where a finding was observed.
type Resource string

const (
	ResourceDB   Resource = "DB"
	ResourceFile Resource = "FILE"
)

// Finding is one drift observation.
type Finding struct {
	Name     string
	Hash     string
	Resource Resource
	Kind     FindingKind
}

// QueueItem is one migration scheduled for execution.
type QueueItem struct {
	Name string
	SQL  string
	File MigrationFile
}

// Plan is the outcome of reconciling files against the ledger.
type Plan struct {
	Run      Run
	Files    []MigrationFile // with Applied set
	Queue    []QueueItem
	Errors   []Finding
	Warnings []Finding
}

// Pending returns the files that have not been applied.
func (p Plan) Pending() []MigrationFile {
	var pending []MigrationFile
	for _, f := range p.Files {
		if !f.Applied {
			pending = append(pending, f)
		}
	}
	return pending
}

// Findings returns errors followed by warnings.
func (p Plan) Findings() []Finding {
	return append(append([]Finding(nil), p.Errors...), p.Warnings...)
}

// MarkApplied returns a copy of files with Applied set for every file that
// has a ledger row with the same filename.
func MarkApplied(files []MigrationFile, rows []LedgerRecord) []MigrationFile {
	applied := make(map[string]bool, len(rows))
	for _, row := range rows {
		applied[row.Filename] = true
	}

	marked := make([]MigrationFile, len(files))
	for i, f := range files {
		f.Applied = applied[f.Filename]
		marked[i] = f
	}
	return marked
}

// Check compares files and ledger rows and returns the error and warning
// findings. It does not look at the run direction.
func Check(files []MigrationFile, rows []LedgerRecord) (errs, warnings []Finding) {
	byTimestamp := make(map[int64][]MigrationFile)
	byHash := make(map[string][]MigrationFile)
	byName := make(map[string]MigrationFile, len(files))
	for _, f := range files {
		byTimestamp[f.Timestamp] = append(byTimestamp[f.Timestamp], f)
		byHash[f.Hash] = append(byHash[f.Hash], f)
		byName[f.Filename] = f
	}

	// files are sorted, so walking them keeps the findings in file order
	seenTimestamp := make(map[int64]bool)
	seenHash := make(map[string]bool)
	for _, f := range files {
		if group := byTimestamp[f.Timestamp]; len(group) > 1 && !seenTimestamp[f.Timestamp] {
			seenTimestamp[f.Timestamp] = true
			for _, g := range group {
				errs = append(errs, Finding{Name: g.Filename, Hash: g.Hash, Resource: ResourceFile, Kind: DuplicateTimestamp})
			}
		}
		if group := byHash[f.Hash]; len(group) > 1 && !seenHash[f.Hash] {
			seenHash[f.Hash] = true
			for _, g := range group {
				warnings = append(warnings, Finding{Name: g.Filename, Hash: g.Hash, Resource: ResourceFile, Kind: DuplicateHash})
			}
		}
	}

	rowsByHash := make(map[string][]LedgerRecord)
	for _, row := range rows {
		rowsByHash[row.Hash] = append(rowsByHash[row.Hash], row)

		// the hash is matched first: content found under another filename
		// is a missing file, renames are never matched implicitly
		file, named := byName[row.Filename]
		switch {
		case named && file.Hash == row.Hash:
		case named && len(byHash[row.Hash]) == 0:
			warnings = append(warnings, Finding{Name: row.Filename, Hash: row.Hash, Resource: ResourceFile, Kind: ContentChanged})
		default:
			warnings = append(warnings, Finding{Name: row.Filename, Hash: row.Hash, Resource: ResourceFile, Kind: MissingFile})
		}
	}

	seenHash = make(map[string]bool)
	for _, row := range rows {
		if group := rowsByHash[row.Hash]; len(group) > 1 && !seenHash[row.Hash] {
			seenHash[row.Hash] = true
			for _, g := range group {
				warnings = append(warnings, Finding{Name: g.Filename, Hash: g.Hash, Resource: ResourceDB, Kind: DuplicateHash})
			}
		}
	}

	return errs, warnings
}

// Diff reconciles files against the ledger rows and builds the execution
// queue for run. A duplicate timestamp returns a *ReconcileError and no
// queue. A down run against an empty ledger returns ErrDownNotPossible.
// An empty queue is not an error.
func Diff(run Run, files []MigrationFile, rows []LedgerRecord) (Plan, error) {
	plan := Plan{Run: run, Files: MarkApplied(files, rows)}
	plan.Errors, plan.Warnings = Check(plan.Files, rows)

	if len(plan.Errors) > 0 {
		return plan, &ReconcileError{Findings: plan.Errors}
	}

	switch run.Direction {
	case Up:
		plan.Queue = upQueue(plan.Files, run.Steps)
	case Down:
		if len(rows) == 0 {
			return plan, ErrDownNotPossible
		}
		plan.Queue = downQueue(plan.Files, run.Steps)
	}

	return plan, nil
}

func upQueue(files []MigrationFile, steps int) []QueueItem {
	var queue []QueueItem
	for _, f := range files {
		if f.Applied {
			continue
		}
		if steps > 0 {
			if f.UpSQL == "" {
				continue
			}
			if len(queue) == steps {
				break
			}
		}
		queue = append(queue, QueueItem{Name: f.Filename, SQL: f.UpSQL, File: f})
	}
	return queue
}

// downQueue returns applied files newest first. With steps, only files
// that have DOWN SQL count toward the bound.
func downQueue(files []MigrationFile, steps int) []QueueItem {
	applied := make([]MigrationFile, 0, len(files))
	for _, f := range files {
		if f.Applied {
			applied = append(applied, f)
		}
	}
	sort.SliceStable(applied, func(i, j int) bool {
		return applied[i].Timestamp > applied[j].Timestamp
	})

	var queue []QueueItem
	for _, f := range applied {
		if steps > 0 {
			if f.DownSQL == "" {
				continue
			}
			if len(queue) == steps {
				break
			}
		}
		queue = append(queue, QueueItem{Name: f.Filename, SQL: f.DownSQL, File: f})
	}
	return queue
}
