package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maloquacious/migrator/internal/logger"
	"github.com/maloquacious/migrator/internal/store"
)

// Options configures an Engine.
type Options struct {
	Dir    string // migrations directory
	Table  string // ledger table, DefaultTable when empty
	Logger logger.Logger
	Now    func() time.Time
}

// Engine wires the file store, ledger, reconciler and executor together.
// The ledger is read once per run and never cached across runs.
type Engine struct {
	db       store.Store
	dir      string
	ledger   *Ledger
	executor *Executor
	log      logger.Logger
}

// New returns an Engine over an opened store.
func New(db store.Store, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logger.Discard{}
	}
	ledger := NewLedger(db, opts.Table)
	return &Engine{
		db:       db,
		dir:      opts.Dir,
		ledger:   ledger,
		executor: NewExecutor(db, ledger, log, opts.Now),
		log:      log,
	}
}

// Ledger returns the engine's ledger.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Up applies pending migrations in ascending order. steps of 0 applies all.
func (e *Engine) Up(ctx context.Context, steps int) (Result, error) {
	return e.run(ctx, NewRun(Up, steps))
}

// Down reverts applied migrations, newest first. steps of 0 reverts all.
func (e *Engine) Down(ctx context.Context, steps int) (Result, error) {
	return e.run(ctx, NewRun(Down, steps))
}

// Redo runs Down then Up with the same step count. Each half is its own run
// with its own transaction. Up still runs when Down had nothing to revert.
func (e *Engine) Redo(ctx context.Context, steps int) ([]Result, error) {
	down, err := e.Down(ctx, steps)
	results := []Result{down}
	if err != nil && !errors.Is(err, ErrDownNotPossible) {
		return results, err
	}

	up, err := e.Up(ctx, steps)
	results = append(results, up)
	return results, err
}

func (e *Engine) run(ctx context.Context, run Run) (Result, error) {
	result := Result{RunID: run.ID, Direction: run.Direction, State: StatePending}
	e.log.Debug("run %s: starting %s steps=%d", run.ID, run.Direction.Label(), run.Steps)

	// nothing is written until the plan is known to be runnable
	rows, err := e.ledger.Read(ctx)
	if err != nil {
		return e.fail(result, err)
	}
	files, err := Scan(e.dir)
	if err != nil {
		return e.fail(result, err)
	}

	plan, err := Diff(run, files, rows)
	result.Findings = plan.Findings()
	for _, w := range plan.Warnings {
		e.log.Warn("run %s: %s %s (%s)", run.ID, w.Kind, w.Name, w.Resource)
	}
	if err != nil {
		if errors.Is(err, ErrDownNotPossible) {
			result.State = StateNoMigrationsApplied
			result.Err = err
			return result, err
		}
		return e.fail(result, err)
	}

	applied, err := e.executor.Apply(ctx, run, plan.Queue)
	applied.Findings = result.Findings
	return applied, err
}

func (e *Engine) fail(result Result, err error) (Result, error) {
	result.State = StateFailed
	result.Err = err
	e.log.Error("run %s: %v", result.RunID, err)
	return result, err
}

// Summary is the read-only view rendered by the status command.
type Summary struct {
	Ledger   []LedgerRecord
	Files    []MigrationFile // with Applied set
	Pending  []MigrationFile
	Findings []Finding
}

// Status reconciles files against the ledger without writing anything. A
// ledger table that does not exist yet reads as empty.
func (e *Engine) Status(ctx context.Context) (Summary, error) {
	rows, err := e.ledger.Read(ctx)
	if err != nil {
		return Summary{}, err
	}

	files, err := Scan(e.dir)
	if err != nil {
		return Summary{}, err
	}

	plan, err := Diff(NewRun(Up, 0), files, rows)
	var recErr *ReconcileError
	if err != nil && !errors.As(err, &recErr) {
		return Summary{}, err
	}

	return Summary{
		Ledger:   rows,
		Files:    plan.Files,
		Pending:  plan.Pending(),
		Findings: plan.Findings(),
	}, nil
}

// Reset drops every table in the target schema, the ledger included, in one
// transaction. It returns the dropped table names.
func (e *Engine) Reset(ctx context.Context) ([]string, error) {
	tables, err := e.db.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, nil
	}

	d := e.db.Dialect()
	err = e.db.Transaction(ctx, func(tx store.Tx) error {
		if err := tx.Run(ctx, d.DeferConstraints()); err != nil {
			return err
		}
		for _, table := range tables {
			e.log.Debug("dropping table %s", table)
			if err := tx.Run(ctx, d.DropTable(table)); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("dropped %d tables", len(tables))
	return tables, nil
}
