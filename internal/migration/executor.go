package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maloquacious/migrator/internal/logger"
	"github.com/maloquacious/migrator/internal/store"
)

// RunState is the lifecycle of one run.
type RunState string

const (
	StatePending             RunState = "PENDING"
	StateRunning             RunState = "RUNNING"
	StateUpCompleted         RunState = "UP_COMPLETED"
	StateDownCompleted       RunState = "DOWN_COMPLETED"
	StateNoMigrationsApplied RunState = "NO_MIGRATIONS_APPLIED"
	StateFailed              RunState = "FAILED"
)

// SkipEmpty is the reason recorded for queue items without SQL.
const SkipEmpty = "Empty migration file"

// Skip is a queue item that was not executed.
type Skip struct {
	Name   string
	Reason string
}

// Result is the outcome of one run.
type Result struct {
	RunID     string
	Direction Direction
	State     RunState
	Applied   []string
	Skipped   []Skip
	Findings  []Finding // advisory findings from reconciliation
	Err       error     // set when State is FAILED, or to ErrDownNotPossible
}

// Executor applies a queue inside a single transaction and keeps the
// ledger in step with it.
type Executor struct {
	db     store.Store
	ledger *Ledger
	log    logger.Logger
	now    func() time.Time
}

func NewExecutor(db store.Store, ledger *Ledger, log logger.Logger, now func() time.Time) *Executor {
	if log == nil {
		log = logger.Discard{}
	}
	if now == nil {
		now = time.Now
	}
	return &Executor{db: db, ledger: ledger, log: log, now: now}
}

// Apply executes queue in order, creating the ledger table inside the same
// transaction when it is missing. An empty queue writes nothing. Any failure rolls back every statement and
// ledger change of the run and returns an *ExecutionError; the Result then
// has State FAILED and no applied names.
func (e *Executor) Apply(ctx context.Context, run Run, queue []QueueItem) (Result, error) {
	result := Result{RunID: run.ID, Direction: run.Direction, State: StatePending}
	if len(queue) == 0 {
		result.State = StateNoMigrationsApplied
		return result, nil
	}

	result.State = StateRunning
	appliedAt := e.now()

	err := e.db.Transaction(ctx, func(tx store.Tx) error {
		if err := e.ledger.EnsureTable(ctx, tx); err != nil {
			return err
		}
		for _, item := range queue {
			if item.SQL == "" {
				e.log.Debug("run %s: skipping %s: %s", run.ID, item.Name, SkipEmpty)
				result.Skipped = append(result.Skipped, Skip{Name: item.Name, Reason: SkipEmpty})
				continue
			}

			e.log.Debug("run %s: applying %s %s", run.ID, run.Direction.Label(), item.Name)
			if err := tx.Run(ctx, item.SQL); err != nil {
				return &ExecutionError{Filename: item.Name, Query: item.SQL, Err: err}
			}

			var err error
			if run.Direction == Down {
				err = e.ledger.Remove(ctx, tx, item.Name)
			} else {
				err = e.ledger.Add(ctx, tx, recordFor(item.File, appliedAt))
			}
			if err != nil {
				return &ExecutionError{Filename: item.Name, Query: item.SQL, Err: fmt.Errorf("ledger update: %w", err)}
			}

			result.Applied = append(result.Applied, item.Name)
		}
		return nil
	})
	if err != nil {
		var execErr *ExecutionError
		if !errors.As(err, &execErr) {
			err = &ExecutionError{Err: err}
		}
		e.log.Error("run %s: %v", run.ID, err)
		result.State = StateFailed
		result.Applied = nil
		result.Err = err
		return result, err
	}

	switch {
	case len(result.Applied) == 0:
		result.State = StateNoMigrationsApplied
	case run.Direction == Down:
		result.State = StateDownCompleted
	default:
		result.State = StateUpCompleted
	}
	e.log.Info("run %s: %s applied %d, skipped %d", run.ID, run.Direction.Label(), len(result.Applied), len(result.Skipped))

	return result, nil
}
