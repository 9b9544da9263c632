package warehouse

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"sparkify/pkg/errors"
)

// StatementResult records the outcome of one executed statement
type StatementResult struct {
	Name     string
	Phase    Phase
	Table    string
	Rows     int64 // -1 when the driver does not report affected rows
	Duration time.Duration
}

// Executor runs statement collections against a warehouse connection. Each
// collection runs inside one transaction, strictly in order.
type Executor struct {
	db      *sql.DB
	log     *slog.Logger
	timeout time.Duration
}

// NewExecutor creates an executor. A zero timeout leaves collections bounded
// only by the caller's context.
func NewExecutor(db *sql.DB, log *slog.Logger, timeout time.Duration) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{db: db, log: log, timeout: timeout}
}

// Run executes stmts as one unit
func (e *Executor) Run(ctx context.Context, stmts []Statement) ([]StatementResult, error) {
	var results []StatementResult
	err := e.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		results, err = e.ExecAll(ctx, tx, stmts)
		return err
	})
	return results, err
}

// Transaction runs fn inside a transaction, committing when it returns nil
func (e *Executor) Transaction(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.ConnectionError("Failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to commit transaction")
	}
	return nil
}

// ExecAll executes stmts in order within tx, stopping at the first failure
func (e *Executor) ExecAll(ctx context.Context, tx *sql.Tx, stmts []Statement) ([]StatementResult, error) {
	results := make([]StatementResult, 0, len(stmts))
	for _, stmt := range stmts {
		start := time.Now()
		res, err := tx.ExecContext(ctx, stmt.SQL)
		if err != nil {
			e.log.Error("statement failed", "phase", stmt.Phase, "statement", stmt.Name, "error", err)
			return results, statementError(stmt, err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			rows = -1
		}
		result := StatementResult{
			Name:     stmt.Name,
			Phase:    stmt.Phase,
			Table:    stmt.Table,
			Rows:     rows,
			Duration: time.Since(start),
		}
		results = append(results, result)
		e.log.Info("statement executed", "phase", stmt.Phase, "statement", stmt.Name, "rows", rows, "duration", result.Duration)
	}
	return results, nil
}

// statementError maps a failure onto the error taxonomy by phase
func statementError(stmt Statement, err error) error {
	switch stmt.Phase {
	case PhaseDrop, PhaseCreate:
		return errors.SchemaError(stmt.Name, stmt.SQL, err).WithContext("phase", string(stmt.Phase))
	case PhaseStage, PhaseReset, PhaseCopy:
		return errors.LoadError(stmt.Name, stmt.SQL, err).WithContext("phase", string(stmt.Phase))
	default:
		return errors.TransformError(stmt.Name, stmt.SQL, err).WithContext("phase", string(stmt.Phase))
	}
}
