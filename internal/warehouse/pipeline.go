package warehouse

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"sparkify/pkg/errors"
)

// LoadStats summarizes a staging load performed by a Loader
type LoadStats struct {
	Files  int
	Events int64
	Songs  int64
}

// Loader populates the staging tables for engines without a native bulk load
type Loader interface {
	Load(ctx context.Context, tx *sql.Tx, d Dialect, cfg LoadConfig) (LoadStats, error)
}

// Pipeline runs the collections in their fixed order: drop, create, load,
// transform.
type Pipeline struct {
	dialect  Dialect
	exec     *Executor
	loader   Loader
	cfg      LoadConfig
	log      *slog.Logger
	useLocal bool
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithLoader sets the loader used when the dialect has no native bulk load
func WithLoader(l Loader) PipelineOption {
	return func(p *Pipeline) { p.loader = l }
}

// WithLocalLoad forces the loader even when the dialect can bulk load
func WithLocalLoad(local bool) PipelineOption {
	return func(p *Pipeline) { p.useLocal = local }
}

// NewPipeline creates a pipeline for dialect d executing through exec
func NewPipeline(d Dialect, exec *Executor, cfg LoadConfig, log *slog.Logger, opts ...PipelineOption) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{dialect: d, exec: exec, cfg: cfg, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunResult collects the per-phase outcome of a pipeline run
type RunResult struct {
	Statements []StatementResult
	Load       *LoadStats
}

// CreateTables drops and recreates every table
func (p *Pipeline) CreateTables(ctx context.Context) (*RunResult, error) {
	p.log.Info("recreating tables", "dialect", p.dialect.Name())
	result := &RunResult{}
	for _, stmts := range [][]Statement{DropAll(p.dialect), CreateAll(p.dialect)} {
		res, err := p.exec.Run(ctx, stmts)
		result.Statements = append(result.Statements, res...)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// Load empties the staging tables and repopulates them, either through the
// dialect's bulk load or the configured Loader. The enumerated staging
// columns are validated before the load commits. Stage statements run first,
// in a transaction of their own.
func (p *Pipeline) Load(ctx context.Context) (*RunResult, error) {
	copies, err := CopyAll(p.dialect, p.cfg)
	local := p.useLocal || stderrors.Is(err, ErrNoBulkLoad)
	if err != nil && !local {
		return nil, err
	}
	if local && p.loader == nil {
		return nil, errors.New(errors.ErrCodeLoad, fmt.Sprintf("dialect %s needs a local loader", p.dialect.Name()))
	}

	p.log.Info("loading staging tables", "dialect", p.dialect.Name(), "local", local)
	result := &RunResult{}
	stages, copies := splitPhase(copies, PhaseStage)
	if !local && len(stages) > 0 {
		res, err := p.exec.Run(ctx, stages)
		result.Statements = append(result.Statements, res...)
		if err != nil {
			return result, err
		}
	}

	err = p.exec.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := p.exec.ExecAll(ctx, tx, ResetStaging(p.dialect))
		result.Statements = append(result.Statements, res...)
		if err != nil {
			return err
		}

		if local {
			stats, err := p.loader.Load(ctx, tx, p.dialect, p.cfg)
			if err != nil {
				return err
			}
			result.Load = &stats
			p.log.Info("staging loaded", "files", stats.Files, "events", stats.Events, "songs", stats.Songs)
		} else {
			res, err := p.exec.ExecAll(ctx, tx, copies)
			result.Statements = append(result.Statements, res...)
			if err != nil {
				return err
			}
		}

		return validateEnums(ctx, tx)
	})
	return result, err
}

// Transform runs the insert collection
func (p *Pipeline) Transform(ctx context.Context) (*RunResult, error) {
	p.log.Info("transforming staging data", "dialect", p.dialect.Name())
	res, err := p.exec.Run(ctx, InsertAll(p.dialect))
	return &RunResult{Statements: res}, err
}

// ETL loads staging and transforms it, leaving the schema in place
func (p *Pipeline) ETL(ctx context.Context) (*RunResult, error) {
	return p.run(ctx, p.Load, p.Transform)
}

// Run executes every phase in order
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	return p.run(ctx, p.CreateTables, p.Load, p.Transform)
}

func (p *Pipeline) run(ctx context.Context, steps ...func(context.Context) (*RunResult, error)) (*RunResult, error) {
	total := &RunResult{}
	for _, step := range steps {
		res, err := step(ctx)
		if res != nil {
			total.Statements = append(total.Statements, res.Statements...)
			if res.Load != nil {
				total.Load = res.Load
			}
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func validateEnums(ctx context.Context, tx *sql.Tx) error {
	for _, check := range EnumChecks() {
		var violations int64
		if err := tx.QueryRowContext(ctx, check.SQL).Scan(&violations); err != nil {
			return errors.LoadError("validate_"+check.Name, check.SQL, err)
		}
		if violations > 0 {
			return errors.LoadError("validate_"+check.Name, check.SQL,
				fmt.Errorf("%d staged rows carry a value outside the accepted set", violations)).
				WithContext("violations", violations)
		}
	}
	return nil
}
