package warehouse

import (
	"context"
	"database/sql"
	stderrors "errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkify/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewExecutor(db, discardLogger(), 0), mock
}

func TestExecutorRunsCollectionInOneTransaction(t *testing.T) {
	exec, mock := newMockExecutor(t)
	stmts := InsertAll(Redshift{})

	mock.ExpectBegin()
	for i, s := range stmts {
		mock.ExpectExec(s.SQL).WillReturnResult(sqlmock.NewResult(0, int64(i)))
	}
	mock.ExpectCommit()

	results, err := exec.Run(context.Background(), stmts)
	require.NoError(t, err)
	require.Len(t, results, len(stmts))
	for i, r := range results {
		assert.Equal(t, stmts[i].Name, r.Name)
		assert.Equal(t, PhaseInsert, r.Phase)
		assert.Equal(t, int64(i), r.Rows)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutorStopsAndRollsBackOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		stmts []Statement
		code  errors.ErrorCode
	}{
		{name: "create", stmts: CreateAll(Redshift{}), code: errors.ErrCodeSchema},
		{name: "drop", stmts: DropAll(Redshift{}), code: errors.ErrCodeSchema},
		{name: "reset", stmts: ResetStaging(Redshift{}), code: errors.ErrCodeLoad},
		{name: "insert", stmts: InsertAll(Redshift{}), code: errors.ErrCodeTransform},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, mock := newMockExecutor(t)

			mock.ExpectBegin()
			mock.ExpectExec(tt.stmts[0].SQL).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(tt.stmts[1].SQL).WillReturnError(stderrors.New("relation does not exist"))
			mock.ExpectRollback()

			results, err := exec.Run(context.Background(), tt.stmts)
			require.Error(t, err)
			assert.Len(t, results, 1)
			assert.True(t, errors.IsCode(err, tt.code), "got %s", errors.GetErrorCode(err))

			var appErr *errors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.stmts[1].Name, appErr.Context["statement"])
			assert.Equal(t, string(tt.stmts[1].Phase), appErr.Context["phase"])
			assert.Contains(t, err.Error(), "relation does not exist")

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecutorBeginFailure(t *testing.T) {
	exec, mock := newMockExecutor(t)
	mock.ExpectBegin().WillReturnError(stderrors.New("connection reset"))

	_, err := exec.Run(context.Background(), DropAll(SQLite{}))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConnectionFailed))
}

func TestExecutorCommitFailure(t *testing.T) {
	exec, mock := newMockExecutor(t)
	stmts := ResetStaging(SQLite{})

	mock.ExpectBegin()
	for _, s := range stmts {
		mock.ExpectExec(s.SQL).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit().WillReturnError(stderrors.New("serializable isolation violation"))

	_, err := exec.Run(context.Background(), stmts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to commit transaction")
}

func TestExecutorUnknownRowCount(t *testing.T) {
	exec, mock := newMockExecutor(t)
	stmt := Statement{Name: "drop_users", Phase: PhaseDrop, Table: "users", SQL: "DROP TABLE IF EXISTS users"}

	mock.ExpectBegin()
	mock.ExpectExec(stmt.SQL).WillReturnResult(sqlmock.NewErrorResult(stderrors.New("not supported")))
	mock.ExpectCommit()

	results, err := exec.Run(context.Background(), []Statement{stmt})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), results[0].Rows)
}

func TestPipelineLoadWithBulkCopy(t *testing.T) {
	exec, mock := newMockExecutor(t)
	cfg := LoadConfig{
		LogData:     "s3://b/log_data",
		LogJSONPath: "s3://b/log_json_path.json",
		SongData:    "s3://b/song_data",
		IAMRole:     "arn:aws:iam::1:role/dwh",
	}
	copies, err := CopyAll(Redshift{}, cfg)
	require.NoError(t, err)
	check := EnumChecks()[0]

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM staging_events").WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectExec("DELETE FROM staging_songs").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(copies[0].SQL).WillReturnResult(sqlmock.NewResult(0, 8056))
	mock.ExpectExec(copies[1].SQL).WillReturnResult(sqlmock.NewResult(0, 14896))
	mock.ExpectQuery(check.SQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	p := NewPipeline(Redshift{}, exec, cfg, discardLogger())
	res, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Statements, 4)
	assert.Equal(t, "copy_staging_songs", res.Statements[3].Name)
	assert.Nil(t, res.Load)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipelineLoadRejectsUnknownLevel(t *testing.T) {
	exec, mock := newMockExecutor(t)
	cfg := LoadConfig{LogData: "s3://b/l", SongData: "s3://b/s", StorageIntegration: "s3_int"}
	stmts, err := CopyAll(Snowflake{}, cfg)
	require.NoError(t, err)
	stages, copies := stmts[:2], stmts[2:]

	// stages are DDL and commit on their own, ahead of the load
	mock.ExpectBegin()
	for _, s := range stages {
		mock.ExpectExec(s.SQL).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM staging_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM staging_songs").WillReturnResult(sqlmock.NewResult(0, 0))
	for _, c := range copies {
		mock.ExpectExec(c.SQL).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectQuery(EnumChecks()[0].SQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	p := NewPipeline(Snowflake{}, exec, cfg, discardLogger())
	_, err = p.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeLoad))

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, int64(3), appErr.Context["violations"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipelineLoadWithoutLoader(t *testing.T) {
	exec, _ := newMockExecutor(t)
	p := NewPipeline(SQLite{}, exec, LoadConfig{}, discardLogger())

	_, err := p.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeLoad))
}

type failingLoader struct{ err error }

func (l failingLoader) Load(context.Context, *sql.Tx, Dialect, LoadConfig) (LoadStats, error) {
	return LoadStats{}, l.err
}

func TestPipelineLocalLoadFailureRollsBack(t *testing.T) {
	exec, mock := newMockExecutor(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM staging_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM staging_songs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	loadErr := errors.LoadError("load_staging_events", "", stderrors.New("unexpected EOF"))
	p := NewPipeline(Redshift{}, exec, LoadConfig{}, discardLogger(),
		WithLoader(failingLoader{err: loadErr}), WithLocalLoad(true))

	_, err := p.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeLoad))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipelineLoadStageFailureSkipsLoad(t *testing.T) {
	exec, mock := newMockExecutor(t)
	cfg := LoadConfig{LogData: "s3://b/l", SongData: "s3://b/s", StorageIntegration: "s3_int"}
	stmts, err := CopyAll(Snowflake{}, cfg)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(stmts[0].SQL).WillReturnError(stderrors.New("Integration 'S3_INT' does not exist"))
	mock.ExpectRollback()

	p := NewPipeline(Snowflake{}, exec, cfg, discardLogger())
	_, err = p.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeLoad))

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "stage", appErr.Context["phase"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
