package staging

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"sparkify/internal/warehouse"
	"sparkify/pkg/errors"
)

// Progress observes a load file by file
type Progress interface {
	Start(table string, files int)
	Advance(files int)
	Finish()
}

type noProgress struct{}

func (noProgress) Start(string, int) {}
func (noProgress) Advance(int)       {}
func (noProgress) Finish()           {}

// Loader copies source JSON into the staging tables inside the caller's
// transaction. Event records are projected through a JSONPaths document,
// song records by matching keys to column names.
type Loader struct {
	s3       S3Options
	log      *slog.Logger
	progress Progress
	open     func(ctx context.Context, location string) (Source, error)
	fetch    func(ctx context.Context, location string) ([]byte, error)
}

// Option configures a Loader
type Option func(*Loader)

// WithProgress reports per-file progress to p
func WithProgress(p Progress) Option {
	return func(l *Loader) {
		if p != nil {
			l.progress = p
		}
	}
}

// WithSourceOpener replaces how locations are resolved to sources
func WithSourceOpener(open func(ctx context.Context, location string) (Source, error)) Option {
	return func(l *Loader) { l.open = open }
}

// WithFetcher replaces how the JSONPaths document is read
func WithFetcher(fetch func(ctx context.Context, location string) ([]byte, error)) Option {
	return func(l *Loader) { l.fetch = fetch }
}

func NewLoader(s3opts S3Options, log *slog.Logger, opts ...Option) *Loader {
	if log == nil {
		log = slog.Default()
	}
	l := &Loader{s3: s3opts, log: log, progress: noProgress{}}
	l.open = func(ctx context.Context, location string) (Source, error) {
		return OpenSource(ctx, location, l.s3)
	}
	l.fetch = func(ctx context.Context, location string) ([]byte, error) {
		return Fetch(ctx, location, l.s3)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// target is one staging table with the gjson path feeding each column
type target struct {
	table   warehouse.Table
	columns []warehouse.Column
	paths   []string
}

// Load implements warehouse.Loader
func (l *Loader) Load(ctx context.Context, tx *sql.Tx, d warehouse.Dialect, cfg warehouse.LoadConfig) (warehouse.LoadStats, error) {
	var stats warehouse.LoadStats
	if cfg.LogData == "" || cfg.SongData == "" {
		return stats, errors.ConfigError("local load requires LOG_DATA and SONG_DATA", "S3")
	}

	events, err := l.eventTarget(ctx, cfg.LogJSONPath)
	if err != nil {
		return stats, err
	}

	n, files, err := l.loadTable(ctx, tx, d, cfg.LogData, events)
	stats.Events, stats.Files = n, stats.Files+files
	if err != nil {
		return stats, err
	}

	n, files, err = l.loadTable(ctx, tx, d, cfg.SongData, songTarget())
	stats.Songs, stats.Files = n, stats.Files+files
	return stats, err
}

func (l *Loader) eventTarget(ctx context.Context, jsonPathLocation string) (target, error) {
	t := target{table: warehouse.StagingEvents, columns: warehouse.StagingEvents.Columns}

	exprs := warehouse.EventJSONPaths()
	if jsonPathLocation != "" && jsonPathLocation != "auto" {
		data, err := l.fetch(ctx, jsonPathLocation)
		if err != nil {
			return t, err
		}
		paths, err := ParseJSONPaths(data)
		if err != nil {
			return t, err
		}
		if len(paths) != len(t.columns) {
			return t, errors.New(errors.ErrCodeMalformedRecord,
				fmt.Sprintf("JSONPaths document has %d entries, %s has %d columns", len(paths), t.table.Name, len(t.columns))).
				WithContext("location", jsonPathLocation)
		}
		t.paths = paths
		return t, nil
	}

	paths, err := ConvertJSONPaths(exprs)
	t.paths = paths
	return t, err
}

func songTarget() target {
	t := target{table: warehouse.StagingSongs, columns: warehouse.StagingSongs.Columns}
	for _, c := range t.columns {
		t.paths = append(t.paths, escapeKey(c.Name))
	}
	return t
}

func (l *Loader) loadTable(ctx context.Context, tx *sql.Tx, d warehouse.Dialect, location string, t target) (int64, int, error) {
	src, err := l.open(ctx, location)
	if err != nil {
		return 0, 0, err
	}
	objects, err := src.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(objects) == 0 {
		return 0, 0, errors.New(errors.ErrCodeSourceNotFound, "No JSON files found").
			WithContext("location", location).
			WithContext("table", t.table.Name)
	}

	names := make([]string, len(t.columns))
	marks := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
		marks[i] = d.Placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.table.Name, strings.Join(names, ", "), strings.Join(marks, ", "))
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, 0, errors.LoadError("load_"+t.table.Name, query, err)
	}
	defer stmt.Close()

	l.log.Info("loading staging table", "table", t.table.Name, "location", src.Location(), "files", len(objects))
	l.progress.Start(t.table.Name, len(objects))
	defer l.progress.Finish()

	var rows int64
	for i, obj := range objects {
		n, err := l.loadObject(ctx, src, obj, stmt, t)
		rows += n
		if err != nil {
			return rows, i, err
		}
		l.progress.Advance(1)
		l.log.Debug("loaded file", "table", t.table.Name, "key", obj.Key, "rows", n)
	}
	return rows, len(objects), nil
}

func (l *Loader) loadObject(ctx context.Context, src Source, obj Object, stmt *sql.Stmt, t target) (int64, error) {
	rc, err := src.Open(ctx, obj.Key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	var rows int64
	err = eachRecord(rc, func(record []byte) error {
		args, err := project(record, t)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.LoadError("load_"+t.table.Name, "", err)
		}
		rows++
		return nil
	})
	if err != nil {
		return rows, errors.Wrap(err, errors.GetErrorCode(err), "Failed to load file").
			WithContext("key", obj.Key).
			WithContext("record", rows+1)
	}
	return rows, nil
}

// eachRecord calls fn for every top-level JSON object in r. Objects may be
// newline-delimited or simply concatenated.
func eachRecord(r io.Reader, fn func(record []byte) error) error {
	dec := json.NewDecoder(r)
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeMalformedRecord, "Malformed JSON")
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			return errors.New(errors.ErrCodeMalformedRecord, "Record is not a JSON object")
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
}

// project extracts the column values of one record
func project(record []byte, t target) ([]any, error) {
	results := gjson.GetManyBytes(record, t.paths...)
	args := make([]any, len(t.columns))
	for i, c := range t.columns {
		v, err := convert(results[i], c)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMalformedRecord, "Value does not fit column").
				WithContext("column", t.table.Name+"."+c.Name)
		}
		args[i] = v
	}
	return args, nil
}

// convert maps a JSON value onto the column type. Missing values, null and
// empty strings load as NULL.
func convert(r gjson.Result, c warehouse.Column) (any, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return nil, nil
	}
	if r.Type == gjson.String && r.Str == "" {
		return nil, nil
	}

	switch c.Type {
	case warehouse.TypeSmallInt, warehouse.TypeInteger, warehouse.TypeBigInt:
		return toInt(r)
	case warehouse.TypeDouble:
		switch r.Type {
		case gjson.Number:
			return r.Num, nil
		case gjson.String:
			f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", r.Str)
			}
			return f, nil
		}
		return nil, fmt.Errorf("%s is not a number", r.Type)
	default:
		if r.Type == gjson.String {
			return r.Str, nil
		}
		// numbers, booleans and nested values keep their JSON text
		return r.Raw, nil
	}
}

func toInt(r gjson.Result) (any, error) {
	text := r.Raw
	switch r.Type {
	case gjson.String:
		text = strings.TrimSpace(r.Str)
	case gjson.Number:
	default:
		return nil, fmt.Errorf("%s is not an integer", r.Type)
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return nil, fmt.Errorf("%s is not an integer", text)
	}
	return int64(f), nil
}
