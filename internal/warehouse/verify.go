package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"sparkify/pkg/errors"
)

// Report is a snapshot of the loaded warehouse
type Report struct {
	Dialect string `yaml:"dialect"`
	// RowCounts is keyed by table name
	RowCounts map[string]int64 `yaml:"row_counts"`
	// DuplicateKeys counts primary key values held by more than one row,
	// keyed by dimension table.
	DuplicateKeys map[string]int64 `yaml:"duplicate_keys"`
	MatchedPlays  int64            `yaml:"matched_plays"`
	// HalfMatchedPlays have exactly one of song_id and artist_id set
	HalfMatchedPlays int64 `yaml:"half_matched_plays"`
	// UnresolvedUsers are songplays whose user_id has no users row
	UnresolvedUsers int64 `yaml:"unresolved_users"`
}

// Problems lists the invariant violations found in the report
func (r *Report) Problems() []string {
	var problems []string
	for _, t := range DimensionTables() {
		if n := r.DuplicateKeys[t.Name]; n > 0 {
			problems = append(problems, fmt.Sprintf("%s has %d duplicated %s values", t.Name, n, t.PrimaryKey))
		}
	}
	if r.HalfMatchedPlays > 0 {
		problems = append(problems, fmt.Sprintf("%d songplays carry only one of song_id and artist_id", r.HalfMatchedPlays))
	}
	if r.UnresolvedUsers > 0 {
		problems = append(problems, fmt.Sprintf("%d songplays reference a user missing from users", r.UnresolvedUsers))
	}
	return problems
}

// Verifier inspects a loaded warehouse
type Verifier struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

func NewVerifier(db *sql.DB, d Dialect, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{db: db, dialect: d, log: log}
}

// Verify gathers a Report. Query failures are returned as verification
// errors; invariant violations are left to Report.Problems.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	report := &Report{
		Dialect:       v.dialect.Name(),
		RowCounts:     make(map[string]int64),
		DuplicateKeys: make(map[string]int64),
	}

	for _, t := range Tables() {
		n, err := v.count(ctx, "count_"+t.Name, "SELECT COUNT(*) FROM "+t.Name)
		if err != nil {
			return nil, err
		}
		report.RowCounts[t.Name] = n
	}

	for _, t := range DimensionTables() {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM (
    SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1
) dup`, t.PrimaryKey, t.Name, t.PrimaryKey)
		n, err := v.count(ctx, "duplicates_"+t.Name, query)
		if err != nil {
			return nil, err
		}
		report.DuplicateKeys[t.Name] = n
	}

	var err error
	report.MatchedPlays, err = v.count(ctx, "matched_plays",
		"SELECT COUNT(*) FROM songplays WHERE song_id IS NOT NULL AND artist_id IS NOT NULL")
	if err != nil {
		return nil, err
	}
	report.HalfMatchedPlays, err = v.count(ctx, "half_matched_plays", `SELECT COUNT(*) FROM songplays
WHERE (song_id IS NULL AND artist_id IS NOT NULL)
   OR (song_id IS NOT NULL AND artist_id IS NULL)`)
	if err != nil {
		return nil, err
	}
	report.UnresolvedUsers, err = v.count(ctx, "unresolved_users", `SELECT COUNT(*) FROM songplays sp
WHERE sp.user_id IS NOT NULL
  AND NOT EXISTS (SELECT 1 FROM users u WHERE u.user_id = sp.user_id)`)
	if err != nil {
		return nil, err
	}

	v.log.Info("verification complete", "dialect", report.Dialect,
		"songplays", report.RowCounts[SongPlays.Name], "matched", report.MatchedPlays,
		"problems", len(report.Problems()))
	return report, nil
}

func (v *Verifier) count(ctx context.Context, name, query string) (int64, error) {
	var n int64
	if err := v.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeVerification, "Verification query failed").
			WithContext("check", name).
			WithContext("query", query)
	}
	return n, nil
}
