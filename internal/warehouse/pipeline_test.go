package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkify/pkg/errors"
)

// fixtureLoader inserts in-memory rows, keyed by column name, into the
// staging tables.
type fixtureLoader struct {
	events []map[string]any
	songs  []map[string]any
}

func (l *fixtureLoader) Load(ctx context.Context, tx *sql.Tx, d Dialect, _ LoadConfig) (LoadStats, error) {
	if err := insertRows(ctx, tx, d, StagingEvents, l.events); err != nil {
		return LoadStats{}, err
	}
	if err := insertRows(ctx, tx, d, StagingSongs, l.songs); err != nil {
		return LoadStats{}, err
	}
	return LoadStats{Files: 1, Events: int64(len(l.events)), Songs: int64(len(l.songs))}, nil
}

func insertRows(ctx context.Context, tx *sql.Tx, d Dialect, t Table, rows []map[string]any) error {
	cols := t.ColumnNames()
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = d.Placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(cols, ", "), strings.Join(marks, ", "))
	for _, row := range rows {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = row[c]
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func nextSong(userID string, session, item int, ts int64, song, artist string, length float64, level string) map[string]any {
	return map[string]any{
		"artist":          artist,
		"auth":            "Logged In",
		"first_name":      "Kaylee",
		"gender":          "F",
		"item_in_session": item,
		"last_name":       "Summers",
		"length":          length,
		"level":           level,
		"location":        "Phoenix-Mesa-Scottsdale, AZ",
		"method":          "PUT",
		"page":            "NextSong",
		"registration":    1540344794796.0,
		"session_id":      session,
		"song":            song,
		"status":          200,
		"ts":              ts,
		"user_agent":      "Mozilla/5.0",
		"user_id":         userID,
	}
}

func song(id, title, artistID, artistName string, duration float64) map[string]any {
	return map[string]any{
		"num_songs":   1,
		"artist_id":   artistID,
		"artist_name": artistName,
		"song_id":     id,
		"title":       title,
		"duration":    duration,
		"year":        2004,
	}
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, d, err := Open(context.Background(), ConnConfig{Dialect: "sqlite", DSN: ":memory:"}, discardLogger())
	require.NoError(t, err)
	require.Equal(t, "sqlite", d.Name())
	t.Cleanup(func() { db.Close() })
	return db
}

func runPipeline(t *testing.T, db *sql.DB, loader *fixtureLoader) *RunResult {
	t.Helper()
	p := NewPipeline(SQLite{}, NewExecutor(db, discardLogger(), time.Minute), LoadConfig{}, discardLogger(), WithLoader(loader))
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	return res
}

const scenarioTS = int64(1541077860000)

func TestRunMatchesSongWithinTolerance(t *testing.T) {
	db := openSQLite(t)
	loader := &fixtureLoader{
		events: []map[string]any{nextSong("17", 5, 0, scenarioTS, "Song", "Artist", 201.0, "free")},
		songs:  []map[string]any{song("SOXYZ", "Song", "ARXYZ", "Artist", 200.0)},
	}
	res := runPipeline(t, db, loader)
	require.NotNil(t, res.Load)
	assert.Equal(t, int64(1), res.Load.Events)

	var startTime string
	var songID, artistID sql.NullString
	var userID sql.NullInt64
	require.NoError(t, db.QueryRow("SELECT start_time, user_id, song_id, artist_id FROM songplays").
		Scan(&startTime, &userID, &songID, &artistID))

	assert.Equal(t, "2018-11-01 13:11:00", startTime)
	assert.Equal(t, time.UnixMilli(scenarioTS).UTC().Format(time.DateTime), startTime)
	assert.Equal(t, int64(17), userID.Int64)
	assert.Equal(t, "SOXYZ", songID.String)
	assert.Equal(t, "ARXYZ", artistID.String)
}

func TestRunLeavesDistantDurationUnmatched(t *testing.T) {
	db := openSQLite(t)
	loader := &fixtureLoader{
		events: []map[string]any{
			nextSong("17", 5, 0, scenarioTS, "Song", "Artist", 210.0, "free"),
			// case differs from the staged artist name
			nextSong("17", 5, 1, scenarioTS+1000, "Song", "artist", 200.0, "free"),
		},
		songs: []map[string]any{song("SOXYZ", "Song", "ARXYZ", "Artist", 200.0)},
	}
	runPipeline(t, db, loader)

	var plays, unmatched int
	require.NoError(t, db.QueryRow("SELECT COUNT(*), SUM(CASE WHEN song_id IS NULL AND artist_id IS NULL THEN 1 ELSE 0 END) FROM songplays").
		Scan(&plays, &unmatched))
	assert.Equal(t, 2, plays)
	assert.Equal(t, 2, unmatched)
}

func TestRunTieBreak(t *testing.T) {
	db := openSQLite(t)
	loader := &fixtureLoader{
		events: []map[string]any{
			nextSong("3", 1, 0, scenarioTS, "Twin", "Band", 200.0, "paid"),
			nextSong("3", 1, 1, scenarioTS+60000, "Even", "Band", 200.0, "paid"),
		},
		songs: []map[string]any{
			song("SOA", "Twin", "AR1", "Band", 201.5),
			song("SOB", "Twin", "AR1", "Band", 200.5),
			song("SOD", "Even", "AR1", "Band", 201.0),
			song("SOC", "Even", "AR1", "Band", 199.0),
		},
	}
	runPipeline(t, db, loader)

	rows, err := db.Query("SELECT song_id FROM songplays ORDER BY start_time")
	require.NoError(t, err)
	defer rows.Close()
	var got []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		got = append(got, id)
	}
	require.NoError(t, rows.Err())

	// closest duration wins, then the lowest song_id
	assert.Equal(t, []string{"SOB", "SOC"}, got)
}

func TestRunKeepsLatestUserLevel(t *testing.T) {
	db := openSQLite(t)
	loader := &fixtureLoader{
		events: []map[string]any{
			nextSong("17", 5, 0, scenarioTS, "A", "B", 100, "free"),
			nextSong("17", 6, 0, scenarioTS+3600000, "A", "B", 100, "paid"),
			{"page": "Home", "ts": scenarioTS, "user_id": "", "level": "free"},
		},
	}
	runPipeline(t, db, loader)

	var count int
	var level string
	require.NoError(t, db.QueryRow("SELECT COUNT(*), MAX(level) FROM users WHERE user_id = 17").Scan(&count, &level))
	assert.Equal(t, 1, count)
	assert.Equal(t, "paid", level)

	var users int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users").Scan(&users))
	assert.Equal(t, 1, users, "events without a user id must not produce users")
}

func TestETLRefreshesUserAcrossRuns(t *testing.T) {
	db := openSQLite(t)
	runPipeline(t, db, &fixtureLoader{
		events: []map[string]any{nextSong("17", 5, 0, scenarioTS, "A", "B", 100, "free")},
	})

	upgrade := nextSong("17", 6, 0, scenarioTS+86400000, "A", "B", 100, "paid")
	upgrade["last_name"] = "Jones"
	p := NewPipeline(SQLite{}, NewExecutor(db, discardLogger(), 0), LoadConfig{}, discardLogger(),
		WithLoader(&fixtureLoader{events: []map[string]any{upgrade}}))
	_, err := p.ETL(context.Background())
	require.NoError(t, err)

	var count int
	var level, lastName string
	require.NoError(t, db.QueryRow("SELECT COUNT(*), MAX(level), MAX(last_name) FROM users WHERE user_id = 17").
		Scan(&count, &level, &lastName))
	assert.Equal(t, 1, count)
	assert.Equal(t, "paid", level)
	assert.Equal(t, "Jones", lastName)

	var plays int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM songplays WHERE user_id = 17").Scan(&plays))
	assert.Equal(t, 2, plays, "plays from the first run survive the user refresh")
}

func TestRunRanksEventsWithoutTimestampLast(t *testing.T) {
	db := openSQLite(t)
	undated := nextSong("17", 6, 3, 0, "A", "B", 100, "paid")
	undated["ts"] = nil
	runPipeline(t, db, &fixtureLoader{
		events: []map[string]any{
			nextSong("17", 5, 0, scenarioTS, "A", "B", 100, "free"),
			undated,
		},
	})

	var level string
	require.NoError(t, db.QueryRow("SELECT level FROM users WHERE user_id = 17").Scan(&level))
	assert.Equal(t, "free", level)
}

func TestRunSkipsPlaysWithoutTimestamp(t *testing.T) {
	db := openSQLite(t)
	undated := nextSong("8", 2, 0, 0, "A", "B", 100, "free")
	undated["ts"] = nil
	runPipeline(t, db, &fixtureLoader{
		events: []map[string]any{
			nextSong("8", 1, 0, scenarioTS, "A", "B", 100, "free"),
			undated,
		},
	})

	var plays, times int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM songplays").Scan(&plays))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM time").Scan(&times))
	assert.Equal(t, 1, plays)
	assert.Equal(t, 1, times)
}

func TestRunDerivesTimeParts(t *testing.T) {
	db := openSQLite(t)
	start := time.Date(2018, time.November, 1, 0, 0, 6, 0, time.UTC)
	loader := &fixtureLoader{
		events: []map[string]any{
			nextSong("8", 1, 0, millis(start)+999, "A", "B", 100, "free"),
			// logins do not contribute to the time dimension
			{"page": "Login", "ts": millis(start.Add(time.Hour)), "user_id": "8", "level": "free"},
		},
	}
	runPipeline(t, db, loader)

	var (
		startTime                                string
		hour, day, week, month, year, weekday int
	)
	require.NoError(t, db.QueryRow("SELECT start_time, hour, day, week, month, year, weekday FROM time").
		Scan(&startTime, &hour, &day, &week, &month, &year, &weekday))

	_, isoWeek := start.ISOWeek()
	assert.Equal(t, "2018-11-01 00:00:06", startTime, "milliseconds are truncated")
	assert.Equal(t, 0, hour)
	assert.Equal(t, 1, day)
	assert.Equal(t, isoWeek, week)
	assert.Equal(t, 44, week)
	assert.Equal(t, 11, month)
	assert.Equal(t, 2018, year)
	assert.Equal(t, int(time.Thursday), weekday)

	var rows int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM time").Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestTransformIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	loader := &fixtureLoader{
		events: []map[string]any{
			nextSong("17", 5, 0, scenarioTS, "Song", "Artist", 201.0, "free"),
			nextSong("17", 5, 1, scenarioTS+200000, "Song", "Artist", 199.5, "paid"),
			nextSong("", 9, 0, scenarioTS+400000, "Other", "Nobody", 120.0, "free"),
		},
		songs: []map[string]any{
			song("SOXYZ", "Song", "ARXYZ", "Artist", 200.0),
			song("SOXYZ", "Song", "ARXYZ", "Artist", 200.0),
		},
	}
	runPipeline(t, db, loader)

	exec := NewExecutor(db, discardLogger(), 0)
	p := NewPipeline(SQLite{}, exec, LoadConfig{}, discardLogger(), WithLoader(loader))
	for i := 0; i < 2; i++ {
		_, err := p.ETL(context.Background())
		require.NoError(t, err)
	}

	report, err := NewVerifier(db, SQLite{}, discardLogger()).Verify(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Problems())
	assert.Equal(t, int64(3), report.RowCounts["songplays"])
	assert.Equal(t, int64(1), report.RowCounts["users"])
	assert.Equal(t, int64(1), report.RowCounts["songs"])
	assert.Equal(t, int64(1), report.RowCounts["artists"])
	assert.Equal(t, int64(3), report.RowCounts["time"])
	assert.Equal(t, int64(2), report.MatchedPlays)
	for _, table := range DimensionTables() {
		assert.Zero(t, report.DuplicateKeys[table.Name], table.Name)
	}
}

func TestLoadRejectsUnknownLevelOnSQLite(t *testing.T) {
	db := openSQLite(t)
	exec := NewExecutor(db, discardLogger(), 0)
	_, err := exec.Run(context.Background(), CreateAll(SQLite{}))
	require.NoError(t, err)

	loader := &fixtureLoader{events: []map[string]any{
		nextSong("1", 1, 0, scenarioTS, "A", "B", 1, "premium"),
	}}
	p := NewPipeline(SQLite{}, exec, LoadConfig{}, discardLogger(), WithLoader(loader))
	_, err = p.Load(context.Background())
	require.Error(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM staging_events").Scan(&n))
	assert.Zero(t, n, "a failed load must leave nothing behind")
}

func TestTransformFailureIsTransformError(t *testing.T) {
	db := openSQLite(t)
	p := NewPipeline(SQLite{}, NewExecutor(db, discardLogger(), 0), LoadConfig{}, discardLogger())

	// no tables exist yet
	_, err := p.Transform(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTransform))
}
