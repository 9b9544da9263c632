package warehouse

import (
	"fmt"
	"strings"
)

// Phase identifies which statement collection a statement belongs to
type Phase string

const (
	PhaseDrop   Phase = "drop"
	PhaseCreate Phase = "create"
	// PhaseStage prepares external sources for the bulk load. It runs in its
	// own transaction ahead of the load since engines such as Snowflake
	// commit implicitly on the DDL it contains.
	PhaseStage Phase = "stage"
	PhaseReset  Phase = "reset"
	PhaseCopy   Phase = "copy"
	PhaseInsert Phase = "insert"
)

// Phases lists every phase in execution order
func Phases() []Phase {
	return []Phase{PhaseDrop, PhaseCreate, PhaseStage, PhaseReset, PhaseCopy, PhaseInsert}
}

// Statement is one SQL statement of a collection
type Statement struct {
	Name  string `yaml:"name"`
	Phase Phase  `yaml:"phase"`
	Table string `yaml:"table"`
	SQL   string `yaml:"sql"`
}

// LoadConfig locates the staged source data. It is passed explicitly into the
// load step.
type LoadConfig struct {
	LogData     string // event logs, JSON lines
	LogJSONPath string // JSONPaths document mapping log keys to columns
	SongData    string // song metadata, JSON
	IAMRole     string // role ARN the warehouse assumes to read storage
	Region      string // storage region, empty for the warehouse default

	// StorageIntegration names a Snowflake storage integration used instead
	// of IAMRole when set.
	StorageIntegration string
}

// DropAll returns the drop statements for every table
func DropAll(d Dialect) []Statement {
	tables := Tables()
	stmts := make([]Statement, 0, len(tables))
	for _, t := range tables {
		stmts = append(stmts, Statement{
			Name:  "drop_" + t.Name,
			Phase: PhaseDrop,
			Table: t.Name,
			SQL:   d.DropTable(t),
		})
	}
	return stmts
}

// CreateAll returns the create statements for every table
func CreateAll(d Dialect) []Statement {
	tables := Tables()
	stmts := make([]Statement, 0, len(tables))
	for _, t := range tables {
		stmts = append(stmts, Statement{
			Name:  "create_" + t.Name,
			Phase: PhaseCreate,
			Table: t.Name,
			SQL:   d.CreateTable(t),
		})
	}
	return stmts
}

// ResetStaging empties both staging tables. DELETE is used over TRUNCATE
// because TRUNCATE commits implicitly on Redshift.
func ResetStaging(d Dialect) []Statement {
	return []Statement{
		{Name: "reset_" + StagingEvents.Name, Phase: PhaseReset, Table: StagingEvents.Name, SQL: "DELETE FROM " + StagingEvents.Name},
		{Name: "reset_" + StagingSongs.Name, Phase: PhaseReset, Table: StagingSongs.Name, SQL: "DELETE FROM " + StagingSongs.Name},
	}
}

// CopyAll returns the bulk-load statements populating the staging tables
func CopyAll(d Dialect, cfg LoadConfig) ([]Statement, error) {
	return d.Copy(cfg)
}

// splitPhase separates the statements of phase from the rest, keeping order
func splitPhase(stmts []Statement, phase Phase) (matched, rest []Statement) {
	for _, s := range stmts {
		if s.Phase == phase {
			matched = append(matched, s)
		} else {
			rest = append(rest, s)
		}
	}
	return matched, rest
}

// InsertAll returns the transform collection: dimensions first, then the
// fact table. Every statement is safe to re-run against the same staging
// data.
func InsertAll(d Dialect) []Statement {
	x := d.expressions()
	return []Statement{
		{Name: "retire_users", Phase: PhaseInsert, Table: Users.Name, SQL: retireUsersSQL},
		{Name: "insert_users", Phase: PhaseInsert, Table: Users.Name, SQL: insertIfAbsent(Users, latestUsersSQL, "d.user_id = src.user_id")},
		{Name: "insert_songs", Phase: PhaseInsert, Table: Songs.Name, SQL: insertIfAbsent(Songs, songsSQL, "d.song_id = src.song_id")},
		{Name: "insert_artists", Phase: PhaseInsert, Table: Artists.Name, SQL: insertIfAbsent(Artists, artistsSQL, "d.artist_id = src.artist_id")},
		{Name: "insert_time", Phase: PhaseInsert, Table: Time.Name, SQL: insertIfAbsent(Time, timeSQL(x), "d.start_time = src.start_time")},
		{Name: "insert_songplays", Phase: PhaseInsert, Table: SongPlays.Name, SQL: insertIfAbsent(SongPlays, songPlaysSQL(x), songPlayIdentity)},
	}
}

// Check is a query returning the number of rows violating a rule
type Check struct {
	Name  string
	Table string
	SQL   string
}

// EnumChecks returns one check per enumerated staging column. Engines that do
// not enforce CHECK constraints rely on these after a load.
func EnumChecks() []Check {
	var checks []Check
	for _, t := range []Table{StagingEvents, StagingSongs} {
		for _, c := range t.Columns {
			if len(c.Enum) == 0 {
				continue
			}
			values := make([]string, len(c.Enum))
			for i, v := range c.Enum {
				values[i] = quoteLiteral(v)
			}
			checks = append(checks, Check{
				Name:  fmt.Sprintf("%s.%s", t.Name, c.Name),
				Table: t.Name,
				SQL: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND %s NOT IN (%s)",
					t.Name, c.Name, c.Name, strings.Join(values, ", ")),
			})
		}
	}
	return checks
}

func insertIfAbsent(t Table, source, match string) string {
	cols := t.ColumnNames()
	projected := make([]string, len(cols))
	for i, c := range cols {
		projected[i] = "src." + c
	}
	return fmt.Sprintf(`INSERT INTO %s (%s)
SELECT %s
FROM (
%s
) src
WHERE NOT EXISTS (
    SELECT 1 FROM %s d WHERE %s
)`, t.Name, strings.Join(cols, ", "), strings.Join(projected, ", "), indent(source), t.Name, match)
}

func indent(sql string) string {
	lines := strings.Split(sql, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "    " + l
		}
	}
	return strings.Join(lines, "\n")
}

// A play is identified by when it started, who played it and in which
// session. Plays without a user compare equal to each other here; user ids
// are positive so -1 never collides.
const songPlayIdentity = `d.start_time = src.start_time
      AND d.session_id = src.session_id
      AND COALESCE(d.user_id, -1) = COALESCE(src.user_id, -1)`

const stagedUserFilter = `user_id IS NOT NULL AND user_id <> ''`

// retireUsersSQL removes users about to be reloaded so the following insert
// carries their latest level.
const retireUsersSQL = `DELETE FROM users
WHERE user_id IN (
    SELECT CAST(user_id AS INTEGER)
    FROM staging_events
    WHERE ` + stagedUserFilter + `
)`

// latestUsersSQL keeps each user's most recent event, so a free-to-paid
// upgrade within the staged logs yields the paid level. Events without a
// timestamp rank last on every engine.
const latestUsersSQL = `SELECT user_id, first_name, last_name, gender, level
FROM (
    SELECT CAST(user_id AS INTEGER) AS user_id, first_name, last_name, gender, level,
           ROW_NUMBER() OVER (
               PARTITION BY user_id
               ORDER BY CASE WHEN ts IS NULL THEN 1 ELSE 0 END,
                        ts DESC,
                        CASE WHEN item_in_session IS NULL THEN 1 ELSE 0 END,
                        item_in_session DESC
           ) AS recency
    FROM staging_events
    WHERE ` + stagedUserFilter + `
) ranked
WHERE recency = 1`

const songsSQL = `SELECT song_id, title, artist_id, year, duration
FROM (
    SELECT song_id, title, artist_id, year, duration,
           ROW_NUMBER() OVER (
               PARTITION BY song_id
               ORDER BY title, artist_id
           ) AS pick
    FROM staging_songs
    WHERE song_id IS NOT NULL
) ranked
WHERE pick = 1`

// artistsSQL prefers the record with coordinates, then one with a location
const artistsSQL = `SELECT artist_id, name, location, latitude, longitude
FROM (
    SELECT artist_id,
           artist_name AS name,
           artist_location AS location,
           artist_latitude AS latitude,
           artist_longitude AS longitude,
           ROW_NUMBER() OVER (
               PARTITION BY artist_id
               ORDER BY CASE WHEN artist_latitude IS NULL THEN 1 ELSE 0 END,
                        CASE WHEN artist_location IS NULL OR artist_location = '' THEN 1 ELSE 0 END,
                        artist_name
           ) AS pick
    FROM staging_songs
    WHERE artist_id IS NOT NULL
) ranked
WHERE pick = 1`

func timeSQL(x expressions) string {
	return fmt.Sprintf(`SELECT start_time,
       %s AS hour,
       %s AS day,
       %s AS week,
       %s AS month,
       %s AS year,
       %s AS weekday
FROM (
    SELECT DISTINCT %s AS start_time
    FROM staging_events
    WHERE page = 'NextSong' AND ts IS NOT NULL
) plays`,
		x.hour("start_time"),
		x.day("start_time"),
		x.isoWeek("start_time"),
		x.month("start_time"),
		x.year("start_time"),
		x.weekday("start_time"),
		x.epochMillisToTimestamp("ts"),
	)
}

// songPlaysSQL matches each NextSong event to at most one staged song. A
// match needs the same title and artist name and a duration within two
// seconds; among several candidates the closest duration wins, then the
// lowest song_id. Events without a timestamp cannot be placed in time and
// are skipped, as in the time dimension.
func songPlaysSQL(x expressions) string {
	return fmt.Sprintf(`SELECT start_time, user_id, level, song_id, artist_id, session_id, location, user_agent
FROM (
    SELECT %s AS start_time,
           CAST(NULLIF(se.user_id, '') AS INTEGER) AS user_id,
           se.level,
           ss.song_id,
           ss.artist_id,
           se.session_id,
           se.location,
           se.user_agent,
           ROW_NUMBER() OVER (
               PARTITION BY se.session_id, se.item_in_session, se.ts, se.user_id
               ORDER BY ABS(ss.duration - se.length), ss.song_id
           ) AS match_rank
    FROM staging_events se
    LEFT JOIN staging_songs ss
        ON se.song = ss.title
        AND se.artist = ss.artist_name
        AND ABS(se.length - ss.duration) < 2
    WHERE se.page = 'NextSong' AND se.ts IS NOT NULL
) matched
WHERE match_rank = 1`, x.epochMillisToTimestamp("se.ts"))
}
