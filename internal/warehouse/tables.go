package warehouse

// ColumnType is the logical type of a warehouse column. Each Dialect renders
// it to a concrete SQL type.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeSmallInt
	TypeInteger
	TypeBigInt
	TypeDouble
	TypeTimestamp
)

// TableKind classifies a table within the star schema
type TableKind string

const (
	KindStaging   TableKind = "staging"
	KindFact      TableKind = "fact"
	KindDimension TableKind = "dimension"
)

// Column describes a single table column
type Column struct {
	Name     string
	Type     ColumnType
	Size     int // VARCHAR length, 0 for the dialect default
	NotNull  bool
	Identity bool     // engine-generated surrogate key
	Enum     []string // accepted values, nil when unconstrained
}

// Table describes a warehouse table
type Table struct {
	Name       string
	Kind       TableKind
	Columns    []Column
	PrimaryKey string
	SortKey    string
	DistKey    string
}

// Column returns the column with the given name
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order, skipping
// identity columns the engine fills in.
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Identity {
			continue
		}
		names = append(names, c.Name)
	}
	return names
}

var StagingEvents = Table{
	Name: "staging_events",
	Kind: KindStaging,
	Columns: []Column{
		{Name: "artist", Type: TypeText, Size: 512},
		{Name: "auth", Type: TypeText, Size: 32},
		{Name: "first_name", Type: TypeText, Size: 256},
		{Name: "gender", Type: TypeText, Size: 8},
		{Name: "item_in_session", Type: TypeInteger},
		{Name: "last_name", Type: TypeText, Size: 256},
		{Name: "length", Type: TypeDouble},
		{Name: "level", Type: TypeText, Size: 8, Enum: []string{"free", "paid"}},
		{Name: "location", Type: TypeText, Size: 512},
		{Name: "method", Type: TypeText, Size: 16},
		{Name: "page", Type: TypeText, Size: 64},
		{Name: "registration", Type: TypeDouble},
		{Name: "session_id", Type: TypeInteger},
		{Name: "song", Type: TypeText, Size: 512},
		{Name: "status", Type: TypeInteger},
		{Name: "ts", Type: TypeBigInt},
		{Name: "user_agent", Type: TypeText, Size: 512},
		{Name: "user_id", Type: TypeText, Size: 32},
	},
}

// StagingSongs column names equal the song-metadata JSON keys so the songs can
// be loaded by automatic field matching.
var StagingSongs = Table{
	Name: "staging_songs",
	Kind: KindStaging,
	Columns: []Column{
		{Name: "num_songs", Type: TypeInteger},
		{Name: "artist_id", Type: TypeText, Size: 32},
		{Name: "artist_latitude", Type: TypeDouble},
		{Name: "artist_longitude", Type: TypeDouble},
		{Name: "artist_location", Type: TypeText, Size: 512},
		{Name: "artist_name", Type: TypeText, Size: 512},
		{Name: "song_id", Type: TypeText, Size: 32},
		{Name: "title", Type: TypeText, Size: 512},
		{Name: "duration", Type: TypeDouble},
		{Name: "year", Type: TypeInteger},
	},
}

var SongPlays = Table{
	Name: "songplays",
	Kind: KindFact,
	Columns: []Column{
		{Name: "songplay_id", Type: TypeBigInt, NotNull: true, Identity: true},
		{Name: "start_time", Type: TypeTimestamp, NotNull: true},
		{Name: "user_id", Type: TypeInteger},
		{Name: "level", Type: TypeText, Size: 8},
		{Name: "song_id", Type: TypeText, Size: 32},
		{Name: "artist_id", Type: TypeText, Size: 32},
		{Name: "session_id", Type: TypeInteger},
		{Name: "location", Type: TypeText, Size: 512},
		{Name: "user_agent", Type: TypeText, Size: 512},
	},
	PrimaryKey: "songplay_id",
	SortKey:    "start_time",
	DistKey:    "song_id",
}

var Users = Table{
	Name: "users",
	Kind: KindDimension,
	Columns: []Column{
		{Name: "user_id", Type: TypeInteger, NotNull: true},
		{Name: "first_name", Type: TypeText, Size: 256},
		{Name: "last_name", Type: TypeText, Size: 256},
		{Name: "gender", Type: TypeText, Size: 8},
		{Name: "level", Type: TypeText, Size: 8},
	},
	PrimaryKey: "user_id",
	SortKey:    "user_id",
}

var Songs = Table{
	Name: "songs",
	Kind: KindDimension,
	Columns: []Column{
		{Name: "song_id", Type: TypeText, Size: 32, NotNull: true},
		{Name: "title", Type: TypeText, Size: 512},
		{Name: "artist_id", Type: TypeText, Size: 32},
		{Name: "year", Type: TypeInteger},
		{Name: "duration", Type: TypeDouble},
	},
	PrimaryKey: "song_id",
	SortKey:    "song_id",
	DistKey:    "song_id",
}

var Artists = Table{
	Name: "artists",
	Kind: KindDimension,
	Columns: []Column{
		{Name: "artist_id", Type: TypeText, Size: 32, NotNull: true},
		{Name: "name", Type: TypeText, Size: 512},
		{Name: "location", Type: TypeText, Size: 512},
		{Name: "latitude", Type: TypeDouble},
		{Name: "longitude", Type: TypeDouble},
	},
	PrimaryKey: "artist_id",
	SortKey:    "artist_id",
}

// Time columns are all derived from start_time. week is the ISO-8601 week
// number; weekday counts from 0 (Sunday) to 6 (Saturday).
var Time = Table{
	Name: "time",
	Kind: KindDimension,
	Columns: []Column{
		{Name: "start_time", Type: TypeTimestamp, NotNull: true},
		{Name: "hour", Type: TypeSmallInt},
		{Name: "day", Type: TypeSmallInt},
		{Name: "week", Type: TypeSmallInt},
		{Name: "month", Type: TypeSmallInt},
		{Name: "year", Type: TypeSmallInt},
		{Name: "weekday", Type: TypeSmallInt},
	},
	PrimaryKey: "start_time",
	SortKey:    "start_time",
}

// Tables returns every table in creation order: staging first, then the fact
// table, then the dimensions.
func Tables() []Table {
	return []Table{StagingEvents, StagingSongs, SongPlays, Users, Songs, Artists, Time}
}

// DimensionTables returns the tables whose primary key must stay unique
func DimensionTables() []Table {
	return []Table{Users, Songs, Artists, Time}
}

// EventField maps a staging_events column to the key that carries it in a
// raw log record.
type EventField struct {
	Column string
	Key    string
}

// EventFields is the canonical field map for event logs, in staging_events
// column order.
var EventFields = []EventField{
	{Column: "artist", Key: "artist"},
	{Column: "auth", Key: "auth"},
	{Column: "first_name", Key: "firstName"},
	{Column: "gender", Key: "gender"},
	{Column: "item_in_session", Key: "itemInSession"},
	{Column: "last_name", Key: "lastName"},
	{Column: "length", Key: "length"},
	{Column: "level", Key: "level"},
	{Column: "location", Key: "location"},
	{Column: "method", Key: "method"},
	{Column: "page", Key: "page"},
	{Column: "registration", Key: "registration"},
	{Column: "session_id", Key: "sessionId"},
	{Column: "song", Key: "song"},
	{Column: "status", Key: "status"},
	{Column: "ts", Key: "ts"},
	{Column: "user_agent", Key: "userAgent"},
	{Column: "user_id", Key: "userId"},
}

// EventJSONPaths renders EventFields as a Redshift JSONPaths document body
func EventJSONPaths() []string {
	paths := make([]string, len(EventFields))
	for i, f := range EventFields {
		paths[i] = "$['" + f.Key + "']"
	}
	return paths
}
