package warehouse

import (
	"fmt"
	"strings"
)

const (
	snowflakeLogStage  = "sparkify_log_stage"
	snowflakeSongStage = "sparkify_song_stage"
)

// Snowflake renders statements for Snowflake
type Snowflake struct{}

func (Snowflake) Name() string       { return "snowflake" }
func (Snowflake) DriverName() string { return "snowflake" }

func (Snowflake) Placeholder(int) string { return "?" }

// CreateTable omits CHECK constraints, which Snowflake does not support.
// Enumerations are validated after load.
func (s Snowflake) CreateTable(t Table) string {
	suffix := ""
	if t.Kind == KindFact && t.SortKey != "" {
		suffix = fmt.Sprintf("CLUSTER BY (%s)", t.SortKey)
	}
	return createTable(t, s.columnDef, primaryKey(t), suffix)
}

func (Snowflake) DropTable(t Table) string {
	return "DROP TABLE IF EXISTS " + t.Name
}

func (Snowflake) columnDef(c Column) string {
	def := c.Name + " " + snowflakeType(c)
	if c.Identity {
		def += " IDENTITY(0, 1)"
	}
	if c.NotNull {
		def += " NOT NULL"
	}
	return def
}

func snowflakeType(c Column) string {
	switch c.Type {
	case TypeText:
		return varchar(c)
	case TypeSmallInt:
		return "SMALLINT"
	case TypeInteger:
		return "INTEGER"
	case TypeBigInt:
		return "BIGINT"
	case TypeDouble:
		return "FLOAT"
	case TypeTimestamp:
		return "TIMESTAMP_NTZ"
	}
	return "VARIANT"
}

// Copy stages both S3 locations as temporary external stages. The stage
// statements come first and carry PhaseStage. Events are projected through
// the canonical field map, songs match by column name.
func (Snowflake) Copy(cfg LoadConfig) ([]Statement, error) {
	if err := requireLoad("LogData", cfg.LogData, "SongData", cfg.SongData); err != nil {
		return nil, err
	}
	if cfg.IAMRole == "" && cfg.StorageIntegration == "" {
		return nil, requireLoad("IAMRole or StorageIntegration", "")
	}

	access := fmt.Sprintf("CREDENTIALS = (AWS_ROLE = %s)", quoteLiteral(cfg.IAMRole))
	if cfg.StorageIntegration != "" {
		access = "STORAGE_INTEGRATION = " + cfg.StorageIntegration
	}
	stage := func(name, url string) string {
		return fmt.Sprintf("CREATE OR REPLACE TEMPORARY STAGE %s\nURL = %s\n%s\nFILE_FORMAT = (TYPE = JSON)",
			name, quoteLiteral(url), access)
	}

	columns := make([]string, len(EventFields))
	projections := make([]string, len(EventFields))
	for i, f := range EventFields {
		col, _ := StagingEvents.Column(f.Column)
		columns[i] = f.Column
		projections[i] = fmt.Sprintf("$1:\"%s\"::%s", f.Key, snowflakeType(col))
	}

	return []Statement{
		{Name: "stage_" + StagingEvents.Name, Phase: PhaseStage, Table: StagingEvents.Name, SQL: stage(snowflakeLogStage, cfg.LogData)},
		{Name: "stage_" + StagingSongs.Name, Phase: PhaseStage, Table: StagingSongs.Name, SQL: stage(snowflakeSongStage, cfg.SongData)},
		{
			Name:  "copy_" + StagingEvents.Name,
			Phase: PhaseCopy,
			Table: StagingEvents.Name,
			SQL: fmt.Sprintf("COPY INTO %s (%s)\nFROM (\n    SELECT %s\n    FROM @%s\n)\nON_ERROR = ABORT_STATEMENT",
				StagingEvents.Name, strings.Join(columns, ", "), strings.Join(projections, ",\n           "), snowflakeLogStage),
		},
		{
			Name:  "copy_" + StagingSongs.Name,
			Phase: PhaseCopy,
			Table: StagingSongs.Name,
			SQL: fmt.Sprintf("COPY INTO %s\nFROM @%s\nMATCH_BY_COLUMN_NAME = CASE_INSENSITIVE\nON_ERROR = ABORT_STATEMENT",
				StagingSongs.Name, snowflakeSongStage),
		},
	}, nil
}

func (Snowflake) expressions() expressions {
	call := func(fn string) func(string) string {
		return func(col string) string { return fmt.Sprintf("%s(%s)", fn, col) }
	}
	return expressions{
		epochMillisToTimestamp: func(col string) string {
			return fmt.Sprintf("DATEADD(second, FLOOR(%s / 1000), '1970-01-01'::TIMESTAMP_NTZ)", col)
		},
		hour:    call("HOUR"),
		day:     call("DAY"),
		isoWeek: call("WEEKISO"),
		month:   call("MONTH"),
		year:    call("YEAR"),
		// DAYOFWEEKISO runs 1 (Monday) to 7 (Sunday) regardless of WEEK_START
		weekday: func(col string) string { return fmt.Sprintf("MOD(DAYOFWEEKISO(%s), 7)", col) },
	}
}
