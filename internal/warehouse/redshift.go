package warehouse

import (
	"fmt"
	"strings"

	"sparkify/pkg/errors"
)

// Redshift renders statements for Amazon Redshift
type Redshift struct{}

func (Redshift) Name() string       { return "redshift" }
func (Redshift) DriverName() string { return "pgx" }

func (Redshift) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (r Redshift) CreateTable(t Table) string {
	// Redshift does not support CHECK; enumerations are validated after load.
	var attrs []string
	switch {
	case t.DistKey != "":
		attrs = append(attrs, fmt.Sprintf("DISTKEY (%s)", t.DistKey))
	case t.Kind == KindDimension:
		attrs = append(attrs, "DISTSTYLE ALL")
	}
	if t.SortKey != "" {
		attrs = append(attrs, fmt.Sprintf("SORTKEY (%s)", t.SortKey))
	}
	return createTable(t, r.columnDef, primaryKey(t), strings.Join(attrs, "\n"))
}

func (Redshift) DropTable(t Table) string {
	return "DROP TABLE IF EXISTS " + t.Name
}

func (Redshift) columnDef(c Column) string {
	var typ string
	switch c.Type {
	case TypeText:
		typ = varchar(c)
	case TypeSmallInt:
		typ = "SMALLINT"
	case TypeInteger:
		typ = "INTEGER"
	case TypeBigInt:
		typ = "BIGINT"
	case TypeDouble:
		typ = "DOUBLE PRECISION"
	case TypeTimestamp:
		typ = "TIMESTAMP"
	}
	def := c.Name + " " + typ
	if c.Identity {
		def += " IDENTITY(0, 1)"
	}
	if c.NotNull {
		def += " NOT NULL"
	}
	return def
}

// Copy loads the event logs through the configured JSONPaths document and the
// song metadata by automatic key matching.
func (Redshift) Copy(cfg LoadConfig) ([]Statement, error) {
	if err := requireLoad("LogData", cfg.LogData, "LogJSONPath", cfg.LogJSONPath, "SongData", cfg.SongData, "IAMRole", cfg.IAMRole); err != nil {
		return nil, err
	}

	region := ""
	if cfg.Region != "" {
		region = "\nREGION " + quoteLiteral(cfg.Region)
	}
	credentials := quoteLiteral("aws_iam_role=" + cfg.IAMRole)

	return []Statement{
		{
			Name:  "copy_" + StagingEvents.Name,
			Phase: PhaseCopy,
			Table: StagingEvents.Name,
			SQL: fmt.Sprintf("COPY %s\nFROM %s\nCREDENTIALS %s\nFORMAT AS JSON %s%s",
				StagingEvents.Name, quoteLiteral(cfg.LogData), credentials, quoteLiteral(cfg.LogJSONPath), region),
		},
		{
			Name:  "copy_" + StagingSongs.Name,
			Phase: PhaseCopy,
			Table: StagingSongs.Name,
			SQL: fmt.Sprintf("COPY %s\nFROM %s\nCREDENTIALS %s\nFORMAT AS JSON 'auto'%s",
				StagingSongs.Name, quoteLiteral(cfg.SongData), credentials, region),
		},
	}, nil
}

func (Redshift) expressions() expressions {
	extract := func(field string) func(string) string {
		return func(col string) string { return fmt.Sprintf("EXTRACT(%s FROM %s)", field, col) }
	}
	return expressions{
		// Integer division of the BIGINT column truncates to whole seconds.
		epochMillisToTimestamp: func(col string) string {
			return fmt.Sprintf("TIMESTAMP 'epoch' + (%s / 1000) * INTERVAL '1 second'", col)
		},
		hour:    extract("hour"),
		day:     extract("day"),
		isoWeek: extract("week"),
		month:   extract("month"),
		year:    extract("year"),
		weekday: extract("dow"),
	}
}

// requireLoad takes name/value pairs and reports the first empty one
func requireLoad(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return errors.ConfigError(fmt.Sprintf("bulk load requires %s", pairs[i]), pairs[i])
		}
	}
	return nil
}
