package warehouse

import (
	"fmt"
)

// SQLite renders statements for a local SQLite warehouse. It is used for
// development runs and tests; staging data is loaded by a Loader.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (s SQLite) CreateTable(t Table) string {
	var constraints []string
	pk, _ := t.Column(t.PrimaryKey)
	if !pk.Identity {
		// an identity key is declared inline as the rowid alias
		constraints = append(constraints, primaryKey(t)...)
	}
	for _, c := range t.Columns {
		if len(c.Enum) > 0 {
			constraints = append(constraints, enumCheck(c))
		}
	}
	return createTable(t, s.columnDef, constraints, "")
}

func (SQLite) DropTable(t Table) string {
	return "DROP TABLE IF EXISTS " + t.Name
}

func (SQLite) columnDef(c Column) string {
	if c.Identity {
		return c.Name + " INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	var typ string
	switch c.Type {
	case TypeText:
		typ = "TEXT"
	case TypeSmallInt, TypeInteger, TypeBigInt:
		typ = "INTEGER"
	case TypeDouble:
		typ = "REAL"
	case TypeTimestamp:
		// ISO-8601 text, as produced by datetime()
		typ = "TEXT"
	}
	def := c.Name + " " + typ
	if c.NotNull {
		def += " NOT NULL"
	}
	return def
}

func (SQLite) Copy(LoadConfig) ([]Statement, error) {
	return nil, ErrNoBulkLoad
}

func (SQLite) expressions() expressions {
	part := func(format string) func(string) string {
		return func(col string) string {
			return fmt.Sprintf("CAST(strftime('%s', %s) AS INTEGER)", format, col)
		}
	}
	return expressions{
		epochMillisToTimestamp: func(col string) string {
			return fmt.Sprintf("datetime(%s / 1000, 'unixepoch')", col)
		},
		hour:    part("%H"),
		day:     part("%d"),
		isoWeek: part("%V"),
		month:   part("%m"),
		year:    part("%Y"),
		weekday: part("%w"),
	}
}
