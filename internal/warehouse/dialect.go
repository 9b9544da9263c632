package warehouse

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"sparkify/pkg/errors"
)

// Dialect renders the schema and transform statements for one warehouse
// engine.
type Dialect interface {
	// Name is the configuration name of the dialect
	Name() string
	// DriverName is the database/sql driver the dialect connects through
	DriverName() string
	CreateTable(t Table) string
	DropTable(t Table) string
	// Copy returns the native bulk-load statements for the staging tables.
	// Dialects without one return ErrNoBulkLoad.
	Copy(cfg LoadConfig) ([]Statement, error)
	// Placeholder returns the bind parameter marker for the n-th (1-based)
	// argument.
	Placeholder(n int) string

	expressions() expressions
}

// expressions holds the engine-specific SQL fragments the shared transform
// queries are assembled from.
type expressions struct {
	// epochMillisToTimestamp converts an epoch-millisecond column to a
	// timestamp truncated to the second.
	epochMillisToTimestamp func(col string) string
	hour                   func(col string) string
	day                    func(col string) string
	isoWeek                func(col string) string
	month                  func(col string) string
	year                   func(col string) string
	// weekday must yield 0 for Sunday through 6 for Saturday
	weekday func(col string) string
}

// ErrNoBulkLoad is returned by Dialect.Copy for engines that cannot ingest
// object storage natively. The pipeline loads those through a Loader.
var ErrNoBulkLoad = stderrors.New("dialect has no native bulk load")

var dialects = map[string]Dialect{
	"redshift":  Redshift{},
	"snowflake": Snowflake{},
	"sqlite":    SQLite{},
}

// DialectFor returns the dialect registered under name
func DialectFor(name string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnsupportedDialect, fmt.Sprintf("unsupported warehouse dialect %q", name)).
			WithContext("dialect", name).
			WithSuggestions("Supported dialects: " + strings.Join(DialectNames(), ", "))
	}
	return d, nil
}

// DialectNames lists the registered dialect names
func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func createTable(t Table, columnDef func(Column) string, constraints []string, suffix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)

	lines := make([]string, 0, len(t.Columns)+len(constraints))
	for _, c := range t.Columns {
		lines = append(lines, "    "+columnDef(c))
	}
	for _, c := range constraints {
		lines = append(lines, "    "+c)
	}
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")
	if suffix != "" {
		b.WriteString("\n" + suffix)
	}
	return b.String()
}

func primaryKey(t Table) []string {
	if t.PrimaryKey == "" {
		return nil
	}
	return []string{fmt.Sprintf("PRIMARY KEY (%s)", t.PrimaryKey)}
}

func enumCheck(c Column) string {
	values := make([]string, len(c.Enum))
	for i, v := range c.Enum {
		values[i] = quoteLiteral(v)
	}
	return fmt.Sprintf("CHECK (%s IN (%s))", c.Name, strings.Join(values, ", "))
}

func varchar(c Column) string {
	if c.Size > 0 {
		return fmt.Sprintf("VARCHAR(%d)", c.Size)
	}
	return "VARCHAR(256)"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
