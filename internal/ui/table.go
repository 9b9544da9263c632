package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"sparkify/internal/warehouse"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// RenderStatements lists statements with the first line of their SQL
func RenderStatements(w io.Writer, stmts []warehouse.Statement) {
	table := newTable(w, "#", "Phase", "Statement", "Table", "SQL")
	for i, s := range stmts {
		first, _, more := strings.Cut(s.SQL, "\n")
		if more {
			first += " ..."
		}
		table.Append([]string{fmt.Sprint(i + 1), string(s.Phase), s.Name, s.Table, first})
	}
	table.Render()
}

// RenderResults lists executed statements with their row counts and timings
func RenderResults(w io.Writer, results []warehouse.StatementResult) {
	table := newTable(w, "Phase", "Statement", "Rows", "Duration")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})
	for _, r := range results {
		rows := "-"
		if r.Rows >= 0 {
			rows = fmt.Sprint(r.Rows)
		}
		table.Append([]string{string(r.Phase), r.Name, rows, FormatDuration(r.Duration)})
	}
	table.Render()
}

// RenderReport shows per-table row counts and the invariant checks
func RenderReport(w io.Writer, report *warehouse.Report) {
	table := newTable(w, "Table", "Rows", "Duplicate keys")
	for _, t := range warehouse.Tables() {
		dup := "-"
		if n, ok := report.DuplicateKeys[t.Name]; ok {
			dup = status(n == 0, fmt.Sprint(n))
		}
		table.Append([]string{t.Name, fmt.Sprint(report.RowCounts[t.Name]), dup})
	}
	table.Render()

	fmt.Fprintf(w, "\nMatched plays:       %d\n", report.MatchedPlays)
	fmt.Fprintf(w, "Half-matched plays:  %s\n", status(report.HalfMatchedPlays == 0, fmt.Sprint(report.HalfMatchedPlays)))
	fmt.Fprintf(w, "Unresolved users:    %s\n", status(report.UnresolvedUsers == 0, fmt.Sprint(report.UnresolvedUsers)))
}

func status(ok bool, text string) string {
	if ok {
		return color.GreenString(text)
	}
	return color.RedString(text)
}
