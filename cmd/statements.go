package cmd

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"sparkify/internal/ui"
	"sparkify/internal/warehouse"
	"sparkify/pkg/errors"
)

var (
	statementsFormat string
	statementsPhase  string
)

var statementsCmd = &cobra.Command{
	Use:   "statements",
	Short: "Print the SQL each phase executes",
	Long: `Print the drop, create, reset, copy and insert statements for the
configured dialect without connecting to the warehouse.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := warehouse.DialectFor(cfg.Warehouse.Dialect)
		if err != nil {
			return err
		}

		stmts, err := collectStatements(d, cfg.LoadConfig(), warehouse.Phase(statementsPhase))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch statementsFormat {
		case "sql":
			writeSQL(out, stmts)
		case "table":
			ui.RenderStatements(out, stmts)
		case "yaml":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(statementManifest{Dialect: d.Name(), Statements: stmts}); err != nil {
				return err
			}
			return enc.Close()
		default:
			return errors.ConfigError(fmt.Sprintf("unknown format %q", statementsFormat), "format").
				WithSuggestions("Use one of sql, table or yaml")
		}
		return nil
	},
}

var jsonPathsCmd = &cobra.Command{
	Use:   "jsonpaths",
	Short: "Print the JSONPaths document for the event logs",
	Long: `Print a JSONPaths document mapping event log keys onto the
staging_events columns, in column order. Upload it and point S3.LOG_JSONPATH
at it for the Redshift bulk load.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := json.MarshalIndent(map[string][]string{"jsonpaths": warehouse.EventJSONPaths()}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(doc))
		return err
	},
}

type statementManifest struct {
	Dialect    string                `yaml:"dialect"`
	Statements []warehouse.Statement `yaml:"statements"`
}

// collectStatements gathers the statements of phase, or of every phase when
// phase is empty. Copy statements that cannot be rendered are skipped with a
// warning since they depend on load settings.
func collectStatements(d warehouse.Dialect, cfg warehouse.LoadConfig, phase warehouse.Phase) ([]warehouse.Statement, error) {
	var stmts []warehouse.Statement
	matched := false
	for _, p := range warehouse.Phases() {
		if phase != "" && p != phase {
			continue
		}
		matched = true
		switch p {
		case warehouse.PhaseDrop:
			stmts = append(stmts, warehouse.DropAll(d)...)
		case warehouse.PhaseCreate:
			stmts = append(stmts, warehouse.CreateAll(d)...)
		case warehouse.PhaseReset:
			stmts = append(stmts, warehouse.ResetStaging(d)...)
		case warehouse.PhaseStage, warehouse.PhaseCopy:
			copies, err := warehouse.CopyAll(d, cfg)
			switch {
			case stderrors.Is(err, warehouse.ErrNoBulkLoad):
				logger.Info("dialect has no bulk load, staging is loaded by the client", "dialect", d.Name())
			case err != nil:
				logger.Warn("skipping bulk load statements", "phase", p, "error", err)
			}
			for _, s := range copies {
				if s.Phase == p {
					stmts = append(stmts, s)
				}
			}
		case warehouse.PhaseInsert:
			stmts = append(stmts, warehouse.InsertAll(d)...)
		}
	}
	if !matched {
		return nil, errors.ConfigError(fmt.Sprintf("unknown phase %q", phase), "phase").
			WithSuggestions(fmt.Sprintf("Use one of %v", warehouse.Phases()))
	}
	return stmts, nil
}

func writeSQL(w io.Writer, stmts []warehouse.Statement) {
	for _, s := range stmts {
		fmt.Fprintf(w, "-- %s (%s)\n%s;\n\n", s.Name, s.Phase, s.SQL)
	}
}

func init() {
	statementsCmd.Flags().StringVarP(&statementsFormat, "format", "f", "sql", "output format: sql, table or yaml")
	statementsCmd.Flags().StringVarP(&statementsPhase, "phase", "p", "", "only print statements of this phase")
	statementsCmd.AddCommand(jsonPathsCmd)
	rootCmd.AddCommand(statementsCmd)
}
