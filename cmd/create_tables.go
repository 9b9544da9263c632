package cmd

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"sparkify/internal/ui"
	"sparkify/pkg/errors"
)

var assumeYes bool

var createTablesCmd = &cobra.Command{
	Use:   "create-tables",
	Short: "Drop and recreate every warehouse table",
	Long: `Drop all seven tables if they exist and create them again, empty.
Existing warehouse data is lost.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := confirmDrop(cmd); err != nil {
			return err
		}

		s, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer s.Close()

		started := time.Now()
		result, err := s.pipeline.CreateTables(cmd.Context())
		report(cmd, "Create tables", result, started)
		if err != nil {
			return err
		}
		ui.ShowSuccess(cmd.OutOrStdout(), "tables created")
		return nil
	},
}

// confirmDrop asks before destroying tables unless --yes was given. Without
// a terminal to ask on, --yes is required.
func confirmDrop(cmd *cobra.Command) error {
	if assumeYes {
		return nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return errors.New(errors.ErrCodeConfigMissing, "Refusing to drop tables without confirmation").
			WithSuggestions("Pass --yes to run non-interactively")
	}

	ui.ShowWarning(cmd.ErrOrStderr(), "every warehouse table will be dropped")
	ok, err := ui.Confirm("Drop and recreate all tables?", false)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.ErrCodeCanceled, "Aborted by user")
	}
	return nil
}

func init() {
	createTablesCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(createTablesCmd)
}
