package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"sparkify/internal/ui"
)

var localLoad bool

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Load staging tables and populate the star schema",
	Long: `Empty and reload both staging tables from the configured song and log
data, then insert new rows into the fact and dimension tables. Tables must
already exist; running etl twice over the same data adds nothing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, localLoad)
		if err != nil {
			return err
		}
		defer s.Close()

		started := time.Now()
		result, err := s.pipeline.ETL(cmd.Context())
		report(cmd, "ETL", result, started)
		if err != nil {
			return err
		}
		ui.ShowSuccess(cmd.OutOrStdout(), "warehouse populated")
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Recreate the tables and run the ETL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := confirmDrop(cmd); err != nil {
			return err
		}

		s, err := openSession(cmd, localLoad)
		if err != nil {
			return err
		}
		defer s.Close()

		started := time.Now()
		result, err := s.pipeline.Run(cmd.Context())
		report(cmd, "Run", result, started)
		if err != nil {
			return err
		}
		ui.ShowSuccess(cmd.OutOrStdout(), "warehouse rebuilt")
		return nil
	},
}

func init() {
	etlCmd.Flags().BoolVar(&localLoad, "local", false, "load staging through the client instead of the warehouse bulk load")
	runCmd.Flags().BoolVar(&localLoad, "local", false, "load staging through the client instead of the warehouse bulk load")
	runCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(etlCmd, runCmd)
}
