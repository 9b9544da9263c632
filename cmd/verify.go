package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"sparkify/internal/ui"
	"sparkify/internal/warehouse"
	"sparkify/pkg/errors"
)

var verifyFormat string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check row counts and key invariants of the warehouse",
	Long: `Count the rows of every table and check that dimension keys are unique,
that song plays resolve song and artist together and that every play's user
exists. Exits non-zero when a check fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer s.Close()

		r, err := warehouse.NewVerifier(s.db, s.dialect, logger).Verify(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch verifyFormat {
		case "table":
			ui.ShowHeader(out, "Warehouse report")
			ui.RenderReport(out, r)
		case "yaml":
			enc := yaml.NewEncoder(out)
			if err := enc.Encode(r); err != nil {
				return err
			}
			if err := enc.Close(); err != nil {
				return err
			}
		default:
			return errors.ConfigError(fmt.Sprintf("unknown format %q", verifyFormat), "format")
		}

		if problems := r.Problems(); len(problems) > 0 {
			return errors.New(errors.ErrCodeVerification, fmt.Sprintf("%d checks failed", len(problems))).
				WithContext("problems", strings.Join(problems, "; "))
		}
		if verifyFormat == "table" {
			ui.ShowSuccess(out, "all checks passed")
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyFormat, "format", "f", "table", "output format: table or yaml")
	rootCmd.AddCommand(verifyCmd)
}
