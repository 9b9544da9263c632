package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"sparkify/internal/config"
	"sparkify/internal/ui"
	"sparkify/pkg/errors"
)

var passwordUser string

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Store the warehouse password in the OS keyring",
	Long: `Prompt for the warehouse password and save it in the OS keyring under
the service "sparkify" and the configured DB_USER. It is used whenever
DB_PASSWORD is left empty. Without a terminal the password is read from the
first line of standard input.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user := passwordUser
		if user == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			user = cfg.Cluster.DBUser
		}
		if user == "" {
			return errors.ConfigError("no warehouse user to store a password for", "CLUSTER.DB_USER").
				WithSuggestions("Set CLUSTER.DB_USER or pass --user")
		}

		secret, err := readPassword(cmd, fmt.Sprintf("Password for %s:", user))
		if err != nil {
			return err
		}
		if err := config.StorePassword(user, secret); err != nil {
			return err
		}
		ui.ShowSuccess(cmd.OutOrStdout(), fmt.Sprintf("password for %s stored in keyring", user))
		return nil
	},
}

func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		return ui.Password(prompt)
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		if err == nil {
			err = fmt.Errorf("empty password")
		}
		return "", errors.Wrap(err, errors.ErrCodeConfigMissing, "No password on standard input")
	}
	return secret, nil
}

func init() {
	passwordCmd.Flags().StringVarP(&passwordUser, "user", "u", "", "warehouse user (default CLUSTER.DB_USER)")
	rootCmd.AddCommand(passwordCmd)
}
