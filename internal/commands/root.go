package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/basis/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var dir string

	rootCmd := &cobra.Command{
		Use:     "basis",
		Short:   "Crypto tax-lot ledger: transfers, balances and realized gains",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dir, "dir", ".", "project directory")

	rootCmd.AddCommand(
		newInitCommand(),
		newUserCommand(&dir),
		newImportCommand(&dir),
		newRecomputeCommand(&dir),
		newExportCommand(&dir),
	)

	return rootCmd
}
