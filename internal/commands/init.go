package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/basis/internal/config"
	"github.com/cleared-dev/basis/internal/costbasis"
	"github.com/cleared-dev/basis/internal/logging"
	"github.com/cleared-dev/basis/internal/model"
	"github.com/cleared-dev/basis/internal/sqlstore"
)

func newInitCommand() *cobra.Command {
	var baseCurrency string
	var method string
	var accountBased bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new basis project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			cfg := config.Default()
			cfg.BaseCurrency = baseCurrency
			cfg.CostBasis.Method = method
			cfg.CostBasis.AccountBased = accountBased
			if _, err := costbasis.StrategyFor(model.Method(method), cfg.CostBasis.WashSaleDays); err != nil {
				return err
			}
			if err := runInit(cmd.Context(), absDir, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized basis project at %s (method %s)\n", absDir, method)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseCurrency, "base-currency", "USD", "currency gains are reported in")
	cmd.Flags().StringVar(&method, "method", string(model.MethodFifo), "default cost-basis method for new users")
	cmd.Flags().BoolVar(&accountBased, "account-based", false, "pool lots per account instead of per currency")

	return cmd
}

func runInit(ctx context.Context, dir string, cfg *config.Config) error {
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil {
		return fmt.Errorf("%s already exists in %s", config.FileName, dir)
	}

	dirs := []string{
		"logs",
		"exports",
		"import",
		filepath.Join("import", "processed"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(filepath.Join(dir, config.FileName), cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	gitignore := "basis.db*\nexports/\n.env\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "import", ".gitkeep"), []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing .gitkeep: %w", err)
	}

	// Create the database so the schema exists before the first import.
	db, err := sqlstore.Open(ctx, cfg.DatabasePath(dir), logging.Discard())
	if err != nil {
		return err
	}
	return db.Close()
}
