package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/basis/internal/importer"
)

func newImportCommand(dir *string) *cobra.Command {
	var userID int64
	var format string
	var recomputeAfter bool

	cmd := &cobra.Command{
		Use:   "import [file...]",
		Short: "Import ledger CSV files",
		Long: "Import normalised ledger CSV files for one user. With no files, every CSV in\n" +
			"import/ is imported and moved to import/processed/.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, *dir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			parser := importer.DefaultRegistry().Get(format)
			if parser == nil {
				return fmt.Errorf("unknown import format %q", format)
			}
			if _, err := p.store.User(userID); err != nil {
				return err
			}

			paths := args
			scanned := len(args) == 0
			if scanned {
				files, err := importer.Scan(p.root)
				if err != nil {
					return err
				}
				for _, f := range files {
					paths = append(paths, f.Path)
				}
			}
			if len(paths) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No files to import")
				return nil
			}

			im := importer.New(p.store, p.logger)
			out := cmd.OutOrStdout()
			for _, path := range paths {
				recs, err := importer.ParseFile(parser, path)
				if err != nil {
					return err
				}
				txs, err := im.Apply(userID, parser.Format(), recs)
				if err != nil {
					return fmt.Errorf("importing %s: %w", filepath.Base(path), err)
				}
				if err := p.save(ctx, userID); err != nil {
					return err
				}
				if scanned {
					if err := importer.MarkProcessed(p.root, filepath.Base(path)); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "Imported %d transactions from %s\n", len(txs), filepath.Base(path))
			}

			if !recomputeAfter {
				return nil
			}
			svc, err := p.service()
			if err != nil {
				return err
			}
			sum, err := svc.RecomputeAll(ctx, userID)
			if err != nil {
				return err
			}
			printSummary(out, userID, sum)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user to import for (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&format, "format", "basis", "input format")
	cmd.Flags().BoolVar(&recomputeAfter, "recompute", false, "recompute transfers, balances and gains afterwards")

	return cmd
}
