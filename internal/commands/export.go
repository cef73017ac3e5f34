package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/basis/internal/export"
)

func newExportCommand(dir *string) *cobra.Command {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export computed records as CSV",
	}
	exportCmd.AddCommand(
		newExportSubcommand(dir, "investments", "Export live lots and extractions", func(p *project, userID int64, w io.Writer) error {
			return export.WriteInvestments(w, p.store.Investments(userID))
		}),
		newExportSubcommand(dir, "gains", "Export realized gains per transaction", func(p *project, userID int64, w io.Writer) error {
			return export.WriteGains(w, p.store.Transactions(userID))
		}),
	)
	return exportCmd
}

func newExportSubcommand(dir *string, use, short string, write func(p *project, userID int64, w io.Writer) error) *cobra.Command {
	var userID int64
	var outPath string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd.Context(), *dir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()
			if _, err := p.store.User(userID); err != nil {
				return err
			}

			if outPath == "" || outPath == "-" {
				return write(p, userID, cmd.OutOrStdout())
			}
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("creating %s: %w", outPath, err)
			}
			if err := write(p, userID, f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user to export (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")

	return cmd
}
