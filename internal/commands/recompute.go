package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/basis/internal/recompute"
)

func newRecomputeCommand(dir *string) *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:       "recompute [all|gains|balances|transfers]",
		Short:     "Recompute derived ledger data",
		Long:      "Recompute derived data for one user, or for every user when --user is omitted.\nThe default \"all\" matches transfers, then updates balances, then recomputes gains.",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"all", recompute.OpGains, recompute.OpBalances, recompute.OpTransfers},
		RunE: func(cmd *cobra.Command, args []string) error {
			op := "all"
			if len(args) > 0 {
				op = args[0]
			}
			ctx := cmd.Context()
			p, err := openProject(ctx, *dir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			ids, err := p.userIDs(userID)
			if err != nil {
				return err
			}
			svc, err := p.service()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if op == "all" && len(ids) > 1 {
				if err := recompute.NewRunner(svc, p.cfg.Workers).RunAll(ctx, ids); err != nil {
					return err
				}
				fmt.Fprintf(out, "Recomputed %d users\n", len(ids))
				return nil
			}

			for _, id := range ids {
				switch op {
				case "all":
					sum, err := svc.RecomputeAll(ctx, id)
					if err != nil {
						return err
					}
					printSummary(out, id, sum)
				case recompute.OpGains:
					res, err := svc.RecomputeGains(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "User %d gains: processed %d, created %d, deleted %d, failed %d\n",
						id, res.Processed, res.Created, res.Deleted, res.Failed)
				case recompute.OpBalances:
					res, err := svc.RecomputeBalances(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "User %d balances: %d accounts, %d entries, %d negative\n",
						id, res.Accounts, res.Entries, res.Negative)
				case recompute.OpTransfers:
					res, err := svc.MatchTransfers(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "User %d transfers: %d candidates, %d merged\n", id, res.Candidates, len(res.Merges))
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user to recompute (default all users)")

	return cmd
}

func printSummary(w io.Writer, userID int64, sum recompute.Summary) {
	fmt.Fprintf(w, "User %d: %d transfers merged, %d accounts rebalanced, %d transactions processed, %d failed extractions\n",
		userID, len(sum.Transfers.Merges), sum.Balances.Accounts, sum.Gains.Processed, sum.Gains.Failed)
}
