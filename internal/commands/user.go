package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/basis/internal/costbasis"
	"github.com/cleared-dev/basis/internal/model"
)

func newUserCommand(dir *string) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage ledger users",
	}
	userCmd.AddCommand(newUserAddCommand(dir), newUserListCommand(dir))
	return userCmd
}

func newUserAddCommand(dir *string) *cobra.Command {
	var method, baseCurrency string
	var accountBased, noExchangeGains bool

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a user with the project's default settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, *dir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			u := p.cfg.NewUser(args[0])
			if cmd.Flags().Changed("method") {
				u.Method = model.Method(method)
			}
			if cmd.Flags().Changed("base-currency") {
				u.BaseCurrency = strings.ToUpper(baseCurrency)
			}
			if cmd.Flags().Changed("account-based") {
				u.AccountBasedCostBasis = accountBased
			}
			if noExchangeGains {
				u.RealizeExchangeGains = false
			}
			if _, err := costbasis.StrategyFor(u.Method, p.cfg.CostBasis.WashSaleDays); err != nil {
				return err
			}

			u, err = p.store.AddUser(u)
			if err != nil {
				return err
			}
			if err := p.save(ctx, u.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added user %d (%s, %s)\n", u.ID, u.Name, u.Method)
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "", "cost-basis method")
	cmd.Flags().StringVar(&baseCurrency, "base-currency", "", "reporting currency")
	cmd.Flags().BoolVar(&accountBased, "account-based", false, "pool lots per account")
	cmd.Flags().BoolVar(&noExchangeGains, "no-exchange-gains", false, "carry basis through exchanges instead of realizing gains")

	return cmd
}

func newUserListCommand(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd.Context(), *dir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			for _, u := range p.store.Users() {
				pooling := "currency"
				if u.AccountBasedCostBasis {
					pooling = "account"
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.BaseCurrency, u.Method, pooling)
			}
			return nil
		},
	}
}
