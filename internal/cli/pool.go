package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/store"
)

// NewPoolCommand creates the pool command group.
func NewPoolCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage the pools that guard products from removal",
		Long: `Pools reference the owner's current row for a product. While a pool
exists, a refresh that would remove that product (or anything below it)
is refused.`,
	}

	cmd.AddCommand(newPoolAddCommand(rootOpts))
	cmd.AddCommand(newPoolRemoveCommand(rootOpts))
	cmd.AddCommand(newPoolListCommand(rootOpts))
	return cmd
}

func newPoolAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "add <owner> <pool-id> <product-id>",
		Short:         "Create a pool over the owner's product",
		Example:       `  refresher pool add acme pool-1 X`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			st, err := opts.openStore()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err.Error(), err)
			}
			defer st.Close()

			pool, err := st.CreatePool(commandContext(cmd), args[0], args[1], args[2])
			switch {
			case model.IsNotFoundError(err):
				return formatter.Fail(ExitFailure, string(model.ErrCodeNotFound),
					fmt.Sprintf("owner %s has no product %s", args[0], args[2]), nil, err)
			case errors.Is(err, store.ErrPoolExists):
				return formatter.Fail(ExitFailure, ErrCodeCommand,
					fmt.Sprintf("pool %s already exists", args[1]), nil, err)
			case err != nil:
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to create pool", err.Error(), err)
			}

			if opts.Format == "json" {
				return formatter.Success(pool)
			}
			fmt.Fprintf(formatter.Writer, "Created pool %s for %s over product %s (%s)\n",
				pool.ID, pool.Owner, pool.ProductID, pool.ProductUUID)
			return nil
		},
	}
}

func newPoolRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <pool-id>",
		Short:         "Delete a pool",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			st, err := opts.openStore()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err.Error(), err)
			}
			defer st.Close()

			deleted, err := st.DeletePool(commandContext(cmd), args[0])
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to delete pool", err.Error(), err)
			}

			if opts.Format == "json" {
				return formatter.Success(map[string]any{"pool": args[0], "deleted": deleted})
			}
			if deleted {
				fmt.Fprintf(formatter.Writer, "Deleted pool %s\n", args[0])
			} else {
				fmt.Fprintf(formatter.Writer, "No pool %s\n", args[0])
			}
			return nil
		},
	}
}

func newPoolListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <owner>",
		Short:         "List the owner's pools",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			st, err := opts.openStore()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err.Error(), err)
			}
			defer st.Close()

			pools, err := st.ListPools(commandContext(cmd), args[0])
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list pools", err.Error(), err)
			}

			if opts.Format == "json" {
				if pools == nil {
					pools = []store.Pool{}
				}
				return formatter.Success(pools)
			}
			if len(pools) == 0 {
				fmt.Fprintf(formatter.Writer, "Owner %s has no pools.\n", args[0])
				return nil
			}
			for _, p := range pools {
				fmt.Fprintf(formatter.Writer, "%-16s %-20s %s\n", p.ID, p.ProductID, p.ProductUUID)
			}
			return nil
		},
	}
}
