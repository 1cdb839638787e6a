package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewOrphansCommand creates the orphans command.
func NewOrphansCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "List entity rows nothing references",
		Long: `List product and content rows that no owner, parent product or pool
references. Refreshes never delete rows; this listing feeds an external
cleanup job.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			st, err := rootOpts.openStore()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err.Error(), err)
			}
			defer st.Close()

			orphans, err := st.ListOrphans(commandContext(cmd))
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list orphans", err.Error(), err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(orphans)
			}
			if len(orphans) == 0 {
				fmt.Fprintln(formatter.Writer, "No orphaned rows.")
				return nil
			}
			for _, o := range orphans {
				fmt.Fprintf(formatter.Writer, "%-8s %-20s %s %016x\n", o.Type, o.ID, o.UUID, o.Version)
			}
			return nil
		},
	}
}
