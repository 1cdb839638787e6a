package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/refresher/internal/catalog"
	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/refresh"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version <catalog>",
		Short: "Print the content-addressed version of every catalog entity",
		Long: `Compute the version each product and content in a catalog would be
stored under. The catalog must be self-contained: every derived, provided
and content reference must name an entity in the same file.

No database is opened.`,
		Example: `  refresher version ./catalog.yaml
  refresher version ./catalog.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(rootOpts, args[0], cmd)
		},
	}
}

func runVersion(opts *RootOptions, catalogPath string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	batch, err := catalog.LoadFile(catalogPath)
	if err != nil {
		if model.IsValidationError(err) {
			return formatter.Fail(ExitFailure, string(model.ErrCodeValidation), err.Error(), nil, err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeCatalog, "failed to load catalog", err.Error(), err)
	}

	versions, err := refresh.CatalogVersions(batch)
	if err != nil {
		code := string(model.CodeOf(err))
		if code == "" {
			code = ErrCodeCatalog
		}
		return formatter.Fail(ExitFailure, code, err.Error(), refreshErrorDetails(err), err)
	}

	if opts.Format == "json" {
		return formatter.Success(versions)
	}
	writeVersionText(formatter.Writer, versions)
	return nil
}

func writeVersionText(w io.Writer, versions []refresh.CatalogVersion) {
	for _, v := range versions {
		fmt.Fprintf(w, "%-8s %-20s %016x\n", v.Type, v.ID, v.Version)
	}
}
