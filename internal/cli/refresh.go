package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/refresher/internal/catalog"
	"github.com/roach88/refresher/internal/jobstatus"
	"github.com/roach88/refresher/internal/logging"
	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/refresh"
	"github.com/roach88/refresher/internal/store"
)

// RefreshOptions holds flags for the refresh command.
type RefreshOptions struct {
	*RootOptions
	DryRun         bool
	AllowConflicts bool
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RefreshOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "refresh <owner> <catalog>",
		Short: "Refresh an owner from a catalog file",
		Long: `Reconcile the owner's products and contents with a catalog file.

The catalog is the owner's complete upstream view: entities the owner has
that the catalog does not mention are removed. Catalogs may be YAML, JSON
or CUE.

Exit codes:
  0 - Refresh applied (or planned, with --dry-run)
  1 - Refresh rejected (validation, cycle, conflict, unknown reference)
  2 - Command error (unreadable catalog, database error, etc.)

Examples:
  refresher refresh acme ./catalog.yaml
  refresher refresh acme ./catalog.cue --dry-run --format json
  refresher refresh acme ./catalog.json --allow-conflicts`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "resolve without writing")
	cmd.Flags().BoolVar(&opts.AllowConflicts, "allow-conflicts", false,
		"keep entities still used by pools instead of failing")

	return cmd
}

func runRefresh(opts *RefreshOptions, owner, catalogPath string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	batch, err := catalog.LoadFile(catalogPath)
	if err != nil {
		if model.IsValidationError(err) {
			return formatter.Fail(ExitFailure, string(model.ErrCodeValidation), err.Error(), nil, err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeCatalog, "failed to load catalog", err.Error(), err)
	}
	formatter.VerboseLog("Loaded %d product(s) and %d content(s) from %s",
		len(batch.Products), len(batch.Contents), catalogPath)

	st, err := opts.openStore()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err.Error(), err)
	}
	defer st.Close()

	sink, closeSink, err := opts.statusSink()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCommand, "failed to set up job status", err.Error(), err)
	}
	defer closeSink()

	ctx := commandContext(cmd)
	if timeout := opts.config().Refresh.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	refreshOpts := refresh.DefaultOptions()
	refreshOpts.DryRun = opts.DryRun
	refreshOpts.FailOnConflict = !(opts.AllowConflicts || opts.config().Refresh.AllowConflicts)

	report, err := refresh.New(st, refresh.WithStatusSink(sink)).Refresh(ctx, owner, batch, refreshOpts)
	if err != nil {
		if code := model.CodeOf(err); code != "" {
			return formatter.Fail(ExitFailure, string(code), err.Error(), refreshErrorDetails(err), err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeRefreshFail, "refresh failed", err.Error(), err)
	}

	if opts.Format == "json" {
		return formatter.SuccessWithRefreshID(report, report.RefreshID)
	}
	writeRefreshText(formatter.Writer, report)
	return nil
}

// statusSink returns the job-status sinks from config: always the log sink,
// plus Kafka when brokers are configured.
func (o *RootOptions) statusSink() (refresh.StatusSink, func(), error) {
	sinks := jobstatus.Multi{jobstatus.NewLogSink(logging.Component("jobstatus"))}
	closeFn := func() {}

	kafka := o.config().JobStatus.Kafka
	if kafka.Enabled() {
		ks, err := jobstatus.DialKafkaSink(kafka.Brokers, kafka.Topic, logging.Component("jobstatus"))
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, ks)
		closeFn = func() {
			if err := ks.Close(); err != nil {
				slog.Warn("closing kafka sink", "error", err)
			}
		}
	}
	return sinks, closeFn, nil
}

func asModelError(err error) *model.Error {
	var me *model.Error
	if errors.As(err, &me) {
		return me
	}
	return nil
}

func refreshErrorDetails(err error) map[string]any {
	me := asModelError(err)
	if me == nil {
		return nil
	}
	details := map[string]any{}
	if me.EntityID != "" {
		details["type"] = me.EntityType
		details["id"] = me.EntityID
	}
	if len(me.Chain) > 0 {
		details["chain"] = me.Chain
	}
	for k, v := range me.Details {
		details[k] = v
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func writeRefreshText(w io.Writer, report *refresh.Report) {
	header := "Refreshed"
	if report.DryRun {
		header = "Planned (dry run)"
	}
	fmt.Fprintf(w, "%s %s [%s]\n", header, report.Owner, report.RefreshID)
	for _, ch := range report.Changes {
		fmt.Fprintf(w, "  %-7s %-8s %-20s %s%s\n", ch.Kind, ch.Type, ch.ID, displayUUID(ch), changeNote(ch))
	}
	for _, c := range report.Conflicts {
		fmt.Fprintf(w, "  kept    %-8s %-20s %s (pools: %v)\n", c.Type, c.ID, c.UUID, c.Pools)
	}
	c := report.Counts
	fmt.Fprintf(w, "reused=%d adopted=%d created=%d mutated=%d removed=%d forked=%d conflicts=%d\n",
		c.Reused, c.Adopted, c.Created, c.Mutated, c.Removed, c.Forked, len(report.Conflicts))
}

func displayUUID(ch store.AppliedChange) string {
	if ch.UUID == "" {
		return "(new)"
	}
	return ch.UUID
}

func changeNote(ch store.AppliedChange) string {
	switch {
	case ch.Forked:
		return " forked from " + ch.PreviousUUID
	case ch.Collapsed:
		return " (collapsed)"
	default:
		return ""
	}
}
