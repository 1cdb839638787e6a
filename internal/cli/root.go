package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/refresher/internal/config"
	"github.com/roach88/refresher/internal/logging"
	"github.com/roach88/refresher/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DB         string

	// Config is loaded before any subcommand runs.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the refresher CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "refresher",
		Short: "Refresh owner product and content catalogs",
		Long: `Reconcile an owner's products and contents with an upstream catalog.

Entities are stored once per content-addressed version and shared by every
owner that imports them. Changing a shared entity forks it; removing one that
an active pool still uses is refused.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to SQLite database (overrides config)")

	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))
	cmd.AddCommand(NewPoolCommand(opts))
	cmd.AddCommand(NewOrphansCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// load reads the config, applies flag overrides and sets up logging.
// Log output goes to stderr so JSON on stdout stays parseable.
func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.DB != "" {
		cfg.DB = o.DB
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid log level", err)
	}
	logging.InitWriter(cmd.ErrOrStderr(), level, cfg.Log.Format == "json")

	o.Config = cfg
	return nil
}

// config returns the loaded config, or the defaults with the --db flag
// applied when the command runs without the root's pre-run hook.
func (o *RootOptions) config() *config.Config {
	if o.Config != nil {
		return o.Config
	}
	cfg := config.Default()
	if o.DB != "" {
		cfg.DB = o.DB
	}
	return cfg
}

// openStore opens the configured database.
func (o *RootOptions) openStore() (*store.Store, error) {
	return store.Open(o.config().DB)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
