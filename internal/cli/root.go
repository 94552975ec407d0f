// Package cli implements the flockctl operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"flockbridge.io/flockbridge/internal/app/modules"
	"flockbridge.io/flockbridge/internal/config"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/provider"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags and state shared by all commands.
type RootOptions struct {
	ConfigPath string
	Format     string
	Verbose    bool

	// Config is loaded before any subcommand runs.
	Config *config.Config

	// NewClient builds the provider client.
	NewClient func(config.SyncConfig) provider.Client
}

// NewRootCommand creates the flockctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{
		NewClient: func(cfg config.SyncConfig) provider.Client { return modules.NewProviderClient(cfg) },
	})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "flockctl",
		Short:         "Operate the flockbridge sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.LoadFile(opts.ConfigPath)
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if opts.Verbose {
				level = "debug"
			}
			if err := logger.Init(level, "console"); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

// render writes v as indented JSON, or calls text for the text format.
func (o *RootOptions) render(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
