// Package cli is the cprlink device runtime: one cobra command per user action
// on either the caregiver or the family phone.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satriahrh/cprlink/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	// Config is loaded by the root command before any subcommand runs
	Config *config.DeviceConfig
}

// NewRootCommand creates the root command for the cprlink CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cprlink",
		Short: "cprlink - CPR caregiver and family alerts",
		Long: `Pair a caregiver phone with a family phone and keep them in sync during
a CPR emergency. The caregiver raises the alert; the family is alarmed until
someone dismisses it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDevice(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.Log.Level = opts.LogLevel
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "device config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")

	cmd.AddCommand(NewPairCommand(opts))
	cmd.AddCommand(NewAlertCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewDismissCommand(opts))
	cmd.AddCommand(NewUnpairCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// Execute runs the root command
func Execute() error {
	if err := NewRootCommand().Execute(); err != nil {
		return fmt.Errorf("cprlink: %w", err)
	}
	return nil
}
