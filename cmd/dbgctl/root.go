package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/debugengine/internal/config"
	"github.com/dshills/debugengine/internal/logging"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFile    string
	debug      bool

	settings config.Settings
	out      io.Writer
	in       io.Reader
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{out: os.Stdout, in: os.Stdin}

	root := &cobra.Command{
		Use:   "dbgctl",
		Short: "Drive a Debug Adapter Protocol adapter from the terminal",
		Long: `dbgctl starts a debug session against any Debug Adapter Protocol
adapter and reads debugger commands from stdin.

Settings are read from the file given with --config (TOML or YAML) and
may be overridden with DBGENGINE_* environment variables.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return opts.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Settings file (.toml, .yaml or .yml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides settings)")
	flags.StringVar(&opts.logFile, "log-file", "", "Log file path, rotated automatically (overrides settings)")
	flags.BoolVar(&opts.debug, "debug", false, "Shorthand for --log-level=debug")

	root.AddCommand(
		newSessionCommand(opts, "launch"),
		newSessionCommand(opts, "attach"),
		newAdaptersCommand(opts),
	)
	return root
}

// setup loads settings and initializes logging.
func (o *globalOptions) setup() error {
	settings, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	switch {
	case o.logLevel != "":
		settings.Logging.Level = o.logLevel
	case o.debug:
		settings.Logging.Level = "debug"
	}
	if o.logFile != "" {
		settings.Logging.File = o.logFile
	}
	o.settings = settings

	if err := logging.Initialize(logging.Config{
		Level:      settings.Logging.Level,
		File:       settings.Logging.File,
		MaxSizeMB:  settings.Logging.MaxSizeMB,
		MaxBackups: settings.Logging.MaxBackups,
		JSON:       settings.Logging.JSON,
		Components: settings.Logging.Components,
	}); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	return nil
}
