package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"holectl/internal/config"
	"holectl/internal/logging"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     = slog.Default()
	configPath string // overridable via --config flag
	logLevel   string
)

// errActionFailed signals a result line with ok:false; it has already been printed.
var errActionFailed = errors.New("action failed")

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errActionFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "holectl",
		Short:         "holectl: drive a Pi-hole style DNS filter from scripts and alert pipelines",
		Long:          "holectl blocks and unblocks domains and toggles DNS blocking on a filtering appliance,\nreusing the appliance session across invocations.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgFlag, levelFlag string
	root.PersistentFlags().StringVarP(&cfgFlag, "config", "c", "", "path to config file, .json or .yaml (default: ~/.holectl/config.json)")
	root.PersistentFlags().StringVar(&levelFlag, "log-level", "", "override log.level (debug, info, warn, error)")
	// Flags override package state only when given.
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if cfgFlag != "" {
			configPath = cfgFlag
		}
		if levelFlag != "" {
			logLevel = levelFlag
		}
	}

	root.AddCommand(runCmd())
	for _, c := range actionCmds() {
		root.AddCommand(c)
	}
	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(sessionCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(doctorCmd())
	return root
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file (or defaults when it does not exist) and
// replaces the bootstrap logger with the configured one.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, loaded, err := config.LoadOrDefaults(cfgPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger = logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if !loaded {
		logger.Debug("config file not found, using defaults", "path", cfgPath)
	}
	return cfg, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
			fmt.Fprintln(cmd.OutOrStdout(), "next: set appliance.url, then 'holectl config set-password' or export "+config.EnvPassword)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
