// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command vegtrace runs a traceability session tab and operates on the
// shared session space of a workstation.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/vegtrace/internal/config"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/version"
	"github.com/spf13/cobra"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) Unwrap() error { return e.err }

type rootOptions struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "vegtrace",
		Short:         "Session client for the produce traceability workstation",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (YAML); defaults to $VEGTRACE_DATA/config.yaml if present")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newRunCmd(opts),
		newConfigCmd(opts),
		newSessionsCmd(opts),
		newForceLogoutCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath prefers an explicit path and otherwise picks up
// config.yaml from the data directory.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(os.Getenv("VEGTRACE_DATA"))
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	auto := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(auto); err == nil {
		return auto
	}
	return ""
}

// loadConfig loads and validates the configuration, then configures the
// global logger from it.
func loadConfig(opts *rootOptions) (*config.Loader, config.AppConfig, error) {
	loader := config.NewLoader(resolveConfigPath(opts.configPath), version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, cfg, exitError{code: 1, err: err}
	}
	level := cfg.Log.Level
	if opts.verbose {
		level = "debug"
	}
	log.Configure(log.Config{
		Level:   level,
		Output:  os.Stderr,
		Service: cfg.Log.Service,
		Version: version.Version,
	})
	return loader, cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "vegtrace "+version.String())
		},
	}
}
