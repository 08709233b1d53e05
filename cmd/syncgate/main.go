// Command syncgate runs the integration gateway and its operator tooling.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"syncgate/internal/buildinfo"
	"syncgate/internal/config"
	"syncgate/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "syncgate",
		Short:         "syncgate - back-office integration gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file (default ./syncgate.yaml when present)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(flags),
		newConnectorsCmd(),
		newEnqueueCmd(flags),
		newMappingsCmd(flags),
		newWatchCmd(),
		newTokenCmd(flags),
		newKeygenCmd(),
		newVersionCmd(),
	)
	return root
}

// load reads configuration and builds the logger for a command.
func (f *rootFlags) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	l, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := buildinfo.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "syncgate %s (commit %s, built %s)\n", info["version"], info["commit"], info["builtAt"])
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
