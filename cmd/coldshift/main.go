package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coldshift/coldshift/internal/config"
	"github.com/coldshift/coldshift/internal/engine"
	"github.com/coldshift/coldshift/internal/stats"
	"github.com/coldshift/coldshift/internal/tier"
	"github.com/coldshift/coldshift/internal/verify"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		verbose     bool
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:           "coldshift",
		Short:         "Policy-driven data tiering across chained storage pools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "coldshift %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath,
		"path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	rootCmd.AddCommand(
		newRunCmd(&configPath, &verbose),
		newPlanCmd(&configPath, &verbose),
		newStatusCmd(&configPath, &verbose),
		newConfigCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coldshift: %v\n", err)
		return 1
	}
	return 0
}

func newRunCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Perform one tiering pass",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			eng, logger, err := buildEngine(*configPath, *verbose, false)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // stderr sync
			return eng.Run()
		},
	}
}

func newPlanCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Evaluate a tiering pass without moving anything",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			eng, logger, err := buildEngine(*configPath, *verbose, true)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // stderr sync
			if err := eng.Run(); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "Predicted layout after this pass:")
			eng.DumpCatalogs(os.Stdout)
			return nil
		},
	}
}

func newStatusCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Crawl every tier and dump the ranked catalogs",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			eng, logger, err := buildEngine(*configPath, *verbose, false)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // stderr sync
			if err := eng.Scan(); err != nil {
				return err
			}
			eng.DumpCatalogs(os.Stdout)
			return nil
		},
	}
}

func newConfigCmd(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write a sample configuration file",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				if err := config.WriteSample(*configPath); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "wrote %s\n", *configPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Dump the resolved configuration",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				return cfg.Dump(os.Stdout)
			},
		},
	)
	return configCmd
}

// buildEngine loads config, validates the topology, and wires the engine.
func buildEngine(configPath string, verbose, dryRun bool) (*engine.Engine, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	topo, err := tier.NewTopology(cfg.TierList())
	if err != nil {
		return nil, nil, err
	}

	chain, err := cfg.FilterChain()
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg.Global.LogLevel, verbose)
	if err != nil {
		return nil, nil, err
	}

	hash := cfg.Hash()
	eng := engine.New(engine.Config{
		Topology:        topo,
		Filter:          chain,
		DefaultPriority: cfg.Global.DefaultPriority,
		DryRun:          dryRun,
		Verify: func(src, dst string) error {
			return verify.Compare(src, dst, hash)
		},
		Logger: logger,
		Stats:  stats.NewCollector(),
	})
	return eng, logger, nil
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}
