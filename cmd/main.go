package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"extract-core/core"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	verbose    bool
	logFormat  string
}

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:           "extract",
	Short:         "Batch-extract question and answer tables from documents",
	Long:          "extract sends every input document to a generative backend, reconciles the\nresponses into a validated five-column table and archives inputs that fail.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		l, err := newLogger(rootFlags.verbose, rootFlags.logFormat)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		logger = l
		zap.ReplaceGlobals(l)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&rootFlags.configPath, "config", "c", "", "YAML config file")
	f.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Enable debug logging")
	f.StringVar(&rootFlags.logFormat, "log-format", "json", "Log encoding: json or console")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.Version = version
}

func newLogger(verbose bool, encoding string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	switch encoding {
	case "json", "":
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", encoding)
	}
	return cfg.Build()
}

func loadConfig() (core.Config, error) {
	return core.LoadConfig(rootFlags.configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
