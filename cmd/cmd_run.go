package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"extract-core/core"
	"extract-core/failure"
)

var runFlags struct {
	input      string
	output     string
	mode       string
	workers    int
	samples    int
	apiAddr    string
	healthAddr string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every input document",
	Long: "Process every input document. The first SIGINT or SIGTERM stops dispatching new\n" +
		"tasks and lets running ones finish; a second one aborts running requests.",
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.input, "input", "i", "", "Input directory (overrides input_dir)")
	f.StringVarP(&runFlags.output, "output", "o", "", "Output directory (overrides output_dir)")
	f.StringVar(&runFlags.mode, "mode", "", "Extraction mode: csv or structured")
	f.IntVarP(&runFlags.workers, "workers", "w", 0, "Concurrent requests")
	f.IntVarP(&runFlags.samples, "samples", "n", 0, "Samples per input in csv mode")
	f.StringVar(&runFlags.apiAddr, "api-addr", "", "Serve the control API on this address")
	f.StringVar(&runFlags.healthAddr, "health-addr", "", "Serve gRPC health on this address")
}

func applyRunFlags(cmd *cobra.Command, cfg *core.Config) {
	f := cmd.Flags()
	if f.Changed("input") {
		cfg.InputDir = runFlags.input
	}
	if f.Changed("output") {
		cfg.OutputDir = runFlags.output
	}
	if f.Changed("mode") {
		cfg.Mode = core.Mode(runFlags.mode)
	}
	if f.Changed("workers") {
		cfg.Workers = runFlags.workers
	}
	if f.Changed("samples") {
		cfg.Samples = runFlags.samples
	}
	if f.Changed("api-addr") {
		cfg.Server.APIAddr = runFlags.apiAddr
	}
	if f.Changed("health-addr") {
		cfg.Server.HealthAddr = runFlags.healthAddr
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	primary, fallback, err := core.NewClients(cfg)
	if err != nil {
		return err
	}
	deps := core.PipelineDeps{Client: primary, Fallback: fallback, Logger: logger}
	if conv := core.NewExecConverter(cfg.Converter); conv != nil {
		deps.Converter = conv
	}
	pipeline, err := core.NewPipeline(cfg, deps)
	if err != nil {
		return err
	}
	controller := pipeline.Controller()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go handleSignals(ctx, controller)

	if cfg.Server.APIAddr != "" {
		api := core.NewAPIServer(controller, pipeline.RunID(), logger)
		go func() {
			if err := api.Start(cfg.Server.APIAddr); err != nil {
				logger.Error("api server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = api.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Server.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.HealthAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Server.HealthAddr, err)
		}
		health := core.NewHealthServer(controller, logger)
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error("health server stopped", zap.Error(err))
			}
		}()
		defer health.Stop()
	}

	summary, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(cmd, summary)
	return nil
}

// handleSignals maps the first interrupt to a soft stop and the second to a
// hard stop.
func handleSignals(ctx context.Context, controller *core.RunController) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			reason := "received " + sig.String()
			if controller.Level() == core.Running {
				logger.Warn("stopping after running tasks finish; signal again to abort", zap.String("signal", sig.String()))
				controller.SoftStop(reason)
				continue
			}
			logger.Warn("aborting running tasks", zap.String("signal", sig.String()))
			controller.HardStop(reason)
			return
		}
	}
}

func printSummary(cmd *cobra.Command, s *core.RunSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nRun %s (%s)\n", s.RunID, s.Mode)
	fmt.Fprintf(out, "Total:     %d\n", s.Total)
	fmt.Fprintf(out, "Succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(out, "Failed:    %d\n", s.Failed)
	fmt.Fprintf(out, "Cancelled: %d\n", s.Cancelled)
	if s.StopLevel != core.Running.String() {
		fmt.Fprintf(out, "Stopped:   %s (%s)\n", s.StopLevel, s.StopReason)
	}
	fmt.Fprintf(out, "Tokens:    %d prompt, %d output over %d calls\n",
		s.TokenStats.PromptTokens, s.TokenStats.OutputTokens, s.TokenStats.Calls)

	if len(s.ErrorStatsByType) > 0 {
		fmt.Fprintf(out, "Errors by type:\n")
		types := make([]failure.Type, 0, len(s.ErrorStatsByType))
		for t := range s.ErrorStatsByType {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		for _, t := range types {
			fmt.Fprintf(out, "  %-18s %d\n", t, s.ErrorStatsByType[t])
		}
	}
}
