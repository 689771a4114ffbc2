package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"extract-core/core"
	llmclient "extract-core/llm-client"
)

var probeFlags struct {
	timeout time.Duration
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the configured providers are reachable",
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().DurationVar(&probeFlags.timeout, "timeout", 5*time.Second, "Probe timeout per provider")
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	providers := []core.ProviderConfig{cfg.Provider}
	if cfg.Fallback != nil {
		providers = append(providers, *cfg.Fallback)
	}

	out := cmd.OutOrStdout()
	unreachable := 0
	for _, pc := range providers {
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = llmclient.DefaultBaseURL(pc.Name)
		}
		res := llmclient.Probe(cmd.Context(), baseURL, probeFlags.timeout)
		if !res.Reachable {
			unreachable++
			fmt.Fprintf(out, "%-10s %s unreachable: %v\n", pc.Name, baseURL, res.Err)
			continue
		}
		fmt.Fprintf(out, "%-10s %s reachable (HTTP %d, %s)\n", pc.Name, baseURL, res.StatusCode, res.Latency.Round(time.Millisecond))
	}
	if unreachable > 0 {
		return fmt.Errorf("%d of %d providers unreachable", unreachable, len(providers))
	}
	return nil
}
