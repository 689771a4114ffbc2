package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extract-core/core"
	"extract-core/failure"
)

func TestNewLogger(t *testing.T) {
	for _, enc := range []string{"", "json", "console"} {
		l, err := newLogger(true, enc)
		require.NoError(t, err, enc)
		assert.NotNil(t, l)
	}
	_, err := newLogger(false, "xml")
	assert.Error(t, err)
}

func TestApplyRunFlagsOnlyOverridesChangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().AddFlagSet(runCmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{"--workers", "9", "--mode", "structured"}))

	cfg := core.DefaultConfig()
	applyRunFlags(cmd, &cfg)
	assert.Equal(t, 9, cfg.Workers)
	assert.Equal(t, core.ModeStructured, cfg.Mode)
	assert.Equal(t, core.DefaultConfig().Samples, cfg.Samples)
	assert.Equal(t, core.DefaultConfig().InputDir, cfg.InputDir)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printSummary(cmd, &core.RunSummary{
		RunID:            "r1",
		Mode:             core.ModeCSV,
		StopLevel:        core.SoftStop.String(),
		StopReason:       "received interrupt",
		Total:            3,
		Succeeded:        1,
		Failed:           1,
		Cancelled:        1,
		ErrorStatsByType: map[failure.Type]int{failure.Timeout: 1, failure.UserCancelled: 1},
	})

	out := buf.String()
	assert.Contains(t, out, "Run r1 (csv)")
	assert.Contains(t, out, "Stopped:   soft_stop (received interrupt)")
	assert.Regexp(t, `timeout\s+1`, out)
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("timeout")), bytes.Index(buf.Bytes(), []byte("user_cancelled")))
}
