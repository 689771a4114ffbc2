package core

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverInputs(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{"b.md", "a/c.TXT", "a/skip.pdf", ".hidden/x.md", "d.csv"} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	inputs, err := DiscoverInputs(dir, []string{"md", ".txt", ".csv"})
	require.NoError(t, err)
	var ids []string
	for _, in := range inputs {
		ids = append(ids, in.ID)
	}
	assert.Equal(t, []string{"a/c.TXT", "b.md", "d.csv"}, ids)
	assert.Equal(t, "a/c.csv", inputs[0].OutputRel())
}

func TestDiscoverInputsMissingDir(t *testing.T) {
	_, err := DiscoverInputs(filepath.Join(t.TempDir(), "nope"), []string{".md"})
	assert.Error(t, err)
}

func TestExecConverter(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	p := filepath.Join(t.TempDir(), "doc.docx")
	require.NoError(t, os.WriteFile(p, []byte("# Converted"), 0o644))

	conv := NewExecConverter(ConverterConfig{Binary: "cat", Timeout: Duration(5 * time.Second)})
	text, err := LoadInput(context.Background(), Input{ID: "doc.docx", Path: p}, conv)
	require.NoError(t, err)
	assert.Equal(t, "# Converted", text)
}

func TestExecConverterFailure(t *testing.T) {
	conv := &ExecConverter{Binary: filepath.Join(t.TempDir(), "missing-binary")}
	_, err := conv.Convert(context.Background(), "x.docx")
	assert.Error(t, err)
}

func TestNewExecConverterDisabled(t *testing.T) {
	assert.Nil(t, NewExecConverter(ConverterConfig{}))
}

func TestDiscoverInputsDistinctOutputs(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{"a.md", "a.txt", "a.txt.csv", "sub/a.md"} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	inputs, err := DiscoverInputs(dir, []string{".md", ".txt", ".csv"})
	require.NoError(t, err)
	got := map[string]string{}
	for _, in := range inputs {
		got[in.ID] = in.OutputRel()
	}
	assert.Equal(t, map[string]string{
		"a.md":      "a.csv",
		"a.txt":     "a.txt.csv",
		"a.txt.csv": "a.txt.csv.csv",
		"sub/a.md":  "sub/a.csv",
	}, got)
}

func TestExecConverterCancelledReportsContextError(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	conv := &ExecConverter{Binary: "sleep"}
	_, err := conv.Convert(ctx, "10")
	require.ErrorIs(t, err, context.Canceled)
}
