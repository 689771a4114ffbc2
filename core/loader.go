package core

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// textExtensions are read as-is; anything else goes through a Converter.
var textExtensions = map[string]bool{".md": true, ".txt": true, ".csv": true}

// Input is one discovered source document.
type Input struct {
	// ID is the slash-separated path relative to the input directory.
	ID   string `json:"id"`
	Path string `json:"path"`
	// Output overrides the derived output path when two inputs would share it.
	Output string `json:"output,omitempty"`
}

// OutputRel returns the input's relative path with a .csv extension.
func (in Input) OutputRel() string {
	if in.Output != "" {
		return in.Output
	}
	return strings.TrimSuffix(in.ID, filepath.Ext(in.ID)) + ".csv"
}

// assignOutputs keeps the derived name for the first input claiming it and
// gives later ones a name that keeps the source extension.
func assignOutputs(inputs []Input) {
	taken := make(map[string]bool, len(inputs))
	for i := range inputs {
		out := inputs[i].OutputRel()
		if taken[out] {
			out = inputs[i].ID + ".csv"
			for n := 2; taken[out]; n++ {
				out = fmt.Sprintf("%s-%d.csv", inputs[i].ID, n)
			}
			inputs[i].Output = out
		}
		taken[out] = true
	}
}

// Converter turns a non-text document into markdown.
type Converter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// ExecConverter runs an external binary and reads the converted document from
// its stdout.
type ExecConverter struct {
	Binary  string
	Args    []string
	Timeout time.Duration
}

func NewExecConverter(cfg ConverterConfig) *ExecConverter {
	if cfg.Binary == "" {
		return nil
	}
	return &ExecConverter{Binary: cfg.Binary, Args: cfg.Args, Timeout: cfg.Timeout.ToDuration()}
}

func (c *ExecConverter) Convert(ctx context.Context, path string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), c.Args...), path)
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", eris.Wrapf(ctxErr, "convert %s", path)
		}
		return "", eris.Wrapf(err, "convert %s: %s", path, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// DiscoverInputs walks dir for files with one of exts, skipping hidden
// entries. The result is sorted by ID.
func DiscoverInputs(dir string, exts []string) ([]Input, error) {
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[e] = true
	}

	var inputs []Input
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !allowed[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		inputs = append(inputs, Input{ID: filepath.ToSlash(rel), Path: path})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scan inputs in %s", dir)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].ID < inputs[j].ID })
	assignOutputs(inputs)
	return inputs, nil
}

// LoadInput returns the text of in. Text formats are read directly; other
// formats require conv.
func LoadInput(ctx context.Context, in Input, conv Converter) (string, error) {
	ext := strings.ToLower(filepath.Ext(in.Path))
	if textExtensions[ext] {
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return "", eris.Wrapf(err, "read %s", in.ID)
		}
		return string(data), nil
	}
	if conv == nil {
		return "", eris.Errorf("no converter configured for %s files", ext)
	}
	return conv.Convert(ctx, in.Path)
}
