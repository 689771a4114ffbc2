package failure

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	manifestName    = "manifest.json"
	diagnosticsName = "errors.json"
	manifestVersion = 1
)

// ErrorRecord describes one archived failure.
type ErrorRecord struct {
	Filename     string     `json:"filename"`
	InputPath    string     `json:"input_path"`
	RelPath      string     `json:"rel_path"`
	Stage        Stage      `json:"stage"`
	Type         Type       `json:"type"`
	Message      string     `json:"message"`
	Status       int        `json:"status,omitempty"`
	Code         string     `json:"code,omitempty"`
	AttemptsUsed int        `json:"attempts_used"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	RunID        string     `json:"run_id,omitempty"`
	RecordedAt   time.Time  `json:"recorded_at"`
	Fixed        bool       `json:"fixed,omitempty"`
	FixedAt      *time.Time `json:"fixed_at,omitempty"`
}

// Manifest is the archive index written at the archive root.
type Manifest struct {
	Version   int           `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
	Counts    map[Type]int  `json:"counts"`
	Total     int           `json:"total"`
	Entries   []ErrorRecord `json:"entries"`
}

// FixPolicy chooses what MarkFixed does with a repaired entry.
type FixPolicy string

const (
	FixRemove FixPolicy = "remove"
	FixFlag   FixPolicy = "flag"
)

// ArchiveOptions configures an Archive.
type ArchiveOptions struct {
	// CopyInputs copies each failing input into the archive.
	CopyInputs bool
	Logger     *zap.Logger
	// Now is used for timestamps; defaults to time.Now.
	Now func() time.Time
}

// Archive stores failing inputs grouped by error type. It is safe for
// concurrent use.
type Archive struct {
	mu      sync.Mutex
	root    string
	opts    ArchiveOptions
	logger  *zap.Logger
	entries []ErrorRecord
}

// OpenArchive opens (or prepares) the archive rooted at root. Entries from an
// existing manifest are loaded so successive runs accumulate.
func OpenArchive(root string, opts ArchiveOptions) (*Archive, error) {
	if root == "" {
		return nil, eris.New("archive root is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &Archive{root: root, opts: opts, logger: opts.Logger.With(zap.String("component", "archive"))}

	var m Manifest
	ok, err := readJSON(filepath.Join(root, manifestName), &m)
	if err != nil {
		return nil, err
	}
	if ok {
		a.entries = m.Entries
	}
	return a, nil
}

// Root returns the archive directory.
func (a *Archive) Root() string { return a.root }

// Record archives a failure. A missing Type is replaced by UnknownError and a
// missing timestamp by the current time.
func (a *Archive) Record(rec ErrorRecord) error {
	if rec.Type == "" || !rec.Type.Known() {
		rec.Type = UnknownError
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = a.opts.Now().UTC()
	}
	if rec.RelPath == "" {
		rec.RelPath = filepath.Base(rec.InputPath)
	}
	if rec.Filename == "" {
		rec.Filename = filepath.Base(rec.RelPath)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opts.CopyInputs && rec.InputPath != "" {
		if err := copyFile(rec.InputPath, a.copyPath(rec)); err != nil {
			return eris.Wrapf(err, "archive input %s", rec.RelPath)
		}
	}

	diagPath := a.diagnosticsPath(rec)
	var diags []ErrorRecord
	if _, err := readJSON(diagPath, &diags); err != nil {
		return err
	}
	diags = append(diags, rec)
	if err := writeJSONAtomic(diagPath, diags); err != nil {
		return err
	}

	a.entries = append(a.entries, rec)
	a.logger.Info("archived failure",
		zap.String("file", rec.RelPath),
		zap.String("type", string(rec.Type)),
		zap.String("stage", string(rec.Stage)))
	return nil
}

// Finalize writes the manifest. Calling it with no entries on a fresh archive
// writes nothing.
func (a *Archive) Finalize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		if _, err := os.Stat(a.root); os.IsNotExist(err) {
			return nil
		}
	}
	return a.writeManifestLocked()
}

// Manifest returns a snapshot of the current index.
func (a *Archive) Manifest() Manifest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manifestLocked()
}

// Counts returns the number of unfixed entries per type.
func (a *Archive) Counts() map[Type]int {
	return a.Manifest().Counts
}

// Entries returns the entries of one type, or all entries when t is empty.
func (a *Archive) Entries(t Type) []ErrorRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ErrorRecord, 0, len(a.entries))
	for _, e := range a.entries {
		if t == "" || e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MarkFixedResult reports what MarkFixed did.
type MarkFixedResult struct {
	Matched  []string `json:"matched"`
	NotFound []string `json:"not_found,omitempty"`
	Pruned   bool     `json:"pruned"`
}

// MarkFixed resolves archived entries matching names (by filename or relative
// path). With FixRemove the archived copy, diagnostics entry and manifest
// entry are deleted; with FixFlag they are kept and flagged. When prune is set
// and nothing unfixed remains, the whole archive directory is removed.
func (a *Archive) MarkFixed(names []string, policy FixPolicy, prune bool) (MarkFixedResult, error) {
	if policy == "" {
		policy = FixRemove
	}
	if policy != FixRemove && policy != FixFlag {
		return MarkFixedResult{}, eris.Errorf("unknown fix policy %q", policy)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var res MarkFixedResult
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = false
	}

	now := a.opts.Now().UTC()
	kept := a.entries[:0:0]
	touched := map[string][]ErrorRecord{}
	for _, e := range a.entries {
		key := matchKey(wanted, e)
		if key == "" {
			kept = append(kept, e)
			continue
		}
		wanted[key] = true
		res.Matched = append(res.Matched, e.RelPath)
		touched[a.diagnosticsPath(e)] = append(touched[a.diagnosticsPath(e)], e)

		switch policy {
		case FixRemove:
			if err := os.Remove(a.copyPath(e)); err != nil && !os.IsNotExist(err) {
				return res, eris.Wrapf(err, "remove archived copy of %s", e.RelPath)
			}
			removeEmptyDirs(filepath.Dir(a.copyPath(e)), a.root)
		case FixFlag:
			e.Fixed = true
			e.FixedAt = &now
			kept = append(kept, e)
		}
	}
	a.entries = kept

	for diagPath, recs := range touched {
		if err := a.rewriteDiagnosticsLocked(diagPath, recs, policy, now); err != nil {
			return res, err
		}
	}

	for n, found := range wanted {
		if !found {
			res.NotFound = append(res.NotFound, n)
		}
	}
	sort.Strings(res.NotFound)

	if prune && a.unfixedLocked() == 0 {
		if err := os.RemoveAll(a.root); err != nil {
			return res, eris.Wrapf(err, "prune archive %s", a.root)
		}
		a.entries = nil
		res.Pruned = true
		a.logger.Info("pruned empty archive", zap.String("root", a.root))
		return res, nil
	}

	if err := a.writeManifestLocked(); err != nil {
		return res, err
	}
	return res, nil
}

func (a *Archive) rewriteDiagnosticsLocked(path string, fixed []ErrorRecord, policy FixPolicy, now time.Time) error {
	var diags []ErrorRecord
	if _, err := readJSON(path, &diags); err != nil {
		return err
	}
	out := diags[:0]
	for _, d := range diags {
		hit := false
		for _, f := range fixed {
			if d.RelPath == f.RelPath && d.RecordedAt.Equal(f.RecordedAt) {
				hit = true
				break
			}
		}
		switch {
		case !hit:
			out = append(out, d)
		case policy == FixFlag:
			d.Fixed = true
			d.FixedAt = &now
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return eris.Wrapf(err, "remove %s", path)
		}
		removeEmptyDirs(filepath.Dir(path), a.root)
		return nil
	}
	return writeJSONAtomic(path, out)
}

func (a *Archive) manifestLocked() Manifest {
	m := Manifest{
		Version:   manifestVersion,
		UpdatedAt: a.opts.Now().UTC(),
		Counts:    make(map[Type]int),
		Entries:   append([]ErrorRecord(nil), a.entries...),
	}
	for _, e := range a.entries {
		if !e.Fixed {
			m.Counts[e.Type]++
			m.Total++
		}
	}
	return m
}

func (a *Archive) writeManifestLocked() error {
	return writeJSONAtomic(filepath.Join(a.root, manifestName), a.manifestLocked())
}

func (a *Archive) unfixedLocked() int {
	n := 0
	for _, e := range a.entries {
		if !e.Fixed {
			n++
		}
	}
	return n
}

func (a *Archive) copyPath(rec ErrorRecord) string {
	return filepath.Join(a.root, string(rec.Type), filepath.FromSlash(rec.RelPath))
}

func (a *Archive) diagnosticsPath(rec ErrorRecord) string {
	return filepath.Join(a.root, string(rec.Type), filepath.Dir(filepath.FromSlash(rec.RelPath)), diagnosticsName)
}

func matchKey(wanted map[string]bool, e ErrorRecord) string {
	if _, ok := wanted[e.RelPath]; ok {
		return e.RelPath
	}
	if _, ok := wanted[e.Filename]; ok {
		return e.Filename
	}
	return ""
}
