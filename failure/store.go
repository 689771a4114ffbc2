package failure

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// WriteFileAtomic writes data to path through a temp file in the same
// directory followed by a rename, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "write %s", path)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "chmod %s", path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "sync %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "close %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "rename into %s", path)
	}
	return syncDir(dir)
}

// writeJSONAtomic marshals v with stable indentation and writes it atomically.
func writeJSONAtomic(path string, v any) error {
	data, err := marshalStable(v)
	if err != nil {
		return eris.Wrapf(err, "encode %s", path)
	}
	return WriteFileAtomic(path, data, 0o644)
}

func marshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// readJSON decodes path into v. A missing file reports ok=false without error.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, eris.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, eris.Wrapf(err, "decode %s", path)
	}
	return true, nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create directory %s", dir)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return eris.Wrapf(err, "open directory %s", dir)
	}
	defer d.Close()
	// Some filesystems reject fsync on directories; the rename already landed.
	_ = d.Sync()
	return nil
}

// copyFile copies src to dst atomically, creating parent directories.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return eris.Wrapf(err, "read %s", src)
	}
	return WriteFileAtomic(dst, data, 0o644)
}

// removeEmptyDirs removes dir and its parents while they are empty, stopping
// at (and never removing) stop.
func removeEmptyDirs(dir, stop string) {
	stop = filepath.Clean(stop)
	for {
		dir = filepath.Clean(dir)
		if dir == stop || len(dir) <= len(stop) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
