// Package export saves test-case workbooks downloaded from the proxy and
// renders analysis threads to standalone HTML.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Kind string

const (
	KindThread Kind = "thread"
	KindApp    Kind = "app"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FileName returns the local file name for a downloaded workbook:
// testcases_<threadId>_<ts>.xlsx or testcases_app_<appId>_<ts>.xlsx, with ts
// being the UTC time to the millisecond and ':' and '.' replaced by '-'.
func FileName(kind Kind, id string, now time.Time) string {
	ts := now.UTC().Format(timestampLayout)
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	if kind == KindApp {
		return fmt.Sprintf("testcases_app_%s_%s.xlsx", id, ts)
	}
	return fmt.Sprintf("testcases_%s_%s.xlsx", id, ts)
}

// Save writes data to dir/name through a temporary file so readers never see
// a partial workbook. It returns the final path.
func Save(dir, name string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("chmod %s: %w", name, err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("renaming into %s: %w", path, err)
	}
	return path, nil
}
