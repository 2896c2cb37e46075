package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// xdgDir resolves $env, falling back to $HOME/<rel> and then to fallback.
func xdgDir(env, rel, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, rel)
}

func defaultDataDir() string {
	base := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"), "")
	if base == "" {
		return "rat-data"
	}
	return filepath.Join(base, "rat")
}

// FilePath returns the location of the JSON config file.
func FilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config", "."), "rat", "config.json")
}

// fileBackend keeps config keys as raw JSON values in a single object file.
// Values are decoded on read, so "5000" and 5000 are both a valid port.
type fileBackend struct {
	path   string
	values map[string]json.RawMessage
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(FilePath())
}

// newFileBackend reads path if present. An unreadable or malformed file is
// logged and treated as empty.
func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: map[string]json.RawMessage{}}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		slog.Warn("config file unreadable, using defaults", "path", path, "error", err)
	default:
		if err := json.Unmarshal(raw, &b.values); err != nil {
			slog.Warn("config file malformed, using defaults", "path", path, "error", err)
			b.values = map[string]json.RawMessage{}
		}
	}
	return b
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	raw, ok := b.values[key]
	if !ok {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Numbers and booleans read back as their literal text.
		return strings.TrimSpace(string(raw)), true, nil
	}
	return s, true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	raw, ok := b.values[key]
	if !ok {
		return 0, false, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, true, fmt.Errorf("%s: %s is not an integer", key, raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	return b.put(key, val)
}

func (b *fileBackend) SetInt(key string, val int) error {
	return b.put(key, val)
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.flush()
}

func (b *fileBackend) put(key string, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	b.values[key] = raw
	return b.flush()
}

// flush rewrites the file through a temp file in the same directory, so a
// failed write leaves the previous config intact.
func (b *fileBackend) flush() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}
