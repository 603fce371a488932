// Package artifacts is the path-addressed durable store: JSON documents with
// 2-space indent and parquet tables, laid out as <root>/<scope>/<date>/.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// ErrMissing marks a read of an artifact that was never produced.
var ErrMissing = errors.New("artifact missing")

// Store addresses one artifact tree.
type Store struct {
	Root string
}

// Dir returns (and creates) the directory for a scope and date.
func (s Store) Dir(scope, date string) (string, error) {
	dir := filepath.Join(s.Root, scope, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact dir %s: %w", dir, err)
	}
	return dir, nil
}

// Path returns the file path for an artifact without creating anything.
func (s Store) Path(scope, date, name string) string {
	return filepath.Join(s.Root, scope, date, name)
}

// WriteJSON persists v with 2-space indent via write-to-temp and atomic
// rename. A transient failure is retried once.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := writeAtomic(path, data); err != nil {
		if err2 := writeAtomic(path, data); err2 != nil {
			return fmt.Errorf("write %s: %w", path, err2)
		}
	}
	return nil
}

// ReadJSON loads an artifact into v; a missing file yields ErrMissing.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", path, ErrMissing)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// WriteParquet persists rows as a parquet table.
func WriteParquet[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("parquet dir %s: %w", path, err)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadParquet loads a parquet table; a missing file yields ErrMissing.
func ReadParquet[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", path, ErrMissing)
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// IsMissing reports whether err stems from an absent artifact.
func IsMissing(err error) bool {
	return errors.Is(err, ErrMissing)
}
