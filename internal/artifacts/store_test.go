package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type sampleRow struct {
	TrainID string  `parquet:"train_id"`
	Minutes float64 `parquet:"minutes"`
}

func TestDirLayout(t *testing.T) {
	t.Parallel()

	s := Store{Root: t.TempDir()}
	dir, err := s.Dir("national", "2026-08-25")
	if err != nil {
		t.Fatalf("expected dir, got %v", err)
	}
	if !strings.HasSuffix(dir, filepath.Join("national", "2026-08-25")) {
		t.Fatalf("expected scope/date layout, got %s", dir)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("expected created directory, got %v", err)
	}
}

func TestWriteJSONIndentAndRoundTrip(t *testing.T) {
	t.Parallel()

	s := Store{Root: t.TempDir()}
	path := s.Path("national", "2026-08-25", RiskKPIs)

	in := map[string]float64{"total_risks": 2, "critical": 1}
	if err := WriteJSON(path, in); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file, got %v", err)
	}
	if !strings.Contains(string(raw), "\n  \"critical\"") {
		t.Fatalf("expected 2-space indent, got %q", raw)
	}

	var out map[string]float64
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("expected read to succeed, got %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteJSONLeavesNoTemp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")
	if err := WriteJSON(path, map[string]int{"a": 1}); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("expected readable dir, got %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("expected temp file renamed away, found %s", e.Name())
		}
	}
}

func TestReadJSONMissing(t *testing.T) {
	t.Parallel()

	var v map[string]any
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	if !IsMissing(err) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rows.parquet")
	in := []sampleRow{{TrainID: "T1", Minutes: 3.5}, {TrainID: "T2", Minutes: 0}}
	if err := WriteParquet(path, in); err != nil {
		t.Fatalf("expected parquet write, got %v", err)
	}
	out, err := ReadParquet[sampleRow](path)
	if err != nil {
		t.Fatalf("expected parquet read, got %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadParquetMissing(t *testing.T) {
	t.Parallel()

	_, err := ReadParquet[sampleRow](filepath.Join(t.TempDir(), "absent.parquet"))
	if !IsMissing(err) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}
