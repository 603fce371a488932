package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("expected empty config, got %v", err)
	}
	applyDefaults(cfg)
	if cfg.Artifacts != "artifacts" || cfg.Scope != "demo_section" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.CadenceSec != 120 {
		t.Fatalf("expected 120s default cadence, got %d", cfg.CadenceSec)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info log level, got %q", cfg.LogLevel)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sectiond.yaml")
	doc := `
artifacts: /var/lib/section
scope: SEC1
date: 2026-08-25
cadence_sec: 30
live: true
drops:
  - name: crs
    path: /drops/crs.jsonl
  - name: yard
    path: /drops/yard.jsonl
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("expected config file, got %v", err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("expected parsed config, got %v", err)
	}
	if cfg.Scope != "SEC1" || cfg.CadenceSec != 30 || !cfg.Live {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if len(cfg.Drops) != 2 || cfg.Drops[1].Name != "yard" {
		t.Fatalf("expected 2 drops, got %+v", cfg.Drops)
	}

	// Flag overrides win over file values.
	override(&cfg.Scope, "SEC2")
	override(&cfg.Date, "")
	if cfg.Scope != "SEC2" || cfg.Date != "2026-08-25" {
		t.Fatalf("expected override semantics, got %+v", cfg)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sectiond.yaml")
	if err := os.WriteFile(path, []byte(":\nnot yaml ["), 0o644); err != nil {
		t.Fatalf("expected config file, got %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatalf("expected parse rejection")
	}
}
