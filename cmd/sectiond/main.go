// sectiond runs the control loop as a long-lived process: it ingests live
// event drops, re-optimizes on a fixed cadence, and publishes artifacts and
// an in-memory snapshot until stopped.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/artifacts"
	"github.com/railops/section-control/internal/engine"
	"github.com/railops/section-control/internal/graph"
	"github.com/railops/section-control/internal/ingest"
	"github.com/railops/section-control/internal/policy"
)

// dropConfig names one live event drop file.
type dropConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// fileConfig is the optional YAML config; flags override its values.
type fileConfig struct {
	Artifacts  string       `yaml:"artifacts"`
	Scope      string       `yaml:"scope"`
	Date       string       `yaml:"date"`
	CadenceSec int          `yaml:"cadence_sec"`
	Live       bool         `yaml:"live"`
	UseGA      bool         `yaml:"use_ga"`
	Seed       int64        `yaml:"seed"`
	LogLevel   string       `yaml:"log_level"`
	Drops      []dropConfig `yaml:"drops"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sectiond: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("sectiond", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config file")
	root := fs.String("artifacts", "", "artifact tree root")
	scope := fs.String("scope", "", "section scope")
	date := fs.String("date", "", "service date")
	cadence := fs.Int("cadence", 0, "tick cadence in seconds")
	live := fs.Bool("live", false, "allow apply_action to dispatch")
	drop := fs.String("drop", "", "live event drop file (JSONL)")
	logLevel := fs.String("log-level", "", "hclog level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	override(&cfg.Artifacts, *root)
	override(&cfg.Scope, *scope)
	override(&cfg.Date, *date)
	override(&cfg.LogLevel, *logLevel)
	if *cadence > 0 {
		cfg.CadenceSec = *cadence
	}
	if *live {
		cfg.Live = true
	}
	if *drop != "" {
		cfg.Drops = append(cfg.Drops, dropConfig{Name: "live", Path: *drop})
	}
	applyDefaults(cfg)

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "sectiond",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	store := artifacts.Store{Root: cfg.Artifacts}
	events, err := artifacts.ReadParquet[timetable.TrainEvent](store.Path(cfg.Scope, cfg.Date, artifacts.EventsClean))
	if err != nil {
		return fmt.Errorf("load baseline events: %w", err)
	}
	g, err := graph.LoadFiles(
		store.Path(cfg.Scope, cfg.Date, artifacts.SectionNodes),
		store.Path(cfg.Scope, cfg.Date, artifacts.SectionEdges),
	)
	if err != nil {
		return fmt.Errorf("load section graph: %w", err)
	}
	policies, err := policy.Open(store.Path(cfg.Scope, cfg.Date, ""))
	if err != nil {
		return fmt.Errorf("open policy store: %w", err)
	}

	var adapters []*ingest.FileDropAdapter
	for _, d := range cfg.Drops {
		adapters = append(adapters, ingest.NewFileDropAdapter(d.Name, d.Path, logger))
	}

	eng, err := engine.New(engine.Config{
		Scope:   cfg.Scope,
		Date:    cfg.Date,
		Cadence: time.Duration(cfg.CadenceSec) * time.Second,
		Live:    cfg.Live,
		UseGA:   cfg.UseGA,
		Seed:    cfg.Seed,
	}, logger, store, g, events, policies, adapters...)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Info("shutting down", "signal", s.String())
		close(stop)
	}()

	logger.Info("engine starting",
		"scope", cfg.Scope, "date", cfg.Date,
		"cadence_sec", cfg.CadenceSec, "live", cfg.Live, "drops", len(adapters))
	eng.Run(stop)
	return nil
}

func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *fileConfig) {
	if cfg.Artifacts == "" {
		cfg.Artifacts = "artifacts"
	}
	if cfg.Scope == "" {
		cfg.Scope = "demo_section"
	}
	if cfg.Date == "" {
		cfg.Date = time.Now().UTC().Format("2006-01-02")
	}
	if cfg.CadenceSec <= 0 {
		cfg.CadenceSec = int(engine.DefaultCadence / time.Second)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}
