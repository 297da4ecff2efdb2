// Package config handles lodsim configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/midgard-lod/internal/engine/lod"
	"github.com/Faultbox/midgard-lod/internal/logger"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds all lodsim settings.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Simulation SimulationConfig `yaml:"simulation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`

	source string
}

// EngineConfig holds the LOD combining engine settings.
type EngineConfig struct {
	Strategy          string  `yaml:"strategy"` // grid, global or moving
	CellSize          float32 `yaml:"cell_size"`
	VertexBudget      int     `yaml:"vertex_budget"`
	SplitThreshold    float32 `yaml:"split_threshold"`
	MergeThreshold    float32 `yaml:"merge_threshold"`
	BucketCaps        []int   `yaml:"bucket_caps"`
	BakeHidden        bool    `yaml:"bake_hidden"`
	ConsistencyChecks bool    `yaml:"consistency_checks"`
}

// SimulationConfig drives the random-walk scene of `lodsim run`.
type SimulationConfig struct {
	Objects       int           `yaml:"objects"`
	Frames        int           `yaml:"frames"`
	Seed          int64         `yaml:"seed"`
	Area          float32       `yaml:"area"`  // side of the square the objects wander in
	Speed         float32       `yaml:"speed"` // max distance per frame
	ViewDistance  float32       `yaml:"view_distance"`
	FrameInterval time.Duration `yaml:"frame_interval"`
}

// MetricsConfig holds the Prometheus endpoint settings. An empty address disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings. Rotation settings only apply with a log file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console or json
	Quiet      bool   `yaml:"quiet"`  // no console output
	LogFile    string `yaml:"log_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LoggerOptions converts the logging section for logger.Init.
func (l LoggingConfig) LoggerOptions() logger.Options {
	return logger.Options{
		Level:   l.Level,
		JSON:    l.Format == "json",
		Console: !l.Quiet,
		File: logger.FileConfig{
			Path:       l.LogFile,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Strategy:       "grid",
			CellSize:       lod.DefaultCellSize,
			VertexBudget:   lod.DefaultVertexBudget,
			SplitThreshold: lod.DefaultSplitThreshold,
			MergeThreshold: lod.DefaultMergeThreshold,
		},
		Simulation: SimulationConfig{
			Objects:      2000,
			Frames:       600,
			Seed:         1,
			Area:         512,
			Speed:        2,
			ViewDistance: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	if _, err := c.EngineOptions(); err != nil {
		return err
	}
	s := c.Simulation
	if s.Objects < 0 || s.Frames < 0 {
		return fmt.Errorf("%w: simulation objects (%d) and frames (%d) must not be negative", ErrInvalid, s.Objects, s.Frames)
	}
	if s.Area <= 0 {
		return fmt.Errorf("%w: simulation area must be positive, got %v", ErrInvalid, s.Area)
	}
	if s.Speed < 0 || s.ViewDistance < 0 {
		return fmt.Errorf("%w: simulation speed and view distance must not be negative", ErrInvalid)
	}

	l := c.Logging
	if _, err := logger.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("%w: logging: %w", ErrInvalid, err)
	}
	if l.Format != "" && l.Format != "console" && l.Format != "json" {
		return fmt.Errorf("%w: logging.format must be console or json, got %q", ErrInvalid, l.Format)
	}
	return nil
}

// EngineOptions converts the engine section to lod.Options. Collaborators such as
// the mesh factory, viewer, callbacks and logger are left for the caller to set.
func (c *Config) EngineOptions() (lod.Options, error) {
	kind, err := lod.ParsePartitionKind(c.Engine.Strategy)
	if err != nil {
		return lod.Options{}, fmt.Errorf("%w: engine.strategy: %w", ErrInvalid, err)
	}
	opts := lod.DefaultOptions()
	opts.Strategy = lod.PartitionStrategy{Kind: kind, CellSize: c.Engine.CellSize}
	opts.VertexBudget = c.Engine.VertexBudget
	opts.SplitThreshold = c.Engine.SplitThreshold
	opts.MergeThreshold = c.Engine.MergeThreshold
	opts.BucketCaps = append([]int(nil), c.Engine.BucketCaps...)
	opts.BakeHidden = c.Engine.BakeHidden
	opts.ConsistencyChecks = c.Engine.ConsistencyChecks

	if err := opts.Validate(); err != nil {
		return lod.Options{}, fmt.Errorf("%w: engine: %w", ErrInvalid, err)
	}
	return opts, nil
}
