// Package config loads and validates the YAML configuration
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tetherball88/Know-Your-Limits/deform"
	"github.com/tetherball88/Know-Your-Limits/engine"
	"github.com/tetherball88/Know-Your-Limits/logging"
	"github.com/tetherball88/Know-Your-Limits/monitor"
	"github.com/tetherball88/Know-Your-Limits/vmath"
)

// DefaultPath is looked up next to the binary when no --config flag is given
const DefaultPath = "KnowYourLimits.yaml"

// Config is the root of the YAML file
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Deform    DeformConfig    `yaml:"deform"`
	Audio     AudioConfig     `yaml:"audio"`
}

type LogConfig struct {
	// Level is a name (trace..off) or a number 0-6
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

type SchedulerConfig struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
	// CheckLogInterval throttles per-monitor penetration debug lines, e.g. "1s"
	CheckLogInterval string `yaml:"check_log_interval,omitempty"`
}

type DeformConfig struct {
	// Mode is "translate" or "scale"
	Mode string `yaml:"mode"`
	// Policy is "tip-depth" or "cascade"
	Policy            string      `yaml:"policy"`
	MaxBoneOffset     float64     `yaml:"max_bone_offset"`
	PositionTolerance float64     `yaml:"position_tolerance"`
	DirectionEpsilon  float64     `yaml:"direction_epsilon"`
	Scale             ScaleConfig `yaml:"scale"`
}

type ScaleConfig struct {
	Reduced   float64 `yaml:"reduced"`
	Tolerance float64 `yaml:"tolerance"`
}

// AudioConfig only affects the sandbox
type AudioConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
			File:  logging.DefaultFile,
		},
		Scheduler: SchedulerConfig{
			TickIntervalMs:   engine.DefaultTickIntervalMs,
			CheckLogInterval: monitor.DefaultCheckLogInterval.String(),
		},
		Deform: DeformConfig{
			Mode:              deform.KindTranslation.String(),
			Policy:            "tip-depth",
			MaxBoneOffset:     monitor.DefaultMaxBoneOffset,
			PositionTolerance: deform.DefaultPositionTolerance,
			DirectionEpsilon:  vmath.DefaultDirectionEpsilon,
			Scale: ScaleConfig{
				Reduced:   deform.DefaultReducedScale,
				Tolerance: deform.DefaultScaleTolerance,
			},
		},
	}
}

// Load reads path over the defaults; a missing file yields the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem at once
func (c *Config) Validate() error {
	var err error
	if _, e := logging.ParseLevel(c.Log.Level); e != nil {
		err = multierr.Append(err, fmt.Errorf("log.level: %w", e))
	}
	if ms := c.Scheduler.TickIntervalMs; ms != 0 && engine.ClampTickInterval(ms) != ms {
		err = multierr.Append(err, fmt.Errorf("scheduler.tick_interval_ms: %d outside [%d, %d]",
			ms, engine.MinTickIntervalMs, engine.MaxTickIntervalMs))
	}
	if _, e := c.checkLogInterval(); e != nil {
		err = multierr.Append(err, fmt.Errorf("scheduler.check_log_interval: %w", e))
	}
	if _, e := deform.ParseKind(c.Deform.Mode); e != nil {
		err = multierr.Append(err, fmt.Errorf("deform.mode: %w", e))
	}
	if _, e := monitor.ParsePolicy(c.Deform.Policy, c.Deform.MaxBoneOffset); e != nil {
		err = multierr.Append(err, fmt.Errorf("deform.policy: %w", e))
	}
	for name, v := range map[string]float64{
		"deform.max_bone_offset":    c.Deform.MaxBoneOffset,
		"deform.position_tolerance": c.Deform.PositionTolerance,
		"deform.direction_epsilon":  c.Deform.DirectionEpsilon,
		"deform.scale.reduced":      c.Deform.Scale.Reduced,
		"deform.scale.tolerance":    c.Deform.Scale.Tolerance,
	} {
		if !vmath.IsFinite(v) || v < 0 {
			err = multierr.Append(err, fmt.Errorf("%s: must be a non-negative number, got %v", name, v))
		}
	}
	return err
}

func (c *Config) checkLogInterval() (time.Duration, error) {
	if c.Scheduler.CheckLogInterval == "" {
		return monitor.DefaultCheckLogInterval, nil
	}
	d, err := time.ParseDuration(c.Scheduler.CheckLogInterval)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

// LoggingOptions maps the log section onto logging.Options
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, File: c.Log.File, Console: c.Log.Console}
}

// Channel builds the configured deformation channel
func (c *Config) Channel(log *zap.Logger) (deform.Channel, error) {
	kind, err := deform.ParseKind(c.Deform.Mode)
	if err != nil {
		return nil, err
	}
	if kind == deform.KindScale {
		return deform.NewScale(c.Deform.Scale.Reduced, c.Deform.Scale.Tolerance, deform.NewScaleTable(), log), nil
	}
	return deform.NewTranslation(c.Deform.PositionTolerance, log), nil
}

// Policy builds the configured decision policy
func (c *Config) Policy() (monitor.Policy, error) {
	return monitor.ParsePolicy(c.Deform.Policy, c.Deform.MaxBoneOffset)
}

// EngineOptions fills every engine option the file controls; the caller adds scene, queue and clock
func (c *Config) EngineOptions(log *zap.Logger) (engine.Options, error) {
	ch, err := c.Channel(log.Named("deform"))
	if err != nil {
		return engine.Options{}, err
	}
	pol, err := c.Policy()
	if err != nil {
		return engine.Options{}, err
	}
	every, err := c.checkLogInterval()
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Channel:          ch,
		Policy:           pol,
		DirectionEpsilon: c.Deform.DirectionEpsilon,
		TickIntervalMs:   c.Scheduler.TickIntervalMs,
		CheckLogInterval: every,
		Logger:           log,
	}, nil
}
