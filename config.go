package homeostat

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of the core.
type Config struct {
	Mode              ModeDecider       `yaml:"mode"`
	TimeWrap          TimeWrapEngine    `yaml:"timewrap"`
	UtilityWeights    UtilityWeights    `yaml:"utility_weights"`
	ResilienceWeights ResilienceWeights `yaml:"resilience_weights"`
	PID               PIDConfig         `yaml:"pid"`
	LmaxMs            float64           `yaml:"lmax_ms"` // Latency budget for Θ and the control loop
	Loop              LoopConfig        `yaml:"loop"`
}

// LoopConfig configures the fixed-period control loop and the tune contract.
type LoopConfig struct {
	Period     time.Duration `yaml:"period"`      // Tick period; dt = Period.Seconds()
	WindowSize int           `yaml:"window_size"` // Latency samples kept for p99
	TuneDT     float64       `yaml:"tune_dt"`     // dt used by tune calls that do not pass one
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Mode:              DefaultModeDecider(),
		TimeWrap:          DefaultTimeWrapEngine(),
		UtilityWeights:    DefaultUtilityWeights(),
		ResilienceWeights: DefaultResilienceWeights(),
		PID:               DefaultPIDConfig(),
		LmaxMs:            200,
		Loop: LoopConfig{
			Period:     100 * time.Millisecond, // 10 Hz
			WindowSize: 4096,
			TuneDT:     1.0,
		},
	}
}

// Validate checks every section and returns the first ErrConfig found.
func (c Config) Validate() error {
	if err := c.Mode.Validate(); err != nil {
		return err
	}
	if err := c.TimeWrap.Validate(); err != nil {
		return err
	}
	if err := c.UtilityWeights.Validate(); err != nil {
		return err
	}
	if err := c.ResilienceWeights.Validate(); err != nil {
		return err
	}
	if err := c.PID.Validate(); err != nil {
		return err
	}
	if !isFinite(c.LmaxMs) || c.LmaxMs <= 0 {
		return fmt.Errorf("%w: lmax_ms must be > 0, got %v", ErrConfig, c.LmaxMs)
	}
	if c.Loop.Period <= 0 {
		return fmt.Errorf("%w: loop period must be > 0, got %s", ErrConfig, c.Loop.Period)
	}
	if c.Loop.WindowSize < 1 {
		return fmt.Errorf("%w: loop window_size must be >= 1, got %d", ErrConfig, c.Loop.WindowSize)
	}
	if !isFinite(c.Loop.TuneDT) || c.Loop.TuneDT <= 0 {
		return fmt.Errorf("%w: loop tune_dt must be > 0, got %v", ErrConfig, c.Loop.TuneDT)
	}
	return nil
}

// LoadConfig reads a YAML document from path and overlays it onto DefaultConfig.
// Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: decode yaml: %v", ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
