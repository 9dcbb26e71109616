package config

import (
	"fmt"
	"math"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/san-kum/partsim/internal/dynamo"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDt          = 0.001
	DefaultSteps       = 1000
	DefaultParticles   = 256
	DefaultSize        = 10.0
	DefaultSampleEvery = 10
)

// Config describes one simulation run. Fields can be set from YAML and
// overridden by PARTSIM_* environment variables.
type Config struct {
	Model         string  `yaml:"model" env:"PARTSIM_MODEL"`
	Integrator    string  `yaml:"integrator" env:"PARTSIM_INTEGRATOR"`
	Particles     int     `yaml:"particles" env:"PARTSIM_PARTICLES"`
	Dt            float64 `yaml:"dt" env:"PARTSIM_DT"`
	Steps         int     `yaml:"steps" env:"PARTSIM_STEPS"`
	Seed          int64   `yaml:"seed" env:"PARTSIM_SEED"`
	Accelerator   bool    `yaml:"accelerator" env:"PARTSIM_ACCELERATOR"`
	SortEvery     int     `yaml:"sort_every" env:"PARTSIM_SORT_EVERY"`
	SampleEvery   int     `yaml:"sample_every" env:"PARTSIM_SAMPLE_EVERY"`
	Temperature   float64 `yaml:"temperature" env:"PARTSIM_TEMPERATURE"`
	ValidateState bool    `yaml:"validate" env:"PARTSIM_VALIDATE"`

	Domain  DomainConfig       `yaml:"domain" envPrefix:"PARTSIM_DOMAIN_"`
	Params  map[string]float64 `yaml:"params,omitempty"`
	Fields  []FieldConfig      `yaml:"fields,omitempty"`
	Metrics []string           `yaml:"metrics,omitempty" env:"PARTSIM_METRICS" envSeparator:","`
}

// DomainConfig selects the simulation space. Size has two or three
// entries; a two-entry size builds a planar domain.
type DomainConfig struct {
	Kind   string    `yaml:"kind" env:"KIND"`
	Origin []float64 `yaml:"origin,omitempty" env:"ORIGIN" envSeparator:","`
	Size   []float64 `yaml:"size" env:"SIZE" envSeparator:","`
}

type FieldConfig struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:         "nbody",
		Integrator:    "verlet",
		Particles:     DefaultParticles,
		Dt:            DefaultDt,
		Steps:         DefaultSteps,
		Seed:          1,
		SampleEvery:   DefaultSampleEvery,
		ValidateState: true,
		Domain: DomainConfig{
			Kind: "open",
			Size: []float64{DefaultSize, DefaultSize, DefaultSize},
		},
		Metrics: []string{"kinetic", "energy_drift", "momentum"},
	}
}

// Load reads defaults, then the YAML file at path (if any), then the
// environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv overlays environment variables onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Particles < 0 {
		return fmt.Errorf("%w: particles must be non-negative, got %d", dynamo.ErrInvalidConfig, c.Particles)
	}
	if c.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %f", dynamo.ErrInvalidConfig, c.Dt)
	}
	if c.Steps < 0 || c.SortEvery < 0 || c.SampleEvery < 0 {
		return fmt.Errorf("%w: steps and intervals must be non-negative", dynamo.ErrInvalidConfig)
	}
	if c.Temperature < 0 {
		return fmt.Errorf("%w: temperature must be non-negative, got %f", dynamo.ErrInvalidConfig, c.Temperature)
	}
	switch c.Domain.Kind {
	case "open", "periodic", "reflecting":
	default:
		return fmt.Errorf("%w: unknown domain kind %q", dynamo.ErrInvalidConfig, c.Domain.Kind)
	}
	if n := len(c.Domain.Size); n != 2 && n != 3 {
		return fmt.Errorf("%w: domain size needs 2 or 3 entries, got %d", dynamo.ErrInvalidConfig, n)
	}
	if n := len(c.Domain.Origin); n != 0 && n != len(c.Domain.Size) {
		return fmt.Errorf("%w: domain origin has %d entries for a %d-entry size", dynamo.ErrInvalidConfig, n, len(c.Domain.Size))
	}
	for _, s := range c.Domain.Size {
		if s < 0 {
			return fmt.Errorf("%w: negative domain size %f", dynamo.ErrInvalidConfig, s)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Domain.Origin = append([]float64(nil), c.Domain.Origin...)
	out.Domain.Size = append([]float64(nil), c.Domain.Size...)
	out.Params = cloneParams(c.Params)
	out.Metrics = append([]string(nil), c.Metrics...)
	out.Fields = make([]FieldConfig, len(c.Fields))
	for i, f := range c.Fields {
		out.Fields[i] = FieldConfig{Name: f.Name, Params: cloneParams(f.Params)}
	}
	return &out
}

func cloneParams(p map[string]float64) map[string]float64 {
	if p == nil {
		return nil
	}
	out := make(map[string]float64, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SetValue sets a numeric run setting by name. Names other than the
// top-level settings go to Params.
func (c *Config) SetValue(name string, v float64) error {
	switch name {
	case "dt":
		c.Dt = v
	case "temperature":
		c.Temperature = v
	case "steps", "particles", "sort_every", "sample_every":
		if v != math.Trunc(v) {
			return fmt.Errorf("%w: %s must be an integer, got %g", dynamo.ErrInvalidConfig, name, v)
		}
		switch name {
		case "steps":
			c.Steps = int(v)
		case "particles":
			c.Particles = int(v)
		case "sort_every":
			c.SortEvery = int(v)
		case "sample_every":
			c.SampleEvery = int(v)
		}
	default:
		if c.Params == nil {
			c.Params = make(map[string]float64)
		}
		c.Params[name] = v
	}
	return nil
}
