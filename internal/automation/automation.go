package automation

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/san-kum/partsim/internal/config"
	"github.com/san-kum/partsim/internal/experiment"
	"github.com/san-kum/partsim/internal/logging"
	"github.com/san-kum/partsim/internal/sim"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Scenario defines a scripted simulation sequence
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep is a single run. It starts from Preset (or the defaults)
// and overlays Set, which uses the run config keys.
type ScenarioStep struct {
	Name   string    `yaml:"name"`
	Preset string    `yaml:"preset"`
	Set    yaml.Node `yaml:"set"`
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", scenario.Name)
	}
	return &scenario, nil
}

// Config resolves the run configuration of a step.
func (s ScenarioStep) Config() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if s.Preset != "" {
		cfg = config.GetPreset(s.Preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s", s.Preset)
		}
	}
	if !s.Set.IsZero() {
		if err := s.Set.Decode(cfg); err != nil {
			return nil, fmt.Errorf("step %s: %w", s.Name, err)
		}
	}
	return cfg, cfg.Validate()
}

// StepResult is one completed scenario step.
type StepResult struct {
	Name   string
	Config *config.Config
	Result *sim.Result
}

// RunScenario executes all steps in order. done, when non-nil, is called
// after each step and may stop the scenario by returning an error.
func RunScenario(ctx context.Context, scenario *Scenario, registry *experiment.Registry, done func(StepResult) error) ([]StepResult, error) {
	results := make([]StepResult, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step%d", i+1)
		}
		logging.Logger().Info("scenario step", "scenario", scenario.Name, "step", name, "index", i+1, "of", len(scenario.Steps))

		cfg, err := step.Config()
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}

		exp := experiment.New(cfg, registry)
		if err := exp.Setup(); err != nil {
			return results, fmt.Errorf("step %d setup: %w", i+1, err)
		}
		result, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("step %d run: %w", i+1, err)
		}

		sr := StepResult{Name: name, Config: cfg, Result: result}
		results = append(results, sr)
		if done != nil {
			if err := done(sr); err != nil {
				return results, err
			}
		}
	}

	return results, nil
}

// ParameterSweep runs one simulation per value of a single setting.
type ParameterSweep struct {
	Base      *config.Config
	ParamName string
	Values    []float64
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// SweepResult holds the final metrics of one sweep point.
type SweepResult struct {
	ParamValue float64
	Metrics    map[string]float64
	StepsTaken int
	Err        error
}

// RunSweep executes the sweep points concurrently. A failing point is
// reported in its SweepResult; only cancellation aborts the sweep.
func RunSweep(ctx context.Context, sweep *ParameterSweep, registry *experiment.Registry) ([]SweepResult, error) {
	if sweep.Base == nil || sweep.ParamName == "" || len(sweep.Values) == 0 {
		return nil, fmt.Errorf("sweep needs a base config, a parameter and values")
	}

	results := make([]SweepResult, len(sweep.Values))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, v := range sweep.Values {
		g.Go(func() error {
			results[i] = SweepResult{ParamValue: v}
			cfg := sweep.Base.Clone()
			if err := cfg.SetValue(sweep.ParamName, v); err != nil {
				results[i].Err = err
				return nil
			}
			exp := experiment.New(cfg, registry)
			if err := exp.Setup(); err != nil {
				results[i].Err = err
				return nil
			}
			result, err := exp.Run(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Metrics = result.Metrics
			results[i].StepsTaken = result.StepsTaken
			logging.Logger().Debug("sweep point done", "param", sweep.ParamName, "value", v)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
