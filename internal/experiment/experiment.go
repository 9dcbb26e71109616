package experiment

import (
	"context"
	"fmt"

	"github.com/san-kum/partsim/internal/config"
	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/logging"
	"github.com/san-kum/partsim/internal/noise"
	"github.com/san-kum/partsim/internal/physics"
	"github.com/san-kum/partsim/internal/sim"
	"gonum.org/v1/gonum/spatial/r3"
)

// Experiment turns a run configuration into a ready simulator.
type Experiment struct {
	cfg       *config.Config
	registry  *Registry
	simulator *sim.Simulator
}

func New(cfg *config.Config, registry *Registry) *Experiment {
	return &Experiment{cfg: cfg, registry: registry}
}

func (e *Experiment) Setup() error {
	s, err := e.Build(e.cfg.Seed)
	if err != nil {
		return err
	}
	e.simulator = s
	return nil
}

// Build constructs an independent simulator seeded with seed: it places
// particles uniformly, draws thermal velocities and wires fields and
// metrics.
func (e *Experiment) Build(seed int64) (*sim.Simulator, error) {
	cfg := e.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lo, hi := bounds(cfg.Domain)
	domain, err := e.registry.GetDomain(cfg.Domain.Kind, lo, hi)
	if err != nil {
		return nil, err
	}

	model, err := e.registry.GetModel(cfg.Model, cfg.Particles, cfg.Accelerator, domain)
	if err != nil {
		return nil, err
	}
	if err := applyParams(model, cfg.Params); err != nil {
		return nil, err
	}

	src := noise.New(seed)
	if err := model.SetPositionsRandomly(src); err != nil {
		return nil, err
	}
	if cfg.Temperature > 0 && cfg.Integrator != "overdamped" {
		if err := physics.Thermalize(model, src, cfg.Temperature); err != nil {
			return nil, err
		}
	}

	params := cfg.Params
	if cfg.Integrator == "overdamped" && cfg.Temperature > 0 {
		params = withParam(params, "kT", cfg.Temperature)
	}
	integ, err := e.registry.GetIntegrator(cfg.Integrator, params, src)
	if err != nil {
		return nil, err
	}

	fields := make([]dynamo.ForceField, 0, len(cfg.Fields))
	for _, fc := range cfg.Fields {
		f, err := physics.NewField(fc.Name, fc.Params)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}

	ms, err := e.registry.Metrics(cfg.Metrics, fields)
	if err != nil {
		return nil, err
	}

	s := sim.New(model, integ, fields...)
	for _, m := range ms {
		s.AddMetric(m)
	}

	logging.Logger().Debug("experiment built",
		"model", cfg.Model, "domain", cfg.Domain.Kind, "particles", cfg.Particles, "seed", seed)
	return s, nil
}

func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.simulator == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	return e.simulator.Run(ctx, e.SimConfig())
}

// RunEnsemble runs n independent copies over consecutive seeds.
func (e *Experiment) RunEnsemble(ctx context.Context, n int) ([]*sim.Result, error) {
	return sim.NewEnsemble(e.Build, n, e.cfg.Seed).Run(ctx, e.SimConfig())
}

func (e *Experiment) SimConfig() sim.Config {
	return sim.Config{
		Dt:            e.cfg.Dt,
		Steps:         e.cfg.Steps,
		SortEvery:     e.cfg.SortEvery,
		SampleEvery:   e.cfg.SampleEvery,
		ValidateState: e.cfg.ValidateState,
	}
}

// GetSimulator returns the underlying simulator for adding observers
func (e *Experiment) GetSimulator() *sim.Simulator {
	return e.simulator
}

func bounds(d config.DomainConfig) (lo, hi r3.Vec) {
	at := func(s []float64, i int) float64 {
		if i < len(s) {
			return s[i]
		}
		return 0
	}
	lo = r3.Vec{X: at(d.Origin, 0), Y: at(d.Origin, 1), Z: at(d.Origin, 2)}
	size := r3.Vec{X: at(d.Size, 0), Y: at(d.Size, 1), Z: at(d.Size, 2)}
	return lo, r3.Add(lo, size)
}

func applyParams(m dynamo.Model, params map[string]float64) error {
	c, ok := m.(dynamo.Configurable)
	if !ok {
		return nil
	}
	known := c.GetParams()
	for name, v := range params {
		if _, ok := known[name]; !ok {
			continue
		}
		if err := c.SetParam(name, v); err != nil {
			return err
		}
	}
	return nil
}

func withParam(params map[string]float64, name string, v float64) map[string]float64 {
	out := make(map[string]float64, len(params)+1)
	for k, x := range params {
		out[k] = x
	}
	out[name] = v
	return out
}
