package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/geometry"
	"github.com/san-kum/partsim/internal/integrators"
	"github.com/san-kum/partsim/internal/metrics"
	"github.com/san-kum/partsim/internal/noise"
	"github.com/san-kum/partsim/internal/physics"
	"gonum.org/v1/gonum/spatial/r3"
)

type ModelFactory func(n int, accel bool, domain dynamo.Domain) (dynamo.Model, error)

type IntegratorFactory func(params map[string]float64, src *noise.Source) dynamo.Integrator

type DomainFactory func(lo, hi r3.Vec) (dynamo.Domain, error)

type Registry struct {
	models      map[string]ModelFactory
	integrators map[string]IntegratorFactory
	domains     map[string]DomainFactory
}

func NewRegistry() *Registry {
	r := &Registry{
		models:      make(map[string]ModelFactory),
		integrators: make(map[string]IntegratorFactory),
		domains:     make(map[string]DomainFactory),
	}

	r.models["passive"] = func(n int, accel bool, d dynamo.Domain) (dynamo.Model, error) {
		return physics.NewPassive(n, accel, d)
	}
	r.models["nbody"] = func(n int, accel bool, d dynamo.Domain) (dynamo.Model, error) {
		return physics.NewNBody(n, accel, d)
	}

	r.integrators["euler"] = func(map[string]float64, *noise.Source) dynamo.Integrator {
		return integrators.NewEuler()
	}
	r.integrators["verlet"] = func(map[string]float64, *noise.Source) dynamo.Integrator {
		return integrators.NewVelocityVerlet()
	}
	r.integrators["leapfrog"] = func(map[string]float64, *noise.Source) dynamo.Integrator {
		return integrators.NewLeapfrog()
	}
	r.integrators["overdamped"] = func(params map[string]float64, src *noise.Source) dynamo.Integrator {
		mobility, ok := params["mobility"]
		if !ok {
			mobility = 1
		}
		o := integrators.NewOverdamped(mobility)
		o.KT = params["kT"]
		o.Noise = src
		return o
	}

	r.domains["open"] = func(lo, hi r3.Vec) (dynamo.Domain, error) { return geometry.NewOpen(lo, hi) }
	r.domains["periodic"] = func(lo, hi r3.Vec) (dynamo.Domain, error) { return geometry.NewPeriodicBox(lo, hi) }
	r.domains["reflecting"] = func(lo, hi r3.Vec) (dynamo.Domain, error) { return geometry.NewReflectingBox(lo, hi) }

	return r
}

func (r *Registry) GetModel(name string, n int, accel bool, domain dynamo.Domain) (dynamo.Model, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model: %s", dynamo.ErrInvalidConfig, name)
	}
	return fn(n, accel, domain)
}

func (r *Registry) GetIntegrator(name string, params map[string]float64, src *noise.Source) (dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown integrator: %s", dynamo.ErrInvalidConfig, name)
	}
	return fn(params, src), nil
}

func (r *Registry) GetDomain(name string, lo, hi r3.Vec) (dynamo.Domain, error) {
	fn, ok := r.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown domain: %s", dynamo.ErrInvalidConfig, name)
	}
	return fn(lo, hi)
}

func (r *Registry) ListModels() []string      { return sortedKeys(r.models) }
func (r *Registry) ListIntegrators() []string { return sortedKeys(r.integrators) }
func (r *Registry) ListDomains() []string     { return sortedKeys(r.domains) }

// Metrics builds the named metrics. Unknown names are an error.
func (r *Registry) Metrics(names []string, fields []dynamo.ForceField) ([]dynamo.Metric, error) {
	out := make([]dynamo.Metric, 0, len(names))
	for _, name := range names {
		m, ok := metrics.New(name, fields)
		if !ok {
			return nil, fmt.Errorf("%w: unknown metric: %s", dynamo.ErrInvalidConfig, name)
		}
		out = append(out, m)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
