package sim

import (
	"context"
	"fmt"

	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/san-kum/partsim/internal/sim"

// Simulator advances one model with one integrator. Each step evaluates
// forces as ComputeForces followed by every field, lets the integrator move
// the particles and, when configured, sorts them spatially.
type Simulator struct {
	model      dynamo.Model
	integrator dynamo.Integrator
	fields     []dynamo.ForceField
	metrics    []dynamo.Metric
	observers  []dynamo.Observer
}

func New(model dynamo.Model, integrator dynamo.Integrator, fields ...dynamo.ForceField) *Simulator {
	return &Simulator{
		model:      model,
		integrator: integrator,
		fields:     fields,
		metrics:    make([]dynamo.Metric, 0),
		observers:  make([]dynamo.Observer, 0),
	}
}

func (s *Simulator) AddMetric(m dynamo.Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o dynamo.Observer) { s.observers = append(s.observers, o) }

func (s *Simulator) Model() dynamo.Model           { return s.model }
func (s *Simulator) Integrator() dynamo.Integrator { return s.integrator }
func (s *Simulator) Fields() []dynamo.ForceField   { return s.fields }
func (s *Simulator) Metrics() []dynamo.Metric      { return s.metrics }

// Forces evaluates the net force on every particle. Self-force models
// manage their own accumulation, so the force array is zeroed only for the
// others.
func (s *Simulator) Forces() error {
	if err := s.model.ComputeForces(!s.model.SelfForce()); err != nil {
		return err
	}
	for _, f := range s.fields {
		if err := f.Apply(s.model); err != nil {
			return fmt.Errorf("field %s: %w", f.Name(), err)
		}
	}
	return nil
}

// Run advances the model cfg.Steps times inside a "sim.Run" span.
func (s *Simulator) Run(ctx context.Context, cfg Config) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sim.Run", trace.WithAttributes(
		attribute.String("integrator", s.integrator.Name()),
		attribute.Int("particles", s.model.ParticleCount()),
		attribute.Bool("accelerator", s.model.UseAccelerator()),
		attribute.Int("steps", cfg.Steps),
	))
	defer span.End()

	result, err := s.run(ctx, cfg)
	if result != nil {
		span.SetAttributes(attribute.Int("steps_taken", result.StepsTaken))
	}
	endSpan(span, err)
	return result, err
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *Simulator) run(ctx context.Context, cfg Config) (*Result, error) {
	if err := s.validateConfig(cfg); err != nil {
		return nil, err
	}

	result := &Result{
		Times:   make([]float64, 0, s.sampleCap(cfg)),
		Series:  make(map[string][]float64),
		Metrics: make(map[string]float64),
	}

	for _, m := range s.metrics {
		m.Reset()
	}
	if r, ok := s.integrator.(dynamo.Resetter); ok {
		r.Reset()
	}

	logging.Logger().Info("run started",
		"integrator", s.integrator.Name(),
		"particles", s.model.ParticleCount(),
		"accelerator", s.model.UseAccelerator(),
		"steps", cfg.Steps)

	t := 0.0
	if err := s.sample(result, t); err != nil {
		return result, &SimError{Time: t, Step: 0, Message: "observe", Err: err}
	}

	for i := 0; i < cfg.Steps; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := s.integrator.Step(s.model, s.Forces, cfg.Dt); err != nil {
			return result, &SimError{Time: t, Step: i, Message: "integrate", Err: err}
		}
		t += cfg.Dt
		result.StepsTaken++

		if cfg.SortEvery > 0 && (i+1)%cfg.SortEvery == 0 {
			if err := s.model.SpatialSort(); err != nil {
				return result, &SimError{Time: t, Step: i, Message: "spatial sort", Err: err}
			}
		}

		if cfg.ValidateState {
			if err := ValidState(s.model); err != nil {
				return result, &SimError{Time: t, Step: i, Message: "invalid state (NaN/Inf)", Err: err}
			}
		}

		for _, obs := range s.observers {
			obs.OnStep(s.model, i+1, t)
		}

		last := i == cfg.Steps-1
		if last || (cfg.SampleEvery > 0 && (i+1)%cfg.SampleEvery == 0) {
			if err := s.sample(result, t); err != nil {
				return result, &SimError{Time: t, Step: i, Message: "observe", Err: err}
			}
		}
	}

	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}

	logging.Logger().Info("run finished", "steps", result.StepsTaken, "time", t)
	return result, nil
}

func (s *Simulator) sample(result *Result, t float64) error {
	for _, m := range s.metrics {
		if err := m.Observe(s.model, t); err != nil {
			return fmt.Errorf("metric %s: %w", m.Name(), err)
		}
		result.Series[m.Name()] = append(result.Series[m.Name()], m.Value())
	}
	result.Times = append(result.Times, t)
	return nil
}

func (s *Simulator) sampleCap(cfg Config) int {
	if cfg.SampleEvery <= 0 {
		return 2
	}
	return cfg.Steps/cfg.SampleEvery + 2
}

func (s *Simulator) validateConfig(cfg Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %f", dynamo.ErrInvalidConfig, cfg.Dt)
	}
	if cfg.Steps < 0 {
		return fmt.Errorf("%w: steps must be non-negative, got %d", dynamo.ErrInvalidConfig, cfg.Steps)
	}
	if cfg.SortEvery < 0 || cfg.SampleEvery < 0 {
		return fmt.Errorf("%w: sort and sample intervals must be non-negative", dynamo.ErrInvalidConfig)
	}
	if s.model == nil || s.integrator == nil {
		return fmt.Errorf("%w: simulator needs a model and an integrator", dynamo.ErrInvalidConfig)
	}
	return nil
}
