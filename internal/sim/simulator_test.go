package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/geometry"
	"github.com/san-kum/partsim/internal/integrators"
	"github.com/san-kum/partsim/internal/metrics"
	"github.com/san-kum/partsim/internal/noise"
	"github.com/san-kum/partsim/internal/physics"
	"gonum.org/v1/gonum/spatial/r3"
)

// recordingModel records how the driver calls into it.
type recordingModel struct {
	*dynamo.BaseModel
	zeroFirst []bool
	sorts     int
}

func (r *recordingModel) ComputeForces(zeroFirst bool) error {
	r.zeroFirst = append(r.zeroFirst, zeroFirst)
	return r.BaseModel.ComputeForces(zeroFirst)
}

func (r *recordingModel) SpatialSort() error {
	r.sorts++
	return nil
}

func newRecording(t *testing.T, n int, selfForce bool) *recordingModel {
	t.Helper()
	box, _ := geometry.NewOpen(r3.Vec{}, r3.Vec{X: 1, Y: 1})
	base, err := dynamo.NewBaseModel(n, false, box)
	if err != nil {
		t.Fatal(err)
	}
	base.SetSelfForce(selfForce)
	return &recordingModel{BaseModel: base}
}

func TestSimulatorRun(t *testing.T) {
	box, _ := geometry.NewOpen(r3.Vec{X: -2}, r3.Vec{X: 2})
	p, err := physics.NewPassive(1, false, box)
	if err != nil {
		t.Fatal(err)
	}
	pos, _ := p.Positions()
	pos.Set(0, r3.Vec{X: 1})

	fields := []dynamo.ForceField{&physics.HarmonicTrap{K: 1}}
	s := New(p, integrators.NewVelocityVerlet(), fields...)
	s.AddMetric(metrics.NewEnergyDrift(fields))
	s.AddMetric(metrics.NewKineticEnergy())

	result, err := s.Run(context.Background(), Config{Dt: 0.01, Steps: 100, SampleEvery: 10})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.StepsTaken != 100 {
		t.Errorf("expected 100 steps, got %d", result.StepsTaken)
	}
	if len(result.Times) != 11 {
		t.Errorf("expected 11 samples, got %d", len(result.Times))
	}
	if len(result.Series["kinetic"]) != len(result.Times) {
		t.Errorf("series length %d != times length %d", len(result.Series["kinetic"]), len(result.Times))
	}
	if math.Abs(result.Times[10]-1.0) > 1e-9 {
		t.Errorf("final time = %f, want 1", result.Times[10])
	}
	if result.Metrics["energy_drift"] > 1e-4 {
		t.Errorf("energy drift = %e", result.Metrics["energy_drift"])
	}

	pos, _ = p.Positions()
	if math.Abs(pos.At(0).X-math.Cos(1)) > 1e-4 {
		t.Errorf("x = %f, want %f", pos.At(0).X, math.Cos(1))
	}
}

func TestSimulatorZeroesOnlyPassiveModels(t *testing.T) {
	for _, selfForce := range []bool{false, true} {
		m := newRecording(t, 2, selfForce)
		s := New(m, integrators.NewEuler())
		if _, err := s.Run(context.Background(), Config{Dt: 0.1, Steps: 3}); err != nil {
			t.Fatal(err)
		}
		if len(m.zeroFirst) != 3 {
			t.Fatalf("selfForce=%v: %d force evaluations, want 3", selfForce, len(m.zeroFirst))
		}
		for _, z := range m.zeroFirst {
			if z == selfForce {
				t.Errorf("selfForce=%v: ComputeForces(%v)", selfForce, z)
			}
		}
	}
}

func TestSimulatorSortsPeriodically(t *testing.T) {
	m := newRecording(t, 4, false)
	s := New(m, integrators.NewEuler())
	if _, err := s.Run(context.Background(), Config{Dt: 0.1, Steps: 10, SortEvery: 3}); err != nil {
		t.Fatal(err)
	}
	if m.sorts != 3 {
		t.Errorf("sorts = %d, want 3", m.sorts)
	}
}

func TestSimulatorInvalidConfig(t *testing.T) {
	s := New(newRecording(t, 1, false), integrators.NewEuler())

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero dt", Config{Dt: 0, Steps: 1}},
		{"negative dt", Config{Dt: -0.1, Steps: 1}},
		{"negative steps", Config{Dt: 0.1, Steps: -1}},
		{"negative sort interval", Config{Dt: 0.1, Steps: 1, SortEvery: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Run(context.Background(), tt.cfg)
			if !errors.Is(err, dynamo.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSimulatorDetectsInvalidState(t *testing.T) {
	m := newRecording(t, 2, false)
	vel, _ := m.Velocities()
	vel.Set(1, r3.Vec{Y: math.Inf(1)})

	s := New(m, integrators.NewEuler())
	result, err := s.Run(context.Background(), Config{Dt: 0.1, Steps: 5, ValidateState: true})

	var simErr *SimError
	if !errors.As(err, &simErr) {
		t.Fatalf("err = %v, want *SimError", err)
	}
	if !errors.Is(err, dynamo.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
	if simErr.Step != 0 || result.StepsTaken != 1 {
		t.Errorf("stopped at step %d after %d steps", simErr.Step, result.StepsTaken)
	}
}

func TestSimulatorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(newRecording(t, 1, false), integrators.NewEuler())
	result, err := s.Run(ctx, Config{Dt: 0.1, Steps: 1000})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if result.StepsTaken != 0 {
		t.Errorf("took %d steps after cancellation", result.StepsTaken)
	}
}

type stepCounter struct{ steps []int }

func (c *stepCounter) OnStep(m dynamo.Model, step int, t float64) {
	c.steps = append(c.steps, step)
}

func TestSimulatorObservers(t *testing.T) {
	obs := &stepCounter{}
	s := New(newRecording(t, 1, false), integrators.NewEuler())
	s.AddObserver(obs)
	if _, err := s.Run(context.Background(), Config{Dt: 0.1, Steps: 4}); err != nil {
		t.Fatal(err)
	}
	if len(obs.steps) != 4 || obs.steps[3] != 4 {
		t.Errorf("observed steps %v", obs.steps)
	}
}

func TestEnsemble(t *testing.T) {
	build := func(seed int64) (*Simulator, error) {
		box, _ := geometry.NewPeriodicBox(r3.Vec{}, r3.Vec{X: 5, Y: 5, Z: 5})
		nb, err := physics.NewNBody(16, false, box)
		if err != nil {
			return nil, err
		}
		if err := nb.SetPositionsRandomly(noise.New(seed)); err != nil {
			return nil, err
		}
		s := New(nb, integrators.NewVelocityVerlet())
		s.AddMetric(metrics.NewMomentum())
		return s, nil
	}

	results, err := NewEnsemble(build, 4, 100).Run(context.Background(), Config{Dt: 0.001, Steps: 20})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r.StepsTaken != 20 {
			t.Errorf("run %d took %d steps", i, r.StepsTaken)
		}
		if r.Metrics["momentum"] > 1e-9 {
			t.Errorf("run %d momentum = %e", i, r.Metrics["momentum"])
		}
	}
}

func TestEnsemblePropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	build := func(seed int64) (*Simulator, error) {
		if seed == 2 {
			return nil, boom
		}
		return New(newRecording(t, 1, false), integrators.NewEuler()), nil
	}
	if _, err := NewEnsemble(build, 3, 0).Run(context.Background(), Config{Dt: 0.1, Steps: 1}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
