package automation

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/partsim/internal/config"
	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/experiment"
)

const scenarioYAML = `
name: warmup
description: gas then a small cluster
steps:
  - name: gas
    preset: gas
    set:
      particles: 16
      steps: 10
      sample_every: 5
  - preset: cluster
    set:
      particles: 16
      steps: 10
      sample_every: 5
      params:
        theta: 0
`

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(scenarioYAML))
	if err != nil {
		t.Fatal(err)
	}
	if sc.Name != "warmup" || len(sc.Steps) != 2 {
		t.Fatalf("scenario = %+v", sc)
	}

	cfg, err := sc.Steps[1].Config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "nbody" || cfg.Particles != 16 || cfg.Steps != 10 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Params["theta"] != 0 || cfg.Params["softening"] != 0.05 {
		t.Errorf("params = %v", cfg.Params)
	}
	if config.Presets["cluster"].Particles == 16 {
		t.Error("preset mutated")
	}
}

func TestParseScenarioErrors(t *testing.T) {
	if _, err := ParseScenario([]byte("name: empty\n")); err == nil {
		t.Error("scenario without steps accepted")
	}
	if _, err := ParseScenario([]byte("steps: [")); err == nil {
		t.Error("malformed yaml accepted")
	}

	sc, err := ParseScenario([]byte("steps:\n  - preset: nope\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Steps[0].Config(); err == nil {
		t.Error("unknown preset accepted")
	}
}

func TestRunScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(scenarioYAML))
	if err != nil {
		t.Fatal(err)
	}

	var seen []string
	results, err := RunScenario(context.Background(), sc, experiment.NewRegistry(), func(r StepResult) error {
		seen = append(seen, r.Name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if seen[0] != "gas" || seen[1] != "step2" {
		t.Errorf("names = %v", seen)
	}
	for _, r := range results {
		if r.Result.StepsTaken != 10 {
			t.Errorf("%s: steps = %d", r.Name, r.Result.StepsTaken)
		}
	}
}

func TestRunScenarioStopsOnCallbackError(t *testing.T) {
	sc, _ := ParseScenario([]byte(scenarioYAML))
	stop := errors.New("stop")
	results, err := RunScenario(context.Background(), sc, experiment.NewRegistry(), func(StepResult) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("err = %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
}

func TestLinspace(t *testing.T) {
	got := Linspace(0, 1, 5)
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-15 {
			t.Errorf("linspace[%d] = %f, want %f", i, got[i], want[i])
		}
	}
	if len(Linspace(0, 1, 0)) != 0 {
		t.Error("n=0 should be empty")
	}
	if got := Linspace(3, 9, 1); len(got) != 1 || got[0] != 3 {
		t.Errorf("n=1 = %v", got)
	}
}

func TestRunSweep(t *testing.T) {
	base := config.GetPreset("gas")
	base.Particles = 8
	base.Steps = 10
	base.SampleEvery = 5

	sweep := &ParameterSweep{Base: base, ParamName: "dt", Values: []float64{0.005, 0.01, -1}}
	results, err := RunSweep(context.Background(), sweep, experiment.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	for _, r := range results[:2] {
		if r.Err != nil {
			t.Errorf("dt=%g: %v", r.ParamValue, r.Err)
		}
		if r.StepsTaken != 10 {
			t.Errorf("dt=%g: steps = %d", r.ParamValue, r.StepsTaken)
		}
		if _, ok := r.Metrics["kinetic"]; !ok {
			t.Errorf("dt=%g: metrics = %v", r.ParamValue, r.Metrics)
		}
	}
	if !errors.Is(results[2].Err, dynamo.ErrInvalidConfig) {
		t.Errorf("negative dt: %v", results[2].Err)
	}
	if base.Dt != 0.01 {
		t.Errorf("base mutated: dt = %g", base.Dt)
	}
}

func TestRunSweepCancelled(t *testing.T) {
	base := config.GetPreset("gas")
	base.Particles = 8
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunSweep(ctx, &ParameterSweep{Base: base, ParamName: "dt", Values: []float64{0.01}}, experiment.NewRegistry())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
