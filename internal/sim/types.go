package sim

import (
	"fmt"
	"math"

	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/gpuarray"
)

type Config struct {
	Dt    float64
	Steps int
	// SortEvery triggers a spatial sort after every SortEvery steps; zero
	// disables sorting.
	SortEvery int
	// SampleEvery records metric series every SampleEvery steps; zero
	// records only the initial and final samples.
	SampleEvery   int
	ValidateState bool
}

type Result struct {
	Times      []float64
	Series     map[string][]float64
	Metrics    map[string]float64
	StepsTaken int
}

// SimError reports a failure at a given point of a run.
type SimError struct {
	Time    float64
	Step    int
	Message string
	Err     error
}

func (e *SimError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sim: step %d (t=%.4f): %s: %v", e.Step, e.Time, e.Message, e.Err)
	}
	return fmt.Sprintf("sim: step %d (t=%.4f): %s", e.Step, e.Time, e.Message)
}

func (e *SimError) Unwrap() error { return e.Err }

// ValidState returns ErrInvalidState if any position, velocity or force of
// m is NaN or infinite.
func ValidState(m dynamo.Model) error {
	for _, get := range []func() (gpuarray.View[dynamo.Vec], error){m.Positions, m.Velocities, m.Forces} {
		view, err := get()
		if err != nil {
			return err
		}
		for i, v := range view.Slice() {
			if !finite(v.X) || !finite(v.Y) || !finite(v.Z) {
				return fmt.Errorf("%w: particle %d", dynamo.ErrInvalidState, i)
			}
		}
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
