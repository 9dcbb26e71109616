package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

var ErrNoFeasible = errors.New("optim: every grid point failed")

// Objective evaluates one grid point; lower is better.
type Objective func(ctx context.Context, params map[string]float64) (float64, error)

type Trial struct {
	Params map[string]float64
	Value  float64
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, fmt.Errorf("optim: %d parameters for %d ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("optim: no values for %s", params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Points enumerates the grid with the last parameter varying fastest.
func (g *GridSearch) Points() []map[string]float64 {
	var out []map[string]float64
	g.enumerate(0, make(map[string]float64, len(g.paramNames)), &out)
	return out
}

func (g *GridSearch) enumerate(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		point := make(map[string]float64, len(current))
		for k, v := range current {
			point[k] = v
		}
		*out = append(*out, point)
		return
	}
	for _, val := range g.ranges[depth] {
		current[g.paramNames[depth]] = val
		g.enumerate(depth+1, current, out)
	}
}

// Search evaluates every grid point concurrently and returns the best
// trial along with all trials in grid order. Ties go to the earlier
// point. Failed points are skipped; cancellation aborts the search.
func (g *GridSearch) Search(ctx context.Context, objective Objective) (Trial, []Trial, error) {
	points := g.Points()
	trials := make([]Trial, len(points))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU())
	for i, p := range points {
		eg.Go(func() error {
			v, err := objective(ctx, p)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			trials[i] = Trial{Params: p, Value: v, Err: err}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Trial{}, nil, err
	}

	best := -1
	for i, t := range trials {
		if t.Err != nil || math.IsNaN(t.Value) {
			continue
		}
		if best < 0 || t.Value < trials[best].Value {
			best = i
		}
	}
	if best < 0 {
		return Trial{}, trials, ErrNoFeasible
	}
	return trials[best], trials, nil
}
