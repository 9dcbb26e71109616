package sim

import (
	"context"
	"runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Builder constructs an independent simulator for one ensemble member.
type Builder func(seed int64) (*Simulator, error)

// Ensemble runs the same experiment over consecutive seeds.
type Ensemble struct {
	build     Builder
	numRuns   int
	seedStart int64
}

func NewEnsemble(build Builder, numRuns int, seedStart int64) *Ensemble {
	return &Ensemble{build: build, numRuns: numRuns, seedStart: seedStart}
}

// Run executes every member concurrently, at most one per CPU. The first
// failure cancels the remaining members.
func (e *Ensemble) Run(ctx context.Context, cfg Config) (_ []*Result, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sim.Ensemble", trace.WithAttributes(
		attribute.Int("runs", e.numRuns),
		attribute.Int64("seed_start", e.seedStart),
	))
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	results := make([]*Result, e.numRuns)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i := 0; i < e.numRuns; i++ {
		idx := i
		g.Go(func() error {
			s, err := e.build(e.seedStart + int64(idx))
			if err != nil {
				return err
			}
			results[idx], err = s.Run(ctx, cfg)
			return err
		})
	}

	if err = g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
