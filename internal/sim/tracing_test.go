package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/san-kum/partsim/internal/integrators"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestRunSpan(t *testing.T) {
	sr := recordSpans(t)

	s := New(newRecording(t, 3, false), integrators.NewEuler())
	if _, err := s.Run(context.Background(), Config{Dt: 0.1, Steps: 4}); err != nil {
		t.Fatal(err)
	}

	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Name() != "sim.Run" {
		t.Fatalf("spans = %v", spans)
	}
	a := attrs(spans[0].Attributes())
	if a["integrator"].AsString() != "euler" || a["particles"].AsInt64() != 3 || a["steps_taken"].AsInt64() != 4 {
		t.Errorf("attributes = %v", a)
	}
	if spans[0].Status().Code == codes.Error {
		t.Errorf("status = %v", spans[0].Status())
	}
}

func TestRunSpanRecordsError(t *testing.T) {
	sr := recordSpans(t)

	s := New(newRecording(t, 1, false), integrators.NewEuler())
	if _, err := s.Run(context.Background(), Config{Dt: -1, Steps: 4}); err == nil {
		t.Fatal("expected error")
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error || len(spans[0].Events()) == 0 {
		t.Errorf("status = %v, events = %v", spans[0].Status(), spans[0].Events())
	}
}

func TestEnsembleSpanParentsRuns(t *testing.T) {
	sr := recordSpans(t)

	build := func(seed int64) (*Simulator, error) {
		return New(newRecording(t, 2, false), integrators.NewEuler()), nil
	}
	if _, err := NewEnsemble(build, 3, 7).Run(context.Background(), Config{Dt: 0.1, Steps: 2}); err != nil {
		t.Fatal(err)
	}

	var parent sdktrace.ReadOnlySpan
	runs := 0
	for _, span := range sr.Ended() {
		switch span.Name() {
		case "sim.Ensemble":
			parent = span
		case "sim.Run":
			runs++
		}
	}
	if parent == nil || runs != 3 {
		t.Fatalf("ensemble span %v, %d run spans", parent, runs)
	}
	for _, span := range sr.Ended() {
		if span.Name() == "sim.Run" && span.Parent().SpanID() != parent.SpanContext().SpanID() {
			t.Error("run span not parented to ensemble")
		}
	}

	boom := errors.New("boom")
	failing := func(int64) (*Simulator, error) { return nil, boom }
	NewEnsemble(failing, 1, 0).Run(context.Background(), Config{Dt: 0.1, Steps: 1})
	last := sr.Ended()[len(sr.Ended())-1]
	if last.Name() != "sim.Ensemble" || last.Status().Code != codes.Error {
		t.Errorf("failed ensemble span = %s %v", last.Name(), last.Status())
	}
}
