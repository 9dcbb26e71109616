package tui

import (
	"sync"

	"github.com/san-kum/partsim/internal/dynamo"
)

// Progress is a snapshot of a running simulation.
type Progress struct {
	Step   int
	Time   float64
	Values map[string]float64
}

// Feed is a simulator observer that evaluates its own metrics every few
// steps and publishes the values on a channel. Slow readers miss
// snapshots; the simulation never waits on the channel. While paused,
// OnStep blocks the simulation goroutine until Resume, Cancel or Close.
type Feed struct {
	metrics []dynamo.Metric
	every   int
	out     chan Progress

	mu        sync.Mutex
	gate      chan struct{}
	cancelled bool
	closed    chan struct{}
	once      sync.Once
}

func NewFeed(metrics []dynamo.Metric, every int) *Feed {
	if every < 1 {
		every = 1
	}
	for _, m := range metrics {
		m.Reset()
	}
	return &Feed{
		metrics: metrics,
		every:   every,
		out:     make(chan Progress, 16),
		closed:  make(chan struct{}),
	}
}

func (f *Feed) C() <-chan Progress { return f.out }

func (f *Feed) OnStep(m dynamo.Model, step int, t float64) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-f.closed:
			return
		}
	}

	if step%f.every != 0 {
		return
	}
	p := Progress{Step: step, Time: t, Values: make(map[string]float64, len(f.metrics))}
	for _, metric := range f.metrics {
		if err := metric.Observe(m, t); err != nil {
			continue
		}
		p.Values[metric.Name()] = metric.Value()
	}
	select {
	case f.out <- p:
	default:
	}
}

// Pause is ignored once the feed has been cancelled.
func (f *Feed) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate == nil && !f.cancelled {
		f.gate = make(chan struct{})
	}
}

func (f *Feed) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Cancel releases a paused step and keeps the feed running from then on.
func (f *Feed) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *Feed) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gate != nil
}

// Close closes the output channel once the simulation has returned.
func (f *Feed) Close() {
	f.once.Do(func() {
		close(f.closed)
		close(f.out)
	})
}
