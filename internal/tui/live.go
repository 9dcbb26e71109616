package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/san-kum/partsim/internal/dynamo"
)

const (
	clearScreen = "\033[2J\033[H"
	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"
	liveWidth   = 40
)

// LiveRenderer redraws a plain metrics table on every frame. It suits
// terminals where the full dashboard is unavailable.
type LiveRenderer struct {
	out       io.Writer
	name      string
	total     int
	frameRate int
	lastFrame time.Time
	metrics   []dynamo.Metric
	history   map[string][]float64
}

func NewLiveRenderer(out io.Writer, name string, total, frameRate int, metrics []dynamo.Metric) *LiveRenderer {
	if frameRate < 1 {
		frameRate = 1
	}
	for _, m := range metrics {
		m.Reset()
	}
	return &LiveRenderer{
		out:       out,
		name:      name,
		total:     total,
		frameRate: frameRate,
		metrics:   metrics,
		history:   make(map[string][]float64, len(metrics)),
	}
}

func (r *LiveRenderer) OnStep(m dynamo.Model, step int, t float64) {
	if step != r.total && time.Since(r.lastFrame) < time.Second/time.Duration(r.frameRate) {
		return
	}
	r.lastFrame = time.Now()

	for _, metric := range r.metrics {
		if err := metric.Observe(m, t); err != nil {
			continue
		}
		h := append(r.history[metric.Name()], metric.Value())
		if len(h) > liveWidth {
			h = h[len(h)-liveWidth:]
		}
		r.history[metric.Name()] = h
	}
	r.render(step, t, m.ParticleCount())
}

func (r *LiveRenderer) render(step int, t float64, n int) {
	var b strings.Builder
	b.WriteString(clearScreen)
	b.WriteString(fmt.Sprintf("  %s  n=%d  step %d/%d  t=%.4f\n", r.name, n, step, r.total, t))
	b.WriteString("  " + strings.Repeat("-", liveWidth+28) + "\n")

	for _, metric := range r.metrics {
		h := r.history[metric.Name()]
		if len(h) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("  %-14s %12.5g  %s\n", metric.Name(), h[len(h)-1], sparkline(h, liveWidth)))
	}
	fmt.Fprint(r.out, b.String())
}

func (r *LiveRenderer) Start() { fmt.Fprint(r.out, hideCursor) }
func (r *LiveRenderer) Stop()  { fmt.Fprint(r.out, showCursor) }
