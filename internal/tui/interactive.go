package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/partsim/internal/config"
	"github.com/san-kum/partsim/internal/experiment"
	"github.com/san-kum/partsim/internal/sim"
)

const historyLen = 240

type state int

const (
	stateMenu state = iota
	stateSim
)

type tickMsg time.Time

type progressMsg struct {
	run *run
	p   Progress
}

type doneMsg struct {
	run    *run
	result *sim.Result
	err    error
}

type startedMsg struct {
	name string
	run  *run
	err  error
}

// run is one simulation executing on its own goroutine.
type run struct {
	cfg    *config.Config
	exp    *experiment.Experiment
	feed   *Feed
	cancel context.CancelFunc
}

type model struct {
	state    state
	cursor   int
	presets  []string
	registry *experiment.Registry
	fixed    *config.Config

	run      *run
	selected string
	steps    int
	step     int
	simTime  float64
	names    []string
	history  map[string][]float64
	latest   map[string]float64
	focus    int
	paused   bool
	finished bool
	result   *sim.Result
	err      error
	started  time.Time
	rate     float64

	width  int
	height int
}

// NewInteractiveApp returns a dashboard that lets the user pick a preset
// and watch its metrics evolve.
func NewInteractiveApp(registry *experiment.Registry) tea.Model {
	return model{
		state:    stateMenu,
		presets:  config.ListPresets(),
		registry: registry,
		width:    80,
		height:   24,
	}
}

// NewWatchApp returns a dashboard that starts cfg immediately.
func NewWatchApp(registry *experiment.Registry, name string, cfg *config.Config) tea.Model {
	return model{
		state:    stateSim,
		registry: registry,
		fixed:    cfg,
		selected: name,
		width:    80,
		height:   24,
	}
}

func (m model) Init() tea.Cmd {
	if m.fixed != nil {
		return start(m.registry, m.selected, m.fixed)
	}
	return nil
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// start builds the simulator off the update loop; large models take a
// moment to place and thermalize.
func start(registry *experiment.Registry, name string, cfg *config.Config) tea.Cmd {
	return func() tea.Msg {
		exp := experiment.New(cfg, registry)
		if err := exp.Setup(); err != nil {
			return startedMsg{name: name, err: err}
		}
		s := exp.GetSimulator()
		metrics, err := registry.Metrics(cfg.Metrics, s.Fields())
		if err != nil {
			return startedMsg{name: name, err: err}
		}
		every := cfg.SampleEvery
		if every < 1 {
			every = config.DefaultSampleEvery
		}
		feed := NewFeed(metrics, every)
		s.AddObserver(feed)
		return startedMsg{name: name, run: &run{cfg: cfg, exp: exp, feed: feed}}
	}
}

func execute(ctx context.Context, r *run) tea.Cmd {
	return func() tea.Msg {
		res, err := r.exp.Run(ctx)
		r.feed.Close()
		return doneMsg{run: r, result: res, err: err}
	}
}

func listen(r *run) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-r.feed.C()
		if !ok {
			return nil
		}
		return progressMsg{run: r, p: p}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case startedMsg:
		if m.state != stateSim || m.run != nil || msg.name != m.selected {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
			m.finished = true
			return m, nil
		}
		ctx, cancel := context.WithCancel(context.Background())
		msg.run.cancel = cancel
		m.reset()
		m.run = msg.run
		m.steps = msg.run.cfg.Steps
		m.names = append([]string(nil), msg.run.cfg.Metrics...)
		sort.Strings(m.names)
		m.started = time.Now()
		return m, tea.Batch(execute(ctx, msg.run), listen(msg.run), tick())
	case progressMsg:
		if msg.run != m.run {
			return m, nil
		}
		m.record(msg.p)
		return m, listen(msg.run)
	case doneMsg:
		if msg.run != m.run {
			return m, nil
		}
		m.finished = true
		m.result = msg.result
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.err = msg.err
		}
		if msg.result != nil {
			m.step = msg.result.StepsTaken
			for name, v := range msg.result.Metrics {
				m.latest[name] = v
			}
		}
		return m, nil
	case tickMsg:
		if m.state != stateSim || m.finished {
			return m, nil
		}
		if elapsed := time.Since(m.started).Seconds(); elapsed > 0 {
			m.rate = float64(m.step) / elapsed
		}
		return m, tick()
	}
	return m, nil
}

func (m *model) reset() {
	m.step = 0
	m.simTime = 0
	m.focus = 0
	m.paused = false
	m.finished = false
	m.result = nil
	m.err = nil
	m.rate = 0
	m.history = make(map[string][]float64)
	m.latest = make(map[string]float64)
}

func (m *model) record(p Progress) {
	m.step = p.Step
	m.simTime = p.Time
	if m.history == nil {
		m.history = make(map[string][]float64)
		m.latest = make(map[string]float64)
	}
	for name, v := range p.Values {
		h := append(m.history[name], v)
		if len(h) > historyLen {
			h = h[len(h)-historyLen:]
		}
		m.history[name] = h
		m.latest[name] = v
	}
}

func (m *model) stop() {
	if m.run == nil {
		return
	}
	m.run.cancel()
	m.run.feed.Cancel()
}

func (m model) handleKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch m.state {
	case stateMenu:
		return m.menuKey(msg)
	case stateSim:
		return m.simKey(msg)
	}
	return m, nil
}

func (m model) menuKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.presets)-1 {
			m.cursor++
		}
	case "enter", " ":
		if len(m.presets) == 0 {
			return m, nil
		}
		m.selected = m.presets[m.cursor]
		m.state = stateSim
		m.reset()
		return m, tea.Batch(tea.ClearScreen, start(m.registry, m.selected, config.GetPreset(m.selected)))
	}
	return m, nil
}

func (m model) simKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.stop()
		return m, tea.Quit
	case "q", "esc":
		m.stop()
		if m.fixed != nil {
			return m, tea.Quit
		}
		m.run = nil
		m.state = stateMenu
		return m, tea.ClearScreen
	case " ", "p":
		if m.run == nil || m.finished {
			return m, nil
		}
		if m.paused {
			m.run.feed.Resume()
		} else {
			m.run.feed.Pause()
		}
		m.paused = !m.paused
	case "tab", "right", "l":
		if len(m.names) > 0 {
			m.focus = (m.focus + 1) % len(m.names)
		}
	case "shift+tab", "left", "h":
		if len(m.names) > 0 {
			m.focus = (m.focus + len(m.names) - 1) % len(m.names)
		}
	}
	return m, nil
}

func (m model) View() string {
	switch m.state {
	case stateMenu:
		return m.viewMenu()
	case stateSim:
		return m.viewSim()
	}
	return ""
}

func (m model) viewMenu() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	b.WriteString("          " + cyan.Render("p a r t s i m") + "\n")
	b.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	b.WriteString("\n")

	for i, name := range m.presets {
		desc := describe(config.Presets[name])
		if i == m.cursor {
			b.WriteString("      " + cyan.Render("▸ ") + white.Render(fmt.Sprintf("%-12s", name)) + dim.Render(desc) + "\n")
		} else {
			b.WriteString("        " + dim.Render(fmt.Sprintf("%-12s", name)) + dimmer.Render(desc) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(dim.Render("      ↑↓ select   enter start   q quit") + "\n")

	return b.String()
}

func describe(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s  n=%d  %s", cfg.Model, cfg.Integrator, cfg.Particles, cfg.Domain.Kind)
}

func (m model) viewSim() string {
	var b strings.Builder

	statusIcon := green.Render("●")
	statusText := green.Render("running")
	switch {
	case m.err != nil:
		statusIcon = magenta.Render("✕")
		statusText = magenta.Render("failed")
	case m.finished:
		statusIcon = cyan.Render("■")
		statusText = cyan.Render("done")
	case m.run == nil:
		statusIcon = dim.Render("○")
		statusText = dim.Render("building")
	case m.paused:
		statusIcon = yellow.Render("○")
		statusText = yellow.Render("paused")
	}
	b.WriteString(fmt.Sprintf("\n   %s %s  %s\n", statusIcon, cyan.Render(m.selected), statusText))

	progress := 0.0
	if m.steps > 0 {
		progress = float64(m.step) / float64(m.steps)
	}
	if progress > 1 {
		progress = 1
	}
	barWidth := 36
	filled := int(progress * float64(barWidth))
	stepStr := fmt.Sprintf("%d/%d  t=%.3f", m.step, m.steps, m.simTime)
	bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
	b.WriteString(fmt.Sprintf("   %s %s  %s\n\n", bar, dim.Render(stepStr), dim.Render(fmt.Sprintf("%.0f steps/s", m.rate))))

	if m.err != nil {
		b.WriteString("   " + magenta.Render(m.err.Error()) + "\n")
	}

	for i, name := range m.names {
		label := fmt.Sprintf("%-14s", name)
		val := fmt.Sprintf("%12.5g", m.latest[name])
		spark := sparkline(m.history[name], 24)
		if i == m.focus {
			b.WriteString("   " + cyan.Render("▸ ") + white.Render(label) + magenta.Render(val) + "  " + cyan.Render(spark) + "\n")
		} else {
			b.WriteString("     " + dim.Render(label) + dim.Render(val) + "  " + dimmer.Render(spark) + "\n")
		}
	}

	if len(m.names) > 0 {
		if data := m.history[m.names[m.focus]]; len(data) > 1 {
			b.WriteString("\n" + m.plot(m.names[m.focus], data) + "\n")
		}
	}

	b.WriteString("\n" + dim.Render("   space pause  tab metric  q back") + "\n")
	return b.String()
}

func (m model) plot(name string, data []float64) string {
	w := m.width - 16
	if w < 30 {
		w = 30
	}
	h := m.height - 12 - len(m.names)
	if h < 5 {
		h = 5
	}
	if h > 15 {
		h = 15
	}
	return asciigraph.Plot(data,
		asciigraph.Height(h),
		asciigraph.Width(w),
		asciigraph.Offset(3),
		asciigraph.Caption(name))
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	if len(data) > width {
		data = data[len(data)-width:]
	}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	var sb strings.Builder
	for _, v := range data {
		idx := int((v - minVal) / rang * 7)
		if idx > 7 {
			idx = 7
		}
		if idx < 0 {
			idx = 0
		}
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}
