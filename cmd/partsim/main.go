package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/partsim/internal/analysis"
	"github.com/san-kum/partsim/internal/automation"
	"github.com/san-kum/partsim/internal/compute"
	"github.com/san-kum/partsim/internal/config"
	"github.com/san-kum/partsim/internal/experiment"
	"github.com/san-kum/partsim/internal/logging"
	"github.com/san-kum/partsim/internal/optim"
	"github.com/san-kum/partsim/internal/sim"
	"github.com/san-kum/partsim/internal/storage"
	"github.com/san-kum/partsim/internal/stream"
	"github.com/san-kum/partsim/internal/telemetry"
	"github.com/san-kum/partsim/internal/tui"
	"github.com/spf13/cobra"
)

var (
	dataDir     string
	verbose     bool
	backendName string

	configFile  string
	preset      string
	model       string
	integrator  string
	particles   int
	dt          float64
	steps       int
	seed        int64
	accelerator bool
	sortEvery   int
	sampleEvery int
	temperature float64
	ensemble    int
	live        bool
	frameRate   int
	noSave      bool

	listModel      string
	listIntegrator string
	listSince      time.Duration
	listLimit      int
	reindex        bool

	metricName    string
	analyzeMetric string
	outFile       string
	benchSizes    []int

	sweepParam  string
	sweepValues []float64
	sweepRange  []float64
	sweepPoints int
	grid        []string
	tuneMetric  string
	tuneAbs     bool
	serveAddr   string
	linger      bool
)

var shutdownTracing = func(context.Context) error { return nil }

var (
	title = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	faint = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	good  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "partsim",
		Short: "particle simulation lab",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			shutdown, err := telemetry.Setup(cmd.Context(), "partsim")
			if err != nil {
				return fmt.Errorf("tracing: %w", err)
			}
			shutdownTracing = shutdown
			return selectBackend(backendName)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := tea.NewProgram(tui.NewInteractiveApp(experiment.NewRegistry()), tea.WithAltScreen()).Run()
			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".partsim", "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "auto", "compute backend (auto, cpu, cuda)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run simulation",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	addRunFlags(runCmd)
	runCmd.Flags().IntVar(&ensemble, "ensemble", 1, "independent runs over consecutive seeds")
	runCmd.Flags().BoolVar(&live, "live", false, "redraw metrics while running")
	runCmd.Flags().IntVar(&frameRate, "fps", 10, "frame rate for --live")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "run simulation with a live dashboard",
		Args:  cobra.NoArgs,
		RunE:  watchSimulation,
	}
	addRunFlags(watchCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}
	listCmd.Flags().StringVar(&listModel, "model", "", "only runs of this model")
	listCmd.Flags().StringVar(&listIntegrator, "integrator", "", "only runs using this integrator")
	listCmd.Flags().DurationVar(&listSince, "since", 0, "only runs newer than this (e.g. 24h)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "at most this many runs")
	listCmd.Flags().BoolVar(&reindex, "reindex", false, "rebuild the index from the run directories first")

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot metric series of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&metricName, "metric", "", "plot only this metric")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "frequency analysis of metric series",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().StringVar(&analyzeMetric, "metric", "kinetic", "metric to analyze")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE:  listPresets,
	}

	backendsCmd := &cobra.Command{
		Use:   "backends",
		Short: "list compute backends",
		Args:  cobra.NoArgs,
		RunE:  listBackends,
	}

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "benchmark a model on host and accelerator",
		Args:  cobra.NoArgs,
		RunE:  benchModel,
	}
	benchCmd.Flags().StringVar(&model, "model", "nbody", "model")
	benchCmd.Flags().IntVar(&steps, "steps", 50, "steps per measurement")
	benchCmd.Flags().IntSliceVar(&benchSizes, "sizes", []int{128, 512, 2048}, "particle counts")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a scripted sequence of simulations",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	scenarioCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the runs")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run simulation and stream progress over websocket",
		Args:  cobra.NoArgs,
		RunE:  serveSimulation,
	}
	addRunFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost:8090", "listen address")
	serveCmd.Flags().BoolVar(&linger, "linger", false, "keep serving after the run ends until interrupted")
	serveCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "run one simulation per value of a setting",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	addRunFlags(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepParam, "param", "dt", "setting or model parameter to vary")
	sweepCmd.Flags().Float64SliceVar(&sweepValues, "values", nil, "explicit values")
	sweepCmd.Flags().Float64SliceVar(&sweepRange, "range", nil, "lo,hi for evenly spaced values")
	sweepCmd.Flags().IntVar(&sweepPoints, "points", 5, "number of values for --range")

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "grid search settings minimizing a metric",
		Args:  cobra.NoArgs,
		RunE:  runTune,
	}
	addRunFlags(tuneCmd)
	tuneCmd.Flags().StringArrayVar(&grid, "grid", nil, "name=v1,v2,... (repeatable)")
	tuneCmd.Flags().StringVar(&tuneMetric, "metric", "energy_drift", "metric to minimize")
	tuneCmd.Flags().BoolVar(&tuneAbs, "abs", true, "minimize the absolute value")

	rootCmd.AddCommand(runCmd, watchCmd, listCmd, plotCmd, analyzeCmd, exportCmd, presetsCmd, backendsCmd, benchCmd,
		scenarioCmd, serveCmd, sweepCmd, tuneCmd)

	err := rootCmd.Execute()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if serr := shutdownTracing(ctx); serr != nil {
		logging.Logger().Warn("flush traces", "err", serr)
	}
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().StringVar(&model, "model", "nbody", "model")
	cmd.Flags().StringVar(&integrator, "integrator", "verlet", "integrator")
	cmd.Flags().IntVarP(&particles, "particles", "n", config.DefaultParticles, "number of particles")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "timestep")
	cmd.Flags().IntVar(&steps, "steps", config.DefaultSteps, "number of steps")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	cmd.Flags().BoolVar(&accelerator, "accel", false, "run on the compute backend")
	cmd.Flags().IntVar(&sortEvery, "sort-every", 0, "spatial sort interval in steps")
	cmd.Flags().IntVar(&sampleEvery, "sample-every", config.DefaultSampleEvery, "metric sampling interval in steps")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "initial temperature")
}

func selectBackend(name string) error {
	switch name {
	case "", "auto":
		return nil
	case "cpu":
		compute.SetBackend(compute.NewCPUBackend())
	case "cuda":
		b := compute.NewCUDABackend()
		if !b.Available() {
			return fmt.Errorf("backend %s is not available", b.Name())
		}
		compute.SetBackend(b)
	default:
		return fmt.Errorf("unknown backend: %s", name)
	}
	return nil
}

// resolveConfig layers preset or config file, then any flags set on the
// command line.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	var cfg *config.Config
	name := "custom"
	switch {
	case preset != "":
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, "", fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		if err := config.ParseEnv(cfg); err != nil {
			return nil, "", err
		}
		name = preset
	default:
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model = model
	}
	if flags.Changed("integrator") {
		cfg.Integrator = integrator
	}
	if flags.Changed("particles") {
		cfg.Particles = particles
	}
	if flags.Changed("dt") {
		cfg.Dt = dt
	}
	if flags.Changed("steps") {
		cfg.Steps = steps
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("accel") {
		cfg.Accelerator = accelerator
	}
	if flags.Changed("sort-every") {
		cfg.SortEvery = sortEvery
	}
	if flags.Changed("sample-every") {
		cfg.SampleEvery = sampleEvery
	}
	if flags.Changed("temperature") {
		cfg.Temperature = temperature
	}
	if name == "custom" {
		name = cfg.Model
	}
	return cfg, name, cfg.Validate()
}

func backendLabel(cfg *config.Config) string {
	if cfg.Accelerator {
		return compute.GetBackend().Name()
	}
	return "host"
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, name, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	registry := experiment.NewRegistry()
	exp := experiment.New(cfg, registry)

	st := storage.New(dataDir)
	if !noSave {
		if err := st.Init(); err != nil {
			return err
		}
		defer st.Close()
	}

	if ensemble > 1 {
		return runEnsemble(ctx, exp, st, cfg, name)
	}

	if err := exp.Setup(); err != nil {
		return err
	}

	var renderer *tui.LiveRenderer
	if live {
		s := exp.GetSimulator()
		metrics, err := registry.Metrics(cfg.Metrics, s.Fields())
		if err != nil {
			return err
		}
		renderer = tui.NewLiveRenderer(os.Stdout, name, cfg.Steps, frameRate, metrics)
		s.AddObserver(renderer)
		renderer.Start()
		defer renderer.Stop()
	} else {
		fmt.Printf("running %s (%s/%s, n=%d, %s)...\n", title.Render(name), cfg.Model, cfg.Integrator, cfg.Particles, backendLabel(cfg))
	}

	start := time.Now()
	result, err := exp.Run(ctx)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("\ncompleted in %v (%.0f steps/s)\n", elapsed, float64(result.StepsTaken)/elapsed.Seconds())
	if !noSave {
		runID, err := st.Save(cfg, backendLabel(cfg), result)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", good.Render(runID))
	}
	fmt.Printf("steps: %d\n", result.StepsTaken)
	printMetrics(result.Metrics)
	return nil
}

func runEnsemble(ctx context.Context, exp *experiment.Experiment, st *storage.Store, cfg *config.Config, name string) error {
	fmt.Printf("running %d x %s (%s/%s, n=%d, %s)...\n", ensemble, title.Render(name), cfg.Model, cfg.Integrator, cfg.Particles, backendLabel(cfg))

	start := time.Now()
	results, err := exp.RunEnsemble(ctx, ensemble)
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n\n", time.Since(start))

	names := metricNames(results[0].Metrics)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "SEED\tRUN ID")
	for _, n := range names {
		fmt.Fprintf(w, "\t%s", n)
	}
	fmt.Fprintln(w)

	means := make(map[string]float64, len(names))
	for i, result := range results {
		runCfg := cfg.Clone()
		runCfg.Seed = cfg.Seed + int64(i)
		runID := "-"
		if !noSave {
			runID, err = st.Save(runCfg, backendLabel(cfg), result)
			if err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "%d\t%s", runCfg.Seed, runID)
		for _, n := range names {
			fmt.Fprintf(w, "\t%.6g", result.Metrics[n])
			means[n] += result.Metrics[n] / float64(len(results))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprint(w, "mean\t")
	for _, n := range names {
		fmt.Fprintf(w, "\t%.6g", means[n])
	}
	fmt.Fprintln(w)
	return w.Flush()
}

func watchSimulation(cmd *cobra.Command, args []string) error {
	cfg, name, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(tui.NewWatchApp(experiment.NewRegistry(), name, cfg), tea.WithAltScreen()).Run()
	return err
}

func serveSimulation(cmd *cobra.Command, args []string) error {
	cfg, name, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	registry := experiment.NewRegistry()
	exp := experiment.New(cfg, registry)
	if err := exp.Setup(); err != nil {
		return err
	}
	s := exp.GetSimulator()
	metrics, err := registry.Metrics(cfg.Metrics, s.Fields())
	if err != nil {
		return err
	}
	feed := tui.NewFeed(metrics, cfg.SampleEvery)
	s.AddObserver(feed)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-runCtx.Done()
		feed.Cancel()
	}()

	var hub *stream.Hub
	hub = stream.NewHub(func(c stream.Command) {
		if runCtx.Err() != nil {
			return
		}
		if c.Stop {
			cancel()
			return
		}
		if c.Pause != nil {
			if *c.Pause {
				feed.Pause()
			} else {
				feed.Resume()
			}
			hub.Broadcast(stream.Frame{Paused: feed.Paused()})
		}
	})
	defer hub.Close()

	ln, err := net.Listen("tcp", serveAddr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/status", hub.StatusHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger().Error("serve", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		for p := range feed.C() {
			hub.Broadcast(stream.Frame{Step: p.Step, Time: p.Time, Values: p.Values})
		}
	}()

	fmt.Printf("streaming %s (%s/%s, n=%d) on %s\n", title.Render(name), cfg.Model, cfg.Integrator, cfg.Particles,
		good.Render("ws://"+ln.Addr().String()+"/ws"))
	result, runErr := exp.Run(runCtx)
	feed.Close()
	<-pumped

	final := stream.Frame{Done: true}
	if result != nil {
		final.Step = result.StepsTaken
		final.Values = result.Metrics
		if n := len(result.Times); n > 0 {
			final.Time = result.Times[n-1]
		}
	}
	stopped := errors.Is(runErr, context.Canceled)
	if runErr != nil && !stopped {
		final.Error = runErr.Error()
	}
	hub.Broadcast(final)

	if runErr != nil && !stopped {
		return runErr
	}
	if stopped {
		fmt.Println(faint.Render("run stopped"))
	} else {
		fmt.Printf("completed %d steps\n", result.StepsTaken)
		if !noSave {
			st := storage.New(dataDir)
			if err := st.Init(); err != nil {
				return err
			}
			defer st.Close()
			runID, err := st.Save(cfg, backendLabel(cfg), result)
			if err != nil {
				return err
			}
			fmt.Printf("run id: %s\n", good.Render(runID))
		}
	}

	if linger && ctx.Err() == nil {
		fmt.Println(faint.Render("run finished; ctrl-c to exit"))
		<-ctx.Done()
	}
	return nil
}

func metricNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func printMetrics(m map[string]float64) {
	fmt.Println("\nmetrics:")
	for _, n := range metricNames(m) {
		fmt.Printf("  %-14s %.6f\n", n+":", m[n])
	}
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if reindex {
		n, err := st.Reindex(ctx)
		if err != nil {
			return err
		}
		fmt.Println(faint.Render(fmt.Sprintf("indexed %d runs", n)))
	}

	filter := storage.Filter{Model: listModel, Integrator: listIntegrator, Limit: listLimit}
	if listSince > 0 {
		filter.Since = time.Now().Add(-listSince)
	}
	runs, err := st.Query(ctx, filter)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tN\tSTEPS\tDT\tINTEG\tDOMAIN\tBACKEND")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.4g\t%s\t%s\t%s\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Particles,
			run.StepsTaken,
			run.Dt,
			run.Integrator,
			run.Domain,
			run.Backend,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	times, series, err := st.LoadSeries(runID)
	if err != nil {
		return err
	}
	if len(times) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s  n=%d\n", meta.Model, meta.Particles)
	fmt.Printf("samples: %d  t=[%.4g, %.4g]\n\n", len(times), times[0], times[len(times)-1])

	names := make([]string, 0, len(series))
	for n := range series {
		if metricName == "" || n == metricName {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no series named %q", metricName)
	}
	sort.Strings(names)

	for _, n := range names {
		data := series[n]
		if len(data) == 0 {
			continue
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(n+" vs time"),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	times, series, err := st.LoadSeries(runID)
	if err != nil {
		return err
	}
	data, ok := series[analyzeMetric]
	if !ok {
		return fmt.Errorf("run %s has no %q series", runID, analyzeMetric)
	}

	spec, err := analysis.PowerSpectrum(times, data)
	if errors.Is(err, analysis.ErrNonUniform) && len(times) > 1 {
		// the final sample lands on the last step, off the sampling grid
		spec, err = analysis.PowerSpectrum(times[:len(times)-1], data[:len(data)-1])
	}
	if err != nil {
		return err
	}

	fmt.Printf("frequency analysis: %s\n", meta.ID)
	fmt.Printf("model: %s  metric: %s\n\n", meta.Model, analyzeMetric)

	graph := asciigraph.Plot(spec.Power[1:],
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption("power spectrum ("+analyzeMetric+")"),
	)
	fmt.Println(graph)
	fmt.Println()

	freq, _ := spec.Dominant()
	fmt.Printf("dominant frequency: %.4g\n", freq)
	if freq > 0 {
		fmt.Printf("period: %.4g\n", 1.0/freq)
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	times, series, err := st.LoadSeries(runID)
	if err != nil {
		return err
	}

	cfg := &config.Config{
		Model:      meta.Model,
		Integrator: meta.Integrator,
		Particles:  meta.Particles,
		Dt:         meta.Dt,
	}
	result := &sim.Result{
		Times:      times,
		Series:     series,
		Metrics:    meta.Metrics,
		StepsTaken: meta.StepsTaken,
	}

	if outFile == "" {
		return storage.WriteJSON(os.Stdout, cfg, result)
	}
	if err := storage.ExportJSON(outFile, cfg, result); err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", runID, outFile)
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tMODEL\tINTEG\tN\tDOMAIN\tACCEL\tMETRICS")
	for _, name := range config.ListPresets() {
		p := config.Presets[name]
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%v\t%v\n",
			name, p.Model, p.Integrator, p.Particles, p.Domain.Kind, p.Accelerator, p.Metrics)
	}
	return w.Flush()
}

func listBackends(cmd *cobra.Command, args []string) error {
	active := compute.GetBackend()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tAVAILABLE\tACTIVE")
	for _, b := range compute.Backends() {
		mark := ""
		if active != nil && b.Name() == active.Name() {
			mark = good.Render("*")
		}
		fmt.Fprintf(w, "%s\t%v\t%s\n", b.Name(), b.Available(), mark)
	}
	return w.Flush()
}

func benchModel(cmd *cobra.Command, args []string) error {
	registry := experiment.NewRegistry()

	fmt.Printf("benchmarking %s %s\n\n", title.Render(model), faint.Render("("+compute.GetBackend().Name()+")"))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "N\tTARGET\tSTEPS\tTIME\tSTEPS/SEC")

	for _, n := range benchSizes {
		for _, accel := range []bool{false, true} {
			cfg := config.DefaultConfig()
			cfg.Model = model
			cfg.Particles = n
			cfg.Steps = steps
			cfg.Seed = 42
			cfg.Accelerator = accel
			cfg.Metrics = nil
			cfg.ValidateState = false

			exp := experiment.New(cfg, registry)
			if err := exp.Setup(); err != nil {
				return err
			}

			start := time.Now()
			result, err := exp.Run(context.Background())
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			fmt.Fprintf(w, "%d\t%s\t%d\t%v\t%.0f\n",
				n, backendLabel(cfg), result.StepsTaken, elapsed.Round(time.Microsecond),
				float64(result.StepsTaken)/elapsed.Seconds())
		}
	}

	return w.Flush()
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st := storage.New(dataDir)
	if !noSave {
		if err := st.Init(); err != nil {
			return err
		}
		defer st.Close()
	}

	fmt.Printf("scenario %s: %s\n", title.Render(sc.Name), faint.Render(sc.Description))
	_, err = automation.RunScenario(ctx, sc, experiment.NewRegistry(), func(r automation.StepResult) error {
		runID := "-"
		if !noSave {
			id, err := st.Save(r.Config, backendLabel(r.Config), r.Result)
			if err != nil {
				return err
			}
			runID = good.Render(id)
		}
		fmt.Printf("  %-12s %s/%s n=%d steps=%d  %s\n",
			r.Name, r.Config.Model, r.Config.Integrator, r.Config.Particles, r.Result.StepsTaken, runID)
		return nil
	})
	return err
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, name, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	values := sweepValues
	if len(values) == 0 {
		if len(sweepRange) != 2 {
			return fmt.Errorf("sweep needs --values or --range lo,hi")
		}
		values = automation.Linspace(sweepRange[0], sweepRange[1], sweepPoints)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("sweeping %s over %d values of %s...\n\n", title.Render(name), len(values), sweepParam)
	results, err := automation.RunSweep(ctx, &automation.ParameterSweep{
		Base:      cfg,
		ParamName: sweepParam,
		Values:    values,
	}, experiment.NewRegistry())
	if err != nil {
		return err
	}

	names := append([]string(nil), cfg.Metrics...)
	sort.Strings(names)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, strings.ToUpper(sweepParam))
	for _, n := range names {
		fmt.Fprintf(w, "\t%s", n)
	}
	fmt.Fprintln(w)
	for _, r := range results {
		fmt.Fprintf(w, "%.6g", r.ParamValue)
		if r.Err != nil {
			fmt.Fprintf(w, "\terror: %v\n", r.Err)
			continue
		}
		for _, n := range names {
			fmt.Fprintf(w, "\t%.6g", r.Metrics[n])
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// parseGrid reads name=v1,v2,... entries.
func parseGrid(entries []string) ([]string, [][]float64, error) {
	names := make([]string, 0, len(entries))
	ranges := make([][]float64, 0, len(entries))
	for _, e := range entries {
		name, list, ok := strings.Cut(e, "=")
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("bad grid entry %q, want name=v1,v2", e)
		}
		var vals []float64
		for _, f := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("grid %s: %w", name, err)
			}
			vals = append(vals, v)
		}
		names = append(names, name)
		ranges = append(ranges, vals)
	}
	return names, ranges, nil
}

func runTune(cmd *cobra.Command, args []string) error {
	cfg, name, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	names, ranges, err := parseGrid(grid)
	if err != nil {
		return err
	}
	gs, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	registry := experiment.NewRegistry()
	objective := func(ctx context.Context, params map[string]float64) (float64, error) {
		c := cfg.Clone()
		for k, v := range params {
			if err := c.SetValue(k, v); err != nil {
				return 0, err
			}
		}
		exp := experiment.New(c, registry)
		if err := exp.Setup(); err != nil {
			return 0, err
		}
		result, err := exp.Run(ctx)
		if err != nil {
			return 0, err
		}
		v, ok := result.Metrics[tuneMetric]
		if !ok {
			return 0, fmt.Errorf("metric %s not recorded", tuneMetric)
		}
		if tuneAbs {
			v = math.Abs(v)
		}
		return v, nil
	}

	fmt.Printf("tuning %s: minimizing %s over %d points...\n\n", title.Render(name), tuneMetric, len(gs.Points()))
	best, trials, err := gs.Search(ctx, objective)
	if err != nil && !errors.Is(err, optim.ErrNoFeasible) {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, n := range names {
		fmt.Fprintf(w, "%s\t", strings.ToUpper(n))
	}
	fmt.Fprintln(w, strings.ToUpper(tuneMetric))
	for _, t := range trials {
		for _, n := range names {
			fmt.Fprintf(w, "%.6g\t", t.Params[n])
		}
		if t.Err != nil {
			fmt.Fprintf(w, "error: %v\n", t.Err)
			continue
		}
		fmt.Fprintf(w, "%.6g\n", t.Value)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err != nil {
		return err
	}

	fmt.Println()
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", n, best.Params[n]))
	}
	fmt.Printf("best: %s  %s=%.6g\n", good.Render(strings.Join(parts, " ")), tuneMetric, best.Value)
	return nil
}
