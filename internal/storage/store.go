// Package storage keeps completed runs on disk: one directory per run with
// a metadata.json and the sampled metric series in series.csv, plus a
// SQLite index of the metadata for filtered listing. Particle state is
// never written.
package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/partsim/internal/config"
	"github.com/san-kum/partsim/internal/sim"
)

var ErrNotFound = errors.New("storage: run not found")

type Store struct {
	baseDir string
	now     func() time.Time
	index   *Index
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

// Init creates the data directory and opens the run index.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return err
	}
	if s.index != nil {
		return nil
	}
	idx, err := OpenIndex(filepath.Join(s.baseDir, "index.db"))
	if err != nil {
		return err
	}
	s.index = idx
	return nil
}

func (s *Store) Close() error {
	err := s.index.Close()
	s.index = nil
	return err
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Model       string             `json:"model"`
	Integrator  string             `json:"integrator"`
	Domain      string             `json:"domain"`
	Timestamp   time.Time          `json:"timestamp"`
	Seed        int64              `json:"seed"`
	Particles   int                `json:"particles"`
	Dt          float64            `json:"dt"`
	Steps       int                `json:"steps"`
	StepsTaken  int                `json:"steps_taken"`
	Accelerator bool               `json:"accelerator"`
	Backend     string             `json:"backend,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Save writes a run and returns its ID.
func (s *Store) Save(cfg *config.Config, backend string, result *sim.Result) (string, error) {
	ts := s.now()
	runID, runDir, err := s.allocate(cfg.Model, ts)
	if err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:          runID,
		Model:       cfg.Model,
		Integrator:  cfg.Integrator,
		Domain:      cfg.Domain.Kind,
		Timestamp:   ts,
		Seed:        cfg.Seed,
		Particles:   cfg.Particles,
		Dt:          cfg.Dt,
		Steps:       cfg.Steps,
		StepsTaken:  result.StepsTaken,
		Accelerator: cfg.Accelerator,
		Backend:     backend,
		Metrics:     result.Metrics,
	}

	if err := writeJSON(filepath.Join(runDir, "metadata.json"), meta); err != nil {
		return "", err
	}
	if err := writeSeries(filepath.Join(runDir, "series.csv"), result); err != nil {
		return "", err
	}
	if s.index != nil {
		if err := s.index.Put(context.Background(), meta); err != nil {
			return "", err
		}
	}
	return runID, nil
}

func (s *Store) allocate(model string, ts time.Time) (string, string, error) {
	base := fmt.Sprintf("%s_%s", model, ts.Format("20060102-150405"))
	for i := 0; ; i++ {
		id := base
		if i > 0 {
			id = fmt.Sprintf("%s-%d", base, i)
		}
		dir := filepath.Join(s.baseDir, id)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", err
		}
	}
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSeries(path string, result *sim.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	names := seriesNames(result)
	w := csv.NewWriter(f)
	if err := w.Write(append([]string{"time"}, names...)); err != nil {
		return err
	}

	for i, t := range result.Times {
		row := []string{strconv.FormatFloat(t, 'g', -1, 64)}
		for _, name := range names {
			val := ""
			if s := result.Series[name]; i < len(s) {
				val = strconv.FormatFloat(s[i], 'g', -1, 64)
			}
			row = append(row, val)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func seriesNames(result *sim.Result) []string {
	names := make([]string, 0, len(result.Series))
	for name := range result.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

// Query lists indexed runs matching f, newest first. It needs Init.
func (s *Store) Query(ctx context.Context, f Filter) ([]RunMetadata, error) {
	if s.index == nil {
		return nil, fmt.Errorf("storage: index not open")
	}
	return s.index.Query(ctx, f)
}

// Reindex loads every run directory into the index and returns the
// number of runs indexed.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, fmt.Errorf("storage: index not open")
	}
	runs, err := s.List()
	if err != nil {
		return 0, err
	}
	for _, meta := range runs {
		if err := s.index.Put(ctx, meta); err != nil {
			return 0, err
		}
	}
	return len(runs), nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadSeries reads the sampled metric series of a run.
func (s *Store) LoadSeries(runID string) (times []float64, series map[string][]float64, err error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "series.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}

	series = make(map[string][]float64)
	if len(records) < 1 {
		return []float64{}, series, nil
	}
	header := records[0]

	times = make([]float64, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) == 0 {
			continue
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			continue
		}
		times = append(times, t)

		for j := 1; j < len(header) && j < len(record); j++ {
			val, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				continue
			}
			series[header[j]] = append(series[header[j]], val)
		}
	}

	return times, series, nil
}
