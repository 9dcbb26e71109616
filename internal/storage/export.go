package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/partsim/internal/config"
	"github.com/san-kum/partsim/internal/sim"
)

type ExportData struct {
	Model      string               `json:"model"`
	Integrator string               `json:"integrator"`
	Particles  int                  `json:"particles"`
	Dt         float64              `json:"dt"`
	Steps      int                  `json:"steps"`
	Times      []float64            `json:"times"`
	Series     map[string][]float64 `json:"series"`
	Metrics    map[string]float64   `json:"metrics"`
}

// WriteJSON encodes the run summary and metric series to w.
func WriteJSON(w io.Writer, cfg *config.Config, result *sim.Result) error {
	data := ExportData{
		Model:      cfg.Model,
		Integrator: cfg.Integrator,
		Particles:  cfg.Particles,
		Dt:         cfg.Dt,
		Steps:      result.StepsTaken,
		Times:      result.Times,
		Series:     result.Series,
		Metrics:    result.Metrics,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func ExportJSON(path string, cfg *config.Config, result *sim.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteJSON(file, cfg, result)
}
