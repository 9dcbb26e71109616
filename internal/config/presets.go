package config

import "sort"

var Presets = map[string]*Config{
	"gas": {
		Model: "passive", Integrator: "verlet", Particles: 2000,
		Dt: 0.01, Steps: 2000, Seed: 1, SampleEvery: 20, Temperature: 1.0, ValidateState: true,
		Domain:  DomainConfig{Kind: "periodic", Size: []float64{20, 20, 20}},
		Metrics: []string{"kinetic", "momentum"},
	},
	"cluster": {
		Model: "nbody", Integrator: "verlet", Particles: 512,
		Dt: 0.001, Steps: 5000, Seed: 7, SortEvery: 50, SampleEvery: 50, Temperature: 0.05, ValidateState: true,
		Domain:  DomainConfig{Kind: "open", Size: []float64{4, 4, 4}},
		Params:  map[string]float64{"G": 1, "softening": 0.05, "theta": 0.5},
		Metrics: []string{"kinetic", "energy_drift", "momentum", "bound"},
	},
	"collapse": {
		Model: "nbody", Integrator: "leapfrog", Particles: 1024, Accelerator: true,
		Dt: 0.0005, Steps: 4000, Seed: 3, SortEvery: 100, SampleEvery: 40, ValidateState: true,
		Domain:  DomainConfig{Kind: "periodic", Size: []float64{8, 8, 8}},
		Params:  map[string]float64{"G": 1, "softening": 0.02},
		Metrics: []string{"kinetic", "energy", "max_force"},
	},
	"sediment": {
		Model: "passive", Integrator: "euler", Particles: 500,
		Dt: 0.005, Steps: 3000, Seed: 2, SampleEvery: 30, Temperature: 0.5, ValidateState: true,
		Domain: DomainConfig{Kind: "reflecting", Size: []float64{10, 10}},
		Fields: []FieldConfig{
			{Name: "uniform", Params: map[string]float64{"gy": -9.81}},
			{Name: "drag", Params: map[string]float64{"gamma": 2}},
		},
		Metrics: []string{"kinetic", "momentum"},
	},
	"relax": {
		Model: "passive", Integrator: "overdamped", Particles: 300,
		Dt: 0.01, Steps: 2000, Seed: 5, SampleEvery: 20, Temperature: 0.1, ValidateState: true,
		Domain: DomainConfig{Kind: "open", Origin: []float64{-5, -5}, Size: []float64{10, 10}},
		Params: map[string]float64{"mobility": 1},
		Fields: []FieldConfig{
			{Name: "trap", Params: map[string]float64{"k": 1}},
		},
		Metrics: []string{"energy", "max_force"},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
