package metrics

import (
	"math"

	"github.com/san-kum/partsim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

// KineticEnergy reports sum(m v^2 / 2) at the last observation.
type KineticEnergy struct {
	value float64
}

func NewKineticEnergy() *KineticEnergy {
	return &KineticEnergy{}
}

func (k *KineticEnergy) Name() string { return "kinetic" }

func (k *KineticEnergy) Observe(m dynamo.Model, t float64) error {
	ke, err := kinetic(m)
	if err != nil {
		return err
	}
	k.value = ke
	return nil
}

func (k *KineticEnergy) Value() float64 { return k.value }
func (k *KineticEnergy) Reset()         { k.value = 0 }

func kinetic(m dynamo.Model) (float64, error) {
	vel, err := m.Velocities()
	if err != nil {
		return 0, err
	}
	mass, err := m.Masses()
	if err != nil {
		return 0, err
	}
	ke := 0.0
	for i, v := range vel.Slice() {
		ke += 0.5 * mass.At(i) * r3.Norm2(v)
	}
	return ke, nil
}

// TotalEnergy returns the energy of m plus the potential energy of fields.
// Hamiltonian models supply their own kinetic and interaction terms; other
// models contribute their kinetic energy only.
func TotalEnergy(m dynamo.Model, fields []dynamo.ForceField) (float64, error) {
	var e float64
	var err error
	if h, ok := m.(dynamo.Hamiltonian); ok {
		e, err = h.Energy()
	} else {
		e, err = kinetic(m)
	}
	if err != nil {
		return 0, err
	}

	for _, f := range fields {
		pf, ok := f.(dynamo.PotentialField)
		if !ok {
			continue
		}
		u, err := pf.Potential(m)
		if err != nil {
			return 0, err
		}
		e += u
	}
	return e, nil
}

// Energy reports the total energy at the last observation.
type Energy struct {
	fields []dynamo.ForceField
	value  float64
}

func NewEnergy(fields []dynamo.ForceField) *Energy {
	return &Energy{fields: fields}
}

func (e *Energy) Name() string { return "energy" }

func (e *Energy) Observe(m dynamo.Model, t float64) error {
	v, err := TotalEnergy(m, e.fields)
	if err != nil {
		return err
	}
	e.value = v
	return nil
}

func (e *Energy) Value() float64 { return e.value }
func (e *Energy) Reset()         { e.value = 0 }

// EnergyDrift tracks the largest relative deviation of the total energy
// from its first observed value.
type EnergyDrift struct {
	fields        []dynamo.ForceField
	initialEnergy float64
	maxDrift      float64
	samples       int
}

func NewEnergyDrift(fields []dynamo.ForceField) *EnergyDrift {
	return &EnergyDrift{fields: fields}
}

func (e *EnergyDrift) Name() string { return "energy_drift" }

func (e *EnergyDrift) Observe(m dynamo.Model, t float64) error {
	energy, err := TotalEnergy(m, e.fields)
	if err != nil {
		return err
	}

	if e.samples == 0 {
		e.initialEnergy = energy
	}
	e.samples++

	if e.initialEnergy != 0 {
		drift := math.Abs(energy-e.initialEnergy) / math.Abs(e.initialEnergy)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
	return nil
}

func (e *EnergyDrift) Value() float64 {
	return e.maxDrift
}

func (e *EnergyDrift) Reset() {
	e.initialEnergy = 0
	e.maxDrift = 0
	e.samples = 0
}
