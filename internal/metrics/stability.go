package metrics

import (
	"github.com/san-kum/partsim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

// Bound reports the fraction of particles within radius of the centre of
// mass, so an evaporating cluster shows a falling value.
type Bound struct {
	radius float64
	value  float64
}

func NewBound(radius float64) *Bound {
	return &Bound{radius: radius, value: 1}
}

func (b *Bound) Name() string { return "bound" }

func (b *Bound) Observe(m dynamo.Model, t float64) error {
	pos, err := m.Positions()
	if err != nil {
		return err
	}
	mass, err := m.Masses()
	if err != nil {
		return err
	}
	if pos.Len() == 0 {
		b.value = 1
		return nil
	}

	var com r3.Vec
	total := 0.0
	for i, p := range pos.Slice() {
		com = r3.Add(com, r3.Scale(mass.At(i), p))
		total += mass.At(i)
	}
	if total != 0 {
		com = r3.Scale(1/total, com)
	}

	inside := 0
	r2 := b.radius * b.radius
	for _, p := range pos.Slice() {
		if r3.Norm2(r3.Sub(p, com)) <= r2 {
			inside++
		}
	}
	b.value = float64(inside) / float64(pos.Len())
	return nil
}

func (b *Bound) Value() float64 { return b.value }
func (b *Bound) Reset()         { b.value = 1 }

// New builds a metric by name. fields feed the energy metrics.
func New(name string, fields []dynamo.ForceField) (dynamo.Metric, bool) {
	switch name {
	case "kinetic":
		return NewKineticEnergy(), true
	case "energy":
		return NewEnergy(fields), true
	case "energy_drift":
		return NewEnergyDrift(fields), true
	case "momentum":
		return NewMomentum(), true
	case "max_force":
		return NewMaxForce(), true
	case "bound":
		return NewBound(5), true
	}
	return nil, false
}
