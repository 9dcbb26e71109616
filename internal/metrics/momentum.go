package metrics

import (
	"math"

	"github.com/san-kum/partsim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

// Momentum reports the magnitude of the total linear momentum.
type Momentum struct {
	value float64
}

func NewMomentum() *Momentum {
	return &Momentum{}
}

func (p *Momentum) Name() string { return "momentum" }

func (p *Momentum) Observe(m dynamo.Model, t float64) error {
	vel, err := m.Velocities()
	if err != nil {
		return err
	}
	mass, err := m.Masses()
	if err != nil {
		return err
	}
	var total r3.Vec
	for i, v := range vel.Slice() {
		total = r3.Add(total, r3.Scale(mass.At(i), v))
	}
	p.value = r3.Norm(total)
	return nil
}

func (p *Momentum) Value() float64 { return p.value }
func (p *Momentum) Reset()         { p.value = 0 }

// MaxForce reports the largest force magnitude on any particle.
type MaxForce struct {
	value float64
}

func NewMaxForce() *MaxForce {
	return &MaxForce{}
}

func (f *MaxForce) Name() string { return "max_force" }

func (f *MaxForce) Observe(m dynamo.Model, t float64) error {
	force, err := m.Forces()
	if err != nil {
		return err
	}
	f.value = 0
	for _, v := range force.Slice() {
		f.value = math.Max(f.value, r3.Norm(v))
	}
	return nil
}

func (f *MaxForce) Value() float64 { return f.value }
func (f *MaxForce) Reset()         { f.value = 0 }
