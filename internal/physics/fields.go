package physics

import (
	"fmt"

	"github.com/san-kum/partsim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

// UniformField pulls every particle with a constant acceleration, like
// gravity near a surface.
type UniformField struct {
	Accel r3.Vec
}

func (u *UniformField) Name() string { return "uniform" }

func (u *UniformField) Apply(m dynamo.Model) error {
	force, err := m.Forces()
	if err != nil {
		return err
	}
	mass, err := m.Masses()
	if err != nil {
		return err
	}
	f, w := force.Slice(), mass.Slice()
	for i := range f {
		f[i] = r3.Add(f[i], r3.Scale(w[i], u.Accel))
	}
	return nil
}

// Potential is measured from the origin.
func (u *UniformField) Potential(m dynamo.Model) (float64, error) {
	pos, err := m.Positions()
	if err != nil {
		return 0, err
	}
	mass, err := m.Masses()
	if err != nil {
		return 0, err
	}
	e := 0.0
	for i, p := range pos.Slice() {
		e -= mass.At(i) * r3.Dot(u.Accel, p)
	}
	return e, nil
}

// HarmonicTrap binds particles to Center with spring constant K.
type HarmonicTrap struct {
	Center r3.Vec
	K      float64
}

func (h *HarmonicTrap) Name() string { return "trap" }

func (h *HarmonicTrap) Apply(m dynamo.Model) error {
	force, err := m.Forces()
	if err != nil {
		return err
	}
	pos, err := m.Positions()
	if err != nil {
		return err
	}
	f, p := force.Slice(), pos.Slice()
	for i := range f {
		f[i] = r3.Sub(f[i], r3.Scale(h.K, r3.Sub(p[i], h.Center)))
	}
	return nil
}

func (h *HarmonicTrap) Potential(m dynamo.Model) (float64, error) {
	pos, err := m.Positions()
	if err != nil {
		return 0, err
	}
	e := 0.0
	for _, p := range pos.Slice() {
		e += 0.5 * h.K * r3.Norm2(r3.Sub(p, h.Center))
	}
	return e, nil
}

// Drag is linear friction against the velocity.
type Drag struct {
	Gamma float64
}

func (d *Drag) Name() string { return "drag" }

func (d *Drag) Apply(m dynamo.Model) error {
	force, err := m.Forces()
	if err != nil {
		return err
	}
	vel, err := m.Velocities()
	if err != nil {
		return err
	}
	f, v := force.Slice(), vel.Slice()
	for i := range f {
		f[i] = r3.Sub(f[i], r3.Scale(d.Gamma, v[i]))
	}
	return nil
}

// NewField builds a force field by name from a parameter map.
func NewField(name string, params map[string]float64) (dynamo.ForceField, error) {
	vec := func(prefix string) r3.Vec {
		return r3.Vec{X: params[prefix+"x"], Y: params[prefix+"y"], Z: params[prefix+"z"]}
	}
	switch name {
	case "uniform":
		return &UniformField{Accel: vec("g")}, nil
	case "trap":
		return &HarmonicTrap{Center: vec("c"), K: params["k"]}, nil
	case "drag":
		if params["gamma"] < 0 {
			return nil, fmt.Errorf("%w: negative drag %g", dynamo.ErrInvalidConfig, params["gamma"])
		}
		return &Drag{Gamma: params["gamma"]}, nil
	default:
		return nil, fmt.Errorf("%w: unknown force field %q", dynamo.ErrInvalidConfig, name)
	}
}

var (
	_ dynamo.PotentialField = (*UniformField)(nil)
	_ dynamo.PotentialField = (*HarmonicTrap)(nil)
	_ dynamo.ForceField     = (*Drag)(nil)
)
