package integrators

import (
	"github.com/san-kum/partsim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

// kick advances velocities by h*F/m.
func kick(m dynamo.Model, h float64) error {
	if err := dynamo.CheckMasses(m); err != nil {
		return err
	}
	vel, err := m.Velocities()
	if err != nil {
		return err
	}
	force, err := m.Forces()
	if err != nil {
		return err
	}
	mass, err := m.Masses()
	if err != nil {
		return err
	}

	v, f, w := vel.Slice(), force.Slice(), mass.Slice()
	for i := range v {
		v[i] = r3.Add(v[i], r3.Scale(h/w[i], f[i]))
	}
	return nil
}

// drift moves particles by h*v through the model, so the domain applies.
func drift(m dynamo.Model, h float64) error {
	vel, err := m.Velocities()
	if err != nil {
		return err
	}
	return m.MoveParticles(vel.Slice(), h)
}
