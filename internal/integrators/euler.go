package integrators

import "github.com/san-kum/partsim/internal/dynamo"

// Euler is the semi-implicit Euler method: velocities are kicked with the
// current forces, then positions drift with the new velocities.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Name() string { return "euler" }

func (e *Euler) Step(m dynamo.Model, forces dynamo.ForceFunc, dt float64) error {
	if err := forces(); err != nil {
		return err
	}
	if err := kick(m, dt); err != nil {
		return err
	}
	return drift(m, dt)
}
