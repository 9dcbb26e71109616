package integrators

import "github.com/san-kum/partsim/internal/dynamo"

// VelocityVerlet is the kick-drift-kick scheme. The forces left in the
// model by one step are reused by the next, so each step evaluates forces
// once after the first.
type VelocityVerlet struct {
	primed bool
	model  dynamo.Model
	count  int
}

func NewVelocityVerlet() *VelocityVerlet {
	return &VelocityVerlet{}
}

func (v *VelocityVerlet) Name() string { return "verlet" }

func (v *VelocityVerlet) Reset() {
	v.primed = false
	v.model = nil
}

func (v *VelocityVerlet) Step(m dynamo.Model, forces dynamo.ForceFunc, dt float64) error {
	if !v.primed || v.model != m || v.count != m.ParticleCount() {
		if err := forces(); err != nil {
			return err
		}
		v.primed, v.model, v.count = true, m, m.ParticleCount()
	}

	halfDt := 0.5 * dt
	if err := kick(m, halfDt); err != nil {
		return err
	}
	if err := drift(m, dt); err != nil {
		return err
	}
	if err := forces(); err != nil {
		v.primed = false
		return err
	}
	return kick(m, halfDt)
}

// Leapfrog is the drift-kick-drift scheme.
type Leapfrog struct{}

func NewLeapfrog() *Leapfrog {
	return &Leapfrog{}
}

func (l *Leapfrog) Name() string { return "leapfrog" }

func (l *Leapfrog) Step(m dynamo.Model, forces dynamo.ForceFunc, dt float64) error {
	halfDt := dt * 0.5
	if err := drift(m, halfDt); err != nil {
		return err
	}
	if err := forces(); err != nil {
		return err
	}
	if err := kick(m, dt); err != nil {
		return err
	}
	return drift(m, halfDt)
}
