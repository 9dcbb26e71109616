package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/noise"
	"gonum.org/v1/gonum/spatial/r3"
)

// Overdamped moves particles along the force with the given mobility,
// ignoring inertia. With KT > 0 a Brownian displacement of variance
// 2*Mobility*KT*dt per axis is added.
type Overdamped struct {
	Mobility float64
	KT       float64
	Noise    *noise.Source

	pool *dynamo.VecPool
}

func NewOverdamped(mobility float64) *Overdamped {
	return &Overdamped{Mobility: mobility}
}

func (o *Overdamped) Name() string { return "overdamped" }

func (o *Overdamped) Step(m dynamo.Model, forces dynamo.ForceFunc, dt float64) error {
	if o.Mobility <= 0 {
		return fmt.Errorf("%w: mobility %g", dynamo.ErrInvalidConfig, o.Mobility)
	}
	if o.KT > 0 && o.Noise == nil {
		return fmt.Errorf("%w: thermal noise without a noise source", dynamo.ErrInvalidConfig)
	}
	if err := forces(); err != nil {
		return err
	}

	force, err := m.Forces()
	if err != nil {
		return err
	}
	vel, err := m.Velocities()
	if err != nil {
		return err
	}

	n := force.Len()
	if o.pool == nil || o.pool.Size() != n {
		o.pool = dynamo.NewVecPool(n)
	}
	disp := o.pool.Get()
	defer o.pool.Put(disp)

	lo, hi := m.Domain().Bounds()
	mask := r3.Sub(hi, lo)
	sigma := math.Sqrt(2 * o.Mobility * o.KT * dt)

	f, v := force.Slice(), vel.Slice()
	for i := range disp {
		v[i] = r3.Scale(o.Mobility, f[i])
		disp[i] = r3.Scale(dt, v[i])
		if o.KT > 0 {
			disp[i] = r3.Add(disp[i], o.Noise.NormalVec(sigma, mask))
		}
	}
	return m.MoveParticles(disp, 1)
}
