package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/hilbert"
	"github.com/san-kum/partsim/internal/logging"
	"gonum.org/v1/gonum/spatial/barneshut"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	forceChunk = 16
	sortBits   = 10
)

// NBody is a self-gravitating particle system with Plummer softening.
// Separations are taken as plain differences; periodic images are not
// summed.
type NBody struct {
	*dynamo.BaseModel

	G         float64
	Softening float64
	// Theta is the Barnes–Hut opening angle. Zero selects exact pairwise
	// summation, which runs on the compute backend when the model is
	// accelerator-resident.
	Theta float64
}

func NewNBody(n int, useAccelerator bool, domain dynamo.Domain) (*NBody, error) {
	base, err := dynamo.NewBaseModel(n, useAccelerator, domain)
	if err != nil {
		return nil, err
	}
	base.SetSelfForce(true)
	return &NBody{
		BaseModel: base,
		G:         1.0,
		Softening: 0.01,
	}, nil
}

// ComputeForces overwrites the force array with the gravitational force on
// every particle. zeroFirst is irrelevant since nothing is accumulated.
func (nb *NBody) ComputeForces(zeroFirst bool) error {
	if nb.ParticleCount() == 0 {
		return nil
	}

	if nb.Theta == 0 && nb.OnDevice() {
		return nb.WithDevice(func(d dynamo.DeviceState) error {
			return d.Backend.PairForces(d.Positions, d.Masses, d.Forces, nb.G, nb.Softening)
		})
	}

	pos, err := nb.Positions()
	if err != nil {
		return err
	}
	mass, err := nb.Masses()
	if err != nil {
		return err
	}
	force, err := nb.Forces()
	if err != nil {
		return err
	}

	if nb.Theta > 0 {
		err = nb.treeForces(pos.Slice(), mass.Slice(), force.Slice())
	} else {
		nb.directForces(pos.Slice(), mass.Slice(), force.Slice())
	}
	if err != nil {
		return &dynamo.OpError{Op: "compute forces", Err: err}
	}
	return nil
}

func (nb *NBody) directForces(p []r3.Vec, m []float64, f []r3.Vec) {
	eps2 := nb.Softening * nb.Softening
	n := len(p)

	dynamo.ParallelFor(n, forceChunk, func(start, end int) {
		for i := start; i < end; i++ {
			var acc r3.Vec
			for j := 0; j < n; j++ {
				d := r3.Sub(p[j], p[i])
				r2 := r3.Norm2(d)
				if r2 == 0 {
					continue
				}
				s := r2 + eps2
				acc = r3.Add(acc, r3.Scale(nb.G*m[i]*m[j]/(s*math.Sqrt(s)), d))
			}
			f[i] = acc
		}
	})
}

type body struct {
	pos  r3.Vec
	mass float64
}

func (b *body) Coord3() r3.Vec { return b.pos }
func (b *body) Mass() float64  { return b.mass }

func (nb *NBody) treeForces(p []r3.Vec, m []float64, f []r3.Vec) error {
	bodies := make([]barneshut.Particle3, len(p))
	for i := range p {
		bodies[i] = &body{pos: p[i], mass: m[i]}
	}
	vol, err := barneshut.NewVolume(bodies)
	if err != nil {
		return err
	}

	eps2 := nb.Softening * nb.Softening
	gravity := func(_, _ barneshut.Particle3, m1, m2 float64, v r3.Vec) r3.Vec {
		d2 := r3.Norm2(v)
		if d2 == 0 {
			return r3.Vec{}
		}
		s := d2 + eps2
		return r3.Scale(nb.G*m1*m2/(s*math.Sqrt(s)), v)
	}

	dynamo.ParallelFor(len(p), forceChunk, func(start, end int) {
		for i := start; i < end; i++ {
			f[i] = vol.ForceOn(bodies[i], nb.Theta, gravity)
		}
	})
	return nil
}

// SpatialSort reorders particles along a Hilbert curve over the domain
// bounds.
func (nb *NBody) SpatialSort() error {
	n := nb.ParticleCount()
	if n < 2 {
		return nil
	}
	pos, err := nb.Positions()
	if err != nil {
		return err
	}

	lo, hi := nb.Domain().Bounds()
	perm := hilbert.Order(pos.Slice(), lo, hi, sortBits)
	if err := nb.Permute(perm); err != nil {
		return err
	}
	logging.Logger().Debug("particles sorted", "particles", n)
	return nil
}

// Energy returns the kinetic plus softened potential energy.
func (nb *NBody) Energy() (float64, error) {
	pos, err := nb.Positions()
	if err != nil {
		return 0, err
	}
	vel, err := nb.Velocities()
	if err != nil {
		return 0, err
	}
	mass, err := nb.Masses()
	if err != nil {
		return 0, err
	}

	p, v, m := pos.Slice(), vel.Slice(), mass.Slice()
	eps2 := nb.Softening * nb.Softening
	ke, pe := 0.0, 0.0
	for i := range p {
		ke += 0.5 * m[i] * r3.Norm2(v[i])
		for j := i + 1; j < len(p); j++ {
			r2 := r3.Norm2(r3.Sub(p[j], p[i]))
			if r2 == 0 {
				continue
			}
			pe -= nb.G * m[i] * m[j] / math.Sqrt(r2+eps2)
		}
	}
	return ke + pe, nil
}

func (nb *NBody) GetParams() map[string]float64 {
	return map[string]float64{
		"G":         nb.G,
		"softening": nb.Softening,
		"theta":     nb.Theta,
	}
}

func (nb *NBody) SetParam(name string, value float64) error {
	switch name {
	case "G":
		nb.G = value
	case "softening":
		if value < 0 {
			return fmt.Errorf("%w: softening %g", dynamo.ErrInvalidConfig, value)
		}
		nb.Softening = value
	case "theta":
		if value < 0 {
			return fmt.Errorf("%w: theta %g", dynamo.ErrInvalidConfig, value)
		}
		nb.Theta = value
	default:
		return fmt.Errorf("%w: %s", dynamo.ErrUnknownParam, name)
	}
	return nil
}

var (
	_ dynamo.Model        = (*NBody)(nil)
	_ dynamo.Hamiltonian  = (*NBody)(nil)
	_ dynamo.Configurable = (*NBody)(nil)
	_ dynamo.Model        = (*Passive)(nil)
)
