package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/noise"
	"gonum.org/v1/gonum/spatial/r3"
)

// Thermalize draws Maxwell–Boltzmann velocities at temperature kT and
// removes the centre-of-mass drift. Axes along which the domain has no
// extent get no velocity.
func Thermalize(m dynamo.Model, src *noise.Source, kT float64) error {
	if kT < 0 {
		return fmt.Errorf("%w: negative temperature %g", dynamo.ErrInvalidConfig, kT)
	}
	if err := dynamo.CheckMasses(m); err != nil {
		return err
	}
	vel, err := m.Velocities()
	if err != nil {
		return err
	}
	mass, err := m.Masses()
	if err != nil {
		return err
	}

	lo, hi := m.Domain().Bounds()
	mask := r3.Sub(hi, lo)

	v, w := vel.Slice(), mass.Slice()
	var momentum r3.Vec
	total := 0.0
	for i := range v {
		v[i] = src.NormalVec(math.Sqrt(kT/w[i]), mask)
		momentum = r3.Add(momentum, r3.Scale(w[i], v[i]))
		total += w[i]
	}
	if total == 0 {
		return nil
	}

	drift := r3.Scale(1/total, momentum)
	for i := range v {
		v[i] = r3.Sub(v[i], drift)
	}
	return nil
}
