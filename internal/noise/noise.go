// Package noise provides the seeded random source used to place particles
// and draw thermal velocities.
package noise

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// Source draws vectors from a single seeded stream. It is not safe for
// concurrent use.
type Source struct {
	src  rand.Source
	unit distuv.Uniform
	norm distuv.Normal
}

func New(seed int64) *Source {
	src := rand.NewSource(uint64(seed))
	return &Source{
		src:  src,
		unit: distuv.Uniform{Min: 0, Max: 1, Src: src},
		norm: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

// UniformVec returns a point uniformly distributed in the box [lo, hi).
// Axes where lo == hi return lo.
func (s *Source) UniformVec(lo, hi r3.Vec) r3.Vec {
	return r3.Vec{
		X: s.between(lo.X, hi.X),
		Y: s.between(lo.Y, hi.Y),
		Z: s.between(lo.Z, hi.Z),
	}
}

func (s *Source) between(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + (hi-lo)*s.unit.Rand()
}

// NormalVec returns a vector with independent N(0, sigma²) components.
// Components where mask is zero stay zero.
func (s *Source) NormalVec(sigma float64, mask r3.Vec) r3.Vec {
	var v r3.Vec
	if mask.X != 0 {
		v.X = sigma * s.norm.Rand()
	}
	if mask.Y != 0 {
		v.Y = sigma * s.norm.Rand()
	}
	if mask.Z != 0 {
		v.Z = sigma * s.norm.Rand()
	}
	return v
}

// Float64 returns a uniform value in [0, 1).
func (s *Source) Float64() float64 {
	return s.unit.Rand()
}
