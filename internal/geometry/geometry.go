// Package geometry provides the simulation domains particles live in.
package geometry

import (
	"fmt"

	"github.com/san-kum/partsim/internal/compute"
	"github.com/san-kum/partsim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

func checkBounds(lo, hi r3.Vec) error {
	if hi.X < lo.X || hi.Y < lo.Y || hi.Z < lo.Z {
		return fmt.Errorf("%w: bounds %v..%v are inverted", dynamo.ErrInvalidConfig, lo, hi)
	}
	return nil
}

// Open is unbounded space. Its bounds only delimit random placement.
type Open struct {
	lo, hi r3.Vec
}

func NewOpen(lo, hi r3.Vec) (*Open, error) {
	if err := checkBounds(lo, hi); err != nil {
		return nil, err
	}
	return &Open{lo: lo, hi: hi}, nil
}

func (o *Open) Wrap(p r3.Vec) r3.Vec    { return p }
func (o *Open) Bounds() (lo, hi r3.Vec) { return o.lo, o.hi }
func (o *Open) Periods() r3.Vec         { return r3.Vec{} }
func (o *Open) String() string          { return "open" }

// PeriodicBox identifies opposite faces of the box. An axis with zero
// extent is left unbounded, which is how two-dimensional boxes are built.
type PeriodicBox struct {
	lo, size r3.Vec
}

func NewPeriodicBox(lo, hi r3.Vec) (*PeriodicBox, error) {
	if err := checkBounds(lo, hi); err != nil {
		return nil, err
	}
	return &PeriodicBox{lo: lo, size: r3.Sub(hi, lo)}, nil
}

func (b *PeriodicBox) Wrap(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: wrapAxis(p.X, b.lo.X, b.size.X),
		Y: wrapAxis(p.Y, b.lo.Y, b.size.Y),
		Z: wrapAxis(p.Z, b.lo.Z, b.size.Z),
	}
}

func (b *PeriodicBox) Bounds() (lo, hi r3.Vec) { return b.lo, r3.Add(b.lo, b.size) }
func (b *PeriodicBox) Periods() r3.Vec         { return b.size }
func (b *PeriodicBox) String() string          { return "periodic" }

// MinImage returns the shortest displacement from p to q under the
// periodic identification.
func (b *PeriodicBox) MinImage(p, q r3.Vec) r3.Vec {
	d := r3.Sub(q, p)
	return r3.Vec{
		X: minImageAxis(d.X, b.size.X),
		Y: minImageAxis(d.Y, b.size.Y),
		Z: minImageAxis(d.Z, b.size.Z),
	}
}

func wrapAxis(x, origin, period float64) float64 {
	if period <= 0 {
		return x
	}
	return compute.WrapCoord(x, origin, period)
}

func minImageAxis(d, period float64) float64 {
	if period <= 0 {
		return d
	}
	return compute.WrapCoord(d, -period/2, period)
}

// ReflectingBox mirrors positions that leave the box back inside it.
// Velocities are not reflected.
type ReflectingBox struct {
	lo, hi r3.Vec
}

func NewReflectingBox(lo, hi r3.Vec) (*ReflectingBox, error) {
	if err := checkBounds(lo, hi); err != nil {
		return nil, err
	}
	return &ReflectingBox{lo: lo, hi: hi}, nil
}

func (b *ReflectingBox) Wrap(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: reflectAxis(p.X, b.lo.X, b.hi.X-b.lo.X),
		Y: reflectAxis(p.Y, b.lo.Y, b.hi.Y-b.lo.Y),
		Z: reflectAxis(p.Z, b.lo.Z, b.hi.Z-b.lo.Z),
	}
}

func (b *ReflectingBox) Bounds() (lo, hi r3.Vec) { return b.lo, b.hi }
func (b *ReflectingBox) String() string          { return "reflecting" }

func reflectAxis(x, lo, length float64) float64 {
	if length <= 0 {
		return x
	}
	u := compute.WrapCoord(x, lo, 2*length) - lo
	if u > length {
		u = 2*length - u
	}
	return lo + u
}

var (
	_ dynamo.PeriodicDomain = (*Open)(nil)
	_ dynamo.PeriodicDomain = (*PeriodicBox)(nil)
	_ dynamo.Domain         = (*ReflectingBox)(nil)
)
