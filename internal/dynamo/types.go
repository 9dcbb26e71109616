package dynamo

import (
	"github.com/san-kum/partsim/internal/gpuarray"
	"gonum.org/v1/gonum/spatial/r3"
)

// Vec is a spatial vector. Two-dimensional systems keep Z at zero.
type Vec = r3.Vec

// Domain maps coordinates into the canonical representation of the
// simulation space.
type Domain interface {
	Wrap(p Vec) Vec
	Bounds() (lo, hi Vec)
}

// PeriodicDomain is a domain whose Wrap is a per-axis periodic reduction
// starting at the lower bound. A zero period leaves that axis unbounded.
// Backends use it to wrap positions without leaving the device.
type PeriodicDomain interface {
	Domain
	Periods() Vec
}

// NoiseSource is the only entropy channel used to place particles.
type NoiseSource interface {
	UniformVec(lo, hi Vec) Vec
}

// Model is the contract every particle model satisfies. [BaseModel]
// provides all of it; concrete models override ComputeForces and
// SpatialSort.
type Model interface {
	Initialize(n int) error
	ParticleCount() int

	SetExecutionTarget(useAccelerator bool) error
	UseAccelerator() bool

	MoveParticles(displacements []Vec, scale float64) error
	ComputeForces(zeroFirst bool) error
	SetPositionsRandomly(noise NoiseSource) error
	SpatialSort() error

	Positions() (gpuarray.View[Vec], error)
	Velocities() (gpuarray.View[Vec], error)
	Forces() (gpuarray.View[Vec], error)
	Masses() (gpuarray.View[float64], error)

	// SelfForce reports whether ComputeForces manages the whole force
	// accumulation itself, so the driver must not zero around it.
	SelfForce() bool
	Domain() Domain
}

// Hamiltonian is implemented by models with a well-defined total energy.
type Hamiltonian interface {
	Energy() (float64, error)
}

type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}

// ForceFunc evaluates the net force on every particle of the model being
// integrated.
type ForceFunc func() error

type Integrator interface {
	Name() string
	Step(m Model, forces ForceFunc, dt float64) error
}

// Resetter is implemented by integrators that cache state between steps.
type Resetter interface {
	Reset()
}

// ForceField adds an externally defined force to every particle.
type ForceField interface {
	Name() string
	Apply(m Model) error
}

type Metric interface {
	Name() string
	Observe(m Model, t float64) error
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(m Model, step int, t float64)
}

// PotentialField is a force field derived from a potential, so it can
// contribute to the total energy.
type PotentialField interface {
	ForceField
	Potential(m Model) (float64, error)
}
