package dynamo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/san-kum/partsim/internal/compute"
	"github.com/san-kum/partsim/internal/gpuarray"
	"github.com/san-kum/partsim/internal/logging"
	"gonum.org/v1/gonum/spatial/r3"
)

const moveChunk = 256

// BaseModel owns the per-particle state of a particle model. Concrete
// models embed it and override ComputeForces and SpatialSort.
//
// The zero value is an uninitialized model: its accessors return
// ErrUninitialized until Initialize is called.
type BaseModel struct {
	mu sync.Mutex

	n           int
	initialized bool
	useAccel    bool
	backend     compute.Backend
	selfForce   bool
	domain      Domain

	positions  *gpuarray.Array[Vec]
	velocities *gpuarray.Array[Vec]
	forces     *gpuarray.Array[Vec]
	masses     *gpuarray.Array[float64]
	scratch    *gpuarray.Array[Vec]
}

// NewBaseModel allocates n particles in domain. Masses start at 1, all other
// state at zero. With useAccelerator set, the state is moved to the active
// compute backend before returning.
func NewBaseModel(n int, useAccelerator bool, domain Domain) (*BaseModel, error) {
	if domain == nil {
		return nil, &OpError{Op: "new model", Err: fmt.Errorf("%w: nil domain", ErrInvalidConfig)}
	}
	b := &BaseModel{domain: domain}
	if err := b.SetExecutionTarget(useAccelerator); err != nil {
		return nil, err
	}
	if err := b.Initialize(n); err != nil {
		return nil, err
	}
	return b, nil
}

// Initialize resizes the model to n particles. Previous contents are
// discarded; the execution target is kept.
func (b *BaseModel) Initialize(n int) error {
	if n < 0 {
		return &OpError{Op: "initialize", Err: fmt.Errorf("%w: negative particle count %d", ErrInvalidConfig, n)}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.positions == nil {
		b.positions = gpuarray.NewVec(n)
		b.velocities = gpuarray.NewVec(n)
		b.forces = gpuarray.NewVec(n)
		b.masses = gpuarray.NewScalar(n)
		b.scratch = gpuarray.NewVec(n)
	} else {
		b.positions.Reset(n)
		b.velocities.Reset(n)
		b.forces.Reset(n)
		b.masses.Reset(n)
		b.scratch.Reset(n)
	}

	m := b.masses.View().Slice()
	for i := range m {
		m[i] = 1
	}
	b.n = n
	b.initialized = true

	if b.useAccel {
		if err := b.toDevice(b.backend); err != nil {
			return &OpError{Op: "initialize", Err: err}
		}
	}
	return nil
}

func (b *BaseModel) ParticleCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// SetExecutionTarget moves all per-particle state to the active compute
// backend or back to the host. The transfer is complete when it returns.
// On an uninitialized model only the preference is recorded.
func (b *BaseModel) SetExecutionTarget(useAccelerator bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !useAccelerator {
		if b.initialized {
			if err := b.toHost(); err != nil {
				return &OpError{Op: "set execution target", Err: err}
			}
		}
		b.useAccel, b.backend = false, nil
		return nil
	}

	be := compute.GetBackend()
	if be == nil || !be.Available() {
		return &OpError{Op: "set execution target", Err: ErrNoAccelerator}
	}
	if b.initialized {
		if err := b.toDevice(be); err != nil {
			return &OpError{Op: "set execution target", Err: err}
		}
	}
	b.useAccel, b.backend = true, be
	return nil
}

func (b *BaseModel) UseAccelerator() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.useAccel
}

// Location reports where the particle state currently lives.
func (b *BaseModel) Location() gpuarray.Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.positions == nil {
		return gpuarray.HostResident
	}
	return b.positions.Location()
}

func (b *BaseModel) toDevice(be compute.Backend) error {
	if be == nil {
		return ErrNoAccelerator
	}
	for _, mv := range b.movers() {
		if err := mv.ToDevice(be); err != nil {
			_ = b.toHost()
			return err
		}
	}
	logging.Logger().Debug("particle state moved to device", "backend", be.Name(), "particles", b.n)
	return nil
}

func (b *BaseModel) toHost() error {
	for _, mv := range b.movers() {
		if err := mv.ToHost(); err != nil {
			return err
		}
	}
	logging.Logger().Debug("particle state moved to host", "particles", b.n)
	return nil
}

type mover interface {
	ToDevice(compute.Backend) error
	ToHost() error
	Flush() error
	Sync() error
}

func (b *BaseModel) movers() []mover {
	return []mover{b.positions, b.velocities, b.forces, b.masses, b.scratch}
}

func (b *BaseModel) onDevice() bool {
	return b.positions.Location() == gpuarray.DeviceResident
}

// MoveParticles adds scale*displacements[i] to every position and maps the
// result through the domain. A length mismatch leaves positions untouched.
func (b *BaseModel) MoveParticles(displacements []Vec, scale float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return &OpError{Op: "move particles", Err: ErrUninitialized}
	}
	if b.domain == nil {
		return &OpError{Op: "move particles", Err: fmt.Errorf("%w: nil domain", ErrInvalidConfig)}
	}
	if len(displacements) != b.n {
		return &OpError{Op: "move particles", Err: fmt.Errorf("%w: %d displacements for %d particles", ErrSizeMismatch, len(displacements), b.n)}
	}
	if b.n == 0 {
		return nil
	}

	if b.onDevice() {
		if err := b.moveDevice(displacements, scale); err != nil {
			return &OpError{Op: "move particles", Err: err}
		}
		return nil
	}

	p := b.positions.View().Slice()
	ParallelFor(b.n, moveChunk, func(start, end int) {
		for i := start; i < end; i++ {
			p[i] = b.domain.Wrap(r3.Add(p[i], r3.Scale(scale, displacements[i])))
		}
	})
	return nil
}

func (b *BaseModel) moveDevice(displacements []Vec, scale float64) error {
	copy(b.scratch.View().Slice(), displacements)
	if err := b.scratch.Flush(); err != nil {
		return err
	}
	if err := b.positions.Flush(); err != nil {
		return err
	}
	if err := b.backend.Axpy(b.positions.Buffer(), b.scratch.Buffer(), scale); err != nil {
		return err
	}

	if pd, ok := b.domain.(PeriodicDomain); ok {
		lo, _ := pd.Bounds()
		per := pd.Periods()
		err := b.backend.Wrap(b.positions.Buffer(), [3]float64{lo.X, lo.Y, lo.Z}, [3]float64{per.X, per.Y, per.Z})
		if err != nil {
			if serr := b.positions.Sync(); serr != nil {
				return errors.Join(err, serr)
			}
			return err
		}
		return b.positions.Sync()
	}

	if err := b.positions.Sync(); err != nil {
		return err
	}
	logging.Logger().Debug("domain wrap on host", "backend", b.backend.Name())
	p := b.positions.View().Slice()
	for i := range p {
		p[i] = b.domain.Wrap(p[i])
	}
	return b.positions.Flush()
}

// ComputeForces zeroes the force array when zeroFirst is set. Models with
// an interaction law override it.
func (b *BaseModel) ComputeForces(zeroFirst bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return &OpError{Op: "compute forces", Err: ErrUninitialized}
	}
	if !zeroFirst || b.n == 0 {
		return nil
	}

	if b.onDevice() {
		if err := b.backend.Fill(b.forces.Buffer(), 0); err != nil {
			return &OpError{Op: "compute forces", Err: err}
		}
		if err := b.forces.Sync(); err != nil {
			return &OpError{Op: "compute forces", Err: err}
		}
		return nil
	}

	f := b.forces.View().Slice()
	for i := range f {
		f[i] = Vec{}
	}
	return nil
}

// SetPositionsRandomly draws every position uniformly over the domain
// bounds, one draw per particle in index order.
func (b *BaseModel) SetPositionsRandomly(noise NoiseSource) error {
	if noise == nil {
		return &OpError{Op: "set positions randomly", Err: fmt.Errorf("%w: nil noise source", ErrInvalidConfig)}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return &OpError{Op: "set positions randomly", Err: ErrUninitialized}
	}
	if b.domain == nil {
		return &OpError{Op: "set positions randomly", Err: fmt.Errorf("%w: nil domain", ErrInvalidConfig)}
	}

	lo, hi := b.domain.Bounds()
	p := b.positions.View().Slice()
	for i := range p {
		p[i] = noise.UniformVec(lo, hi)
	}
	if err := b.positions.Flush(); err != nil {
		return &OpError{Op: "set positions randomly", Err: err}
	}
	return nil
}

// SpatialSort keeps the current order.
func (b *BaseModel) SpatialSort() error {
	return nil
}

// Permute reorders all per-particle arrays so that particle i becomes the
// old particle perm[i]. perm must be a permutation of [0, count).
func (b *BaseModel) Permute(perm []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return &OpError{Op: "permute", Err: ErrUninitialized}
	}
	if len(perm) != b.n {
		return &OpError{Op: "permute", Err: fmt.Errorf("%w: permutation of %d for %d particles", ErrSizeMismatch, len(perm), b.n)}
	}
	seen := make([]bool, b.n)
	for _, j := range perm {
		if j < 0 || j >= b.n || seen[j] {
			return &OpError{Op: "permute", Err: fmt.Errorf("%w: not a permutation (index %d)", ErrInvalidConfig, j)}
		}
		seen[j] = true
	}

	if err := b.positions.Permute(perm); err != nil {
		return &OpError{Op: "permute", Err: err}
	}
	if err := b.velocities.Permute(perm); err != nil {
		return &OpError{Op: "permute", Err: err}
	}
	if err := b.forces.Permute(perm); err != nil {
		return &OpError{Op: "permute", Err: err}
	}
	if err := b.masses.Permute(perm); err != nil {
		return &OpError{Op: "permute", Err: err}
	}
	return nil
}

// DeviceState exposes the device buffers of an accelerator-resident model.
type DeviceState struct {
	Backend    compute.Backend
	Positions  compute.Buffer
	Velocities compute.Buffer
	Forces     compute.Buffer
	Masses     compute.Buffer
}

// WithDevice runs fn against the device buffers. Host-side writes made
// through views are uploaded first; results are downloaded after the
// backend synchronizes.
func (b *BaseModel) WithDevice(fn func(d DeviceState) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return &OpError{Op: "device", Err: ErrUninitialized}
	}
	if !b.onDevice() {
		return &OpError{Op: "device", Err: ErrNoAccelerator}
	}

	for _, mv := range b.movers() {
		if err := mv.Flush(); err != nil {
			return &OpError{Op: "device", Err: err}
		}
	}
	err := fn(DeviceState{
		Backend:    b.backend,
		Positions:  b.positions.Buffer(),
		Velocities: b.velocities.Buffer(),
		Forces:     b.forces.Buffer(),
		Masses:     b.masses.Buffer(),
	})
	if err != nil {
		return &OpError{Op: "device", Err: err}
	}
	if err := b.backend.Synchronize(); err != nil {
		return &OpError{Op: "device", Err: err}
	}
	for _, mv := range b.movers() {
		if err := mv.Sync(); err != nil {
			return &OpError{Op: "device", Err: err}
		}
	}
	return nil
}

// OnDevice reports whether the state is accelerator-resident.
func (b *BaseModel) OnDevice() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized && b.onDevice()
}

func (b *BaseModel) Positions() (gpuarray.View[Vec], error) {
	return vecView(b, b.posArray, "positions")
}

func (b *BaseModel) Velocities() (gpuarray.View[Vec], error) {
	return vecView(b, b.velArray, "velocities")
}

func (b *BaseModel) Forces() (gpuarray.View[Vec], error) {
	return vecView(b, b.forceArray, "forces")
}

func (b *BaseModel) Masses() (gpuarray.View[float64], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return gpuarray.View[float64]{}, &OpError{Op: "masses", Err: ErrUninitialized}
	}
	return b.masses.View(), nil
}

func (b *BaseModel) posArray() *gpuarray.Array[Vec]   { return b.positions }
func (b *BaseModel) velArray() *gpuarray.Array[Vec]   { return b.velocities }
func (b *BaseModel) forceArray() *gpuarray.Array[Vec] { return b.forces }

func vecView(b *BaseModel, arr func() *gpuarray.Array[Vec], op string) (gpuarray.View[Vec], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return gpuarray.View[Vec]{}, &OpError{Op: op, Err: ErrUninitialized}
	}
	return arr().View(), nil
}

func (b *BaseModel) SelfForce() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selfForce
}

// SetSelfForce marks the model as managing its own force accumulation.
func (b *BaseModel) SetSelfForce(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selfForce = v
}

func (b *BaseModel) Domain() Domain { return b.domain }

// CheckMasses returns ErrInvalidConfig when any particle of m has a
// non-positive mass.
func CheckMasses(m Model) error {
	masses, err := m.Masses()
	if err != nil {
		return err
	}
	for i, v := range masses.Slice() {
		if !(v > 0) {
			return fmt.Errorf("%w: particle %d has mass %g", ErrInvalidConfig, i, v)
		}
	}
	return nil
}

var _ Model = (*BaseModel)(nil)
