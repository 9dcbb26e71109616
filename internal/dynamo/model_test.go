package dynamo_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/partsim/internal/compute"
	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/geometry"
	"github.com/san-kum/partsim/internal/gpuarray"
	"github.com/san-kum/partsim/internal/noise"
	"gonum.org/v1/gonum/spatial/r3"
)

type v = r3.Vec

func positions(m dynamo.Model) []v {
	view, err := m.Positions()
	Expect(err).NotTo(HaveOccurred())
	return append([]v(nil), view.Slice()...)
}

func setPositions(m dynamo.Model, ps ...v) {
	view, err := m.Positions()
	Expect(err).NotTo(HaveOccurred())
	Expect(view.Len()).To(Equal(len(ps)))
	for i, p := range ps {
		view.Set(i, p)
	}
}

func beNear(want v) OmegaMatcher {
	return WithTransform(func(got v) float64 { return r3.Norm(r3.Sub(got, want)) }, BeNumerically("<", 1e-12))
}

// wrapCounter is a non-periodic domain that records how often it is asked
// to wrap.
type wrapCounter struct {
	calls int
}

func (w *wrapCounter) Wrap(p v) v {
	w.calls++
	return p
}

func (w *wrapCounter) Bounds() (lo, hi v) { return v{}, v{X: 1, Y: 1} }

var errWrapFailed = errors.New("wrap failed")

// brokenWrap runs every kernel on the CPU except Wrap, which always fails.
type brokenWrap struct {
	*compute.CPUBackend
}

func (brokenWrap) Wrap(compute.Buffer, [3]float64, [3]float64) error { return errWrapFailed }

var _ = Describe("BaseModel", func() {
	var open *geometry.Open

	BeforeEach(func() {
		var err error
		open, err = geometry.NewOpen(v{}, v{X: 10, Y: 10})
		Expect(err).NotTo(HaveOccurred())
	})

	for _, accel := range []bool{false, true} {
		accel := accel
		target := "host"
		if accel {
			target = "accelerator"
		}

		Context("on the "+target, func() {
			var m *dynamo.BaseModel

			newModel := func(n int, d dynamo.Domain) *dynamo.BaseModel {
				model, err := dynamo.NewBaseModel(n, accel, d)
				Expect(err).NotTo(HaveOccurred())
				Expect(model.UseAccelerator()).To(Equal(accel))
				return model
			}

			BeforeEach(func() {
				m = newModel(3, open)
			})

			It("keeps every array at the particle count", func() {
				Expect(m.ParticleCount()).To(Equal(3))
				p, _ := m.Positions()
				vel, _ := m.Velocities()
				f, _ := m.Forces()
				mass, _ := m.Masses()
				Expect([]int{p.Len(), vel.Len(), f.Len(), mass.Len()}).To(HaveEach(3))
				Expect(mass.Slice()).To(HaveEach(1.0))
			})

			It("moves particles by a scaled displacement", func() {
				setPositions(m, v{X: 0, Y: 0}, v{X: 1, Y: 1}, v{X: 2, Y: 2})
				d := []v{{X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: -1}}

				Expect(m.MoveParticles(d, 0.5)).To(Succeed())

				got := positions(m)
				Expect(got[0]).To(beNear(v{X: 0.5, Y: 0}))
				Expect(got[1]).To(beNear(v{X: 1, Y: 1.5}))
				Expect(got[2]).To(beNear(v{X: 1.5, Y: 1.5}))
			})

			It("is the identity for zero scale or zero displacement", func() {
				setPositions(m, v{X: 1}, v{Y: 2}, v{Z: 3})
				before := positions(m)

				Expect(m.MoveParticles([]v{{X: 5}, {Y: 5}, {Z: 5}}, 0)).To(Succeed())
				Expect(positions(m)).To(Equal(before))

				Expect(m.MoveParticles(make([]v, 3), 7)).To(Succeed())
				Expect(positions(m)).To(Equal(before))
			})

			It("composes two half moves into one full move", func() {
				setPositions(m, v{X: 0.25}, v{Y: -3}, v{X: 2, Z: 1})
				d := []v{{X: 1, Y: 2}, {X: -4}, {Z: 0.5}}

				other := newModel(3, open)
				setPositions(other, v{X: 0.25}, v{Y: -3}, v{X: 2, Z: 1})

				Expect(m.MoveParticles(d, 0.5)).To(Succeed())
				Expect(m.MoveParticles(d, 0.5)).To(Succeed())
				Expect(other.MoveParticles(d, 1)).To(Succeed())

				got, want := positions(m), positions(other)
				for i := range got {
					Expect(got[i]).To(beNear(want[i]))
				}
			})

			It("wraps moves through a periodic domain", func() {
				box, err := geometry.NewPeriodicBox(v{}, v{X: 10, Y: 10})
				Expect(err).NotTo(HaveOccurred())
				pm := newModel(2, box)
				setPositions(pm, v{X: 9.5, Y: 1}, v{X: 0.5, Y: 9})

				Expect(pm.MoveParticles([]v{{X: 1}, {X: -1, Y: 2}}, 1)).To(Succeed())

				got := positions(pm)
				Expect(got[0]).To(beNear(v{X: 0.5, Y: 1}))
				Expect(got[1]).To(beNear(v{X: 9.5, Y: 1}))
			})

			It("applies a non-periodic domain after every move", func() {
				w := &wrapCounter{}
				wm := newModel(4, w)
				Expect(wm.MoveParticles(make([]v, 4), 1)).To(Succeed())
				Expect(w.calls).To(Equal(4))
			})

			It("rejects displacements of the wrong length without moving", func() {
				setPositions(m, v{X: 1}, v{X: 2}, v{X: 3})
				before := positions(m)

				err := m.MoveParticles([]v{{X: 1}, {X: 1}}, 1)
				Expect(err).To(MatchError(dynamo.ErrSizeMismatch))
				Expect(positions(m)).To(Equal(before))
			})

			It("zeroes forces only when asked", func() {
				f, _ := m.Forces()
				for i := 0; i < f.Len(); i++ {
					f.Set(i, v{X: 1, Y: 2, Z: 3})
				}

				Expect(m.ComputeForces(false)).To(Succeed())
				f, _ = m.Forces()
				Expect(f.Slice()).To(HaveEach(v{X: 1, Y: 2, Z: 3}))

				Expect(m.ComputeForces(true)).To(Succeed())
				f, _ = m.Forces()
				Expect(f.Slice()).To(HaveEach(v{}))

				Expect(m.ComputeForces(true)).To(Succeed())
				f, _ = m.Forces()
				Expect(f.Slice()).To(HaveEach(v{}))
			})

			It("places particles reproducibly inside the domain bounds", func() {
				Expect(m.SetPositionsRandomly(noise.New(3))).To(Succeed())
				first := positions(m)
				for _, p := range first {
					Expect(p.X).To(BeNumerically(">=", 0))
					Expect(p.X).To(BeNumerically("<", 10))
					Expect(p.Y).To(BeNumerically(">=", 0))
					Expect(p.Y).To(BeNumerically("<", 10))
					Expect(p.Z).To(BeZero())
				}

				Expect(m.SetPositionsRandomly(noise.New(3))).To(Succeed())
				Expect(positions(m)).To(Equal(first))
			})

			It("leaves the order alone in the default spatial sort", func() {
				setPositions(m, v{X: 3}, v{X: 1}, v{X: 2})
				Expect(m.SpatialSort()).To(Succeed())
				Expect(positions(m)).To(Equal([]v{{X: 3}, {X: 1}, {X: 2}}))
			})

			It("permutes all arrays together", func() {
				setPositions(m, v{X: 0}, v{X: 1}, v{X: 2})
				mass, _ := m.Masses()
				mass.Set(0, 10)
				mass.Set(1, 11)
				mass.Set(2, 12)
				vel, _ := m.Velocities()
				f, _ := m.Forces()
				for i := 0; i < 3; i++ {
					vel.Set(i, v{Y: float64(i)})
					f.Set(i, v{Z: float64(i)})
				}

				Expect(m.Permute([]int{2, 0, 1})).To(Succeed())

				Expect(positions(m)).To(Equal([]v{{X: 2}, {X: 0}, {X: 1}}))
				mass, _ = m.Masses()
				Expect(mass.Slice()).To(Equal([]float64{12, 10, 11}))
				vel, _ = m.Velocities()
				Expect(vel.Slice()).To(Equal([]v{{Y: 2}, {Y: 0}, {Y: 1}}))
				f, _ = m.Forces()
				Expect(f.Slice()).To(Equal([]v{{Z: 2}, {Z: 0}, {Z: 1}}))
			})

			It("rejects a permutation with repeated indices", func() {
				Expect(m.Permute([]int{0, 0, 1})).To(MatchError(dynamo.ErrInvalidConfig))
				Expect(m.Permute([]int{0, 1})).To(MatchError(dynamo.ErrSizeMismatch))
			})

			It("resets state on re-initialization", func() {
				setPositions(m, v{X: 1}, v{X: 2}, v{X: 3})
				Expect(m.Initialize(5)).To(Succeed())

				Expect(m.ParticleCount()).To(Equal(5))
				Expect(positions(m)).To(HaveEach(v{}))
				mass, _ := m.Masses()
				Expect(mass.Slice()).To(HaveEach(1.0))
				Expect(m.UseAccelerator()).To(Equal(accel))
			})

			It("treats zero particles as a valid empty model", func() {
				empty := newModel(0, open)
				Expect(empty.ParticleCount()).To(BeZero())
				Expect(empty.MoveParticles(nil, 1)).To(Succeed())
				Expect(empty.ComputeForces(true)).To(Succeed())
				Expect(empty.SetPositionsRandomly(noise.New(1))).To(Succeed())
				Expect(empty.SpatialSort()).To(Succeed())
				p, err := empty.Positions()
				Expect(err).NotTo(HaveOccurred())
				Expect(p.Len()).To(BeZero())
			})
		})
	}

	Describe("execution target", func() {
		It("round-trips state through the accelerator", func() {
			m, err := dynamo.NewBaseModel(4, false, open)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.SetPositionsRandomly(noise.New(9))).To(Succeed())
			before := positions(m)

			Expect(m.SetExecutionTarget(true)).To(Succeed())
			Expect(m.Location()).To(Equal(gpuarray.DeviceResident))
			Expect(m.OnDevice()).To(BeTrue())

			Expect(m.SetExecutionTarget(false)).To(Succeed())
			Expect(m.Location()).To(Equal(gpuarray.HostResident))
			Expect(positions(m)).To(Equal(before))
		})

		It("picks up view writes in the next accelerator operation", func() {
			m, err := dynamo.NewBaseModel(2, true, open)
			Expect(err).NotTo(HaveOccurred())
			setPositions(m, v{X: 1}, v{X: 2})

			Expect(m.MoveParticles([]v{{Y: 1}, {Y: 1}}, 1)).To(Succeed())
			Expect(positions(m)).To(Equal([]v{{X: 1, Y: 1}, {X: 2, Y: 1}}))
		})

		It("keeps host positions in step with the device when a wrap fails", func() {
			prev := compute.GetBackend()
			compute.SetBackend(brokenWrap{compute.NewCPUBackend()})
			DeferCleanup(func() { compute.SetBackend(prev) })

			box, err := geometry.NewPeriodicBox(v{}, v{X: 10, Y: 10})
			Expect(err).NotTo(HaveOccurred())
			m, err := dynamo.NewBaseModel(2, true, box)
			Expect(err).NotTo(HaveOccurred())
			setPositions(m, v{X: 1, Y: 1}, v{X: 2, Y: 2})

			err = m.MoveParticles([]v{{X: 1}, {Y: 1}}, 1)
			Expect(err).To(MatchError(errWrapFailed))

			Expect(positions(m)).To(Equal([]v{{X: 2, Y: 1}, {X: 2, Y: 3}}))
			err = m.WithDevice(func(d dynamo.DeviceState) error {
				raw := make([]float64, d.Positions.Len())
				Expect(d.Positions.Download(raw)).To(Succeed())
				Expect(raw[:6]).To(Equal([]float64{2, 1, 0, 2, 3, 0}))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("runs device work and downloads the results", func() {
			m, err := dynamo.NewBaseModel(2, true, open)
			Expect(err).NotTo(HaveOccurred())

			err = m.WithDevice(func(d dynamo.DeviceState) error {
				return d.Backend.Fill(d.Forces, 2)
			})
			Expect(err).NotTo(HaveOccurred())
			f, _ := m.Forces()
			Expect(f.Slice()).To(HaveEach(v{X: 2, Y: 2, Z: 2}))
		})

		It("refuses device work while host-resident", func() {
			m, err := dynamo.NewBaseModel(2, false, open)
			Expect(err).NotTo(HaveOccurred())
			err = m.WithDevice(func(dynamo.DeviceState) error { return nil })
			Expect(err).To(MatchError(dynamo.ErrNoAccelerator))
		})
	})

	Describe("construction errors", func() {
		It("rejects a negative count", func() {
			_, err := dynamo.NewBaseModel(-1, false, open)
			Expect(err).To(MatchError(dynamo.ErrInvalidConfig))

			var opErr *dynamo.OpError
			Expect(err).To(BeAssignableToTypeOf(opErr))
		})

		It("rejects a missing domain", func() {
			_, err := dynamo.NewBaseModel(1, false, nil)
			Expect(err).To(MatchError(dynamo.ErrInvalidConfig))
		})

		It("reports access to an uninitialized model", func() {
			var m dynamo.BaseModel
			_, err := m.Positions()
			Expect(err).To(MatchError(dynamo.ErrUninitialized))
			_, err = m.Masses()
			Expect(err).To(MatchError(dynamo.ErrUninitialized))
			Expect(m.MoveParticles(nil, 1)).To(MatchError(dynamo.ErrUninitialized))
		})
	})

	Describe("CheckMasses", func() {
		It("flags non-positive and NaN masses", func() {
			m, err := dynamo.NewBaseModel(2, false, open)
			Expect(err).NotTo(HaveOccurred())
			Expect(dynamo.CheckMasses(m)).To(Succeed())

			mass, _ := m.Masses()
			mass.Set(1, 0)
			Expect(dynamo.CheckMasses(m)).To(MatchError(dynamo.ErrInvalidConfig))
			mass.Set(1, math.NaN())
			Expect(dynamo.CheckMasses(m)).To(MatchError(dynamo.ErrInvalidConfig))
		})
	})
})
