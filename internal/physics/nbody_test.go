package physics

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/partsim/internal/dynamo"
	"github.com/san-kum/partsim/internal/geometry"
	"github.com/san-kum/partsim/internal/noise"
	"gonum.org/v1/gonum/spatial/r3"
)

func openBox(t *testing.T) *geometry.Open {
	t.Helper()
	o, err := geometry.NewOpen(r3.Vec{}, r3.Vec{X: 10, Y: 10, Z: 10})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func cluster(t *testing.T, n int, accel bool, seed int64) *NBody {
	t.Helper()
	nb, err := NewNBody(n, accel, openBox(t))
	if err != nil {
		t.Fatalf("NewNBody: %v", err)
	}
	if err := nb.SetPositionsRandomly(noise.New(seed)); err != nil {
		t.Fatal(err)
	}
	return nb
}

func forcesOf(t *testing.T, m dynamo.Model) []r3.Vec {
	t.Helper()
	f, err := m.Forces()
	if err != nil {
		t.Fatal(err)
	}
	return append([]r3.Vec(nil), f.Slice()...)
}

func TestNBodyTwoBodies(t *testing.T) {
	nb, _ := NewNBody(2, false, openBox(t))
	nb.Softening = 0
	pos, _ := nb.Positions()
	pos.Set(0, r3.Vec{})
	pos.Set(1, r3.Vec{X: 2})
	mass, _ := nb.Masses()
	mass.Set(1, 4)

	if err := nb.ComputeForces(false); err != nil {
		t.Fatal(err)
	}
	f := forcesOf(t, nb)
	if math.Abs(f[0].X-1) > 1e-12 || math.Abs(f[1].X+1) > 1e-12 {
		t.Errorf("forces = %v, want ±1 along x", f)
	}
	if !nb.SelfForce() {
		t.Error("NBody must report a self force")
	}
}

func TestNBodyOverwritesForces(t *testing.T) {
	nb := cluster(t, 8, false, 1)
	if err := nb.ComputeForces(true); err != nil {
		t.Fatal(err)
	}
	want := forcesOf(t, nb)

	f, _ := nb.Forces()
	for i := 0; i < f.Len(); i++ {
		f.Set(i, r3.Vec{X: 100})
	}
	if err := nb.ComputeForces(false); err != nil {
		t.Fatal(err)
	}
	got := forcesOf(t, nb)
	for i := range got {
		if r3.Norm(r3.Sub(got[i], want[i])) > 1e-12 {
			t.Fatalf("force %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNBodyNetForceVanishes(t *testing.T) {
	nb := cluster(t, 64, false, 5)
	if err := nb.ComputeForces(true); err != nil {
		t.Fatal(err)
	}
	var net r3.Vec
	for _, f := range forcesOf(t, nb) {
		net = r3.Add(net, f)
	}
	if r3.Norm(net) > 1e-9 {
		t.Errorf("net force = %v, want ~0", net)
	}
}

func TestNBodyPathsAgree(t *testing.T) {
	host := cluster(t, 100, false, 11)
	device := cluster(t, 100, true, 11)
	tree := cluster(t, 100, false, 11)
	tree.Theta = 0.3

	for _, m := range []*NBody{host, device, tree} {
		if err := m.ComputeForces(true); err != nil {
			t.Fatal(err)
		}
	}

	want := forcesOf(t, host)
	gotDevice := forcesOf(t, device)
	gotTree := forcesOf(t, tree)
	var treeErr, scale float64
	for i := range want {
		if d := r3.Norm(r3.Sub(gotDevice[i], want[i])); d > 1e-9*(1+r3.Norm(want[i])) {
			t.Errorf("device force %d = %v, want %v", i, gotDevice[i], want[i])
		}
		treeErr += r3.Norm(r3.Sub(gotTree[i], want[i]))
		scale += r3.Norm(want[i])
	}
	if treeErr > 0.05*scale {
		t.Errorf("tree forces deviate by %.3f of the total", treeErr/scale)
	}
}

func TestNBodySpatialSortKeepsParticles(t *testing.T) {
	const n = 200
	for _, accel := range []bool{false, true} {
		nb := cluster(t, n, accel, 3)
		pos, _ := nb.Positions()
		vel, _ := nb.Velocities()
		force, _ := nb.Forces()
		mass, _ := nb.Masses()

		// Tag particle i in every array so the tuple can be traced.
		start := make([]r3.Vec, n)
		for i := 0; i < n; i++ {
			start[i] = pos.At(i)
			vel.Set(i, r3.Vec{X: float64(i)})
			force.Set(i, r3.Vec{Y: float64(i)})
			mass.Set(i, 1+float64(i))
		}

		if err := nb.SpatialSort(); err != nil {
			t.Fatalf("accel=%v: SpatialSort: %v", accel, err)
		}

		pos, _ = nb.Positions()
		vel, _ = nb.Velocities()
		force, _ = nb.Forces()
		mass, _ = nb.Masses()
		if pos.Len() != n || vel.Len() != n || force.Len() != n || mass.Len() != n {
			t.Fatalf("accel=%v: count changed", accel)
		}

		seen := make([]bool, n)
		moved := 0
		for i := 0; i < n; i++ {
			tag := int(mass.At(i) - 1)
			if tag < 0 || tag >= n || seen[tag] {
				t.Fatalf("accel=%v: slot %d holds bad or repeated tag %d", accel, i, tag)
			}
			seen[tag] = true
			if tag != i {
				moved++
			}
			if pos.At(i) != start[tag] {
				t.Errorf("accel=%v: particle %d position %v, want %v", accel, tag, pos.At(i), start[tag])
			}
			if vel.At(i) != (r3.Vec{X: float64(tag)}) {
				t.Errorf("accel=%v: particle %d velocity %v", accel, tag, vel.At(i))
			}
			if force.At(i) != (r3.Vec{Y: float64(tag)}) {
				t.Errorf("accel=%v: particle %d force %v", accel, tag, force.At(i))
			}
		}
		if moved == 0 {
			t.Errorf("accel=%v: sort left every particle in place", accel)
		}
	}
}

func TestNBodyEnergyOfPair(t *testing.T) {
	nb, _ := NewNBody(2, false, openBox(t))
	nb.Softening = 0
	pos, _ := nb.Positions()
	pos.Set(1, r3.Vec{Y: 2})
	vel, _ := nb.Velocities()
	vel.Set(0, r3.Vec{X: 1})

	e, err := nb.Energy()
	if err != nil {
		t.Fatal(err)
	}
	if want := 0.5 - 0.5; math.Abs(e-want) > 1e-12 {
		t.Errorf("Energy = %f, want %f", e, want)
	}
}

func TestNBodyParams(t *testing.T) {
	nb, _ := NewNBody(1, false, openBox(t))
	if err := nb.SetParam("theta", 0.5); err != nil {
		t.Fatal(err)
	}
	if nb.GetParams()["theta"] != 0.5 {
		t.Errorf("theta = %f", nb.GetParams()["theta"])
	}
	if err := nb.SetParam("softening", -1); !errors.Is(err, dynamo.ErrInvalidConfig) {
		t.Errorf("negative softening err = %v", err)
	}
	if err := nb.SetParam("spin", 1); !errors.Is(err, dynamo.ErrUnknownParam) {
		t.Errorf("unknown param err = %v", err)
	}
}

func TestPassiveHasNoSelfForce(t *testing.T) {
	p, err := NewPassive(3, false, openBox(t))
	if err != nil {
		t.Fatal(err)
	}
	if p.SelfForce() {
		t.Error("Passive reports a self force")
	}
}
