// Package hilbert maps points onto a Hilbert curve so that particles close
// in space end up close in memory.
package hilbert

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// MaxBits is the largest per-axis resolution whose 3-D keys fit in 64 bits.
const MaxBits = 21

// Key returns the position of the grid cell coords along a Hilbert curve of
// len(coords) dimensions and bits bits per axis. coords is clobbered.
func Key(coords []uint32, bits int) uint64 {
	n := len(coords)
	if n == 0 || bits <= 0 {
		return 0
	}

	m := uint32(1) << uint(bits-1)
	for q := m; q > 1; q >>= 1 {
		p := q - 1
		for i := 0; i < n; i++ {
			if coords[i]&q != 0 {
				coords[0] ^= p
			} else {
				t := (coords[0] ^ coords[i]) & p
				coords[0] ^= t
				coords[i] ^= t
			}
		}
	}

	for i := 1; i < n; i++ {
		coords[i] ^= coords[i-1]
	}
	var t uint32
	for q := m; q > 1; q >>= 1 {
		if coords[n-1]&q != 0 {
			t ^= q - 1
		}
	}
	for i := range coords {
		coords[i] ^= t
	}

	var key uint64
	for b := bits - 1; b >= 0; b-- {
		for i := 0; i < n; i++ {
			key = key<<1 | uint64(coords[i]>>uint(b)&1)
		}
	}
	return key
}

// Order returns the permutation that sorts points along a 3-D Hilbert curve
// laid over the box [lo, hi]. Points outside the box are clamped to it;
// axes with zero extent are ignored. The sort is stable.
func Order(points []r3.Vec, lo, hi r3.Vec, bits int) []int {
	if bits > MaxBits {
		bits = MaxBits
	}
	cells := float64(uint32(1) << uint(bits))

	keys := make([]uint64, len(points))
	var c [3]uint32
	for i, p := range points {
		c[0] = quantize(p.X, lo.X, hi.X, cells)
		c[1] = quantize(p.Y, lo.Y, hi.Y, cells)
		c[2] = quantize(p.Z, lo.Z, hi.Z, cells)
		keys[i] = Key(c[:], bits)
	}

	perm := make([]int, len(points))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		return keys[perm[a]] < keys[perm[b]]
	})
	return perm
}

func quantize(x, lo, hi, cells float64) uint32 {
	extent := hi - lo
	if !(extent > 0) || math.IsNaN(x) {
		return 0
	}
	u := math.Floor((x - lo) / extent * cells)
	if u < 0 {
		return 0
	}
	if u >= cells {
		return uint32(cells) - 1
	}
	return uint32(u)
}
