package dynamo

import (
	"sync/atomic"
	"testing"
)

func TestParallelForCoversRange(t *testing.T) {
	for _, n := range []int{0, 1, 63, 64, 1000, 4097} {
		hits := make([]int32, n)
		ParallelFor(n, 64, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, h)
			}
		}
	}
}

func TestVecPool(t *testing.T) {
	p := NewVecPool(8)
	v := p.Get()
	if len(v) != 8 {
		t.Fatalf("len = %d, want 8", len(v))
	}
	v[3] = Vec{X: 1}
	p.Put(v)

	w := p.Get()
	for i, x := range w {
		if x != (Vec{}) {
			t.Errorf("w[%d] = %v, want zero", i, x)
		}
	}
	p.Put(make([]Vec, 3))
}

func TestOpErrorUnwrap(t *testing.T) {
	err := &OpError{Op: "move particles", Err: ErrSizeMismatch}
	if err.Error() != "move particles: dynamo: size mismatch" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Unwrap() != ErrSizeMismatch {
		t.Error("Unwrap lost the cause")
	}
}
