package gpuarray

import "gonum.org/v1/gonum/spatial/r3"

// VecCodec packs r3 vectors as interleaved x, y, z.
var VecCodec = Codec[r3.Vec]{
	Width: 3,
	Pack: func(dst []float64, src []r3.Vec) {
		for i, v := range src {
			dst[i*3], dst[i*3+1], dst[i*3+2] = v.X, v.Y, v.Z
		}
	},
	Unpack: func(dst []r3.Vec, src []float64) {
		for i := range dst {
			dst[i] = r3.Vec{X: src[i*3], Y: src[i*3+1], Z: src[i*3+2]}
		}
	},
}

// ScalarCodec stores float64 values unchanged.
var ScalarCodec = Codec[float64]{
	Width:  1,
	Pack:   func(dst []float64, src []float64) { copy(dst, src) },
	Unpack: func(dst []float64, src []float64) { copy(dst, src) },
}

func NewVec(n int) *Array[r3.Vec] { return New(n, VecCodec) }

func NewScalar(n int) *Array[float64] { return New(n, ScalarCodec) }
