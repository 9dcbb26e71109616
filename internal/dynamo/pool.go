package dynamo

import "sync"

// VecPool recycles displacement buffers of a fixed length.
type VecPool struct {
	pool sync.Pool
	size int
}

func NewVecPool(size int) *VecPool {
	return &VecPool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]Vec, size)
			},
		},
	}
}

func (p *VecPool) Size() int { return p.size }

func (p *VecPool) Get() []Vec {
	return p.pool.Get().([]Vec)
}

func (p *VecPool) Put(v []Vec) {
	if len(v) == p.size {
		for i := range v {
			v[i] = Vec{}
		}
		p.pool.Put(v)
	}
}
