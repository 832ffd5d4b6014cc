package evaluation

import (
	"sync"
)

// pool recycles buffers of one role. Buffers are handed out zeroed and sized
// to the request; a buffer too small for a request is dropped.
type pool[T any] struct {
	p sync.Pool
}

func (p *pool[T]) get(n int) []T {
	if v, ok := p.p.Get().(*[]T); ok && cap(*v) >= n {
		s := (*v)[:n]
		clear(s)
		return s
	}
	return make([]T, n)
}

func (p *pool[T]) put(s []T) {
	if cap(s) == 0 {
		return
	}
	p.p.Put(&s)
}

// pools holds one pool per buffer role of a split search. Every buffer taken
// for a node is returned once the node's split is computed.
type pools struct {
	sampleData       pool[int32]
	features         pool[int8]
	thresholds       pool[float64]
	keys             pool[uint32]
	indices          pool[int]
	scores           pool[float64]
	counters         pool[float64]
	featureResponses pool[float64]
}
