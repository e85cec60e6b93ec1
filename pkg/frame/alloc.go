// SPDX-License-Identifier: MIT
package frame

import (
	"fmt"
	"sync"
	"sync/atomic"

	"pcmframe/pkg/bitint"
)

// Allocator supplies the arena memory of owning frames. Free is called
// exactly once per successful Alloc, when the last reference to the frame
// is released. Implementations must be safe for concurrent use.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte)
}

// budget caps the bytes an allocator may hand out at once.
type budget struct {
	limit int64
	live  atomic.Int64
}

func (b *budget) reserve(size int) error {
	n := b.live.Add(int64(size))
	if b.limit > 0 && n > b.limit {
		b.live.Add(-int64(size))
		return fmt.Errorf("%w: %d bytes would exceed limit of %d (%d live)",
			ErrAllocation, size, b.limit, n-int64(size))
	}
	return nil
}

func (b *budget) release(size int) {
	b.live.Add(-int64(size))
}

// HeapAllocator allocates every arena with make. The zero value has no
// limit.
type HeapAllocator struct {
	budget budget
}

// NewHeapAllocator returns a heap allocator refusing to hold more than
// limit live bytes. A limit <= 0 disables the check.
func NewHeapAllocator(limit int64) *HeapAllocator {
	return &HeapAllocator{budget: budget{limit: limit}}
}

func (a *HeapAllocator) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocation, size)
	}
	if err := a.budget.reserve(size); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

func (a *HeapAllocator) Free(buf []byte) {
	a.budget.release(len(buf))
}

// Live returns the bytes currently handed out.
func (a *HeapAllocator) Live() int64 {
	return a.budget.live.Load()
}

// maxPoolClass is the largest pooled size class (2^maxPoolClass bytes).
// Bigger arenas go straight to the heap.
const maxPoolClass = 24

// PoolAllocator recycles arenas through power-of-two size classes backed
// by sync.Pool. Recycled memory is handed out as is; frames built with
// WithZeroFill(false) see the previous contents.
type PoolAllocator struct {
	budget  budget
	classes [maxPoolClass + 1]sync.Pool
}

// NewPoolAllocator returns a pool allocator with an optional live byte
// limit (<= 0 disables it).
func NewPoolAllocator(limit int64) *PoolAllocator {
	return &PoolAllocator{budget: budget{limit: limit}}
}

func (a *PoolAllocator) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocation, size)
	}
	if err := a.budget.reserve(size); err != nil {
		return nil, err
	}
	class := bitint.Log2(bitint.NextPowerOfTwo(size))
	if class > maxPoolClass {
		return make([]byte, size), nil
	}
	if p, ok := a.classes[class].Get().(*[]byte); ok {
		return (*p)[:size], nil
	}
	return make([]byte, size, 1<<class), nil
}

func (a *PoolAllocator) Free(buf []byte) {
	a.budget.release(len(buf))
	class := bitint.Log2(cap(buf))
	if class < 0 || class > maxPoolClass {
		return
	}
	buf = buf[:cap(buf)]
	a.classes[class].Put(&buf)
}

// Live returns the bytes currently handed out.
func (a *PoolAllocator) Live() int64 {
	return a.budget.live.Load()
}

var defaultAllocator Allocator = &HeapAllocator{}

// DefaultAllocator returns the allocator used when no WithAllocator option
// is given.
func DefaultAllocator() Allocator {
	return defaultAllocator
}
