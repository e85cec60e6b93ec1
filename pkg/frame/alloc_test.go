// SPDX-License-Identifier: MIT
package frame

import (
	"errors"
	"sync"
	"testing"
)

func TestHeapAllocatorLimit(t *testing.T) {
	a := NewHeapAllocator(100)

	buf, err := a.Alloc(60)
	if err != nil {
		t.Fatalf("Alloc(60) error: %v", err)
	}
	if len(buf) != 60 {
		t.Errorf("len = %d, want 60", len(buf))
	}
	if _, err := a.Alloc(41); !errors.Is(err, ErrAllocation) {
		t.Errorf("Alloc over limit error = %v, want ErrAllocation", err)
	}
	if a.Live() != 60 {
		t.Errorf("Live() = %d after a refused alloc, want 60", a.Live())
	}
	a.Free(buf)
	if a.Live() != 0 {
		t.Errorf("Live() = %d after Free, want 0", a.Live())
	}
	if _, err := a.Alloc(-1); !errors.Is(err, ErrAllocation) {
		t.Errorf("Alloc(-1) error = %v, want ErrAllocation", err)
	}
}

func TestPoolAllocatorSizeClasses(t *testing.T) {
	a := NewPoolAllocator(0)

	tests := []struct {
		size    int
		wantCap int
	}{
		{1, 1},
		{100, 128},
		{4096, 4096},
		{4097, 8192},
	}

	for _, tt := range tests {
		buf, err := a.Alloc(tt.size)
		if err != nil {
			t.Fatalf("Alloc(%d) error: %v", tt.size, err)
		}
		if len(buf) != tt.size || cap(buf) != tt.wantCap {
			t.Errorf("Alloc(%d) len/cap = %d/%d, want %d/%d", tt.size, len(buf), cap(buf), tt.size, tt.wantCap)
		}
		a.Free(buf)
	}
	if a.Live() != 0 {
		t.Errorf("Live() = %d after freeing everything", a.Live())
	}
}

func TestPoolAllocatorConcurrent(t *testing.T) {
	a := NewPoolAllocator(0)
	desc := MustDescription(S16P, 48000, 2)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				f, err := NewOwning(desc, 480, WithAllocator(a))
				if err != nil {
					t.Errorf("NewOwning error: %v", err)
					return
				}
				f.Release()
			}
		}()
	}
	wg.Wait()

	if a.Live() != 0 {
		t.Errorf("Live() = %d after all frames were released", a.Live())
	}
}

func TestPoolAllocatorRecyclesFrameArenas(t *testing.T) {
	tests := []struct {
		format   SampleFormat
		channels int
		samples  int
	}{
		{F32P, 2, 1024},
		{S16P, 2, 480},
		{S32, 3, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			pool := NewPoolAllocator(0)
			desc := MustDescription(tt.format, 48000, tt.channels)

			// sync.Pool may drop an entry, so allow a few rounds.
			recycled := false
			for range 10 {
				f, err := NewOwning(desc, tt.samples, WithAllocator(pool), WithZeroFill(false))
				if err != nil {
					t.Fatalf("NewOwning error: %v", err)
				}
				first := &f.Plane(0)[0]
				f.Release()

				g, err := NewOwning(desc, tt.samples, WithAllocator(pool), WithZeroFill(false))
				if err != nil {
					t.Fatalf("NewOwning error: %v", err)
				}
				recycled = &g.Plane(0)[0] == first
				g.Release()
				if recycled {
					break
				}
			}
			if !recycled {
				t.Errorf("%s x%d arena was never reused", desc, tt.samples)
			}
			if pool.Live() != 0 {
				t.Errorf("Live() = %d after release", pool.Live())
			}
		})
	}
}

// slackAllocator hands out buffers with spare capacity and records what
// Free receives.
type slackAllocator struct {
	freed []byte
}

func (a *slackAllocator) Alloc(size int) ([]byte, error) {
	return make([]byte, size, size+64), nil
}

func (a *slackAllocator) Free(buf []byte) {
	a.freed = buf
}

func TestFreeReceivesAllocatedBuffer(t *testing.T) {
	alloc := &slackAllocator{}
	f, err := NewOwning(MustDescription(S16P, 48000, 2), 480, WithAllocator(alloc), WithAlignment(1))
	if err != nil {
		t.Fatalf("NewOwning error: %v", err)
	}
	if c := cap(f.Plane(1)); c != 960 {
		t.Errorf("last plane cap = %d, want 960", c)
	}
	f.Release()

	if len(alloc.freed) != 1920 || cap(alloc.freed) != 1920+64 {
		t.Errorf("Free got len/cap %d/%d, want 1920/%d", len(alloc.freed), cap(alloc.freed), 1920+64)
	}
}

func TestDefaultAllocator(t *testing.T) {
	if DefaultAllocator() == nil {
		t.Fatal("DefaultAllocator() is nil")
	}
}

func BenchmarkNewOwningHeap(b *testing.B) {
	desc := MustDescription(F32P, 48000, 2)
	b.ReportAllocs()
	for b.Loop() {
		f, _ := NewOwning(desc, 1024)
		f.Release()
	}
}

func BenchmarkNewOwningPool(b *testing.B) {
	desc := MustDescription(F32P, 48000, 2)
	pool := NewPoolAllocator(0)
	b.ReportAllocs()
	for b.Loop() {
		f, _ := NewOwning(desc, 1024, WithAllocator(pool), WithZeroFill(false))
		f.Release()
	}
}
