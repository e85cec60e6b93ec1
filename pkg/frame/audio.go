// SPDX-License-Identifier: MIT
package frame

import (
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"pcmframe/pkg/bitint"
)

// DefaultAlignment is the line size boundary of owning frames, wide enough
// for AVX loads on every plane.
const DefaultAlignment = 32

// Mode tells how a frame relates to the memory behind its planes.
type Mode uint8

const (
	// Owning frames allocated their planes and free them on final release.
	Owning Mode = iota
	// Borrowing frames wrap memory owned by someone else and never free it.
	Borrowing
)

func (m Mode) String() string {
	if m == Borrowing {
		return "borrowing"
	}
	return "owning"
}

// Audio is one decoded unit of PCM audio: a Description, a sample count
// and one (stride, bytes) pair per plane. It is immutable once returned
// by a constructor and may be read from any number of goroutines. Shared
// ownership is explicit: every holder beyond the creator calls Retain,
// and every holder calls Release exactly once.
type Audio struct {
	desc      *Description
	samples   int
	lineSizes []int
	data      [][]byte
	media     Media
	mode      Mode

	// block is the allocator's buffer exactly as returned, so Free sees
	// its full capacity.
	block     []byte
	allocator Allocator
	onRelease func()
	parent    *Audio

	refs atomic.Int32
}

type options struct {
	media     Media
	alignment int
	allocator Allocator
	zeroFill  bool
	onRelease func()
}

// Option configures frame construction.
type Option func(*options)

// WithMedia sets timestamp, duration and metadata.
func WithMedia(m Media) Option {
	return func(o *options) {
		o.media = m
	}
}

// WithTiming sets timestamp and duration, keeping any metadata.
func WithTiming(timestamp, duration time.Duration) Option {
	return func(o *options) {
		o.media.Timestamp = timestamp
		o.media.Duration = duration
	}
}

// WithAlignment sets the line size boundary of owning frames. It must be
// a power of 2; 1 packs planes tightly.
func WithAlignment(align int) Option {
	return func(o *options) {
		o.alignment = align
	}
}

// WithAllocator sets where owning frames get their arena from.
func WithAllocator(a Allocator) Option {
	return func(o *options) {
		if a != nil {
			o.allocator = a
		}
	}
}

// WithZeroFill controls whether owning frames clear their arena before
// use. Disabling it only matters for recycling allocators.
func WithZeroFill(zero bool) Option {
	return func(o *options) {
		o.zeroFill = zero
	}
}

// WithReleaseHook registers fn to run once, after the last reference is
// released. Lenders of borrowed memory use it to learn when they may
// reuse their buffers.
func WithReleaseHook(fn func()) Option {
	return func(o *options) {
		o.onRelease = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{
		alignment: DefaultAlignment,
		allocator: defaultAllocator,
		zeroFill:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewOwning allocates a frame able to hold samples sample frames of desc.
// Every plane gets the same line size, the packed row size rounded up to
// the configured alignment, and all planes share one arena allocation.
func NewOwning(desc *Description, samples int, opts ...Option) (*Audio, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if samples < 0 {
		return nil, fmt.Errorf("%w: negative sample count %d", ErrInvalidArgument, samples)
	}
	o := buildOptions(opts)
	if !bitint.IsPowerOfTwo(o.alignment) {
		return nil, fmt.Errorf("%w: alignment %d is not a power of 2", ErrInvalidArgument, o.alignment)
	}

	planes := desc.Planes()
	if samples > (math.MaxInt-o.alignment)/planes/desc.bytesPerRow() {
		return nil, fmt.Errorf("%w: %d samples of %s overflow the address space", ErrAllocation, samples, desc)
	}
	lineSize := desc.LineSize(samples, o.alignment)

	var block, arena []byte
	if lineSize > 0 {
		size := lineSize * planes
		buf, err := o.allocator.Alloc(size)
		if err != nil {
			return nil, fmt.Errorf("%w: %d bytes for %d planes of %s: %w", ErrAllocation, size, planes, desc, err)
		}
		if len(buf) < size {
			o.allocator.Free(buf)
			return nil, fmt.Errorf("%w: allocator returned %d of %d bytes", ErrAllocation, len(buf), size)
		}
		block = buf
		arena = buf[:size:size]
		if o.zeroFill {
			clear(arena)
		}
	}

	f := &Audio{
		desc:      desc,
		samples:   samples,
		lineSizes: make([]int, planes),
		data:      make([][]byte, planes),
		media:     o.media.clone(),
		mode:      Owning,
		block:     block,
		allocator: o.allocator,
		onRelease: o.onRelease,
	}
	for i := range planes {
		off := i * lineSize
		f.lineSizes[i] = lineSize
		f.data[i] = arena[off : off+lineSize : off+lineSize]
	}
	f.refs.Store(1)
	return f, nil
}

// NewBorrowing wraps planes owned by the caller without copying them. The
// caller must keep the memory valid, and unwritten by anyone, until the
// frame's last reference is released; WithReleaseHook reports that moment.
func NewBorrowing(desc *Description, samples int, lineSizes []int, data [][]byte, opts ...Option) (*Audio, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if samples < 0 {
		return nil, fmt.Errorf("%w: negative sample count %d", ErrInvalidArgument, samples)
	}
	planes := desc.Planes()
	if len(lineSizes) != planes || len(data) != planes {
		return nil, fmt.Errorf("%w: got %d line sizes and %d planes, %s needs %d",
			ErrInvalidArgument, len(lineSizes), len(data), desc, planes)
	}
	row := desc.RowSize(samples)
	for i := range planes {
		switch {
		case lineSizes[i] < 0 || lineSizes[i] < row:
			return nil, fmt.Errorf("%w: plane %d line size %d is below the %d byte row",
				ErrInvalidArgument, i, lineSizes[i], row)
		case len(data[i]) < lineSizes[i]:
			return nil, fmt.Errorf("%w: plane %d holds %d bytes, line size is %d",
				ErrInvalidArgument, i, len(data[i]), lineSizes[i])
		}
	}

	o := buildOptions(opts)
	f := &Audio{
		desc:      desc,
		samples:   samples,
		lineSizes: slices.Clone(lineSizes),
		data:      make([][]byte, planes),
		media:     o.media.clone(),
		mode:      Borrowing,
		onRelease: o.onRelease,
	}
	for i, p := range data {
		f.data[i] = p[:len(p):len(p)]
	}
	f.refs.Store(1)
	return f, nil
}

// Description returns the shared format of the frame.
func (f *Audio) Description() *Description {
	return f.desc
}

// NumberOfSamples returns the sample frames per channel.
func (f *Audio) NumberOfSamples() int {
	return f.samples
}

// LineSizes returns a copy of the per-plane strides.
func (f *Audio) LineSizes() []int {
	return slices.Clone(f.lineSizes)
}

// Planes returns the per-plane data. The outer slice is a copy; the
// planes alias the frame's memory and must be treated as read-only.
func (f *Audio) Planes() [][]byte {
	return slices.Clone(f.data)
}

// Plane returns plane i, or nil when i is out of range.
func (f *Audio) Plane(i int) []byte {
	if i < 0 || i >= len(f.data) {
		return nil
	}
	return f.data[i]
}

// LineSize returns the stride of plane i, or 0 when i is out of range.
func (f *Audio) LineSize(i int) int {
	if i < 0 || i >= len(f.lineSizes) {
		return 0
	}
	return f.lineSizes[i]
}

// NumPlanes returns the number of planes, as derived from the Description.
func (f *Audio) NumPlanes() int {
	return len(f.data)
}

// Media returns a copy of the frame's timing and metadata.
func (f *Audio) Media() Media {
	return f.media.clone()
}

func (f *Audio) Timestamp() time.Duration { return f.media.Timestamp }
func (f *Audio) Duration() time.Duration  { return f.media.Duration }

// Metadata looks up a single metadata value.
func (f *Audio) Metadata(key string) (string, bool) {
	v, ok := f.media.Metadata[key]
	return v, ok
}

// Mode reports whether the frame owns or borrows its planes.
func (f *Audio) Mode() Mode {
	return f.mode
}

// Size returns the number of bytes addressed by all planes.
func (f *Audio) Size() int {
	n := 0
	for _, p := range f.data {
		n += len(p)
	}
	return n
}

// IsEmpty reports a zero-sample frame, as used for end-of-stream markers.
func (f *Audio) IsEmpty() bool {
	return f.samples == 0
}

// Retain adds a reference for a new holder and returns f. A released
// frame is never revived: the count stays at zero and Retain panics.
func (f *Audio) Retain() *Audio {
	for {
		n := f.refs.Load()
		if n <= 0 {
			panic("frame: Retain on a released frame")
		}
		if f.refs.CompareAndSwap(n, n+1) {
			return f
		}
	}
}

// Release drops one reference. The call that drops the last one frees an
// owning frame's arena, runs the release hook and returns true.
func (f *Audio) Release() bool {
	n := f.refs.Add(-1)
	if n > 0 {
		return false
	}
	if n < 0 {
		panic("frame: Release on a released frame")
	}
	if f.mode == Owning && f.block != nil {
		f.allocator.Free(f.block)
	}
	if f.onRelease != nil {
		f.onRelease()
	}
	if f.parent != nil {
		f.parent.Release()
	}
	return true
}

// Refs returns the current reference count.
func (f *Audio) Refs() int32 {
	return f.refs.Load()
}

// Clone copies the samples into a new owning frame. The copy keeps the
// timing and metadata unless opts override them.
func (f *Audio) Clone(opts ...Option) (*Audio, error) {
	opts = append([]Option{WithMedia(f.media)}, opts...)
	c, err := NewOwning(f.desc, f.samples, opts...)
	if err != nil {
		return nil, err
	}
	row := f.desc.RowSize(f.samples)
	for i := range c.data {
		copy(c.data[i][:row], f.data[i][:row])
	}
	return c, nil
}

// Slice returns a borrowing frame over samples [start, start+n) of f. The
// sub-frame holds a reference to f until it is released itself, so f's
// memory stays valid for as long as the sub-frame lives.
func (f *Audio) Slice(start, n int) (*Audio, error) {
	if start < 0 || n < 0 || start > f.samples-n {
		return nil, fmt.Errorf("%w: slice [%d, %d) of %d samples",
			ErrInvalidArgument, start, start+n, f.samples)
	}
	off := f.desc.RowSize(start)
	row := f.desc.RowSize(n)

	s := &Audio{
		desc:      f.desc,
		samples:   n,
		lineSizes: make([]int, len(f.data)),
		data:      make([][]byte, len(f.data)),
		media: Media{
			Timestamp: f.media.Timestamp + f.desc.DurationOf(start),
			Duration:  f.desc.DurationOf(n),
			Metadata:  f.media.clone().Metadata,
		},
		mode:   Borrowing,
		parent: f.Retain(),
	}
	for i, p := range f.data {
		s.lineSizes[i] = row
		s.data[i] = p[off : off+row : off+row]
	}
	s.refs.Store(1)
	return s, nil
}

func (f *Audio) String() string {
	return fmt.Sprintf("audio{%s samples=%d planes=%d linesize=%v %s pts=%s}",
		f.desc, f.samples, len(f.data), f.lineSizes, f.mode, f.media.Timestamp)
}
