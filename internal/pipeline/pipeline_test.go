// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"pcmframe/internal/metrics"
	"pcmframe/pkg/frame"
)

var testDesc = frame.MustDescription(frame.S16, 48000, 2)

// sliceSource emits n owning frames from alloc, then io.EOF. after, when
// set, runs once each frame has been handed out.
type sliceSource struct {
	n     int
	alloc frame.Allocator
	after func(i int)
	err   error // Returned instead of io.EOF.
	i     int
}

func (s *sliceSource) Next(ctx context.Context) (*frame.Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.i > 0 && s.after != nil {
		s.after(s.i - 1)
	}
	if s.i == s.n {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f, err := frame.NewOwning(testDesc, 64,
		frame.WithAllocator(s.alloc),
		frame.WithTiming(testDesc.DurationOf(s.i*64), testDesc.DurationOf(64)))
	s.i++
	return f, err
}

// recorder counts and orders the frames it consumes.
type recorder struct {
	mu    sync.Mutex
	times []time.Duration
	fail  int // Fail on this call when > 0.
	calls int
}

func (r *recorder) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail > 0 && r.calls == r.fail {
		return errors.New("consumer failed")
	}
	r.times = append(r.times, f.Timestamp())
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.times)
}

func TestRunDeliversEveryFrameInOrder(t *testing.T) {
	alloc := frame.NewHeapAllocator(0)
	src := &sliceSource{n: 50, alloc: alloc}
	a, b := &recorder{}, &recorder{}

	if err := Run(context.Background(), src, a, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range []*recorder{a, b} {
		if len(r.times) != 50 {
			t.Fatalf("consumer saw %d frames, want 50", len(r.times))
		}
		for i, ts := range r.times {
			if want := testDesc.DurationOf(i * 64); ts != want {
				t.Fatalf("frame %d timestamp = %s, want %s", i, ts, want)
			}
		}
	}
	if alloc.Live() != 0 {
		t.Errorf("%d bytes still live after Run", alloc.Live())
	}
}

func TestConsumerFailureStopsRun(t *testing.T) {
	alloc := frame.NewHeapAllocator(0)
	src := &sliceSource{n: 1000, alloc: alloc}
	bad := &recorder{fail: 3}
	good := &recorder{}

	p := New(src).Add("bad", bad).Add("good", good)
	err := p.Run(context.Background())
	if err == nil || err.Error() != "pipeline: bad: consumer failed" {
		t.Fatalf("Run error = %v", err)
	}
	if p.Stats().Frames == 1000 {
		t.Error("source was drained despite the failure")
	}
	if alloc.Live() != 0 {
		t.Errorf("%d bytes still live after a failed run", alloc.Live())
	}
}

func TestSourceError(t *testing.T) {
	alloc := frame.NewHeapAllocator(0)
	boom := errors.New("device lost")
	src := &sliceSource{n: 5, alloc: alloc, err: boom}
	r := &recorder{}

	err := Run(context.Background(), src, r)
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
	if alloc.Live() != 0 {
		t.Errorf("%d bytes still live", alloc.Live())
	}
}

// blocker holds the first frame until release is closed.
type blocker struct {
	started chan struct{}
	release chan struct{}
	seen    atomic.Int64
}

func (b *blocker) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()
	if b.seen.Add(1) == 1 {
		close(b.started)
		<-b.release
	}
	return nil
}

func TestDropWhenFull(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())
	m, err := metrics.New(mp)
	if err != nil {
		t.Fatal(err)
	}

	slow := &blocker{started: make(chan struct{}), release: make(chan struct{})}
	fast := &recorder{}
	alloc := frame.NewHeapAllocator(0)
	src := &sliceSource{n: 10, alloc: alloc, after: func(i int) {
		if i == 0 {
			<-slow.started
		}
		if i == 9 {
			close(slow.release)
		}
	}}

	p := New(src, WithQueueSize(1), WithDropWhenFull(true), WithMetrics(m)).
		Add("slow", slow).
		Add("fast", fast)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The slow stage holds frame 0, queues frame 1 and drops 2 through 9.
	stats := p.Stats()
	if stats.Frames != 10 {
		t.Errorf("Frames = %d, want 10", stats.Frames)
	}
	if got := stats.Stages[0]; got.Consumed != 2 || got.Dropped != 8 {
		t.Errorf("slow stage = %+v, want 2 consumed and 8 dropped", got)
	}
	if got := stats.Stages[1].Consumed + stats.Stages[1].Dropped; got != 10 {
		t.Errorf("fast stage accounted for %d frames, want 10", got)
	}
	if alloc.Live() != 0 {
		t.Errorf("%d bytes still live", alloc.Live())
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var dropped int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "pcmframe.frames.dropped" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				dropped += dp.Value
			}
		}
	}
	if dropped != stats.Dropped() {
		t.Errorf("dropped metric = %d, stats = %d", dropped, stats.Dropped())
	}
}

func TestCancelReleasesQueuedFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := &blocker{started: make(chan struct{}), release: make(chan struct{})}
	alloc := frame.NewHeapAllocator(0)
	src := &sliceSource{n: 1 << 20, alloc: alloc, after: func(i int) {
		if i == 0 {
			<-slow.started
		}
		if i == 2 {
			cancel()
			close(slow.release)
		}
	}}

	p := New(src, WithQueueSize(2)).Add("slow", slow)
	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if alloc.Live() != 0 {
		t.Errorf("%d bytes still live after cancellation", alloc.Live())
	}
}

func TestRunWithoutConsumers(t *testing.T) {
	if err := Run(context.Background(), &sliceSource{}); !errors.Is(err, ErrNoConsumers) {
		t.Errorf("Run error = %v", err)
	}
	p := New(&sliceSource{n: 1, alloc: frame.NewHeapAllocator(0)}).Add("", &recorder{})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
	if p.Stats().Stages[0].Name != "stage0" {
		t.Errorf("default name = %q", p.Stats().Stages[0].Name)
	}
}
