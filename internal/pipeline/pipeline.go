// SPDX-License-Identifier: MIT

/*
Package pipeline fans frames from one source out to several consumers.

Each consumer runs in its own goroutine behind a bounded queue. For every
frame the dispatcher retains one reference per consumer, hands it over the
queue and releases its own reference, so a frame is freed once the slowest
consumer is done with it. Consumers release the reference they receive on
every path.

A queue that is full either blocks the dispatcher or drops the frame for
that consumer only, depending on WithDropWhenFull. Live capture drops; file
sources block.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"pcmframe/internal/log"
	"pcmframe/internal/metrics"
	"pcmframe/pkg/frame"
)

// DefaultQueueSize is the number of frames buffered per consumer.
const DefaultQueueSize = 8

var ErrNoConsumers = errors.New("pipeline: no consumers")

// Source produces frames. Next returns io.EOF once the stream has ended.
type Source interface {
	Next(ctx context.Context) (*frame.Audio, error)
}

// Consumer takes ownership of one reference per call and releases it.
type Consumer interface {
	Consume(ctx context.Context, f *frame.Audio) error
}

type stage struct {
	name     string
	consumer Consumer
	consumed atomic.Int64
	dropped  atomic.Int64
}

// StageStats are the counters of one consumer.
type StageStats struct {
	Name     string
	Consumed int64
	Dropped  int64
}

// Stats are the counters of a pipeline.
type Stats struct {
	Frames int64 // Frames taken from the source.
	Stages []StageStats
}

// Dropped sums the frames dropped across every stage.
func (s Stats) Dropped() int64 {
	var n int64
	for _, st := range s.Stages {
		n += st.Dropped
	}
	return n
}

type Option func(*Pipeline)

// WithQueueSize sets the per-consumer queue length. Values below 1 are
// ignored.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithDropWhenFull makes the dispatcher skip a consumer whose queue is
// full instead of waiting for it.
func WithDropWhenFull(drop bool) Option {
	return func(p *Pipeline) { p.dropWhenFull = drop }
}

// WithMetrics reports drops to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline connects a Source to its consumers. A Pipeline runs once.
type Pipeline struct {
	source       Source
	stages       []*stage
	queueSize    int
	dropWhenFull bool
	metrics      *metrics.Metrics

	frames  atomic.Int64
	started atomic.Bool
}

func New(src Source, opts ...Option) *Pipeline {
	p := &Pipeline{source: src, queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add registers a consumer under name, used in logs and drop metrics. It
// must be called before Run.
func (p *Pipeline) Add(name string, c Consumer) *Pipeline {
	if name == "" {
		name = fmt.Sprintf("stage%d", len(p.stages))
	}
	p.stages = append(p.stages, &stage{name: name, consumer: c})
	return p
}

// Run is a shorthand for a blocking pipeline with default options.
func Run(ctx context.Context, src Source, consumers ...Consumer) error {
	p := New(src)
	for _, c := range consumers {
		p.Add("", c)
	}
	return p.Run(ctx)
}

// Run pulls frames until the source returns io.EOF, a consumer or the
// source fails, or ctx is done. It returns nil at end of stream, the first
// failure otherwise, or ctx's error when ctx ended the run. Every frame
// taken from the source has been released when Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.stages) == 0 {
		return ErrNoConsumers
	}
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("pipeline: already run")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	queues := make([]chan *frame.Audio, len(p.stages))
	for i, s := range p.stages {
		q := make(chan *frame.Audio, p.queueSize)
		queues[i] = q
		g.Go(func() error {
			return s.run(gctx, cancel, q)
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		return p.dispatch(gctx, cancel, queues)
	})

	err := g.Wait()
	stats := p.Stats()
	log.Debugf("pipeline: stopped after %d frames, %d dropped", stats.Frames, stats.Dropped())
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// run consumes q until it is closed. After a failure, or once the run is
// cancelled, the remaining frames are released unconsumed.
func (s *stage) run(ctx context.Context, cancel context.CancelFunc, q <-chan *frame.Audio) error {
	var failed error
	for f := range q {
		if failed != nil || ctx.Err() != nil {
			f.Release()
			continue
		}
		if err := s.consumer.Consume(ctx, f); err != nil {
			failed = fmt.Errorf("pipeline: %s: %w", s.name, err)
			log.Errorf("%v", failed)
			cancel()
			continue
		}
		s.consumed.Add(1)
	}
	return failed
}

func (p *Pipeline) dispatch(ctx context.Context, cancel context.CancelFunc, queues []chan *frame.Audio) error {
	for ctx.Err() == nil {
		f, err := p.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			cancel()
			return fmt.Errorf("pipeline: source: %w", err)
		}
		p.frames.Add(1)

		for i, s := range p.stages {
			ref := f.Retain()
			if !p.deliver(ctx, s, queues[i], ref) {
				ref.Release()
			}
		}
		f.Release()
	}
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, s *stage, q chan<- *frame.Audio, f *frame.Audio) bool {
	if p.dropWhenFull {
		select {
		case q <- f:
			return true
		default:
			s.dropped.Add(1)
			if p.metrics != nil {
				p.metrics.RecordDrop(ctx, s.name)
			}
			return false
		}
	}
	select {
	case q <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stats returns a snapshot of the counters. It may be called while the
// pipeline runs.
func (p *Pipeline) Stats() Stats {
	st := Stats{Frames: p.frames.Load(), Stages: make([]StageStats, len(p.stages))}
	for i, s := range p.stages {
		st.Stages[i] = StageStats{Name: s.name, Consumed: s.consumed.Load(), Dropped: s.dropped.Load()}
	}
	return st
}
