// SPDX-License-Identifier: MIT

// Package metrics records frame allocation activity through the
// OpenTelemetry metrics API. Tests build a Metrics on their own
// MeterProvider; commands use the one installed by InitProvider.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pcmframe/pkg/frame"
)

const meterName = "pcmframe"

// Metrics holds the instruments. All fields are safe for concurrent use.
type Metrics struct {
	FramesAllocated metric.Int64Counter
	FramesReleased  metric.Int64Counter
	BytesLive       metric.Int64UpDownCounter
	AllocFailures   metric.Int64Counter

	// FramesDropped counts frames a stage discarded. Use with attribute:
	//   attribute.String("stage", ...)
	FramesDropped metric.Int64Counter
}

// New creates the instruments on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesAllocated, err = m.Int64Counter("pcmframe.frames.allocated",
		metric.WithDescription("Frame arenas handed out by the allocator."),
	); err != nil {
		return nil, err
	}
	if met.FramesReleased, err = m.Int64Counter("pcmframe.frames.released",
		metric.WithDescription("Frame arenas returned to the allocator."),
	); err != nil {
		return nil, err
	}
	if met.BytesLive, err = m.Int64UpDownCounter("pcmframe.bytes.live",
		metric.WithDescription("Bytes held by live frame arenas."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.AllocFailures, err = m.Int64Counter("pcmframe.alloc.failures",
		metric.WithDescription("Frame allocations refused by the allocator."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("pcmframe.frames.dropped",
		metric.WithDescription("Frames discarded by a stage that could not keep up."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordDrop counts one frame dropped by stage.
func (m *Metrics) RecordDrop(ctx context.Context, stage string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// InstrumentedAllocator reports every Alloc and Free of the wrapped
// allocator.
type InstrumentedAllocator struct {
	next frame.Allocator
	m    *Metrics
}

var _ frame.Allocator = (*InstrumentedAllocator)(nil)

// Instrument wraps next. A nil next wraps frame.DefaultAllocator.
func Instrument(next frame.Allocator, m *Metrics) *InstrumentedAllocator {
	if next == nil {
		next = frame.DefaultAllocator()
	}
	return &InstrumentedAllocator{next: next, m: m}
}

func (a *InstrumentedAllocator) Alloc(size int) ([]byte, error) {
	ctx := context.Background()
	buf, err := a.next.Alloc(size)
	if err != nil {
		a.m.AllocFailures.Add(ctx, 1)
		return nil, err
	}
	a.m.FramesAllocated.Add(ctx, 1)
	a.m.BytesLive.Add(ctx, int64(len(buf)))
	return buf, nil
}

func (a *InstrumentedAllocator) Free(buf []byte) {
	ctx := context.Background()
	a.m.FramesReleased.Add(ctx, 1)
	a.m.BytesLive.Add(ctx, -int64(len(buf)))
	a.next.Free(buf)
}
