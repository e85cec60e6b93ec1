// SPDX-License-Identifier: MIT

// Package analysis holds the frame consumers that derive measurements from
// audio: spectrum, band energy, level and onset detection.
package analysis

import (
	"context"

	"pcmframe/pkg/frame"
)

// FrameConsumer receives frames from a pipeline. Consume takes ownership of
// one reference to f and must Release it exactly once, on every path.
type FrameConsumer interface {
	Consume(ctx context.Context, f *frame.Audio) error
}

// ConsumerFunc adapts a function that only reads a frame into a
// FrameConsumer that releases it afterwards.
type ConsumerFunc func(ctx context.Context, f *frame.Audio) error

func (fn ConsumerFunc) Consume(ctx context.Context, f *frame.Audio) error {
	defer f.Release()
	return fn(ctx, f)
}

// FFTResultProvider exposes the latest spectrum computed by an FFT stage.
type FFTResultProvider interface {
	GetMagnitudes() []float64
	GetMagnitudesInto(dst []float64) error
	GetFrequencyForBin(bin int) float64
	GetFFTSize() int
	GetSampleRate() float64
}
