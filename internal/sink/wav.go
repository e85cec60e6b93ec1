// SPDX-License-Identifier: MIT

// Package sink writes frames to files.
package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pcmframe/internal/log"
	"pcmframe/pkg/frame"
)

var (
	ErrClosed            = errors.New("sink: recorder closed")
	ErrDescriptionChange = errors.New("sink: frame description differs from recording")
)

// WAVRecorder encodes frames of one Description into a PCM WAV file. It is
// safe for concurrent use.
type WAVRecorder struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	enc      *wav.Encoder
	desc     *frame.Description
	bitDepth int
	buf      *audio.IntBuffer
	scratch  []float32
	samples  int64
	closed   bool
}

// NewWAVRecorder creates path and writes a WAV header for frames of desc
// at the given bit depth (16, 24 or 32).
func NewWAVRecorder(path string, desc *frame.Description, bitDepth int) (*WAVRecorder, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: bit depth %d", frame.ErrInvalidArgument, bitDepth)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	log.Infof("sink: recording %s to %s at %d-bit", desc, path, bitDepth)

	return &WAVRecorder{
		path:     path,
		file:     file,
		enc:      wav.NewEncoder(file, desc.SampleRate(), bitDepth, desc.Channels(), 1),
		desc:     desc,
		bitDepth: bitDepth,
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: desc.Channels(),
				SampleRate:  desc.SampleRate(),
			},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// Write appends the samples of f, interleaving planar data. The frame is
// not released.
func (r *WAVRecorder) Write(f *frame.Audio) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if !f.Description().Equal(r.desc) {
		return fmt.Errorf("%w: got %s, recording %s", ErrDescriptionChange, f.Description(), r.desc)
	}

	samples := f.NumberOfSamples()
	if samples == 0 {
		return nil
	}
	channels := r.desc.Channels()

	r.buf.Data = grow(r.buf.Data, samples*channels)
	r.scratch = grow(r.scratch, samples)

	scale := float64(int64(1) << (r.bitDepth - 1))
	for ch := range channels {
		f.ChannelInto(ch, r.scratch)
		for i, v := range r.scratch {
			r.buf.Data[i*channels+ch] = toInt(v, scale)
		}
	}

	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("sink: writing %s: %w", r.path, err)
	}
	r.samples += int64(samples)
	return nil
}

// Consume writes f and releases it.
func (r *WAVRecorder) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()
	return r.Write(f)
}

// Samples returns the number of samples per channel written so far.
func (r *WAVRecorder) Samples() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

func (r *WAVRecorder) Path() string {
	return r.path
}

// Close finalises the WAV header and closes the file. Closing twice is a
// no-op.
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	encErr := r.enc.Close()
	fileErr := r.file.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return fmt.Errorf("sink: closing %s: %w", r.path, err)
	}
	log.Infof("sink: wrote %d samples to %s", r.samples, r.path)
	return nil
}

func grow[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}

func toInt(v float32, scale float64) int {
	x := math.Round(float64(v) * scale)
	return int(max(-scale, min(scale-1, x)))
}
