// SPDX-License-Identifier: MIT

// Package utils holds the signal generators and transport double shared by
// package tests.
package utils

import (
	"math"
	"sync"

	"pcmframe/pkg/frame"
)

// Amplitude of generated signals, leaving headroom below full scale.
const Amplitude = 0.9

// MockTransport records every value sent to it. It is safe for concurrent
// use.
type MockTransport struct {
	mu     sync.Mutex
	Sent   []any
	Closed bool
	Err    error // Returned by Send when set.
}

func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, data)
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Values returns a copy of everything sent so far.
func (m *MockTransport) Values() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.Sent...)
}

// GenerateSineWave returns size samples of a sine at frequency, starting at
// sample offset start.
func GenerateSineWave(size, start int, sampleRate, frequency float64) []float32 {
	buf := make([]float32, size)
	for i := range buf {
		t := float64(start+i) / sampleRate
		buf[i] = float32(math.Sin(2*math.Pi*frequency*t) * Amplitude)
	}
	return buf
}

// GenerateComplexWave returns a 440 Hz tone with its second and third
// harmonics.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buf := make([]float32, size)
	for i := range buf {
		t := float64(i) / sampleRate
		s := math.Sin(2*math.Pi*440*t)*0.5 +
			math.Sin(2*math.Pi*880*t)*0.3 +
			math.Sin(2*math.Pi*1320*t)*0.2
		buf[i] = float32(s * Amplitude)
	}
	return buf
}

// SineFrame builds an owning frame of desc carrying the same sine on every
// channel, timestamped at sample offset start.
func SineFrame(desc *frame.Description, samples, start int, frequency float64, opts ...frame.Option) (*frame.Audio, error) {
	wave := GenerateSineWave(samples, start, float64(desc.SampleRate()), frequency)
	chans := make([][]float32, desc.Channels())
	for ch := range chans {
		chans[ch] = wave
	}
	opts = append([]frame.Option{frame.WithTiming(desc.DurationOf(start), desc.DurationOf(samples))}, opts...)
	return frame.FromFloat32(desc, chans, opts...)
}

// SilentFrame builds a zeroed owning frame of desc.
func SilentFrame(desc *frame.Description, samples, start int) (*frame.Audio, error) {
	return frame.NewOwning(desc, samples, frame.WithTiming(desc.DurationOf(start), desc.DurationOf(samples)))
}

// FindPeakBin returns the index of the largest magnitude in
// [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	startBin = max(startBin, 0)
	endBin = min(endBin, len(magnitudes)-1)

	peak := startBin
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > magnitudes[peak] {
			peak = bin
		}
	}
	return peak
}
