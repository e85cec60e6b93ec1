// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"math"
	"sync"
	"time"

	"pcmframe/internal/log"
	"pcmframe/internal/transport"
	"pcmframe/pkg/frame"
)

// Level is the per-channel loudness of one frame, in full-scale units.
type Level struct {
	Type      string        `json:"type"`
	Timestamp time.Duration `json:"timestamp"`
	Peak      []float64     `json:"peak"`
	RMS       []float64     `json:"rms"`
	GateOpen  bool          `json:"gate_open"`
}

// LevelMeter measures peak and RMS level per channel and keeps a noise
// gate that is open while any channel's RMS reaches the threshold.
type LevelMeter struct {
	transport transport.Transport // Optional.

	mu        sync.Mutex
	threshold float64
	gate      bool
	last      Level
	scratch   []float32
}

var _ FrameConsumer = (*LevelMeter)(nil)

// NewLevelMeter creates a meter. threshold is clamped to [0, 1]; a nil
// transport keeps results local.
func NewLevelMeter(threshold float64, t transport.Transport) *LevelMeter {
	m := &LevelMeter{transport: t, gate: true}
	m.SetGateThreshold(threshold)
	return m
}

// SetGateThreshold adjusts the gate threshold, clamped to [0, 1] where 0
// is always open.
func (m *LevelMeter) SetGateThreshold(threshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = min(1, max(0, threshold))
}

func (m *LevelMeter) GateThreshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// Measure computes the level of f without releasing it.
func (m *LevelMeter) Measure(f *frame.Audio) Level {
	channels := f.Description().Channels()
	lvl := Level{
		Type:      "level",
		Timestamp: f.Timestamp(),
		Peak:      make([]float64, channels),
		RMS:       make([]float64, channels),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cap(m.scratch) < f.NumberOfSamples() {
		m.scratch = make([]float32, f.NumberOfSamples())
	}
	buf := m.scratch[:f.NumberOfSamples()]

	open := m.threshold == 0
	for ch := range channels {
		n := f.ChannelInto(ch, buf)
		var peak, sumSquares float64
		for _, s := range buf[:n] {
			v := float64(s)
			peak = max(peak, math.Abs(v))
			sumSquares += v * v
		}
		lvl.Peak[ch] = peak
		if n > 0 {
			lvl.RMS[ch] = math.Sqrt(sumSquares / float64(n))
		}
		if lvl.RMS[ch] >= m.threshold {
			open = true
		}
	}

	if open != m.gate {
		log.Debugf("analysis: gate %s at %s", map[bool]string{true: "opened", false: "closed"}[open], f.Timestamp())
	}
	m.gate = open
	lvl.GateOpen = open
	m.last = lvl
	return lvl
}

// Last returns the most recent measurement.
func (m *LevelMeter) Last() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// GateOpen reports the gate state after the most recent frame.
func (m *LevelMeter) GateOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate
}

func (m *LevelMeter) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()
	lvl := m.Measure(f)
	if m.transport != nil {
		if err := m.transport.Send(lvl); err != nil {
			log.Warnf("analysis: sending level: %v", err)
		}
	}
	return nil
}
