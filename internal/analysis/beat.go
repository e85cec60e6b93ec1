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

// Onset is sent when the detector fires.
type Onset struct {
	Type      string        `json:"type"`
	Name      string        `json:"name"`
	Timestamp time.Duration `json:"timestamp"`
	Energy    float64       `json:"energy"`
}

// BeatDetector fires when a frame's mixed RMS energy exceeds a threshold
// and jumps by at least minRatio over the previous frame. After firing it
// stays quiet for the cooldown, measured in stream time.
type BeatDetector struct {
	threshold float64
	minRatio  float64
	cooldown  time.Duration
	transport transport.Transport

	mu         sync.Mutex
	lastEnergy float64
	lastOnset  time.Duration
	fired      bool
	onsets     int64
	scratch    []float32
}

func NewBeatDetector(threshold, minRatio float64, cooldown time.Duration, t transport.Transport) *BeatDetector {
	log.Infof("analysis: beat detector (threshold %.2f, ratio %.2f, cooldown %s)", threshold, minRatio, cooldown)
	return &BeatDetector{
		threshold: threshold,
		minRatio:  minRatio,
		cooldown:  cooldown,
		transport: t,
	}
}

// Detect reports whether f starts an onset, along with its energy. It does
// not release f.
func (d *BeatDetector) Detect(f *frame.Audio) (bool, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	energy := d.rms(f)
	prev := d.lastEnergy
	d.lastEnergy = energy

	if energy <= d.threshold {
		return false, energy
	}
	if prev > 0 && energy/prev <= d.minRatio {
		return false, energy
	}
	if d.fired && f.Timestamp()-d.lastOnset < d.cooldown {
		return false, energy
	}

	d.fired = true
	d.lastOnset = f.Timestamp()
	d.onsets++
	return true, energy
}

// rms is the RMS of all channels taken together.
func (d *BeatDetector) rms(f *frame.Audio) float64 {
	n := f.NumberOfSamples()
	channels := f.Description().Channels()
	if n == 0 {
		return 0
	}
	if cap(d.scratch) < n {
		d.scratch = make([]float32, n)
	}
	buf := d.scratch[:n]

	var sum float64
	for ch := range channels {
		f.ChannelInto(ch, buf)
		for _, s := range buf {
			sum += float64(s) * float64(s)
		}
	}
	return math.Sqrt(sum / float64(n*channels))
}

// Onsets returns the number of onsets detected.
func (d *BeatDetector) Onsets() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onsets
}

func (d *BeatDetector) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()
	fired, energy := d.Detect(f)
	if !fired || d.transport == nil {
		return nil
	}
	if err := d.transport.Send(Onset{Type: "event", Name: "kick", Timestamp: f.Timestamp(), Energy: energy}); err != nil {
		log.Warnf("analysis: sending onset: %v", err)
	}
	return nil
}
