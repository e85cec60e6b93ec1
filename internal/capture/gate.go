// SPDX-License-Identifier: MIT
package capture

import (
	"math"
	"sync/atomic"
)

// gate tracks the peak of the latest buffer against a threshold.
type gate struct {
	threshold atomic.Int32 // Absolute amplitude, 0 to MaxInt32.
	peak      atomic.Int32
}

// observe records the peak absolute sample of buf without branching on
// sample values.
func (g *gate) observe(buf []int32) {
	var peak int32
	for _, sample := range buf {
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		// Only MinInt32 is still negative; saturate it to MaxInt32.
		amplitude ^= amplitude >> 31
		diff := amplitude - peak
		peak += diff &^ (diff >> 31)
	}
	g.peak.Store(peak)
}

// SetGateThreshold adjusts the noise gate threshold, in the range 0 to 1
// where 0 is always open and 1 is always closed.
func (e *Engine) SetGateThreshold(threshold float64) {
	threshold = min(1, max(0, threshold))
	e.gate.threshold.Store(int32(threshold * float64(math.MaxInt32)))
}

func (e *Engine) GateThreshold() float64 {
	return float64(e.gate.threshold.Load()) / float64(math.MaxInt32)
}

// Peak returns the peak of the most recent buffer in full-scale units.
func (e *Engine) Peak() float64 {
	return float64(e.gate.peak.Load()) / float64(math.MaxInt32)
}

// GateOpen reports whether the most recent buffer crossed the threshold.
func (e *Engine) GateOpen() bool {
	t := e.gate.threshold.Load()
	return t == 0 || e.gate.peak.Load() > t
}
