// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"errors"
	"math"
	"time"

	"pcmframe/internal/log"
	"pcmframe/internal/transport"
	"pcmframe/pkg/frame"
)

// FrequencyBand is a named frequency range [LowHz, HighHz).
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// DefaultBands covers the audible range in six bands. The last band ends at
// the Nyquist frequency of the provider.
func DefaultBands(sampleRate float64) []FrequencyBand {
	return []FrequencyBand{
		{Name: "sub", LowHz: 20, HighHz: 60},
		{Name: "bass", LowHz: 60, HighHz: 250},
		{Name: "lowMid", LowHz: 250, HighHz: 500},
		{Name: "mid", LowHz: 500, HighHz: 2000},
		{Name: "highMid", LowHz: 2000, HighHz: 4000},
		{Name: "treble", LowHz: 4000, HighHz: sampleRate/2 + 1},
	}
}

// BandEnergy is the result sent for each frame.
type BandEnergy struct {
	Type      string             `json:"type"`
	Timestamp time.Duration      `json:"timestamp"`
	Bands     map[string]float64 `json:"bands"`
}

// BandEnergyProcessor reduces the spectrum of an FFT provider to one value
// per band in [0, 1] and sends it to a transport. Place it after the FFT
// stage so the spectrum reflects the frame being consumed.
type BandEnergyProcessor struct {
	transport transport.Transport
	provider  FFTResultProvider
	bands     []FrequencyBand
	binBand   []int // Band index per bin, -1 for none.
	mags      []float64
	gain      float64
}

// DefaultBandGain maps typical music RMS band magnitudes into [0, 1].
const DefaultBandGain = 50

func NewBandEnergyProcessor(t transport.Transport, provider FFTResultProvider, bands []FrequencyBand) (*BandEnergyProcessor, error) {
	if t == nil || provider == nil {
		return nil, errors.New("analysis: band energy needs a transport and an fft provider")
	}
	if len(bands) == 0 {
		bands = DefaultBands(provider.GetSampleRate())
	}

	bins := provider.GetFFTSize()/2 + 1
	binBand := make([]int, bins)
	for i := range binBand {
		binBand[i] = -1
		freq := provider.GetFrequencyForBin(i)
		for b, band := range bands {
			if freq >= band.LowHz && freq < band.HighHz {
				binBand[i] = b
				break
			}
		}
	}

	log.Infof("analysis: band energy over %d bands", len(bands))
	return &BandEnergyProcessor{
		transport: t,
		provider:  provider,
		bands:     bands,
		binBand:   binBand,
		mags:      make([]float64, bins),
		gain:      DefaultBandGain,
	}, nil
}

// Compute returns the band energies of the provider's current spectrum.
func (p *BandEnergyProcessor) Compute() (map[string]float64, error) {
	if err := p.provider.GetMagnitudesInto(p.mags); err != nil {
		return nil, err
	}

	energy := make([]float64, len(p.bands))
	counts := make([]int, len(p.bands))
	for i, m := range p.mags {
		if b := p.binBand[i]; b >= 0 {
			energy[b] += m * m
			counts[b]++
		}
	}

	out := make(map[string]float64, len(p.bands))
	for b, band := range p.bands {
		avg := 0.0
		if counts[b] > 0 {
			avg = energy[b] / float64(counts[b])
		}
		out[band.Name] = math.Min(1, math.Sqrt(avg)*p.gain)
	}
	return out, nil
}

// Consume computes the band energies and sends them. Send failures are
// logged, not returned, so a slow observer never stops the pipeline.
func (p *BandEnergyProcessor) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()

	bands, err := p.Compute()
	if err != nil {
		return err
	}
	if err := p.transport.Send(BandEnergy{Type: "band_energy", Timestamp: f.Timestamp(), Bands: bands}); err != nil {
		log.Warnf("analysis: sending band energy: %v", err)
	}
	return nil
}
