// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"math"
	"testing"

	"pcmframe/pkg/frame"
	"pcmframe/pkg/utils"
)

const (
	testFFTSize    = 1024
	testSampleRate = 48000
)

func newTestFFT(t testing.TB, channel int) *FFTProcessor {
	t.Helper()
	p, err := NewFFTProcessor(testFFTSize, testSampleRate, Hann, channel)
	if err != nil {
		t.Fatalf("NewFFTProcessor: %v", err)
	}
	return p
}

func TestFFTPeakAcrossFormats(t *testing.T) {
	// 1500 Hz lands exactly on bin 32 at 48 kHz / 1024.
	const freq = 1500.0
	const wantBin = 32

	formats := []frame.SampleFormat{frame.S16, frame.S32P, frame.F32, frame.F64P, frame.U8}
	for _, format := range formats {
		t.Run(format.String(), func(t *testing.T) {
			p := newTestFFT(t, MixDown)
			f, err := utils.SineFrame(frame.MustDescription(format, testSampleRate, 2), testFFTSize, 0, freq)
			if err != nil {
				t.Fatalf("SineFrame: %v", err)
			}
			if err := p.Consume(context.Background(), f); err != nil {
				t.Fatalf("Consume: %v", err)
			}
			if f.Refs() != 0 {
				t.Error("Consume did not release the frame")
			}

			mags := p.GetMagnitudes()
			if got := utils.FindPeakBin(mags, 0, len(mags)-1); got != wantBin {
				t.Errorf("peak bin = %d, want %d", got, wantBin)
			}
			if got := p.GetFrequencyForBin(wantBin); got != freq {
				t.Errorf("GetFrequencyForBin(%d) = %v, want %v", wantBin, got, freq)
			}
		})
	}
}

func TestFFTSelectsChannel(t *testing.T) {
	desc := frame.MustDescription(frame.F32P, testSampleRate, 2)
	quiet := make([]float32, testFFTSize)
	tone := utils.GenerateSineWave(testFFTSize, 0, testSampleRate, 3000)
	f, err := frame.FromFloat32(desc, [][]float32{quiet, tone})
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	defer f.Release()

	left, right := newTestFFT(t, 0), newTestFFT(t, 1)
	if err := left.ProcessFrame(f); err != nil {
		t.Fatal(err)
	}
	if err := right.ProcessFrame(f); err != nil {
		t.Fatal(err)
	}

	for _, m := range left.GetMagnitudes() {
		if m != 0 {
			t.Fatalf("silent channel produced magnitude %v", m)
		}
	}
	mags := right.GetMagnitudes()
	if got := utils.FindPeakBin(mags, 0, len(mags)-1); got != 64 {
		t.Errorf("peak bin = %d, want 64", got)
	}
	if f.Refs() != 1 {
		t.Errorf("ProcessFrame changed the reference count to %d", f.Refs())
	}
}

func TestFFTShortFrameIsZeroPadded(t *testing.T) {
	p := newTestFFT(t, 0)
	f, err := utils.SineFrame(frame.MustDescription(frame.S16, testSampleRate, 1), 100, 0, 1500)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Release()
	if err := p.ProcessFrame(f); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if p.Frames() != 1 {
		t.Errorf("Frames() = %d", p.Frames())
	}
}

func TestFFTErrors(t *testing.T) {
	if _, err := NewFFTProcessor(1000, testSampleRate, Hann, 0); err == nil {
		t.Error("expected error for non power of two size")
	}
	if _, err := NewFFTProcessor(1024, 0, Hann, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := NewFFTProcessor(1024, testSampleRate, Hann, -2); err == nil {
		t.Error("expected error for channel -2")
	}

	p := newTestFFT(t, 3)
	f, _ := frame.NewOwning(frame.MustDescription(frame.S16, testSampleRate, 2), 16)
	if err := p.Consume(context.Background(), f); err == nil {
		t.Error("expected error for a missing channel")
	}
	if f.Refs() != 0 {
		t.Error("Consume must release on error")
	}

	p = newTestFFT(t, 0)
	g, _ := frame.NewOwning(frame.MustDescription(frame.S16, 44100, 1), 16)
	defer g.Release()
	if err := p.ProcessFrame(g); err == nil {
		t.Error("expected error for a sample rate mismatch")
	}

	if err := p.GetMagnitudesInto(make([]float64, 3)); err == nil {
		t.Error("expected error for a short destination")
	}
	if p.GetFrequencyForBin(-1) != 0 || p.GetFrequencyForBin(testFFTSize) != 0 {
		t.Error("out of range bins should map to 0 Hz")
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		in   string
		want WindowFunc
		ok   bool
	}{
		{"hann", Hann, true},
		{"Hanning", Hann, true},
		{"BLACKMAN", Blackman, true},
		{"blackmannuttall", BlackmanNuttall, true},
		{"nuttall", Nuttall, true},
		{"triangle", Hann, false},
	}
	for _, tt := range tests {
		got, err := ParseWindowFunc(tt.in)
		if got != tt.want || (err == nil) != tt.ok {
			t.Errorf("ParseWindowFunc(%q) = %s, %v", tt.in, got, err)
		}
	}
	for w := BartlettHann; w <= Nuttall; w++ {
		coeffs := make([]float64, 64)
		applyWindow(coeffs, w)
		if math.IsNaN(coeffs[32]) || coeffs[32] <= 0 {
			t.Errorf("%s window centre = %v", w, coeffs[32])
		}
	}
}

func TestFFTHotPath(t *testing.T) {
	p := newTestFFT(t, MixDown)
	f, err := utils.SineFrame(frame.MustDescription(frame.S32, testSampleRate, 2), testFFTSize, 0, 440)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Release()

	p.ProcessFrame(f)
	allocs := testing.AllocsPerRun(100, func() {
		p.ProcessFrame(f)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in ProcessFrame, got %.1f", allocs)
	}

	dst := make([]float64, testFFTSize/2+1)
	allocs = testing.AllocsPerRun(100, func() {
		_ = p.GetMagnitudesInto(dst)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in GetMagnitudesInto, got %.1f", allocs)
	}
}

func BenchmarkProcessFrame(b *testing.B) {
	p := newTestFFT(b, MixDown)
	desc := frame.MustDescription(frame.F32P, testSampleRate, 2)
	wave := utils.GenerateComplexWave(testFFTSize, testSampleRate)
	f, err := frame.FromFloat32(desc, [][]float32{wave, wave})
	if err != nil {
		b.Fatal(err)
	}
	defer f.Release()

	b.ReportAllocs()
	for b.Loop() {
		p.ProcessFrame(f)
	}
}
