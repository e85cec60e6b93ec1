// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"fmt"
	"math/cmplx"
	"strings"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"pcmframe/internal/log"
	"pcmframe/pkg/bitint"
	"pcmframe/pkg/frame"
)

// WindowFunc selects the window applied before the transform.
type WindowFunc int

const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var windowNames = map[WindowFunc]string{
	BartlettHann:    "BartlettHann",
	Blackman:        "Blackman",
	BlackmanNuttall: "BlackmanNuttall",
	Hann:            "Hann",
	Hamming:         "Hamming",
	Lanczos:         "Lanczos",
	Nuttall:         "Nuttall",
}

func (w WindowFunc) String() string {
	if name, ok := windowNames[w]; ok {
		return name
	}
	return fmt.Sprintf("WindowFunc(%d)", int(w))
}

// ParseWindowFunc converts a case-insensitive name to a WindowFunc. Unknown
// names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("analysis: unknown window function %q", name)
	}
}

func applyWindow(coeffs []float64, w WindowFunc) {
	for i := range coeffs {
		coeffs[i] = 1
	}
	switch w {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		window.Hann(coeffs)
	}
}

// MixDown averages every channel of a frame before the transform.
const MixDown = -1

type fftWorkspace struct {
	samples   []float32    // One channel of the current frame.
	input     []float64    // Windowed transform input.
	fftOutput []complex128 // fftSize/2 + 1 coefficients.
	window    []float64

	mu        sync.RWMutex // Guards magnitude.
	magnitude []float64
}

// FFTProcessor computes the magnitude spectrum of the first fftSize samples
// of each frame it is given. Frames shorter than fftSize are zero padded.
// ProcessFrame and the getters may be called from different goroutines.
type FFTProcessor struct {
	fft        *fourier.FFT
	fftSize    int
	sampleRate float64
	channel    int
	frames     int64

	procMu    sync.Mutex // Serialises ProcessFrame.
	workspace fftWorkspace
}

var (
	_ FrameConsumer     = (*FFTProcessor)(nil)
	_ FFTResultProvider = (*FFTProcessor)(nil)
)

// NewFFTProcessor creates a processor for frames at sampleRate. channel
// selects the analysed channel, or MixDown to average all of them.
func NewFFTProcessor(fftSize int, sampleRate float64, w WindowFunc, channel int) (*FFTProcessor, error) {
	if fftSize < 2 || !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("analysis: fft size must be a power of two, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("analysis: sample rate must be positive, got %g", sampleRate)
	}
	if channel < MixDown {
		return nil, fmt.Errorf("analysis: invalid channel %d", channel)
	}

	coeffs := make([]float64, fftSize)
	applyWindow(coeffs, w)
	bins := fftSize/2 + 1

	log.Infof("analysis: fft processor (size %d, %.0f Hz, %s window)", fftSize, sampleRate, w)

	return &FFTProcessor{
		fft:        fourier.NewFFT(fftSize),
		fftSize:    fftSize,
		sampleRate: sampleRate,
		channel:    channel,
		workspace: fftWorkspace{
			samples:   make([]float32, fftSize),
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, bins),
			window:    coeffs,
			magnitude: make([]float64, bins),
		},
	}, nil
}

// ProcessFrame transforms f. It reads the samples in whatever format f has
// and never retains or releases it.
func (p *FFTProcessor) ProcessFrame(f *frame.Audio) error {
	desc := f.Description()
	if p.channel >= desc.Channels() {
		return fmt.Errorf("analysis: channel %d requested from %s", p.channel, desc)
	}
	if float64(desc.SampleRate()) != p.sampleRate {
		return fmt.Errorf("analysis: %s does not match the %.0f Hz processor", desc, p.sampleRate)
	}

	p.procMu.Lock()
	defer p.procMu.Unlock()

	ws := &p.workspace
	clear(ws.input)

	n := 0
	if p.channel == MixDown {
		channels := desc.Channels()
		for ch := range channels {
			n = f.ChannelInto(ch, ws.samples)
			for i := range n {
				ws.input[i] += float64(ws.samples[i])
			}
		}
		scale := 1 / float64(channels)
		for i := range n {
			ws.input[i] *= scale * ws.window[i]
		}
	} else {
		n = f.ChannelInto(p.channel, ws.samples)
		for i := range n {
			ws.input[i] = float64(ws.samples[i]) * ws.window[i]
		}
	}

	p.fft.Coefficients(ws.fftOutput, ws.input)

	ws.mu.Lock()
	for i, c := range ws.fftOutput {
		ws.magnitude[i] = cmplx.Abs(c)
	}
	p.frames++
	ws.mu.Unlock()
	return nil
}

// Consume runs ProcessFrame and releases f.
func (p *FFTProcessor) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()
	return p.ProcessFrame(f)
}

// GetMagnitudes returns a copy of the latest spectrum.
func (p *FFTProcessor) GetMagnitudes() []float64 {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()
	out := make([]float64, len(p.workspace.magnitude))
	copy(out, p.workspace.magnitude)
	return out
}

// GetMagnitudesInto copies the latest spectrum into dst, which must hold
// exactly fftSize/2 + 1 values.
func (p *FFTProcessor) GetMagnitudesInto(dst []float64) error {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()
	if len(dst) != len(p.workspace.magnitude) {
		return fmt.Errorf("analysis: destination holds %d bins, need %d", len(dst), len(p.workspace.magnitude))
	}
	copy(dst, p.workspace.magnitude)
	return nil
}

// GetFrequencyForBin returns the centre frequency of bin, or 0 when bin is
// out of range.
func (p *FFTProcessor) GetFrequencyForBin(bin int) float64 {
	if bin < 0 || bin >= len(p.workspace.fftOutput) {
		return 0
	}
	return float64(bin) * p.sampleRate / float64(p.fftSize)
}

func (p *FFTProcessor) GetFFTSize() int        { return p.fftSize }
func (p *FFTProcessor) GetSampleRate() float64 { return p.sampleRate }

// Frames returns the number of frames transformed.
func (p *FFTProcessor) Frames() int64 {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()
	return p.frames
}
