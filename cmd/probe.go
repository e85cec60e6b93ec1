// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pcmframe/internal/analysis"
	"pcmframe/internal/pipeline"
	"pcmframe/internal/sink"
	"pcmframe/internal/source"
	"pcmframe/pkg/frame"
)

// ProbeReport summarises a decoded file.
type ProbeReport struct {
	File       string         `yaml:"file"`
	Format     string         `yaml:"format"`
	SampleRate int            `yaml:"sample_rate"`
	Channels   int            `yaml:"channels"`
	Layout     string         `yaml:"layout"`
	Duration   time.Duration  `yaml:"duration"`
	Frames     int64          `yaml:"frames"`
	Samples    int64          `yaml:"samples"`
	LineSizes  []int          `yaml:"line_sizes"`
	Channel    []ChannelLevel `yaml:"channel_levels"`
	PeakHz     float64        `yaml:"peak_hz,omitempty"`
	Written    string         `yaml:"written,omitempty"`
}

type ChannelLevel struct {
	Peak float64 `yaml:"peak"`
	RMS  float64 `yaml:"rms"`
}

// levelTotals accumulates levels across every frame of a stream.
type levelTotals struct {
	mu        sync.Mutex
	frames    int64
	samples   int64
	lineSizes []int
	peak      []float64
	squares   []float64
	meter     *analysis.LevelMeter
}

func (t *levelTotals) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()
	if f.IsEmpty() {
		return nil
	}
	lvl := t.meter.Measure(f)
	n := float64(f.NumberOfSamples())

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lineSizes == nil {
		t.lineSizes = f.LineSizes()
		t.peak = make([]float64, len(lvl.Peak))
		t.squares = make([]float64, len(lvl.RMS))
	}
	t.frames++
	t.samples += int64(f.NumberOfSamples())
	for ch := range lvl.Peak {
		t.peak[ch] = max(t.peak[ch], lvl.Peak[ch])
		t.squares[ch] += lvl.RMS[ch] * lvl.RMS[ch] * n
	}
	return nil
}

func (t *levelTotals) channels() []ChannelLevel {
	out := make([]ChannelLevel, len(t.peak))
	for ch := range out {
		out[ch].Peak = t.peak[ch]
		if t.samples > 0 {
			out[ch].RMS = math.Sqrt(t.squares[ch] / float64(t.samples))
		}
	}
	return out
}

func newProbeCmd(opts *options) *cobra.Command {
	var (
		format   string
		samples  int
		writeTo  string
		bitDepth int
		asYAML   bool
		fftSize  int
	)

	cmd := &cobra.Command{
		Use:   "probe FILE",
		Short: "Decode a WAV file into frames and report its format and levels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if samples > 0 {
				cfg.Frame.SamplesPerFrame = samples
			}
			sf := cfg.SampleFormat()
			if format == "native" {
				sf = frame.FormatNone
			} else if format != "" {
				var err error
				if sf, err = frame.ParseSampleFormat(format); err != nil {
					return err
				}
			}

			ctx, stop := signalContext()
			defer stop()

			report, err := probe(ctx, args[0], sourceOptions(cfg.Frame.SamplesPerFrame, sf, cfg.FrameOptions(cfg.Allocator())), writeTo, bitDepth, fftSize)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, asYAML)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Sample format of the decoded frames, or \"native\" for the file's own (default: frame.sample_format)")
	cmd.Flags().IntVarP(&samples, "samples", "n", 0, "Samples per channel in each frame (default: frame.samples_per_frame)")
	cmd.Flags().StringVarP(&writeTo, "write", "w", "", "Re-encode the decoded frames to this WAV file")
	cmd.Flags().IntVar(&bitDepth, "bit-depth", 16, "Bit depth used with --write (16, 24 or 32)")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the report as YAML")
	cmd.Flags().IntVar(&fftSize, "fft", 0, "Report the dominant frequency using an FFT of this size")
	return cmd
}

func sourceOptions(samples int, format frame.SampleFormat, frameOpts []frame.Option) source.Options {
	return source.Options{
		Format:          format,
		SamplesPerFrame: samples,
		FrameOptions:    frameOpts,
	}
}

// spectrumPeak keeps the spectrum of the loudest frame it sees.
type spectrumPeak struct {
	fft *analysis.FFTProcessor

	mu      sync.Mutex
	loudest float64
	best    []float64
}

func (s *spectrumPeak) Consume(_ context.Context, f *frame.Audio) error {
	defer f.Release()
	if f.IsEmpty() {
		return nil
	}
	if err := s.fft.ProcessFrame(f); err != nil {
		return err
	}
	mags := s.fft.GetMagnitudes()
	var energy float64
	for _, m := range mags {
		energy += m * m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if energy > s.loudest {
		s.loudest = energy
		s.best = mags
	}
	return nil
}

// PeakHz returns the centre frequency of the strongest bin.
func (s *spectrumPeak) PeakHz() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	peak := 0
	for i, m := range s.best {
		if m > s.best[peak] {
			peak = i
		}
	}
	return s.fft.GetFrequencyForBin(peak)
}

// probe runs path through a pipeline of a level accumulator plus the
// optional spectrum and WAV writer stages.
func probe(ctx context.Context, path string, opts source.Options, writeTo string, bitDepth, fftSize int) (*ProbeReport, error) {
	src, err := source.OpenWAV(path, opts)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	desc := src.Description()
	totals := &levelTotals{meter: analysis.NewLevelMeter(0, nil)}
	p := pipeline.New(src).Add("levels", totals)

	var spectrum *spectrumPeak
	if fftSize > 0 {
		fft, err := analysis.NewFFTProcessor(fftSize, float64(desc.SampleRate()), analysis.Hann, analysis.MixDown)
		if err != nil {
			return nil, err
		}
		spectrum = &spectrumPeak{fft: fft}
		p.Add("fft", spectrum)
	}

	var rec *sink.WAVRecorder
	if writeTo != "" {
		if rec, err = sink.NewWAVRecorder(writeTo, desc, bitDepth); err != nil {
			return nil, err
		}
		defer rec.Close()
		p.Add("writer", rec)
	}

	if err := p.Run(ctx); err != nil {
		return nil, err
	}

	duration, err := src.Duration()
	if err != nil {
		return nil, err
	}
	report := &ProbeReport{
		File:       path,
		Format:     desc.Format().String(),
		SampleRate: desc.SampleRate(),
		Channels:   desc.Channels(),
		Layout:     desc.Layout().String(),
		Duration:   duration,
		Frames:     totals.frames,
		Samples:    totals.samples,
		LineSizes:  totals.lineSizes,
		Channel:    totals.channels(),
	}
	if spectrum != nil {
		report.PeakHz = spectrum.PeakHz()
	}
	if rec != nil {
		if err := rec.Close(); err != nil {
			return nil, err
		}
		report.Written = rec.Path()
	}
	return report, nil
}

func printReport(w io.Writer, r *ProbeReport, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(w, "%s\n", r.File)
	fmt.Fprintf(w, "  format:      %s, %d Hz, %d channels (%s)\n", r.Format, r.SampleRate, r.Channels, r.Layout)
	fmt.Fprintf(w, "  duration:    %s\n", r.Duration)
	fmt.Fprintf(w, "  frames:      %d (%d samples per channel)\n", r.Frames, r.Samples)
	fmt.Fprintf(w, "  line sizes:  %v\n", r.LineSizes)
	for ch, lvl := range r.Channel {
		fmt.Fprintf(w, "  channel %d:   peak %.3f, rms %.3f\n", ch, lvl.Peak, lvl.RMS)
	}
	if r.PeakHz > 0 {
		fmt.Fprintf(w, "  peak:        %.1f Hz\n", r.PeakHz)
	}
	if r.Written != "" {
		fmt.Fprintf(w, "  written:     %s\n", r.Written)
	}
	return nil
}
