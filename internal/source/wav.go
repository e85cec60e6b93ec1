// SPDX-License-Identifier: MIT

// Package source produces frames from recorded audio.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pcmframe/internal/log"
	"pcmframe/pkg/frame"
)

// ErrUnsupported is returned for WAV files the decoder cannot turn into
// frames (compressed or float payloads, unusual bit depths).
var ErrUnsupported = errors.New("source: unsupported wav file")

// wavFormatPCM is the WAVE_FORMAT_PCM tag.
const wavFormatPCM = 1

// Options controls how a WAVSource slices a file into frames.
type Options struct {
	// Format of the produced frames. FormatNone keeps the file's own
	// resolution: S16 for 16-bit files and S32 otherwise.
	Format frame.SampleFormat

	// SamplesPerFrame is the number of samples per channel in each frame.
	// The final frame may be shorter.
	SamplesPerFrame int

	// EndOfStream makes Next return one zero-sample frame before io.EOF.
	EndOfStream bool

	// FrameOptions are applied to every frame, after the timing options.
	FrameOptions []frame.Option
}

// WAVSource decodes a PCM WAV file into owning frames. It is not safe for
// concurrent use.
type WAVSource struct {
	path    string
	file    *os.File
	dec     *wav.Decoder
	desc    *frame.Description
	opts    Options
	buf     *audio.IntBuffer
	planes  [][]float32
	scale   float32
	pos     int
	eosSent bool
	done    bool
}

// OpenWAV opens path and prepares it for decoding.
func OpenWAV(path string, opts Options) (*WAVSource, error) {
	if opts.SamplesPerFrame < 1 {
		return nil, fmt.Errorf("%w: samples per frame %d", frame.ErrInvalidArgument, opts.SamplesPerFrame)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	s, err := newWAVSource(path, file, opts)
	if err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

func newWAVSource(path string, file *os.File, opts Options) (*WAVSource, error) {
	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a wav file", ErrUnsupported, path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("source: seeking to pcm data in %s: %w", path, err)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: %s has format tag %d", ErrUnsupported, path, dec.WavAudioFormat)
	}

	bitDepth := int(dec.BitDepth)
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %s is %d-bit", ErrUnsupported, path, bitDepth)
	}

	format := opts.Format
	if format == frame.FormatNone {
		format = frame.S32
		if bitDepth == 16 {
			format = frame.S16
		}
	}

	channels := int(dec.NumChans)
	desc, err := frame.NewDescription(format, int(dec.SampleRate), channels)
	if err != nil {
		return nil, fmt.Errorf("source: %s: %w", path, err)
	}

	planes := make([][]float32, channels)
	for ch := range planes {
		planes[ch] = make([]float32, opts.SamplesPerFrame)
	}

	log.Debugf("source: opened %s (%d-bit, %s)", path, bitDepth, desc)

	return &WAVSource{
		path: path,
		file: file,
		dec:  dec,
		desc: desc,
		opts: opts,
		buf: &audio.IntBuffer{
			Format:         dec.Format(),
			Data:           make([]int, opts.SamplesPerFrame*channels),
			SourceBitDepth: bitDepth,
		},
		planes: planes,
		scale:  float32(int64(1) << (bitDepth - 1)),
	}, nil
}

// Description returns the format of the frames Next produces.
func (s *WAVSource) Description() *frame.Description {
	return s.desc
}

// Duration returns the length of the file's audio.
func (s *WAVSource) Duration() (time.Duration, error) {
	return s.dec.Duration()
}

// Position returns the number of samples per channel decoded so far.
func (s *WAVSource) Position() int {
	return s.pos
}

// Next decodes the next frame. It returns io.EOF once the data is
// exhausted. The caller owns the returned frame and must Release it.
func (s *WAVSource) Next(ctx context.Context) (*frame.Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("source: decoding %s: %w", s.path, err)
	}

	channels := s.desc.Channels()
	samples := n / channels
	if samples == 0 {
		s.done = true
		if s.opts.EndOfStream && !s.eosSent {
			s.eosSent = true
			return frame.NewOwning(s.desc, 0, s.frameOptions(0)...)
		}
		return nil, io.EOF
	}

	for i := range samples {
		row := s.buf.Data[i*channels:]
		for ch := range channels {
			s.planes[ch][i] = float32(row[ch]) / s.scale
		}
	}

	channelData := make([][]float32, channels)
	for ch := range channels {
		channelData[ch] = s.planes[ch][:samples]
	}

	f, err := frame.FromFloat32(s.desc, channelData, s.frameOptions(samples)...)
	if err != nil {
		return nil, err
	}
	s.pos += samples
	return f, nil
}

func (s *WAVSource) frameOptions(samples int) []frame.Option {
	opts := []frame.Option{
		frame.WithMedia(frame.Media{
			Timestamp: s.desc.DurationOf(s.pos),
			Duration:  s.desc.DurationOf(samples),
			Metadata:  map[string]string{"source": s.path},
		}),
	}
	return append(opts, s.opts.FrameOptions...)
}

func (s *WAVSource) Close() error {
	return s.file.Close()
}
