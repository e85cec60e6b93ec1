// SPDX-License-Identifier: MIT
package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pcmframe/pkg/frame"
)

// writeWAV writes interleaved samples as a PCM WAV file and returns its path.
func writeWAV(t *testing.T, rate, bitDepth, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(file, rate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("encoder close: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}
	return path
}

func drain(t *testing.T, s *WAVSource) []*frame.Audio {
	t.Helper()
	var frames []*frame.Audio
	for {
		f, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frames = append(frames, f)
	}
}

func TestWAVSourceFrames(t *testing.T) {
	data := make([]int, 20)
	for i := range data {
		data[i] = (i - 10) * 1000
	}
	path := writeWAV(t, 8000, 16, 2, data)

	s, err := OpenWAV(path, Options{SamplesPerFrame: 4, EndOfStream: true})
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer s.Close()

	if s.Description().Format() != frame.S16 || s.Description().Channels() != 2 || s.Description().SampleRate() != 8000 {
		t.Fatalf("Description() = %s", s.Description())
	}

	frames := drain(t, s)
	defer func() {
		for _, f := range frames {
			f.Release()
		}
	}()

	wantSamples := []int{4, 4, 2, 0}
	wantStart := []int{0, 4, 8, 10}
	if len(frames) != len(wantSamples) {
		t.Fatalf("got %d frames, want %d", len(frames), len(wantSamples))
	}
	for i, f := range frames {
		if f.NumberOfSamples() != wantSamples[i] {
			t.Errorf("frame %d has %d samples, want %d", i, f.NumberOfSamples(), wantSamples[i])
		}
		if f.Timestamp() != time.Duration(wantStart[i])*time.Second/8000 {
			t.Errorf("frame %d timestamp = %s", i, f.Timestamp())
		}
		if src, _ := f.Metadata("source"); src != path {
			t.Errorf("frame %d source metadata = %q", i, src)
		}
	}

	// Sample values survive the decode exactly at 16 bits.
	second := frames[1]
	for i := range 4 {
		for ch := range 2 {
			want := float32(data[(4+i)*2+ch]) / 32768
			if got := second.Float32(ch, i); got != want {
				t.Errorf("frame 1 (%d, %d) = %v, want %v", ch, i, got, want)
			}
		}
	}

	if s.Position() != 10 {
		t.Errorf("Position() = %d, want 10", s.Position())
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next after EOF = %v, want io.EOF", err)
	}
}

func TestWAVSourcePlanarAndAllocator(t *testing.T) {
	path := writeWAV(t, 48000, 24, 1, []int{-8388608, 0, 4194304, 8388607})

	alloc := frame.NewHeapAllocator(0)
	s, err := OpenWAV(path, Options{
		Format:          frame.S32P,
		SamplesPerFrame: 16,
		FrameOptions:    []frame.Option{frame.WithAllocator(alloc)},
	})
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer s.Close()

	f, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.NumberOfSamples() != 4 || f.Description().Format() != frame.S32P {
		t.Errorf("frame = %s", f)
	}
	if alloc.Live() == 0 {
		t.Error("frame was not allocated through the configured allocator")
	}
	if got := f.Float32(0, 2); got != 0.5 {
		t.Errorf("sample 2 = %v, want 0.5", got)
	}
	f.Release()
	if alloc.Live() != 0 {
		t.Errorf("Live() = %d after release", alloc.Live())
	}
}

func TestOpenWAVErrors(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.wav")
	if err := os.WriteFile(junk, []byte("definitely not riff data"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenWAV(junk, Options{SamplesPerFrame: 64}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("junk file error = %v, want ErrUnsupported", err)
	}
	if _, err := OpenWAV(filepath.Join(dir, "missing.wav"), Options{SamplesPerFrame: 64}); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := OpenWAV(junk, Options{}); !errors.Is(err, frame.ErrInvalidArgument) {
		t.Errorf("zero samples per frame error = %v", err)
	}
}

func TestWAVSourceHonoursContext(t *testing.T) {
	s, err := OpenWAV(writeWAV(t, 8000, 16, 1, make([]int, 8)), Options{SamplesPerFrame: 2})
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next with cancelled context = %v", err)
	}
}
