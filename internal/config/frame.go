// SPDX-License-Identifier: MIT
package config

import (
	"pcmframe/pkg/frame"
)

// Allocator returns the allocator selected by the frame section.
func (c *Config) Allocator() frame.Allocator {
	if c.Frame.Pool {
		return frame.NewPoolAllocator(c.Frame.MaxAllocBytes)
	}
	return frame.NewHeapAllocator(c.Frame.MaxAllocBytes)
}

// FrameOptions returns the construction options every owning frame built by
// the application shares. A nil allocator keeps the package default.
func (c *Config) FrameOptions(alloc frame.Allocator) []frame.Option {
	return []frame.Option{
		frame.WithAlignment(c.Frame.Alignment),
		frame.WithZeroFill(c.Frame.ZeroFill),
		frame.WithAllocator(alloc),
	}
}

// SampleFormat returns the parsed frame.sample_format. Validate guarantees
// it parses.
func (c *Config) SampleFormat() frame.SampleFormat {
	f, err := frame.ParseSampleFormat(c.Frame.SampleFormat)
	if err != nil {
		return frame.FormatNone
	}
	return f
}

// CaptureDescription describes the packed 32-bit frames produced by the
// capture engine.
func (c *Config) CaptureDescription() (*frame.Description, error) {
	return frame.NewDescription(frame.S32, int(c.Audio.SampleRate), c.Audio.InputChannels)
}
