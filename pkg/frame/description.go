// SPDX-License-Identifier: MIT
package frame

import (
	"encoding/binary"
	"fmt"
	"time"

	"pcmframe/pkg/bitint"
)

// Description is the immutable format of a stream of audio frames. It is
// shared by pointer between all frames of the same format.
type Description struct {
	format     SampleFormat
	sampleRate int
	channels   int
	layout     ChannelLayout
	order      binary.ByteOrder
}

// DescriptionOption customises a Description at construction.
type DescriptionOption func(*Description)

// WithLayout sets an explicit channel layout. Its channel count must
// match the description's channel count.
func WithLayout(layout ChannelLayout) DescriptionOption {
	return func(d *Description) {
		d.layout = layout
	}
}

// WithByteOrder sets the byte order of multi-byte samples. The default is
// little endian.
func WithByteOrder(order binary.ByteOrder) DescriptionOption {
	return func(d *Description) {
		d.order = order
	}
}

// NewDescription builds and validates a Description.
func NewDescription(format SampleFormat, sampleRate, channels int, opts ...DescriptionOption) (*Description, error) {
	d := &Description{
		format:     format,
		sampleRate: sampleRate,
		channels:   channels,
		layout:     DefaultLayout(channels),
		order:      binary.LittleEndian,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// MustDescription is NewDescription for static formats; it panics on error.
func MustDescription(format SampleFormat, sampleRate, channels int, opts ...DescriptionOption) *Description {
	d, err := NewDescription(format, sampleRate, channels, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Validate returns an ErrInvalidFormat error when d is nil or describes
// no usable audio.
func (d *Description) Validate() error {
	switch {
	case d == nil:
		return fmt.Errorf("%w: nil description", ErrInvalidFormat)
	case !d.format.Valid():
		return fmt.Errorf("%w: unknown sample format %s", ErrInvalidFormat, d.format)
	case d.sampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, d.sampleRate)
	case d.channels <= 0:
		return fmt.Errorf("%w: %d channels", ErrInvalidFormat, d.channels)
	case d.layout != LayoutUnspecified && d.layout.Channels() != d.channels:
		return fmt.Errorf("%w: layout %s has %d channels, want %d",
			ErrInvalidFormat, d.layout, d.layout.Channels(), d.channels)
	case d.order != binary.LittleEndian && d.order != binary.BigEndian:
		return fmt.Errorf("%w: unsupported byte order %v", ErrInvalidFormat, d.order)
	}
	return nil
}

func (d *Description) Format() SampleFormat        { return d.format }
func (d *Description) SampleRate() int             { return d.sampleRate }
func (d *Description) Channels() int               { return d.channels }
func (d *Description) Layout() ChannelLayout       { return d.layout }
func (d *Description) ByteOrder() binary.ByteOrder { return d.order }
func (d *Description) BytesPerSample() int         { return d.format.BytesPerSample() }
func (d *Description) IsPlanar() bool              { return d.format.IsPlanar() }

// Planes returns the number of data planes a frame of this format has:
// one per channel for planar formats, one for packed formats.
func (d *Description) Planes() int {
	if d.format.IsPlanar() {
		return d.channels
	}
	return 1
}

// bytesPerRow returns the bytes one sample frame occupies in a plane.
func (d *Description) bytesPerRow() int {
	if d.format.IsPlanar() {
		return d.format.BytesPerSample()
	}
	return d.format.BytesPerSample() * d.channels
}

// RowSize returns the tightly packed size in bytes of one plane holding
// samples sample frames.
func (d *Description) RowSize(samples int) int {
	return samples * d.bytesPerRow()
}

// LineSize returns RowSize padded up to align, which must be a power of 2.
func (d *Description) LineSize(samples, align int) int {
	return bitint.AlignUp(d.RowSize(samples), align)
}

// DurationOf returns the playback time of samples sample frames.
func (d *Description) DurationOf(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(d.sampleRate)
}

// SamplesIn returns how many whole sample frames fit in dur.
func (d *Description) SamplesIn(dur time.Duration) int {
	return int(dur * time.Duration(d.sampleRate) / time.Second)
}

// WithFormat returns a copy of d using a different sample format, keeping
// rate, channels, layout and byte order.
func (d *Description) WithFormat(format SampleFormat) (*Description, error) {
	return NewDescription(format, d.sampleRate, d.channels, WithLayout(d.layout), WithByteOrder(d.order))
}

// Equal reports whether d and other describe the same format.
func (d *Description) Equal(other *Description) bool {
	if d == other {
		return true
	}
	if d == nil || other == nil {
		return false
	}
	return d.format == other.format &&
		d.sampleRate == other.sampleRate &&
		d.channels == other.channels &&
		d.layout == other.layout &&
		d.order == other.order
}

func (d *Description) String() string {
	if d == nil {
		return "<nil>"
	}
	s := fmt.Sprintf("%s %dHz %dch %s", d.format, d.sampleRate, d.channels, d.layout)
	if d.order == binary.BigEndian {
		s += " be"
	}
	return s
}
