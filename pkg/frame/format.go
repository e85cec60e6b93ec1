// SPDX-License-Identifier: MIT
package frame

import (
	"fmt"
	"math/bits"
	"strings"
)

// SampleFormat is the storage format of one sample value. The planar
// variants (suffix P) keep every channel in its own plane; the others
// interleave all channels in a single plane.
type SampleFormat uint8

const (
	FormatNone SampleFormat = iota
	U8                      // unsigned 8-bit, packed
	S16                     // signed 16-bit, packed
	S32                     // signed 32-bit, packed
	F32                     // 32-bit float, packed
	F64                     // 64-bit float, packed
	U8P                     // unsigned 8-bit, planar
	S16P                    // signed 16-bit, planar
	S32P                    // signed 32-bit, planar
	F32P                    // 32-bit float, planar
	F64P                    // 64-bit float, planar
)

var sampleFormatNames = [...]string{
	FormatNone: "none",
	U8:         "u8",
	S16:        "s16",
	S32:        "s32",
	F32:        "f32",
	F64:        "f64",
	U8P:        "u8p",
	S16P:       "s16p",
	S32P:       "s32p",
	F32P:       "f32p",
	F64P:       "f64p",
}

// BytesPerSample returns the size of one sample value, or 0 for an
// unknown format.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case U8, U8P:
		return 1
	case S16, S16P:
		return 2
	case S32, S32P, F32, F32P:
		return 4
	case F64, F64P:
		return 8
	default:
		return 0
	}
}

// IsPlanar reports whether each channel is stored in its own plane.
func (f SampleFormat) IsPlanar() bool {
	return f >= U8P && f <= F64P
}

// IsFloat reports whether samples are IEEE 754 values.
func (f SampleFormat) IsFloat() bool {
	switch f {
	case F32, F32P, F64, F64P:
		return true
	default:
		return false
	}
}

// Valid reports whether f names a known storage format.
func (f SampleFormat) Valid() bool {
	return f > FormatNone && f <= F64P
}

// Packed returns the interleaved counterpart of f.
func (f SampleFormat) Packed() SampleFormat {
	if f.IsPlanar() {
		return f - (U8P - U8)
	}
	return f
}

// Planar returns the planar counterpart of f.
func (f SampleFormat) Planar() SampleFormat {
	if f.Valid() && !f.IsPlanar() {
		return f + (U8P - U8)
	}
	return f
}

func (f SampleFormat) String() string {
	if int(f) < len(sampleFormatNames) {
		return sampleFormatNames[f]
	}
	return fmt.Sprintf("SampleFormat(%d)", uint8(f))
}

// ParseSampleFormat converts a name such as "s16" or "F32P" to a
// SampleFormat. "flt" and "fltp" are accepted as aliases.
func ParseSampleFormat(name string) (SampleFormat, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "flt":
		return F32, nil
	case "fltp":
		return F32P, nil
	case "dbl":
		return F64, nil
	case "dblp":
		return F64P, nil
	}
	for f := U8; f <= F64P; f++ {
		if sampleFormatNames[f] == name {
			return f, nil
		}
	}
	return FormatNone, fmt.Errorf("%w: unknown sample format %q", ErrInvalidFormat, name)
}

// ChannelLayout is a bit mask of speaker positions. The zero value
// means the layout is unspecified and only the channel count is known.
type ChannelLayout uint64

const (
	FrontLeft ChannelLayout = 1 << iota
	FrontRight
	FrontCenter
	LowFrequency
	BackLeft
	BackRight
	FrontLeftOfCenter
	FrontRightOfCenter
	BackCenter
	SideLeft
	SideRight
)

const (
	LayoutUnspecified ChannelLayout = 0
	LayoutMono                      = FrontCenter
	LayoutStereo                    = FrontLeft | FrontRight
	Layout2Point1                   = LayoutStereo | LowFrequency
	LayoutSurround                  = LayoutStereo | FrontCenter
	LayoutQuad                      = LayoutStereo | BackLeft | BackRight
	Layout5Point0                   = LayoutSurround | SideLeft | SideRight
	Layout5Point1                   = LayoutSurround | LowFrequency | BackLeft | BackRight
	Layout7Point1                   = Layout5Point1 | SideLeft | SideRight
)

// DefaultLayout returns the conventional layout for a channel count,
// or LayoutUnspecified when there is none.
func DefaultLayout(channels int) ChannelLayout {
	switch channels {
	case 1:
		return LayoutMono
	case 2:
		return LayoutStereo
	case 3:
		return Layout2Point1
	case 4:
		return LayoutQuad
	case 5:
		return Layout5Point0
	case 6:
		return Layout5Point1
	case 8:
		return Layout7Point1
	default:
		return LayoutUnspecified
	}
}

// Channels returns the number of speaker positions in the layout.
func (l ChannelLayout) Channels() int {
	return bits.OnesCount64(uint64(l))
}

func (l ChannelLayout) String() string {
	switch l {
	case LayoutUnspecified:
		return "unspecified"
	case LayoutMono:
		return "mono"
	case LayoutStereo:
		return "stereo"
	case Layout2Point1:
		return "2.1"
	case LayoutSurround:
		return "3.0"
	case LayoutQuad:
		return "quad"
	case Layout5Point0:
		return "5.0"
	case Layout5Point1:
		return "5.1"
	case Layout7Point1:
		return "7.1"
	default:
		return fmt.Sprintf("0x%x", uint64(l))
	}
}
