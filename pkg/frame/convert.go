// SPDX-License-Identifier: MIT
package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Scale factors mapping integer samples to [-1.0, 1.0).
const (
	scaleS16 = 1 << 15
	scaleS32 = 1 << 31
	scaleU8  = 1 << 7
)

// offset returns the byte position of sample i of channel ch and the
// plane holding it.
func (f *Audio) offset(ch, i int) (plane, off int) {
	bps := f.desc.BytesPerSample()
	if f.desc.IsPlanar() {
		return ch, i * bps
	}
	return 0, (i*f.desc.channels + ch) * bps
}

// Float32 returns sample i of channel ch scaled to [-1.0, 1.0]. It panics
// when ch or i are out of range, like a slice index.
func (f *Audio) Float32(ch, i int) float32 {
	if ch < 0 || ch >= f.desc.channels || i < 0 || i >= f.samples {
		panic(fmt.Sprintf("frame: sample (%d, %d) out of range [%d, %d)", ch, i, f.desc.channels, f.samples))
	}
	plane, off := f.offset(ch, i)
	return decodeSample(f.data[plane][off:], f.desc.format, f.desc.order)
}

// ToFloat32 returns the samples of every channel, de-interleaved and
// scaled to [-1.0, 1.0]. The result is a copy.
func (f *Audio) ToFloat32() [][]float32 {
	out := make([][]float32, f.desc.channels)
	for ch := range out {
		out[ch] = make([]float32, f.samples)
		f.ChannelInto(ch, out[ch])
	}
	return out
}

// ChannelInto decodes channel ch into dst and returns the number of
// samples written, min(len(dst), NumberOfSamples()). It does not allocate.
func (f *Audio) ChannelInto(ch int, dst []float32) int {
	if ch < 0 || ch >= f.desc.channels {
		return 0
	}
	n := min(len(dst), f.samples)
	bps := f.desc.BytesPerSample()
	step := bps
	plane, off := ch, 0
	if !f.desc.IsPlanar() {
		plane, off = 0, ch*bps
		step = bps * f.desc.channels
	}
	src := f.data[plane]
	for i := range n {
		dst[i] = decodeSample(src[off+i*step:], f.desc.format, f.desc.order)
	}
	return n
}

// FromFloat32 builds an owning frame of desc from per-channel samples in
// [-1.0, 1.0]. Values outside the range are clipped for integer formats.
func FromFloat32(desc *Description, channels [][]float32, opts ...Option) (*Audio, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if len(channels) != desc.channels {
		return nil, fmt.Errorf("%w: got %d channels, %s needs %d",
			ErrInvalidArgument, len(channels), desc, desc.channels)
	}
	n := len(channels[0])
	for ch, s := range channels {
		if len(s) != n {
			return nil, fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d",
				ErrInvalidArgument, ch, len(s), n)
		}
	}
	f, err := NewOwning(desc, n, opts...)
	if err != nil {
		return nil, err
	}
	for ch, s := range channels {
		for i, v := range s {
			plane, off := f.offset(ch, i)
			encodeSample(f.data[plane][off:], desc.format, desc.order, v)
		}
	}
	return f, nil
}

func decodeSample(b []byte, format SampleFormat, order binary.ByteOrder) float32 {
	switch format.Packed() {
	case U8:
		return float32(int(b[0])-scaleU8) / scaleU8
	case S16:
		return float32(int16(order.Uint16(b))) / scaleS16
	case S32:
		return float32(float64(int32(order.Uint32(b))) / scaleS32)
	case F32:
		return math.Float32frombits(order.Uint32(b))
	case F64:
		return float32(math.Float64frombits(order.Uint64(b)))
	default:
		return 0
	}
}

func encodeSample(b []byte, format SampleFormat, order binary.ByteOrder, v float32) {
	switch format.Packed() {
	case U8:
		b[0] = byte(clip(float64(v)*scaleU8, -scaleU8, scaleU8-1) + scaleU8)
	case S16:
		order.PutUint16(b, uint16(int16(clip(float64(v)*scaleS16, -scaleS16, scaleS16-1))))
	case S32:
		order.PutUint32(b, uint32(int32(clip(float64(v)*scaleS32, -scaleS32, scaleS32-1))))
	case F32:
		order.PutUint32(b, math.Float32bits(v))
	case F64:
		order.PutUint64(b, math.Float64bits(float64(v)))
	}
}

func clip(v, lo, hi float64) float64 {
	return math.Round(max(lo, min(hi, v)))
}
