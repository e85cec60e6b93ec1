// SPDX-License-Identifier: MIT

/*
Package udp streams audio frames between processes as UDP datagrams, one
frame per datagram.

Packet Layout (BigEndian):

	+-----------------+----------+------+-------------------------------+
	| Field           | Type     | Size | Description                   |
	|-----------------|----------|------|-------------------------------|
	| Magic           | [4]byte  | 4    | "PCMF"                        |
	| Version         | uint8    | 1    | Currently 1                   |
	| Flags           | uint8    | 1    | Bit 0: samples are big endian |
	| Format          | uint8    | 1    | frame.SampleFormat            |
	| Planes          | uint8    | 1    | Number of plane blocks (P)    |
	| Channels        | uint16   | 2    |                               |
	| Sample Rate     | uint32   | 4    | Hz                            |
	| Sequence Number | uint32   | 4    | Per publisher, wraps          |
	| Timestamp       | int64    | 8    | Frame timestamp, ns           |
	| Duration        | int64    | 8    | Frame duration, ns            |
	| Layout          | uint64   | 8    | frame.ChannelLayout bits      |
	| Samples         | uint32   | 4    | Samples per channel (N)       |
	| Plane Blocks    | P blocks |      | uint32 length, then the row   |
	+-----------------+----------+------+-------------------------------+

Only the used row of each plane is sent; alignment padding is dropped and
the receiver's frames borrow the datagram directly.
*/
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"pcmframe/pkg/frame"
)

const (
	magic         = "PCMF"
	version       = 1
	flagBigEndian = 1 << 0

	// HeaderSize is the fixed part of a packet before the plane blocks.
	HeaderSize = 46

	// MaxPacketSize is the largest UDP payload over IPv4.
	MaxPacketSize = 65507
)

var (
	ErrMalformed      = errors.New("udp: malformed packet")
	ErrPacketTooLarge = errors.New("udp: frame does not fit in one datagram")
)

// Header is the decoded fixed part of a packet.
type Header struct {
	Seq        uint32
	Format     frame.SampleFormat
	Channels   int
	SampleRate int
	Layout     frame.ChannelLayout
	Order      binary.ByteOrder
	Samples    int
	Timestamp  time.Duration
	Duration   time.Duration
	Planes     int
}

// PacketSize returns the encoded size of f.
func PacketSize(f *frame.Audio) int {
	row := f.Description().RowSize(f.NumberOfSamples())
	return HeaderSize + f.NumPlanes()*(4+row)
}

// MarshalFrame appends the packet for f with sequence number seq to dst.
func MarshalFrame(dst []byte, seq uint32, f *frame.Audio) ([]byte, error) {
	desc := f.Description()
	if size := PacketSize(f); size > MaxPacketSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, size)
	}

	var flags byte
	if desc.ByteOrder() == binary.BigEndian {
		flags |= flagBigEndian
	}

	be := binary.BigEndian
	dst = append(dst, magic...)
	dst = append(dst, version, flags, byte(desc.Format()), byte(f.NumPlanes()))
	dst = be.AppendUint16(dst, uint16(desc.Channels()))
	dst = be.AppendUint32(dst, uint32(desc.SampleRate()))
	dst = be.AppendUint32(dst, seq)
	dst = be.AppendUint64(dst, uint64(f.Timestamp()))
	dst = be.AppendUint64(dst, uint64(f.Duration()))
	dst = be.AppendUint64(dst, uint64(desc.Layout()))
	dst = be.AppendUint32(dst, uint32(f.NumberOfSamples()))

	row := desc.RowSize(f.NumberOfSamples())
	for i := range f.NumPlanes() {
		dst = be.AppendUint32(dst, uint32(row))
		dst = append(dst, f.Plane(i)[:row]...)
	}
	return dst, nil
}

// ParseHeader decodes the fixed part of pkt.
func ParseHeader(pkt []byte) (Header, error) {
	var h Header
	if len(pkt) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(pkt))
	}
	if string(pkt[:4]) != magic {
		return h, fmt.Errorf("%w: bad magic %q", ErrMalformed, pkt[:4])
	}
	if pkt[4] != version {
		return h, fmt.Errorf("%w: unsupported version %d", ErrMalformed, pkt[4])
	}

	be := binary.BigEndian
	h.Order = binary.LittleEndian
	if pkt[5]&flagBigEndian != 0 {
		h.Order = binary.BigEndian
	}
	h.Format = frame.SampleFormat(pkt[6])
	h.Planes = int(pkt[7])
	h.Channels = int(be.Uint16(pkt[8:]))
	h.SampleRate = int(be.Uint32(pkt[10:]))
	h.Seq = be.Uint32(pkt[14:])
	h.Timestamp = time.Duration(be.Uint64(pkt[18:]))
	h.Duration = time.Duration(be.Uint64(pkt[26:]))
	h.Layout = frame.ChannelLayout(be.Uint64(pkt[34:]))
	h.Samples = int(be.Uint32(pkt[42:]))
	return h, nil
}

// Description builds the frame description the header announces.
func (h Header) Description() (*frame.Description, error) {
	return frame.NewDescription(h.Format, h.SampleRate, h.Channels,
		frame.WithLayout(h.Layout), frame.WithByteOrder(h.Order))
}

// UnmarshalFrame decodes pkt into a borrowing frame whose planes alias pkt.
// pkt must stay untouched until the frame is released; pass
// frame.WithReleaseHook in opts to learn when that happens.
func UnmarshalFrame(pkt []byte, opts ...frame.Option) (*frame.Audio, Header, error) {
	h, err := ParseHeader(pkt)
	if err != nil {
		return nil, h, err
	}
	desc, err := h.Description()
	if err != nil {
		return nil, h, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if h.Planes != desc.Planes() {
		return nil, h, fmt.Errorf("%w: %d planes for %s", ErrMalformed, h.Planes, desc)
	}

	lineSizes := make([]int, h.Planes)
	data := make([][]byte, h.Planes)
	rest := pkt[HeaderSize:]
	for i := range h.Planes {
		if len(rest) < 4 {
			return nil, h, fmt.Errorf("%w: truncated plane %d", ErrMalformed, i)
		}
		n := int(binary.BigEndian.Uint32(rest))
		rest = rest[4:]
		if n > len(rest) {
			return nil, h, fmt.Errorf("%w: plane %d claims %d bytes, %d left", ErrMalformed, i, n, len(rest))
		}
		lineSizes[i] = n
		data[i] = rest[:n:n]
		rest = rest[n:]
	}

	opts = append([]frame.Option{frame.WithTiming(h.Timestamp, h.Duration)}, opts...)
	f, err := frame.NewBorrowing(desc, h.Samples, lineSizes, data, opts...)
	if err != nil {
		return nil, h, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return f, h, nil
}
