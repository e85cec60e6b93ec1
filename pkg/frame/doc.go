// SPDX-License-Identifier: MIT

/*
Package frame implements the decoded audio frame passed between the
stages of a media pipeline: a block of PCM samples split into one or more
planes, a Description of their format, a sample count and the timing
fields every frame carries.

Layout:
  - Packed formats (U8, S16, S32, F32, F64) interleave every channel in
    plane 0.
  - Planar formats (U8P ... F64P) keep channel n in plane n.
  - Each plane has a line size (stride) that is at least the packed row
    size and may carry alignment padding.

Ownership:
  - NewOwning allocates all planes from one arena obtained from an
    Allocator and returns it on the final Release.
  - NewBorrowing wraps memory owned by the caller (a decoder library, a
    network buffer) without copying; releasing it never frees that memory.

Thread Safety:
  - Frames never change after construction, so readers need no locks.
  - Retain and Release use an atomic reference count; the last Release
    runs the deallocation exactly once.
  - Stages that change audio build a new frame (Clone, FromFloat32, Slice)
    instead of writing into one they received.

Usage:

	desc, err := frame.NewDescription(frame.F32P, 44100, 2)
	if err != nil {
		return err
	}
	f, err := frame.NewOwning(desc, 1024, frame.WithTiming(pts, dur))
	if err != nil {
		return err
	}
	defer f.Release()

	for ch, plane := range f.Planes() {
		consume(ch, plane[:desc.RowSize(f.NumberOfSamples())])
	}
*/
package frame
