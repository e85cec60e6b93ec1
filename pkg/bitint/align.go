// SPDX-License-Identifier: MIT

/*
Package bitint provides the power-of-two arithmetic used for sizing
frame planes and FFT windows.

Design Principles:
- Zero Allocations: All operations use stack memory only
- Predictable Performance: O(1) constant time operations
- Real-Time Safe: No locks, syscalls, or blocking operations

Usage:

	// Pad a 4100 byte plane to a 64 byte boundary
	lineSize := bitint.AlignUp(4100, 64) // Returns 4160

	// Verify a configured alignment
	ok := bitint.IsPowerOfTwo(alignment)

----------------------------------------------------------------------

What AlignUp does:

	For a power-of-two alignment a, every multiple of a has its
	low log2(a) bits clear. Adding a-1 pushes any value that is
	not already a multiple past the next boundary, and masking with
	^(a-1) clears the low bits again:

	n = 4100, a = 64
	  4100 + 63  = 4163 (binary 1_0000_0100_0011)
	  4163 &^ 63 = 4160 (binary 1_0000_0100_0000)

	Values that are already aligned are preserved because adding
	a-1 never reaches the next boundary.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size.
// The subtraction keeps exact powers of 2 unchanged.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2.
// Powers of 2 have exactly one bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// AlignUp rounds n up to the next multiple of align. align must be a
// power of 2; values of align <= 1 return n unchanged.
//
//	Input     Output
//	0, 32     0
//	1, 32     32
//	4096, 32  4096
//	4100, 64  4160
func AlignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	mask := align - 1
	return (n + mask) &^ mask
}

// Log2 returns log2(n) for a power of 2, and -1 for anything else.
// The pool allocator uses it to index size classes.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros(uint(n))
}
