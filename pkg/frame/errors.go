// SPDX-License-Identifier: MIT
package frame

import "errors"

// Construction errors. Every error returned by this package wraps exactly
// one of them, so callers can branch with errors.Is and still log the
// offending values.
var (
	// ErrInvalidFormat reports a nil or nonsensical Description.
	ErrInvalidFormat = errors.New("frame: invalid format")

	// ErrInvalidArgument reports plane arrays or geometry that do not
	// match the Description.
	ErrInvalidArgument = errors.New("frame: invalid argument")

	// ErrAllocation reports that plane memory could not be obtained.
	ErrAllocation = errors.New("frame: allocation failed")
)
