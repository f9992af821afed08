package evaluation

import "errors"

var (
	// ErrNoPairs is returned when no reference mask has a usable
	// segmentation counterpart.
	ErrNoPairs = errors.New("no valid matching mask pairs were found")

	// ErrLengthMismatch is returned when two labelings differ in size.
	ErrLengthMismatch = errors.New("labelings have different lengths")
)
