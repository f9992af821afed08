package pipeline

import "errors"

// Sentinel errors returned by the aggregator. Match them with errors.Is.
var (
	// ErrInputShape means the input cannot be split into (T, Z, Y, X)
	ErrInputShape = errors.New("insufficient dimensions")

	// ErrInvalidParams means the projection parameters are unusable
	ErrInvalidParams = errors.New("invalid projection parameters")
)
