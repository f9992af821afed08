package batch

import "errors"

var (
	// ErrNoData is returned when no file of the folder could be projected.
	ErrNoData = errors.New("no data to report")

	// ErrInputFolder is returned when the input folder cannot be listed.
	ErrInputFolder = errors.New("input folder not readable")
)
