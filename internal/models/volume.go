package models

import "fmt"

// Array is an N-dimensional intensity array as produced by an image reader,
// before its axes are known to describe an acquisition.
type Array struct {
	// Shape lists the axis lengths, slowest varying first
	Shape []int

	// Data holds the intensities in row-major order
	Data []uint16
}

// NumElements returns the product of the shape.
func (a Array) NumElements() int {
	if len(a.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Acquisition is a time-resolved 3D stack with axes (T, Z, Y, X)
type Acquisition struct {
	// Data is stored as a 1D array in row-major order
	Data []uint16

	// T is the number of timepoints
	T int

	// Z is the number of optical slices per timepoint
	Z int

	// Height and Width are the plane dimensions (Y, X)
	Height int
	Width  int
}

// NewAcquisition wraps data with the given dimensions. It returns an error
// when the data length does not match the shape or an axis is empty.
func NewAcquisition(data []uint16, t, z, height, width int) (Acquisition, error) {
	if t < 1 || z < 1 || height < 1 || width < 1 {
		return Acquisition{}, fmt.Errorf("acquisition axes must be positive, got (%d, %d, %d, %d)", t, z, height, width)
	}
	if len(data) != t*z*height*width {
		return Acquisition{}, fmt.Errorf("acquisition data has %d elements, shape (%d, %d, %d, %d) needs %d",
			len(data), t, z, height, width, t*z*height*width)
	}
	return Acquisition{Data: data, T: t, Z: z, Height: height, Width: width}, nil
}

// Volume returns the stack at timepoint t. The returned volume shares
// memory with the acquisition.
func (a Acquisition) Volume(t int) Volume {
	size := a.Z * a.Height * a.Width
	return Volume{
		Data:   a.Data[t*size : (t+1)*size],
		Depth:  a.Z,
		Height: a.Height,
		Width:  a.Width,
	}
}

// Volume represents one timepoint of an acquisition with axes (Z, Y, X)
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	Data []uint16

	// Depth is the number of slices
	Depth int

	// Height and Width are the plane dimensions
	Height int
	Width  int
}

// PlaneSize returns the number of pixels in one slice.
func (v Volume) PlaneSize() int {
	return v.Height * v.Width
}

// Plane returns the pixels of slice z without copying.
func (v Volume) Plane(z int) []uint16 {
	size := v.PlaneSize()
	return v.Data[z*size : (z+1)*size]
}

// SubStack returns the contiguous slices [start, stop) without copying.
func (v Volume) SubStack(start, stop int) Volume {
	size := v.PlaneSize()
	return Volume{
		Data:   v.Data[start*size : stop*size],
		Depth:  stop - start,
		Height: v.Height,
		Width:  v.Width,
	}
}

// Plane is a single projected 2D image with axes (Y, X)
type Plane struct {
	Data   []uint16
	Height int
	Width  int
}

// At returns the intensity at (x, y).
func (p Plane) At(x, y int) uint16 {
	return p.Data[y*p.Width+x]
}

// Stack is the time series of projected planes with axes (T, Y, X).
// Planes are kept in time order.
type Stack struct {
	Planes []Plane
	Height int
	Width  int
}

// NewStack creates an empty stack able to hold n planes without
// reallocating.
func NewStack(height, width, n int) Stack {
	return Stack{
		Planes: make([]Plane, 0, n),
		Height: height,
		Width:  width,
	}
}

// Append adds a plane after the last timepoint.
func (s *Stack) Append(p Plane) {
	s.Planes = append(s.Planes, p)
}

// Len returns the number of timepoints in the stack.
func (s Stack) Len() int {
	return len(s.Planes)
}

// AuditEntry describes which slices were projected for one timepoint.
// Timepoint and StartZ are 1-based; StopZ is the 1-based index of the last
// projected slice.
type AuditEntry struct {
	Timepoint int
	NumProjZ  int
	ProjType  string
	StartZ    int
	StopZ     int
}

// AuditRecord holds the entries of one acquisition in time order.
type AuditRecord struct {
	// Acquisition identifies the source, usually the file name without
	// extension
	Acquisition string

	Entries []AuditEntry
}

// ARIResult is the agreement between a segmentation and its reference mask.
type ARIResult struct {
	SampleName string
	ARI        float64
}
