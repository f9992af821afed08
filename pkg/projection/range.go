package projection

import "fmt"

// Range is a contiguous window of slices [Start, Stop) selected around the
// best-focused slice. WindowSize is the requested number of slices, which
// can exceed Stop-Start when the stack is shallower than the window.
type Range struct {
	Start      int
	Stop       int
	WindowSize int
}

// Len returns the number of slices actually covered by the range.
func (r Range) Len() int {
	return r.Stop - r.Start
}

// SelectRange centres a window of 2*halfWidth+1 slices on best. A window
// that runs past either end of the stack is clamped to that end and slides
// inward instead of being re-centred. When the window is deeper than the
// stack the underflow case wins and the whole stack is used.
//
// SelectRange panics if halfWidth is negative or best is outside
// [0, totalDepth).
func SelectRange(best, totalDepth, halfWidth int) Range {
	if halfWidth < 0 {
		panic(fmt.Sprintf("projection: negative half-width %d", halfWidth))
	}
	if best < 0 || best >= totalDepth {
		panic(fmt.Sprintf("projection: best index %d outside depth %d", best, totalDepth))
	}

	window := 2*halfWidth + 1
	start := best - halfWidth
	stop := best + halfWidth + 1

	if start < 0 {
		start = 0
		stop = min(window, totalDepth)
	} else if stop > totalDepth {
		start = max(0, totalDepth-window)
		stop = totalDepth
	}

	return Range{Start: start, Stop: stop, WindowSize: window}
}
