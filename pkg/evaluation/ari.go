package evaluation

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// AdjustedRandIndex measures the agreement of two labelings of the same
// pixels, corrected for chance. It is 1 for identical partitions, whatever
// the label values, and close to 0 for independent ones.
//
// The score is computed from the pair confusion matrix of the contingency
// table, so it also covers the degenerate cases of a single cluster or all
// singletons without a division by zero.
func AdjustedRandIndex(a, b []uint16) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d and %d", ErrLengthMismatch, len(a), len(b))
	}
	n := len(a)
	if n == 0 {
		return 1, nil
	}

	contingency := make(map[uint32]int64)
	rows := make(map[uint16]int64)
	cols := make(map[uint16]int64)
	for i := range a {
		contingency[uint32(a[i])<<16|uint32(b[i])]++
		rows[a[i]]++
		cols[b[i]]++
	}

	cells := make([]float64, 0, len(contingency))
	for _, c := range contingency {
		cells = append(cells, float64(c))
	}
	rowSums := marginals(rows)
	colSums := marginals(cols)

	total := float64(n)
	sumSquares := floats.Dot(cells, cells)
	sumRows := floats.Dot(rowSums, rowSums)
	sumCols := floats.Dot(colSums, colSums)

	tp := sumSquares - total
	fp := sumCols - sumSquares
	fn := sumRows - sumSquares
	tn := total*total - fp - fn - sumSquares

	if fn == 0 && fp == 0 {
		return 1, nil
	}
	return 2 * (tp*tn - fn*fp) / ((tp+fn)*(fn+tn) + (tp+fp)*(fp+tn)), nil
}

func marginals(counts map[uint16]int64) []float64 {
	out := make([]float64, 0, len(counts))
	for _, c := range counts {
		out = append(out, float64(c))
	}
	return out
}
