// Package focus estimates which optical slice of a volume is best in focus.
//
// In-focus slices show more local contrast than blurred ones, which widens
// the spread of their intensities. The intensity standard deviation of each
// slice is therefore used as its focus score.
package focus

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
)

// Scores returns the population standard deviation of every slice of the
// volume, index aligned with its Z axis.
func Scores(v models.Volume) []float64 {
	scores := make([]float64, v.Depth)
	buf := make([]float64, v.PlaneSize())

	for z := 0; z < v.Depth; z++ {
		for i, px := range v.Plane(z) {
			buf[i] = float64(px)
		}
		_, scores[z] = stat.PopMeanStdDev(buf, nil)
	}

	return scores
}

// ScoreAndSelect computes the focus scores of the volume and the index of
// the best-focused slice. Ties go to the lowest index.
//
// The volume must have at least one slice of at least one pixel.
func ScoreAndSelect(v models.Volume) ([]float64, int) {
	scores := Scores(v)
	return scores, floats.MaxIdx(scores)
}
