// Package projection selects a window of slices around the focus plane and
// reduces it to a single 2D image.
package projection

import (
	"fmt"
	"strings"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
)

// Rule names a reduction applied along the Z axis.
type Rule string

const (
	// RuleMax keeps the brightest value of every pixel
	RuleMax Rule = "max"

	// RuleMean averages every pixel, discarding the fractional part
	RuleMean Rule = "mean"
)

// String returns the rule name as used in output file names and reports.
func (r Rule) String() string {
	return string(r)
}

// ParseRule validates a rule name read from configuration.
func ParseRule(name string) (Rule, error) {
	switch r := Rule(strings.ToLower(strings.TrimSpace(name))); r {
	case RuleMax, RuleMean:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOperation, name)
	}
}

// Project reduces all slices of sub into one plane using rule.
// The sub-stack must contain at least one slice.
func Project(sub models.Volume, rule Rule) (models.Plane, error) {
	plane := models.Plane{
		Data:   make([]uint16, sub.PlaneSize()),
		Height: sub.Height,
		Width:  sub.Width,
	}

	switch rule {
	case RuleMax:
		copy(plane.Data, sub.Plane(0))
		for z := 1; z < sub.Depth; z++ {
			for i, px := range sub.Plane(z) {
				if px > plane.Data[i] {
					plane.Data[i] = px
				}
			}
		}

	case RuleMean:
		sums := make([]uint64, len(plane.Data))
		for z := 0; z < sub.Depth; z++ {
			for i, px := range sub.Plane(z) {
				sums[i] += uint64(px)
			}
		}
		n := uint64(sub.Depth)
		for i, s := range sums {
			plane.Data[i] = uint16(s / n)
		}

	default:
		return models.Plane{}, fmt.Errorf("%w: %q", ErrUnsupportedOperation, string(rule))
	}

	return plane, nil
}
