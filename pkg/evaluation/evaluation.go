// Package evaluation scores segmentation masks against curated reference
// masks with the Adjusted Rand Index.
//
// Masks are paired by sample id, the first two underscore-separated parts
// of the reference file name. Pairs that cannot be compared are reported
// and left out instead of failing the whole evaluation.
package evaluation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/logger"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/tiffstack"
)

// maskExtension is the suffix of mask files, compared case-sensitively
const maskExtension = ".tif"

// Result is the score of one sample.
type Result = models.ARIResult

// Pair holds a reference mask and the segmentation it is compared with.
type Pair struct {
	SampleName   string
	Reference    models.Array
	Segmentation models.Array
}

// ListMasks returns the sorted names of the mask files in dir.
func ListMasks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mask directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), maskExtension) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// SampleID returns the first two underscore-separated parts of name joined
// by an underscore. ok is false when name has fewer than two parts.
func SampleID(name string) (id string, ok bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return "", false
	}
	return parts[0] + "_" + parts[1], true
}

// FindSegmentation returns the path of the first mask in segDir, in name
// order, whose name starts with the sample id of refName.
func FindSegmentation(refName, segDir string) (string, bool) {
	prefix, ok := SampleID(refName)
	if !ok {
		return "", false
	}

	names, err := ListMasks(segDir)
	if err != nil {
		return "", false
	}
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			return filepath.Join(segDir, name), true
		}
	}
	return "", false
}

// CollectPairs loads every reference mask in refDir together with its
// segmentation in segDir. References without a readable segmentation of
// the same shape are skipped with a warning.
func CollectPairs(ctx context.Context, refDir, segDir string) ([]Pair, error) {
	log := logger.Named("evaluation")

	refNames, err := ListMasks(refDir)
	if err != nil {
		return nil, err
	}
	if len(refNames) == 0 {
		return nil, fmt.Errorf("%w: no %s files in reference directory %s", ErrNoPairs, maskExtension, refDir)
	}
	if _, err := os.Stat(segDir); err != nil {
		return nil, fmt.Errorf("failed to read mask directory: %w", err)
	}

	var pairs []Pair
	for _, refName := range refNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sampleID, _ := SampleID(refName)
		segPath, ok := FindSegmentation(refName, segDir)
		if !ok {
			log.Warn(ctx, "No matching segmentation file", logger.String("reference", refName))
			continue
		}

		ref, err := tiffstack.Read(filepath.Join(refDir, refName))
		if err != nil {
			log.Error(ctx, "Could not load reference mask", logger.String("sample", sampleID), logger.Error(err))
			continue
		}
		seg, err := tiffstack.Read(segPath)
		if err != nil {
			log.Error(ctx, "Could not load segmentation mask", logger.String("sample", sampleID), logger.Error(err))
			continue
		}
		if !slices.Equal(ref.Shape, seg.Shape) {
			log.Error(ctx, "Shape mismatch",
				logger.String("sample", sampleID),
				logger.Any("reference_shape", ref.Shape),
				logger.Any("segmentation_shape", seg.Shape))
			continue
		}

		log.Info(ctx, "Found matching pair", logger.String("sample", sampleID))
		pairs = append(pairs, Pair{SampleName: sampleID, Reference: ref, Segmentation: seg})
	}

	if len(pairs) == 0 {
		return nil, ErrNoPairs
	}
	log.Info(ctx, "Collected mask pairs", logger.Int("pairs", len(pairs)))
	return pairs, nil
}

// Evaluate scores every pair in order. Pairs that cannot be scored are
// logged and left out.
func Evaluate(ctx context.Context, pairs []Pair) ([]Result, error) {
	log := logger.Named("evaluation")

	results := make([]Result, 0, len(pairs))
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		score, err := AdjustedRandIndex(p.Reference.Data, p.Segmentation.Data)
		if err != nil {
			log.Error(ctx, "Failed to compute ARI", logger.String("sample", p.SampleName), logger.Error(err))
			continue
		}
		log.Info(ctx, "Computed ARI", logger.String("sample", p.SampleName), logger.Float64("ari", score))
		results = append(results, Result{SampleName: p.SampleName, ARI: score})
	}
	return results, nil
}
