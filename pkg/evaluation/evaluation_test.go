package evaluation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/tiffstack"
)

func writeMask(t *testing.T, path string, height, width int, labels []uint16) {
	t.Helper()
	s := models.NewStack(height, width, 1)
	s.Append(models.Plane{Data: labels, Height: height, Width: width})
	require.NoError(t, tiffstack.Write(path, s))
}

func TestAdjustedRandIndex(t *testing.T) {
	testCases := []struct {
		name     string
		a, b     []uint16
		expected float64
	}{
		{"identical", []uint16{0, 0, 1, 1}, []uint16{0, 0, 1, 1}, 1},
		{"relabelled", []uint16{0, 0, 1, 1}, []uint16{5, 5, 2, 2}, 1},
		{"split cluster", []uint16{0, 0, 1, 1}, []uint16{0, 0, 1, 2}, 4.0 / 7.0},
		{"crossed", []uint16{0, 0, 1, 1}, []uint16{0, 1, 0, 1}, -0.5},
		{"single cluster both", []uint16{3, 3, 3}, []uint16{7, 7, 7}, 1},
		{"all singletons both", []uint16{0, 1, 2}, []uint16{2, 0, 1}, 1},
		{"single against singletons", []uint16{0, 0, 0, 0}, []uint16{0, 1, 2, 3}, 0},
		{"empty", nil, nil, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AdjustedRandIndex(tc.a, tc.b)
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, got, 1e-12)
		})
	}
}

func TestAdjustedRandIndexSymmetric(t *testing.T) {
	a := []uint16{0, 0, 0, 1, 1, 2, 2, 2, 2}
	b := []uint16{1, 1, 0, 0, 0, 2, 2, 3, 3}

	ab, err := AdjustedRandIndex(a, b)
	require.NoError(t, err)
	ba, err := AdjustedRandIndex(b, a)
	require.NoError(t, err)
	assert.InDelta(t, ab, ba, 1e-12)
}

func TestAdjustedRandIndexLengthMismatch(t *testing.T) {
	_, err := AdjustedRandIndex([]uint16{1, 2}, []uint16{1})
	assert.True(t, errors.Is(err, ErrLengthMismatch))
}

func TestSampleID(t *testing.T) {
	id, ok := SampleID("P1_A01_curated.tif")
	assert.True(t, ok)
	assert.Equal(t, "P1_A01", id)

	id, ok = SampleID("P1_A01.tif")
	assert.True(t, ok)
	assert.Equal(t, "P1_A01.tif", id)

	_, ok = SampleID("lonely.tif")
	assert.False(t, ok)
}

func TestListMasks(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_2.tif", "a_1.tif", "notes.txt", "c_3.TIF"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d_4.tif"), 0755))

	names, err := ListMasks(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_1.tif", "b_2.tif"}, names)

	_, err = ListMasks(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFindSegmentation(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"P1_A01_modelB_z.tif", "P1_A01_modelB_a.tif", "P1_A02_modelB.tif"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	path, ok := FindSegmentation("P1_A01_ref.tif", dir)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "P1_A01_modelB_a.tif"), path)

	_, ok = FindSegmentation("P2_A01_ref.tif", dir)
	assert.False(t, ok)

	_, ok = FindSegmentation("single.tif", dir)
	assert.False(t, ok)
}

func TestCollectAndEvaluate(t *testing.T) {
	refDir := t.TempDir()
	segDir := t.TempDir()

	// exact match
	writeMask(t, filepath.Join(refDir, "P1_A01_ref.tif"), 2, 2, []uint16{0, 0, 1, 1})
	writeMask(t, filepath.Join(segDir, "P1_A01_seg.tif"), 2, 2, []uint16{0, 0, 9, 9})
	// split cluster
	writeMask(t, filepath.Join(refDir, "P1_A02_ref.tif"), 2, 2, []uint16{0, 0, 1, 1})
	writeMask(t, filepath.Join(segDir, "P1_A02_seg.tif"), 2, 2, []uint16{0, 0, 1, 2})
	// shape mismatch
	writeMask(t, filepath.Join(refDir, "P1_A03_ref.tif"), 2, 2, []uint16{0, 0, 1, 1})
	writeMask(t, filepath.Join(segDir, "P1_A03_seg.tif"), 1, 4, []uint16{0, 0, 1, 1})
	// missing segmentation
	writeMask(t, filepath.Join(refDir, "P1_A04_ref.tif"), 2, 2, []uint16{0, 0, 1, 1})
	// unreadable segmentation
	writeMask(t, filepath.Join(refDir, "P1_A05_ref.tif"), 2, 2, []uint16{0, 0, 1, 1})
	require.NoError(t, os.WriteFile(filepath.Join(segDir, "P1_A05_seg.tif"), []byte("garbage"), 0644))

	ctx := context.Background()
	pairs, err := CollectPairs(ctx, refDir, segDir)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "P1_A01", pairs[0].SampleName)
	assert.Equal(t, "P1_A02", pairs[1].SampleName)

	results, err := Evaluate(ctx, pairs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "P1_A01", results[0].SampleName)
	assert.InDelta(t, 1.0, results[0].ARI, 1e-12)
	assert.InDelta(t, 4.0/7.0, results[1].ARI, 1e-12)
}

func TestCollectPairsWithoutMatches(t *testing.T) {
	refDir := t.TempDir()
	segDir := t.TempDir()
	writeMask(t, filepath.Join(refDir, "P1_A01_ref.tif"), 2, 2, []uint16{0, 0, 1, 1})

	_, err := CollectPairs(context.Background(), refDir, segDir)
	assert.True(t, errors.Is(err, ErrNoPairs))

	_, err = CollectPairs(context.Background(), t.TempDir(), segDir)
	assert.True(t, errors.Is(err, ErrNoPairs))

	_, err = CollectPairs(context.Background(), filepath.Join(refDir, "missing"), segDir)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoPairs))
}

func TestEvaluateSkipsBrokenPairs(t *testing.T) {
	pairs := []Pair{
		{SampleName: "bad", Reference: models.Array{Data: []uint16{1, 2}}, Segmentation: models.Array{Data: []uint16{1}}},
		{SampleName: "good", Reference: models.Array{Data: []uint16{1, 2}}, Segmentation: models.Array{Data: []uint16{3, 4}}},
	}

	results, err := Evaluate(context.Background(), pairs)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].SampleName)
}

func TestEvaluateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Evaluate(ctx, []Pair{{SampleName: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
}
