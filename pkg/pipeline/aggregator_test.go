package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/projection"
)

// twoTimepoints builds a (T=2, Z=3, Y=2, X=2) acquisition. Timepoint 1 is
// sharpest at z=1, timepoint 2 at z=2.
func twoTimepoints(t *testing.T) models.Acquisition {
	data := []uint16{
		// t=0
		10, 12, 11, 13,
		0, 200, 200, 0,
		50, 60, 55, 65,
		// t=1
		7, 7, 7, 7,
		20, 30, 25, 35,
		0, 900, 0, 900,
	}
	acq, err := models.NewAcquisition(data, 2, 3, 2, 2)
	require.NoError(t, err)
	return acq
}

func TestProcessEndToEnd(t *testing.T) {
	agg := NewAggregator()

	stack, entries, err := agg.Process(context.Background(), twoTimepoints(t), 1, projection.RuleMax)
	require.NoError(t, err)

	require.Equal(t, 2, stack.Len())
	assert.Equal(t, []uint16{50, 200, 200, 65}, stack.Planes[0].Data)
	assert.Equal(t, []uint16{20, 900, 25, 900}, stack.Planes[1].Data)

	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditEntry{Timepoint: 1, NumProjZ: 3, ProjType: "max", StartZ: 1, StopZ: 3}, entries[0])
	assert.Equal(t, models.AuditEntry{Timepoint: 2, NumProjZ: 3, ProjType: "max", StartZ: 1, StopZ: 3}, entries[1])
}

func TestProcessReportsRequestedWindowSize(t *testing.T) {
	agg := NewAggregator()

	_, entries, err := agg.Process(context.Background(), twoTimepoints(t), 3, projection.RuleMean)
	require.NoError(t, err)

	for _, e := range entries {
		assert.Equal(t, 7, e.NumProjZ)
		assert.Equal(t, 1, e.StartZ)
		assert.Equal(t, 3, e.StopZ)
		assert.Equal(t, "mean", e.ProjType)
	}
}

func TestProcessStartStopAsymmetry(t *testing.T) {
	// Ten slices, sharpest at z=6: window [5, 8) is reported as 6..8
	const depth = 10
	data := make([]uint16, depth*4)
	for z := 0; z < depth; z++ {
		copy(data[z*4:], []uint16{5, 5, 5, 5})
	}
	copy(data[6*4:], []uint16{0, 100, 0, 100})
	acq, err := models.NewAcquisition(data, 1, depth, 2, 2)
	require.NoError(t, err)

	_, entries, err := NewAggregator().Process(context.Background(), acq, 1, projection.RuleMax)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 6, entries[0].StartZ)
	assert.Equal(t, 8, entries[0].StopZ)
	assert.Equal(t, entries[0].NumProjZ, entries[0].StopZ-entries[0].StartZ+1)
}

func TestProcessUnsupportedRule(t *testing.T) {
	agg := NewAggregator()
	acq := twoTimepoints(t)

	previous, previousEntries, err := agg.Process(context.Background(), acq, 1, projection.RuleMax)
	require.NoError(t, err)

	stack, entries, err := agg.Process(context.Background(), acq, 1, projection.Rule("median"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, projection.ErrUnsupportedOperation))
	assert.Equal(t, 0, stack.Len())
	assert.Nil(t, entries)

	// earlier output is untouched
	assert.Equal(t, 2, previous.Len())
	assert.Len(t, previousEntries, 2)
	assert.Equal(t, []uint16{50, 200, 200, 65}, previous.Planes[0].Data)
}

func TestProcessRejectsNegativeHalfWidth(t *testing.T) {
	_, _, err := NewAggregator().Process(context.Background(), twoTimepoints(t), -1, projection.RuleMax)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestProcessArrayShapes(t *testing.T) {
	agg := NewAggregator()
	ctx := context.Background()

	_, _, err := agg.ProcessArray(ctx, models.Array{Shape: []int{3, 2, 2}, Data: make([]uint16, 12)}, 1, projection.RuleMax)
	assert.ErrorIs(t, err, ErrInputShape)

	_, _, err = agg.ProcessArray(ctx, models.Array{Shape: []int{1, 2, 3, 2, 2}, Data: make([]uint16, 24)}, 1, projection.RuleMax)
	assert.ErrorIs(t, err, ErrInputShape)

	_, _, err = agg.ProcessArray(ctx, models.Array{Shape: []int{2, 3, 2, 2}, Data: make([]uint16, 10)}, 1, projection.RuleMax)
	assert.ErrorIs(t, err, ErrInputShape)

	acq := twoTimepoints(t)
	stack, entries, err := agg.ProcessArray(ctx, models.Array{Shape: []int{2, 3, 2, 2}, Data: acq.Data}, 1, projection.RuleMax)
	require.NoError(t, err)
	assert.Equal(t, 2, stack.Len())
	assert.Len(t, entries, 2)
}

func TestProcessHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewAggregator().Process(ctx, twoTimepoints(t), 1, projection.RuleMax)
	assert.ErrorIs(t, err, context.Canceled)
}

// randomAcquisition generates noise with one sharp slice per timepoint
func randomAcquisition(t *testing.T, rng *rand.Rand, tp, depth, height, width int) models.Acquisition {
	data := make([]uint16, tp*depth*height*width)
	for i := range data {
		data[i] = uint16(100 + rng.Intn(10))
	}
	size := height * width
	for ti := 0; ti < tp; ti++ {
		z := rng.Intn(depth)
		base := (ti*depth + z) * size
		for i := 0; i < size; i++ {
			if i%2 == 0 {
				data[base+i] = uint16(rng.Intn(60000))
			}
		}
	}
	acq, err := models.NewAcquisition(data, tp, depth, height, width)
	require.NoError(t, err)
	return acq
}

func TestParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	acq := randomAcquisition(t, rng, 17, 9, 8, 8)
	ctx := context.Background()

	for _, rule := range []projection.Rule{projection.RuleMax, projection.RuleMean} {
		seqStack, seqEntries, err := NewAggregator().Process(ctx, acq, 2, rule)
		require.NoError(t, err)

		parStack, parEntries, err := NewAggregator(WithWorkers(4)).Process(ctx, acq, 2, rule)
		require.NoError(t, err)

		assert.Equal(t, seqStack, parStack)
		assert.Equal(t, seqEntries, parEntries)
		for i, e := range parEntries {
			assert.Equal(t, i+1, e.Timepoint)
		}
	}
}

// recordingObserver collects observed focus indices
type recordingObserver struct {
	mu    sync.Mutex
	bests []int
}

func (o *recordingObserver) ObserveTimepoint(best int, _ projection.Range, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bests = append(o.bests, best)
}

func TestObserverSeesEveryTimepoint(t *testing.T) {
	obs := &recordingObserver{}
	agg := NewAggregator(WithObserver(obs), WithWorkers(2))

	_, _, err := agg.Process(context.Background(), twoTimepoints(t), 1, projection.RuleMax)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, obs.bests)
}

func TestWithWorkersIgnoresInvalidValues(t *testing.T) {
	assert.Equal(t, 1, NewAggregator(WithWorkers(0)).workers)
	assert.Equal(t, 3, NewAggregator(WithWorkers(3)).workers)
}
