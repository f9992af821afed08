// Package pipeline projects every timepoint of an acquisition around its
// best-focused slice.
//
// For each timepoint the aggregator:
//  1. scores every slice and picks the sharpest one
//  2. selects a window of slices around it, clamped to the stack
//  3. reduces the window to one plane
//  4. records which slices were used
//
// Timepoints do not depend on each other, so they can optionally be
// processed by several workers. Output is always assembled in time order.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/focus"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/projection"
)

// Observer is notified once per projected timepoint.
type Observer interface {
	ObserveTimepoint(best int, r projection.Range, elapsed time.Duration)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWorkers sets how many timepoints are processed concurrently.
// Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n >= 1 {
			a.workers = n
		}
	}
}

// WithObserver registers an observer for projected timepoints.
func WithObserver(o Observer) Option {
	return func(a *Aggregator) {
		a.observer = o
	}
}

// Aggregator drives focus detection, range selection and projection over
// the time axis of an acquisition.
type Aggregator struct {
	// workers is the number of timepoints processed at once; 1 means
	// strictly sequential
	workers int

	observer Observer
}

// NewAggregator creates an aggregator. Without options it processes
// timepoints sequentially.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{workers: 1}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// timepointResult is what projecting one timepoint yields
type timepointResult struct {
	plane models.Plane
	entry models.AuditEntry
}

// ProcessArray checks that arr has exactly the axes (T, Z, Y, X) and
// projects it.
func (a *Aggregator) ProcessArray(ctx context.Context, arr models.Array, halfWidth int, rule projection.Rule) (models.Stack, []models.AuditEntry, error) {
	if len(arr.Shape) != 4 {
		return models.Stack{}, nil, fmt.Errorf("%w: got %d axes %v, need (T, Z, Y, X)", ErrInputShape, len(arr.Shape), arr.Shape)
	}
	acq, err := models.NewAcquisition(arr.Data, arr.Shape[0], arr.Shape[1], arr.Shape[2], arr.Shape[3])
	if err != nil {
		return models.Stack{}, nil, fmt.Errorf("%w: %v", ErrInputShape, err)
	}
	return a.Process(ctx, acq, halfWidth, rule)
}

// Process projects every timepoint of acq with a window of 2*halfWidth+1
// slices around its focus plane.
//
// It returns one plane per timepoint and one audit entry per timepoint, both
// in time order. On error nothing is returned; the caller's earlier results
// are left as they were.
func (a *Aggregator) Process(ctx context.Context, acq models.Acquisition, halfWidth int, rule projection.Rule) (models.Stack, []models.AuditEntry, error) {
	if halfWidth < 0 {
		return models.Stack{}, nil, fmt.Errorf("%w: negative half-width %d", ErrInvalidParams, halfWidth)
	}
	if acq.T < 1 || acq.Z < 1 || acq.Height < 1 || acq.Width < 1 {
		return models.Stack{}, nil, fmt.Errorf("%w: empty axis in (%d, %d, %d, %d)", ErrInputShape, acq.T, acq.Z, acq.Height, acq.Width)
	}

	var (
		results []timepointResult
		err     error
	)
	if a.workers > 1 && acq.T > 1 {
		results, err = a.processParallel(ctx, acq, halfWidth, rule)
	} else {
		results, err = a.processSequential(ctx, acq, halfWidth, rule)
	}
	if err != nil {
		return models.Stack{}, nil, err
	}

	stack := models.NewStack(acq.Height, acq.Width, acq.T)
	entries := make([]models.AuditEntry, 0, acq.T)
	for _, res := range results {
		stack.Append(res.plane)
		entries = append(entries, res.entry)
	}

	return stack, entries, nil
}

// processSequential handles timepoints one after another
func (a *Aggregator) processSequential(ctx context.Context, acq models.Acquisition, halfWidth int, rule projection.Rule) ([]timepointResult, error) {
	results := make([]timepointResult, 0, acq.T)
	for t := 0; t < acq.T; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := a.processTimepoint(acq, t, halfWidth, rule)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// processParallel fans timepoints out to a bounded set of goroutines. Each
// worker writes only its own slot, so results stay in time order.
func (a *Aggregator) processParallel(ctx context.Context, acq models.Acquisition, halfWidth int, rule projection.Rule) ([]timepointResult, error) {
	results := make([]timepointResult, acq.T)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for t := 0; t < acq.T; t++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := a.processTimepoint(acq, t, halfWidth, rule)
			if err != nil {
				return err
			}
			results[t] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// processTimepoint runs focus detection, range selection and projection for
// timepoint t
func (a *Aggregator) processTimepoint(acq models.Acquisition, t, halfWidth int, rule projection.Rule) (timepointResult, error) {
	begin := time.Now()
	vol := acq.Volume(t)

	_, best := focus.ScoreAndSelect(vol)
	r := projection.SelectRange(best, vol.Depth, halfWidth)

	plane, err := projection.Project(vol.SubStack(r.Start, r.Stop), rule)
	if err != nil {
		return timepointResult{}, fmt.Errorf("timepoint %d: %w", t+1, err)
	}

	if a.observer != nil {
		a.observer.ObserveTimepoint(best, r, time.Since(begin))
	}

	// Stop is exclusive and 0-based, which is already the 1-based index of
	// the last projected slice.
	entry := models.AuditEntry{
		Timepoint: t + 1,
		NumProjZ:  r.WindowSize,
		ProjType:  rule.String(),
		StartZ:    r.Start + 1,
		StopZ:     r.Stop,
	}

	return timepointResult{plane: plane, entry: entry}, nil
}
