package ven

import (
	"context"
	"time"
)

// Sample is one time-stamped measurement produced by a sampler.
type Sample struct {
	At    time.Time
	Value float64
}

// IncrementalSampler produces the current value(s) of a datapoint each
// time the report engine fires. Used with incremental data collection:
// the engine calls it once per granularity period.
type IncrementalSampler interface {
	Sample(ctx context.Context) ([]Sample, error)
}

// WindowedSampler produces all values for a time window at once. Used
// with full data collection: the engine calls it once per reporting
// interval with the window bounds and the requested sampling interval.
type WindowedSampler interface {
	SampleWindow(ctx context.Context, from, to time.Time, interval time.Duration) ([]Sample, error)
}

// IncrementalFunc adapts a plain function to IncrementalSampler.
type IncrementalFunc func(ctx context.Context) ([]Sample, error)

func (f IncrementalFunc) Sample(ctx context.Context) ([]Sample, error) { return f(ctx) }

// ScalarFunc adapts a current-value function to IncrementalSampler.
// The returned sample carries a zero At; the report engine stamps it
// with its clock when building the interval.
type ScalarFunc func(ctx context.Context) (float64, error)

func (f ScalarFunc) Sample(ctx context.Context) ([]Sample, error) {
	v, err := f(ctx)
	if err != nil {
		return nil, err
	}
	return []Sample{{Value: v}}, nil
}

// WindowedFunc adapts a plain function to WindowedSampler.
type WindowedFunc func(ctx context.Context, from, to time.Time, interval time.Duration) ([]Sample, error)

func (f WindowedFunc) SampleWindow(ctx context.Context, from, to time.Time, interval time.Duration) ([]Sample, error) {
	return f(ctx, from, to, interval)
}
