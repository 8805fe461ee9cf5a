package sourcemux

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultWatermarkInterval = 200 * time.Millisecond
	DefaultPollInterval      = 50 * time.Millisecond
	DefaultIdleInterval      = time.Second
)

type Options struct {
	// ShutdownOnCompletion lets an instance finish once every one of its
	// readers has completed. Without it the instance keeps running.
	ShutdownOnCompletion bool

	// WatermarkInterval is the period of the watermark timer.
	WatermarkInterval time.Duration

	// PollInterval is how long the run loop sleeps when no reader had data.
	PollInterval time.Duration

	// IdleInterval is the increment an instance without readers waits between
	// cancellation checks.
	IdleInterval time.Duration

	// DesiredSplits caps the number of partitions requested from the source.
	// Zero requests one partition per instance.
	DesiredSplits int
}

// WithDefaults returns a copy of the options with zero durations replaced by
// their defaults.
func (o Options) WithDefaults() Options {
	if o.WatermarkInterval == 0 {
		o.WatermarkInterval = DefaultWatermarkInterval
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.IdleInterval == 0 {
		o.IdleInterval = DefaultIdleInterval
	}
	return o
}

func (o Options) Validate() error {
	var errs []error
	if o.WatermarkInterval <= 0 {
		errs = append(errs, fmt.Errorf("watermark interval must be positive, got %s", o.WatermarkInterval))
	}
	if o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", o.PollInterval))
	}
	if o.IdleInterval <= 0 {
		errs = append(errs, fmt.Errorf("idle interval must be positive, got %s", o.IdleInterval))
	}
	if o.DesiredSplits < 0 {
		errs = append(errs, fmt.Errorf("desired splits can't be negative, got %d", o.DesiredSplits))
	}
	return errors.Join(errs...)
}
