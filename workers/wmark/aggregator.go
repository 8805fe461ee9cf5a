package wmark

import (
	"iter"
	"time"
)

// Combine returns the minimum of the watermarks. An empty sequence has no
// constraint so its watermark is MaxTimestamp.
func Combine(watermarks iter.Seq[time.Time]) time.Time {
	combined := MaxTimestamp
	for wm := range watermarks {
		if wm.Before(combined) {
			combined = wm
		}
	}
	return combined
}

// Aggregator holds the output watermark of one source instance and only lets
// it move forward.
type Aggregator struct {
	emitted time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{emitted: MinTimestamp}
}

// Advance records wm as the new output watermark and reports whether it should
// be emitted. Values not strictly after the last emitted watermark are
// suppressed.
func (a *Aggregator) Advance(wm time.Time) bool {
	if !wm.After(a.emitted) {
		return false
	}
	a.emitted = wm
	return true
}

// Current returns the last emitted watermark.
func (a *Aggregator) Current() time.Time {
	return a.emitted
}
