package wmark

import (
	"math"
	"time"
)

var (
	// MinTimestamp is the watermark of a reader that hasn't observed any data.
	MinTimestamp = time.UnixMicro(math.MinInt64).UTC()

	// MaxTimestamp is the watermark after which no more data will arrive. A
	// reader whose watermark reaches it has completed permanently.
	MaxTimestamp = time.UnixMicro(math.MaxInt64).UTC()
)

// IsMax reports whether t is at or past the maximum timestamp.
func IsMax(t time.Time) bool {
	return !t.Before(MaxTimestamp)
}

// A watermarker keeps track of the time after which we expect no future events.
// As events arrive it advances the watermark. Callers can request the current
// watermark.
type Watermarker struct {
	maxTimestamp    time.Time
	seen            bool
	finished        bool
	AllowedLateness time.Duration
}

// As events arrive, keep track of the latest time we've seen.
func (w *Watermarker) AdvanceTime(eventTimestamp time.Time) {
	if !w.seen || eventTimestamp.After(w.maxTimestamp) {
		w.maxTimestamp = eventTimestamp
		w.seen = true
	}
}

// Finish moves the watermark to MaxTimestamp for good.
func (w *Watermarker) Finish() {
	w.finished = true
}

func (w *Watermarker) CurrentWatermark() time.Time {
	if w.finished {
		return MaxTimestamp
	}
	if !w.seen {
		return MinTimestamp
	}
	return w.maxTimestamp.Add(-(w.AllowedLateness + time.Nanosecond))
}
