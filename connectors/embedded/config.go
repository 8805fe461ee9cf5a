package embedded

import (
	"errors"
	"fmt"
	"time"
)

// SourceConfig describes a counting source where every partition produces the
// same number of sequential elements.
type SourceConfig struct {
	// SplitCount fixes the number of partitions regardless of the requested
	// count. Zero honours the requested count.
	SplitCount int
	// ElementsPerSplit is how many elements each partition emits before it
	// completes.
	ElementsPerSplit int
	// WithoutSplitting makes the source produce a single partition.
	WithoutSplitting bool
	// WithoutCheckpointMarks makes the source declare no checkpoint mark format.
	WithoutCheckpointMarks bool
	// StartTime is the event time of each partition's first element. Following
	// elements are one millisecond apart.
	StartTime time.Time
}

func (c SourceConfig) Validate() (err error) {
	if c.SplitCount < 0 {
		err = errors.Join(err, fmt.Errorf("SplitCount must not be negative (was %d)", c.SplitCount))
	}
	if c.ElementsPerSplit < 0 {
		err = errors.Join(err, fmt.Errorf("ElementsPerSplit must not be negative (was %d)", c.ElementsPerSplit))
	}
	return err
}
