package embedded

import (
	"fmt"
	"strconv"
	"time"

	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/workers/wmark"
)

// SourceReader counts through one split.
type SourceReader struct {
	source  *Source
	split   Split
	current int // Index of the current element, -1 before the first
	closed  bool
}

func (r *SourceReader) Start() (bool, error) {
	return r.Advance()
}

func (r *SourceReader) Advance() (bool, error) {
	if r.closed {
		return false, fmt.Errorf("embedded reader for split %d is closed", r.split.Index)
	}
	if r.source.halted.Load() || r.current+1 >= r.source.config.ElementsPerSplit {
		return false, nil
	}
	r.current++
	return true, nil
}

func (r *SourceReader) Current() []byte {
	return []byte(strconv.Itoa(r.split.Index + r.split.Count*r.current))
}

func (r *SourceReader) CurrentTimestamp() time.Time {
	return r.timestampOf(r.current)
}

func (r *SourceReader) CurrentRecordID() []byte {
	return fmt.Appendf(nil, "%d/%d", r.split.Index, r.current)
}

// Watermark is the timestamp of the current element until the last element
// has been emitted, then the max timestamp.
func (r *SourceReader) Watermark() time.Time {
	last := r.source.config.ElementsPerSplit - 1
	if r.current >= last {
		return wmark.MaxTimestamp
	}
	if r.current < 0 {
		return wmark.MinTimestamp
	}
	return r.timestampOf(r.current)
}

func (r *SourceReader) CheckpointMark() connectors.CheckpointMark {
	return &CounterMark{Split: r.split.Index, Last: r.current, source: r.source}
}

func (r *SourceReader) Close() error {
	r.closed = true
	return nil
}

func (r *SourceReader) timestampOf(index int) time.Time {
	return r.source.config.StartTime.Add(time.Duration(index) * time.Millisecond)
}

var _ connectors.UnboundedReader = (*SourceReader)(nil)
