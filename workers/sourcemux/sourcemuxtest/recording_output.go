package sourcemuxtest

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"reduction.dev/sourcemux/workers/sourcemux"
	"reduction.dev/sourcemux/workers/wmark"
)

// RecordingOutput keeps everything a multiplexer emits.
type RecordingOutput struct {
	mu         sync.Mutex
	records    []sourcemux.Record
	watermarks []time.Time
}

func (o *RecordingOutput) EmitRecord(record sourcemux.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record)
	return nil
}

func (o *RecordingOutput) EmitWatermark(wm time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.watermarks = append(o.watermarks, wm)
}

func (o *RecordingOutput) Records() []sourcemux.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.records)
}

func (o *RecordingOutput) RecordCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.records)
}

func (o *RecordingOutput) Watermarks() []time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.watermarks)
}

// MaxWatermarkCount returns how many times the maximum watermark was emitted.
func (o *RecordingOutput) MaxWatermarkCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, wm := range o.watermarks {
		if wmark.IsMax(wm) {
			count++
		}
	}
	return count
}

var _ sourcemux.Output = (*RecordingOutput)(nil)

// IntValues parses record values written as decimal integers, such as the
// ones produced by the embedded source, and returns them sorted.
func IntValues(records []sourcemux.Record) []int {
	values := make([]int, len(records))
	for i, r := range records {
		v, err := strconv.Atoi(string(r.Value))
		if err != nil {
			panic(err)
		}
		values[i] = v
	}
	slices.Sort(values)
	return values
}
