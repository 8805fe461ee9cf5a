package sourcemux

import (
	"fmt"
	"time"

	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/workers/wmark"
)

// Record is one value read from a partition along with the identity readers
// use to recognize it when it is replayed after a restore.
type Record struct {
	Value     []byte
	RecordID  []byte
	Timestamp time.Time
}

// Output receives everything an instance emits. The multiplexer only calls it
// while holding the host's lock.
type Output interface {
	EmitRecord(record Record) error
	EmitWatermark(wm time.Time)
}

// LocalReader owns the reader of one partition on this instance.
type LocalReader struct {
	partition connectors.Partition
	reader    connectors.UnboundedReader
	watermark time.Time
	started   bool
	finished  bool
}

// NewLocalReader wraps reader. A positioned reader was created from a
// checkpoint mark and is advanced without being started.
func NewLocalReader(partition connectors.Partition, reader connectors.UnboundedReader, positioned bool) *LocalReader {
	return &LocalReader{
		partition: partition,
		reader:    reader,
		watermark: wmark.MinTimestamp,
		started:   positioned,
	}
}

// Start moves the reader to its first record and reports whether one is ready.
func (r *LocalReader) Start() (bool, error) {
	r.started = true
	ok, err := r.reader.Start()
	r.refresh()
	return ok, err
}

// Advance moves to the next record, starting the reader first if needed.
func (r *LocalReader) Advance() (bool, error) {
	if !r.started {
		return r.Start()
	}
	ok, err := r.reader.Advance()
	r.refresh()
	return ok, err
}

func (r *LocalReader) Current() Record {
	return Record{
		Value:     r.reader.Current(),
		RecordID:  r.reader.CurrentRecordID(),
		Timestamp: r.reader.CurrentTimestamp(),
	}
}

// Watermark returns the highest watermark the reader has reported.
func (r *LocalReader) Watermark() time.Time {
	r.refresh()
	return r.watermark
}

// refresh pulls the reader's watermark, keeping it from going backwards.
func (r *LocalReader) refresh() {
	if wm := r.reader.Watermark(); wm.After(r.watermark) {
		r.watermark = wm
	}
	if wmark.IsMax(r.watermark) {
		r.finished = true
	}
}

func (r *LocalReader) CheckpointMark() connectors.CheckpointMark {
	return r.reader.CheckpointMark()
}

func (r *LocalReader) Partition() connectors.Partition {
	return r.partition
}

// Started reports whether the reader was started or positioned from a mark.
func (r *LocalReader) Started() bool {
	return r.started
}

// Finished reports whether the reader's watermark reached the maximum
// timestamp, which means the partition has no more data.
func (r *LocalReader) Finished() bool {
	return r.finished
}

func (r *LocalReader) Close() error {
	if err := r.reader.Close(); err != nil {
		return fmt.Errorf("closing reader for partition %s: %w", r.partition.PartitionID(), err)
	}
	return nil
}
