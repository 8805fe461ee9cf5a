package connectors

import (
	"time"
)

// A Partition is one disjoint, independently resumable slice of an unbounded
// source. Partitions are immutable once created.
type Partition interface {
	PartitionID() string
}

// A CheckpointMark captures how far a reader has progressed within its
// partition.
type CheckpointMark interface {
	// Finalize is called once the checkpoint that captured this mark has been
	// durably committed. Sources use it to acknowledge upstream.
	Finalize() error
}

// CheckpointMarkCoder converts checkpoint marks to and from their persisted
// form.
type CheckpointMarkCoder interface {
	EncodeMark(mark CheckpointMark) ([]byte, error)
	DecodeMark(data []byte) (CheckpointMark, error)
}

// UnboundedSource is a portable streaming source that can be split into
// partitions and read with checkpointable readers.
type UnboundedSource interface {
	// Split divides the source into at most desiredCount partitions. A source
	// that can't be split returns exactly one partition and sources with a
	// fixed partitioning may return more.
	Split(desiredCount int) ([]Partition, error)

	// NewReader creates a reader for the partition. A non-nil mark positions the
	// reader just after the progress the mark recorded.
	NewReader(partition Partition, mark CheckpointMark) (UnboundedReader, error)

	EncodePartition(partition Partition) ([]byte, error)
	DecodePartition(data []byte) (Partition, error)

	// CheckpointMarkCoder returns nil when the source declares no format for
	// persisting checkpoint marks.
	CheckpointMarkCoder() CheckpointMarkCoder
}

// HasCheckpointMarkFormat reports whether checkpoint marks from the source
// can be persisted.
func HasCheckpointMarkFormat(source UnboundedSource) bool {
	return source.CheckpointMarkCoder() != nil
}

// UnboundedReader reads the records of one partition. None of its methods may
// block waiting for data; Start and Advance return false when no record is
// available yet.
//
// A reader created from a non-nil checkpoint mark is already positioned and
// must accept Advance without a prior call to Start.
type UnboundedReader interface {
	// Start initializes the reader and moves to the first record.
	Start() (bool, error)
	// Advance moves to the next record.
	Advance() (bool, error)

	// Current returns the record the reader is positioned at.
	Current() []byte
	CurrentTimestamp() time.Time
	// CurrentRecordID returns a token that uniquely identifies the current
	// record across replays of the partition.
	CurrentRecordID() []byte

	// Watermark may be called at any time. A reader reports permanent completion
	// by returning the maximum timestamp.
	Watermark() time.Time

	// CheckpointMark returns the reader's progress or nil when there is none.
	CheckpointMark() CheckpointMark

	Close() error
}
