package embedded

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"reduction.dev/sourcemux/connectors"
)

// Source generates the numbers split+(splitCount*i) for i in [0,
// ElementsPerSplit) on each split.
type Source struct {
	config    SourceConfig
	halted    atomic.Bool
	finalized *FinalizeTracker
}

func NewSource(config SourceConfig) *Source {
	return &Source{
		config:    config,
		finalized: &FinalizeTracker{},
	}
}

// HaltEmission makes every reader report that no data is available until
// ContinueEmission is called.
func (s *Source) HaltEmission() {
	s.halted.Store(true)
}

func (s *Source) ContinueEmission() {
	s.halted.Store(false)
}

// Finalized returns the tracker recording which marks were finalized.
func (s *Source) Finalized() *FinalizeTracker {
	return s.finalized
}

// Split is a partition of the counting source.
type Split struct {
	Index int
	Count int
}

func (s Split) PartitionID() string {
	return strconv.Itoa(s.Index)
}

func (s *Source) Split(desiredCount int) ([]connectors.Partition, error) {
	count := desiredCount
	switch {
	case s.config.WithoutSplitting:
		count = 1
	case s.config.SplitCount > 0:
		count = s.config.SplitCount
	}
	if count < 1 {
		return nil, fmt.Errorf("embedded source can't split into %d partitions", count)
	}

	splits := make([]connectors.Partition, count)
	for i := range splits {
		splits[i] = Split{Index: i, Count: count}
	}
	return splits, nil
}

func (s *Source) NewReader(partition connectors.Partition, mark connectors.CheckpointMark) (connectors.UnboundedReader, error) {
	split, ok := partition.(Split)
	if !ok {
		return nil, fmt.Errorf("embedded source can't read partition type %T", partition)
	}

	reader := &SourceReader{source: s, split: split, current: -1}
	if mark != nil {
		counterMark, ok := mark.(*CounterMark)
		if !ok {
			return nil, fmt.Errorf("embedded source can't resume from mark type %T", mark)
		}
		reader.current = counterMark.Last
	}
	return reader, nil
}

func (s *Source) EncodePartition(partition connectors.Partition) ([]byte, error) {
	split, ok := partition.(Split)
	if !ok {
		return nil, fmt.Errorf("embedded source can't encode partition type %T", partition)
	}
	data := binary.AppendUvarint(nil, uint64(split.Index))
	return binary.AppendUvarint(data, uint64(split.Count)), nil
}

func (s *Source) DecodePartition(data []byte) (connectors.Partition, error) {
	index, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("embedded source: invalid partition index")
	}
	count, m := binary.Uvarint(data[n:])
	if m <= 0 {
		return nil, fmt.Errorf("embedded source: invalid partition count")
	}
	return Split{Index: int(index), Count: int(count)}, nil
}

func (s *Source) CheckpointMarkCoder() connectors.CheckpointMarkCoder {
	if s.config.WithoutCheckpointMarks {
		return nil
	}
	return markCoder{source: s}
}

var _ connectors.UnboundedSource = (*Source)(nil)

// CounterMark records the index of the last element a reader emitted.
type CounterMark struct {
	Split  int
	Last   int
	source *Source
}

func (m *CounterMark) Finalize() error {
	m.source.finalized.add(m.Split)
	return nil
}

type markCoder struct {
	source *Source
}

// EncodeMark writes the split and last index as big endian int64 values.
func (c markCoder) EncodeMark(mark connectors.CheckpointMark) ([]byte, error) {
	counterMark, ok := mark.(*CounterMark)
	if !ok {
		return nil, fmt.Errorf("embedded source can't encode mark type %T", mark)
	}
	data := binary.BigEndian.AppendUint64(nil, uint64(int64(counterMark.Split)))
	return binary.BigEndian.AppendUint64(data, uint64(int64(counterMark.Last))), nil
}

func (c markCoder) DecodeMark(data []byte) (connectors.CheckpointMark, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("embedded source: mark must be 16 bytes but was %d", len(data))
	}
	return &CounterMark{
		Split:  int(int64(binary.BigEndian.Uint64(data[:8]))),
		Last:   int(int64(binary.BigEndian.Uint64(data[8:]))),
		source: c.source,
	}, nil
}

// FinalizeTracker records the split index of each finalized mark.
type FinalizeTracker struct {
	mu     sync.Mutex
	splits []int
}

func (t *FinalizeTracker) add(split int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.splits = append(t.splits, split)
}

// Splits returns the split index of every finalize call in call order.
func (t *FinalizeTracker) Splits() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.splits...)
}
