// Package checkpoints captures, persists, restores, and finalizes the
// checkpoint marks of the readers owned by one source instance.
package checkpoints

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/partitioning"
)

// MarkSource is a reader whose progress can be captured.
type MarkSource interface {
	Partition() connectors.Partition
	CheckpointMark() connectors.CheckpointMark
}

// Pair is a partition with its checkpoint mark. A nil Mark means the reader
// had no progress to record.
type Pair struct {
	Partition connectors.Partition
	Mark      connectors.CheckpointMark
}

// Snapshot is the set of marks captured for one checkpoint.
type Snapshot struct {
	CheckpointID  uint64
	InstanceIndex int
	Pairs         []Pair
}

type Coordinator struct {
	source  connectors.UnboundedSource
	pending *pendingTable
	log     *slog.Logger
}

func NewCoordinator(source connectors.UnboundedSource, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		source:  source,
		pending: newPendingTable(),
		log:     logger,
	}
}

// Snapshot captures the checkpoint mark of every reader, records the snapshot
// as pending under id, and returns its persisted form.
//
// A source without a checkpoint mark format produces an empty snapshot and
// nil persisted state. Restoring from that state yields no readers.
func (c *Coordinator) Snapshot(id uint64, instanceIndex int, readers []MarkSource) ([]byte, error) {
	snapshot := &Snapshot{CheckpointID: id, InstanceIndex: instanceIndex}

	coder := c.source.CheckpointMarkCoder()
	if coder == nil {
		c.log.Debug("source has no checkpoint mark format, snapshot is empty", "checkpointID", id)
		c.pending.put(snapshot)
		return nil, nil
	}

	state := &InstanceState{InstanceIndex: instanceIndex, CheckpointID: id}
	for _, r := range readers {
		partition := r.Partition()
		partitionData, err := c.source.EncodePartition(partition)
		if err != nil {
			return nil, fmt.Errorf("encoding partition %s: %w", partition.PartitionID(), err)
		}

		entry := Entry{Partition: partitionData}
		mark := r.CheckpointMark()
		if mark != nil {
			entry.Mark, err = coder.EncodeMark(mark)
			if err != nil {
				return nil, fmt.Errorf("encoding checkpoint mark for partition %s: %w", partition.PartitionID(), err)
			}
			entry.HasMark = true
		}

		state.Entries = append(state.Entries, entry)
		snapshot.Pairs = append(snapshot.Pairs, Pair{Partition: partition, Mark: mark})
	}

	c.pending.put(snapshot)
	return state.Marshal(), nil
}

// Restore treats the union of every instance's persisted state as the global
// partition set and returns that set along with the pairs instance index of
// total now owns. Empty or absent states contribute nothing, so restoring only
// empty states yields zero owned pairs.
func (c *Coordinator) Restore(states [][]byte, index, total int) (all []connectors.Partition, owned []Pair, err error) {
	decoded := make([]*InstanceState, 0, len(states))
	for _, data := range states {
		if len(data) == 0 {
			continue
		}
		state, err := UnmarshalState(data)
		if err != nil {
			return nil, nil, err
		}
		decoded = append(decoded, state)
	}

	// Order by capturing instance so every instance derives the same canonical
	// list no matter how the host ordered the states.
	slices.SortStableFunc(decoded, func(a, b *InstanceState) int {
		return cmp.Compare(a.InstanceIndex, b.InstanceIndex)
	})

	var entries []Entry
	seen := make(map[string]struct{})
	for _, state := range decoded {
		for _, entry := range state.Entries {
			if _, ok := seen[string(entry.Partition)]; ok {
				continue
			}
			seen[string(entry.Partition)] = struct{}{}
			entries = append(entries, entry)
		}
	}

	all = make([]connectors.Partition, len(entries))
	for i, entry := range entries {
		all[i], err = c.source.DecodePartition(entry.Partition)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding restored partition: %w", err)
		}
	}

	coder := c.source.CheckpointMarkCoder()
	positions := partitioning.Assign(indexes(len(entries)), index, total)
	owned = make([]Pair, 0, len(positions))
	for _, pos := range positions {
		pair := Pair{Partition: all[pos]}
		if entries[pos].HasMark {
			if coder == nil {
				return nil, nil, fmt.Errorf("restoring partition %s: %w", pair.Partition.PartitionID(), connectors.ErrNoCheckpointMarkFormat)
			}
			pair.Mark, err = coder.DecodeMark(entries[pos].Mark)
			if err != nil {
				return nil, nil, fmt.Errorf("decoding checkpoint mark for partition %s: %w", pair.Partition.PartitionID(), err)
			}
		}
		owned = append(owned, pair)
	}

	return all, owned, nil
}

// NotifyComplete finalizes the marks of the snapshot pending at id, if any,
// and then discards every pending snapshot with an id at or below id. Older
// snapshots are dropped without being finalized. It returns the number of
// marks finalized.
func (c *Coordinator) NotifyComplete(id uint64) (int, error) {
	var finalized int
	var err error
	if snapshot, ok := c.pending.get(id); ok {
		finalized, err = c.finalize(snapshot.Pairs)
	}

	if removed := c.pending.deleteThrough(id); removed > 1 {
		c.log.Debug("discarded superseded checkpoints", "checkpointID", id, "discarded", removed-1)
	}
	return finalized, err
}

// FinalizeMarks finalizes the current marks of the readers immediately,
// outside the pending table. It's used when an instance completes and no
// further checkpoint will capture its readers.
func (c *Coordinator) FinalizeMarks(readers []MarkSource) (int, error) {
	pairs := make([]Pair, len(readers))
	for i, r := range readers {
		pairs[i] = Pair{Partition: r.Partition(), Mark: r.CheckpointMark()}
	}
	return c.finalize(pairs)
}

// Pending returns the ids of snapshots awaiting completion in ascending order.
func (c *Coordinator) Pending() []uint64 {
	return c.pending.ids()
}

func (c *Coordinator) finalize(pairs []Pair) (int, error) {
	var errs error
	finalized := 0
	for _, pair := range pairs {
		if pair.Mark == nil {
			continue
		}
		if err := pair.Mark.Finalize(); err != nil {
			c.log.Warn("finalizing checkpoint mark failed", "partition", pair.Partition.PartitionID(), "err", err)
			errs = errors.Join(errs, fmt.Errorf("finalizing partition %s: %w", pair.Partition.PartitionID(), err))
			continue
		}
		finalized++
	}
	return finalized, errs
}

func indexes(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
