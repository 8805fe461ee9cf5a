package checkpoints_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/connectors/embedded"
	"reduction.dev/sourcemux/partitioning"
	"reduction.dev/sourcemux/util/iteru"
	"reduction.dev/sourcemux/workers/checkpoints"
)

func TestNotifyComplete_FinalizesEachReaderOnce(t *testing.T) {
	source := embedded.NewSource(embedded.SourceConfig{ElementsPerSplit: 10})
	readers := openReaders(t, source, 3, 0, 1)
	coordinator := checkpoints.NewCoordinator(source, nil)

	_, err := coordinator.Snapshot(1, 0, readers)
	require.NoError(t, err)

	finalized, err := coordinator.NotifyComplete(1)
	require.NoError(t, err)
	assert.Equal(t, 3, finalized)
	assert.ElementsMatch(t, []int{0, 1, 2}, source.Finalized().Splits())

	finalized, err = coordinator.NotifyComplete(1)
	require.NoError(t, err)
	assert.Equal(t, 0, finalized, "already confirmed checkpoint isn't finalized again")
	assert.Len(t, source.Finalized().Splits(), 3)
}

func TestNotifyComplete_DiscardsOlderPendingWithoutFinalizing(t *testing.T) {
	source := embedded.NewSource(embedded.SourceConfig{ElementsPerSplit: 10})
	readers := openReaders(t, source, 1, 0, 1)
	coordinator := checkpoints.NewCoordinator(source, nil)

	for id := range uint64(3) {
		_, err := coordinator.Snapshot(id+1, 0, readers)
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2, 3}, coordinator.Pending())

	finalized, err := coordinator.NotifyComplete(2)
	require.NoError(t, err)
	assert.Equal(t, 1, finalized, "only checkpoint 2 finalizes")
	assert.Equal(t, []uint64{3}, coordinator.Pending(), "checkpoint 1 was dropped")

	finalized, err = coordinator.NotifyComplete(1)
	require.NoError(t, err)
	assert.Equal(t, 0, finalized, "dropped checkpoint can't be finalized later")
	assert.Len(t, source.Finalized().Splits(), 1)
}

func TestNotifyComplete_UnknownIDStillDiscardsOlder(t *testing.T) {
	source := embedded.NewSource(embedded.SourceConfig{ElementsPerSplit: 10})
	coordinator := checkpoints.NewCoordinator(source, nil)

	_, err := coordinator.Snapshot(4, 0, openReaders(t, source, 1, 0, 1))
	require.NoError(t, err)

	finalized, err := coordinator.NotifyComplete(7)
	require.NoError(t, err)
	assert.Equal(t, 0, finalized)
	assert.Empty(t, coordinator.Pending())
}

func TestFinalizeMarks_JoinsErrors(t *testing.T) {
	boom := errors.New("ack failed")
	source := embedded.NewSource(embedded.SourceConfig{ElementsPerSplit: 10})
	coordinator := checkpoints.NewCoordinator(source, nil)
	readers := append(openReaders(t, source, 2, 0, 1),
		&fixedMark{partition: embedded.Split{Index: 2, Count: 4}, mark: &failingMark{err: boom}},
		&fixedMark{partition: embedded.Split{Index: 3, Count: 4}, mark: nil},
	)

	finalized, err := coordinator.FinalizeMarks(readers)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, finalized, "healthy marks still finalize")
	assert.ElementsMatch(t, []int{0, 1}, source.Finalized().Splits())
}

func TestSnapshot_WithoutMarkFormatIsEmpty(t *testing.T) {
	source := embedded.NewSource(embedded.SourceConfig{ElementsPerSplit: 10, WithoutCheckpointMarks: true})
	readers := openReaders(t, source, 2, 0, 1)
	coordinator := checkpoints.NewCoordinator(source, nil)

	state, err := coordinator.Snapshot(1, 0, readers)
	require.NoError(t, err)
	assert.Nil(t, state)

	finalized, err := coordinator.NotifyComplete(1)
	require.NoError(t, err)
	assert.Equal(t, 0, finalized, "empty snapshot has nothing to finalize")

	all, owned, err := checkpoints.NewCoordinator(source, nil).Restore([][]byte{state}, 0, 1)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, owned)
}

func TestRestore_RedistributesAcrossChangedParallelism(t *testing.T) {
	const partitionCount = 8
	for _, before := range []int{1, 2, 3, 8} {
		for _, after := range []int{1, 2, 5, 16} {
			t.Run(fmt.Sprintf("%d->%d", before, after), func(t *testing.T) {
				source := embedded.NewSource(embedded.SourceConfig{SplitCount: partitionCount, ElementsPerSplit: 10})

				var states [][]byte
				for index := range iteru.Times(before) {
					coordinator := checkpoints.NewCoordinator(source, nil)
					state, err := coordinator.Snapshot(1, index, openReaders(t, source, partitionCount, index, before))
					require.NoError(t, err)
					states = append(states, state)
				}

				owners := make(map[string]int)
				for index := range iteru.Times(after) {
					// Reverse the host's ordering to show it doesn't matter.
					reversed := make([][]byte, len(states))
					for i, s := range states {
						reversed[len(states)-1-i] = s
					}
					all, owned, err := checkpoints.NewCoordinator(source, nil).Restore(reversed, index, after)
					require.NoError(t, err)
					assert.Len(t, all, partitionCount)
					for _, pair := range owned {
						owners[pair.Partition.PartitionID()]++
						assert.NotNil(t, pair.Mark, "restored pairs carry their marks")
					}
				}

				assert.Len(t, owners, partitionCount, "no partition lost")
				for id, count := range owners {
					assert.Equal(t, 1, count, "partition %s restored exactly once", id)
				}
			})
		}
	}
}

func TestRestore_KeepsMarkPositions(t *testing.T) {
	source := embedded.NewSource(embedded.SourceConfig{ElementsPerSplit: 10})
	readers := openReaders(t, source, 1, 0, 1)
	coordinator := checkpoints.NewCoordinator(source, nil)
	state, err := coordinator.Snapshot(9, 0, readers)
	require.NoError(t, err)

	_, owned, err := checkpoints.NewCoordinator(source, nil).Restore([][]byte{state}, 0, 1)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	mark, ok := owned[0].Mark.(*embedded.CounterMark)
	require.True(t, ok)
	assert.Equal(t, 0, mark.Last, "openReaders read one element")
}

func TestRestore_AbsentMarksAndEmptyStates(t *testing.T) {
	source := embedded.NewSource(embedded.SourceConfig{ElementsPerSplit: 10})
	partitionData, err := source.EncodePartition(embedded.Split{Index: 0, Count: 1})
	require.NoError(t, err)
	state := (&checkpoints.InstanceState{Entries: []checkpoints.Entry{{Partition: partitionData}}}).Marshal()

	_, owned, err := checkpoints.NewCoordinator(source, nil).Restore([][]byte{nil, state, {}}, 0, 1)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Nil(t, owned[0].Mark)

	_, owned, err = checkpoints.NewCoordinator(source, nil).Restore(nil, 0, 3)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestRestore_MarksWithoutFormatFail(t *testing.T) {
	source := embedded.NewSource(embedded.SourceConfig{ElementsPerSplit: 10})
	state, err := checkpoints.NewCoordinator(source, nil).Snapshot(1, 0, openReaders(t, source, 1, 0, 1))
	require.NoError(t, err)

	_, _, err = checkpoints.NewCoordinator(&markless{source}, nil).Restore([][]byte{state}, 0, 1)
	assert.ErrorIs(t, err, connectors.ErrNoCheckpointMarkFormat)
}

// openReaders splits the source for total instances and returns started
// readers for the partitions owned by index.
func openReaders(t *testing.T, source *embedded.Source, splits, index, total int) []checkpoints.MarkSource {
	all, err := source.Split(splits)
	require.NoError(t, err)

	var readers []checkpoints.MarkSource
	for _, partition := range partitioning.Assign(all, index, total) {
		reader, err := source.NewReader(partition, nil)
		require.NoError(t, err)
		_, err = reader.Start()
		require.NoError(t, err)
		readers = append(readers, &fixedMark{partition: partition, mark: reader.CheckpointMark()})
	}
	return readers
}

type fixedMark struct {
	partition connectors.Partition
	mark      connectors.CheckpointMark
}

func (m *fixedMark) Partition() connectors.Partition           { return m.partition }
func (m *fixedMark) CheckpointMark() connectors.CheckpointMark { return m.mark }

type failingMark struct {
	err error
}

func (m *failingMark) Finalize() error { return m.err }

// markless hides the checkpoint mark format of the wrapped source.
type markless struct {
	*embedded.Source
}

func (m *markless) CheckpointMarkCoder() connectors.CheckpointMarkCoder { return nil }
