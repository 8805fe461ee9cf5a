package checkpoints_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"reduction.dev/sourcemux/workers/checkpoints"
)

func TestInstanceState_Marshal(t *testing.T) {
	state := &checkpoints.InstanceState{
		InstanceIndex: 3,
		CheckpointID:  42,
		Entries: []checkpoints.Entry{
			{Partition: []byte("p0"), Mark: []byte("m0"), HasMark: true},
			{Partition: []byte("p1")},
			{Partition: []byte("p2"), Mark: []byte{}, HasMark: true},
		},
	}

	decoded, err := checkpoints.UnmarshalState(state.Marshal())
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
	assert.False(t, decoded.Entries[1].HasMark, "absent mark stays absent")
	assert.True(t, decoded.Entries[2].HasMark, "empty mark is still present")
}

func TestUnmarshalState_SkipsUnknownFields(t *testing.T) {
	data := (&checkpoints.InstanceState{InstanceIndex: 1}).Marshal()
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future"))

	decoded, err := checkpoints.UnmarshalState(data)
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.InstanceIndex)
}

func TestUnmarshalState_Corrupt(t *testing.T) {
	data := (&checkpoints.InstanceState{
		Entries: []checkpoints.Entry{{Partition: []byte("p0")}},
	}).Marshal()

	_, err := checkpoints.UnmarshalState(data[:len(data)-1])
	assert.ErrorIs(t, err, checkpoints.ErrCorruptState)
}
