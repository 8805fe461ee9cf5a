package checkpoints

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrCorruptState = errors.New("corrupt persisted source state")

// InstanceState is the persisted form of one instance's snapshot.
//
// Wire layout (protobuf compatible):
//
//	message InstanceState {
//	  uint64 instance_index = 1;
//	  uint64 checkpoint_id = 2;
//	  repeated Entry entries = 3;
//	}
//	message Entry {
//	  bytes partition = 1;
//	  optional bytes mark = 2;
//	}
type InstanceState struct {
	InstanceIndex int
	CheckpointID  uint64
	Entries       []Entry
}

// Entry pairs a partition descriptor with its encoded checkpoint mark.
type Entry struct {
	Partition []byte
	Mark      []byte
	HasMark   bool
}

const (
	fieldInstanceIndex protowire.Number = 1
	fieldCheckpointID  protowire.Number = 2
	fieldEntries       protowire.Number = 3

	fieldEntryPartition protowire.Number = 1
	fieldEntryMark      protowire.Number = 2
)

func (s *InstanceState) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldInstanceIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.InstanceIndex))
	b = protowire.AppendTag(b, fieldCheckpointID, protowire.VarintType)
	b = protowire.AppendVarint(b, s.CheckpointID)
	for _, e := range s.Entries {
		b = protowire.AppendTag(b, fieldEntries, protowire.BytesType)
		b = protowire.AppendBytes(b, e.marshal())
	}
	return b
}

func (e Entry) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEntryPartition, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Partition)
	if e.HasMark {
		b = protowire.AppendTag(b, fieldEntryMark, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Mark)
	}
	return b
}

// UnmarshalState parses a persisted instance state. Unknown fields are skipped.
func UnmarshalState(b []byte) (*InstanceState, error) {
	state := &InstanceState{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldInstanceIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			state.InstanceIndex = int(v)
			return n, nil
		case num == fieldCheckpointID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			state.CheckpointID = v
			return n, nil
		case num == fieldEntries && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			entry, err := unmarshalEntry(v)
			if err != nil {
				return 0, err
			}
			state.Entries = append(state.Entries, entry)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func unmarshalEntry(b []byte) (Entry, error) {
	var entry Entry
	hasPartition := false
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldEntryPartition && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			entry.Partition = append([]byte{}, v...)
			hasPartition = true
			return n, nil
		case num == fieldEntryMark && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			entry.Mark = append([]byte{}, v...)
			entry.HasMark = true
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return Entry{}, err
	}
	if !hasPartition {
		return Entry{}, fmt.Errorf("%w: entry without partition", ErrCorruptState)
	}
	return entry, nil
}

// consumeFields walks the top level fields of b calling fn with the bytes
// following each tag. fn returns how many bytes the field value used.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorruptState, protowire.ParseError(n))
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrCorruptState, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}
