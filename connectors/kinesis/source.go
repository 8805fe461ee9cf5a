// Package kinesis reads a Kinesis stream with one partition per shard.
package kinesis

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/encoding/protowire"
	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/util/sliceu"
)

type Source struct {
	config SourceConfig
	api    API
	log    *slog.Logger
}

// NewSource creates a source for the stream, connecting with the configured
// client parameters unless an API is provided.
func NewSource(ctx context.Context, config SourceConfig) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	api := config.API
	if api == nil {
		client, err := NewClient(ctx, config.Client)
		if err != nil {
			return nil, err
		}
		api = client
	}

	return &Source{
		config: config,
		api:    api,
		log:    slog.With("instanceID", "kinesis-source"),
	}, nil
}

// Shard is a partition of the stream.
type Shard struct {
	ID string
}

func (s Shard) PartitionID() string {
	return s.ID
}

// Split returns every shard of the stream. Shards are the stream's fixed
// partitioning so the desired count is ignored.
func (s *Source) Split(desiredCount int) ([]connectors.Partition, error) {
	ids, err := ListShardIDs(context.Background(), s.api, s.config.StreamARN)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("kinesis stream %s has no shards", s.config.StreamARN)
	}
	s.log.Info("listed shards", "stream", s.config.StreamARN, "shards", len(ids), "desired", desiredCount)
	return sliceu.Map(ids, func(id string) connectors.Partition { return Shard{ID: id} }), nil
}

func (s *Source) NewReader(partition connectors.Partition, mark connectors.CheckpointMark) (connectors.UnboundedReader, error) {
	shard, ok := partition.(Shard)
	if !ok {
		return nil, fmt.Errorf("kinesis source can't read partition type %T", partition)
	}

	reader := newShardReader(s, shard.ID)
	if mark != nil {
		shardMark, ok := mark.(*ShardMark)
		if !ok {
			return nil, fmt.Errorf("kinesis source can't resume from mark type %T", mark)
		}
		reader.sequenceNumber = shardMark.SequenceNumber
		if shardMark.Finished {
			reader.finish()
		}
	}
	return reader, nil
}

func (s *Source) EncodePartition(partition connectors.Partition) ([]byte, error) {
	shard, ok := partition.(Shard)
	if !ok {
		return nil, fmt.Errorf("kinesis source can't encode partition type %T", partition)
	}
	return []byte(shard.ID), nil
}

func (s *Source) DecodePartition(data []byte) (connectors.Partition, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("kinesis source: empty shard id")
	}
	return Shard{ID: string(data)}, nil
}

func (s *Source) CheckpointMarkCoder() connectors.CheckpointMarkCoder {
	return markCoder{}
}

var _ connectors.UnboundedSource = (*Source)(nil)

// ShardMark is the sequence number of the last record read from a shard.
// Kinesis has no acknowledgements so finalizing is a no-op.
type ShardMark struct {
	ShardID        string
	SequenceNumber string
	Finished       bool
}

func (m *ShardMark) Finalize() error {
	return nil
}

const (
	fieldShardID        protowire.Number = 1
	fieldSequenceNumber protowire.Number = 2
	fieldFinished       protowire.Number = 3
)

type markCoder struct{}

func (markCoder) EncodeMark(mark connectors.CheckpointMark) ([]byte, error) {
	m, ok := mark.(*ShardMark)
	if !ok {
		return nil, fmt.Errorf("kinesis source can't encode mark type %T", mark)
	}
	var b []byte
	b = protowire.AppendTag(b, fieldShardID, protowire.BytesType)
	b = protowire.AppendString(b, m.ShardID)
	b = protowire.AppendTag(b, fieldSequenceNumber, protowire.BytesType)
	b = protowire.AppendString(b, m.SequenceNumber)
	b = protowire.AppendTag(b, fieldFinished, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(m.Finished))
	return b, nil
}

func (markCoder) DecodeMark(b []byte) (connectors.CheckpointMark, error) {
	m := &ShardMark{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("kinesis shard mark: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldShardID && typ == protowire.BytesType:
			m.ShardID, n = protowire.ConsumeString(b)
		case num == fieldSequenceNumber && typ == protowire.BytesType:
			m.SequenceNumber, n = protowire.ConsumeString(b)
		case num == fieldFinished && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.Finished = protowire.DecodeBool(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("kinesis shard mark field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return m, nil
}
