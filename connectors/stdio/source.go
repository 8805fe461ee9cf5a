// Package stdio reads delimited records from a stream such as stdin. The input
// can't be replayed so the source has a single partition and declares no
// checkpoint mark format.
package stdio

import (
	"errors"
	"fmt"
	"sync/atomic"

	"reduction.dev/sourcemux/connectors"
)

const partitionID = "stdin"

var ErrAlreadyReading = errors.New("stdio input is already being read")

type Source struct {
	config  SourceConfig
	reading atomic.Bool
}

func NewSource(config SourceConfig) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Source{config: config.withDefaults()}, nil
}

type Partition struct{}

func (Partition) PartitionID() string { return partitionID }

func (s *Source) Split(desiredCount int) ([]connectors.Partition, error) {
	return []connectors.Partition{Partition{}}, nil
}

// NewReader starts reading the input. The input can only be read by one
// reader.
func (s *Source) NewReader(partition connectors.Partition, mark connectors.CheckpointMark) (connectors.UnboundedReader, error) {
	if _, ok := partition.(Partition); !ok {
		return nil, fmt.Errorf("stdio source can't read partition type %T", partition)
	}
	if mark != nil {
		return nil, fmt.Errorf("stdio source can't resume from a checkpoint mark")
	}
	if !s.reading.CompareAndSwap(false, true) {
		return nil, ErrAlreadyReading
	}
	return newSourceReader(s.config), nil
}

func (s *Source) EncodePartition(partition connectors.Partition) ([]byte, error) {
	if _, ok := partition.(Partition); !ok {
		return nil, fmt.Errorf("stdio source can't encode partition type %T", partition)
	}
	return []byte(partitionID), nil
}

func (s *Source) DecodePartition(data []byte) (connectors.Partition, error) {
	if string(data) != partitionID {
		return nil, fmt.Errorf("unknown stdio partition %q", data)
	}
	return Partition{}, nil
}

func (s *Source) CheckpointMarkCoder() connectors.CheckpointMarkCoder {
	return nil
}

var _ connectors.UnboundedSource = (*Source)(nil)
