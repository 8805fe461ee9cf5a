// Package checkpointstore keeps the persisted states of every source instance
// for each completed checkpoint.
package checkpointstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"google.golang.org/protobuf/encoding/protowire"
	"reduction.dev/sourcemux/storage/locations"
)

var ErrNotFound = errors.New("no checkpoint found")

var (
	checkpointsSaved   = metrics.NewCounter("checkpointstore_checkpoints_saved_total")
	checkpointsRemoved = metrics.NewCounter("checkpointstore_checkpoints_removed_total")
	bytesWritten       = metrics.NewCounter("checkpointstore_bytes_written_total")
	checkpointsLoaded  = metrics.NewCounter("checkpointstore_checkpoints_loaded_total")
)

const (
	fileSuffix  = ".checkpoint"
	idDigits    = 20
	defaultKeep = 3
)

// Checkpoint is the state of every instance captured for one checkpoint id.
// States are in instance order and may be empty.
type Checkpoint struct {
	ID     uint64
	States [][]byte
}

type Store struct {
	location locations.StorageLocation
	keep     int
	log      *slog.Logger
}

type NewParams struct {
	Location locations.StorageLocation
	// Keep is the number of most recent checkpoints retained. Defaults to 3.
	Keep int
}

func New(params NewParams) *Store {
	if params.Keep <= 0 {
		params.Keep = defaultKeep
	}
	return &Store{
		location: params.Location,
		keep:     params.Keep,
		log:      slog.With("instanceID", "checkpointstore"),
	}
}

// Save writes the checkpoint and then removes checkpoints older than the
// retained ones.
func (s *Store) Save(ctx context.Context, cp *Checkpoint) error {
	data := cp.marshal()
	uri, err := s.location.Write(ctx, fileName(cp.ID), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("saving checkpoint %d: %w", cp.ID, err)
	}
	checkpointsSaved.Inc()
	bytesWritten.Add(len(data))
	s.log.Debug("saved checkpoint", "checkpointID", cp.ID, "uri", uri, "bytes", len(data))

	return s.prune(ctx)
}

// Load reads the checkpoint with the given id.
func (s *Store) Load(ctx context.Context, id uint64) (*Checkpoint, error) {
	data, err := s.location.Read(ctx, fileName(id))
	if err != nil {
		if errors.Is(err, locations.ErrNotFound) {
			return nil, fmt.Errorf("checkpoint %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	cp, err := unmarshalCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %d: %w", id, err)
	}
	checkpointsLoaded.Inc()
	return cp, nil
}

// LoadLatest reads the checkpoint with the highest id.
func (s *Store) LoadLatest(ctx context.Context) (*Checkpoint, error) {
	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return s.Load(ctx, ids[len(ids)-1])
}

// IDs returns the retained checkpoint ids in ascending order.
func (s *Store) IDs(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	for uri, err := range s.location.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("listing checkpoints: %w", err)
		}
		id, ok := parseFileName(path.Base(uri))
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) prune(ctx context.Context) error {
	ids, err := s.IDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) <= s.keep {
		return nil
	}

	obsolete := ids[:len(ids)-s.keep]
	paths := make([]string, len(obsolete))
	for i, id := range obsolete {
		paths[i] = fileName(id)
	}
	if err := s.location.Remove(ctx, paths...); err != nil {
		return fmt.Errorf("removing obsolete checkpoints: %w", err)
	}
	checkpointsRemoved.Add(len(paths))
	return nil
}

// fileName zero pads ids so lexical and numeric order agree.
func fileName(id uint64) string {
	return fmt.Sprintf("%0*d%s", idDigits, id, fileSuffix)
}

func parseFileName(name string) (uint64, bool) {
	digits, ok := strings.CutSuffix(name, fileSuffix)
	if !ok || len(digits) != idDigits {
		return 0, false
	}
	id, err := strconv.ParseUint(digits, 10, 64)
	return id, err == nil
}

// Checkpoint files hold the checkpoint id as field 1 and each instance state
// as a repeated bytes field 2.
const (
	fieldID    protowire.Number = 1
	fieldState protowire.Number = 2
)

func (cp *Checkpoint) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, cp.ID)
	for _, state := range cp.States {
		b = protowire.AppendTag(b, fieldState, protowire.BytesType)
		b = protowire.AppendBytes(b, state)
	}
	return b
}

func unmarshalCheckpoint(b []byte) (*Checkpoint, error) {
	cp := &Checkpoint{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid checkpoint file: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldID && typ == protowire.VarintType:
			cp.ID, n = protowire.ConsumeVarint(b)
		case num == fieldState && typ == protowire.BytesType:
			var state []byte
			state, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				cp.States = append(cp.States, bytes.Clone(state))
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid checkpoint file field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return cp, nil
}
