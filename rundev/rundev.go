// Package rundev is a local host engine for source multiplexers. It runs every
// parallel instance in process, drives their watermark timers and takes
// periodic checkpoints.
package rundev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"
	"reduction.dev/sourcemux/clocks"
	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/storage/checkpointstore"
	"reduction.dev/sourcemux/workers/sourcemux"
)

const checkpointLabel = "checkpoint"

type RunParams struct {
	Source      connectors.UnboundedSource
	Parallelism int
	Options     sourcemux.Options

	// NewOutput creates the output of the instance at index.
	NewOutput func(index int) sourcemux.Output

	// Store persists checkpoints. Without one checkpoints are only notified.
	Store *checkpointstore.Store
	// CheckpointInterval is the period between checkpoints. Zero disables
	// periodic checkpoints.
	CheckpointInterval time.Duration
	// Restore starts from the latest checkpoint in Store when there is one.
	Restore bool
	// StopWhenComplete cancels idle instances once every instance that owns
	// partitions has finished.
	StopWhenComplete bool

	Clock clocks.Clock
}

func (p RunParams) Validate() error {
	var errs []error
	if p.Source == nil {
		errs = append(errs, errors.New("missing source"))
	}
	if p.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be at least 1, got %d", p.Parallelism))
	}
	if p.NewOutput == nil {
		errs = append(errs, errors.New("missing output factory"))
	}
	if p.CheckpointInterval < 0 {
		errs = append(errs, fmt.Errorf("checkpoint interval can't be negative, got %s", p.CheckpointInterval))
	}
	if p.Restore && p.Store == nil {
		errs = append(errs, errors.New("restoring requires a checkpoint store"))
	}
	return errors.Join(errs...)
}

type instance struct {
	mux   *sourcemux.Multiplexer
	lock  sync.Mutex
	timer *clocks.SystemTimer
	out   sourcemux.Output
}

// Host owns the instances of one run.
type Host struct {
	params    RunParams
	instances []*instance
	log       *slog.Logger

	checkpointMu     sync.Mutex
	lastCheckpointID uint64
}

func NewHost(params RunParams) (*Host, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Clock == nil {
		params.Clock = clocks.NewSystemClock()
	}

	id := ksuid.New().String()
	h := &Host{
		params: params,
		log:    slog.With("instanceID", "rundev-"+id[len(id)-4:]),
	}
	for i := range params.Parallelism {
		mux, err := sourcemux.New(sourcemux.NewParams{Source: params.Source, Options: params.Options})
		if err != nil {
			return nil, err
		}
		h.instances = append(h.instances, &instance{
			mux:   mux,
			timer: &clocks.SystemTimer{},
			out:   params.NewOutput(i),
		})
	}
	return h, nil
}

// Open restores the latest checkpoint when asked to and opens every instance.
func (h *Host) Open(ctx context.Context) error {
	if h.params.Restore {
		cp, err := h.params.Store.LoadLatest(ctx)
		switch {
		case errors.Is(err, checkpointstore.ErrNotFound):
			h.log.Info("no checkpoint to restore, starting fresh")
		case err != nil:
			return fmt.Errorf("loading latest checkpoint: %w", err)
		default:
			h.log.Info("restoring checkpoint", "checkpointID", cp.ID, "instances", len(cp.States), "parallelism", h.params.Parallelism)
			h.lastCheckpointID = cp.ID
			for _, inst := range h.instances {
				if err := inst.mux.Restore(cp.States); err != nil {
					return err
				}
			}
		}
	}

	for i, inst := range h.instances {
		if err := inst.mux.Open(sourcemux.Context{
			Index: i,
			Total: len(h.instances),
			Lock:  &inst.lock,
			Timer: inst.timer,
		}); err != nil {
			return fmt.Errorf("opening instance %d: %w", i, err)
		}
	}
	return nil
}

// Run runs every instance until ctx is done, an instance fails or, with
// StopWhenComplete, the instances owning partitions have finished.
func (h *Host) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var busy sync.WaitGroup
	for _, inst := range h.instances {
		owning := inst.mux.LocalReaderCount() > 0
		if owning {
			busy.Add(1)
		}
		g.Go(func() error {
			if owning {
				defer busy.Done()
			}
			return inst.mux.Run(gctx, inst.out)
		})
	}

	if h.params.StopWhenComplete {
		go func() {
			busy.Wait()
			h.log.Info("instances owning partitions finished, stopping idle instances")
			h.cancelAll()
		}()
	}

	// Cancel didn't come from an instance's own context so stop the rest when
	// the group context ends.
	go func() {
		<-gctx.Done()
		h.cancelAll()
	}()

	if h.params.CheckpointInterval > 0 {
		ticker := h.params.Clock.Every(h.params.CheckpointInterval, func(*clocks.EveryContext) {
			if _, err := h.Checkpoint(gctx); err != nil {
				h.log.Error("checkpoint failed", "err", err)
			}
		}, checkpointLabel)
		defer ticker.Stop()
	}

	return g.Wait()
}

// Checkpoint snapshots every instance under the next checkpoint id, persists
// the states and then notifies the instances that the checkpoint completed.
func (h *Host) Checkpoint(ctx context.Context) (uint64, error) {
	h.checkpointMu.Lock()
	defer h.checkpointMu.Unlock()

	id := h.lastCheckpointID + 1
	states := make([][]byte, len(h.instances))
	for i, inst := range h.instances {
		state, err := inst.mux.Snapshot(id)
		if err != nil {
			return 0, fmt.Errorf("instance %d: %w", i, err)
		}
		states[i] = state
	}

	if h.params.Store != nil {
		if err := h.params.Store.Save(ctx, &checkpointstore.Checkpoint{ID: id, States: states}); err != nil {
			return 0, err
		}
	}
	h.lastCheckpointID = id

	var errs []error
	for _, inst := range h.instances {
		if err := inst.mux.NotifyCheckpointComplete(id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		h.log.Warn("checkpoint completed with finalize errors", "checkpointID", id, "err", err)
	}
	h.log.Info("checkpoint complete", "checkpointID", id)
	return id, nil
}

// Instances returns the multiplexers in instance order.
func (h *Host) Instances() []*sourcemux.Multiplexer {
	muxes := make([]*sourcemux.Multiplexer, len(h.instances))
	for i, inst := range h.instances {
		muxes[i] = inst.mux
	}
	return muxes
}

// Close closes every instance.
func (h *Host) Close() error {
	var errs []error
	for _, inst := range h.instances {
		errs = append(errs, inst.mux.Close())
	}
	return errors.Join(errs...)
}

func (h *Host) cancelAll() {
	for _, inst := range h.instances {
		inst.mux.Cancel()
	}
}

// Run opens a host, runs it until ctx is done or it completes and then closes
// it.
func Run(ctx context.Context, params RunParams) error {
	host, err := NewHost(params)
	if err != nil {
		return err
	}
	if err := host.Open(ctx); err != nil {
		return err
	}
	defer host.Close()

	return host.Run(ctx)
}
