// Package sourcemux runs the partitions of an unbounded source owned by one
// parallel instance of a host engine's source operator.
package sourcemux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"reduction.dev/sourcemux/clocks"
	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/partitioning"
	"reduction.dev/sourcemux/util/iteru"
	"reduction.dev/sourcemux/util/sliceu"
	"reduction.dev/sourcemux/workers/checkpoints"
	"reduction.dev/sourcemux/workers/wmark"
)

var (
	ErrNotOpened      = errors.New("source multiplexer is not open")
	ErrAlreadyRunning = errors.New("source multiplexer is already running")
)

type State int32

const (
	StateCreated State = iota
	StateOpened
	StateRunning
	StateFinished
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpened:
		return "opened"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Context is what the host provides when opening an instance.
type Context struct {
	// Index is this instance's zero based position among Total instances.
	Index int
	Total int

	// Lock guards every call from the run loop, the timer and the host's
	// control path. Defaults to a private mutex.
	Lock sync.Locker

	// Timer schedules watermark ticks. Defaults to a SystemTimer.
	Timer clocks.Timer
}

type NewParams struct {
	Source  connectors.UnboundedSource
	Options Options
}

// Multiplexer owns the local readers of one source instance. It emits their
// records from Run, their combined watermark from the timer and captures and
// finalizes their checkpoint marks when the host asks.
type Multiplexer struct {
	ID string
	// Logger is the instance logger before Open adds the instance index.
	Logger      *slog.Logger
	log         *slog.Logger
	source      connectors.UnboundedSource
	options     Options
	coordinator *checkpoints.Coordinator
	aggregator  *wmark.Aggregator
	metrics     *instanceMetrics

	// lock is published by Open before it touches any guarded field so that
	// accessors and Close may run concurrently with Open.
	lock  atomic.Pointer[hostLock]
	timer clocks.Timer
	index int
	total int

	restored   [][]byte
	isRestored bool

	splits       []connectors.Partition // Global partition list seen at open
	readers      []*LocalReader
	out          Output
	timerStopped bool

	state      atomic.Int32
	running    atomic.Bool
	done       chan struct{}
	cancelOnce sync.Once
}

// hostLock holds the Locker supplied by the host.
type hostLock struct {
	sync.Locker
}

func New(params NewParams) (*Multiplexer, error) {
	if params.Source == nil {
		return nil, errors.New("source multiplexer requires a source")
	}
	options := params.Options.WithDefaults()
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	id := ksuid.New().String()
	log := slog.With("instanceID", "sourcemux-"+id[len(id)-4:])
	return &Multiplexer{
		ID:          id,
		Logger:      log,
		log:         log,
		source:      params.Source,
		options:     options,
		coordinator: checkpoints.NewCoordinator(params.Source, log),
		aggregator:  wmark.NewAggregator(),
		done:        make(chan struct{}),
	}, nil
}

// Restore provides the persisted states of every instance of the previous run.
// It must be called before Open. Once restored, the instance reads only the
// partitions found in the states and never splits the source again, so
// restoring only empty states leaves it without readers.
func (m *Multiplexer) Restore(states [][]byte) error {
	if s := m.State(); s != StateCreated {
		return fmt.Errorf("restore called in state %s", s)
	}
	m.restored = slices.Clone(states)
	m.isRestored = true
	return nil
}

// Open resolves the partitions this instance owns and creates their readers.
func (m *Multiplexer) Open(ctx Context) error {
	if s := m.State(); s != StateCreated {
		return fmt.Errorf("open called in state %s", s)
	}
	if ctx.Total < 1 || ctx.Index < 0 || ctx.Index >= ctx.Total {
		return fmt.Errorf("invalid instance index %d of %d", ctx.Index, ctx.Total)
	}
	if ctx.Lock == nil {
		ctx.Lock = &sync.Mutex{}
	}
	if ctx.Timer == nil {
		ctx.Timer = &clocks.SystemTimer{}
	}

	lock := &hostLock{ctx.Lock}
	if !m.lock.CompareAndSwap(nil, lock) {
		return errors.New("open called more than once")
	}
	lock.Lock()
	defer lock.Unlock()

	m.timer = ctx.Timer
	m.index = ctx.Index
	m.total = ctx.Total
	m.metrics = newInstanceMetrics(ctx.Index)
	m.log = m.Logger.With("index", ctx.Index)

	var err error
	if m.isRestored {
		err = m.openRestored()
	} else {
		err = m.openSplit()
	}
	if err != nil {
		return err
	}

	m.metrics.readers.Set(float64(len(m.readers)))
	m.state.Store(int32(StateOpened))
	m.log.Info("opened",
		"partitions", len(m.splits),
		"localReaders", len(m.readers),
		"restored", m.isRestored)
	return nil
}

func (m *Multiplexer) openSplit() error {
	all, owned, err := partitioning.SplitSource(m.source, m.options.DesiredSplits, m.index, m.total)
	if err != nil {
		return err
	}
	m.splits = all
	for _, partition := range owned {
		reader, err := m.source.NewReader(partition, nil)
		if err != nil {
			return fmt.Errorf("creating reader for partition %s: %w", partition.PartitionID(), err)
		}
		m.readers = append(m.readers, NewLocalReader(partition, reader, false))
	}
	return nil
}

func (m *Multiplexer) openRestored() error {
	all, owned, err := m.coordinator.Restore(m.restored, m.index, m.total)
	if err != nil {
		return fmt.Errorf("restoring source state: %w", err)
	}
	m.splits = all
	m.restored = nil
	for _, pair := range owned {
		reader, err := m.source.NewReader(pair.Partition, pair.Mark)
		if err != nil {
			return fmt.Errorf("restoring reader for partition %s: %w", pair.Partition.PartitionID(), err)
		}
		m.readers = append(m.readers, NewLocalReader(pair.Partition, reader, pair.Mark != nil))
	}
	return nil
}

// Run emits the records of the local readers to out until the instance is
// cancelled, ctx is done, a reader fails or, with ShutdownOnCompletion, every
// reader has completed. Reader errors are returned as they were raised.
func (m *Multiplexer) Run(ctx context.Context, out Output) error {
	switch s := m.State(); s {
	case StateOpened:
	case StateCancelled:
		return nil
	case StateRunning:
		return ErrAlreadyRunning
	default:
		return fmt.Errorf("%w: run called in state %s", ErrNotOpened, s)
	}

	lock := m.lock.Load()
	lock.Lock()
	if !m.state.CompareAndSwap(int32(StateOpened), int32(StateRunning)) {
		// Cancelled between the check and taking the lock.
		lock.Unlock()
		return nil
	}
	m.out = out
	m.timer.Set(m.options.WatermarkInterval, m.OnTimer)
	m.running.Store(true)
	lock.Unlock()

	if len(m.readers) == 0 {
		return m.idle(ctx)
	}

	for {
		if m.isDone(ctx) {
			m.stopCancelled()
			return nil
		}

		emitted, completed, err := m.poll()
		if err != nil {
			m.fail(err)
			return err
		}
		if completed && m.options.ShutdownOnCompletion {
			m.finish()
			return nil
		}
		if !emitted {
			m.sleep(ctx, m.options.PollInterval)
		}
	}
}

// poll advances each unfinished reader once and emits the records they have
// ready. It reports whether anything was emitted and whether every reader has
// completed.
func (m *Multiplexer) poll() (emitted, completed bool, err error) {
	lock := m.lock.Load()
	lock.Lock()
	defer lock.Unlock()

	completed = true
	for _, r := range m.readers {
		if r.Finished() {
			continue
		}
		ok, err := r.Advance()
		if err != nil {
			return false, false, err
		}
		if ok {
			if err := m.out.EmitRecord(r.Current()); err != nil {
				return false, false, fmt.Errorf("emitting record: %w", err)
			}
			m.metrics.records.Inc()
			emitted = true
		}
		if !r.Finished() {
			completed = false
		}
	}
	return emitted, completed, nil
}

// idle keeps an instance without readers alive until it is cancelled. The
// host needs every instance running to coordinate checkpoints, so an idle
// instance never finishes on its own.
func (m *Multiplexer) idle(ctx context.Context) error {
	m.log.Info("no partitions assigned, idling until cancelled")

	lock := m.lock.Load()
	lock.Lock()
	m.emitWatermark(wmark.MaxTimestamp)
	lock.Unlock()

	for !m.isDone(ctx) {
		m.sleep(ctx, m.options.IdleInterval)
	}
	m.stopCancelled()
	return nil
}

// stopCancelled stops the watermark timer once the run loop has observed
// cancellation.
func (m *Multiplexer) stopCancelled() {
	lock := m.lock.Load()
	lock.Lock()
	defer lock.Unlock()
	m.stopTimer()
}

// finish emits the final watermark, finalizes the marks of the completed
// readers and stops the instance.
func (m *Multiplexer) finish() {
	lock := m.lock.Load()
	lock.Lock()
	defer lock.Unlock()

	m.emitWatermark(wmark.MaxTimestamp)

	finalized, err := m.coordinator.FinalizeMarks(m.markSources())
	m.metrics.finalized.Add(float64(finalized))
	if err != nil {
		m.log.Warn("finalizing completed readers failed", "err", err)
	}

	m.stopTimer()
	m.running.Store(false)
	m.state.CompareAndSwap(int32(StateRunning), int32(StateFinished))
	m.log.Info("all readers completed, finished", "finalized", finalized)
}

func (m *Multiplexer) fail(err error) {
	lock := m.lock.Load()
	lock.Lock()
	defer lock.Unlock()

	m.log.Error("reading source failed", "err", err)
	m.stopTimer()
	m.running.Store(false)
	m.state.CompareAndSwap(int32(StateRunning), int32(StateFailed))
}

// isDone reports whether the instance was cancelled, cancelling it when ctx is
// done.
func (m *Multiplexer) isDone(ctx context.Context) bool {
	select {
	case <-m.done:
		return true
	case <-ctx.Done():
		m.Cancel()
		return true
	default:
		return false
	}
}

func (m *Multiplexer) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-m.done:
	case <-ctx.Done():
	}
}

// Cancel stops the instance. It may be called from any goroutine and more
// than once. The watermark timer stops once Run observes the cancellation and
// a tick already in flight emits nothing.
func (m *Multiplexer) Cancel() {
	m.cancelOnce.Do(func() {
		close(m.done)
		m.running.Store(false)
		if !m.state.CompareAndSwap(int32(StateRunning), int32(StateCancelled)) {
			m.state.CompareAndSwap(int32(StateOpened), int32(StateCancelled))
		}
		m.Logger.Info("cancelled")
	})
}

func (m *Multiplexer) IsRunning() bool {
	return m.running.Load()
}

func (m *Multiplexer) State() State {
	return State(m.state.Load())
}

// OnTimer combines the watermarks of the local readers and emits the result
// if it advanced. It then schedules the next tick unless the instance has
// stopped.
func (m *Multiplexer) OnTimer() {
	lock := m.lock.Load()
	if lock == nil {
		return
	}
	lock.Lock()
	defer lock.Unlock()

	if m.timerStopped {
		return
	}
	select {
	case <-m.done:
		m.stopTimer()
		return
	default:
	}
	m.emitWatermark(wmark.Combine(iteru.Map(slices.Values(m.readers), (*LocalReader).Watermark)))
	m.timer.Set(m.options.WatermarkInterval, m.OnTimer)
}

// emitWatermark must be called with the lock held.
func (m *Multiplexer) emitWatermark(wm time.Time) {
	if m.out == nil || !m.aggregator.Advance(wm) {
		return
	}
	m.out.EmitWatermark(wm)
	m.metrics.watermark.Set(float64(wm.Unix()))
}

func (m *Multiplexer) stopTimer() {
	m.timerStopped = true
	if m.timer != nil {
		m.timer.Stop()
	}
}

// Snapshot captures the checkpoint marks of the local readers under id and
// returns the state to persist for this instance.
func (m *Multiplexer) Snapshot(id uint64) ([]byte, error) {
	if m.State() == StateCreated {
		return nil, ErrNotOpened
	}

	lock := m.lock.Load()
	lock.Lock()
	defer lock.Unlock()

	state, err := m.coordinator.Snapshot(id, m.index, m.markSources())
	if err != nil {
		return nil, fmt.Errorf("snapshot %d: %w", id, err)
	}
	m.metrics.snapshot.Observe(float64(len(state)))
	m.log.Debug("snapshot", "checkpointID", id, "readers", len(m.readers), "bytes", len(state))
	return state, nil
}

// NotifyCheckpointComplete finalizes the marks captured for checkpoint id and
// forgets that checkpoint along with every older one that is still pending.
// Finalize failures are returned but leave the instance running.
func (m *Multiplexer) NotifyCheckpointComplete(id uint64) error {
	if m.State() == StateCreated {
		return ErrNotOpened
	}

	lock := m.lock.Load()
	lock.Lock()
	defer lock.Unlock()

	finalized, err := m.coordinator.NotifyComplete(id)
	m.metrics.finalized.Add(float64(finalized))
	if err != nil {
		return fmt.Errorf("checkpoint %d complete: %w", id, err)
	}
	return nil
}

// Close cancels the instance and closes every local reader.
func (m *Multiplexer) Close() error {
	m.Cancel()
	lock := m.lock.Load()
	if lock == nil {
		return nil
	}
	lock.Lock()
	defer lock.Unlock()

	m.stopTimer()
	var errs []error
	for _, r := range m.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.readers = nil
	if m.metrics != nil {
		m.metrics.readers.Set(0)
	}
	return errors.Join(errs...)
}

// SplitPartitions returns the global partition list the instance derived its
// readers from.
func (m *Multiplexer) SplitPartitions() []connectors.Partition {
	defer m.lockIfOpen()()
	return slices.Clone(m.splits)
}

// LocalPartitions returns the partitions this instance reads.
func (m *Multiplexer) LocalPartitions() []connectors.Partition {
	defer m.lockIfOpen()()
	return sliceu.Map(m.readers, (*LocalReader).Partition)
}

func (m *Multiplexer) LocalReaderCount() int {
	defer m.lockIfOpen()()
	return len(m.readers)
}

// PendingCheckpoints returns the ids of snapshots awaiting completion.
func (m *Multiplexer) PendingCheckpoints() []uint64 {
	defer m.lockIfOpen()()
	return m.coordinator.Pending()
}

func (m *Multiplexer) markSources() []checkpoints.MarkSource {
	return sliceu.Map(m.readers, func(r *LocalReader) checkpoints.MarkSource { return r })
}

// lockIfOpen takes the host lock once Open has published it and returns the
// matching unlock.
func (m *Multiplexer) lockIfOpen() (unlock func()) {
	lock := m.lock.Load()
	if lock == nil {
		return func() {}
	}
	lock.Lock()
	return lock.Unlock
}
