package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ticket_desk/internal/clock"
	"ticket_desk/internal/hub"
	"ticket_desk/internal/logger"
)

// recordTimeout bounds writing the outcome of a pass. It starts after the
// pass has finished, so a pass that ran out of time is still recorded.
const recordTimeout = 5 * time.Second

// SyncRunner runs one synchronization pass against the backend for the
// configuration generation gen.
type SyncRunner interface {
	RunSyncPass(ctx context.Context, gen uint64) error
}

// StatusSource produces the status texts.
type StatusSource interface {
	Text() string
	LongText() string
}

// SyncRecorder is where sync outcomes are written. The Record methods
// return ErrConfigChanged when gen is no longer current.
type SyncRecorder interface {
	IsConfigured() bool
	Generation() uint64
	RecordSyncSuccess(ctx context.Context, gen uint64, at time.Time) error
	RecordSyncFailure(ctx context.Context, gen uint64, at time.Time, msg string) error
}

type SchedulerConfig struct {
	StatusInterval  time.Duration
	TriggerInterval time.Duration
	// SyncTimeout bounds a single sync pass.
	SyncTimeout time.Duration
}

// StatusUpdate is published on the hub after every status refresh.
type StatusUpdate struct {
	Text     string `json:"text"`
	LongText string `json:"long_text"`
}

// SyncScheduler owns the two periodic jobs: refreshing the status text
// and running sync passes. Both are single-flight.
type SyncScheduler struct {
	cfg    SchedulerConfig
	runner SyncRunner
	status StatusSource
	store  SyncRecorder
	hub    *hub.Hub
	clock  clock.Clock
	log    *logger.Logger

	statusBusy atomic.Bool
	syncBusy   atomic.Bool
	// rerun asks the running pass loop for one more pass.
	rerun atomic.Bool
	text  atomic.Pointer[StatusUpdate]

	passMu     sync.Mutex
	passCancel context.CancelFunc

	cancel   context.CancelFunc
	stopOnce sync.Once
	// inflight tracks background work for tests; Stop never waits on it.
	inflight sync.WaitGroup
}

// NewSyncScheduler starts both timers immediately.
func NewSyncScheduler(cfg SchedulerConfig, runner SyncRunner, status StatusSource, store SyncRecorder,
	h *hub.Hub, clk clock.Clock, log *logger.Logger) *SyncScheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 2 * time.Minute
	}
	s := &SyncScheduler{
		cfg:    cfg,
		runner: runner,
		status: status,
		store:  store,
		hub:    h,
		clock:  clk,
		log:    logger.OrNop(log).Named("scheduler"),
	}
	s.text.Store(&StatusUpdate{})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	statusTicker := clk.NewTicker(cfg.StatusInterval)
	syncTicker := clk.NewTicker(cfg.TriggerInterval)
	go s.run(ctx, statusTicker, s.RefreshStatus)
	go s.run(ctx, syncTicker, func() { s.TriggerSync() })
	return s
}

// run calls fn on every tick until ctx is canceled.
func (s *SyncScheduler) run(ctx context.Context, t *clock.Ticker, fn func()) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// Stop may race with a tick that was already delivered.
			if ctx.Err() != nil {
				return
			}
			fn()
		}
	}
}

// RefreshStatus recomputes the status text in the background. It is a
// no-op while the previous computation is still running.
func (s *SyncScheduler) RefreshStatus() {
	if !s.statusBusy.CompareAndSwap(false, true) {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.statusBusy.Store(false)

		upd := &StatusUpdate{Text: s.status.Text(), LongText: s.status.LongText()}
		s.text.Store(upd)
		if s.hub != nil {
			s.hub.Publish(hub.Event{Type: hub.EventStatus, Data: *upd})
		}
	}()
}

func (s *SyncScheduler) StatusText() string     { return s.text.Load().Text }
func (s *SyncScheduler) StatusLongText() string { return s.text.Load().LongText }

// TriggerSync starts a sync pass in the background and returns true, or
// returns false if a pass is already running. The pass outlives Stop;
// it is bounded only by SyncTimeout.
func (s *SyncScheduler) TriggerSync() bool {
	if !s.syncBusy.CompareAndSwap(false, true) {
		return false
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		for {
			s.pass()
			s.syncBusy.Store(false)
			if !s.rerun.Swap(false) || !s.syncBusy.CompareAndSwap(false, true) {
				return
			}
		}
	}()
	return true
}

// CancelSync aborts the running pass, if any.
func (s *SyncScheduler) CancelSync() {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	if s.passCancel != nil {
		s.passCancel()
	}
}

// Resync aborts the running pass and makes sure a fresh one follows it.
// It is used after the event configuration changed.
func (s *SyncScheduler) Resync() {
	s.CancelSync()
	if s.TriggerSync() {
		return
	}
	s.rerun.Store(true)
	// the running loop may have exited before it saw the flag
	if s.TriggerSync() {
		s.rerun.Store(false)
	}
}

// Syncing reports whether a sync pass is running.
func (s *SyncScheduler) Syncing() bool { return s.syncBusy.Load() }

func (s *SyncScheduler) pass() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SyncTimeout)
	s.passMu.Lock()
	s.passCancel = cancel
	s.passMu.Unlock()

	defer func() {
		s.passMu.Lock()
		s.passCancel = nil
		s.passMu.Unlock()
		cancel()
	}()
	s.syncOnce(ctx)
}

func (s *SyncScheduler) syncOnce(ctx context.Context) {
	gen := s.store.Generation()
	if !s.store.IsConfigured() {
		return
	}

	err := s.runPass(ctx, gen)
	now := s.clock.Now()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err != nil {
		// a pass canceled for a new configuration is not a failure
		if errors.Is(err, ErrConfigChanged) || s.store.Generation() != gen {
			s.log.Infow("sync_discarded", "reason", "event changed", "err", err)
			return
		}
		s.log.Errorw("sync_failed", "err", &SyncError{Err: err})
		s.record(s.store.RecordSyncFailure(rctx, gen, now, err.Error()))
		return
	}

	s.log.Debugw("sync_completed")
	s.record(s.store.RecordSyncSuccess(rctx, gen, now))
}

func (s *SyncScheduler) record(err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrConfigChanged):
		s.log.Infow("sync_discarded", "reason", "event changed")
	default:
		s.log.Errorw("sync_record_failed", "err", err)
	}
}

// runPass turns a panicking runner into an error so the scheduler
// keeps ticking.
func (s *SyncScheduler) runPass(ctx context.Context, gen uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return s.runner.RunSyncPass(ctx, gen)
}

// Stop cancels both timers. It is idempotent and does not wait for a
// running sync or status computation.
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.log.Infow("scheduler_stopped")
	})
}

// wait blocks until background work has finished.
func (s *SyncScheduler) wait() { s.inflight.Wait() }
