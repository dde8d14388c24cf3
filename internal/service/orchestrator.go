package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ticket_desk/internal/clock"
	"ticket_desk/internal/config"
	"ticket_desk/internal/logger"
	"ticket_desk/internal/models"
	"ticket_desk/internal/repository"

	"github.com/google/uuid"
)

// CheckProvider validates one scanned code.
type CheckProvider interface {
	Check(ctx context.Context, code string) (models.CheckResult, error)
}

// SyncTrigger requests a sync pass without waiting for it.
type SyncTrigger interface {
	TriggerSync() bool
}

// ModeStore persists the offline scanning switch.
type ModeStore interface {
	AsyncModeEnabled() bool
	SetAsyncModeEnabled(ctx context.Context, enabled bool) error
}

type ScanState int32

const (
	StateIdle ScanState = iota
	StateChecking
	StatePresenting
)

func (s ScanState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StatePresenting:
		return "presenting"
	default:
		return "unknown"
	}
}

type OrchestratorConfig struct {
	CheckTimeout time.Duration
	BusyPolicy   string
	ClearOnScan  bool
}

// ScanOutcome is the result of a scan and the card showing it.
type ScanOutcome struct {
	Result models.CheckResult `json:"result"`
	Card   models.ResultCard  `json:"card"`
}

// ScanOrchestrator runs at most one check at a time and hands every
// result to the card queue.
type ScanOrchestrator struct {
	cfg      OrchestratorConfig
	provider CheckProvider
	sync     SyncTrigger
	cards    *CardQueue
	scans    repository.ScanEventRepo
	mode     ModeStore
	clock    clock.Clock
	log      *logger.Logger

	slot    chan struct{}
	waiting atomic.Bool
	state   atomic.Int32
}

func NewScanOrchestrator(cfg OrchestratorConfig, provider CheckProvider, trigger SyncTrigger, cards *CardQueue,
	scans repository.ScanEventRepo, mode ModeStore, clk clock.Clock, log *logger.Logger) *ScanOrchestrator {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.BusyPolicy == "" {
		cfg.BusyPolicy = config.BusyPolicyDrop
	}
	return &ScanOrchestrator{
		cfg:      cfg,
		provider: provider,
		sync:     trigger,
		cards:    cards,
		scans:    scans,
		mode:     mode,
		clock:    clk,
		log:      logger.OrNop(log).Named("scan"),
		slot:     make(chan struct{}, 1),
	}
}

func (o *ScanOrchestrator) State() ScanState { return ScanState(o.state.Load()) }

// HandleInput checks code and returns the result.
func (o *ScanOrchestrator) HandleInput(ctx context.Context, code string) (models.CheckResult, error) {
	out, err := o.Scan(ctx, code)
	if err != nil {
		return models.CheckResult{}, err
	}
	return out.Result, nil
}

// Scan checks code, shows the result card and requests a sync.
//
// Blank input returns ErrEmptyInput. A scan arriving while another is
// being checked returns ErrBusy, or waits for it when the busy policy is
// "queue" and nobody else is waiting. Provider failures never surface as
// errors; they become an ERROR result.
func (o *ScanOrchestrator) Scan(ctx context.Context, code string) (ScanOutcome, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return ScanOutcome{}, ErrEmptyInput
	}

	if err := o.acquire(ctx); err != nil {
		return ScanOutcome{}, err
	}
	defer o.release()

	o.state.Store(int32(StateChecking))
	result := o.check(ctx, code)

	o.state.Store(int32(StatePresenting))
	if o.cfg.ClearOnScan {
		o.cards.Clear()
	}
	card := o.cards.Push(result)

	if o.sync != nil {
		o.sync.TriggerSync()
	}
	o.record(ctx, code, result)

	o.log.Infow("scan_completed", "type", result.Type, "card_id", card.ID)
	return ScanOutcome{Result: result, Card: card}, nil
}

func (o *ScanOrchestrator) acquire(ctx context.Context) error {
	select {
	case o.slot <- struct{}{}:
		return nil
	default:
	}

	if o.cfg.BusyPolicy != config.BusyPolicyQueue || !o.waiting.CompareAndSwap(false, true) {
		o.log.Debugw("scan_rejected_busy")
		return ErrBusy
	}
	defer o.waiting.Store(false)

	select {
	case o.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *ScanOrchestrator) release() {
	o.state.Store(int32(StateIdle))
	<-o.slot
}

// check calls the provider. The call is detached from the caller's
// cancellation so an abandoned request still produces a card.
func (o *ScanOrchestrator) check(ctx context.Context, code string) (res models.CheckResult) {
	ctx = context.WithoutCancel(ctx)
	if o.cfg.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.CheckTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res = o.providerFailure(&CheckProviderError{Code: code, Err: panicError(r)})
		}
	}()

	res, err := o.provider.Check(ctx, code)
	if err != nil {
		return o.providerFailure(&CheckProviderError{Code: code, Err: err})
	}
	return res
}

func (o *ScanOrchestrator) providerFailure(err *CheckProviderError) models.CheckResult {
	o.log.Errorw("check_failed", "err", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorResult("Request timed out")
	}
	return models.ErrorResult(err.Err.Error())
}

func (o *ScanOrchestrator) record(ctx context.Context, code string, result models.CheckResult) {
	if o.scans == nil {
		return
	}
	mode := models.ScanModeOnline
	if o.mode != nil && o.mode.AsyncModeEnabled() {
		mode = models.ScanModeOffline
	}
	msg := result.Message
	if msg == "" {
		msg = result.Headline()
	}
	ev := models.ScanEvent{
		EventID:    uuid.NewString(),
		OccurredAt: o.clock.Now().UTC(),
		Code:       code,
		Type:       result.Type,
		Message:    msg,
		Mode:       mode,
	}
	if err := o.scans.Append(context.WithoutCancel(ctx), ev); err != nil {
		o.log.Errorw("scan_log_append_failed", "err", err)
	}
}

// ToggleAsync switches between online and offline scanning.
func (o *ScanOrchestrator) ToggleAsync(ctx context.Context, enabled bool) error {
	if err := o.mode.SetAsyncModeEnabled(ctx, enabled); err != nil {
		return err
	}
	o.log.Infow("scan_mode_changed", "async", enabled)
	return nil
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
