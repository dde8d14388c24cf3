package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticket_desk/internal/clock"
	"ticket_desk/internal/config"
	"ticket_desk/internal/models"
)

type providerFunc func(ctx context.Context, code string) (models.CheckResult, error)

func (f providerFunc) Check(ctx context.Context, code string) (models.CheckResult, error) {
	return f(ctx, code)
}

type countingTrigger struct{ n atomic.Int32 }

func (c *countingTrigger) TriggerSync() bool {
	c.n.Add(1)
	return true
}

type memMode struct {
	mu    sync.Mutex
	async bool
	err   error
}

func (m *memMode) AsyncModeEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.async
}

func (m *memMode) SetAsyncModeEnabled(_ context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.async = enabled
	return nil
}

type orchFixture struct {
	orch    *ScanOrchestrator
	cards   *CardQueue
	trigger *countingTrigger
	scans   *recordingScans
	mode    *memMode
	clk     *clock.FakeClock
}

func newOrchFixture(t *testing.T, cfg OrchestratorConfig, p CheckProvider) *orchFixture {
	t.Helper()
	f := &orchFixture{
		trigger: &countingTrigger{},
		scans:   &recordingScans{},
		mode:    &memMode{},
		clk:     clock.Fake(testStart),
	}
	f.cards = NewCardQueue(DefaultCardTTL, f.clk, nil)
	f.orch = NewScanOrchestrator(cfg, p, f.trigger, f.cards, f.scans, f.mode, f.clk, nil)
	return f
}

func staticProvider(res models.CheckResult) CheckProvider {
	return providerFunc(func(context.Context, string) (models.CheckResult, error) { return res, nil })
}

// blockingProvider signals entered and holds the check until release is closed.
type blockingProvider struct {
	entered chan string
	release chan struct{}
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{entered: make(chan string, 4), release: make(chan struct{})}
}

func (b *blockingProvider) Check(_ context.Context, code string) (models.CheckResult, error) {
	b.entered <- code
	<-b.release
	return models.CheckResult{Type: models.ResultValid}, nil
}

func TestScanOrchestrator_ValidScan(t *testing.T) {
	f := newOrchFixture(t, OrchestratorConfig{ClearOnScan: true},
		staticProvider(models.CheckResult{Type: models.ResultValid, AttendeeName: "Jane Doe"}))

	out, err := f.orch.Scan(context.Background(), "  TICKET-1\n")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out.Result.Type != models.ResultValid || out.Result.AttendeeName != "Jane Doe" {
		t.Fatalf("unexpected result %+v", out.Result)
	}

	cards := f.cards.Cards()
	if len(cards) != 1 || cards[0].ID != out.Card.ID || cards[0].Headline != "VALID" {
		t.Fatalf("expected exactly one VALID card, got %+v", cards)
	}
	if got := f.trigger.n.Load(); got != 1 {
		t.Fatalf("expected one sync trigger per scan, got %d", got)
	}
	if f.orch.State() != StateIdle {
		t.Fatalf("state after scan = %v", f.orch.State())
	}

	if len(f.scans.events) != 1 {
		t.Fatalf("scan must be logged once, got %d", len(f.scans.events))
	}
	ev := f.scans.events[0]
	if ev.Code != "TICKET-1" || ev.Type != models.ResultValid || ev.Message != "VALID" || ev.Mode != models.ScanModeOnline {
		t.Fatalf("unexpected scan event %+v", ev)
	}
	if !ev.OccurredAt.Equal(testStart) {
		t.Fatalf("OccurredAt = %v", ev.OccurredAt)
	}
}

func TestScanOrchestrator_EmptyInputIsIgnored(t *testing.T) {
	called := false
	f := newOrchFixture(t, OrchestratorConfig{}, providerFunc(func(context.Context, string) (models.CheckResult, error) {
		called = true
		return models.CheckResult{}, nil
	}))

	for _, in := range []string{"", "   ", "\n\t"} {
		if _, err := f.orch.Scan(context.Background(), in); !errors.Is(err, ErrEmptyInput) {
			t.Fatalf("Scan(%q) err = %v; want ErrEmptyInput", in, err)
		}
	}
	if called || f.cards.Len() != 0 || f.trigger.n.Load() != 0 || len(f.scans.events) != 0 {
		t.Fatalf("blank input must have no side effects")
	}
}

func TestScanOrchestrator_ProviderErrorBecomesErrorCard(t *testing.T) {
	f := newOrchFixture(t, OrchestratorConfig{}, providerFunc(func(context.Context, string) (models.CheckResult, error) {
		return models.CheckResult{}, errors.New("connection refused")
	}))

	out, err := f.orch.Scan(context.Background(), "TICKET-1")
	if err != nil {
		t.Fatalf("provider failure must not surface as an error: %v", err)
	}
	if out.Result.Type != models.ResultError || out.Result.Message != "connection refused" {
		t.Fatalf("unexpected result %+v", out.Result)
	}
	if f.cards.Len() != 1 || f.trigger.n.Load() != 1 {
		t.Fatalf("error results still produce a card and a sync trigger")
	}
	if f.scans.events[0].Message != "connection refused" {
		t.Fatalf("scan log message = %q", f.scans.events[0].Message)
	}
}

func TestScanOrchestrator_ProviderPanicBecomesErrorCard(t *testing.T) {
	f := newOrchFixture(t, OrchestratorConfig{}, providerFunc(func(context.Context, string) (models.CheckResult, error) {
		panic("nil map")
	}))

	out, err := f.orch.Scan(context.Background(), "TICKET-1")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out.Result.Type != models.ResultError || out.Result.Message != "panic: nil map" {
		t.Fatalf("unexpected result %+v", out.Result)
	}
	if f.orch.State() != StateIdle {
		t.Fatalf("orchestrator must return to idle after a panic")
	}
}

func TestScanOrchestrator_CheckTimeout(t *testing.T) {
	f := newOrchFixture(t, OrchestratorConfig{CheckTimeout: 20 * time.Millisecond},
		providerFunc(func(ctx context.Context, _ string) (models.CheckResult, error) {
			<-ctx.Done()
			return models.CheckResult{}, ctx.Err()
		}))

	out, err := f.orch.Scan(context.Background(), "TICKET-1")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out.Result.Type != models.ResultError || out.Result.Message != "Request timed out" {
		t.Fatalf("unexpected result %+v", out.Result)
	}
}

func TestScanOrchestrator_CheckIgnoresCallerCancellation(t *testing.T) {
	f := newOrchFixture(t, OrchestratorConfig{}, providerFunc(func(ctx context.Context, _ string) (models.CheckResult, error) {
		if ctx.Err() != nil {
			return models.CheckResult{}, ctx.Err()
		}
		return models.CheckResult{Type: models.ResultUsed}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := f.orch.Scan(ctx, "TICKET-1")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out.Result.Type != models.ResultUsed || f.cards.Len() != 1 {
		t.Fatalf("an abandoned request must still produce its card: %+v", out.Result)
	}
}

func TestScanOrchestrator_BusyDropPolicy(t *testing.T) {
	p := newBlockingProvider()
	f := newOrchFixture(t, OrchestratorConfig{BusyPolicy: config.BusyPolicyDrop}, p)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Scan(context.Background(), "FIRST")
		done <- err
	}()
	<-p.entered
	if f.orch.State() != StateChecking {
		t.Fatalf("state while checking = %v", f.orch.State())
	}

	if _, err := f.orch.Scan(context.Background(), "SECOND"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second scan err = %v; want ErrBusy", err)
	}

	close(p.release)
	if err := <-done; err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if f.cards.Len() != 1 || f.trigger.n.Load() != 1 || len(f.scans.events) != 1 {
		t.Fatalf("dropped scan must have no side effects")
	}
}

func TestScanOrchestrator_BusyQueuePolicy(t *testing.T) {
	p := newBlockingProvider()
	f := newOrchFixture(t, OrchestratorConfig{BusyPolicy: config.BusyPolicyQueue}, p)

	results := make(chan error, 2)
	go func() {
		_, err := f.orch.Scan(context.Background(), "FIRST")
		results <- err
	}()
	<-p.entered

	go func() {
		_, err := f.orch.Scan(context.Background(), "SECOND")
		results <- err
	}()
	// wait until the second scan holds the single waiting slot
	deadline := time.Now().Add(2 * time.Second)
	for !f.orch.waiting.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("second scan never started waiting")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := f.orch.Scan(context.Background(), "THIRD"); !errors.Is(err, ErrBusy) {
		t.Fatalf("third scan err = %v; want ErrBusy", err)
	}

	close(p.release)
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("queued scans must succeed: %v", err)
		}
	}
	if got := <-p.entered; got != "SECOND" {
		t.Fatalf("second check code = %q", got)
	}
	if len(f.scans.events) != 2 {
		t.Fatalf("expected two logged scans, got %d", len(f.scans.events))
	}
}

func TestScanOrchestrator_QueuedScanHonoursContext(t *testing.T) {
	p := newBlockingProvider()
	f := newOrchFixture(t, OrchestratorConfig{BusyPolicy: config.BusyPolicyQueue}, p)

	go f.orch.Scan(context.Background(), "FIRST") //nolint:errcheck
	<-p.entered
	defer close(p.release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.orch.Scan(ctx, "SECOND"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v; want deadline exceeded", err)
	}
	if f.orch.waiting.Load() {
		t.Fatalf("waiting slot must be released")
	}
}

func TestScanOrchestrator_ClearOnScan(t *testing.T) {
	res := staticProvider(models.CheckResult{Type: models.ResultInvalid})

	keep := newOrchFixture(t, OrchestratorConfig{ClearOnScan: false}, res)
	keep.orch.Scan(context.Background(), "A") //nolint:errcheck
	keep.orch.Scan(context.Background(), "B") //nolint:errcheck
	if keep.cards.Len() != 2 {
		t.Fatalf("cards must accumulate, got %d", keep.cards.Len())
	}

	cleared := newOrchFixture(t, OrchestratorConfig{ClearOnScan: true}, res)
	cleared.orch.Scan(context.Background(), "A") //nolint:errcheck
	cleared.orch.Scan(context.Background(), "B") //nolint:errcheck
	if cleared.cards.Len() != 1 {
		t.Fatalf("a new scan must replace the previous card, got %d", cleared.cards.Len())
	}
}

func TestScanOrchestrator_ScanLogFailureIsBestEffort(t *testing.T) {
	f := newOrchFixture(t, OrchestratorConfig{}, staticProvider(models.CheckResult{Type: models.ResultValid}))
	f.scans.appendErr = errors.New("database is locked")

	if _, err := f.orch.Scan(context.Background(), "TICKET-1"); err != nil {
		t.Fatalf("scan log failure must not fail the scan: %v", err)
	}
	if f.cards.Len() != 1 {
		t.Fatalf("card must still be shown")
	}
}

func TestScanOrchestrator_ToggleAsync(t *testing.T) {
	f := newOrchFixture(t, OrchestratorConfig{}, staticProvider(models.CheckResult{Type: models.ResultValid}))

	if err := f.orch.ToggleAsync(context.Background(), true); err != nil {
		t.Fatalf("ToggleAsync: %v", err)
	}
	f.orch.Scan(context.Background(), "TICKET-1") //nolint:errcheck
	if f.scans.events[0].Mode != models.ScanModeOffline {
		t.Fatalf("scan mode = %q; want offline", f.scans.events[0].Mode)
	}

	f.mode.err = errors.New("disk full")
	if err := f.orch.ToggleAsync(context.Background(), false); err == nil {
		t.Fatalf("expected persistence error")
	}
	if !f.mode.AsyncModeEnabled() {
		t.Fatalf("failed toggle must leave the mode unchanged")
	}
}

func TestScanOrchestrator_HandleInput(t *testing.T) {
	f := newOrchFixture(t, OrchestratorConfig{}, staticProvider(models.CheckResult{Type: models.ResultUnpaid}))

	res, err := f.orch.HandleInput(context.Background(), "TICKET-1")
	if err != nil || res.Type != models.ResultUnpaid {
		t.Fatalf("HandleInput = (%+v, %v)", res, err)
	}
	if _, err := f.orch.HandleInput(context.Background(), " "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v", err)
	}
}
