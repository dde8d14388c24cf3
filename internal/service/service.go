package service

import (
	"context"
	"net/http"

	"ticket_desk/internal/backend"
	"ticket_desk/internal/clock"
	"ticket_desk/internal/config"
	"ticket_desk/internal/hub"
	"ticket_desk/internal/logger"
	"ticket_desk/internal/models"
	"ticket_desk/internal/repository"
)

// Authorization manages operator accounts. Bootstrap only succeeds on a
// terminal without operators; SignUp is for signed-in operators.
type Authorization interface {
	Bootstrap(username, password string) (int, error)
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Scanner is the scan entry point of the kiosk.
type Scanner interface {
	Scan(ctx context.Context, code string) (ScanOutcome, error)
	ToggleAsync(ctx context.Context, enabled bool) error
}

// CardList exposes the visible result cards.
type CardList interface {
	Cards() []models.ResultCard
	Remove(id string) bool
}

// Monitoring exposes the cached status texts.
type Monitoring interface {
	GetStatus() StatusReport
}

// Syncer starts a sync pass on demand.
type Syncer interface {
	TriggerSync() bool
}

// EventLog exposes the scan log with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.ScanEvent, error)
}

// Settings manages the event configuration and display preferences.
type Settings interface {
	GetSettings() SettingsView
	SetEvent(ctx context.Context, cfg EventConfig) error
	ResetEvent(ctx context.Context) error
	UpdatePreferences(ctx context.Context, u PreferencesUpdate) error
}

// Service aggregates all sub-services used by the HTTP layer.
type Service struct {
	Authorization
	Scanner
	CardList
	Monitoring
	Syncer
	EventLog
	Settings

	closers []func()
}

// Deps are the process-wide dependencies NewService wires together.
type Deps struct {
	Config     *config.Config
	Repos      *repository.Repository
	Hub        *hub.Hub
	Clock      clock.Clock
	HTTPClient *http.Client
	AppVersion string
	Log        *logger.Logger
}

// NewService builds every component and starts the sync scheduler.
// Close must be called on shutdown.
func NewService(d Deps) *Service {
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	cfg := d.Config

	store := NewConfigStore(d.Repos.Prefs, d.Repos.Blobs, d.AppVersion)
	client := backend.NewClient(d.HTTPClient, store, d.Repos.Tickets, clk, d.Log)

	status := NewStatusService(store, client, clk)
	scheduler := NewSyncScheduler(SchedulerConfig{
		StatusInterval:  cfg.Sync.StatusInterval,
		TriggerInterval: cfg.Sync.TriggerInterval,
		SyncTimeout:     cfg.Sync.Timeout,
	}, client, status, store, d.Hub, clk, d.Log)

	cards := NewCardQueue(cfg.Scan.CardTTL, clk, d.Hub)
	provider := NewModeSwitchProvider(store, client, NewOfflineCheckProvider(d.Repos.Tickets, clk))
	scanner := NewScanOrchestrator(OrchestratorConfig{
		CheckTimeout: cfg.Scan.CheckTimeout,
		BusyPolicy:   cfg.Scan.BusyPolicy,
		ClearOnScan:  cfg.Scan.ClearOnScan,
	}, provider, scheduler, cards, d.Repos.Scans, store, clk, d.Log)

	return &Service{
		Authorization: NewAuthService(d.Repos.Auth, cfg.Auth.SigningKey, cfg.Auth.TokenTTL),
		Scanner:       scanner,
		CardList:      cards,
		Monitoring:    NewMonitoringService(store, scheduler, scanner),
		Syncer:        scheduler,
		EventLog:      NewScanLogService(d.Repos.Scans),
		Settings:      NewSettingsService(store, d.Repos.Tickets, cards, scheduler, d.Log),
		closers:       []func(){scheduler.Stop, cards.Close},
	}
}

// Close stops the timers. Running sync passes finish in the background.
func (s *Service) Close() {
	for _, c := range s.closers {
		c()
	}
}
