package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ticket_desk/internal/hub"
	"ticket_desk/internal/models"
	"ticket_desk/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	bootstrapID   int
	bootstrapErr  error
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	bootstraps         int
	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) Bootstrap(username, password string) (int, error) {
	m.bootstraps++
	return m.bootstrapID, m.bootstrapErr
}
func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockScanner struct {
	outcome   service.ScanOutcome
	err       error
	lastCode  string
	scanCalls int

	asyncErr  error
	lastAsync *bool
}

func (m *mockScanner) Scan(ctx context.Context, code string) (service.ScanOutcome, error) {
	m.scanCalls++
	m.lastCode = code
	return m.outcome, m.err
}

func (m *mockScanner) ToggleAsync(ctx context.Context, enabled bool) error {
	m.lastAsync = &enabled
	return m.asyncErr
}

type mockCards struct {
	mu      sync.Mutex
	cards   []models.ResultCard
	removed []string
}

func (m *mockCards) Cards() []models.ResultCard {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ResultCard(nil), m.cards...)
}

func (m *mockCards) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.cards {
		if c.ID == id {
			m.cards = append(m.cards[:i], m.cards[i+1:]...)
			m.removed = append(m.removed, id)
			return true
		}
	}
	return false
}

type mockMonitoring struct {
	report service.StatusReport
}

func (m *mockMonitoring) GetStatus() service.StatusReport { return m.report }

type mockSyncer struct {
	started bool
	calls   int
}

func (m *mockSyncer) TriggerSync() bool {
	m.calls++
	return m.started
}

type mockEventLog struct {
	resp     []models.ScanEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.ScanEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

type mockSettings struct {
	view      service.SettingsView
	setErr    error
	resetErr  error
	prefsErr  error
	lastEvent service.EventConfig
	lastPrefs service.PreferencesUpdate
	resets    int
}

func (m *mockSettings) GetSettings() service.SettingsView { return m.view }

func (m *mockSettings) SetEvent(ctx context.Context, cfg service.EventConfig) error {
	m.lastEvent = cfg
	if m.setErr == nil {
		m.view.Configured = true
		m.view.APIURL = cfg.APIURL
	}
	return m.setErr
}

func (m *mockSettings) ResetEvent(ctx context.Context) error {
	m.resets++
	if m.resetErr == nil {
		m.view = service.SettingsView{}
	}
	return m.resetErr
}

func (m *mockSettings) UpdatePreferences(ctx context.Context, u service.PreferencesUpdate) error {
	m.lastPrefs = u
	return m.prefsErr
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	return newTestRouterWithHub(s, nil)
}

func newTestRouterWithHub(s *service.Service, h *hub.Hub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewHandler(s, h, nil).InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
