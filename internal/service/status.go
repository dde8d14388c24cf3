package service

import (
	"fmt"
	"strings"
	"time"

	"ticket_desk/internal/clock"

	"github.com/dustin/go-humanize"
)

// Connectivity reports whether the backend was reachable last time.
type Connectivity interface {
	Online() bool
}

// SyncState is the part of ConfigStore the status texts are built from.
type SyncState interface {
	IsConfigured() bool
	LastSync() time.Time
	LastFailedSync() time.Time
	LastFailedSyncMessage() string
	LastDownload() time.Time
	AsyncModeEnabled() bool
}

// StatusService renders the sync status shown in the kiosk footer and in
// the status dialog.
type StatusService struct {
	state SyncState
	conn  Connectivity
	clock clock.Clock
}

func NewStatusService(state SyncState, conn Connectivity, clk clock.Clock) *StatusService {
	if clk == nil {
		clk = clock.Real()
	}
	return &StatusService{state: state, conn: conn, clock: clk}
}

func (s *StatusService) since(t time.Time) string {
	return humanize.RelTime(t, s.clock.Now(), "ago", "from now")
}

// Text is the one-line status.
func (s *StatusService) Text() string {
	if !s.state.IsConfigured() {
		return "Not configured"
	}

	var text string
	lastSync := s.state.LastSync()
	lastFailed := s.state.LastFailedSync()
	switch {
	case !lastFailed.IsZero() && lastFailed.After(lastSync):
		text = "Sync failed " + s.since(lastFailed)
	case lastSync.IsZero():
		text = "Never synchronized"
	default:
		text = "Synchronized " + s.since(lastSync)
	}

	if s.conn != nil && !s.conn.Online() {
		text += " (offline)"
	}
	return text
}

// LongText is the multi-line status for the details dialog.
func (s *StatusService) LongText() string {
	if !s.state.IsConfigured() {
		return "The terminal is not configured for an event."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last successful sync: %s\n", s.describe(s.state.LastSync()))
	fmt.Fprintf(&b, "Last failed sync: %s\n", s.describe(s.state.LastFailedSync()))
	if msg := s.state.LastFailedSyncMessage(); msg != "" && !s.state.LastFailedSync().IsZero() {
		fmt.Fprintf(&b, "Error: %s\n", msg)
	}
	fmt.Fprintf(&b, "Last ticket download: %s\n", s.describe(s.state.LastDownload()))

	conn := "online"
	if s.conn != nil && !s.conn.Online() {
		conn = "offline"
	}
	fmt.Fprintf(&b, "Connection: %s\n", conn)

	mode := "online"
	if s.state.AsyncModeEnabled() {
		mode = "offline"
	}
	fmt.Fprintf(&b, "Scan mode: %s", mode)
	return b.String()
}

func (s *StatusService) describe(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04:05"), s.since(t))
}
