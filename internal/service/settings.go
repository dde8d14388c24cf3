package service

import (
	"context"

	"ticket_desk/internal/logger"
	"ticket_desk/internal/repository"
)

// PreferencesUpdate changes display preferences. Nil fields are left alone.
type PreferencesUpdate struct {
	ShowInfo    *bool `json:"show_info"`
	AllowSearch *bool `json:"allow_search"`
	PlaySound   *bool `json:"play_sound"`
	AsyncMode   *bool `json:"async_mode"`
}

// EventSyncer restarts synchronization when the event changes.
type EventSyncer interface {
	// Resync aborts a running pass and starts a fresh one.
	Resync()
	CancelSync()
}

// SettingsService attaches the terminal to an event or detaches it. The
// ticket cache and the visible cards belong to the event and are dropped
// with it.
type SettingsService struct {
	store   *ConfigStore
	tickets repository.TicketRepo
	cards   *CardQueue
	sync    EventSyncer
	log     *logger.Logger
}

func NewSettingsService(store *ConfigStore, tickets repository.TicketRepo, cards *CardQueue, syncer EventSyncer, log *logger.Logger) *SettingsService {
	return &SettingsService{
		store:   store,
		tickets: tickets,
		cards:   cards,
		sync:    syncer,
		log:     logger.OrNop(log).Named("settings"),
	}
}

func (s *SettingsService) GetSettings() SettingsView {
	return s.store.Snapshot()
}

// SetEvent stores cfg, drops the old event's data and starts a first sync.
// A pass still running for the old event is aborted and its results are
// discarded.
func (s *SettingsService) SetEvent(ctx context.Context, cfg EventConfig) error {
	if err := s.store.SetEventConfig(ctx, cfg); err != nil {
		return err
	}
	s.dropEventData(ctx)
	s.log.Infow("event_configured", "api_url", cfg.APIURL, "api_version", cfg.APIVersion)

	if s.sync != nil {
		s.sync.Resync()
	}
	return nil
}

// ResetEvent leaves the terminal unconfigured and aborts a running pass.
func (s *SettingsService) ResetEvent(ctx context.Context) error {
	if err := s.store.ResetEventConfig(ctx); err != nil {
		return err
	}
	if s.sync != nil {
		s.sync.CancelSync()
	}
	s.dropEventData(ctx)
	s.log.Infow("event_reset")
	return nil
}

func (s *SettingsService) dropEventData(ctx context.Context) {
	if s.tickets != nil {
		if err := s.tickets.Clear(ctx); err != nil {
			s.log.Errorw("ticket_cache_clear_failed", "err", err)
		}
	}
	if s.cards != nil {
		s.cards.Clear()
	}
}

// UpdatePreferences applies every non-nil field. It stops at the first
// failed write.
func (s *SettingsService) UpdatePreferences(ctx context.Context, u PreferencesUpdate) error {
	type setter struct {
		v   *bool
		set func(context.Context, bool) error
	}
	for _, st := range []setter{
		{u.ShowInfo, s.store.SetShowInfo},
		{u.AllowSearch, s.store.SetAllowSearch},
		{u.PlaySound, s.store.SetPlaySound},
		{u.AsyncMode, s.store.SetAsyncModeEnabled},
	} {
		if st.v == nil {
			continue
		}
		if err := st.set(ctx, *st.v); err != nil {
			return err
		}
	}
	return nil
}
