package service

// StatusReport is what the kiosk footer polls.
type StatusReport struct {
	Configured bool   `json:"configured"`
	Text       string `json:"text"`
	LongText   string `json:"long_text"`
	AsyncMode  bool   `json:"async_mode"`
	Syncing    bool   `json:"syncing"`
	ScanState  string `json:"scan_state"`
}

// MonitoringService exposes the latest status computed by the scheduler
// together with the current scan state.
type MonitoringService struct {
	store     *ConfigStore
	scheduler *SyncScheduler
	scanner   *ScanOrchestrator
}

func NewMonitoringService(store *ConfigStore, scheduler *SyncScheduler, scanner *ScanOrchestrator) *MonitoringService {
	return &MonitoringService{store: store, scheduler: scheduler, scanner: scanner}
}

// GetStatus never blocks on the status computation; it returns the text
// from the last refresh tick.
func (s *MonitoringService) GetStatus() StatusReport {
	return StatusReport{
		Configured: s.store.IsConfigured(),
		Text:       s.scheduler.StatusText(),
		LongText:   s.scheduler.StatusLongText(),
		AsyncMode:  s.store.AsyncModeEnabled(),
		Syncing:    s.scheduler.Syncing(),
		ScanState:  s.scanner.State().String(),
	}
}
