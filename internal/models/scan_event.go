package models

import "time"

// Scan modes recorded with every scan.
const (
	ScanModeOnline  = "online"
	ScanModeOffline = "offline"
)

// ScanEvent is a single entry of the scan log.
type ScanEvent struct {
	EventID    string     `json:"event_id"`
	OccurredAt time.Time  `json:"occurred_at"`
	Code       string     `json:"code"`
	Type       ResultType `json:"type"`    // VALID | USED | INVALID | ERROR | UNPAID | PRODUCT
	Message    string     `json:"message"` // headline or error message
	Mode       string     `json:"mode"`    // online | offline
}
