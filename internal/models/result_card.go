package models

import "time"

// ResultCard is one displayed scan result. Cards are owned by the card
// queue; callers only ever see copies.
type ResultCard struct {
	ID        string      `json:"id"`
	Result    CheckResult `json:"result"`
	Headline  string      `json:"headline"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}
