package models

import "time"

// Ticket is a cached ticket row used for offline checks.
type Ticket struct {
	Secret           string `json:"secret"`
	OrderCode        string `json:"order"`
	AttendeeName     string `json:"attendee_name"`
	Item             string `json:"item"`
	Variation        string `json:"variation"`
	Paid             bool   `json:"paid"`
	Redeemed         bool   `json:"redeemed"`
	RequireAttention bool   `json:"checkin_attention"`
}

// QueuedCheckin is an offline redemption waiting for upload.
type QueuedCheckin struct {
	Nonce      string    `json:"nonce"`
	Secret     string    `json:"secret"`
	DateTime   time.Time `json:"datetime"`
	UploadedAt time.Time `json:"-"`
}
