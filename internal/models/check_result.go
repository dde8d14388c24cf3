package models

// ResultType classifies the outcome of a ticket check.
type ResultType string

const (
	ResultValid   ResultType = "VALID"
	ResultUsed    ResultType = "USED"
	ResultInvalid ResultType = "INVALID"
	ResultError   ResultType = "ERROR"
	ResultUnpaid  ResultType = "UNPAID"
	ResultProduct ResultType = "PRODUCT"
)

// AttentionText is shown with results that require operator attention.
const AttentionText = "Attention, special ticket!"

// CheckResult is the outcome of checking one scanned code. Values are
// produced by a check provider and never modified afterwards.
type CheckResult struct {
	Type             ResultType `json:"type"`
	Message          string     `json:"message,omitempty"`
	Ticket           string     `json:"ticket,omitempty"`
	Variation        string     `json:"variation,omitempty"`
	AttendeeName     string     `json:"attendee_name,omitempty"`
	OrderCode        string     `json:"order_code,omitempty"`
	RequireAttention bool       `json:"require_attention"`
}

// ErrorResult builds an ERROR result carrying msg.
func ErrorResult(msg string) CheckResult {
	return CheckResult{Type: ResultError, Message: msg}
}

// Headline is the large card title for the result type.
func (r CheckResult) Headline() string {
	switch r.Type {
	case ResultValid:
		return "VALID"
	case ResultUsed:
		return "ALREADY SCANNED"
	case ResultInvalid:
		return "UNKNOWN TICKET"
	case ResultError:
		return "ERROR"
	case ResultUnpaid:
		return "NOT PAID"
	case ResultProduct:
		return "INVALID PRODUCT"
	default:
		return "UNKNOWN ERROR"
	}
}

// TicketLine joins ticket and variation for display. Some backends send
// the literal string "null" for a missing variation.
func (r CheckResult) TicketLine() string {
	if r.Variation == "" || r.Variation == "null" {
		return r.Ticket
	}
	return r.Ticket + " – " + r.Variation
}

// Success reports whether the attendee may enter.
func (r CheckResult) Success() bool {
	return r.Type == ResultValid
}
