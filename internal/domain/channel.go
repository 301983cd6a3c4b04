package domain

import "context"

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryDryRun DeliveryStatus = "dry-run"
	DeliveryError  DeliveryStatus = "delivery-error"
)

// DeliveryResult describes the outcome of an outbound send. A failed send is
// a value, not an error return.
type DeliveryResult struct {
	Status         DeliveryStatus `json:"status"`
	StatusCode     int            `json:"status_code,omitempty"`
	Attempts       int            `json:"attempts"`
	MessageSID     string         `json:"sid,omitempty"`
	ProviderStatus string         `json:"provider_status,omitempty"`
	Err            error          `json:"-"`
}

// Sender delivers proactive messages to an external channel.
type Sender interface {
	// Configured reports whether credentials are present; callers dry-run otherwise.
	Configured() bool
	Send(ctx context.Context, to, body string) DeliveryResult
}
