// Package webhooks delivers settlement events to registered HTTP endpoints
// with HMAC signatures and at-least-once retry semantics.
package webhooks

import (
	"errors"
	"time"
)

// Event types pushed to subscribers.
const (
	EventContractSettled  = "contract.settled"
	EventContractDisputed = "contract.disputed"
	EventContractExpired  = "contract.expired"
)

// ErrNotFound is returned when a webhook id does not exist or is inactive.
var ErrNotFound = errors.New("webhook not found")

// Event is the payload delivered to subscribers. EventID is unique per event
// so receivers can deduplicate redelivery.
type Event struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	ContractID    string    `json:"contract_id"`
	H3Index       string    `json:"h3_index"`
	RiskType      string    `json:"risk_type"`
	Outcome       string    `json:"outcome"`
	ObservedValue *float64  `json:"observed_value"`
	SettledAt     time.Time `json:"settled_at"`
	RecordHash    string    `json:"record_hash"`
}

// Webhook is one registered subscriber endpoint. The signing secret is
// stored separately and never appears in read payloads.
type Webhook struct {
	ID          string    `json:"id"`
	CallbackURL string    `json:"callback_url"`
	Events      []string  `json:"events"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// WantsEvent reports whether the subscription covers the given event type.
// An empty event list subscribes to everything.
func (w Webhook) WantsEvent(eventType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}
