// Package events contains the event contract definitions broadcast over the
// admin WebSocket feed.
package events

import (
	"encoding/json"
	"time"
)

// Event types emitted by the license service.
type EventType string

const (
	EventLicenseCreated     EventType = "license.created"
	EventLicenseActivated   EventType = "license.activated"
	EventLicenseRenewed     EventType = "license.renewed"
	EventLicenseDeactivated EventType = "license.deactivated"
	EventLicenseUnbound     EventType = "license.unbound"
	EventLicenseDeleted     EventType = "license.deleted"
	EventLicenseValidated   EventType = "license.validated"

	// EventConnectionEstablished is sent once to each client on subscribe.
	EventConnectionEstablished EventType = "connection.established"
)

// Event is the envelope written to each connected admin client. Payload
// carries the type-specific body; consumers dispatch on Type.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// LifecyclePayload is the body for lifecycle events (created, activated,
// renewed, deactivated, unbound, deleted).
type LifecyclePayload struct {
	LicenseKey string    `json:"license_key"`
	Tier       string    `json:"tier,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Active     bool      `json:"active"`
}

// ValidationPayload is the body for license.validated events.
type ValidationPayload struct {
	LicenseKey  string `json:"license_key"`
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason,omitempty"`
	RequesterIP string `json:"requester_ip,omitempty"`
}

// ConnectionPayload is the body of the subscribe acknowledgement.
type ConnectionPayload struct {
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}
