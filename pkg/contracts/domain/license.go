// Package domain contains the core domain models for the keywarden license
// service. These types serve as the Single Source of Truth (SSOT) for all
// layers of the application.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tier identifies the product tier a license key grants.
type Tier string

const (
	TierSentinel Tier = "S"
	TierGuardian Tier = "G"
	TierAegis    Tier = "A"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierSentinel, TierGuardian, TierAegis:
		return true
	}
	return false
}

// Name returns the marketing name for the tier.
func (t Tier) Name() string {
	switch t {
	case TierSentinel:
		return "Sentinel"
	case TierGuardian:
		return "Guardian"
	case TierAegis:
		return "Aegis"
	}
	return "Unknown"
}

// ParseTier normalizes and validates a tier code.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// License represents a single issued license key and its lifecycle state.
// BoundIP empty means the key has never been bound to a machine; a zero
// LastValidated means the key has never been checked by a client.
type License struct {
	ID            string    `json:"id" db:"id"`
	Key           string    `json:"license_key" db:"license_key" validate:"required,min=10"`
	Tier          Tier      `json:"tier" db:"tier" validate:"required,oneof=S G A"`
	OwnerEmail    string    `json:"owner_email,omitempty" db:"owner_email" validate:"omitempty,email"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at" validate:"required"`
	Active        bool      `json:"active" db:"active"`
	BoundIP       string    `json:"bound_ip,omitempty" db:"bound_ip"`
	LastSeenIP    string    `json:"last_seen_ip,omitempty" db:"last_seen_ip"`
	LastValidated time.Time `json:"last_validated" db:"last_validated"`
}

// Expired reports whether the license expiry has passed at the given instant.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// Bound reports whether the license is pinned to a machine IP.
func (l *License) Bound() bool {
	return l.BoundIP != ""
}

// Clone returns an independent copy of the license.
func (l *License) Clone() *License {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// Validation reason codes returned to clients. These travel in HTTP 200
// responses; a failed check is a decision, not a transport error.
const (
	ReasonNotFound    = "not_found"
	ReasonDeactivated = "deactivated"
	ReasonExpired     = "expired"
	ReasonIPMismatch  = "ip_mismatch"
)

// ValidationResult represents the outcome of a single validation decision.
// RequesterIP and BoundIP are both populated on an ip_mismatch so the client
// operator can see which machine holds the binding. BoundNow is decision
// metadata for the caller and never serialized.
type ValidationResult struct {
	Valid       bool       `json:"valid"`
	Reason      string     `json:"reason,omitempty"`
	Tier        Tier       `json:"tier,omitempty"`
	TierName    string     `json:"tier_name,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	BoundIP     string     `json:"bound_ip,omitempty"`
	RequesterIP string     `json:"requester_ip,omitempty"`
	CheckedAt   time.Time  `json:"checked_at"`
	BoundNow    bool       `json:"-"`
}

// LicenseView is the redacted public projection of a license record.
// Owner contact details never leave the admin surface.
type LicenseView struct {
	Key           string     `json:"license_key"`
	Tier          Tier       `json:"tier"`
	TierName      string     `json:"tier_name"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	BoundIP       string     `json:"bound_ip,omitempty"`
	LastValidated *time.Time `json:"last_validated,omitempty"`
}

// View returns the public projection of the license.
func (l *License) View() LicenseView {
	v := LicenseView{
		Key:       l.Key,
		Tier:      l.Tier,
		TierName:  l.Tier.Name(),
		Active:    l.Active,
		CreatedAt: l.CreatedAt,
		ExpiresAt: l.ExpiresAt,
		BoundIP:   l.BoundIP,
	}
	if !l.LastValidated.IsZero() {
		t := l.LastValidated
		v.LastValidated = &t
	}
	return v
}

// License error codes used in problem responses.
const (
	ErrCodeInvalidTier     = "INVALID_TIER"
	ErrCodeInvalidKey      = "INVALID_KEY_FORMAT"
	ErrCodeKeyNotFound     = "KEY_NOT_FOUND"
	ErrCodeKeyExists       = "KEY_EXISTS"
	ErrCodeStoreFailure    = "STORE_FAILURE"
	ErrCodeKeygenExhausted = "KEYGEN_EXHAUSTED"
)
