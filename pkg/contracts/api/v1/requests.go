// Package api contains API contract definitions for the keywarden license
// service. Version v1 represents the current stable API version.
package api

// License API Requests

// LicenseCreateRequest represents an admin request to issue a new license.
// Days of zero means the server default validity applies.
type LicenseCreateRequest struct {
	Tier       string `json:"tier" validate:"required,oneof=S G A"`
	OwnerEmail string `json:"owner_email,omitempty" validate:"omitempty,email"`
	Days       int    `json:"days,omitempty" validate:"omitempty,min=1,max=3650"`
}

// LicenseActivateRequest represents a license activation request. Keys of
// any shape are accepted; activation of an unknown key provisions it.
type LicenseActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	Days       int    `json:"days,omitempty" validate:"omitempty,min=1,max=3650"`
	OwnerEmail string `json:"owner_email,omitempty" validate:"omitempty,email"`
}

// LicenseRenewRequest represents a license renewal request.
type LicenseRenewRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	Days       int    `json:"days,omitempty" validate:"omitempty,min=1,max=3650"`
}

// LicenseDeactivateRequest represents a license deactivation request.
type LicenseDeactivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

// LicenseUnbindRequest represents an admin request to clear a license's
// machine binding.
type LicenseUnbindRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

// LicenseValidateRequest represents a client-side validation request.
type LicenseValidateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
}
