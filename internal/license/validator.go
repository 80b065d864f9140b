package license

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"keywarden/internal/store"
	"keywarden/pkg/contracts/domain"
)

// Validator decides whether a presented key is usable and performs the
// one-time IP binding. The whole decision runs inside one store mutation,
// so concurrent validations of the same key serialize and the binding is
// written at most once.
type Validator struct {
	store  store.Store
	logger *slog.Logger
	bindIP bool
}

// NewValidator builds a validator. bindIP controls whether the first
// successful validation pins the license to the requester's address;
// existing bindings are enforced either way.
func NewValidator(st store.Store, logger *slog.Logger, bindIP bool) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		store:  st,
		logger: logger.With(slog.String("component", "license_validator")),
		bindIP: bindIP,
	}
}

// Validate evaluates the state machine for key as seen from requesterIP.
// Every decidable outcome returns a result and a nil error; an error means
// the store failed and nothing can be said about the license.
func (v *Validator) Validate(ctx context.Context, key, requesterIP string) (*domain.ValidationResult, error) {
	key = strings.TrimSpace(key)
	now := time.Now().UTC()
	res := &domain.ValidationResult{CheckedAt: now}

	_, err := v.store.Mutate(ctx, key, func(l *domain.License) (bool, error) {
		if !l.Active {
			res.Reason = domain.ReasonDeactivated
			return false, nil
		}
		if l.Expired(now) {
			// Auto-expiry flips exactly one field; the rest of the
			// record stays untouched for the audit trail.
			l.Active = false
			res.Reason = domain.ReasonExpired
			return true, nil
		}
		if l.Bound() && l.BoundIP != requesterIP {
			res.Reason = domain.ReasonIPMismatch
			res.BoundIP = l.BoundIP
			res.RequesterIP = requesterIP
			return false, nil
		}
		if !l.Bound() && v.bindIP {
			l.BoundIP = requesterIP
			res.BoundNow = true
		}
		l.LastSeenIP = requesterIP
		l.LastValidated = now
		res.Valid = true
		res.Tier = l.Tier
		res.TierName = l.Tier.Name()
		expiry := l.ExpiresAt
		res.ExpiresAt = &expiry
		res.BoundIP = l.BoundIP
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		res.Reason = domain.ReasonNotFound
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	v.logger.DebugContext(ctx, "validation decided",
		slog.Bool("valid", res.Valid),
		slog.String("reason", res.Reason),
		slog.String("requester_ip", requesterIP))
	return res, nil
}
