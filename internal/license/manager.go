package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"keywarden/internal/store"
	"keywarden/pkg/contracts/domain"
)

// DefaultValidityDays applies whenever a caller omits the validity window.
const DefaultValidityDays = 30

// How many times Create asks the generator for a key before giving up.
const keygenAttempts = 2

// Manager drives license lifecycle transitions against the store. All
// methods are safe for concurrent use; per-key atomicity comes from the
// store's mutation primitive.
type Manager struct {
	store       store.Store
	logger      *slog.Logger
	defaultDays int
}

// NewManager builds a lifecycle manager. A defaultDays of zero or less
// falls back to DefaultValidityDays.
func NewManager(st store.Store, logger *slog.Logger, defaultDays int) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultDays <= 0 {
		defaultDays = DefaultValidityDays
	}
	return &Manager{
		store:       st,
		logger:      logger.With(slog.String("component", "license_manager")),
		defaultDays: defaultDays,
	}
}

// validity converts a caller-supplied day count into the expiry window.
func (m *Manager) validity(days int) time.Duration {
	if days <= 0 {
		days = m.defaultDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Create issues a new license: generates a key, stamps the expiry and
// inserts an active record. A duplicate generated key triggers one
// regeneration before the operation fails with ErrKeygenExhausted.
func (m *Manager) Create(ctx context.Context, tier domain.Tier, ownerEmail string, days int) (*domain.License, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, string(tier))
	}
	now := time.Now().UTC()
	for attempt := 1; attempt <= keygenAttempts; attempt++ {
		key, err := GenerateKey(tier)
		if err != nil {
			return nil, err
		}
		lic := &domain.License{
			ID:         uuid.NewString(),
			Key:        key,
			Tier:       tier,
			OwnerEmail: ownerEmail,
			CreatedAt:  now,
			ExpiresAt:  now.Add(m.validity(days)),
			Active:     true,
		}
		err = m.store.Insert(ctx, lic)
		if err == nil {
			m.logger.InfoContext(ctx, "license created",
				slog.String("tier", string(tier)),
				slog.Time("expires_at", lic.ExpiresAt))
			return lic, nil
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, err
		}
		m.logger.WarnContext(ctx, "generated key collided, regenerating",
			slog.String("tier", string(tier)),
			slog.Int("attempt", attempt))
	}
	return nil, ErrKeygenExhausted
}

// Activate turns a key on: the record becomes active, its expiry is
// recomputed from now (overwritten, not extended) and the owner email is
// updated when supplied. An unknown key is provisioned on the spot as a
// tier Sentinel record; the returned flag reports that case.
func (m *Manager) Activate(ctx context.Context, key string, days int, ownerEmail string) (*domain.License, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	now := time.Now().UTC()
	expiry := now.Add(m.validity(days))

	lic, created, err := m.store.MutateOrCreate(ctx, key,
		func() *domain.License {
			return &domain.License{
				ID:         uuid.NewString(),
				Key:        key,
				Tier:       domain.TierSentinel,
				OwnerEmail: ownerEmail,
				CreatedAt:  now,
				ExpiresAt:  expiry,
				Active:     true,
			}
		},
		func(l *domain.License) (bool, error) {
			l.Active = true
			l.ExpiresAt = expiry
			if ownerEmail != "" {
				l.OwnerEmail = ownerEmail
			}
			return true, nil
		})
	if err != nil {
		return nil, false, err
	}
	m.logger.InfoContext(ctx, "license activated",
		slog.String("tier", string(lic.Tier)),
		slog.Bool("created", created),
		slog.Time("expires_at", lic.ExpiresAt))
	return lic, created, nil
}

// Renew pushes the expiry out to now plus the validity window and
// reactivates the record. Unknown keys fail with store.ErrNotFound; renew
// never provisions.
func (m *Manager) Renew(ctx context.Context, key string, days int) (*domain.License, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	now := time.Now().UTC()
	expiry := now.Add(m.validity(days))

	lic, err := m.store.Mutate(ctx, key, func(l *domain.License) (bool, error) {
		l.Active = true
		l.ExpiresAt = expiry
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "license renewed",
		slog.String("tier", string(lic.Tier)),
		slog.Time("expires_at", lic.ExpiresAt))
	return lic, nil
}

// Deactivate flips the administrative kill switch off. Unknown keys
// succeed silently so revocation scripts can run unconditionally; the
// returned license is nil in that case.
func (m *Manager) Deactivate(ctx context.Context, key string) (*domain.License, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	lic, err := m.store.Mutate(ctx, key, func(l *domain.License) (bool, error) {
		l.Active = false
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		m.logger.DebugContext(ctx, "deactivate on unknown key, ignoring")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "license deactivated",
		slog.String("tier", string(lic.Tier)))
	return lic, nil
}

// Unbind clears the machine binding so the next validation can bind anew.
// This is the administrative escape hatch for machine migrations.
func (m *Manager) Unbind(ctx context.Context, key string) (*domain.License, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	lic, err := m.store.Mutate(ctx, key, func(l *domain.License) (bool, error) {
		if l.BoundIP == "" && l.LastSeenIP == "" {
			return false, nil
		}
		l.BoundIP = ""
		l.LastSeenIP = ""
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "license unbound",
		slog.String("tier", string(lic.Tier)))
	return lic, nil
}

// Get returns the record for key, or store.ErrNotFound.
func (m *Manager) Get(ctx context.Context, key string) (*domain.License, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	return m.store.Get(ctx, key)
}

// List returns every record, newest first.
func (m *Manager) List(ctx context.Context) ([]*domain.License, error) {
	return m.store.List(ctx)
}

// Delete removes a record permanently, or fails with store.ErrNotFound.
func (m *Manager) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "license deleted")
	return nil
}
