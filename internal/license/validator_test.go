package license

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"keywarden/internal/store"
	"keywarden/pkg/contracts/domain"
)

func seedLicense(t *testing.T, st store.Store, edit func(*domain.License)) *domain.License {
	t.Helper()
	now := time.Now().UTC()
	lic := &domain.License{
		ID:        uuid.NewString(),
		Key:       "G-5EEDED5EEDED5EEDED5EED00",
		Tier:      domain.TierGuardian,
		CreatedAt: now,
		ExpiresAt: now.Add(30 * 24 * time.Hour),
		Active:    true,
	}
	if edit != nil {
		edit(lic)
	}
	require.NoError(t, st.Insert(context.Background(), lic))
	return lic
}

func TestValidateUnknownKey(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := NewValidator(st, nil, true)

	res, err := v.Validate(ctx, "S-NEVERISSUED000000000000", "198.51.100.1")
	require.NoError(t, err, "a decidable outcome is never an error")
	assert.False(t, res.Valid)
	assert.Equal(t, domain.ReasonNotFound, res.Reason)
	assert.False(t, res.CheckedAt.IsZero())

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "validation must never provision a record")
}

func TestValidateDeactivated(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := NewValidator(st, nil, true)
	lic := seedLicense(t, st, func(l *domain.License) { l.Active = false })

	res, err := v.Validate(ctx, lic.Key, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.ReasonDeactivated, res.Reason)

	stored, err := st.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.True(t, stored.LastValidated.IsZero(), "a rejected check must not touch the record")
	assert.Empty(t, stored.BoundIP)
}

// The kill switch is checked before expiry: a record that is both inactive
// and expired reports deactivated.
func TestValidateDeactivatedBeatsExpired(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := NewValidator(st, nil, true)
	lic := seedLicense(t, st, func(l *domain.License) {
		l.Active = false
		l.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	})

	res, err := v.Validate(ctx, lic.Key, "198.51.100.1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDeactivated, res.Reason)
}

func TestValidateExpiredFlipsActiveOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := NewValidator(st, nil, true)
	lic := seedLicense(t, st, func(l *domain.License) {
		l.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	})

	res, err := v.Validate(ctx, lic.Key, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.ReasonExpired, res.Reason)

	stored, err := st.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.False(t, stored.Active, "first expired check flips the kill switch")
	assert.Empty(t, stored.BoundIP, "expiry must change exactly one field")
	assert.Empty(t, stored.LastSeenIP)
	assert.True(t, stored.LastValidated.IsZero())

	// Post-condition of the first call dominates every later one.
	res, err = v.Validate(ctx, lic.Key, "198.51.100.1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDeactivated, res.Reason)
}

func TestValidateBindsFirstRequesterIP(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := NewValidator(st, nil, true)
	lic := seedLicense(t, st, nil)

	res, err := v.Validate(ctx, lic.Key, "203.0.113.10")
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, domain.TierGuardian, res.Tier)
	assert.Equal(t, "Guardian", res.TierName)
	assert.Equal(t, "203.0.113.10", res.BoundIP)
	require.NotNil(t, res.ExpiresAt)
	assert.True(t, res.ExpiresAt.Equal(lic.ExpiresAt))

	// Same address keeps validating.
	res, err = v.Validate(ctx, lic.Key, "203.0.113.10")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// A different address is rejected and both sides are reported.
	res, err = v.Validate(ctx, lic.Key, "198.51.100.99")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.ReasonIPMismatch, res.Reason)
	assert.Equal(t, "203.0.113.10", res.BoundIP)
	assert.Equal(t, "198.51.100.99", res.RequesterIP)

	stored, err := st.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", stored.BoundIP, "a binding never changes automatically")
	assert.Equal(t, "203.0.113.10", stored.LastSeenIP, "a rejected check must not update last seen")
}

func TestValidateBindingDisabledLeavesUnbound(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := NewValidator(st, nil, false)
	lic := seedLicense(t, st, nil)

	for _, ip := range []string{"10.1.1.1", "10.2.2.2", "10.3.3.3"} {
		res, err := v.Validate(ctx, lic.Key, ip)
		require.NoError(t, err)
		assert.True(t, res.Valid, "unbound key validates from anywhere when binding is off")
		assert.Empty(t, res.BoundIP)
	}

	stored, err := st.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Empty(t, stored.BoundIP)
	assert.Equal(t, "10.3.3.3", stored.LastSeenIP)
	assert.False(t, stored.LastValidated.IsZero())
}

func TestValidateEnforcesExistingBindingWhenDisabled(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := NewValidator(st, nil, false)
	lic := seedLicense(t, st, func(l *domain.License) { l.BoundIP = "192.0.2.77" })

	res, err := v.Validate(ctx, lic.Key, "198.51.100.5")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.ReasonIPMismatch, res.Reason)
	assert.Equal(t, "192.0.2.77", res.BoundIP)
}

func TestValidateRecordsLastSeenState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := NewValidator(st, nil, true)
	lic := seedLicense(t, st, nil)

	before := time.Now().UTC()
	res, err := v.Validate(ctx, lic.Key, "203.0.113.1")
	require.NoError(t, err)
	require.True(t, res.Valid)

	stored, err := st.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.1", stored.LastSeenIP)
	assert.False(t, stored.LastValidated.Before(before))
}

// N simultaneous first validations from distinct addresses must end with
// exactly one bound address and exactly one valid verdict.
func TestValidateConcurrentFirstBind(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := NewValidator(st, nil, true)
	lic := seedLicense(t, st, nil)

	const workers = 24
	results := make([]*domain.ValidationResult, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		n := i
		g.Go(func() error {
			res, err := v.Validate(ctx, lic.Key, fmt.Sprintf("10.9.0.%d", n))
			if err != nil {
				return err
			}
			results[n] = res
			return nil
		})
	}
	require.NoError(t, g.Wait())

	stored, err := st.Get(ctx, lic.Key)
	require.NoError(t, err)
	require.NotEmpty(t, stored.BoundIP)

	valid := 0
	for n, res := range results {
		require.NotNil(t, res)
		if res.Valid {
			valid++
			assert.Equal(t, stored.BoundIP, fmt.Sprintf("10.9.0.%d", n))
			continue
		}
		assert.Equal(t, domain.ReasonIPMismatch, res.Reason)
		assert.Equal(t, stored.BoundIP, res.BoundIP)
	}
	assert.Equal(t, 1, valid, "exactly one requester wins the binding race")
}
