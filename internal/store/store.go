// Package store provides persistence for license records behind a single
// interface with bolt, sqlite and in-memory backends. Every backend runs
// Mutate inside its write transaction, so concurrent mutations of the same
// key are serialized and a validation decision (read, decide, write) is
// atomic end to end.
package store

import (
	"context"
	"errors"
	"fmt"

	"keywarden/pkg/contracts/domain"
)

// Sentinel errors shared by all backends.
var (
	ErrNotFound     = errors.New("store: license not found")
	ErrDuplicateKey = errors.New("store: license key already exists")
)

// Supported driver names.
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// MutateFunc inspects and optionally edits a license inside a write
// transaction. Returning persist=false leaves the stored record untouched
// while the (possibly annotated) license is still returned to the caller.
// Any error aborts the transaction.
type MutateFunc func(lic *domain.License) (persist bool, err error)

// SeedFunc builds the record MutateOrCreate inserts when the key is absent.
type SeedFunc func() *domain.License

// Store is the persistence contract for license records. Implementations
// must never hand out aliases to their internal records; callers own every
// returned *domain.License.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*domain.License, error)

	// Insert stores a new record, failing with ErrDuplicateKey when the key
	// is already present.
	Insert(ctx context.Context, lic *domain.License) error

	// Mutate atomically applies fn to the record for key and returns the
	// resulting license. ErrNotFound when the key is absent.
	Mutate(ctx context.Context, key string, fn MutateFunc) (*domain.License, error)

	// MutateOrCreate behaves like Mutate, but when the key is absent it
	// inserts seed() first and reports created=true. A created record is
	// always persisted regardless of fn's persist flag.
	MutateOrCreate(ctx context.Context, key string, seed SeedFunc, fn MutateFunc) (lic *domain.License, created bool, err error)

	// Delete removes the record for key, or returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// List returns all records, newest first.
	List(ctx context.Context) ([]*domain.License, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Ping verifies the backend is reachable and writable.
	Ping(ctx context.Context) error

	Close() error
}

// Open builds the backend named by driver. Path names the database file and
// is ignored by the memory driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverBolt:
		return OpenBolt(path)
	case DriverSQLite:
		return OpenSQLite(path)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
