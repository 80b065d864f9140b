package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"keywarden/pkg/contracts/domain"
)

const bucketLicenses = "licenses"

// Bolt stores licenses in a single-file bbolt database. bbolt allows one
// writer at a time, so running Mutate's callback inside db.Update gives the
// atomic read-modify-write the validation path depends on.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if needed) the database at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}
	s := &Bolt{db: db}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketLicenses))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init bolt bucket: %w", err)
	}
	return s, nil
}

func (s *Bolt) Get(ctx context.Context, key string) (*domain.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var lic *domain.License
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		lic, err = getRecord(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lic, nil
}

func (s *Bolt) Insert(ctx context.Context, lic *domain.License) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLicenses))
		if b.Get([]byte(lic.Key)) != nil {
			return ErrDuplicateKey
		}
		return putRecord(tx, lic)
	})
}

func (s *Bolt) Mutate(ctx context.Context, key string, fn MutateFunc) (*domain.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *domain.License
	err := s.db.Update(func(tx *bbolt.Tx) error {
		lic, err := getRecord(tx, key)
		if err != nil {
			return err
		}
		persist, err := fn(lic)
		if err != nil {
			return err
		}
		out = lic
		if !persist {
			return nil
		}
		return putRecord(tx, lic)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Bolt) MutateOrCreate(ctx context.Context, key string, seed SeedFunc, fn MutateFunc) (*domain.License, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var (
		out     *domain.License
		created bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		lic, err := getRecord(tx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			lic = seed()
			created = true
		case err != nil:
			return err
		}
		persist, err := fn(lic)
		if err != nil {
			return err
		}
		out = lic
		if !persist && !created {
			return nil
		}
		return putRecord(tx, lic)
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *Bolt) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLicenses))
		if b.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

func (s *Bolt) List(ctx context.Context) ([]*domain.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*domain.License, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLicenses))
		return b.ForEach(func(_, v []byte) error {
			var lic domain.License
			if err := json.Unmarshal(v, &lic); err != nil {
				return fmt.Errorf("store: decode record: %w", err)
			}
			out = append(out, &lic)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Bolt) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLicenses))
		// Stats can be stale; iterate for correctness.
		return b.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Bolt) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketLicenses)) == nil {
			return fmt.Errorf("store: licenses bucket missing")
		}
		return nil
	})
}

func (s *Bolt) Close() error { return s.db.Close() }

func getRecord(tx *bbolt.Tx, key string) (*domain.License, error) {
	b := tx.Bucket([]byte(bucketLicenses))
	v := b.Get([]byte(key))
	if v == nil {
		return nil, ErrNotFound
	}
	var lic domain.License
	if err := json.Unmarshal(v, &lic); err != nil {
		return nil, fmt.Errorf("store: decode record: %w", err)
	}
	return &lic, nil
}

func putRecord(tx *bbolt.Tx, lic *domain.License) error {
	buf, err := json.Marshal(lic)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	return tx.Bucket([]byte(bucketLicenses)).Put([]byte(lic.Key), buf)
}
