// Package bbolt provides a BBolt-backed storage repository. Each device gets
// its own bucket; configuration IDs are the keys within it.
package bbolt

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/altimation/controlsuite/storage"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func putRecord(b *bbolt.Bucket, configID string, rec *storage.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(configID), data)
}

func (s *Store) Put(deviceID, configID string, rec *storage.Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(deviceID))
		if err != nil {
			return err
		}
		return putRecord(b, configID, rec)
	})
}

func (s *Store) PutCAS(deviceID, configID string, expectedRevision uint64, rec *storage.Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(deviceID))
		if err != nil {
			return err
		}
		existingData := b.Get([]byte(configID))

		if expectedRevision == 0 {
			if existingData != nil {
				return storage.ErrCASFailed
			}
		} else {
			if existingData == nil {
				return storage.ErrCASFailed
			}
			var existing storage.Record
			if err := json.Unmarshal(existingData, &existing); err != nil {
				return err
			}
			if existing.Revision != expectedRevision {
				return storage.ErrCASFailed
			}
		}
		return putRecord(b, configID, rec)
	})
}

func (s *Store) Get(deviceID, configID string) (*storage.Record, error) {
	var rec storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(deviceID))
		if b == nil {
			return fmt.Errorf("%s: %w", deviceID, storage.ErrDeviceNotFound)
		}
		data := b.Get([]byte(configID))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", deviceID, configID, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) List(deviceID string) ([]string, error) {
	ids := []string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(deviceID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *Store) ListDevices() ([]string, error) {
	ids := []string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			ids = append(ids, string(name))
			return nil
		})
	})
	return ids, err
}

func (s *Store) Delete(deviceID, configID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(deviceID))
		if b == nil {
			return fmt.Errorf("%s: %w", deviceID, storage.ErrDeviceNotFound)
		}
		if b.Get([]byte(configID)) == nil {
			return fmt.Errorf("%s/%s: %w", deviceID, configID, storage.ErrNotFound)
		}
		if err := b.Delete([]byte(configID)); err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k == nil {
			return tx.DeleteBucket([]byte(deviceID))
		}
		return nil
	})
}
