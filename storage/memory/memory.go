// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/altimation/controlsuite/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Record
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Record)}
}

func (r *Repository) Put(deviceID, configID string, rec *storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(deviceID, configID, rec)
	return nil
}

func (r *Repository) putLocked(deviceID, configID string, rec *storage.Record) {
	if _, ok := r.data[deviceID]; !ok {
		r.data[deviceID] = make(map[string]*storage.Record)
	}
	r.data[deviceID][configID] = rec.Clone()
}

func (r *Repository) Get(deviceID, configID string) (*storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, err := r.getLocked(deviceID, configID)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (r *Repository) getLocked(deviceID, configID string) (*storage.Record, error) {
	configs, ok := r.data[deviceID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", deviceID, storage.ErrDeviceNotFound)
	}
	rec, ok := configs[configID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", deviceID, configID, storage.ErrNotFound)
	}
	return rec, nil
}

func (r *Repository) PutCAS(deviceID, configID string, expectedRevision uint64, rec *storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, err := r.getLocked(deviceID, configID)
	if err != nil {
		if expectedRevision != 0 {
			return storage.ErrCASFailed
		}
		r.putLocked(deviceID, configID, rec)
		return nil
	}
	if expectedRevision == 0 || existing.Revision != expectedRevision {
		return storage.ErrCASFailed
	}
	r.putLocked(deviceID, configID, rec)
	return nil
}

func (r *Repository) List(deviceID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.data[deviceID]))
	for id := range r.data[deviceID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *Repository) ListDevices() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.data))
	for id := range r.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *Repository) Delete(deviceID, configID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.getLocked(deviceID, configID); err != nil {
		return err
	}
	delete(r.data[deviceID], configID)
	if len(r.data[deviceID]) == 0 {
		delete(r.data, deviceID)
	}
	return nil
}
