// Package storage provides the storage abstraction layer for sealed
// configuration envelopes. Stored documents are opaque: no backend ever
// decrypts or interprets them.
package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/altimation/controlsuite/internal/util"
)

var (
	// ErrNotFound is returned when a configuration does not exist.
	ErrNotFound = errors.New("configuration not found")
	// ErrDeviceNotFound is returned when no configuration exists for a device.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrCASFailed is returned when a compare-and-swap revision check fails.
	ErrCASFailed = errors.New("CAS revision mismatch")
	// ErrInvalidID is returned by ValidateID.
	ErrInvalidID = errors.New("invalid identifier")
)

// MaxIDLength is the longest device or configuration ID accepted, in bytes.
const MaxIDLength = 128

// Record is one stored configuration envelope.
type Record struct {
	// Document is the serialized envelope.
	Document []byte    `json:"document"`
	Revision uint64    `json:"revision"`
	StoredAt time.Time `json:"stored_at"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Document: util.CopyBytes(r.Document),
		Revision: r.Revision,
		StoredAt: r.StoredAt,
	}
}

// Repository defines the interface for envelope storage, keyed by device
// and configuration ID.
type Repository interface {
	Put(deviceID, configID string, rec *Record) error
	// PutCAS writes rec only if the stored revision equals expectedRevision.
	// An expectedRevision of zero requires that no record exists yet.
	PutCAS(deviceID, configID string, expectedRevision uint64, rec *Record) error
	Get(deviceID, configID string) (*Record, error)
	// List returns the configuration IDs stored for a device, sorted.
	List(deviceID string) ([]string, error)
	// ListDevices returns every device with at least one configuration, sorted.
	ListDevices() ([]string, error)
	Delete(deviceID, configID string) error
}

// ValidateID checks a device or configuration ID. IDs are path segments in
// the HTTP API and key components in the backends, so separators and
// control characters are rejected.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: must not be empty", ErrInvalidID)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, MaxIDLength)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidID)
	case strings.ContainsAny(id, ":/"):
		return fmt.Errorf("%w: must not contain ':' or '/'", ErrInvalidID)
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: must not contain control characters", ErrInvalidID)
	}
	return nil
}
