package api

import (
	"encoding/json"
	"time"

	"github.com/altimation/controlsuite/envelope"
	"github.com/altimation/controlsuite/strength"
)

// InfoResponse is returned from GET /.
type InfoResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// HealthResponse is returned from GET /api/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	// Uptime is in seconds.
	Uptime float64 `json:"uptime"`
}

// StrengthRequest is the JSON body for POST /config/strength.
type StrengthRequest struct {
	Passphrase string `json:"passphrase"`
}

// EncryptRequest is the JSON body for POST /config/encrypt.
type EncryptRequest struct {
	Config     json.RawMessage `json:"config"`
	Passphrase string          `json:"passphrase"`
}

// EncryptResponse is returned from POST /config/encrypt. The strength
// report is advisory and never blocks encryption.
type EncryptResponse struct {
	Envelope *envelope.Envelope `json:"envelope"`
	Strength strength.Report    `json:"strength"`
}

// DecryptRequest is the JSON body for POST /config/decrypt.
type DecryptRequest struct {
	Envelope   json.RawMessage `json:"envelope"`
	Passphrase string          `json:"passphrase"`
}

// DecryptStoredRequest is the JSON body for
// POST /config/devices/{deviceID}/configs/{configID}/decrypt.
type DecryptStoredRequest struct {
	Passphrase string `json:"passphrase"`
}

// DecryptResponse carries the recovered configuration document.
type DecryptResponse struct {
	Config json.RawMessage `json:"config"`
}

// StoreConfigRequest is the JSON body for storing an envelope.
type StoreConfigRequest struct {
	Envelope json.RawMessage `json:"envelope"`
}

// StoredConfigResponse describes a stored envelope. Envelope is only set
// when reading.
type StoredConfigResponse struct {
	DeviceID string             `json:"device_id"`
	ConfigID string             `json:"config_id"`
	Revision uint64             `json:"revision"`
	StoredAt time.Time          `json:"stored_at"`
	Envelope *envelope.Envelope `json:"envelope,omitempty"`
}

// ListDevicesResponse is returned from GET /config/devices.
type ListDevicesResponse struct {
	Devices []string `json:"devices"`
}

// ListConfigsResponse is returned from GET /config/devices/{deviceID}/configs.
type ListConfigsResponse struct {
	DeviceID string   `json:"device_id"`
	Configs  []string `json:"configs"`
	PaginationMeta
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
