package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/altimation/controlsuite/envelope"
	"github.com/altimation/controlsuite/internal/uuid"
	"github.com/altimation/controlsuite/storage"
	"github.com/altimation/controlsuite/strength"
)

// Info handles GET /.
func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{
		Message: ServiceName,
		Version: a.version,
		Endpoints: map[string]string{
			"health":   "/api/health",
			"serial":   "/api/serial",
			"firmware": "/api/firmware",
			"config":   "/api/config",
			"docs":     "/api/docs",
		},
	})
}

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	now := a.now()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(a.started).Seconds(),
	})
}

// NotImplemented returns a handler for device features that are not
// available in this service.
func (a *API) NotImplemented(feature string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotImplemented, feature+" API not implemented")
	}
}

// Strength handles POST /config/strength.
func (a *API) Strength(w http.ResponseWriter, r *http.Request) {
	var req StrengthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strength.Evaluate(req.Passphrase))
}

// Encrypt handles POST /config/encrypt.
func (a *API) Encrypt(w http.ResponseWriter, r *http.Request) {
	var req EncryptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if len(req.Config) == 0 {
		writeError(w, http.StatusBadRequest, "config is required")
		return
	}

	env, err := a.codec.EncryptBytes(r.Context(), req.Config, req.Passphrase)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	report := strength.Evaluate(req.Passphrase)
	a.audit.log(AuditConfigEncrypted, r,
		slog.Int("strength_score", report.Score),
		slog.Bool("strength_valid", report.Valid),
	)
	writeJSON(w, http.StatusOK, EncryptResponse{Envelope: env, Strength: report})
}

// Decrypt handles POST /config/decrypt.
func (a *API) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if len(req.Envelope) == 0 {
		writeError(w, http.StatusBadRequest, "envelope is required")
		return
	}
	env, err := envelope.Parse(req.Envelope)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.decrypt(w, r, env, req.Passphrase)
}

// decrypt opens env, applying the failed-decryption rate limits.
func (a *API) decrypt(w http.ResponseWriter, r *http.Request, env *envelope.Envelope, passphrase string, attrs ...slog.Attr) {
	ip := a.clientIP(r)
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.logFailure(AuditDecryptRateLimited, r, "global", attrs...)
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.ipLimiter.check(ip); blocked {
		a.audit.logFailure(AuditDecryptRateLimited, r, "client", attrs...)
		writeRateLimited(w, retryAfter)
		return
	}

	doc, err := a.codec.Decrypt(r.Context(), env, passphrase)
	if err != nil {
		if envelope.KindOf(err) == envelope.KindDecryptionFailed {
			a.ipLimiter.recordFailure(ip)
			a.globalLimiter.recordFailure()
			a.audit.logFailure(AuditDecryptFailed, r, "authentication failed", attrs...)
		}
		a.mapError(w, r, err)
		return
	}
	a.ipLimiter.recordSuccess(ip)
	a.audit.log(AuditConfigDecrypted, r, attrs...)
	writeJSON(w, http.StatusOK, DecryptResponse{Config: doc})
}

// ListDevices handles GET /config/devices.
func (a *API) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.repo.ListDevices()
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListDevicesResponse{Devices: devices})
}

// ListConfigs handles GET /config/devices/{deviceID}/configs.
func (a *API) ListConfigs(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if err := storage.ValidateID(deviceID); err != nil {
		a.mapError(w, r, err)
		return
	}
	ids, err := a.repo.List(deviceID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	limit, offset := parsePagination(r)
	page, meta := paginate(ids, limit, offset)
	writeJSON(w, http.StatusOK, ListConfigsResponse{
		DeviceID:       deviceID,
		Configs:        page,
		PaginationMeta: meta,
	})
}

// CreateConfig handles POST /config/devices/{deviceID}/configs, storing the
// envelope under a generated configuration ID.
func (a *API) CreateConfig(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if err := storage.ValidateID(deviceID); err != nil {
		a.mapError(w, r, err)
		return
	}
	env, ok := a.readStoreRequest(w, r)
	if !ok {
		return
	}
	a.store(w, r, deviceID, uuid.New(), 0, env)
}

// PutConfig handles PUT /config/devices/{deviceID}/configs/{configID}. An
// If-Match header carrying a revision makes the write conditional on it;
// otherwise the write is conditional on the revision read just before.
func (a *API) PutConfig(w http.ResponseWriter, r *http.Request) {
	deviceID, configID, ok := a.pathIDs(w, r)
	if !ok {
		return
	}
	env, ok := a.readStoreRequest(w, r)
	if !ok {
		return
	}

	var expected uint64
	if h := strings.Trim(r.Header.Get("If-Match"), `" `); h != "" {
		rev, err := strconv.ParseUint(h, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "If-Match must be a revision number")
			return
		}
		expected = rev
	} else {
		existing, err := a.repo.Get(deviceID, configID)
		switch {
		case err == nil:
			expected = existing.Revision
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrDeviceNotFound):
		default:
			a.mapError(w, r, err)
			return
		}
	}
	a.store(w, r, deviceID, configID, expected, env)
}

func (a *API) readStoreRequest(w http.ResponseWriter, r *http.Request) (*envelope.Envelope, bool) {
	var req StoreConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return nil, false
	}
	if len(req.Envelope) == 0 {
		writeError(w, http.StatusBadRequest, "envelope is required")
		return nil, false
	}
	env, err := envelope.Parse(req.Envelope)
	if err == nil {
		err = env.Validate(a.codec.Suite())
	}
	if err != nil {
		a.mapError(w, r, err)
		return nil, false
	}
	return env, true
}

func (a *API) store(w http.ResponseWriter, r *http.Request, deviceID, configID string, expected uint64, env *envelope.Envelope) {
	doc, err := env.Marshal()
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	rec := &storage.Record{
		Document: doc,
		Revision: expected + 1,
		StoredAt: a.now().UTC(),
	}
	if err := a.repo.PutCAS(deviceID, configID, expected, rec); err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.logConfig(AuditEnvelopeStored, r, deviceID, configID,
		slog.Uint64("revision", rec.Revision))
	status := http.StatusOK
	if expected == 0 {
		status = http.StatusCreated
	}
	w.Header().Set("ETag", strconv.Quote(strconv.FormatUint(rec.Revision, 10)))
	writeJSON(w, status, StoredConfigResponse{
		DeviceID: deviceID,
		ConfigID: configID,
		Revision: rec.Revision,
		StoredAt: rec.StoredAt,
	})
}

// GetConfig handles GET /config/devices/{deviceID}/configs/{configID}.
func (a *API) GetConfig(w http.ResponseWriter, r *http.Request) {
	deviceID, configID, ok := a.pathIDs(w, r)
	if !ok {
		return
	}
	rec, env, ok := a.load(w, r, deviceID, configID)
	if !ok {
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.FormatUint(rec.Revision, 10)))
	writeJSON(w, http.StatusOK, StoredConfigResponse{
		DeviceID: deviceID,
		ConfigID: configID,
		Revision: rec.Revision,
		StoredAt: rec.StoredAt,
		Envelope: env,
	})
}

// DeleteConfig handles DELETE /config/devices/{deviceID}/configs/{configID}.
func (a *API) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	deviceID, configID, ok := a.pathIDs(w, r)
	if !ok {
		return
	}
	if err := a.repo.Delete(deviceID, configID); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logConfig(AuditEnvelopeDeleted, r, deviceID, configID)
	w.WriteHeader(http.StatusNoContent)
}

// DecryptStored handles
// POST /config/devices/{deviceID}/configs/{configID}/decrypt.
func (a *API) DecryptStored(w http.ResponseWriter, r *http.Request) {
	deviceID, configID, ok := a.pathIDs(w, r)
	if !ok {
		return
	}
	var req DecryptStoredRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	_, env, ok := a.load(w, r, deviceID, configID)
	if !ok {
		return
	}
	a.decrypt(w, r, env, req.Passphrase,
		slog.String("device_id", deviceID),
		slog.String("config_id", configID),
	)
}

func (a *API) pathIDs(w http.ResponseWriter, r *http.Request) (deviceID, configID string, ok bool) {
	deviceID = chi.URLParam(r, "deviceID")
	configID = chi.URLParam(r, "configID")
	for _, id := range []string{deviceID, configID} {
		if err := storage.ValidateID(id); err != nil {
			a.mapError(w, r, err)
			return "", "", false
		}
	}
	return deviceID, configID, true
}

// load reads a stored record and parses its envelope. A stored document
// that no longer parses is reported as an internal error.
func (a *API) load(w http.ResponseWriter, r *http.Request, deviceID, configID string) (*storage.Record, *envelope.Envelope, bool) {
	rec, err := a.repo.Get(deviceID, configID)
	if err != nil {
		a.mapError(w, r, err)
		return nil, nil, false
	}
	env, err := envelope.Parse(rec.Document)
	if err != nil {
		a.audit.logger.ErrorContext(r.Context(), "stored envelope unreadable",
			slog.String("device_id", deviceID), slog.String("config_id", configID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, nil, false
	}
	return rec, env, true
}
