package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/altimation/controlsuite/envelope"
	"github.com/altimation/controlsuite/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return err
	}
	return nil
}

var errBodyTooLarge = errors.New("request body too large")

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

// mapError translates codec and storage errors into HTTP responses.
// Decryption failures always carry the same generic message, and internal
// errors never expose their cause.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch envelope.KindOf(err) {
	case envelope.KindUnsupportedFormat:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case envelope.KindMalformedEnvelope, envelope.KindInvalidInput:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case envelope.KindDecryptionFailed:
		writeError(w, http.StatusUnauthorized, envelope.ErrDecryptionFailed.Error())
		return
	case envelope.KindInternal:
		a.audit.logger.ErrorContext(r.Context(), "internal error",
			slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch {
	case errors.Is(err, storage.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrCASFailed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.audit.logger.ErrorContext(r.Context(), "internal error",
			slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
