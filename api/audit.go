package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditConfigEncrypted    AuditEvent = "config_encrypted"
	AuditConfigDecrypted    AuditEvent = "config_decrypted"
	AuditDecryptFailed      AuditEvent = "decrypt_failed"
	AuditDecryptRateLimited AuditEvent = "decrypt_rate_limited"
	AuditEnvelopeStored     AuditEvent = "envelope_stored"
	AuditEnvelopeDeleted    AuditEvent = "envelope_deleted"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Entries never carry passphrases or configuration content.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	ts := time.Now().UTC().Format(time.RFC3339)
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", ts),
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		evt := webhookEvent{
			Event:      string(event),
			RemoteAddr: r.RemoteAddr,
			Timestamp:  ts,
		}
		if len(attrs) > 0 {
			evt.Attrs = make(map[string]string, len(attrs))
			for _, a := range attrs {
				evt.Attrs[a.Key] = a.Value.String()
			}
		}
		al.webhook.enqueue(evt)
	}
}

// logConfig is a convenience for events about a stored configuration.
func (al *auditLogger) logConfig(event AuditEvent, r *http.Request, deviceID, configID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("device_id", deviceID),
		slog.String("config_id", configID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed or refused operation.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
