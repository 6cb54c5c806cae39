package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertDecryptFailureSpike AlertType = "decrypt_failure_spike"
	AlertBulkDelete          AlertType = "bulk_delete"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingCounter fires once when count events land within window, then
// starts over.
type slidingCounter struct {
	events    []time.Time
	window    time.Duration
	threshold int
}

func (c *slidingCounter) add(now time.Time) (count int, fire bool) {
	c.events = append(c.events, now)
	c.events = trimWindow(c.events, now, c.window)
	count = len(c.events)
	if count >= c.threshold {
		c.events = c.events[:0]
		return count, true
	}
	return count, false
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	decryptFailures slidingCounter
	deletes         slidingCounter

	alertFn AlertFunc
}

const (
	defaultDecryptFailureWindow    = 1 * time.Minute
	defaultDecryptFailureThreshold = 50
	defaultDeleteWindow            = 5 * time.Minute
	defaultDeleteThreshold         = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		decryptFailures: slidingCounter{window: defaultDecryptFailureWindow, threshold: defaultDecryptFailureThreshold},
		deletes:         slidingCounter{window: defaultDeleteWindow, threshold: defaultDeleteThreshold},
		alertFn:         alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditDecryptFailed:
		m.record(&m.decryptFailures, AlertDecryptFailureSpike, "decryption failure rate exceeds threshold")
	case AuditEnvelopeDeleted:
		m.record(&m.deletes, AlertBulkDelete, "envelope deletion rate exceeds threshold")
	}
}

func (m *metricsCollector) record(c *slidingCounter, typ AlertType, msg string) {
	m.mu.Lock()
	now := time.Now()
	count, fire := c.add(now)
	threshold := c.threshold
	m.mu.Unlock()

	if fire {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     count,
			Threshold: threshold,
			Timestamp: now,
		})
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
