// Package api exposes the configuration envelope codec and envelope storage
// over a JSON REST interface.
package api

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/altimation/controlsuite/envelope"
	"github.com/altimation/controlsuite/storage"
)

// ServiceName is reported by the service info endpoint.
const ServiceName = "Altimation Control Suite Backend API"

// API holds the dependencies needed by the REST handlers.
type API struct {
	codec          *envelope.Codec
	repo           storage.Repository
	ipLimiter      *ipRateLimiter
	globalLimiter  *globalRateLimiter
	audit          *auditLogger
	metrics        *metricsCollector
	webhook        *auditWebhook
	trustedProxies []netip.Prefix
	corsOrigins    []string
	version        string
	now            func() time.Time
	started        time.Time
	done           chan struct{}
}

//go:embed openapi.yaml
var openapiDocument []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithTrustedProxies parses CIDR ranges whose proxy headers are honored
// when determining a client's IP for rate limiting. A bare address is
// treated as a single-host prefix.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// WithAlertFunc registers a callback for anomaly alerts such as a spike in
// failed decryptions.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.metrics = newMetricsCollector(fn)
	}
}

// WithAuditWebhook forwards every audit event to url. authHeader, if set,
// is a "Header: Value" pair sent with each request.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhook = newAuditWebhook(url, authHeader)
	}
}

// WithCORSOrigins restricts cross-origin access to origins. By default
// every origin is allowed.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) {
		a.corsOrigins = origins
	}
}

// WithVersion sets the version reported by the service info endpoint.
func WithVersion(v string) Option {
	return func(a *API) {
		a.version = v
	}
}

// WithClock sets the clock used for stored-at times and uptime.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// New creates a new API instance.
func New(codec *envelope.Codec, repo storage.Repository, opts ...Option) *API {
	a := &API{
		codec:         codec,
		repo:          repo,
		ipLimiter:     newIPRateLimiter(),
		globalLimiter: newGlobalRateLimiter(),
		version:       "0.1.0",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	a.audit.metrics = a.metrics
	a.audit.webhook = a.webhook
	a.started = a.now()
	a.done = make(chan struct{})
	go a.sweepLoop()
	return a
}

const sweepInterval = 10 * time.Minute

func (a *API) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.ipLimiter.sweep()
		case <-a.done:
			return
		}
	}
}

// Close stops background work started by the API, flushing any queued
// webhook deliveries.
func (a *API) Close() {
	close(a.done)
	if a.webhook != nil {
		a.webhook.close()
	}
}

// Handler returns the complete HTTP handler: the service info endpoint at
// "/", the API mounted under "/api", and JSON 404/405 responses, wrapped in
// the security header, body limit and CORS middleware.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(CORS(a.corsOrigins))
	r.Use(BodyLimit(MaxBodyBytes))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Get("/", a.Info)
	r.Mount("/api", a.Router())
	return r
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiDocument)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Get("/health", a.Health)

	r.Get("/serial", a.NotImplemented("serial"))
	r.Post("/serial", a.NotImplemented("serial"))
	r.Get("/firmware", a.NotImplemented("firmware"))
	r.Post("/firmware", a.NotImplemented("firmware"))

	r.Route("/config", func(r chi.Router) {
		r.Post("/strength", a.Strength)
		r.Post("/encrypt", a.Encrypt)
		r.Post("/decrypt", a.Decrypt)
		r.Get("/devices", a.ListDevices)

		r.Route("/devices/{deviceID}/configs", func(r chi.Router) {
			r.Get("/", a.ListConfigs)
			r.Post("/", a.CreateConfig)
			r.Put("/{configID}", a.PutConfig)
			r.Get("/{configID}", a.GetConfig)
			r.Delete("/{configID}", a.DeleteConfig)
			r.Post("/{configID}/decrypt", a.DecryptStored)
		})
	})

	return r
}
