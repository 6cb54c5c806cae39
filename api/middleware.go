package api

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// MaxBodyBytes bounds request bodies. Configurations are small; the limit
// only guards against abuse.
const MaxBodyBytes = 8 << 20

// BodyLimit caps the size of request bodies at n bytes.
func BodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS returns middleware allowing cross-origin calls from origins. With no
// origins every origin is allowed, as the desktop client is served from a
// file or localhost origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "If-Match"},
		ExposedHeaders: []string{"Retry-After", "ETag"},
	}).Handler
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
