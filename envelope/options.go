package envelope

import (
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

// Option configures a Codec.
type Option func(*Codec)

// WithSuite sets the envelope suite. Default: DefaultSuite().
func WithSuite(s Suite) Option {
	return func(c *Codec) {
		c.suite = s
	}
}

// WithKeyDeriver replaces the scrypt deriver built from the suite's KDF parameters.
func WithKeyDeriver(d KeyDeriver) Option {
	return func(c *Codec) {
		c.deriver = d
	}
}

// WithRandom sets the source of salts and nonces. It must be safe for
// concurrent use. Default: crypto/rand.Reader.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		c.random = r
	}
}

// WithClock sets the clock used for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithDerivationLimit bounds the number of key derivations that may run at
// once. Callers beyond the limit wait, honouring their context.
func WithDerivationLimit(n int64) Option {
	return func(c *Codec) {
		if n > 0 {
			c.limit = semaphore.NewWeighted(n)
		}
	}
}

// WithLogger sets the structured logger. Nothing secret is ever logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) {
		c.logger = logger
	}
}
