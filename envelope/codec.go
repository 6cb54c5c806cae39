package envelope

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/sync/semaphore"

	"github.com/altimation/controlsuite/internal/util"
)

// Codec encrypts and decrypts configuration envelopes for one Suite. It holds
// no secrets and is safe for concurrent use.
type Codec struct {
	suite   Suite
	deriver KeyDeriver
	random  io.Reader
	now     func() time.Time
	limit   *semaphore.Weighted
	logger  *slog.Logger

	// legacy opens envelopes that carry the nonce under "iv".
	legacy        Suite
	legacyDeriver KeyDeriver
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	legacy := LegacySuite()
	c := &Codec{
		suite:         DefaultSuite(),
		legacy:        legacy,
		legacyDeriver: ScryptDeriver{Params: legacy.KDF, SkipNormalize: true},
		random:        rand.Reader,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.deriver == nil {
		c.deriver = ScryptDeriver{Params: c.suite.KDF}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Suite returns the suite this codec produces and accepts.
func (c *Codec) Suite() Suite {
	return c.suite
}

// Encrypt serializes config to JSON and seals it under passphrase.
func (c *Codec) Encrypt(ctx context.Context, config any, passphrase string) (*Envelope, error) {
	const op = "encrypt"
	if passphrase == "" {
		return nil, newError(KindInvalidInput, op, "passphrase must not be empty", nil)
	}
	doc, err := json.Marshal(config)
	if err != nil {
		return nil, newError(KindInvalidInput, op, "serializing configuration", err)
	}
	defer util.WipeBytes(doc)
	return c.seal(ctx, op, doc, passphrase)
}

// EncryptBytes seals a configuration that is already JSON text. Insignificant
// whitespace is removed before sealing.
func (c *Codec) EncryptBytes(ctx context.Context, doc []byte, passphrase string) (*Envelope, error) {
	const op = "encrypt"
	if passphrase == "" {
		return nil, newError(KindInvalidInput, op, "passphrase must not be empty", nil)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, doc); err != nil {
		return nil, newError(KindInvalidInput, op, "configuration is not valid JSON", err)
	}
	plain := compact.Bytes()
	defer util.WipeBytes(plain)
	return c.seal(ctx, op, plain, passphrase)
}

func (c *Codec) seal(ctx context.Context, op string, doc []byte, passphrase string) (*Envelope, error) {
	salt, err := util.RandomBytesFrom(c.random, c.suite.SaltLen)
	if err != nil {
		return nil, newError(KindInternal, op, "generating salt", err)
	}
	nonce, err := util.RandomBytesFrom(c.random, c.suite.NonceLen)
	if err != nil {
		return nil, newError(KindInternal, op, "generating nonce", err)
	}

	key, err := c.derive(ctx, op, c.deriver, c.suite.KeyLen, passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	ciphertext, tag, err := util.SealGCM(doc, key.Bytes(), nonce, c.suite.aad())
	if err != nil {
		return nil, newError(KindInternal, op, "sealing configuration", err)
	}

	env := &Envelope{
		Version:   c.suite.Version,
		Algorithm: c.suite.Algorithm,
		Salt:      util.Base64Encode(salt),
		Nonce:     util.Base64Encode(nonce),
		AuthTag:   util.Base64Encode(tag),
		Encrypted: util.HexEncode(ciphertext),
		Timestamp: c.now().UnixMilli(),
	}
	c.logger.DebugContext(ctx, "configuration sealed",
		slog.Int("bytes", len(doc)),
		slog.String("algorithm", env.Algorithm),
	)
	return env, nil
}

// Decrypt verifies env under passphrase and returns the configuration JSON.
// Every authentication failure is reported as ErrDecryptionFailed; the cause
// is never distinguished. Legacy envelopes are opened with LegacySuite.
func (c *Codec) Decrypt(ctx context.Context, env *Envelope, passphrase string) (json.RawMessage, error) {
	const op = "decrypt"
	suite, deriver := c.suite, c.deriver
	if env != nil && env.legacy {
		suite, deriver = c.legacy, c.legacyDeriver
	}
	parts, err := env.decode(suite, op)
	if err != nil {
		return nil, err
	}

	key, err := c.derive(ctx, op, deriver, suite.KeyLen, passphrase, parts.salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	plain, err := util.OpenGCM(parts.ciphertext, parts.tag, key.Bytes(), parts.nonce, suite.aad())
	if err != nil {
		c.logger.DebugContext(ctx, "configuration open failed")
		return nil, newError(KindDecryptionFailed, op, "", nil)
	}
	if !json.Valid(plain) {
		util.WipeBytes(plain)
		return nil, newError(KindInternal, op, "authenticated document is not valid JSON", nil)
	}
	return json.RawMessage(plain), nil
}

// DecryptInto decrypts env and unmarshals the configuration into v.
func (c *Codec) DecryptInto(ctx context.Context, env *Envelope, passphrase string, v any) error {
	doc, err := c.Decrypt(ctx, env, passphrase)
	if err != nil {
		return err
	}
	defer util.WipeBytes(doc)
	if err := json.Unmarshal(doc, v); err != nil {
		return newError(KindInvalidInput, "decrypt", "decoding configuration", err)
	}
	return nil
}

// derive runs d in its own goroutine. The derivation slot is held until d
// returns, even when ctx ends first and the caller has already been answered.
func (c *Codec) derive(ctx context.Context, op string, d KeyDeriver, keyLen int, passphrase string, salt []byte) (*memguard.LockedBuffer, error) {
	if c.limit != nil {
		if err := c.limit.Acquire(ctx, 1); err != nil {
			return nil, newError(KindInternal, op, "waiting for derivation slot", err)
		}
	}

	type result struct {
		key *memguard.LockedBuffer
		err error
	}
	done := make(chan result, 1)
	go func() {
		if c.limit != nil {
			defer c.limit.Release(1)
		}
		key, err := d.DeriveKey(ctx, passphrase, salt)
		done <- result{key: key, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.key != nil {
				late.key.Destroy()
			}
		}()
		return nil, newError(KindInternal, op, "derivation did not complete", ctx.Err())
	}

	if r.err != nil {
		if KindOf(r.err) == KindInternal {
			return nil, r.err
		}
		return nil, newError(KindInternal, op, "deriving key", r.err)
	}
	if r.key == nil || r.key.Size() != keyLen {
		if r.key != nil {
			r.key.Destroy()
		}
		return nil, newError(KindInternal, op, "derived key has wrong length", nil)
	}
	return r.key, nil
}
