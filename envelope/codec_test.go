package envelope

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altimation/controlsuite/internal/util"
)

// testSuite keeps scrypt cheap so the suite runs quickly.
func testSuite() Suite {
	s := DefaultSuite()
	s.KDF.N = 1 << 10
	return s
}

func newTestCodec(opts ...Option) *Codec {
	return New(append([]Option{WithSuite(testSuite())}, opts...)...)
}

// countingDeriver records how often derivation is requested.
type countingDeriver struct {
	inner KeyDeriver
	calls atomic.Int32
}

func (d *countingDeriver) DeriveKey(ctx context.Context, passphrase string, salt []byte) (*memguard.LockedBuffer, error) {
	d.calls.Add(1)
	return d.inner.DeriveKey(ctx, passphrase, salt)
}

// blockingDeriver never finishes until its context does.
type blockingDeriver struct {
	started chan struct{}
}

func (d *blockingDeriver) DeriveKey(ctx context.Context, _ string, _ []byte) (*memguard.LockedBuffer, error) {
	if d.started != nil {
		d.started <- struct{}{}
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// gatedDeriver holds every derivation until gate is closed and, like scrypt,
// ignores its context once started.
type gatedDeriver struct {
	gate     chan struct{}
	started  atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (d *gatedDeriver) DeriveKey(_ context.Context, _ string, _ []byte) (*memguard.LockedBuffer, error) {
	d.started.Add(1)
	n := d.inFlight.Add(1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-d.gate
	d.inFlight.Add(-1)
	return memguard.NewBufferFromBytes(make([]byte, 32)), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestCodec_FlightControllerScenario(t *testing.T) {
	ctx := context.Background()
	c := newTestCodec()
	config := map[string]any{"deviceId": "fc-001", "gyroScale": 1.0}
	passphrase := "correct horse battery staple!"

	env, err := c.Encrypt(ctx, config, passphrase)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, "aes-256-gcm", env.Algorithm)
	assert.NotZero(t, env.Timestamp)

	doc, err := c.Decrypt(ctx, env, passphrase)
	require.NoError(t, err)
	assert.JSONEq(t, `{"deviceId":"fc-001","gyroScale":1.0}`, string(doc))

	var got map[string]any
	require.NoError(t, c.DecryptInto(ctx, env, passphrase, &got))
	assert.Equal(t, config, got)

	_, err = c.Decrypt(ctx, env, "wrong")
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCodec_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCodec()

	tests := []struct {
		name   string
		config any
	}{
		{"String", "hello"},
		{"Number", 42},
		{"Null", nil},
		{"EmptyObject", map[string]any{}},
		{"Nested", map[string]any{
			"pidProfiles": []any{
				map[string]any{"name": "race", "rollPID": map[string]any{"p": 45.0, "i": 80.0, "d": 30.0}},
			},
			"motorSequence": []any{1.0, 2.0, 3.0, 4.0},
		}},
		{"Unicode", map[string]any{"boardType": "Matek H743 – τ"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := c.Encrypt(ctx, tt.config, "a passphrase")
			require.NoError(t, err)

			want, err := json.Marshal(tt.config)
			require.NoError(t, err)

			doc, err := c.Decrypt(ctx, env, "a passphrase")
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(doc))

			ct, err := util.HexDecode(env.Encrypted)
			require.NoError(t, err)
			assert.Len(t, ct, len(want), "ciphertext length should equal plaintext length")
		})
	}
}

func TestCodec_EncryptBytes(t *testing.T) {
	ctx := context.Background()
	c := newTestCodec()

	env, err := c.EncryptBytes(ctx, []byte("{ \"deviceId\" : \"fc-002\" }\n"), "pw")
	require.NoError(t, err)

	doc, err := c.Decrypt(ctx, env, "pw")
	require.NoError(t, err)
	assert.Equal(t, `{"deviceId":"fc-002"}`, string(doc))

	_, err = c.EncryptBytes(ctx, []byte("{not json"), "pw")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCodec_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	c := newTestCodec()

	env, err := c.Encrypt(ctx, map[string]string{"k": "v"}, "correct-horse")
	require.NoError(t, err)

	doc, err := c.Decrypt(ctx, env, "wrong-passphrase")
	require.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Nil(t, doc)
	assert.Equal(t, "decrypt: incorrect passphrase or corrupted data", err.Error())
	assert.Nil(t, errors.Unwrap(err), "decryption failures must not expose a cause")
	assert.NotContains(t, err.Error(), "correct-horse")
	assert.NotContains(t, err.Error(), "wrong-passphrase")
}

func flipBase64Bit(t *testing.T, s string, byteIdx int, bit uint) string {
	t.Helper()
	b, err := util.Base64Decode(s)
	require.NoError(t, err)
	b[byteIdx] ^= 1 << bit
	return util.Base64Encode(b)
}

func flipHexBit(t *testing.T, s string, byteIdx int, bit uint) string {
	t.Helper()
	b, err := util.HexDecode(s)
	require.NoError(t, err)
	b[byteIdx] ^= 1 << bit
	return util.HexEncode(b)
}

func TestCodec_TamperDetection(t *testing.T) {
	ctx := context.Background()
	c := newTestCodec()
	passphrase := "tamper-test-passphrase"

	env, err := c.Encrypt(ctx, map[string]any{"deviceId": "fc-001", "gyroScale": 1.0}, passphrase)
	require.NoError(t, err)

	ctLen := len(env.Encrypted) / 2
	positions := []int{0, 7, 15}

	for _, bit := range []uint{0, 3, 7} {
		for _, pos := range positions {
			tampered := map[string]Envelope{}

			e := *env
			e.Encrypted = flipHexBit(t, env.Encrypted, pos%ctLen, bit)
			tampered["ciphertext"] = e

			e = *env
			e.AuthTag = flipBase64Bit(t, env.AuthTag, pos, bit)
			tampered["tag"] = e

			e = *env
			e.Salt = flipBase64Bit(t, env.Salt, pos, bit)
			tampered["salt"] = e

			e = *env
			e.Nonce = flipBase64Bit(t, env.Nonce, pos, bit)
			tampered["nonce"] = e

			for field, bad := range tampered {
				doc, err := c.Decrypt(ctx, &bad, passphrase)
				assert.ErrorIs(t, err, ErrDecryptionFailed, "field %s byte %d bit %d", field, pos, bit)
				assert.Nil(t, doc, "no plaintext may be released for tampered %s", field)
			}
		}
	}
}

func TestCodec_TimestampIsNotAuthenticated(t *testing.T) {
	ctx := context.Background()
	c := newTestCodec()

	env, err := c.Encrypt(ctx, "x", "pw")
	require.NoError(t, err)

	env.Timestamp = 0
	_, err = c.Decrypt(ctx, env, "pw")
	require.NoError(t, err)
}

func TestCodec_AssociatedDataBindsLabel(t *testing.T) {
	ctx := context.Background()
	env, err := newTestCodec().Encrypt(ctx, "x", "pw")
	require.NoError(t, err)

	other := testSuite()
	other.Label = "another-application"
	_, err = New(WithSuite(other)).Decrypt(ctx, env, "pw")
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCodec_NonDeterministic(t *testing.T) {
	ctx := context.Background()
	c := newTestCodec()
	config := map[string]any{"deviceId": "fc-001"}

	a, err := c.Encrypt(ctx, config, "same passphrase")
	require.NoError(t, err)
	b, err := c.Encrypt(ctx, config, "same passphrase")
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Encrypted, b.Encrypted)
}

func TestCodec_FormatGateSkipsDerivation(t *testing.T) {
	ctx := context.Background()
	suite := testSuite()
	counter := &countingDeriver{inner: ScryptDeriver{Params: suite.KDF}}
	c := New(WithSuite(suite), WithKeyDeriver(counter))

	env, err := c.Encrypt(ctx, "cfg", "pw")
	require.NoError(t, err)
	require.EqualValues(t, 1, counter.calls.Load())

	tests := []struct {
		name   string
		mutate func(e *Envelope)
		want   error
	}{
		{"UnknownVersion", func(e *Envelope) { e.Version = 2 }, ErrUnsupportedFormat},
		{"ZeroVersion", func(e *Envelope) { e.Version = 0 }, ErrUnsupportedFormat},
		{"UnknownAlgorithm", func(e *Envelope) { e.Algorithm = "chacha20-poly1305" }, ErrUnsupportedFormat},
		{"BadSaltEncoding", func(e *Envelope) { e.Salt = "!!!" }, ErrMalformedEnvelope},
		{"ShortSalt", func(e *Envelope) { e.Salt = util.Base64Encode([]byte("short")) }, ErrMalformedEnvelope},
		{"TwelveByteNonce", func(e *Envelope) { e.Nonce = util.Base64Encode(make([]byte, 12)) }, ErrMalformedEnvelope},
		{"MissingTag", func(e *Envelope) { e.AuthTag = "" }, ErrMalformedEnvelope},
		{"BadCiphertextEncoding", func(e *Envelope) { e.Encrypted = "xyz" }, ErrMalformedEnvelope},
		{"EmptyCiphertext", func(e *Envelope) { e.Encrypted = "" }, ErrMalformedEnvelope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := counter.calls.Load()
			bad := *env
			tt.mutate(&bad)

			_, err := c.Decrypt(ctx, &bad, "pw")
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, counter.calls.Load(), "derivation must not run for rejected envelopes")
		})
	}

	_, err = c.Decrypt(ctx, nil, "pw")
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestCodec_InvalidInput(t *testing.T) {
	ctx := context.Background()
	c := newTestCodec()

	_, err := c.Encrypt(ctx, "cfg", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = c.Encrypt(ctx, make(chan int), "pw")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = c.EncryptBytes(ctx, []byte(`{}`), "")
	require.ErrorIs(t, err, ErrInvalidInput)

	env, err := c.Encrypt(ctx, "just a string", "pw")
	require.NoError(t, err)
	var target struct{ DeviceID string }
	err = c.DecryptInto(ctx, env, "pw", &target)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.NotErrorIs(t, err, ErrDecryptionFailed)
}

func TestCodec_RandomnessFailure(t *testing.T) {
	c := newTestCodec(WithRandom(failingReader{}))
	_, err := c.Encrypt(context.Background(), "cfg", "pw")
	require.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "generating salt")
}

func TestCodec_AuthenticatedGarbageIsInternal(t *testing.T) {
	ctx := context.Background()
	suite := testSuite()
	c := New(WithSuite(suite))

	salt, _ := util.RandomBytes(suite.SaltLen)
	nonce, _ := util.RandomBytes(suite.NonceLen)
	key, err := ScryptDeriver{Params: suite.KDF}.DeriveKey(ctx, "pw", salt)
	require.NoError(t, err)
	ct, tag, err := util.SealGCM([]byte("not json"), key.Bytes(), nonce, suite.aad())
	key.Destroy()
	require.NoError(t, err)

	env := &Envelope{
		Version:   suite.Version,
		Algorithm: suite.Algorithm,
		Salt:      util.Base64Encode(salt),
		Nonce:     util.Base64Encode(nonce),
		AuthTag:   util.Base64Encode(tag),
		Encrypted: util.HexEncode(ct),
	}
	_, err = c.Decrypt(ctx, env, "pw")
	require.ErrorIs(t, err, ErrInternal)
	assert.NotErrorIs(t, err, ErrDecryptionFailed)
}

func TestCodec_DerivationTimeout(t *testing.T) {
	c := newTestCodec(WithKeyDeriver(&blockingDeriver{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	env, err := c.Encrypt(ctx, "cfg", "pw")
	require.ErrorIs(t, err, ErrInternal)
	assert.Nil(t, env)
}

func TestCodec_DerivationLimit(t *testing.T) {
	started := make(chan struct{}, 1)
	c := newTestCodec(WithKeyDeriver(&blockingDeriver{started: started}), WithDerivationLimit(1))

	holdCtx, release := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Encrypt(holdCtx, "cfg", "pw")
		done <- err
	}()
	<-started

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Encrypt(waitCtx, "cfg", "pw")
	require.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "derivation slot")

	release()
	require.ErrorIs(t, <-done, ErrInternal)
}

func TestCodec_DerivationLimitHeldAfterCancel(t *testing.T) {
	d := &gatedDeriver{gate: make(chan struct{})}
	c := newTestCodec(WithKeyDeriver(d), WithDerivationLimit(1))

	for i := 0; i < 6; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err := c.Encrypt(ctx, "cfg", "pw")
		cancel()
		require.ErrorIs(t, err, ErrInternal)
	}

	require.Eventually(t, func() bool { return d.started.Load() == 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, d.started.Load(), "abandoned derivation must keep its slot")
	assert.EqualValues(t, 1, d.inFlight.Load())

	close(d.gate)
	env, err := c.Encrypt(context.Background(), "cfg", "pw")
	require.NoError(t, err)
	assert.NotNil(t, env)
	assert.EqualValues(t, 2, d.started.Load())
	assert.EqualValues(t, 1, d.peak.Load())
}

func TestCodec_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := newTestCodec(WithDerivationLimit(2))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pass := strings.Repeat("p", i+1)
			env, err := c.Encrypt(ctx, map[string]int{"n": i}, pass)
			if err != nil {
				errs <- err
				return
			}
			var got map[string]int
			if err := c.DecryptInto(ctx, env, pass, &got); err != nil {
				errs <- err
				return
			}
			if got["n"] != i {
				errs <- errors.New("round trip mismatch")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCodec_Clock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newTestCodec(WithClock(func() time.Time { return fixed }))

	env, err := c.Encrypt(context.Background(), "cfg", "pw")
	require.NoError(t, err)
	assert.Equal(t, fixed.UnixMilli(), env.Timestamp)
	assert.True(t, env.CreatedAt().Equal(fixed))
}

func TestCodec_DefaultSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("default scrypt cost is slow")
	}
	ctx := context.Background()
	c := New()
	assert.Equal(t, DefaultSuite(), c.Suite())

	env, err := c.Encrypt(ctx, map[string]any{"deviceId": "fc-001"}, "correct horse battery staple!")
	require.NoError(t, err)
	_, err = c.Decrypt(ctx, env, "correct horse battery staple!")
	require.NoError(t, err)
}
