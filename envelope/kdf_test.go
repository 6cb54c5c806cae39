package envelope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScryptDeriver(t *testing.T) {
	ctx := context.Background()
	d := ScryptDeriver{Params: testSuite().KDF}
	salt := []byte("0123456789abcdef")

	k1, err := d.DeriveKey(ctx, "correct horse", salt)
	require.NoError(t, err)
	defer k1.Destroy()
	assert.Equal(t, 32, k1.Size())

	k2, err := d.DeriveKey(ctx, "correct horse", salt)
	require.NoError(t, err)
	defer k2.Destroy()
	assert.Equal(t, k1.Bytes(), k2.Bytes(), "same passphrase and salt must derive the same key")

	k3, err := d.DeriveKey(ctx, "correct horsf", salt)
	require.NoError(t, err)
	defer k3.Destroy()
	assert.NotEqual(t, k1.Bytes(), k3.Bytes())
}

func TestScryptDeriver_NormalizesPassphrase(t *testing.T) {
	ctx := context.Background()
	d := ScryptDeriver{Params: testSuite().KDF}
	salt := []byte("0123456789abcdef")

	// Precomposed and decomposed forms of "é" derive the same key.
	k1, err := d.DeriveKey(ctx, "caf\u00e9", salt)
	require.NoError(t, err)
	defer k1.Destroy()
	k2, err := d.DeriveKey(ctx, "cafe\u0301", salt)
	require.NoError(t, err)
	defer k2.Destroy()
	assert.Equal(t, k1.Bytes(), k2.Bytes())
}

func TestScryptDeriver_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	key, err := ScryptDeriver{Params: testSuite().KDF}.DeriveKey(ctx, "pw", []byte("0123456789abcdef"))
	require.ErrorIs(t, err, ErrInternal)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, key)
}

func TestScryptDeriver_BadParams(t *testing.T) {
	params := testSuite().KDF
	params.N = 1000

	key, err := ScryptDeriver{Params: params}.DeriveKey(context.Background(), "pw", []byte("0123456789abcdef"))
	require.ErrorIs(t, err, ErrInternal)
	assert.Nil(t, key)
	assert.NotContains(t, err.Error(), "pw")
}
