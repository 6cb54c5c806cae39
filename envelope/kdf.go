package envelope

import (
	"context"

	"github.com/awnumar/memguard"

	"github.com/altimation/controlsuite/internal/util"
)

// KeyDeriver turns a passphrase and salt into a symmetric key. The returned
// buffer is owned by the caller, who must Destroy it.
type KeyDeriver interface {
	DeriveKey(ctx context.Context, passphrase string, salt []byte) (*memguard.LockedBuffer, error)
}

// ScryptDeriver derives keys with scrypt after NFKD-normalizing the passphrase.
type ScryptDeriver struct {
	Params ScryptParams
	// SkipNormalize feeds the passphrase's UTF-8 bytes to scrypt unchanged.
	SkipNormalize bool
}

var _ KeyDeriver = ScryptDeriver{}

// DeriveKey runs scrypt and returns the key in a locked buffer. scrypt
// cannot be interrupted, so ctx is only checked before it starts; Codec
// bounds how long callers wait.
func (d ScryptDeriver) DeriveKey(ctx context.Context, passphrase string, salt []byte) (*memguard.LockedBuffer, error) {
	const op = "derive"
	if err := ctx.Err(); err != nil {
		return nil, newError(KindInternal, op, "derivation cancelled", err)
	}
	if !d.SkipNormalize {
		passphrase = util.Normalize(passphrase)
	}
	key, err := util.DeriveScryptKey(passphrase, salt, d.Params)
	if err != nil {
		return nil, newError(KindInternal, op, "", err)
	}
	// NewBufferFromBytes wipes key after copying it.
	return memguard.NewBufferFromBytes(key), nil
}
