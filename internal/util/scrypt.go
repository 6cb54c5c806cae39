package util

import (
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// ScryptParams configures scrypt key derivation.
type ScryptParams struct {
	N      int `json:"n"`
	R      int `json:"r"`
	P      int `json:"p"`
	KeyLen int `json:"key_len"`
}

func DefaultScryptParams() ScryptParams {
	return ScryptParams{
		N:      1 << 15,
		R:      8,
		P:      1,
		KeyLen: 32,
	}
}

// MemoryCost is the approximate number of bytes scrypt allocates per derivation.
func (p ScryptParams) MemoryCost() uint64 {
	return 128 * uint64(p.N) * uint64(p.R)
}

func DeriveScryptKey(passphrase string, salt []byte, params ScryptParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("scrypt key length must be 32 bytes")
	}
	pass := []byte(passphrase)
	defer WipeBytes(pass)

	key, err := scrypt.Key(pass, salt, params.N, params.R, params.P, params.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving scrypt key: %w", err)
	}
	return key, nil
}
