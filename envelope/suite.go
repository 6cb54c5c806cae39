package envelope

import (
	icrypto "github.com/altimation/controlsuite/internal/crypto"
	"github.com/altimation/controlsuite/internal/util"
)

const (
	// Version1 is the only envelope format version currently produced and accepted.
	Version1 = 1
	// AlgorithmAES256GCM identifies AES-256-GCM with 16-byte nonces and tags.
	AlgorithmAES256GCM = "aes-256-gcm"

	defaultLabel = "controlsuite-config"
)

// ScryptParams configures scrypt key derivation.
type ScryptParams = util.ScryptParams

// Suite is the immutable description of one envelope format: its version
// tag, algorithm identifier, field lengths and derivation cost. A Codec is
// bound to exactly one Suite for its lifetime.
type Suite struct {
	Version   int
	Algorithm string
	KeyLen    int
	SaltLen   int
	NonceLen  int
	TagLen    int
	KDF       ScryptParams
	// Label is mixed into the associated data to separate this application's
	// envelopes from any other use of the same passphrase. An empty label
	// means no associated data.
	Label string
}

// DefaultSuite returns the version 1 AES-256-GCM suite.
func DefaultSuite() Suite {
	return Suite{
		Version:   Version1,
		Algorithm: AlgorithmAES256GCM,
		KeyLen:    util.AESKeySize,
		SaltLen:   16,
		NonceLen:  16,
		TagLen:    util.GCMTagSize,
		KDF:       util.DefaultScryptParams(),
		Label:     defaultLabel,
	}
}

// LegacySuite describes envelopes written by the first Control Suite
// releases: scrypt at N=16384 and no associated data. They are recognised by
// the "iv" field name and are only ever opened, never produced.
func LegacySuite() Suite {
	s := DefaultSuite()
	s.KDF.N = 1 << 14
	s.Label = ""
	return s
}

func (s Suite) aad() []byte {
	if s.Label == "" {
		return nil
	}
	return icrypto.AADConfigEnvelope(s.Label, s.Version, s.Algorithm)
}
