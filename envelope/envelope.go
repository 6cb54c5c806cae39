// Package envelope seals flight-controller configuration documents under a
// passphrase and opens them again.
//
// An Envelope is self-describing: it carries the format version, the
// algorithm identifier, the scrypt salt, the GCM nonce and tag, and the
// ciphertext. Salt, nonce and tag are standard base64 (padded); the
// ciphertext is lowercase hex. The timestamp is Unix milliseconds and is
// informational only.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/altimation/controlsuite/internal/util"
)

// Envelope is the persisted and transmitted form of an encrypted configuration.
type Envelope struct {
	Version   int    `json:"version"`
	Algorithm string `json:"algorithm"`
	Salt      string `json:"salt"`
	Nonce     string `json:"nonce"`
	AuthTag   string `json:"authTag"`
	Encrypted string `json:"encrypted"`
	Timestamp int64  `json:"timestamp"`

	legacy bool
}

// wireEnvelope is Envelope without its methods, so encoding/json handles it
// field by field.
type wireEnvelope struct {
	Version   int    `json:"version"`
	Algorithm string `json:"algorithm"`
	Salt      string `json:"salt"`
	Nonce     string `json:"nonce,omitempty"`
	IV        string `json:"iv,omitempty"`
	AuthTag   string `json:"authTag"`
	Encrypted string `json:"encrypted"`
	Timestamp int64  `json:"timestamp"`
}

// Legacy reports whether the envelope was written in the legacy format, with
// the nonce under "iv". Such envelopes are opened with LegacySuite.
func (e *Envelope) Legacy() bool {
	return e.legacy
}

// UnmarshalJSON decodes an envelope. A nonce stored under "iv" marks the
// envelope as legacy.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Envelope{
		Version:   w.Version,
		Algorithm: w.Algorithm,
		Salt:      w.Salt,
		Nonce:     w.Nonce,
		AuthTag:   w.AuthTag,
		Encrypted: w.Encrypted,
		Timestamp: w.Timestamp,
	}
	if w.Nonce == "" && w.IV != "" {
		e.Nonce = w.IV
		e.legacy = true
	}
	return nil
}

// MarshalJSON writes the nonce under "iv" for legacy envelopes so they stay
// legacy when stored and read back.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		Version:   e.Version,
		Algorithm: e.Algorithm,
		Salt:      e.Salt,
		Nonce:     e.Nonce,
		AuthTag:   e.AuthTag,
		Encrypted: e.Encrypted,
		Timestamp: e.Timestamp,
	}
	if e.legacy {
		w.IV, w.Nonce = e.Nonce, ""
	}
	return json.Marshal(w)
}

// Parse decodes a serialized envelope. It checks JSON structure only; use
// Validate or Codec.Decrypt for format checks.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, newError(KindMalformedEnvelope, "parse", "invalid JSON", err)
	}
	return &env, nil
}

// Marshal serializes the envelope to its JSON wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// CreatedAt returns the informational creation time.
func (e *Envelope) CreatedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Validate checks the version gate and the encoding and length of every
// binary field against suite, without any key derivation.
func (e *Envelope) Validate(suite Suite) error {
	_, err := e.decode(suite, "validate")
	return err
}

type sealedParts struct {
	salt       []byte
	nonce      []byte
	tag        []byte
	ciphertext []byte
}

func (e *Envelope) decode(suite Suite, op string) (*sealedParts, error) {
	if e == nil {
		return nil, newError(KindMalformedEnvelope, op, "missing envelope", nil)
	}
	if e.Version != suite.Version {
		return nil, newError(KindUnsupportedFormat, op, fmt.Sprintf("version %d", e.Version), nil)
	}
	if e.Algorithm != suite.Algorithm {
		return nil, newError(KindUnsupportedFormat, op, fmt.Sprintf("algorithm %q", e.Algorithm), nil)
	}

	salt, err := decodeField("salt", e.Salt, suite.SaltLen, op)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeField("nonce", e.Nonce, suite.NonceLen, op)
	if err != nil {
		return nil, err
	}
	tag, err := decodeField("authTag", e.AuthTag, suite.TagLen, op)
	if err != nil {
		return nil, err
	}

	ciphertext, err := util.HexDecode(e.Encrypted)
	if err != nil {
		return nil, newError(KindMalformedEnvelope, op, "invalid ciphertext encoding", err)
	}
	if len(ciphertext) == 0 {
		return nil, newError(KindMalformedEnvelope, op, "empty ciphertext", nil)
	}

	return &sealedParts{salt: salt, nonce: nonce, tag: tag, ciphertext: ciphertext}, nil
}

func decodeField(name, value string, wantLen int, op string) ([]byte, error) {
	b, err := util.Base64Decode(value)
	if err != nil {
		return nil, newError(KindMalformedEnvelope, op, "invalid "+name+" encoding", err)
	}
	if len(b) != wantLen {
		return nil, newError(KindMalformedEnvelope, op, fmt.Sprintf("%s must be %d bytes, got %d", name, wantLen, len(b)), nil)
	}
	return b, nil
}
