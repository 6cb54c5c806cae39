package envelope

import (
	"errors"
)

// Sentinel errors for errors.Is() checks.
var (
	// ErrUnsupportedFormat is returned when an envelope's version or algorithm
	// identifier is not the one this codec was built for.
	ErrUnsupportedFormat = errors.New("unsupported envelope format")

	// ErrMalformedEnvelope is returned when an envelope field is missing,
	// cannot be decoded, or has the wrong length.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrDecryptionFailed covers every authentication failure: a wrong
	// passphrase and tampered data are indistinguishable to the caller.
	ErrDecryptionFailed = errors.New("incorrect passphrase or corrupted data")

	// ErrInternal is returned for randomness failures, derivation failures or
	// timeouts, and authenticated plaintext that does not parse.
	ErrInternal = errors.New("internal error")

	// ErrInvalidInput is returned when the caller supplies an empty
	// passphrase or a configuration that cannot be serialized.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind classifies envelope errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupportedFormat
	KindMalformedEnvelope
	KindDecryptionFailed
	KindInternal
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindMalformedEnvelope:
		return "malformed_envelope"
	case KindDecryptionFailed:
		return "decryption_failed"
	case KindInternal:
		return "internal"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	case KindMalformedEnvelope:
		return ErrMalformedEnvelope
	case KindDecryptionFailed:
		return ErrDecryptionFailed
	case KindInternal:
		return ErrInternal
	case KindInvalidInput:
		return ErrInvalidInput
	default:
		return nil
	}
}

// Error is the typed failure returned by Codec and KeyDeriver operations.
// Its message never contains passphrases or key material.
type Error struct {
	Kind Kind
	Op   string // "encrypt", "decrypt", "derive", "validate"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := "envelope error"
	if sentinel := e.Kind.sentinel(); sentinel != nil {
		s = sentinel.Error()
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	return s
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *Error) Is(target error) bool {
	sentinel := e.Kind.sentinel()
	return sentinel != nil && target == sentinel
}

// KindOf reports the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []Kind{KindUnsupportedFormat, KindMalformedEnvelope, KindDecryptionFailed, KindInternal, KindInvalidInput} {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}
	return KindUnknown
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}
