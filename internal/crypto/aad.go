// Package icrypto builds the associated data bound into configuration envelopes.
package icrypto

import (
	"encoding/binary"
)

const aadConfigEnvelope = "CFGENV"

// AADConfigEnvelope returns the associated data authenticated alongside an
// envelope's ciphertext. It binds the suite label, format version and
// algorithm identifier so that none of them can be altered without failing
// tag verification.
func AADConfigEnvelope(label string, version int, algorithm string) []byte {
	return buildAAD(aadConfigEnvelope, label, version, algorithm)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, v)
			res = append(res, b...)
		case int:
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v))
			res = append(res, b...)
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(data)))
	b = append(b, l...)
	b = append(b, data...)
	return b
}
