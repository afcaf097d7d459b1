package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SecretEncoding records how a chain represents private key material externally.
type SecretEncoding string

const (
	SecretEncodingHex   SecretEncoding = "hex"   // ETH, APTOS
	SecretEncodingBytes SecretEncoding = "bytes" // SOL: raw byte sequence
)

// Secret is opaque key material plus the encoding its chain uses for it.
type Secret struct {
	Encoding SecretEncoding
	Bytes    []byte
}

// HexSecret wraps b as a hex-encoded secret.
func HexSecret(b []byte) Secret {
	return Secret{Encoding: SecretEncodingHex, Bytes: append([]byte(nil), b...)}
}

// ByteSecret wraps b as a raw byte-sequence secret.
func ByteSecret(b []byte) Secret {
	return Secret{Encoding: SecretEncodingBytes, Bytes: append([]byte(nil), b...)}
}

// Clone returns a copy that does not share the backing array.
func (s Secret) Clone() Secret {
	return Secret{Encoding: s.Encoding, Bytes: append([]byte(nil), s.Bytes...)}
}

// External renders the secret in its chain's native form: a 0x-prefixed hex string or a
// JSON-style list of byte values.
func (s Secret) External() any {
	if s.Encoding == SecretEncodingBytes {
		out := make([]int, len(s.Bytes))
		for i, b := range s.Bytes {
			out[i] = int(b)
		}
		return out
	}
	return "0x" + hex.EncodeToString(s.Bytes)
}

// ParseSecret decodes the external form of a private key as found in import records:
// a hex string (with or without 0x) or a JSON array of byte values.
func ParseSecret(raw json.RawMessage) (*Secret, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var ints []int
		if err := json.Unmarshal(raw, &ints); err != nil {
			return nil, fmt.Errorf("%w: private key byte list: %v", ErrInvalidInput, err)
		}
		b := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: private key byte %d out of range", ErrInvalidInput, v)
			}
			b[i] = byte(v)
		}
		s := ByteSecret(b)
		return &s, nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidInput, err)
	}
	str = strings.TrimPrefix(strings.TrimSpace(str), "0x")
	if str == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("%w: private key hex: %v", ErrInvalidInput, err)
	}
	s := HexSecret(b)
	return &s, nil
}

// Encode serialises the secret as "<encoding>:<hex>" for sealing at rest.
func (s Secret) Encode() string {
	return string(s.Encoding) + ":" + hex.EncodeToString(s.Bytes)
}

// DecodeSecret reverses Encode.
func DecodeSecret(encoded string) (*Secret, error) {
	enc, payload, ok := strings.Cut(encoded, ":")
	if !ok {
		return nil, fmt.Errorf("%w: sealed secret has no encoding tag", ErrInvalidInput)
	}
	b, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: sealed secret: %v", ErrInvalidInput, err)
	}
	switch SecretEncoding(enc) {
	case SecretEncodingHex:
		s := HexSecret(b)
		return &s, nil
	case SecretEncodingBytes:
		s := ByteSecret(b)
		return &s, nil
	default:
		return nil, fmt.Errorf("%w: unknown secret encoding %q", ErrInvalidInput, enc)
	}
}
