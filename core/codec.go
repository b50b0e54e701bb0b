package core

// codec.go – canonical (fixed) encoding helpers. Every hashable structure is
// RLP-encoded; the digest of that encoding is its identity on chain.

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Encode RLP-encodes v.
func Encode(v interface{}) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, NewProtocolError(KindBinding, fmt.Errorf("rlp encode: %w", err))
	}
	return b, nil
}

// MustEncode RLP-encodes v and panics on failure. The structures routed
// through here are fixed shapes whose encoding cannot fail at runtime; a
// failure indicates a programming error, not an input error.
func MustEncode(v interface{}) []byte {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(fmt.Sprintf("codec: rlp encode %T: %v", v, err))
	}
	return b
}

// Decode RLP-decodes raw into out.
func Decode(raw []byte, out interface{}) error {
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return NewProtocolError(KindBinding, fmt.Errorf("rlp decode %T: %w", out, err))
	}
	return nil
}

// EncodeUint64 produces the canonical encoding of a u64 scalar.
func EncodeUint64(v uint64) []byte { return MustEncode(v) }

// DecodeUint64 reverses EncodeUint64.
func DecodeUint64(raw []byte) (uint64, error) {
	var v uint64
	if err := Decode(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// EncodeString produces the canonical encoding of a string scalar.
func EncodeString(s string) []byte { return MustEncode(s) }

// DecodeString reverses EncodeString.
func DecodeString(raw []byte) (string, error) {
	var s string
	if err := Decode(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// EncodeBool produces the canonical encoding of a bool scalar.
func EncodeBool(b bool) []byte { return MustEncode(b) }

// DecodeBool reverses EncodeBool.
func DecodeBool(raw []byte) (bool, error) {
	var b bool
	if err := Decode(raw, &b); err != nil {
		return false, err
	}
	return b, nil
}
