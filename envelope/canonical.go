// Package envelope implements DIDComm v2 message packing and unpacking:
// JWS (General JSON Serialization) signing, JWE (General JSON Serialization)
// encryption, and the pack/unpack orchestration across the five DIDComm
// modes (plaintext, signed, anon_encrypted, auth_encrypted, and
// signed-then-auth_encrypted).
package envelope

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/tap-labs/tap-go"
)

// Canonicalize produces a deterministic JSON encoding of v: object keys
// sorted lexicographically at every level, no insignificant whitespace.
// The JWS signing input is computed over this encoding so that two callers
// serializing the same payload independently sign (and verify) identical
// bytes, regardless of map iteration order or field order in source structs.
//
// There is no JCS (RFC 8785) implementation in the reference corpus; this
// is a direct, narrowly-scoped canonicalizer built on encoding/json plus
// sort.Strings, not a generalized JSON library.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, tap.NewParseError("canonicalize", "", "marshal failed", err)
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, tap.NewParseError("canonicalize", "", "decode failed", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return tap.NewParseError("canonicalize", k, "key marshal failed", err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		eb, err := json.Marshal(val)
		if err != nil {
			return tap.NewParseError("canonicalize", "", "value marshal failed", err)
		}
		buf.Write(eb)
	}
	return nil
}
