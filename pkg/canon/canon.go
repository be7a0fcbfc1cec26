// Package canon implements the canonical JSON-like codec shared by every
// signer and verifier in datamesher (spec.md §4.1). It guarantees that two
// peers building the same semantic document always produce byte-identical
// output: object keys are emitted in Go's already-deterministic map/struct
// order (encoding/json sorts map[string]V keys lexicographically and never
// reorders struct fields), integers carry no fractional part, byte strings
// use standard padded base64, and decoding rejects duplicate object keys
// instead of silently keeping the last one.
//
// Earlier iterations of this protocol used canonical CBOR (see beenet's
// pkg/codec/cborcanon) for the same purpose; this module's wire format is
// explicitly JSON-like (spec.md §4.1, §6), so the codec is built directly
// on encoding/json rather than introducing a CBOR dependency with nothing
// in the schema to exercise it.
package canon

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// DecodeError wraps a structural decode failure: an unknown field, a type
// mismatch, malformed JSON, or a duplicate object key (spec.md §4.1
// Failure). A field missing from the document is not detected here; it
// decodes as its zero value.
type DecodeError struct {
	err error
}

func (e *DecodeError) Error() string { return "canon: " + e.err.Error() }
func (e *DecodeError) Unwrap() error { return e.err }

func newDecodeError(err error) *DecodeError {
	return &DecodeError{err: err}
}

// Marshal encodes v as compact, deterministic JSON. HTML-escaping is
// disabled so the bytes a signer produces match the bytes a verifier
// recomputes, regardless of whether the payload happens to contain '<',
// '>' or '&'.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "canon: marshal")
	}
	// json.Encoder.Encode appends a trailing newline; canonical bytes must
	// be exact, so trim it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Unmarshal decodes data into v, rejecting documents with duplicate object
// keys at any nesting level and fields the target type does not declare.
// Both are structural errors per spec.md §4.1 and must reject the entire
// payload rather than silently pick a value.
func Unmarshal(data []byte, v interface{}) error {
	if err := checkDuplicateKeys(data); err != nil {
		return newDecodeError(err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return newDecodeError(err)
	}
	return nil
}
