// Package mesh implements the entity model and merge rules of the
// directory (spec.md §3, §4.3): Hostname, Host, Network and the Mesh
// aggregate, plus their canonical (signing) and transport (wire/disk)
// serializations. It is grounded on beenet's pkg/honeytag (CRDT compare
// logic, sign-over-canonical-bytes pattern) generalized from a single
// name/value CRDT to the spec's three-level Hostname/Host/Network
// ownership hierarchy, and on the original Python data_mesher.data module
// for the exact merge and data_to_sign semantics it replaces.
package mesh

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// PubKey is an Ed25519 verify key. It is used both as a network/host
// identity and as a map key throughout the aggregate, so it is a fixed-size
// comparable array rather than a slice (spec.md §3, §4.1: "Ed25519 verify
// keys are encoded as base64 of their 32-byte form").
type PubKey [ed25519.PublicKeySize]byte

// PubKeyFromBytes validates and wraps a raw 32-byte verify key.
func PubKeyFromBytes(b []byte) (PubKey, error) {
	var k PubKey
	if len(b) != len(k) {
		return k, errors.Newf("mesh: public key must be %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

// PubKeyFromBase64 decodes a standard-base64 verify key, as found in a
// state-file network-id or host-pubkey map key (spec.md §6).
func PubKeyFromBase64(s string) (PubKey, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PubKey{}, errors.Wrap(err, "mesh: decode base64 public key")
	}
	return PubKeyFromBytes(b)
}

// Bytes returns k as an ed25519.PublicKey, copying so callers cannot
// mutate the array through the returned slice.
func (k PubKey) Bytes() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), k[:]...)
}

func (k PubKey) String() string { return base64.StdEncoding.EncodeToString(k[:]) }

// Less orders keys by their raw bytes, used whenever the spec requires
// "hosts by public_key" / "networks by id" lexicographic ordering (spec.md
// §4.4).
func (k PubKey) Less(o PubKey) bool { return bytes.Compare(k[:], o[:]) < 0 }

func (k PubKey) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

func (k *PubKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := PubKeyFromBase64(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Signature is a 64-byte Ed25519 signature.
type Signature [ed25519.SignatureSize]byte

func (s Signature) String() string { return base64.StdEncoding.EncodeToString(s[:]) }

func (s Signature) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Signature) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	b, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return errors.Wrap(err, "mesh: decode base64 signature")
	}
	if len(b) != len(s) {
		return errors.Newf("mesh: signature must be %d bytes, got %d", len(s), len(b))
	}
	copy(s[:], b)
	return nil
}
