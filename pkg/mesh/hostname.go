package mesh

import (
	"bytes"
	"crypto/ed25519"

	"golang.org/x/text/unicode/norm"

	"github.com/cockroachdb/errors"

	"github.com/WebFirstLanguage/datamesher/pkg/canon"
	"github.com/WebFirstLanguage/datamesher/pkg/constants"
)

// Hostname is a short label a host claims within a network (spec.md §3).
// An unsigned Hostname is tentative; SignedAt and Signature are either
// both present or both absent.
type Hostname struct {
	Name      string
	SignedAt  *int64
	Signature *Signature
}

// NewHostname returns an unsigned, tentative claim on name.
func NewHostname(name string) Hostname {
	return Hostname{Name: name}
}

// IsSigned reports whether the claim carries a signature.
func (h Hostname) IsSigned() bool {
	return h.SignedAt != nil && h.Signature != nil
}

// hostnameSignDoc is the canonical form signed and verified directly: the
// name plus signed_at, never the signature itself (spec.md §3, §4.1).
type hostnameSignDoc struct {
	Name     string `json:"name"`
	SignedAt *int64 `json:"signed_at,omitempty"`
}

func (h Hostname) CanonicalBytes() ([]byte, error) {
	return canon.Marshal(hostnameSignDoc{Name: h.Name, SignedAt: h.SignedAt})
}

// Sign stamps the claim with at and signs it with priv (spec.md §4.2
// Hostname.update_signature).
func (h *Hostname) Sign(priv ed25519.PrivateKey, at int64) error {
	h.SignedAt = &at
	msg, err := h.CanonicalBytes()
	if err != nil {
		return err
	}
	var sig Signature
	copy(sig[:], ed25519.Sign(priv, msg))
	h.Signature = &sig
	return nil
}

// VerifyAny reports whether the claim verifies under at least one of
// authorized (spec.md §4.2 Hostname.verify).
func (h Hostname) VerifyAny(authorized []PubKey) bool {
	if !h.IsSigned() {
		return false
	}
	msg, err := h.CanonicalBytes()
	if err != nil {
		return false
	}
	for _, k := range authorized {
		if ed25519.Verify(k.Bytes(), msg, h.Signature[:]) {
			return true
		}
	}
	return false
}

// MergeHostname applies spec.md §4.3 Hostname.merge: a signed claim from
// other that fails verification under authorized is discarded outright;
// between two signed claims the earliest signed_at wins, ties broken by
// the lexicographically smaller signature; a signed claim beats an
// unsigned one; two unsigned claims never clobber each other.
func MergeHostname(self, other Hostname, authorized []PubKey) Hostname {
	if other.IsSigned() && !other.VerifyAny(authorized) {
		return self
	}
	switch {
	case self.IsSigned() && other.IsSigned():
		if *other.SignedAt < *self.SignedAt {
			return other
		}
		if *other.SignedAt == *self.SignedAt && bytes.Compare(other.Signature[:], self.Signature[:]) < 0 {
			return other
		}
		return self
	case other.IsSigned():
		return other
	default:
		return self
	}
}

// HostnameDoc is the transport/persisted form of a hostname nested inside
// a Host document: name is the enclosing map key, so it is omitted here.
type HostnameDoc struct {
	SignedAt  *int64     `json:"signed_at,omitempty"`
	Signature *Signature `json:"signature,omitempty"`
}

func (h Hostname) ToDoc() HostnameDoc {
	return HostnameDoc{SignedAt: h.SignedAt, Signature: h.Signature}
}

// hostnameFromDoc reconstructs a Hostname from its transport form,
// rejecting a document where exactly one of signed_at/signature is
// present (spec.md §3 invariant), and normalizing/validating the label
// itself (spec.md §3: non-empty ASCII, at most constants.MaxHostnameNameBytes
// bytes, no dots).
func hostnameFromDoc(name string, d HostnameDoc) (Hostname, error) {
	if (d.SignedAt == nil) != (d.Signature == nil) {
		return Hostname{}, errHostnameSignatureMismatch(name)
	}
	normalized, err := NormalizeLabel(name)
	if err != nil {
		return Hostname{}, err
	}
	return Hostname{Name: normalized, SignedAt: d.SignedAt, Signature: d.Signature}, nil
}

// NormalizeLabel NFKC-normalizes name and validates it against spec.md §3:
// non-empty, ASCII only, at most constants.MaxHostnameNameBytes bytes, and
// free of dots (a hostname label never carries its own TLD separator).
// original_source never normalized or validated labels at all; every other
// name-handling module in the retrieved pack (beenet's honeytag handle
// normalization) NFKC-normalizes before accepting a name, so this module
// does too, to keep the exported DNS file free of confusable byte
// sequences.
func NormalizeLabel(name string) (string, error) {
	normalized := norm.NFKC.String(name)
	if normalized == "" {
		return "", errors.Newf("mesh: hostname label must not be empty")
	}
	if len(normalized) > constants.MaxHostnameNameBytes {
		return "", errors.Newf("mesh: hostname label %q exceeds %d bytes", normalized, constants.MaxHostnameNameBytes)
	}
	for i := 0; i < len(normalized); i++ {
		if normalized[i] > 0x7F {
			return "", errors.Newf("mesh: hostname label %q is not ASCII", normalized)
		}
	}
	for i := 0; i < len(normalized); i++ {
		if normalized[i] == '.' {
			return "", errors.Newf("mesh: hostname label %q must not contain a dot", normalized)
		}
	}
	return normalized, nil
}
