// Package identity manages the Ed25519 signing key every mesh participant
// uses to sign its own Host and Hostname records (spec.md §3, §4.2). It is
// adapted from beenet's pkg/identity, which additionally carries an X25519
// key-agreement pair for its Noise transport; this module has no encrypted
// transport (spec.md Non-goals), so only the signing pair survives.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"lukechampine.com/blake3"
)

// Identity holds the Ed25519 keypair a node signs its records with.
type Identity struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey

	fingerprint string
}

// Generate creates a fresh Ed25519 keypair.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "identity: generate key")
	}
	return &Identity{PublicKey: pub, PrivateKey: priv}, nil
}

// Fingerprint returns a short human-readable proquint token derived from
// the public key, for log lines only; it is never part of a signed
// document or wire payload. The hash-to-proquint algorithm is carried over
// unchanged from beenet's computeHoneytag/encodeBeeQuint32 (identifiers
// renamed, logic untouched) since it is a fixed, publicly documented
// encoding with no domain-specific behavior to adapt.
func (id *Identity) Fingerprint() string {
	if id.fingerprint == "" {
		id.fingerprint = computeFingerprint(id.PublicKey)
	}
	return id.fingerprint
}

func computeFingerprint(pub ed25519.PublicKey) string {
	hasher := blake3.New(32, nil)
	hasher.Write(pub)
	hash := hasher.Sum(nil)
	fp32 := uint32(hash[0])<<24 | uint32(hash[1])<<16 | uint32(hash[2])<<8 | uint32(hash[3])
	return encodeQuint32(fp32)
}

const (
	proquintConsonants = "bdfghjklmnprstvz"
	proquintVowels     = "aeiou"
)

// encodeQuint32 encodes a 32-bit value as two CVCVC proquints joined by '-'.
func encodeQuint32(value uint32) string {
	high := uint16(value >> 16)
	low := uint16(value & 0xFFFF)

	encodeQuint := func(val uint16) string {
		result := make([]byte, 5)
		result[0] = proquintConsonants[(val>>12)&0x0F]
		result[1] = proquintVowels[(val>>10)&0x03]
		result[2] = proquintConsonants[(val>>6)&0x0F]
		result[3] = proquintVowels[(val>>4)&0x03]
		result[4] = proquintConsonants[val&0x0F]
		return string(result)
	}

	return encodeQuint(high) + "-" + encodeQuint(low)
}

// SaveToFile writes the private key seed to filename, base64-standard
// encoded, matching the original Python implementation's key-file format
// (nacl.signing.SigningKey.encode(Base64Encoder)) so existing key files
// written by that tool can be read back here unchanged.
func (id *Identity) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "identity: create key directory")
	}

	seed := id.PrivateKey.Seed()
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(seed)))
	base64.StdEncoding.Encode(encoded, seed)

	if err := os.WriteFile(filename, encoded, 0600); err != nil {
		return errors.Wrap(err, "identity: write key file")
	}
	return nil
}

// LoadFromFile reads a seed written by SaveToFile (or by the original
// Python tool) and reconstructs the full Ed25519 keypair.
func LoadFromFile(filename string) (*Identity, error) {
	encoded, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "identity: read key file")
	}

	seed, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "identity: decode key file")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Newf("identity: key file has %d-byte seed, want %d", len(seed), ed25519.SeedSize)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}, nil
}

// LoadOrGenerate reads the identity at filename, generating and persisting
// a fresh one if the file does not exist yet (spec.md §6 CLI key
// bootstrapping).
func LoadOrGenerate(filename string) (*Identity, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := id.SaveToFile(filename); err != nil {
			return nil, err
		}
		return id, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "identity: stat key file")
	}
	return LoadFromFile(filename)
}
