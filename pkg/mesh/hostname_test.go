package mesh

import (
	"crypto/ed25519"
	"testing"

	"github.com/WebFirstLanguage/datamesher/pkg/constants"
)

func TestHostnameSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var pk PubKey
	copy(pk[:], pub)

	hn := NewHostname("wiki")
	if err := hn.Sign(priv, 100); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !hn.VerifyAny([]PubKey{pk}) {
		t.Fatal("expected signed hostname to verify")
	}

	hn.Name = "tampered"
	if hn.VerifyAny([]PubKey{pk}) {
		t.Fatal("expected verification to fail after mutating name")
	}
}

func TestHostnameCanonicalDeterminism(t *testing.T) {
	at := int64(42)
	a := Hostname{Name: "wiki", SignedAt: &at}
	b := Hostname{Name: "wiki", SignedAt: &at}

	ab, err := a.CanonicalBytes()
	if err != nil {
		t.Fatalf("CanonicalBytes: %v", err)
	}
	bb, err := b.CanonicalBytes()
	if err != nil {
		t.Fatalf("CanonicalBytes: %v", err)
	}
	if string(ab) != string(bb) {
		t.Errorf("canonical bytes differ for identical content: %s != %s", ab, bb)
	}
}

func TestHostnameCanonicalBytesOmitSignedAtWhenUnsigned(t *testing.T) {
	hn := NewHostname("wiki")
	b, err := hn.CanonicalBytes()
	if err != nil {
		t.Fatalf("CanonicalBytes: %v", err)
	}
	want := `{"name":"wiki"}`
	if string(b) != want {
		t.Errorf("CanonicalBytes = %s, want %s", b, want)
	}
}

func TestMergeHostnameSignedBeatsUnsigned(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	pub := priv.Public().(ed25519.PublicKey)
	var pk PubKey
	copy(pk[:], pub)
	authorized := []PubKey{pk}

	unsigned := NewHostname("wiki")
	signed := NewHostname("wiki")
	if err := signed.Sign(priv, 100); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got := MergeHostname(unsigned, signed, authorized)
	if !got.IsSigned() {
		t.Error("expected signed claim to win over unsigned")
	}

	got2 := MergeHostname(signed, unsigned, authorized)
	if !got2.IsSigned() {
		t.Error("expected signed claim to win regardless of argument order")
	}
}

func TestMergeHostnameTwoUnsignedIsNoOp(t *testing.T) {
	a := NewHostname("wiki")
	b := NewHostname("wiki")
	got := MergeHostname(a, b, nil)
	if got.IsSigned() {
		t.Error("two tentative claims must never become signed via merge")
	}
}

func TestMergeHostnameEarliestSignedAtWins(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	pub := priv.Public().(ed25519.PublicKey)
	var pk PubKey
	copy(pk[:], pub)
	authorized := []PubKey{pk}

	earlier := NewHostname("wiki")
	if err := earlier.Sign(priv, 100); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	later := NewHostname("wiki")
	if err := later.Sign(priv, 200); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if got := MergeHostname(earlier, later, authorized); *got.SignedAt != 100 {
		t.Errorf("expected earlier signed_at to win, got %d", *got.SignedAt)
	}
	if got := MergeHostname(later, earlier, authorized); *got.SignedAt != 100 {
		t.Errorf("expected earlier signed_at to win regardless of argument order, got %d", *got.SignedAt)
	}
}

func TestNormalizeLabelRejectsEmptyNonASCIIAndDotted(t *testing.T) {
	cases := []string{"", "café", "wiki.internal"}
	for _, name := range cases {
		if _, err := NormalizeLabel(name); err == nil {
			t.Errorf("NormalizeLabel(%q): expected an error, got nil", name)
		}
	}
}

func TestNormalizeLabelRejectsOverlongLabel(t *testing.T) {
	long := make([]byte, constants.MaxHostnameNameBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := NormalizeLabel(string(long)); err == nil {
		t.Error("expected an error for a label over the byte limit")
	}
}

func TestNormalizeLabelAcceptsPlainASCIILabel(t *testing.T) {
	got, err := NormalizeLabel("wiki")
	if err != nil {
		t.Fatalf("NormalizeLabel: %v", err)
	}
	if got != "wiki" {
		t.Errorf("NormalizeLabel(%q) = %q, want unchanged", "wiki", got)
	}
}

func TestMergeHostnameRejectsBadSignature(t *testing.T) {
	_, trusted, _ := ed25519.GenerateKey(nil)
	_, untrusted, _ := ed25519.GenerateKey(nil)
	var trustedPK PubKey
	copy(trustedPK[:], trusted.Public().(ed25519.PublicKey))
	authorized := []PubKey{trustedPK}

	self := NewHostname("wiki")
	forged := NewHostname("wiki")
	if err := forged.Sign(untrusted, 1); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got := MergeHostname(self, forged, authorized)
	if got.IsSigned() {
		t.Error("a claim signed by an unauthorized key must be discarded")
	}
}
