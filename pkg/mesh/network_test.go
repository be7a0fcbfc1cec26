package mesh

import (
	"crypto/ed25519"
	"net/netip"
	"testing"

	"github.com/WebFirstLanguage/datamesher/pkg/clock"
)

func newSignedTestHost(t *testing.T, c clock.Clock, port uint16) (*Host, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var pk PubKey
	copy(pk[:], pub)
	h := NewHost(pk, netip.MustParseAddr("2001:db8::1"), port)
	if err := h.Sign(priv, c); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return h, priv
}

func TestNetworkMergeInsertsNewVerifiedHost(t *testing.T) {
	adminPub, _, _ := ed25519.GenerateKey(nil)
	var adminID PubKey
	copy(adminID[:], adminPub)

	self := NewNetwork(adminID, "mesh")
	other := NewNetwork(adminID, "mesh")

	c := clock.NewMock()
	host, _ := newSignedTestHost(t, c, 1000)
	other.Hosts[host.PublicKey] = host

	self.Merge(other, MergeOptions{})

	if _, ok := self.Hosts[host.PublicKey]; !ok {
		t.Fatal("expected newly-seen verified host to be inserted")
	}
}

func TestNetworkMergeHonoursBannedKeys(t *testing.T) {
	adminPub, _, _ := ed25519.GenerateKey(nil)
	var adminID PubKey
	copy(adminID[:], adminPub)

	self := NewNetwork(adminID, "mesh")
	other := NewNetwork(adminID, "mesh")

	c := clock.NewMock()
	host, _ := newSignedTestHost(t, c, 1000)
	other.Hosts[host.PublicKey] = host
	self.BannedKeys[host.PublicKey] = struct{}{}

	self.Merge(other, MergeOptions{})

	if _, ok := self.Hosts[host.PublicKey]; ok {
		t.Fatal("a banned host must never be present after merge")
	}
}

func TestNetworkMergeDropsHostAlreadyPresentWhenBannedMidMerge(t *testing.T) {
	adminPub, _, _ := ed25519.GenerateKey(nil)
	var adminID PubKey
	copy(adminID[:], adminPub)

	self := NewNetwork(adminID, "mesh")
	other := NewNetwork(adminID, "mesh")

	c := clock.NewMock()
	host, priv := newSignedTestHost(t, c, 1000)
	self.Hosts[host.PublicKey] = host.Clone()

	updated := host.Clone()
	c.Add(clockSecond)
	updated.Port = 2000
	if err := updated.Sign(priv, c); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	other.Hosts[host.PublicKey] = updated
	other.BannedKeys[host.PublicKey] = struct{}{}
	other.LastUpdate = 1

	self.Merge(other, MergeOptions{})

	if _, ok := self.Hosts[host.PublicKey]; ok {
		t.Fatal("a host banned by the incoming settings must be dropped, even if already present")
	}
}

func TestNetworkMergeRejectsCrossHostHostnameConflict(t *testing.T) {
	adminPub, adminPriv, _ := ed25519.GenerateKey(nil)
	var adminID PubKey
	copy(adminID[:], adminPub)

	self := NewNetwork(adminID, "mesh")
	c := clock.NewMock()

	owner, ownerPriv := newSignedTestHost(t, c, 1000)
	signedName := NewHostname("wiki")
	if err := signedName.Sign(adminPriv, 1); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	owner.Hostnames["wiki"] = signedName
	if err := owner.Sign(ownerPriv, c); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	self.Hosts[owner.PublicKey] = owner

	claimant, claimantPriv := newSignedTestHost(t, c, 2000)
	claimant.Hostnames["wiki"] = NewHostname("wiki") // tentative, conflicts with owner's signed claim
	if err := claimant.Sign(claimantPriv, c); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other := NewNetwork(adminID, "mesh")
	other.Hosts[claimant.PublicKey] = claimant

	self.Merge(other, MergeOptions{})

	got := self.Hosts[claimant.PublicKey]
	if got == nil {
		t.Fatal("expected claimant host itself to be inserted")
	}
	if _, conflicted := got.Hostnames["wiki"]; conflicted {
		t.Error("a tentative hostname conflicting with another host's signed claim must be dropped")
	}
}
