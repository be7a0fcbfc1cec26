package mesh

import (
	"crypto/ed25519"
	"net/netip"
	"testing"

	"github.com/WebFirstLanguage/datamesher/pkg/canon"
	"github.com/WebFirstLanguage/datamesher/pkg/clock"
)

func docBytes(t *testing.T, m *Mesh) string {
	t.Helper()
	doc, err := m.ToDocument(clock.NewMock())
	if err != nil {
		t.Fatalf("ToDocument: %v", err)
	}
	b, err := canon.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	return string(b)
}

func meshWithOneHost(t *testing.T, adminID PubKey, port uint16) *Mesh {
	t.Helper()
	m := New()
	net := NewNetwork(adminID, "mesh")
	c := clock.NewMock()
	host, _ := newSignedTestHost(t, c, port)
	net.Hosts[host.PublicKey] = host
	m.Networks[adminID] = net
	return m
}

func TestMeshMergeIdempotence(t *testing.T) {
	adminPub, _, _ := ed25519.GenerateKey(nil)
	var adminID PubKey
	copy(adminID[:], adminPub)

	m := meshWithOneHost(t, adminID, 1000)
	before := docBytes(t, m)

	m.Merge(m)

	after := docBytes(t, m)
	if before != after {
		t.Errorf("merge(x, x) changed the document:\nbefore=%s\nafter=%s", before, after)
	}
}

func TestMeshMergeCommutativity(t *testing.T) {
	adminPub, _, _ := ed25519.GenerateKey(nil)
	var adminID PubKey
	copy(adminID[:], adminPub)

	c := clock.NewMock()
	h1, _ := newSignedTestHost(t, c, 1001)
	h2, _ := newSignedTestHost(t, c, 1002)
	h3, _ := newSignedTestHost(t, c, 1003)

	updateFor := func(h *Host) *Mesh {
		m := New()
		net := NewNetwork(adminID, "mesh")
		net.Hosts[h.PublicKey] = h.Clone()
		m.Networks[adminID] = net
		return m
	}

	orderA := New()
	orderA.Merge(updateFor(h1))
	orderA.Merge(updateFor(h2))
	orderA.Merge(updateFor(h3))

	orderB := New()
	orderB.Merge(updateFor(h3))
	orderB.Merge(updateFor(h1))
	orderB.Merge(updateFor(h2))

	if docBytes(t, orderA) != docBytes(t, orderB) {
		t.Error("merging the same updates in a different order produced a different result")
	}
}

func TestMeshMergeBannedKeysHonoured(t *testing.T) {
	adminPub, adminPriv, _ := ed25519.GenerateKey(nil)
	var adminID PubKey
	copy(adminID[:], adminPub)

	base := meshWithOneHost(t, adminID, 1000)
	var bannedKey PubKey
	for k := range base.Networks[adminID].Hosts {
		bannedKey = k
	}

	rotation := New()
	net := NewNetwork(adminID, "mesh")
	net.LastUpdate = 1
	net.BannedKeys[bannedKey] = struct{}{}
	net.SettingsSignature = nil
	rotation.Networks[adminID] = net
	_ = adminPriv

	base.Merge(rotation)

	if _, ok := base.Networks[adminID].Hosts[bannedKey]; ok {
		t.Error("host present in banned_keys must be absent after merge")
	}
}

func TestMeshAllHostsOrderedByNetworkThenPublicKey(t *testing.T) {
	adminPub, _, _ := ed25519.GenerateKey(nil)
	var adminID PubKey
	copy(adminID[:], adminPub)

	m := New()
	net := NewNetwork(adminID, "mesh")
	c := clock.NewMock()
	for i := 0; i < 5; i++ {
		h, _ := newSignedTestHost(t, c, uint16(1000+i))
		net.Hosts[h.PublicKey] = h
	}
	m.Networks[adminID] = net

	hosts := m.AllHosts()
	if len(hosts) != 5 {
		t.Fatalf("expected 5 hosts, got %d", len(hosts))
	}
	for i := 1; i < len(hosts); i++ {
		if !hosts[i-1].PublicKey.Less(hosts[i].PublicKey) {
			t.Error("AllHosts is not sorted by public key within a network")
		}
	}
}

func TestGuardMergeIsConcurrencySafe(t *testing.T) {
	adminPub, _, _ := ed25519.GenerateKey(nil)
	var adminID PubKey
	copy(adminID[:], adminPub)

	guard := NewGuard(New())
	c := clock.NewMock()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			m := New()
			net := NewNetwork(adminID, "mesh")
			h, _ := newSignedTestHost(t, c, uint16(2000+i))
			net.Hosts[h.PublicKey] = h
			m.Networks[adminID] = net
			if _, err := guard.Merge(m, c); err != nil {
				t.Errorf("Merge: %v", err)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	doc, err := guard.Document(c)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if len(doc[adminID.String()].Hosts) != 8 {
		t.Errorf("expected 8 hosts after concurrent merges, got %d", len(doc[adminID.String()].Hosts))
	}
}

func TestHostStaleness(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	var pk PubKey
	copy(pk[:], pub)
	h := NewHost(pk, netip.MustParseAddr("::1"), 1)
	h.LastSeen = 1000

	if h.IsStale(1030, 60) {
		t.Error("host within the staleness window must not be stale")
	}
	if !h.IsStale(1100, 60) {
		t.Error("host past the staleness window must be stale")
	}
}
