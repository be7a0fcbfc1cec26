package mesh

import (
	"crypto/ed25519"
	"net/netip"

	"github.com/cockroachdb/errors"

	"github.com/WebFirstLanguage/datamesher/pkg/canon"
	"github.com/WebFirstLanguage/datamesher/pkg/clock"
)

// Host is a node's self-advertisement in one network (spec.md §3).
type Host struct {
	PublicKey PubKey
	IP        netip.Addr
	Port      uint16
	LastSeen  int64
	Hostnames map[string]Hostname
	Signature Signature

	// AdminSignature is present in the schema for non-public networks but
	// unenforced by default (spec.md §9 open question); see
	// MergeOptions.EnforceAdminSignature.
	AdminSignature *Signature
}

// NewHost returns a fresh, unsigned Host owned by pub.
func NewHost(pub PubKey, ip netip.Addr, port uint16) *Host {
	return &Host{PublicKey: pub, IP: ip, Port: port, Hostnames: make(map[string]Hostname)}
}

// hostnameEntryCanonDoc is the inner form a Hostname takes inside a Host's
// canonical bytes: the name is the map key, and the signature is always
// omitted even when the claim is signed (spec.md §4.1).
type hostnameEntryCanonDoc struct {
	SignedAt *int64 `json:"signed_at,omitempty"`
}

// hostCanonDoc's fields are declared in the same order as their JSON keys
// sort lexicographically (hostnames, ip, last_seen, port): spec.md §4.1
// mandates "keys sorted lexicographically" for the signed form, and
// encoding/json emits struct fields in declaration order, never resorted.
type hostCanonDoc struct {
	Hostnames map[string]hostnameEntryCanonDoc `json:"hostnames"`
	IP        netip.Addr                       `json:"ip"`
	LastSeen  int64                            `json:"last_seen"`
	Port      uint16                           `json:"port"`
}

func (h *Host) canonicalDoc() hostCanonDoc {
	names := make(map[string]hostnameEntryCanonDoc, len(h.Hostnames))
	for name, hn := range h.Hostnames {
		names[name] = hostnameEntryCanonDoc{SignedAt: hn.SignedAt}
	}
	return hostCanonDoc{Hostnames: names, IP: h.IP, LastSeen: h.LastSeen, Port: h.Port}
}

func (h *Host) CanonicalBytes() ([]byte, error) {
	return canon.Marshal(h.canonicalDoc())
}

// Sign refreshes last_seen through c (monotone per signer) and signs the
// resulting canonical bytes (spec.md §4.2 Host.update_signature).
func (h *Host) Sign(priv ed25519.PrivateKey, c clock.Clock) error {
	h.LastSeen = clock.NextUnix(c, h.LastSeen)
	msg, err := h.CanonicalBytes()
	if err != nil {
		return err
	}
	var sig Signature
	copy(sig[:], ed25519.Sign(priv, msg))
	h.Signature = sig
	return nil
}

// Verify recomputes the canonical bytes and checks the host's own
// signature against its own public key (spec.md §4.2 Host.verify).
func (h *Host) Verify() bool {
	msg, err := h.CanonicalBytes()
	if err != nil {
		return false
	}
	return ed25519.Verify(h.PublicKey.Bytes(), msg, h.Signature[:])
}

// IsStale reports whether nowUnix has drifted past last_seen by more than
// staleSeconds (spec.md §4.3 Host.is_stale).
func (h *Host) IsStale(nowUnix, staleSeconds int64) bool {
	return nowUnix-h.LastSeen > staleSeconds
}

// Clone returns a deep copy safe to mutate independently of h.
func (h *Host) Clone() *Host {
	clone := *h
	clone.Hostnames = make(map[string]Hostname, len(h.Hostnames))
	for k, v := range h.Hostnames {
		clone.Hostnames[k] = v
	}
	return &clone
}

// hostAdminCanonDoc is signed by the network admin (or an additional
// host-signing key) to vouch that a host belongs to a non-public network
// (spec.md §3: admin_signature "over its ip+public_key").
type hostAdminCanonDoc struct {
	IP        netip.Addr `json:"ip"`
	PublicKey PubKey     `json:"public_key"`
}

func (h *Host) AdminCanonicalBytes() ([]byte, error) {
	return canon.Marshal(hostAdminCanonDoc{IP: h.IP, PublicKey: h.PublicKey})
}

// VerifyAdminSignature reports whether AdminSignature verifies under one
// of authorized. Only consulted when MergeOptions.EnforceAdminSignature is
// set; by default this field is carried but never checked (spec.md §9).
func (h *Host) VerifyAdminSignature(authorized []PubKey) bool {
	if h.AdminSignature == nil {
		return false
	}
	msg, err := h.AdminCanonicalBytes()
	if err != nil {
		return false
	}
	for _, k := range authorized {
		if ed25519.Verify(k.Bytes(), msg, h.AdminSignature[:]) {
			return true
		}
	}
	return false
}

// Merge applies spec.md §4.3 Host.merge in place. conflicts reports
// whether name is a signed hostname already owned by a different host in
// the enclosing network; it gates acceptance of a newly introduced
// unsigned hostname from other.
func (h *Host) Merge(other *Host, authorized []PubKey, conflicts func(name string) bool) error {
	if other.PublicKey != h.PublicKey {
		return errors.Newf("mesh: cannot merge host %s into host %s", other.PublicKey, h.PublicKey)
	}
	if other.LastSeen <= h.LastSeen {
		return nil
	}
	if !other.Verify() {
		return nil
	}

	h.IP = other.IP
	h.Port = other.Port
	h.LastSeen = other.LastSeen
	h.Signature = other.Signature
	if other.AdminSignature != nil {
		h.AdminSignature = other.AdminSignature
	}

	names := make(map[string]struct{}, len(h.Hostnames)+len(other.Hostnames))
	for n := range h.Hostnames {
		names[n] = struct{}{}
	}
	for n := range other.Hostnames {
		names[n] = struct{}{}
	}

	for name := range names {
		selfHN, hasSelf := h.Hostnames[name]
		otherHN, hasOther := other.Hostnames[name]
		switch {
		case hasSelf && hasOther:
			h.Hostnames[name] = MergeHostname(selfHN, otherHN, authorized)
		case !hasSelf && hasOther:
			if otherHN.IsSigned() {
				if otherHN.VerifyAny(authorized) {
					h.Hostnames[name] = otherHN
				}
				continue
			}
			if conflicts != nil && conflicts(name) {
				continue
			}
			h.Hostnames[name] = otherHN
		}
	}
	return nil
}

// HostDoc is the transport/persisted form of a Host (spec.md §6). Its
// fields are declared in the order their JSON keys sort lexicographically,
// so the emitted object has sorted keys.
type HostDoc struct {
	AdminSignature *Signature             `json:"admin_signature,omitempty"`
	Hostnames      map[string]HostnameDoc `json:"hostnames"`
	IP             netip.Addr             `json:"ip"`
	LastSeen       int64                  `json:"last_seen"`
	Port           uint16                 `json:"port"`
	Signature      Signature              `json:"signature"`
}

func (h *Host) ToDoc() HostDoc {
	names := make(map[string]HostnameDoc, len(h.Hostnames))
	for name, hn := range h.Hostnames {
		names[name] = hn.ToDoc()
	}
	return HostDoc{
		IP:             h.IP,
		Port:           h.Port,
		LastSeen:       h.LastSeen,
		Hostnames:      names,
		Signature:      h.Signature,
		AdminSignature: h.AdminSignature,
	}
}

// HostFromDoc reconstructs a Host owned by pub from its transport form.
func HostFromDoc(pub PubKey, d HostDoc) (*Host, error) {
	names := make(map[string]Hostname, len(d.Hostnames))
	for name, hd := range d.Hostnames {
		hn, err := hostnameFromDoc(name, hd)
		if err != nil {
			return nil, err
		}
		names[name] = hn
	}
	return &Host{
		PublicKey:      pub,
		IP:             d.IP,
		Port:           d.Port,
		LastSeen:       d.LastSeen,
		Hostnames:      names,
		Signature:      d.Signature,
		AdminSignature: d.AdminSignature,
	}, nil
}
