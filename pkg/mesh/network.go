package mesh

import (
	"net/netip"
	"sort"

	"github.com/WebFirstLanguage/datamesher/pkg/canon"
)

// HostnameOverride is an admin-only post-merge rewrite applied during DNS
// export (spec.md §3, §9 design note: application order vs. the regular
// hostname set is unspecified in the source, so this spec treats overrides
// strictly as a rewrite pass after merge, never as input to merge itself).
type HostnameOverride struct {
	Name    string
	Address netip.Addr
}

type hostnameOverrideDoc struct {
	Address  netip.Addr `json:"address"`
	Hostname string     `json:"hostname"`
}

// MergeOptions gates the two signature fields the schema carries but the
// source never enforced (spec.md §9 open questions). Both default to off,
// matching current behaviour; an operator can opt in via configuration.
type MergeOptions struct {
	EnforceSettingsSignature bool
	EnforceAdminSignature    bool
}

// Network is a named namespace of hosts, administered by the Ed25519 key
// that is also its id (spec.md §3).
type Network struct {
	ID                PubKey
	TLD               string
	Public            bool
	LastUpdate        int64
	HostSigningKeys   []PubKey
	BannedKeys        map[PubKey]struct{}
	HostnameOverrides []HostnameOverride
	Hosts             map[PubKey]*Host

	// SettingsSignature is present in the schema but unenforced unless
	// MergeOptions.EnforceSettingsSignature is set (spec.md §9).
	SettingsSignature *Signature
}

// NewNetwork returns an empty, public network administered by id.
func NewNetwork(id PubKey, tld string) *Network {
	return &Network{
		ID:                id,
		TLD:               tld,
		Public:            true,
		HostSigningKeys:   []PubKey{},
		BannedKeys:        map[PubKey]struct{}{},
		HostnameOverrides: []HostnameOverride{},
		Hosts:             map[PubKey]*Host{},
	}
}

// AuthorizedHostnameKeys returns the keys a signed Hostname may be signed
// by: the network admin key, plus every additional host-signing key
// (spec.md §4.2).
func (n *Network) AuthorizedHostnameKeys() []PubKey {
	keys := make([]PubKey, 0, len(n.HostSigningKeys)+1)
	keys = append(keys, n.ID)
	keys = append(keys, n.HostSigningKeys...)
	return keys
}

func (n *Network) IsBanned(pub PubKey) bool {
	_, banned := n.BannedKeys[pub]
	return banned
}

// sortedHostKeys returns n.Hosts's keys ordered by public key, the stable
// iteration order spec.md §4.4/§9 require for both export and safe merge.
func (n *Network) sortedHostKeys() []PubKey {
	keys := make([]PubKey, 0, len(n.Hosts))
	for k := range n.Hosts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// SortedHostKeys returns n.Hosts's keys in public-key order, the stable
// ordering spec.md §4.4 requires for export (hosts by public_key).
func (n *Network) SortedHostKeys() []PubKey {
	return n.sortedHostKeys()
}

// HostsOlderThan returns every host whose last_seen lags nowUnix by more
// than staleSeconds, in public-key order (spec.md §4.4
// get_hosts_older_than). The reconciler picks its targets from
// Mesh.AllHosts with Host.IsStale instead of calling this.
func (n *Network) HostsOlderThan(nowUnix, staleSeconds int64) []*Host {
	var stale []*Host
	for _, key := range n.sortedHostKeys() {
		if h := n.Hosts[key]; h.IsStale(nowUnix, staleSeconds) {
			stale = append(stale, h)
		}
	}
	return stale
}

// settingsCanonDoc is the canonical form settings are (optionally) signed
// and verified over. Fields are declared in the order their JSON keys sort
// lexicographically (banned_keys, host_signing_keys, hostname_overrides,
// last_update, public, tld), matching spec.md §4.1's "keys sorted
// lexicographically" rule; encoding/json never reorders struct fields.
type settingsCanonDoc struct {
	BannedKeys        []PubKey              `json:"banned_keys"`
	HostSigningKeys   []PubKey              `json:"host_signing_keys"`
	HostnameOverrides []hostnameOverrideDoc `json:"hostname_overrides"`
	LastUpdate        int64                 `json:"last_update"`
	Public            bool                  `json:"public"`
	TLD               string                `json:"tld"`
}

func (n *Network) sortedBannedKeys() []PubKey {
	keys := make([]PubKey, 0, len(n.BannedKeys))
	for k := range n.BannedKeys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func (n *Network) overrideDocs() []hostnameOverrideDoc {
	docs := make([]hostnameOverrideDoc, len(n.HostnameOverrides))
	for i, o := range n.HostnameOverrides {
		docs[i] = hostnameOverrideDoc{Hostname: o.Name, Address: o.Address}
	}
	return docs
}

func (n *Network) settingsCanonicalDoc() settingsCanonDoc {
	return settingsCanonDoc{
		BannedKeys:        n.sortedBannedKeys(),
		HostSigningKeys:   n.HostSigningKeys,
		HostnameOverrides: n.overrideDocs(),
		LastUpdate:        n.LastUpdate,
		Public:            n.Public,
		TLD:               n.TLD,
	}
}

func (n *Network) SettingsCanonicalBytes() ([]byte, error) {
	return canon.Marshal(n.settingsCanonicalDoc())
}

// VerifySettingsSignature reports whether SettingsSignature verifies
// under the network's own admin key.
func (n *Network) VerifySettingsSignature() bool {
	if n.SettingsSignature == nil {
		return false
	}
	msg, err := n.SettingsCanonicalBytes()
	if err != nil {
		return false
	}
	return edVerify(n.ID, msg, *n.SettingsSignature)
}

// conflictChecker reports, for a name, whether some host other than
// excluding holds a signed claim on it within n (spec.md §4.3 cross-host
// conflict check).
func (n *Network) conflictChecker(excluding PubKey) func(name string) bool {
	return func(name string) bool {
		for key, h := range n.Hosts {
			if key == excluding {
				continue
			}
			if hn, ok := h.Hostnames[name]; ok && hn.IsSigned() {
				return true
			}
		}
		return false
	}
}

// hostAdmissible reports whether h may be merged/inserted given opts: the
// admin-signature gate only applies to a non-public network, and only
// when explicitly enabled (spec.md §9).
func (n *Network) hostAdmissible(h *Host, opts MergeOptions) bool {
	if !opts.EnforceAdminSignature || n.Public {
		return true
	}
	return h.VerifyAdminSignature(n.AuthorizedHostnameKeys())
}

// Merge applies spec.md §4.3 Network.merge in place. It iterates a
// snapshot of other's host keys (spec.md §9 design note: never mutate a
// map while iterating it), so a host freshly inserted this round never
// sees itself enumerated again within the same call.
func (n *Network) Merge(other *Network, opts MergeOptions) {
	if other.LastUpdate > n.LastUpdate {
		adopt := true
		if opts.EnforceSettingsSignature {
			adopt = other.VerifySettingsSignature()
		}
		if adopt {
			n.LastUpdate = other.LastUpdate
			n.TLD = other.TLD
			n.Public = other.Public
			n.HostSigningKeys = append([]PubKey(nil), other.HostSigningKeys...)
			n.BannedKeys = make(map[PubKey]struct{}, len(other.BannedKeys))
			for k := range other.BannedKeys {
				n.BannedKeys[k] = struct{}{}
			}
			n.HostnameOverrides = append([]HostnameOverride(nil), other.HostnameOverrides...)
			n.SettingsSignature = other.SettingsSignature
		}
	}

	authorized := n.AuthorizedHostnameKeys()
	otherKeys := other.sortedHostKeys()

	for _, key := range otherKeys {
		if n.IsBanned(key) {
			continue
		}
		otherHost := other.Hosts[key]
		if !n.hostAdmissible(otherHost, opts) {
			continue
		}
		if selfHost, ok := n.Hosts[key]; ok {
			_ = selfHost.Merge(otherHost, authorized, n.conflictChecker(key))
			continue
		}
		if !otherHost.Verify() {
			continue
		}
		accepted := otherHost.Clone()
		conflicts := n.conflictChecker(key)
		for name, hn := range accepted.Hostnames {
			if hn.IsSigned() {
				if !hn.VerifyAny(authorized) {
					delete(accepted.Hostnames, name)
				}
				continue
			}
			if conflicts(name) {
				delete(accepted.Hostnames, name)
			}
		}
		n.Hosts[key] = accepted
	}

	for banned := range n.BannedKeys {
		delete(n.Hosts, banned)
	}
}

// SettingsDoc is the transport/persisted form of a network's settings. Its
// fields are declared in the order their JSON keys sort lexicographically,
// so the emitted object has sorted keys.
type SettingsDoc struct {
	BannedKeys        []PubKey              `json:"banned_keys"`
	HostSigningKeys   []PubKey              `json:"host_signing_keys"`
	HostnameOverrides []hostnameOverrideDoc `json:"hostname_overrides"`
	LastUpdate        int64                 `json:"last_update"`
	Public            bool                  `json:"public"`
	SettingsSignature *Signature            `json:"settings_signature,omitempty"`
	TLD               string                `json:"tld"`
}

// NetworkDoc is the transport/persisted form of a Network (spec.md §6),
// with its fields in sorted key order.
type NetworkDoc struct {
	Hosts    map[string]HostDoc `json:"hosts"`
	Settings SettingsDoc        `json:"settings"`
}

// ToDocument builds the transport document for n. selfHostOverride, when
// non-nil and matching a host already in n.Hosts, is substituted for the
// stored copy so a serving node always advertises its own freshly-resigned
// record (spec.md §9 design note: "Network.to_document(self_host_override:
// Option<Host>)").
func (n *Network) ToDocument(selfHostOverride *Host) NetworkDoc {
	keys := n.sortedHostKeys()
	hosts := make(map[string]HostDoc, len(keys))
	for _, key := range keys {
		h := n.Hosts[key]
		if selfHostOverride != nil && key == selfHostOverride.PublicKey {
			h = selfHostOverride
		}
		hosts[key.String()] = h.ToDoc()
	}
	return NetworkDoc{
		Settings: SettingsDoc{
			LastUpdate:        n.LastUpdate,
			TLD:               n.TLD,
			Public:            n.Public,
			HostSigningKeys:   n.HostSigningKeys,
			BannedKeys:        n.sortedBannedKeys(),
			HostnameOverrides: n.overrideDocs(),
			SettingsSignature: n.SettingsSignature,
		},
		Hosts: hosts,
	}
}

// NetworkFromDocument reconstructs a Network administered by id from its
// transport form.
func NetworkFromDocument(id PubKey, doc NetworkDoc) (*Network, error) {
	n := NewNetwork(id, doc.Settings.TLD)
	n.Public = doc.Settings.Public
	n.LastUpdate = doc.Settings.LastUpdate
	n.HostSigningKeys = append([]PubKey(nil), doc.Settings.HostSigningKeys...)
	n.SettingsSignature = doc.Settings.SettingsSignature
	for _, k := range doc.Settings.BannedKeys {
		n.BannedKeys[k] = struct{}{}
	}
	for _, o := range doc.Settings.HostnameOverrides {
		n.HostnameOverrides = append(n.HostnameOverrides, HostnameOverride{Name: o.Hostname, Address: o.Address})
	}
	for pubStr, hostDoc := range doc.Hosts {
		pub, err := PubKeyFromBase64(pubStr)
		if err != nil {
			return nil, err
		}
		h, err := HostFromDoc(pub, hostDoc)
		if err != nil {
			return nil, err
		}
		n.Hosts[pub] = h
	}
	return n, nil
}
