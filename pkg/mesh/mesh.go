package mesh

import (
	"crypto/ed25519"
	"math"
	"sort"
	"sync"

	"github.com/WebFirstLanguage/datamesher/pkg/clock"
)

// Mesh is the process-wide aggregate: every known network, plus this
// process's own host identity when it serves one (spec.md §3).
type Mesh struct {
	Networks   map[PubKey]*Network
	SelfHost   *Host
	SigningKey ed25519.PrivateKey
	Options    MergeOptions
}

// New returns an empty Mesh. Every constructor allocates its own fresh
// collections; the source's shared-mutable-default bug (spec.md §9 design
// note) has no equivalent here because Go has no default-argument aliasing.
func New() *Mesh {
	return &Mesh{Networks: map[PubKey]*Network{}}
}

func (m *Mesh) sortedNetworkKeys() []PubKey {
	keys := make([]PubKey, 0, len(m.Networks))
	for k := range m.Networks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// SortedNetworkIDs returns m.Networks's keys in lexicographic order, the
// stable ordering spec.md §4.4 requires for export (networks by id).
func (m *Mesh) SortedNetworkIDs() []PubKey {
	return m.sortedNetworkKeys()
}

// Merge applies spec.md §4.3 Mesh.merge in place. A network absent from m
// is adopted by merging other's copy into a fresh empty network, which
// naturally performs the same settings-adoption and per-host verification
// that an existing network's merge does. The fresh network's LastUpdate
// starts below every possible timestamp, so other's settings are adopted
// even when other's own LastUpdate is 0.
func (m *Mesh) Merge(other *Mesh) {
	for _, id := range other.sortedNetworkKeys() {
		otherNet := other.Networks[id]
		selfNet, ok := m.Networks[id]
		if !ok {
			selfNet = NewNetwork(id, "")
			selfNet.LastUpdate = math.MinInt64
			m.Networks[id] = selfNet
		}
		selfNet.Merge(otherNet, m.Options)
	}
}

// AllHosts returns every host reachable across every network, ordered by
// network id then by public key (spec.md §4.4 all_hosts / export
// ordering).
func (m *Mesh) AllHosts() []*Host {
	var hosts []*Host
	for _, netID := range m.sortedNetworkKeys() {
		net := m.Networks[netID]
		for _, key := range net.sortedHostKeys() {
			hosts = append(hosts, net.Hosts[key])
		}
	}
	return hosts
}

// refreshSelfHost re-signs SelfHost with a fresh last_seen, if both are
// configured, so every outbound transmission and save carries a current
// timestamp (spec.md §4.3 "Self-refresh").
func (m *Mesh) refreshSelfHost(c clock.Clock) error {
	if m.SelfHost == nil || m.SigningKey == nil {
		return nil
	}
	return m.SelfHost.Sign(m.SigningKey, c)
}

// MeshDoc is the transport/persisted form of the whole aggregate: a
// mapping from base64 network id to network document (spec.md §6).
type MeshDoc map[string]NetworkDoc

// ToDocument refreshes SelfHost (if present) and returns the mesh's
// current transport document.
func (m *Mesh) ToDocument(c clock.Clock) (MeshDoc, error) {
	if err := m.refreshSelfHost(c); err != nil {
		return nil, err
	}
	doc := make(MeshDoc, len(m.Networks))
	for id, net := range m.Networks {
		doc[id.String()] = net.ToDocument(m.SelfHost)
	}
	return doc, nil
}

// MeshFromDocument decodes a transport document into a standalone Mesh
// with no self-host/signing key of its own — used to represent a peer's
// payload before merging it into the receiver's own Mesh.
func MeshFromDocument(doc MeshDoc) (*Mesh, error) {
	m := New()
	for idStr, netDoc := range doc {
		id, err := PubKeyFromBase64(idStr)
		if err != nil {
			return nil, err
		}
		net, err := NetworkFromDocument(id, netDoc)
		if err != nil {
			return nil, err
		}
		m.Networks[id] = net
	}
	return m, nil
}

// Guard is the single coarse-grained mutex serialising every mutation of
// one Mesh (spec.md §4.7 Concurrency Harness / §5): the HTTP endpoint's
// POST handler, the reconciler's merge step, and every save all take this
// lock. Reads for GET take it too, since the document is small and
// snapshot copying is cheap. It is grounded on beenet's pkg/control
// control.Server, which wraps shared state the same way for its accept
// loop.
type Guard struct {
	mu sync.Mutex
	m  *Mesh
}

// NewGuard wraps m.
func NewGuard(m *Mesh) *Guard { return &Guard{m: m} }

// Document returns the guarded mesh's current transport document,
// refreshing the self-host signature first.
func (g *Guard) Document(c clock.Clock) (MeshDoc, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.m.ToDocument(c)
}

// Merge merges other into the guarded mesh and returns the post-merge
// transport document, matching the POST handler's "always respond with
// current best view" contract (spec.md §4.6).
func (g *Guard) Merge(other *Mesh, c clock.Clock) (MeshDoc, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.m.Merge(other)
	return g.m.ToDocument(c)
}

// WithLock runs fn against the guarded mesh under the mutex. fn must not
// perform I/O or block; callers needing to save after mutating should copy
// out what they need and release the lock before touching the filesystem
// or network.
func (g *Guard) WithLock(fn func(m *Mesh) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.m)
}
