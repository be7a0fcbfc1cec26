// Package meshstore persists a mesh.Mesh to disk and exports its hostname
// set as a flat file for a local DNS resolver to consume (spec.md §4.4).
package meshstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/WebFirstLanguage/datamesher/pkg/canon"
	"github.com/WebFirstLanguage/datamesher/pkg/clock"
	"github.com/WebFirstLanguage/datamesher/pkg/mesh"
)

// Load reads path and decodes it as a mesh document. A missing file or one
// that fails to decode yields an empty Mesh rather than an error, mirroring
// original_source's load() (a bare JSONDecodeError is swallowed into {}).
func Load(path string) (*mesh.Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mesh.New(), nil
		}
		return nil, errors.Wrap(err, "meshstore: read state file")
	}

	var doc mesh.MeshDoc
	if err := canon.Unmarshal(data, &doc); err != nil {
		return mesh.New(), nil
	}

	m, err := mesh.MeshFromDocument(doc)
	if err != nil {
		return mesh.New(), nil
	}
	return m, nil
}

// Save encodes m's current transport document and atomically replaces path:
// a sibling temp file is written, fsynced, then renamed over path. Parent
// directories are created if needed. Grounded on original_source's
// DataMesher.save (NamedTemporaryFile + os.rename), completed with the
// fsync the source's own "TODO make atomic" comment never got to (spec.md
// §4.4).
//
// Save mutates m (refreshing the self-host signature) and must not be
// called while another goroutine may be touching m concurrently. Callers
// that hold m behind a mesh.Guard should instead take the document under
// the lock (mesh.Guard.Document/Merge) and pass it to SaveDocument once the
// lock is released, so the file write never happens while the mutex is
// held (spec.md §5 suspension points).
func Save(path string, m *mesh.Mesh, c clock.Clock) error {
	doc, err := m.ToDocument(c)
	if err != nil {
		return errors.Wrap(err, "meshstore: build document")
	}
	return SaveDocument(path, doc)
}

// SaveDocument atomically writes an already-built transport document to
// path. It performs no mesh mutation, so it is safe to call after releasing
// a mesh.Guard's lock.
func SaveDocument(path string, doc mesh.MeshDoc) error {
	data, err := canon.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "meshstore: encode document")
	}
	return atomicWrite(path, data)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "meshstore: create parent directory")
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "meshstore: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "meshstore: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "meshstore: fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "meshstore: close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "meshstore: rename temp file into place")
	}
	return nil
}

// dnsRecord is one line of the exported DNS file (spec.md §6: newline-
// delimited JSON, "hostname"/"ip").
type dnsRecord struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
}

// ExportDNS writes one JSON object per line to path, one per hostname
// reachable across every network, ordered by network id then host public
// key then hostname (spec.md §4.4, for stable diffing). HostnameOverrides
// are applied last, as an admin-only rewrite pass over the regular export —
// the source never specifies an ordering between overrides and the merged
// hostname set, so this module always lets an override win (spec.md §9): an
// override whose fully-qualified name collides with a regular entry
// replaces it in place rather than appending a second, conflicting line.
func ExportDNS(path string, m *mesh.Mesh) error {
	var lines []dnsRecord
	index := make(map[string]int)

	for _, netID := range m.SortedNetworkIDs() {
		net := m.Networks[netID]
		for _, hostKey := range net.SortedHostKeys() {
			host := net.Hosts[hostKey]
			for _, name := range sortedHostnames(host) {
				fqdn := fmt.Sprintf("%s.%s", name, net.TLD)
				index[fqdn] = len(lines)
				lines = append(lines, dnsRecord{Hostname: fqdn, IP: host.IP.String()})
			}
		}
		for _, override := range net.HostnameOverrides {
			fqdn := fmt.Sprintf("%s.%s", override.Name, net.TLD)
			record := dnsRecord{Hostname: fqdn, IP: override.Address.String()}
			if i, exists := index[fqdn]; exists {
				lines[i] = record
				continue
			}
			index[fqdn] = len(lines)
			lines = append(lines, record)
		}
	}

	buf, err := encodeDNSLines(lines)
	if err != nil {
		return err
	}
	return atomicWrite(path, buf)
}

func sortedHostnames(h *mesh.Host) []string {
	names := make([]string, 0, len(h.Hostnames))
	for name := range h.Hostnames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func encodeDNSLines(records []dnsRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, errors.Wrap(err, "meshstore: encode dns record")
		}
	}
	return buf.Bytes(), nil
}
