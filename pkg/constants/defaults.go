// Package constants defines the cross-cutting default parameters named in
// spec.md §4, §6, and §9, adapted from beenet's pkg/constants/defaults.go
// (which groups protocol defaults the same way, under spec-section
// comments).
package constants

import "time"

// Staleness and reconciliation timing (spec.md §4.4, §4.5).
const (
	// StaleSeconds: a host is stale once now-last_seen exceeds this.
	StaleSeconds = 60

	// ReconcileInterval is the sleep between reconciler rounds.
	ReconcileInterval = 5 * time.Second

	// RequestTimeout bounds every outbound reconciliation HTTP request so
	// cancellation is observed within a known window.
	RequestTimeout = 10 * time.Second
)

// Name and network limits (spec.md §3).
const (
	// MaxHostnameNameBytes is the maximum length of a Hostname's name
	// label, in bytes, excluding the tld.
	MaxHostnameNameBytes = 63
)

// Network surface defaults (spec.md §6).
const (
	// DefaultPort is the default --port for the server subcommand.
	DefaultPort = 7331

	// DefaultStateFile and DefaultDNSFile are the default on-disk
	// locations for the persisted mesh and the exported DNS file.
	DefaultStateFile = "./data_mesher.json"
	DefaultDNSFile   = "./data_mesher_dns.json"

	// KeyFileRelPath combines with XDG_CONFIG_HOME to form the default
	// --key-file path.
	KeyFileRelPath = "data_mesher/key"
)

// ContentType is the media type of every request and response body on the
// gossip HTTP surface (spec.md §6).
const ContentType = "application/json"
