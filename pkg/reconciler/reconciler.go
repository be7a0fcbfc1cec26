// Package reconciler runs the periodic background task that exchanges
// transport documents with bootstrap peers and with any host the local
// mesh considers stale (spec.md §4.5).
package reconciler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/WebFirstLanguage/datamesher/pkg/canon"
	"github.com/WebFirstLanguage/datamesher/pkg/clock"
	"github.com/WebFirstLanguage/datamesher/pkg/constants"
	"github.com/WebFirstLanguage/datamesher/pkg/mesh"
	"github.com/WebFirstLanguage/datamesher/pkg/meshstore"
)

// Config configures a Reconciler.
type Config struct {
	Guard          *mesh.Guard
	Clock          clock.Clock
	BootstrapPeers []string
	StatePath      string
	DNSPath        string
	Interval       int64 // seconds; 0 uses constants.ReconcileInterval
	StaleSeconds   int64 // 0 uses constants.StaleSeconds
	RequestTimeout int64 // seconds; 0 uses constants.RequestTimeout
	Logger         *zap.SugaredLogger
}

// Reconciler is the single background task described in spec.md §4.5: it
// never holds the mesh's mutex across an I/O call, and it never evicts a
// bootstrap peer for failing (connection/timeout/parse errors are swallowed
// and logged at debug level; the peer is retried next round).
type Reconciler struct {
	guard        *mesh.Guard
	clock        clock.Clock
	peers        []string
	statePath    string
	dnsPath      string
	interval     int64
	staleSeconds int64
	httpClient   *http.Client
	log          *zap.SugaredLogger
}

// New builds a Reconciler from cfg, applying pkg/constants defaults for any
// zero-valued duration field.
func New(cfg Config) *Reconciler {
	interval := cfg.Interval
	if interval == 0 {
		interval = int64(constants.ReconcileInterval.Seconds())
	}
	staleSeconds := cfg.StaleSeconds
	if staleSeconds == 0 {
		staleSeconds = constants.StaleSeconds
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = int64(constants.RequestTimeout.Seconds())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Reconciler{
		guard:        cfg.Guard,
		clock:        cfg.Clock,
		peers:        append([]string(nil), cfg.BootstrapPeers...),
		statePath:    cfg.StatePath,
		dnsPath:      cfg.DNSPath,
		interval:     interval,
		staleSeconds: staleSeconds,
		httpClient:   &http.Client{Timeout: secondsToDuration(timeout)},
		log:          logger,
	}
}

// Start launches the reconciler loop in its own goroutine and returns a
// channel that is closed once the loop has observed ctx's cancellation and
// returned, so a caller can await clean shutdown (spec.md §4.7).
func (r *Reconciler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.loop(ctx)
	}()
	return done
}

func (r *Reconciler) loop(ctx context.Context) {
	for {
		r.round(ctx)
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(secondsToDuration(r.interval)):
		}
	}
}

// round performs one iteration: first every bootstrap peer, then every
// stale host, cancellation observed before each individual request
// (spec.md §4.5/§5).
func (r *Reconciler) round(ctx context.Context) {
	for _, peer := range r.peers {
		if ctx.Err() != nil {
			return
		}
		r.exchange(ctx, peer)
	}

	now := r.clock.Now().Unix()
	for _, target := range r.staleTargets(now) {
		if ctx.Err() != nil {
			return
		}
		r.exchange(ctx, target)
	}
}

// staleTargets snapshots every stale host's URL under the guard's lock,
// then returns — no I/O happens while the lock is held.
func (r *Reconciler) staleTargets(nowUnix int64) []string {
	var targets []string
	_ = r.guard.WithLock(func(m *mesh.Mesh) error {
		for _, h := range m.AllHosts() {
			if h.IsStale(nowUnix, r.staleSeconds) {
				targets = append(targets, fmt.Sprintf("http://[%s]:%d/", h.IP.String(), h.Port))
			}
		}
		return nil
	})
	return targets
}

// exchange POSTs the mesh's current document to target, merges whatever
// comes back, and saves. Any failure along the way — a bad URL, a
// connection error, a non-2xx response, a malformed body — is logged at
// debug level and otherwise ignored; the peer is simply retried next round
// (spec.md §4.5).
func (r *Reconciler) exchange(ctx context.Context, target string) {
	if _, err := url.ParseRequestURI(target); err != nil {
		r.log.Debugw("reconciler: invalid peer URL", "target", target, "error", err)
		return
	}

	doc, err := r.guard.Document(r.clock)
	if err != nil {
		r.log.Debugw("reconciler: failed to build outbound document", "target", target, "error", err)
		return
	}
	body, err := canon.Marshal(doc)
	if err != nil {
		r.log.Debugw("reconciler: failed to encode outbound document", "target", target, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		r.log.Debugw("reconciler: failed to build request", "target", target, "error", err)
		return
	}
	req.Header.Set("Content-Type", constants.ContentType)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.Debugw("reconciler: request failed", "target", target, "error", err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		r.log.Debugw("reconciler: failed to read response body", "target", target, "error", err)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.log.Debugw("reconciler: non-2xx response", "target", target, "status", resp.StatusCode)
		return
	}

	var respDoc mesh.MeshDoc
	if err := canon.Unmarshal(respBody, &respDoc); err != nil {
		r.log.Debugw("reconciler: malformed response body", "target", target, "error", err)
		return
	}
	other, err := mesh.MeshFromDocument(respDoc)
	if err != nil {
		r.log.Debugw("reconciler: failed to decode response document", "target", target, "error", err)
		return
	}

	mergedDoc, err := r.guard.Merge(other, r.clock)
	if err != nil {
		r.log.Debugw("reconciler: merge failed", "target", target, "error", err)
		return
	}

	if r.statePath != "" {
		if err := meshstore.SaveDocument(r.statePath, mergedDoc); err != nil {
			r.log.Errorw("reconciler: failed to save state after merge", "target", target, "error", err)
		}
	}
	if r.dnsPath != "" {
		exportMesh, err := mesh.MeshFromDocument(mergedDoc)
		if err != nil {
			r.log.Errorw("reconciler: failed to rebuild mesh for dns export", "target", target, "error", err)
			return
		}
		if err := meshstore.ExportDNS(r.dnsPath, exportMesh); err != nil {
			r.log.Errorw("reconciler: failed to export dns after merge", "target", target, "error", err)
		}
	}
}

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}
