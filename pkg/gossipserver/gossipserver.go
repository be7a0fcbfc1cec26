// Package gossipserver exposes the mesh's two-verb gossip endpoint
// (spec.md §4.6): GET returns the current transport document, POST merges
// one in and returns the result.
package gossipserver

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/WebFirstLanguage/datamesher/pkg/canon"
	"github.com/WebFirstLanguage/datamesher/pkg/clock"
	"github.com/WebFirstLanguage/datamesher/pkg/constants"
	"github.com/WebFirstLanguage/datamesher/pkg/mesh"
	"github.com/WebFirstLanguage/datamesher/pkg/meshstore"
)

// Config configures a Server.
type Config struct {
	Guard     *mesh.Guard
	Clock     clock.Clock
	StatePath string // empty disables state persistence on POST
	DNSPath   string // empty disables DNS export on POST
	Logger    *zap.SugaredLogger
}

// Server wraps an *http.Server exposing the single gossip path. Grounded on
// gordian-engine-gordian's gsi.HTTPServer: a done channel closed once
// serving stops, Serve/Shutdown driven from the caller's lifecycle rather
// than from inside the type itself.
type Server struct {
	httpServer *http.Server
	done       chan struct{}
	log        *zap.SugaredLogger
}

// New builds a Server. Call Serve to start accepting connections.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	h := &handlers{guard: cfg.Guard, clock: cfg.Clock, statePath: cfg.StatePath, dnsPath: cfg.DNSPath, log: logger}

	r := mux.NewRouter()
	r.HandleFunc("/", h.get).Methods(http.MethodGet)
	r.HandleFunc("/", h.post).Methods(http.MethodPost)

	return &Server{
		httpServer: &http.Server{Handler: r},
		done:       make(chan struct{}),
		log:        logger,
	}
}

// Serve accepts connections on l until ctx is cancelled or Shutdown is
// called, then returns. It is meant to be run in its own goroutine,
// alongside the reconciler, for the lifetime of the process (spec.md §4.7).
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = s.httpServer.Shutdown(context.Background())
	}()

	err := s.httpServer.Serve(l)
	close(s.done)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Done reports when the server has fully stopped serving.
func (s *Server) Done() <-chan struct{} { return s.done }

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type handlers struct {
	guard     *mesh.Guard
	clock     clock.Clock
	statePath string
	dnsPath   string
	log       *zap.SugaredLogger
}

// get implements spec.md §4.6 GET: return the mesh's current transport
// document.
func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.guard.Document(h.clock)
	if err != nil {
		h.log.Errorw("gossipserver: failed to build document", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeDocument(w, doc)
}

// post implements spec.md §4.6 POST: decode the body as a mesh document,
// merge it in, save, and respond with the merged document. A malformed
// body is 400; signature failures during merge are dropped silently per
// entity (spec.md §7) and never fail the request.
func (h *handlers) post(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var incoming mesh.MeshDoc
	if err := canon.Unmarshal(body, &incoming); err != nil {
		http.Error(w, "malformed mesh document", http.StatusBadRequest)
		return
	}
	other, err := mesh.MeshFromDocument(incoming)
	if err != nil {
		http.Error(w, "malformed mesh document", http.StatusBadRequest)
		return
	}

	merged, err := h.guard.Merge(other, h.clock)
	if err != nil {
		h.log.Errorw("gossipserver: merge failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if h.statePath != "" {
		if err := meshstore.SaveDocument(h.statePath, merged); err != nil {
			h.log.Errorw("gossipserver: failed to save state after merge", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	if h.dnsPath != "" {
		if err := exportDNSFromDocument(h.dnsPath, merged); err != nil {
			h.log.Errorw("gossipserver: failed to export dns after merge", "error", err)
		}
	}

	h.writeDocument(w, merged)
}

// exportDNSFromDocument rebuilds a throwaway Mesh from an already-merged
// document and exports it. ExportDNS walks a mesh.Mesh's maps, and walking
// the guarded mesh would need the Guard's mutex held during the file write
// (spec.md §5: no I/O while the mutex is held); like SaveDocument, this
// works from the document we already hold, after the lock is released.
func exportDNSFromDocument(path string, doc mesh.MeshDoc) error {
	m, err := mesh.MeshFromDocument(doc)
	if err != nil {
		return err
	}
	return meshstore.ExportDNS(path, m)
}

func (h *handlers) writeDocument(w http.ResponseWriter, doc mesh.MeshDoc) {
	data, err := canon.Marshal(doc)
	if err != nil {
		h.log.Errorw("gossipserver: failed to encode document", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", constants.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
