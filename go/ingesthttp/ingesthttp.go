// Package ingesthttp implements C4, the HTTP ingest surface for Lector
// Vision JSON payloads, grounded on the teacher's go/consumer/http_api.go
// request-handling shape (bounded body read, always-200 envelope) and
// original_source/app/ingest/http_server.py's staged-file write.
package ingesthttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Lasarikoo/TattileSender/go/store"
)

// MaxBodyBytes bounds a single POSTed payload (spec.md §4.4).
const MaxBodyBytes = 20 * 1024 * 1024

// Server serves the ingest HTTP endpoints.
type Server struct {
	Port          int
	StageDir      string
	ReadingStore  *store.ReadingStore
	Log           *log.Entry

	httpServer *http.Server
}

// New builds a Server. stageDir is where raw ingest payloads are staged for
// the File Processor (spec.md §4.5), matching INGEST_JSON_DIR.
func New(port int, stageDir string, rs *store.ReadingStore, logger *log.Entry) *Server {
	return &Server{Port: port, StageDir: stageDir, ReadingStore: rs, Log: logger}
}

// Run starts the HTTP listener and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.StageDir, 0o755); err != nil {
		return fmt.Errorf("creating ingest stage dir: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleIngest)

	s.httpServer = &http.Server{Addr: fmt.Sprintf(":%d", s.Port), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.Log.WithField("addr", s.httpServer.Addr).Info("http ingest listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleIngest accepts POST /** and POST / (spec.md §4.4): the body is
// staged verbatim under INGEST_JSON_DIR for the File Processor to pick up,
// and every POST is answered 200 with {"ok": true/false, ...} so the
// camera/VMS never retries on a body it already accepted. Other methods get
// 405.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, http.StatusMethodNotAllowed, false, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		s.Log.WithError(err).Warn("failed reading ingest body")
		writeEnvelope(w, http.StatusOK, false, "read error")
		return
	}
	if len(body) > MaxBodyBytes {
		s.Log.Warn("ingest body exceeded size limit, rejecting")
		writeEnvelope(w, http.StatusOK, false, "payload too large")
		return
	}
	if !json.Valid(body) {
		writeEnvelope(w, http.StatusOK, false, "invalid json")
		return
	}

	if err := s.stage(body); err != nil {
		s.Log.WithError(err).Error("failed staging ingest payload")
		writeEnvelope(w, http.StatusOK, false, "stage error")
		return
	}

	writeEnvelope(w, http.StatusOK, true, "")
}

// stage writes body to a unique file under StageDir via a tmp+rename so the
// File Processor never observes a partial write (spec.md §4.4/§4.5).
func (s *Server) stage(body []byte) error {
	name := fmt.Sprintf("%s_%s.json", time.Now().UTC().Format("20060102T150405.000000000"), uuid.NewString())
	dst := filepath.Join(s.StageDir, name)
	tmp := dst + ".tmp"

	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, ok bool, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{OK: ok, Error: errMsg})
}

// handleHealth reports queue depth by status (spec.md §4.4).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	counts, err := s.ReadingStore.CountsByStatus(ctx)
	if err != nil {
		s.Log.WithError(err).Error("health check failed to query store")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"pending": counts.Pending,
		"failed":  counts.Failed,
		"dead":    counts.Dead,
		"total":   counts.Total,
	})
}

// localAddr formats the loopback host:port for port. Nothing in this
// package currently calls it.
func localAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
