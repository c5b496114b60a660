package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"flowline/internal/logging"
	"flowline/internal/storage"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(bind),
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/version", srv.handleVersion)
	mux.HandleFunc("/api/buckets", srv.handleBuckets)
	mux.HandleFunc("/api/buckets/", srv.handleBucketContent)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listener address, useful when binding to :0.
func (s *apiServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleHealth is liveness plus broker readiness. The endpoint answers
// during reconnects; readiness is a field, not a hang.
func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"alive":       true,
		"brokerReady": s.daemon.Ready(),
	})
}

func (s *apiServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Version))
}

func (s *apiServer) handleBuckets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	buckets, err := s.daemon.store.ListBuckets(r.Context())
	if err != nil {
		s.logger.Error("list buckets", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, buckets)
}

// handleBucketContent serves /api/buckets/{pipelineId} and
// /api/buckets/{pipelineId}/content/{id}.
func (s *apiServer) handleBucketContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/buckets/"), "/")
	parts := strings.Split(rest, "/")

	pipelineID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || pipelineID <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid pipeline id")
		return
	}

	switch {
	case len(parts) == 1:
		contents, err := s.daemon.store.GetBucketContent(r.Context(), pipelineID)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, contents)
	case len(parts) == 3 && parts[1] == "content":
		contentID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid content id")
			return
		}
		content, err := s.daemon.store.GetContent(r.Context(), pipelineID, contentID)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, content)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *apiServer) writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNoSuchBucket):
		s.writeError(w, http.StatusNotFound, "no such bucket")
	case errors.Is(err, storage.ErrContentNotFound):
		s.writeError(w, http.StatusNotFound, "no such content")
	default:
		s.logger.Error("storage read", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
