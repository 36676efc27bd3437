package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/neurallap/companion/internal/storage"
	"github.com/neurallap/companion/pkg/core"
)

// StatusFunc returns the JSON body served at /status.
type StatusFunc func() any

// Dependencies holds the server's collaborators. Status and Leagues are
// optional.
type Dependencies struct {
	Addr    string
	Hub     *Hub
	Status  StatusFunc
	Leagues storage.Leagues
	Logger  *slog.Logger
}

// Server is the HTTP front of the hub.
type Server struct {
	deps     Dependencies
	logger   *slog.Logger
	srv      *http.Server
	listener net.Listener
	errCh    chan error
}

// NewServer creates a server; call Start to listen.
func NewServer(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		logger: logger.With("component", "server"),
		errCh:  make(chan error, 1),
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routes:
//
//	GET /ws                     real-time channel
//	GET /status                 engine and publisher status
//	GET /leagues                league list
//	GET /leagues/{id}/entries   league leaderboard, ?sort_by=fastest|cleanest|consistent
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.deps.Hub)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /leagues", s.handleLeagues)
	mux.HandleFunc("GET /leagues/{id}/entries", s.handleEntries)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.deps.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.deps.Addr, err)
	}
	s.listener = ln
	s.logger.Info("Listening", "addr", ln.Addr().String())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped", "error", err)
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.deps.Addr
	}
	return s.listener.Addr().String()
}

// Err is closed when the server stops, after delivering a serve error if
// there was one.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Shutdown disconnects subscribers and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Hub.Close()
	return s.srv.Shutdown(ctx)
}

type statusResponse struct {
	Status      any `json:"status,omitempty"`
	Subscribers int `json:"subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Subscribers: s.deps.Hub.Count()}
	if s.deps.Status != nil {
		resp.Status = s.deps.Status()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLeagues(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leagues == nil {
		http.Error(w, "leagues not available", http.StatusNotFound)
		return
	}
	leagues, err := s.deps.Leagues.Leagues(r.Context())
	if err != nil {
		s.logger.Warn("League list failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, leagues)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leagues == nil {
		http.Error(w, "leagues not available", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid league id", http.StatusBadRequest)
		return
	}

	criteria := r.URL.Query().Get("sort_by")
	switch criteria {
	case "", core.CriteriaFastest, core.CriteriaCleanest, core.CriteriaConsistent:
	default:
		http.Error(w, "invalid sort_by", http.StatusBadRequest)
		return
	}

	entries, err := s.deps.Leagues.Entries(r.Context(), uint(id), criteria)
	switch {
	case errors.Is(err, storage.ErrLeagueNotFound):
		http.Error(w, "league not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Warn("League entries failed", "league", id, "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", "error", err)
	}
}
