// Package server exposes the operator HTTP surface: health, a status
// snapshot and the WebSocket event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ritcapital/etfarb/internal/domain"
	"github.com/ritcapital/etfarb/internal/platform/rit"
	"github.com/ritcapital/etfarb/internal/server/ws"
)

// StatusSource is the live state the /status endpoint reports.
type StatusSource interface {
	Case(ctx context.Context) (rit.CaseStatus, error)
	Positions(ctx context.Context) (domain.Positions, error)
}

// Server is the operator HTTP server.
type Server struct {
	httpSrv *http.Server
	hub     *ws.Hub
	source  StatusSource
	logger  *slog.Logger
}

// New builds the server and its routes. hub may be nil when no event bus
// is configured; /ws then answers 503.
func New(port int, hub *ws.Hub, source StatusSource, logger *slog.Logger) *Server {
	s := &Server{
		hub:    hub,
		source: source,
		logger: logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWS)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context ends, then shuts down gracefully. The hub,
// when present, runs alongside the listener.
func (s *Server) Run(ctx context.Context) error {
	if s.hub != nil {
		go s.hub.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.logger.Info("listening", slog.String("addr", s.httpSrv.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports the case clock and the current account positions.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := s.source.Case(ctx)
	if err != nil {
		s.logger.Warn("status fetch failed", slog.String("err", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "exchange unavailable"})
		return
	}
	positions, err := s.source.Positions(ctx)
	if err != nil {
		s.logger.Warn("position fetch failed", slog.String("err", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "exchange unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tick":      status.Tick,
		"period":    status.Period,
		"active":    status.Active(),
		"positions": positions,
		"gross":     positions.Gross(),
		"net":       positions.Net(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event stream not configured", http.StatusServiceUnavailable)
		return
	}
	s.hub.HandleWS(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
