package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/shellpanel/shellpanel/internal/store"
)

// SettingsSource reports the live panel settings. Implementations are
// expected to reflect config reloads without a server restart.
type SettingsSource interface {
	AutoReconnect() bool
}

// Config defines runtime options for the host server.
type Config struct {
	ListenAddr  string
	Token       string
	ProjectsDir string
	Shell       string
	Settings    SettingsSource
}

// Server exposes the REST bootstrap endpoints and the panel websocket,
// and owns the shell session supervisor behind them.
type Server struct {
	cfg        Config
	httpServer *http.Server
	supervisor *Supervisor
	store      *store.Store
	baseCtx    context.Context
	cancelBase context.CancelFunc

	clientsMu sync.Mutex
	clients   map[*panelClient]struct{}
}

// NewServer creates a host server. st may be nil (no persistence).
func NewServer(cfg Config, st *store.Store) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8420"
	}

	s := &Server{
		cfg:        cfg,
		supervisor: NewSupervisor(cfg.Shell, st),
		store:      st,
		clients:    make(map[*panelClient]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.supervisor.SetBroadcast(s.broadcastEvent)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		resp := map[string]any{
			"ok":   true,
			"time": time.Now().UTC().Format(time.RFC3339),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/sessions/recent", s.handleRecentSessions)
	mux.HandleFunc("/api/projects", s.handleProjects)
	mux.HandleFunc("/ws/panel", s.handlePanelWS)

	handler := withRecover(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Supervisor exposes the session supervisor (used by tests).
func (s *Server) Supervisor() *Supervisor {
	return s.supervisor
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and terminates every shell
// session.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived websocket handlers to stop promptly.
		s.cancelBase()
	}
	s.supervisor.Shutdown()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Websocket connections may still block graceful shutdown. Force
	// close as a fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}

	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				hostLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
