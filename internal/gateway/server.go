// Package gateway hosts the admin-facing HTTP/WebSocket surface: the
// internal/httpapi REST routes plus a /ws upgrade path that pushes
// bus.Event broadcasts (monitoring status, login QR codes, upload
// progress) out to connected operator consoles.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ew384/automaton-core/internal/bus"
	"github.com/ew384/automaton-core/internal/config"
	"github.com/ew384/automaton-core/internal/httpapi"
)

// Server hosts the REST surface and the WebSocket event-push path.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	deps     httpapi.Deps

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer constructs a Server. deps wires the core components (custodian,
// plugin registry, monitoring orchestrator, message index, upload
// pipeline) onto the REST surface; eventPub is the bus the WebSocket path
// subscribes to.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, deps httpapi.Deps) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		deps:     deps,
		clients:  make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 0)
	return s
}

// RateLimiter returns the server's WS rate limiter.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// checkOrigin allows every origin: the operator console is reached over a
// private network or tailnet (§10 Tailscale). The gateway performs no
// operator authentication; Gateway.Token is loaded but not checked.
func (s *Server) checkOrigin(r *http.Request) bool {
	return true
}

// BuildMux builds and caches the full mux: REST routes from
// internal/httpapi plus /ws and /health.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := httpapi.NewRouter(s.deps)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.mux = mux
	return mux
}

// Start begins listening until ctx is cancelled. If Tailscale.Hostname is
// configured and the binary was built with -tags tsnet, the gateway joins
// the tailnet instead of binding a local address (§10 Tailscale).
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	s.httpServer = &http.Server{Handler: mux}

	if ln, ok, err := tailscaleListener(s.cfg.Tailscale); err != nil {
		return fmt.Errorf("gateway: %w", err)
	} else if ok {
		slog.Info("gateway starting on tailnet", "hostname", s.cfg.Tailscale.Hostname)
		return s.serve(ctx, ln)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}

	slog.Info("gateway starting", "addr", addr)
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.httpServer.Handler = s.mux

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

// BroadcastEvent pushes event to every connected client directly, bypassing
// the bus (used by callers that already hold a *Server reference, e.g.
// tests).
func (s *Server) BroadcastEvent(event bus.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		if strings.HasPrefix(event.Name, "cache.") {
			return
		}
		c.SendEvent(event)
	})

	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	slog.Info("client disconnected", "id", c.id)
}

// StartTestServer listens on a random local port for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
