package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/terminuslabs/terminus/internal/bus"
	"github.com/terminuslabs/terminus/internal/config"
	"github.com/terminuslabs/terminus/internal/metrics"
	"github.com/terminuslabs/terminus/internal/session"
	"github.com/terminuslabs/terminus/internal/workflow"
	"github.com/terminuslabs/terminus/pkg/protocol"
)

// Server is the engine's front door: the /ws event channel plus the
// health, readiness and metrics endpoints.
type Server struct {
	cfg      *config.Config
	eventPub bus.Publisher
	engine   *workflow.Engine
	sessions *session.Registry

	ready  bool
	issues []string

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex

	baseCtx    context.Context
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server around the workflow engine.
func NewServer(cfg *config.Config, eventPub bus.Publisher, engine *workflow.Engine, sessions *session.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		engine:   engine,
		sessions: sessions,
		ready:    true,
		baseCtx:  context.Background(),
		clients:  make(map[string]*Client),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	snap := cfg.Snapshot()
	s.rateLimiter = NewRateLimiter(snap.Gateway.RateLimitRPM, 5)
	return s
}

// SetReadiness records the preflight outcome reported on /readyz.
// A degraded engine still serves.
func (s *Server) SetReadiness(ready bool, issues []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
	s.issues = issues
}

// checkOrigin validates the Origin header against the configured
// whitelist. No configuration or an empty header (non-browser clients)
// allows the connection.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Snapshot().Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.mux = mux
	return mux
}

// Start listens until ctx is done. Shutdown cancels every in-flight
// workflow, gives them a moment to emit their cancellation events, then
// closes the listener.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	mux := s.BuildMux()

	addr := s.cfg.Addr()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) shutdown() {
	slog.Info("gateway shutdown", "sessions", s.sessions.Len())
	s.sessions.DetachAll()
	time.Sleep(100 * time.Millisecond)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(shutdownCtx)
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimiter.Allow() {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := "ready"
	if !s.ready {
		status = "degraded"
	}
	issues := s.issues
	if issues == nil {
		issues = []string{}
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"issues": issues,
	})
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.eventPub.Subscribe(c.id, c.SendEvent)
	s.eventPub.Publish(c.id, protocol.Event{
		Type:    protocol.EventStatus,
		Payload: protocol.StatusPayload{Message: "connected"},
	})

	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.eventPub.Unsubscribe(c.id)
	s.sessions.Remove(c.id)
	slog.Info("client disconnected", "id", c.id)
}

// handleExecuteGoal admits one execute_goal frame: rate limit first,
// then payload validation, then a workflow on its own goroutine. The
// session serializes workflows so a client never runs two at once.
func (s *Server) handleExecuteGoal(c *Client, frame protocol.Frame) {
	metrics.ExecuteGoalRequests.Inc()

	snap := s.cfg.Snapshot()
	sess := s.sessions.Get(c.id)

	minInterval := time.Duration(snap.Gateway.MinIntervalSec * float64(time.Second))
	if wait, ok := sess.TryAccept(time.Now(), minInterval); !ok {
		slog.Warn("rate limited", "client", c.id, "min_interval", snap.Gateway.MinIntervalSec)
		s.eventPub.Publish(c.id, protocol.Event{
			Type: protocol.EventErrorDetected,
			Payload: protocol.ErrorDetectedPayload{
				Error:      protocol.Categorize(protocol.CategoryRateLimit, fmt.Sprintf("Rate limit: wait %.1fs", wait.Seconds())),
				FailedStep: "rate_limit",
			},
		})
		return
	}

	var payload protocol.ExecuteGoalPayload
	if len(frame.Payload) == 0 {
		s.publishValidationError(c.id, "missing payload")
		return
	}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		s.publishValidationError(c.id, err.Error())
		return
	}

	// Cancels any running workflow and waits for it to unwind, so the
	// new workflow's events never interleave with the old one's.
	ctx, finish := sess.Begin(s.baseCtx)

	sessionID := workflow.NewSessionID()
	slog.Info("goal accepted", "client", c.id, "session_id", sessionID, "goal_len", len(payload.Goal))

	go func() {
		defer finish()
		s.engine.Run(ctx, sessionID, payload.Goal, func(ev protocol.Event) {
			s.eventPub.Publish(c.id, ev)
		})
	}()
}

func (s *Server) publishValidationError(clientID, detail string) {
	s.eventPub.Publish(clientID, protocol.Event{
		Type: protocol.EventErrorDetected,
		Payload: protocol.ErrorDetectedPayload{
			Error:      protocol.Categorize(protocol.CategoryValidation, "Invalid execute_goal payload: "+detail),
			FailedStep: "validate",
		},
	})
}

// StartTestServer creates a listener on :0 (random port) and returns the
// actual address and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	s.baseCtx = ctx
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
			s.sessions.DetachAll()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
