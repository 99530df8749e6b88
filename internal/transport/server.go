// Package transport implements the websocket framing and HTTP access
// middleware the hub core is wired behind. Everything here is thin
// glue; the core logic it drives lives in internal/collab,
// internal/broadcast, and internal/access.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adred-codev/collabhub/internal/access"
	"github.com/adred-codev/collabhub/internal/broadcast"
	"github.com/adred-codev/collabhub/internal/collab"
	"github.com/adred-codev/collabhub/internal/config"
	"github.com/adred-codev/collabhub/internal/herr"
	"github.com/adred-codev/collabhub/internal/metrics"
	"github.com/adred-codev/collabhub/internal/monitoring"
)

// Server owns the HTTP listener serving the websocket upgrade endpoint
// plus /health and /metrics, and the graceful-drain shutdown sequence.
type Server struct {
	cfg     *config.Config
	cache   *collab.Cache
	model   *access.Holder
	uids    *UIDCache
	metrics *metrics.Registry
	sampler *monitoring.Sampler
	logger  zerolog.Logger

	connLimiter *ConnectionRateLimiter

	httpServer *http.Server

	activeConns  sync.WaitGroup
	shuttingDown atomic.Bool
}

// NewServer wires a Server from its collaborators. Nothing here starts
// a goroutine; call Start to begin serving.
func NewServer(cfg *config.Config, cache *collab.Cache, model *access.Holder, jwtManager *JWTManager, metricsRegistry *metrics.Registry, sampler *monitoring.Sampler, logger zerolog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		cache:       cache,
		model:       model,
		uids:        NewUIDCache(jwtManager),
		metrics:     metricsRegistry,
		sampler:     sampler,
		logger:      logger.With().Str("component", "transport").Logger(),
		connLimiter: NewConnectionRateLimiter(10, 1.0, 300, 50.0),
	}
}

// Mux builds the HTTP handler tree: /ws is the websocket upgrade
// endpoint; /health and /metrics bypass AccessMiddleware entirely
// because their routes carry neither workspace_id nor object_id; any
// REST collaborator route carrying those path parameters would be
// registered behind AccessMiddleware the same way.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	access := NewAccessMiddleware(s.uids, s.model)
	mux.Handle("/workspace/{workspace_id}/collab/{object_id}", access.Wrap(http.HandlerFunc(s.handleEncodeState)))
	return mux
}

// handleEncodeState serves the REST diagnostics endpoint
// ("GET /workspace/{wid}/collab/{oid}" -> EncodedState). It is the one
// REST collaborator implemented directly here since it reads straight
// off a Group; the rest of the collab REST surface (create, snapshot,
// member management) lives outside the hub's core.
func (s *Server) handleEncodeState(w http.ResponseWriter, r *http.Request) {
	objectID := r.PathValue("object_id")
	g, err := s.cache.GetOrCreate(r.Context(), objectID, collab.Document)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	state, err := g.EncodeV1()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"doc_state": state})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if s.sampler != nil {
		snap := s.sampler.Latest()
		resp["cpu_percent"] = snap.CPUPercent
		resp["memory_bytes"] = snap.MemoryBytes
		resp["goroutines"] = snap.Goroutines
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func parseCollabType(s string) (collab.CollabType, bool) {
	switch s {
	case "", "document":
		return collab.Document, true
	case "database":
		return collab.Database, true
	case "database_row":
		return collab.DatabaseRow, true
	case "workspace_database":
		return collab.WorkspaceDatabase, true
	case "folder":
		return collab.Folder, true
	case "user_awareness":
		return collab.UserAwareness, true
	default:
		return 0, false
	}
}

// handleWebSocket upgrades the connection and wires it to a Group
// Subscription. Admission order is: shutdown check, rate limit, token
// resolution, query parameters, Read access check, group lookup, then
// upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.connLimiter.Allow(r) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	uid, err := s.uids.Resolve(r)
	if err != nil {
		http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}

	objectID := r.URL.Query().Get("object_id")
	if objectID == "" {
		http.Error(w, "object_id is required", http.StatusBadRequest)
		return
	}
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		// Anonymous/unlabeled clients still need a stable per-connection
		// origin tag distinct from any other device uid might reconnect
		// from; synthesize one rather than collapsing every such
		// connection onto uid itself.
		deviceID = uuid.NewString()
	}
	collabType, ok := parseCollabType(r.URL.Query().Get("collab_type"))
	if !ok {
		http.Error(w, "unknown collab_type", http.StatusBadRequest)
		return
	}

	accessObject := access.Collab(objectID)
	if !s.model.Check(uid, accessObject, access.Read) {
		if s.metrics != nil {
			s.metrics.AccessDenied.Inc()
		}
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	g, err := s.cache.GetOrCreate(r.Context(), objectID, collabType)
	if err != nil {
		status := http.StatusInternalServerError
		if herr.Is(err, herr.Transient) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.activeConns.Add(1)
	go s.serveConnection(g, conn, objectID, uid, deviceID, accessObject)
}

// serveConnection drives one client's two tasks for the lifetime of the
// connection, then releases the drain WaitGroup slot taken in
// handleWebSocket.
func (s *Server) serveConnection(g *collab.Group, conn net.Conn, objectID, uid, deviceID string, accessObject access.Object) {
	defer s.activeConns.Done()

	sink := newWSConn(objectID, conn, s.cfg.WebSocket.BufferCapacity, s.logger)
	inbound := make(chan collab.InboundMessage, s.cfg.WebSocket.BufferCapacity)
	origin := broadcast.Origin{UID: uid, DeviceID: deviceID}

	if s.metrics != nil {
		s.metrics.SubscriptionsActive.Inc()
		defer s.metrics.SubscriptionsActive.Dec()
	}

	sub := g.Subscribe(origin, inbound, sink, accessObject)

	pingInterval := time.Duration(s.cfg.WebSocket.PingPerSecs) * time.Second
	pongWait := pingInterval * time.Duration(s.cfg.WebSocket.RetryConnectPerPings)

	done := make(chan struct{})
	go func() {
		sink.writePump(pingInterval)
		close(done)
	}()
	sink.readPump(inbound, pongWait)

	sub.Stop()
	<-done
}

// Start begins serving on cfg.Server.Addr until ctx is canceled, then
// drains active connections before returning.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.Mux(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Server.Addr).Msg("transport listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("transport: serve: %w", err)
		}
		return nil
	}
}

func (s *Server) shutdown() error {
	s.shuttingDown.Store(true)
	s.logger.Info().Msg("transport shutting down, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("http server shutdown error")
	}

	drained := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.logger.Info().Msg("all connections drained")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("drain grace period expired, returning with websocket connections still open")
	}
	return nil
}
