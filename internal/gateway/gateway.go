// ABOUTME: Gateway orchestrator that wires storage, the event bus and the HTTP server
// ABOUTME: Manages the API, WebSocket subscriptions, health and metrics endpoint lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/bus"
	"github.com/2389/huddle/internal/config"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/dedupe"
	"github.com/2389/huddle/internal/metrics"
	"github.com/2389/huddle/internal/store"
	"github.com/2389/huddle/internal/users"
)

// Gateway orchestrates the huddle-gateway server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	bus           *bus.Bus
	conversations *conversation.Service
	users         *users.Service
	gate          *auth.Gate
	metrics       *metrics.Metrics
	validate      *validator.Validate
	httpServer    *http.Server
	handler       http.Handler
	logger        *slog.Logger

	// sends replays the first result of a send carrying a repeated Idempotency-Key
	sends *dedupe.Cache[*conversation.MessageView]

	// conns tracks live WebSocket connections; http.Server.Shutdown does not
	// close hijacked connections.
	connsMu sync.Mutex
	conns   map[*wsConn]struct{}
}

// pinger is implemented by stores that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// New opens the configured SQLite database and creates a Gateway on top of it.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.NewSQLiteStoreWithTimeout(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a Gateway using an already opened store. The gateway
// takes ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	m := metrics.New()
	eventBus := bus.New(bus.Options{
		BufferSize: cfg.Bus.BufferSize,
		Metrics:    m,
		Logger:     logger,
	})

	gw := &Gateway{
		config: cfg,
		store:  s,
		bus:    eventBus,
		conversations: conversation.New(s, eventBus, conversation.Options{
			RenderMarkdown: cfg.Projection.RenderMarkdown,
			Logger:         logger,
		}),
		users:    users.New(s, cfg.Users.SearchLimit, logger),
		gate:     auth.NewGate(verifier, s, logger),
		metrics:  m,
		validate: newValidator(),
		logger:   logger.With("component", "gateway"),
		sends:    dedupe.New[*conversation.MessageView](cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries),
		conns:    make(map[*wsConn]struct{}),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
		gw.logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	gw.registerAPIRoutes(mux)

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The caller's context is already done; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server, drops live sockets and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.closeConnections()
	g.bus.Close()
	g.sends.Close()

	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

func (g *Gateway) trackConn(c *wsConn) {
	g.connsMu.Lock()
	g.conns[c] = struct{}{}
	g.connsMu.Unlock()
	g.metrics.ConnectionOpened()
}

func (g *Gateway) untrackConn(c *wsConn) {
	g.connsMu.Lock()
	_, ok := g.conns[c]
	delete(g.conns, c)
	g.connsMu.Unlock()
	if ok {
		g.metrics.ConnectionClosed()
	}
}

func (g *Gateway) closeConnections() {
	g.connsMu.Lock()
	conns := make([]*wsConn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.connsMu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the database answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := g.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			g.logger.Error("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d subscribers)",
		g.bus.SubscriberCount(bus.TopicMessageSent)+g.bus.SubscriberCount(bus.TopicConversationUpdated))
}
