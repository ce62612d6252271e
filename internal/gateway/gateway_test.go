// ABOUTME: Tests for the Gateway orchestrator lifecycle, health and metrics endpoints
// ABOUTME: Shares helpers that build a gateway over a temp SQLite database with seeded users

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/config"
	"github.com/2389/huddle/internal/store"
)

const testSecret = "test-secret-that-is-32-bytes-long!!"

// testConfig creates a complete config for testing.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr:        "127.0.0.1:0",
			ShutdownTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{
			Path:        filepath.Join(t.TempDir(), "huddle.db"),
			BusyTimeout: 5 * time.Second,
		},
		Auth: config.AuthConfig{JWTSecret: testSecret, TokenTTL: time.Hour},
		Bus:  config.BusConfig{BufferSize: 16},
		WebSocket: config.WebSocketConfig{
			PingPeriod:      time.Second,
			PongWait:        5 * time.Second,
			WriteWait:       time.Second,
			SendQueue:       16,
			MaxMessageBytes: 16 << 10,
		},
		Dedupe:  config.DedupeConfig{TTL: time.Minute, MaxEntries: 100},
		Users:   config.UsersConfig{SearchLimit: 20},
		Logging: config.LoggingConfig{Level: "debug", Format: "text"},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv is a running gateway behind an httptest server with seeded users.
type testEnv struct {
	gw     *Gateway
	store  *store.SQLiteStore
	server *httptest.Server
	tokens *auth.JWTVerifier
}

func newTestEnv(t *testing.T, userIDs ...string) *testEnv {
	t.Helper()
	cfg := testConfig(t)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	for _, id := range userIDs {
		err := s.CreateUser(context.Background(), &store.User{
			ID:          id,
			DisplayName: strings.ToUpper(id[:1]) + id[1:],
			Email:       id + "@example.org",
			CreatedAt:   time.Now(),
		})
		if err != nil {
			t.Fatalf("CreateUser(%s) failed: %v", id, err)
		}
	}

	gw, err := NewWithStore(cfg, s, testLogger())
	if err != nil {
		t.Fatalf("NewWithStore() failed: %v", err)
	}
	server := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = gw.Shutdown(context.Background())
	})

	tokens, err := auth.NewJWTVerifier([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewJWTVerifier() failed: %v", err)
	}
	return &testEnv{gw: gw, store: s, server: server, tokens: tokens}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.tokens.Generate(userID, time.Hour)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	return tok
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if gw.bus == nil {
		t.Error("bus should not be nil")
	}
	if gw.conversations == nil {
		t.Error("conversations should not be nil")
	}
	if gw.httpServer == nil {
		t.Error("httpServer should not be nil")
	}
}

func TestGatewayNew_ShortSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("New() expected error for short secret")
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK" {
		t.Errorf("body = %q, want %q", body, "OK")
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health/ready")
	if err != nil {
		t.Fatalf("GET /health/ready failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

type unreachableStore struct {
	*store.MockStore
}

func (unreachableStore) Ping(context.Context) error { return errors.New("disk gone") }

func TestReadyEndpoint_DatabaseDown(t *testing.T) {
	gw, err := NewWithStore(testConfig(t), unreachableStore{store.NewMockStore()}, testLogger())
	if err != nil {
		t.Fatalf("NewWithStore() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// Generate one observation so the request counter has a series.
	_, _ = http.Get(env.server.URL + "/api/conversations")

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `huddle_api_requests_total{code="UNAUTHENTICATED",operation="getConversations"} 1`) {
		t.Errorf("metrics output missing unauthenticated request counter:\n%s", body)
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false

	gw, err := NewWithStore(cfg, store.NewMockStore(), testLogger())
	if err != nil {
		t.Fatalf("NewWithStore() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	gw, err := NewWithStore(testConfig(t), store.NewMockStore(), testLogger())
	if err != nil {
		t.Fatalf("NewWithStore() failed: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never became reachable: %v", err)
	}
	resp.Body.Close()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
