package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/auth"
	"github.com/Luciana501/koli-admin-sub001/internal/database"
	"github.com/Luciana501/koli-admin-sub001/internal/members"
	"github.com/Luciana501/koli-admin-sub001/internal/metrics"
	"github.com/Luciana501/koli-admin-sub001/internal/realtime"
	"github.com/Luciana501/koli-admin-sub001/internal/rewards"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}

type testServer struct {
	handler    http.Handler
	issuer     *auth.TokenIssuer
	clock      *testClock
	dispatcher *realtime.Dispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	models := append(members.Models(), rewards.Models()...)
	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "server.db"),
	}, zap.NewNop(), models...)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	clock := &testClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	registry := prometheus.NewRegistry()
	ledger := metrics.NewLedger(registry)
	dispatcher := realtime.NewDispatcher()

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "koli-admin",
		Audience:      "koli-admin-api",
		TokenTTL:      time.Hour,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}

	synchronizer, err := members.NewSynchronizer(members.SynchronizerConfig{
		Database:  db,
		Clock:     clock.Now,
		Metrics:   ledger,
		Publisher: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build synchronizer: %v", err)
	}
	memberService, err := members.NewService(members.ServiceConfig{
		Database:      db,
		Clock:         clock.Now,
		ChangeHandler: synchronizer,
		Publisher:     dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build members service: %v", err)
	}
	rewardService, err := rewards.NewService(rewards.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: rewards.NewUUIDProvider(),
		Metrics:    ledger,
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build rewards service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:            issuer,
		RewardsService:    rewardService,
		MembersService:    memberService,
		UsageService:      synchronizer,
		Realtime:          dispatcher,
		MetricsHandler:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testServer{handler: handler, issuer: issuer, clock: clock, dispatcher: dispatcher}
}

func (s *testServer) token(t *testing.T, subject, role string) string {
	t.Helper()
	token, _, err := s.issuer.IssueToken(subject, role)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	request := httptest.NewRequest(method, path, &payload)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("unexpected status: got %d, want %d (body %s)", recorder.Code, want, recorder.Body.String())
	}
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
}

func errorMessage(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	decodeBody(t, recorder, &payload)
	return payload.Error
}
