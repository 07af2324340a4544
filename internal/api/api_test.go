package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/links"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/usage"
)

const scamText = "URGENT! You've been chosen for this dream opportunity. Send $500 via PayPal immediately " +
	"for the training fee, or pay in bitcoin. Respond within 24 hours, this is your last chance. " +
	"Keep this confidential and don't tell anyone."

type testEnv struct {
	server *Server
	repo   domain.Repository
	bus    *bus.ChannelBus
}

// newTestEnv builds a server over a temp SQLite database and an in-process bus.
// AI is disabled and link analysis is not wired, so scores are deterministic.
func newTestEnv(t *testing.T, mutate func(*Dependencies)) *testEnv {
	t.Helper()

	engine, err := rules.NewEngine("2026.02")
	if err != nil {
		t.Fatalf("failed to create rules engine: %v", err)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	lru := cache.NewLRUCache(100)

	deps := Dependencies{
		Analyzer: analyzer.New(domain.DefaultConfig().Analysis, engine),
		Rules:    engine,
		Repo:     repo,
		Cache:    lru,
		Bus:      eventBus,
		Links:    links.NewService(domain.LinksConfig{}, nil, nil, repo),
		Metrics:  metrics.NewCollector(),
		Version:  "test-v1",
	}
	if mutate != nil {
		mutate(&deps)
	}

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return &testEnv{
		server: NewServer(cfg, domain.MetricsConfig{Enabled: true, Path: "/metrics"}, deps),
		repo:   repo,
		bus:    eventBus,
	}
}

func (e *testEnv) do(method, path, tenantID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}

	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestAnalyzeEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("SuccessfulAnalysis", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/analyze", "tenant-001", AnalyzeRequest{Text: scamText})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		result := decode[domain.AnalysisResult](t, rr)
		if result.ID == "" {
			t.Error("expected analysis ID to be set")
		}
		if result.RiskScore != 67 || result.RiskLevel != domain.RiskHigh {
			t.Errorf("expected 67/high, got %d/%s", result.RiskScore, result.RiskLevel)
		}
		if result.TenantID != "tenant-001" {
			t.Errorf("expected tenant-001, got %s", result.TenantID)
		}

		stored := env.do(http.MethodGet, "/analyses/"+result.ID, "tenant-001", nil)
		if stored.Code != http.StatusOK {
			t.Fatalf("expected stored analysis, got %d: %s", stored.Code, stored.Body.String())
		}
		if got := decode[domain.AnalysisResult](t, stored); got.RiskScore != 67 {
			t.Errorf("expected stored score 67, got %d", got.RiskScore)
		}

		other := env.do(http.MethodGet, "/analyses/"+result.ID, "tenant-002", nil)
		if other.Code != http.StatusNotFound {
			t.Errorf("expected 404 for another tenant, got %d", other.Code)
		}
	})

	t.Run("DefaultTenant", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/analyze", "", AnalyzeRequest{Text: "Thanks for applying, we will be in touch."})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if result := decode[domain.AnalysisResult](t, rr); result.TenantID != analyzer.DefaultTenant {
			t.Errorf("expected default tenant, got %s", result.TenantID)
		}
	})

	t.Run("EmptyText", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/analyze", "tenant-001", AnalyzeRequest{Text: "   "})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ControlCharactersOnly", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/analyze", "tenant-001", AnalyzeRequest{Text: "\x00\x01"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/analyze", "tenant-001", "{not json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if resp := decode[map[string]string](t, rr); resp["error"] == "" {
			t.Error("expected error message")
		}
	})

	t.Run("InvalidTenant", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/analyze", "*", AnalyzeRequest{Text: scamText})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for wildcard tenant, got %d", rr.Code)
		}
	})

	t.Run("MissingAnalysis", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/analyses/does-not-exist", "tenant-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestAnalyzeAsync(t *testing.T) {
	env := newTestEnv(t, nil)

	requested := make(chan *domain.Message, 1)
	env.bus.Subscribe(context.Background(), "tenant-async", domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
		requested <- msg
		return nil
	})

	rr := env.do(http.MethodPost, "/analyze?async=true", "tenant-async", AnalyzeRequest{Text: scamText, UserID: "user-9"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	accepted := decode[AcceptedResponse](t, rr)
	if accepted.AnalysisID == "" || accepted.Status != "accepted" {
		t.Errorf("unexpected response %+v", accepted)
	}

	select {
	case msg := <-requested:
		var ev domain.AnalysisRequestEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			t.Fatalf("failed to parse event: %v", err)
		}
		if ev.AnalysisID != accepted.AnalysisID {
			t.Errorf("expected event for %s, got %s", accepted.AnalysisID, ev.AnalysisID)
		}
		if ev.UserID != "user-9" || !ev.IncludeAI || !ev.IncludeLinks {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for analysis request event")
	}

	t.Run("NoBus", func(t *testing.T) {
		noBus := newTestEnv(t, func(d *Dependencies) { d.Bus = nil })
		rr := noBus.do(http.MethodPost, "/analyze?async=true", "tenant-async", AnalyzeRequest{Text: scamText})
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestAnalyzeQuota(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) {
		d.Usage = usage.NewService(d.Cache, 2)
	})

	body := AnalyzeRequest{Text: "Thanks for applying.", UserID: "user-1"}
	for _, want := range []string{"1", "0"} {
		rr := env.do(http.MethodPost, "/analyze", "tenant-q", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if got := rr.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Errorf("expected %s remaining, got %q", want, got)
		}
	}

	rr := env.do(http.MethodPost, "/analyze", "tenant-q", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}

	// Quotas are per user.
	other := env.do(http.MethodPost, "/analyze", "tenant-q", AnalyzeRequest{Text: "Thanks for applying.", UserID: "user-2"})
	if other.Code != http.StatusOK {
		t.Errorf("expected another user to be allowed, got %d", other.Code)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodPost, "/analyze", "tenant-fb", AnalyzeRequest{Text: scamText})
	analysisID := decode[domain.AnalysisResult](t, rr).ID

	t.Run("Recorded", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/feedback", "tenant-fb", FeedbackRequest{
			AnalysisID:    analysisID,
			IsAccurate:    true,
			ActualOutcome: "scam",
			Comment:       "They asked me for a training fee too.",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		if resp := decode[map[string]string](t, rr); resp["feedbackId"] == "" {
			t.Error("expected feedback ID")
		}
	})

	tests := []struct {
		name   string
		tenant string
		req    FeedbackRequest
		want   int
	}{
		{"MissingAnalysisID", "tenant-fb", FeedbackRequest{IsAccurate: true}, http.StatusBadRequest},
		{"UnknownOutcome", "tenant-fb", FeedbackRequest{AnalysisID: analysisID, ActualOutcome: "maybe"}, http.StatusBadRequest},
		{"CommentTooLong", "tenant-fb", FeedbackRequest{AnalysisID: analysisID, Comment: strings.Repeat("x", 501)}, http.StatusBadRequest},
		{"UnknownAnalysis", "tenant-fb", FeedbackRequest{AnalysisID: "nope"}, http.StatusNotFound},
		{"OtherTenant", "tenant-other", FeedbackRequest{AnalysisID: analysisID}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/feedback", tt.tenant, tt.req)
			if rr.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestReportScamEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	reported := make(chan *domain.Message, 1)
	env.bus.Subscribe(context.Background(), "tenant-r", domain.TopicScamReported, func(ctx context.Context, msg *domain.Message) error {
		reported <- msg
		return nil
	})

	rr := env.do(http.MethodPost, "/report-scam", "tenant-r", ScamReportRequest{
		Text:     "Pay the onboarding fee at https://scam-jobs.xyz/apply or email hr@scam-jobs.xyz",
		ScamType: "advance_fee",
		URLs:     []string{"https://pay-now.top/checkout"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	resp := decode[struct {
		ReportID string   `json:"reportId"`
		Domains  []string `json:"domains"`
	}](t, rr)
	if resp.ReportID == "" {
		t.Error("expected report ID")
	}
	if strings.Join(resp.Domains, ",") != "scam-jobs.xyz,pay-now.top" {
		t.Errorf("unexpected domains %v", resp.Domains)
	}

	select {
	case <-reported:
	case <-time.After(time.Second):
		t.Error("timeout waiting for scam reported event")
	}

	t.Run("DomainReportCount", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/domains/scam-jobs.xyz", "tenant-other", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		rep := decode[domain.DomainReputation](t, rr)
		if rep.ReportCount != 1 {
			t.Errorf("expected 1 community report, got %d", rep.ReportCount)
		}
		if rep.TrustScore != links.TrustScoreSuspiciousTLD {
			t.Errorf("expected suspicious TLD score, got %d", rep.TrustScore)
		}
	})

	tests := []struct {
		name string
		req  ScamReportRequest
	}{
		{"MissingText", ScamReportRequest{Text: " "}},
		{"TextTooLong", ScamReportRequest{Text: strings.Repeat("a", 5001)}},
		{"TooManyURLs", ScamReportRequest{Text: "scam", URLs: []string{"a", "b", "c", "d", "e", "f"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/report-scam", "tenant-r", tt.req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestDomainEndpointWithoutLinkService(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) { d.Links = nil })

	rr := env.do(http.MethodGet, "/domains/LinkedIn.com", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rep := decode[domain.DomainReputation](t, rr)
	if !rep.IsTrusted || rep.Domain != "linkedin.com" {
		t.Errorf("expected trusted linkedin.com, got %+v", rep)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodPost, "/analyze", "tenant-s", AnalyzeRequest{Text: scamText})
	id := decode[domain.AnalysisResult](t, rr).ID
	env.do(http.MethodPost, "/analyze", "tenant-s", AnalyzeRequest{Text: "Thanks for applying, we will be in touch."})
	env.do(http.MethodPost, "/feedback", "tenant-s", FeedbackRequest{AnalysisID: id, IsAccurate: true})

	rr = env.do(http.MethodGet, "/stats", "tenant-s", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var stats struct {
		TotalAnalyses      int                      `json:"totalAnalyses"`
		ByRiskLevel        map[domain.RiskLevel]int `json:"byRiskLevel"`
		FeedbackCount      int                      `json:"feedbackCount"`
		HighRiskPercentage float64                  `json:"highRiskPercentage"`
		AccuracyRate       float64                  `json:"accuracyRate"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to parse stats: %v", err)
	}

	if stats.TotalAnalyses != 2 || stats.ByRiskLevel[domain.RiskHigh] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.HighRiskPercentage != 50 {
		t.Errorf("expected 50%% high risk, got %v", stats.HighRiskPercentage)
	}
	if stats.FeedbackCount != 1 || stats.AccuracyRate != 100 {
		t.Errorf("expected 1 accurate feedback, got %d at %v%%", stats.FeedbackCount, stats.AccuracyRate)
	}
}

func TestRulesEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/rules", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	resp := decode[RulesResponse](t, rr)
	if resp.RulesetVersion != "2026.02" {
		t.Errorf("expected ruleset 2026.02, got %s", resp.RulesetVersion)
	}
	if len(resp.Patterns) != len(rules.Catalog()) {
		t.Errorf("expected %d patterns, got %d", len(rules.Catalog()), len(resp.Patterns))
	}
	if len(resp.Combos) != len(rules.ComboCatalog()) {
		t.Errorf("expected %d combos, got %d", len(rules.ComboCatalog()), len(resp.Combos))
	}
	if len(resp.Clusters) != len(rules.KeywordClusters()) {
		t.Errorf("expected %d clusters, got %d", len(rules.KeywordClusters()), len(resp.Clusters))
	}
	for _, c := range resp.Combos {
		if c.Expression == "" {
			t.Errorf("combo %s has no expression", c.ID)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/health", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		resp := decode[HealthResponse](t, rr)
		if resp.Status != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp.Status)
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp.Version)
		}
		if resp.EngineVersion != "3.0.0" || resp.RulesetVersion != "2026.02" {
			t.Errorf("unexpected versions %s/%s", resp.EngineVersion, resp.RulesetVersion)
		}
		if resp.AIEnabled || resp.LinksEnabled {
			t.Errorf("expected AI and links disabled, got %+v", resp)
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/ready", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("NotReadyWhenBusClosed", func(t *testing.T) {
		closed := newTestEnv(t, nil)
		closed.bus.Close()

		rr := closed.do(http.MethodGet, "/ready", "", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
		if resp := decode[map[string]string](t, rr); resp["component"] != "eventbus" {
			t.Errorf("expected eventbus component, got %v", resp)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/metrics", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "kestrel_http_requests_total") {
			t.Error("expected http request metrics")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID, capturedUserID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			capturedUserID = GetUserID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")
		req.Header.Set("X-User-ID", "user-7")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
		if capturedUserID != "user-7" {
			t.Errorf("expected user ID 'user-7', got '%s'", capturedUserID)
		}
	})

	t.Run("TenantMiddlewareDefaultsToPublic", func(t *testing.T) {
		var capturedTenantID string
		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if capturedTenantID != analyzer.DefaultTenant {
			t.Errorf("expected default tenant, got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") != capturedRequestID {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("TracingMiddlewareContinuesTrace", func(t *testing.T) {
		var capturedTraceID string
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTraceID = GetTraceID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
			t.Errorf("expected incoming trace ID, got '%s'", capturedTraceID)
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		called := false
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
		req.Header.Set("Origin", "https://jobs.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if called || rr.Code != http.StatusNoContent {
			t.Errorf("expected preflight to short-circuit with 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "https://jobs.example" {
			t.Error("expected origin to be echoed")
		}
	})
}
