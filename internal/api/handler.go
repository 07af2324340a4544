package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/links"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/usage"
)

// Request limits.
const (
	maxBodyBytes      = 1 << 20
	maxCommentLength  = 500
	maxReportText     = 5000
	maxReportURLs     = 5
	analysisFailedMsg = "Analysis failed. Please try again."
)

// Dependencies wires the handler to the rest of the service.
// Everything except Analyzer and Rules may be nil.
type Dependencies struct {
	Analyzer *analyzer.Analyzer
	Rules    *rules.Engine
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Links    *links.Service
	Usage    *usage.Service
	Metrics  *metrics.Collector
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	analyzer *analyzer.Analyzer
	rules    *rules.Engine
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	links    *links.Service
	usage    *usage.Service
	metrics  *metrics.Collector
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		analyzer: deps.Analyzer,
		rules:    deps.Rules,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		links:    deps.Links,
		usage:    deps.Usage,
		metrics:  deps.Metrics,
		version:  deps.Version,
	}
}

// AnalyzeRequest is the request body for POST /analyze.
// IncludeAI and IncludeLinks default to true when omitted.
type AnalyzeRequest struct {
	Text         string `json:"text"`
	IncludeAI    *bool  `json:"includeAi,omitempty"`
	IncludeLinks *bool  `json:"includeLinks,omitempty"`
	UserID       string `json:"userId,omitempty"`
}

// AcceptedResponse is returned for asynchronous analyses.
type AcceptedResponse struct {
	AnalysisID string `json:"analysisId"`
	Status     string `json:"status"`
}

// Analyze handles POST /analyze requests.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = GetUserID(ctx)
	}

	if !h.allow(w, r, tenantID, userID) {
		return
	}

	areq := analyzer.Request{
		TenantID:     tenantID,
		UserID:       userID,
		Text:         req.Text,
		IncludeAI:    boolOr(req.IncludeAI, true),
		IncludeLinks: boolOr(req.IncludeLinks, true),
	}

	if r.URL.Query().Get("async") == "true" {
		h.analyzeAsync(w, r, areq)
		return
	}

	result, err := h.analyzer.Analyze(ctx, areq)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("analysis failed",
			"tenant_id", tenantID,
			"trace_id", GetTraceID(ctx),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, analysisFailedMsg)
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveAnalysis(ctx, tenantID, result); err != nil {
			slog.Error("failed to save analysis",
				"analysis_id", result.ID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// analyzeAsync hands the request to the worker over the event bus.
func (h *Handler) analyzeAsync(w http.ResponseWriter, r *http.Request, req analyzer.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "async analysis is not available")
		return
	}

	ev := domain.AnalysisRequestEvent{
		AnalysisID:   uuid.New().String(),
		TenantID:     req.TenantID,
		TraceID:      GetTraceID(r.Context()),
		UserID:       req.UserID,
		Text:         req.Text,
		IncludeAI:    req.IncludeAI,
		IncludeLinks: req.IncludeLinks,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		writeError(w, http.StatusInternalServerError, analysisFailedMsg)
		return
	}

	if err := h.bus.Publish(r.Context(), req.TenantID, domain.TopicAnalysisRequested, payload); err != nil {
		slog.Error("failed to queue analysis",
			"analysis_id", ev.AnalysisID,
			"tenant_id", req.TenantID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to queue analysis")
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		AnalysisID: ev.AnalysisID,
		Status:     "accepted",
	})
}

// allow enforces the daily quota. It writes the response and returns false
// when the request must not proceed.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, tenantID, userID string) bool {
	if h.usage == nil {
		return true
	}

	remaining, err := h.usage.Allow(r.Context(), tenantID, userID)
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		if h.metrics != nil {
			h.metrics.QuotaRejected()
		}
		w.Header().Set("X-RateLimit-Remaining", "0")
		writeError(w, http.StatusTooManyRequests, "Daily analysis limit reached. Please try again tomorrow.")
		return false
	case err != nil:
		// A broken counter must not block analyses.
		slog.Warn("usage check failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return true
	}

	if remaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	return true
}

// GetAnalysis handles GET /analyses/{id} requests.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "storage is not available")
		return
	}

	id := chi.URLParam(r, "id")
	result, err := h.repo.GetAnalysis(r.Context(), GetTenantID(r.Context()), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		slog.Error("failed to load analysis", "analysis_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// FeedbackRequest is the request body for POST /feedback.
type FeedbackRequest struct {
	AnalysisID    string `json:"analysisId"`
	IsAccurate    bool   `json:"isAccurate"`
	ActualOutcome string `json:"actualOutcome,omitempty"`
	Comment       string `json:"comment,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

var validOutcomes = map[string]bool{
	"":           true,
	"scam":       true,
	"legitimate": true,
	"unsure":     true,
}

// SubmitFeedback handles POST /feedback requests.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "storage is not available")
		return
	}

	var req FeedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	switch {
	case req.AnalysisID == "":
		writeError(w, http.StatusBadRequest, "analysisId is required")
		return
	case !validOutcomes[req.ActualOutcome]:
		writeError(w, http.StatusBadRequest, "actualOutcome must be one of scam, legitimate, unsure")
		return
	case len([]rune(req.Comment)) > maxCommentLength:
		writeError(w, http.StatusBadRequest, "comment must be at most 500 characters")
		return
	}

	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if _, err := h.repo.GetAnalysis(ctx, tenantID, req.AnalysisID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = GetUserID(ctx)
	}

	fb := &domain.Feedback{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		AnalysisID:    req.AnalysisID,
		UserID:        userID,
		IsAccurate:    req.IsAccurate,
		ActualOutcome: req.ActualOutcome,
		Comment:       req.Comment,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.repo.SaveFeedback(ctx, tenantID, fb); err != nil {
		slog.Error("failed to save feedback", "analysis_id", req.AnalysisID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"feedbackId": fb.ID,
		"status":     "recorded",
	})
}

// ScamReportRequest is the request body for POST /report-scam.
type ScamReportRequest struct {
	Text     string   `json:"text"`
	ScamType string   `json:"scamType,omitempty"`
	Domains  []string `json:"domains,omitempty"`
	URLs     []string `json:"urls,omitempty"`
	UserID   string   `json:"userId,omitempty"`
}

// ReportScam handles POST /report-scam requests.
func (h *Handler) ReportScam(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "storage is not available")
		return
	}

	var req ScamReportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	switch {
	case strings.TrimSpace(req.Text) == "":
		writeError(w, http.StatusBadRequest, "text is required")
		return
	case len([]rune(req.Text)) > maxReportText:
		writeError(w, http.StatusBadRequest, "text must be at most 5000 characters")
		return
	case len(req.URLs) > maxReportURLs:
		writeError(w, http.StatusBadRequest, "at most 5 urls may be reported")
		return
	}

	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	userID := req.UserID
	if userID == "" {
		userID = GetUserID(ctx)
	}

	report := &domain.ScamReport{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserID:    userID,
		Text:      req.Text,
		ScamType:  req.ScamType,
		Domains:   reportedDomains(req),
		URLs:      req.URLs,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.repo.SaveScamReport(ctx, tenantID, report); err != nil {
		slog.Error("failed to save scam report", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save report")
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(report)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicScamReported, payload); err != nil {
			slog.Warn("failed to publish scam report", "report_id", report.ID, "error", err)
		}
	}

	slog.Info("scam report received",
		"report_id", report.ID,
		"tenant_id", tenantID,
		"domain_count", len(report.Domains),
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"reportId": report.ID,
		"status":   "received",
		"domains":  report.Domains,
	})
}

// reportedDomains merges the explicit domains with those found in the text
// and in the reported URLs.
func reportedDomains(req ScamReportRequest) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(d string) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			return
		}
		seen[d] = true
		out = append(out, d)
	}

	for _, d := range req.Domains {
		add(d)
	}
	for _, d := range rules.ExtractDomains(req.Text) {
		add(d)
	}
	for _, raw := range req.URLs {
		if u, err := url.Parse(raw); err == nil {
			add(u.Hostname())
		}
	}
	return out
}

// GetDomain handles GET /domains/{domain} requests.
func (h *Handler) GetDomain(w http.ResponseWriter, r *http.Request) {
	host := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "domain")))
	if host == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	if h.links != nil {
		writeJSON(w, http.StatusOK, h.links.DomainReputation(r.Context(), host))
		return
	}
	writeJSON(w, http.StatusOK, links.Reputation(host, time.Now().UTC()))
}

// StatsResponse is the response for GET /stats.
type StatsResponse struct {
	*domain.AnalysisStats
	HighRiskPercentage float64 `json:"highRiskPercentage"`
	AccuracyRate       float64 `json:"accuracyRate"`
}

// GetStats handles GET /stats requests.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "storage is not available")
		return
	}

	stats, err := h.repo.GetStats(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		slog.Error("failed to load stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	resp := StatsResponse{AnalysisStats: stats}
	if stats.TotalAnalyses > 0 {
		high := stats.ByRiskLevel[domain.RiskHigh] + stats.ByRiskLevel[domain.RiskCritical]
		resp.HighRiskPercentage = percent(high, stats.TotalAnalyses)
	}
	if stats.FeedbackCount > 0 {
		resp.AccuracyRate = percent(stats.AccurateFeedback, stats.FeedbackCount)
	}

	writeJSON(w, http.StatusOK, resp)
}

// RuleInfo describes one pattern rule.
type RuleInfo struct {
	ID         string          `json:"id"`
	Category   domain.Category `json:"category"`
	Severity   domain.Severity `json:"severity"`
	Message    string          `json:"message"`
	Confidence float64         `json:"confidence"`
}

// ComboInfo describes one combination rule.
type ComboInfo struct {
	ID         string            `json:"id"`
	Requires   []domain.Category `json:"requires"`
	Severity   domain.Severity   `json:"severity"`
	Message    string            `json:"message"`
	Expression string            `json:"expression"`
}

// ClusterInfo describes one keyword cluster.
type ClusterInfo struct {
	ID         string          `json:"id"`
	Severity   domain.Severity `json:"severity"`
	Message    string          `json:"message"`
	Confidence float64         `json:"confidence"`
	Phrases    []string        `json:"phrases"`
}

// RulesResponse is the response for GET /rules.
type RulesResponse struct {
	RulesetVersion string        `json:"rulesetVersion"`
	Patterns       []RuleInfo    `json:"patterns"`
	Combos         []ComboInfo   `json:"combos"`
	Clusters       []ClusterInfo `json:"clusters"`
}

// ListRules handles GET /rules requests.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	resp := RulesResponse{
		RulesetVersion: h.rules.Version(),
		Patterns:       []RuleInfo{},
		Combos:         []ComboInfo{},
		Clusters:       []ClusterInfo{},
	}

	for _, rule := range h.rules.Rules() {
		resp.Patterns = append(resp.Patterns, RuleInfo{
			ID:         rule.ID,
			Category:   rule.Category,
			Severity:   rule.Severity,
			Message:    rule.Message,
			Confidence: rule.Confidence,
		})
	}
	for _, combo := range h.rules.Combos() {
		resp.Combos = append(resp.Combos, ComboInfo{
			ID:         combo.Rule.ID,
			Requires:   combo.Rule.Requires,
			Severity:   combo.Rule.Severity,
			Message:    combo.Rule.Message,
			Expression: combo.Expression,
		})
	}
	for _, cluster := range h.rules.Clusters() {
		resp.Clusters = append(resp.Clusters, ClusterInfo{
			ID:         cluster.ID,
			Severity:   cluster.Severity,
			Message:    cluster.Message,
			Confidence: cluster.Confidence,
			Phrases:    cluster.Phrases,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	EngineVersion  string `json:"engineVersion"`
	RulesetVersion string `json:"rulesetVersion"`
	AIEnabled      bool   `json:"aiEnabled"`
	LinksEnabled   bool   `json:"linksEnabled"`
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	cfg := h.analyzer.Config()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         status,
		Version:        h.version,
		EngineVersion:  cfg.EngineVersion,
		RulesetVersion: h.rules.Version(),
		AIEnabled:      h.analyzer.AIEnabled(),
		LinksEnabled:   h.analyzer.LinksEnabled(),
	})
}

// Ready handles GET /ready requests. It fails while a backing store or the
// event bus is unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			notReady(w, "repository", err)
			return
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			notReady(w, "cache", err)
			return
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			notReady(w, "eventbus", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func notReady(w http.ResponseWriter, component string, err error) {
	slog.Warn("readiness check failed", "component", component, "error", err)
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"ready":     "false",
		"component": component,
	})
}

// decodeBody parses a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// percent returns part/total as a percentage rounded to one decimal.
func percent(part, total int) float64 {
	return math.Round(float64(part)/float64(total)*1000) / 10
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
