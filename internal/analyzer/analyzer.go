// Package analyzer runs the full analysis pipeline for one message:
// pattern scan, link analysis, social-engineering indicators, scoring,
// optional AI synthesis and recommendations.
package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/ai"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("kestrel-analyzer")

// DefaultTenant scopes requests that do not name a tenant.
const DefaultTenant = "public"

// LinkAnalyzer analyzes the URLs of a message.
type LinkAnalyzer interface {
	AnalyzeLinks(ctx context.Context, urls []string) ([]domain.LinkAnalysis, error)
}

// Request is one analysis request.
type Request struct {
	TenantID     string
	UserID       string
	Text         string
	IncludeAI    bool
	IncludeLinks bool
}

// Analyzer owns the engines and collaborators of the pipeline.
// It is safe for concurrent use.
type Analyzer struct {
	cfg     domain.AnalysisConfig
	rules   *rules.Engine
	scorer  *scoring.Engine
	links   LinkAnalyzer
	ai      ai.Assessor
	cache   domain.Cache
	metrics *metrics.Collector
	now     func() time.Time
}

// Option configures optional collaborators.
type Option func(*Analyzer)

// WithLinks sets the link analyzer. Without one, link analysis is skipped.
func WithLinks(l LinkAnalyzer) Option {
	return func(a *Analyzer) { a.links = l }
}

// WithAssessor sets the AI assessor. The default is ai.Disabled.
func WithAssessor(as ai.Assessor) Option {
	return func(a *Analyzer) { a.ai = as }
}

// WithCache enables result caching.
func WithCache(c domain.Cache) Option {
	return func(a *Analyzer) { a.cache = c }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Collector) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// New creates an analyzer around a compiled rules engine.
func New(cfg domain.AnalysisConfig, engine *rules.Engine, opts ...Option) *Analyzer {
	a := &Analyzer{
		cfg:    cfg,
		rules:  engine,
		scorer: scoring.NewEngine(),
		ai:     ai.Disabled{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the analysis configuration.
func (a *Analyzer) Config() domain.AnalysisConfig {
	return a.cfg
}

// AIEnabled reports whether AI synthesis can run.
func (a *Analyzer) AIEnabled() bool {
	return a.cfg.EnableAI && a.ai.Enabled()
}

// LinksEnabled reports whether link analysis can run.
func (a *Analyzer) LinksEnabled() bool {
	return a.cfg.EnableLinks && a.links != nil
}

// linkOutcome is the result of the link branch. skipped is set when the
// branch did not run.
type linkOutcome struct {
	analyses []domain.LinkAnalysis
	err      error
	skipped  bool
}

// aiOutcome is the result of the AI branch.
type aiOutcome struct {
	assessment *domain.AIAssessment
	err        error
	skipped    bool
}

// Analyze scores one message. It fails with domain.ErrInvalidInput for
// empty text. Link and AI failures only fail the call when FailOpen is off.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*domain.AnalysisResult, error) {
	text := a.prepare(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: Input text cannot be empty", domain.ErrInvalidInput)
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = DefaultTenant
	}

	key := CacheKey(text, req.IncludeAI, req.IncludeLinks, a.cfg.EngineVersion)
	if cached := a.lookup(ctx, tenantID, key); cached != nil {
		slog.Info("analysis cache hit", "tenant_id", tenantID, "user_id", req.UserID)
		return cached, nil
	}

	start := a.now()
	ctx, span := tracer.Start(ctx, "analyzer.analyze",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("text.length", len(text)),
		),
	)
	defer span.End()

	signals := a.rules.Scan(text)

	// Links and indicators are independent and run side by side.
	var (
		links linkOutcome
		se    *domain.SocialEngineeringIndicators
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		links = a.runLinks(gctx, text, req.IncludeLinks)
		return nil
	})
	g.Go(func() error {
		if a.cfg.EnableSocialEngineering {
			se = scoring.DeriveIndicators(signals)
		}
		return nil
	})
	// Neither branch fails the group; the link error rides in linkOutcome
	// so resolve can apply the fail-open policy to it.
	g.Wait()

	if err := a.resolve(ctx, "links", links.err, links.skipped); err != nil {
		span.RecordError(err)
		return nil, err
	}

	score, confidence := a.scorer.Calculate(signals, links.analyses, se)
	level := domain.RiskLevelFromScore(score)

	assessment := a.runAI(ctx, text, signals, score, level, req.IncludeAI)
	if err := a.resolve(ctx, "ai", assessment.err, assessment.skipped); err != nil {
		span.RecordError(err)
		return nil, err
	}

	recommendation := Recommendation(level, assessment.assessment, a.cfg.MinAIConfidence)
	elapsed := a.now().Sub(start)

	result := &domain.AnalysisResult{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		Timestamp:         start.UTC(),
		RiskScore:         score,
		RiskLevel:         level,
		Confidence:        confidence,
		Signals:           signals,
		LinkAnalyses:      links.analyses,
		SocialEngineering: se,
		AIAssessment:      assessment.assessment,
		Recommendation:    recommendation,
		ActionItems:       ActionItems(level, signals),
		EngineVersion:     a.cfg.EngineVersion,
		RulesetVersion:    a.cfg.RulesetVersion,
		ProcessingTimeMs:  float64(elapsed.Microseconds()) / 1000,
	}
	if result.Signals == nil {
		result.Signals = []domain.Signal{}
	}
	if result.LinkAnalyses == nil {
		result.LinkAnalyses = []domain.LinkAnalysis{}
	}

	a.store(ctx, tenantID, key, result)

	span.SetAttributes(
		attribute.Int("risk.score", score),
		attribute.String("risk.level", string(level)),
		attribute.Bool("links.skipped", links.skipped),
		attribute.Bool("ai.skipped", assessment.skipped),
	)

	if a.metrics != nil {
		a.metrics.ObserveAnalysis(string(level), score, categories(signals), elapsed)
		a.metrics.LinksAnalyzed(len(links.analyses))
	}

	slog.Info("analysis complete",
		"analysis_id", result.ID,
		"tenant_id", tenantID,
		"user_id", req.UserID,
		"risk_score", score,
		"risk_level", level,
		"confidence", confidence,
		"signals_count", len(signals),
		"processing_time_ms", result.ProcessingTimeMs,
		"had_ai_assessment", result.AIAssessment != nil,
	)

	return result, nil
}

func (a *Analyzer) runLinks(ctx context.Context, text string, requested bool) linkOutcome {
	if !requested || !a.LinksEnabled() {
		return linkOutcome{skipped: true}
	}
	urls := rules.ExtractURLs(text)
	if len(urls) == 0 {
		return linkOutcome{skipped: true}
	}

	analyses, err := a.links.AnalyzeLinks(ctx, urls)
	if err != nil {
		if !errors.Is(err, domain.ErrLinkAnalysis) {
			err = fmt.Errorf("%w: %v", domain.ErrLinkAnalysis, err)
		}
		return linkOutcome{err: err}
	}
	return linkOutcome{analyses: analyses}
}

func (a *Analyzer) runAI(ctx context.Context, text string, signals []domain.Signal, score int, level domain.RiskLevel, requested bool) aiOutcome {
	if !requested || !a.AIEnabled() {
		return aiOutcome{skipped: true}
	}

	assessment, err := a.ai.Assess(ctx, text, signals, score, level)
	if err != nil {
		if !errors.Is(err, domain.ErrAIUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrAIUnavailable, err)
		}
		return aiOutcome{err: err}
	}
	return aiOutcome{assessment: assessment}
}

// resolve records the subsystem outcome and applies the fail-open policy
// to its error.
func (a *Analyzer) resolve(ctx context.Context, subsystem string, err error, skipped bool) error {
	if a.metrics != nil {
		switch {
		case skipped:
			a.metrics.SubsystemOutcome(subsystem, "skipped")
		case err != nil:
			a.metrics.SubsystemOutcome(subsystem, "failed")
		default:
			a.metrics.SubsystemOutcome(subsystem, "ok")
		}
	}
	if err == nil {
		return nil
	}
	if a.cfg.FailOpen {
		slog.WarnContext(ctx, "subsystem failed, continuing without it",
			"subsystem", subsystem,
			"error", err,
		)
		return nil
	}
	return err
}

func (a *Analyzer) lookup(ctx context.Context, tenantID, key string) *domain.AnalysisResult {
	if a.cache == nil {
		return nil
	}

	cached, err := cache.GetJSON[domain.AnalysisResult](ctx, a.cache, tenantID, key)
	if err != nil {
		slog.Warn("analysis cache read failed", "error", err)
	}
	if a.metrics != nil {
		if cached != nil {
			a.metrics.CacheHit()
		} else {
			a.metrics.CacheMiss()
		}
	}
	return cached
}

func (a *Analyzer) store(ctx context.Context, tenantID, key string, result *domain.AnalysisResult) {
	if a.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, a.cache, tenantID, key, result, a.cfg.CacheTTL); err != nil {
		slog.Warn("analysis cache write failed", "error", err)
	}
}

// prepare strips control characters, trims and truncates text to
// MaxTextLength runes. It returns "" for blank input.
func (a *Analyzer) prepare(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if limit := a.cfg.MaxTextLength; limit > 0 {
		if runes := []rune(text); len(runes) > limit {
			text = string(runes[:limit])
		}
	}
	return text
}

// CacheKey fingerprints a request: content hash, feature flags and engine version.
func CacheKey(text string, includeAI, includeLinks bool, engineVersion string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("analysis:%s:ai%d:link%d:%s",
		hex.EncodeToString(sum[:])[:16],
		boolToInt(includeAI),
		boolToInt(includeLinks),
		engineVersion,
	)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func categories(signals []domain.Signal) []string {
	out := make([]string, len(signals))
	for i, s := range signals {
		out[i] = string(s.Category)
	}
	return out
}
