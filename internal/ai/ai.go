// Package ai synthesizes a natural-language assessment of an analysis using
// a language model. The layer is best-effort: it never influences the score.
package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kestrel-ai")

// Assessor produces an AI assessment for a scored message.
// A nil assessment with a nil error means the layer is unavailable.
type Assessor interface {
	Assess(ctx context.Context, text string, signals []domain.Signal, score int, level domain.RiskLevel) (*domain.AIAssessment, error)
	Enabled() bool
}

// Disabled is the assessor used when no model credential is configured.
type Disabled struct{}

// Assess always reports the layer as unavailable.
func (Disabled) Assess(ctx context.Context, text string, signals []domain.Signal, score int, level domain.RiskLevel) (*domain.AIAssessment, error) {
	return nil, nil
}

// Enabled reports false.
func (Disabled) Enabled() bool { return false }

// New returns a model-backed assessor, or Disabled when cfg has no API key.
func New(cfg domain.AIConfig) (Assessor, error) {
	if cfg.APIKey == "" {
		slog.Info("AI synthesis disabled: no API key configured")
		return Disabled{}, nil
	}

	completer, err := NewCompleter(cfg)
	if err != nil {
		return nil, err
	}
	return NewLLMAssessor(completer, cfg.Model, cfg.Timeout), nil
}

// LLMAssessor asks a language model to summarize an analysis.
type LLMAssessor struct {
	completer Completer
	model     string
	timeout   time.Duration
}

// NewLLMAssessor creates an assessor bounded by timeout (default 30s).
func NewLLMAssessor(completer Completer, model string, timeout time.Duration) *LLMAssessor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMAssessor{
		completer: completer,
		model:     model,
		timeout:   timeout,
	}
}

// Enabled reports true.
func (a *LLMAssessor) Enabled() bool { return true }

// Assess runs one model call. Call failures, timeouts and unparsable replies
// are logged and yield no assessment and no error.
func (a *LLMAssessor) Assess(ctx context.Context, text string, signals []domain.Signal, score int, level domain.RiskLevel) (*domain.AIAssessment, error) {
	ctx, span := tracer.Start(ctx, "ai.assess",
		trace.WithAttributes(
			attribute.String("ai.model", a.model),
			attribute.Int("risk.score", score),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.completer.Complete(ctx, systemPrompt, buildPrompt(text, signals, score, level))
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "ai assessment unavailable", "model", a.model, "error", err)
		return nil, nil
	}

	assessment, err := parseReply(reply, a.model)
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "ai reply discarded", "model", a.model, "error", err)
		return nil, nil
	}

	return assessment, nil
}
