// Package worker runs analyses requested asynchronously over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req analyzer.Request) (*domain.AnalysisResult, error)
}

// Worker consumes analysis requests from the EventBus, stores the results
// and announces them.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	analyzer Analyzer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs limits processing to these tenants. Empty means all tenants.
	TenantIDs []string

	// Concurrency is the number of analyses run at once. Defaults to 4.
	Concurrency int
}

// NewWorker creates a new async worker. repo may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, a Analyzer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		analyzer: a,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to analysis requests.
func (w *Worker) Start(cfg Config) error {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	w.sem = make(chan struct{}, concurrency)

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAnalysisRequested, w.dispatch)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	if len(w.subscriptions) == 0 {
		return fmt.Errorf("worker has no subscriptions")
	}

	slog.Info("analysis worker started",
		"tenant_count", len(cfg.TenantIDs),
		"concurrency", concurrency,
	)
	return nil
}

// dispatch hands a message to a goroutine once a concurrency slot frees up.
func (w *Worker) dispatch(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer func() {
			<-w.sem
			w.wg.Done()
		}()
		// In-flight analyses finish even after Stop cancels the subscription.
		if err := w.process(context.WithoutCancel(ctx), msg); err != nil {
			slog.Error("async analysis failed",
				"message_id", msg.ID,
				"tenant_id", msg.TenantID,
				"error", err,
			)
		}
	}()
	return nil
}

// process runs one requested analysis. The stored result carries the
// analysis ID handed to the client when the request was accepted.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var ev domain.AnalysisRequestEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("failed to parse analysis request: %w", err)
	}

	tenantID := ev.TenantID
	if tenantID == "" {
		tenantID = msg.TenantID
	}
	traceID := ev.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing analysis request",
		"analysis_id", ev.AnalysisID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	result, err := w.analyzer.Analyze(ctx, analyzer.Request{
		TenantID:     tenantID,
		UserID:       ev.UserID,
		Text:         ev.Text,
		IncludeAI:    ev.IncludeAI,
		IncludeLinks: ev.IncludeLinks,
	})
	if err != nil {
		return fmt.Errorf("analysis %s: %w", ev.AnalysisID, err)
	}

	stored := *result
	if ev.AnalysisID != "" {
		stored.ID = ev.AnalysisID
	}

	if w.repo != nil {
		if err := w.repo.SaveAnalysis(ctx, tenantID, &stored); err != nil {
			slog.Error("failed to save analysis",
				"analysis_id", stored.ID,
				"error", err,
			)
		}
	}

	payload, _ := json.Marshal(&stored)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, payload); err != nil {
		slog.Error("failed to publish completed analysis",
			"analysis_id", stored.ID,
			"error", err,
		)
	}

	if stored.IsHighRisk() {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAnalysisHighRisk, payload); err != nil {
			slog.Error("failed to publish high risk analysis",
				"analysis_id", stored.ID,
				"error", err,
			)
		}
	}

	slog.Info("async analysis processed",
		"analysis_id", stored.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
		"risk_score", stored.RiskScore,
		"risk_level", stored.RiskLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight analyses.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.cancel()
	w.wg.Wait()

	slog.Info("analysis worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
