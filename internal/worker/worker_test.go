package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const scamText = "URGENT! You've been chosen for this dream opportunity. Send $500 via PayPal immediately " +
	"for the training fee, or pay in bitcoin. Respond within 24 hours, this is your last chance. " +
	"Keep this confidential and don't tell anyone."

func newAnalyzer(t *testing.T) *analyzer.Analyzer {
	t.Helper()
	engine, err := rules.NewEngine("2026.02")
	if err != nil {
		t.Fatalf("failed to create rules engine: %v", err)
	}
	return analyzer.New(domain.DefaultConfig().Analysis, engine)
}

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func publishRequest(t *testing.T, b domain.EventBus, ev domain.AnalysisRequestEvent) {
	t.Helper()
	payload, _ := json.Marshal(ev)
	if err := b.Publish(context.Background(), ev.TenantID, domain.TopicAnalysisRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

type failingAnalyzer struct{ calls atomic.Int32 }

func (f *failingAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (*domain.AnalysisResult, error) {
	f.calls.Add(1)
	return nil, errors.New("boom")
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, nil, newAnalyzer(t))

		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicAnalysisRequested {
			t.Errorf("expected 1 subscription to analysis requests, got %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRequest", func(t *testing.T) {
		repo := newRepo(t)
		w := NewWorker(eventBus, repo, newAnalyzer(t))
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		completed := make(chan *domain.Message, 1)
		highRisk := make(chan *domain.Message, 1)
		eventBus.Subscribe(context.Background(), "tenant-async", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed <- msg
			return nil
		})
		eventBus.Subscribe(context.Background(), "tenant-async", domain.TopicAnalysisHighRisk, func(ctx context.Context, msg *domain.Message) error {
			highRisk <- msg
			return nil
		})

		publishRequest(t, eventBus, domain.AnalysisRequestEvent{
			AnalysisID: "an-async-001",
			TenantID:   "tenant-async",
			TraceID:    "trace-001",
			Text:       scamText,
		})

		msg := waitFor(t, completed)
		var result domain.AnalysisResult
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			t.Fatalf("failed to parse result: %v", err)
		}
		if result.ID != "an-async-001" {
			t.Errorf("expected accepted analysis id, got %s", result.ID)
		}
		if result.TenantID != "tenant-async" {
			t.Errorf("expected tenant-async, got %s", result.TenantID)
		}

		waitFor(t, highRisk)

		stored, err := repo.GetAnalysis(context.Background(), "tenant-async", "an-async-001")
		if err != nil {
			t.Fatalf("expected stored analysis: %v", err)
		}
		if stored.RiskScore != result.RiskScore {
			t.Errorf("stored score %d differs from published %d", stored.RiskScore, result.RiskScore)
		}
	})

	t.Run("LowRiskNotAnnounced", func(t *testing.T) {
		w := NewWorker(eventBus, nil, newAnalyzer(t))
		w.Start(Config{TenantIDs: []string{"tenant-quiet"}})
		defer w.Stop()

		completed := make(chan *domain.Message, 1)
		var alerts atomic.Int32
		eventBus.Subscribe(context.Background(), "tenant-quiet", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed <- msg
			return nil
		})
		eventBus.Subscribe(context.Background(), "tenant-quiet", domain.TopicAnalysisHighRisk, func(ctx context.Context, msg *domain.Message) error {
			alerts.Add(1)
			return nil
		})

		publishRequest(t, eventBus, domain.AnalysisRequestEvent{
			AnalysisID: "an-quiet",
			TenantID:   "tenant-quiet",
			Text:       "Thanks for applying. We will review your resume and get back to you.",
		})

		waitFor(t, completed)
		time.Sleep(20 * time.Millisecond)
		if alerts.Load() != 0 {
			t.Errorf("expected no high risk event, got %d", alerts.Load())
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, newAnalyzer(t))
		w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}})
		defer w.Stop()

		if stats := w.GetStats(); stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("AnalysisFailure", func(t *testing.T) {
		fa := &failingAnalyzer{}
		w := NewWorker(eventBus, nil, fa)
		w.Start(Config{TenantIDs: []string{"tenant-fail"}})

		var completed atomic.Int32
		eventBus.Subscribe(context.Background(), "tenant-fail", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed.Add(1)
			return nil
		})

		publishRequest(t, eventBus, domain.AnalysisRequestEvent{AnalysisID: "an-fail", TenantID: "tenant-fail", Text: "hello"})

		deadline := time.Now().Add(time.Second)
		for fa.calls.Load() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		w.Stop()

		if fa.calls.Load() != 1 {
			t.Fatalf("expected 1 analysis attempt, got %d", fa.calls.Load())
		}
		if completed.Load() != 0 {
			t.Error("expected no completed event for a failed analysis")
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		w := NewWorker(eventBus, nil, newAnalyzer(t))
		msg := &domain.Message{ID: "m-1", TenantID: "t", Payload: []byte("{not json")}
		if err := w.process(context.Background(), msg); err == nil {
			t.Error("expected error for malformed payload")
		}
	})
}
