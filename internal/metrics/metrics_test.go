package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	c.ObserveAnalysis("high", 67, []string{"financial", "urgency", "financial"}, 12*time.Millisecond)
	c.ObserveAnalysis("safe", 0, nil, time.Millisecond)
	c.CacheHit()
	c.CacheMiss()
	c.CacheMiss()
	c.SubsystemOutcome("ai", "failed")
	c.SubsystemOutcome("links", "skipped")
	c.LinksAnalyzed(3)
	c.QuotaRejected()
	c.ObserveRequest("POST", "/analyze", 200, 5*time.Millisecond)

	if got := testutil.ToFloat64(c.analysesTotal.WithLabelValues("high")); got != 1 {
		t.Errorf("expected 1 high analysis, got %v", got)
	}
	if got := testutil.ToFloat64(c.signalsTotal.WithLabelValues("financial")); got != 2 {
		t.Errorf("expected 2 financial signals, got %v", got)
	}
	if got := testutil.ToFloat64(c.cacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("expected 2 cache misses, got %v", got)
	}
	if got := testutil.ToFloat64(c.subsystemOutcomes.WithLabelValues("ai", "failed")); got != 1 {
		t.Errorf("expected 1 ai failure, got %v", got)
	}
	if got := testutil.ToFloat64(c.linksAnalyzed); got != 3 {
		t.Errorf("expected 3 links, got %v", got)
	}
	if got := testutil.ToFloat64(c.requestsTotal.WithLabelValues("POST", "/analyze", "200")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.QuotaRejected()

	if got := testutil.ToFloat64(b.quotaRejections); got != 0 {
		t.Errorf("expected separate registries, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.ObserveAnalysis("critical", 91, []string{"personal_data"}, time.Millisecond)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		`kestrel_analyses_total{risk_level="critical"} 1`,
		`kestrel_signals_total{category="personal_data"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected exposition to contain %q", want)
		}
	}
}
