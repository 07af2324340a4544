package main

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestReadCorpus(t *testing.T) {
	corpus := `{"text": "Send $200 for your starter kit", "scam": true}

{"text": "We'd like to schedule a video interview", "scam": false}
{"text": "Pay in bitcoin to confirm", "scam": true}
`

	t.Run("All", func(t *testing.T) {
		samples, err := readCorpus(strings.NewReader(corpus), 0)
		if err != nil {
			t.Fatalf("readCorpus failed: %v", err)
		}
		if len(samples) != 3 {
			t.Fatalf("expected 3 samples, got %d", len(samples))
		}
		if !samples[0].Scam || samples[1].Scam {
			t.Errorf("labels not parsed: %+v", samples)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		samples, _ := readCorpus(strings.NewReader(corpus), 2)
		if len(samples) != 2 {
			t.Errorf("expected 2 samples, got %d", len(samples))
		}
	})

	t.Run("MalformedLine", func(t *testing.T) {
		_, err := readCorpus(strings.NewReader("{\"text\": \"ok\"}\n{broken\n"), 0)
		if err == nil || !strings.Contains(err.Error(), "line 2") {
			t.Errorf("expected error naming line 2, got %v", err)
		}
	})

	t.Run("EmptyText", func(t *testing.T) {
		if _, err := readCorpus(strings.NewReader(`{"text": "  ", "scam": true}`), 0); err == nil {
			t.Error("expected error for empty text")
		}
	})
}

func TestScores(t *testing.T) {
	m := &Metrics{}
	outcomes := []struct{ predicted, actual bool }{
		{true, true}, {true, true}, {true, true}, // TP
		{true, false},  // FP
		{false, true},  // FN
		{false, false}, // TN
		{false, false}, // TN
	}
	for _, o := range outcomes {
		m.record(o.predicted, o.actual, time.Millisecond)
	}

	precision, recall, f1, accuracy := m.Scores()
	if precision != 0.75 || recall != 0.75 {
		t.Errorf("expected precision and recall 0.75, got %v/%v", precision, recall)
	}
	if math.Abs(f1-0.75) > 1e-9 {
		t.Errorf("expected f1 0.75, got %v", f1)
	}
	if math.Abs(accuracy-5.0/7.0) > 1e-9 {
		t.Errorf("expected accuracy 5/7, got %v", accuracy)
	}

	empty := &Metrics{}
	if p, r, f, a := empty.Scores(); p != 0 || r != 0 || f != 0 || a != 0 {
		t.Errorf("expected zero scores without data, got %v %v %v %v", p, r, f, a)
	}
}

func TestPercentile(t *testing.T) {
	m := &Metrics{}
	if m.Percentile(50) != 0 {
		t.Error("expected 0 without samples")
	}
	for i := 10; i >= 1; i-- {
		m.record(false, false, time.Duration(i)*time.Millisecond)
	}

	if got := m.Percentile(50); got != 5*time.Millisecond {
		t.Errorf("expected p50 5ms, got %v", got)
	}
	if got := m.Percentile(100); got != 10*time.Millisecond {
		t.Errorf("expected p100 10ms, got %v", got)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("  hello\n  world "); got != "hello world" {
		t.Errorf("unexpected preview %q", got)
	}
	long := strings.Repeat("é", 80)
	if got := []rune(preview(long)); len(got) != 60 {
		t.Errorf("expected 60 runes, got %d", len(got))
	}
}
