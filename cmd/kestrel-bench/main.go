// Benchmark tool for measuring Kestrel against a labelled message corpus.
//
// Usage:
//
//	go run ./cmd/kestrel-bench -corpus messages.jsonl -url http://localhost:8080
//
// The corpus is JSON Lines, one {"text": "...", "scam": true} object per line.
// Each message is sent to POST /analyze; a message counts as flagged when its
// risk level reaches -threshold. The tool prints the confusion matrix,
// precision, recall, F1-score and latency.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Sample is one labelled corpus entry.
type Sample struct {
	Text string `json:"text"`
	Scam bool   `json:"scam"`
}

// analyzeRequest mirrors the POST /analyze body.
type analyzeRequest struct {
	Text         string `json:"text"`
	IncludeAI    bool   `json:"includeAi"`
	IncludeLinks bool   `json:"includeLinks"`
}

// analyzeResponse holds the fields of AnalysisResult the benchmark reads.
type analyzeResponse struct {
	RiskScore int              `json:"riskScore"`
	RiskLevel domain.RiskLevel `json:"riskLevel"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Scam flagged
	FalsePositives int64 // Legitimate flagged
	TrueNegatives  int64 // Legitimate passed
	FalseNegatives int64 // Scam passed

	TotalErrors int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) record(predicted, actual bool, latency time.Duration) {
	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

// Scores returns precision, recall, F1 and accuracy. Undefined ratios are 0.
func (m *Metrics) Scores() (precision, recall, f1, accuracy float64) {
	tp, fp := float64(m.TruePositives), float64(m.FalsePositives)
	tn, fn := float64(m.TrueNegatives), float64(m.FalseNegatives)

	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	if total := tp + fp + tn + fn; total > 0 {
		accuracy = (tp + tn) / total
	}
	return precision, recall, f1, accuracy
}

// Percentile returns the p-th latency percentile (0 < p <= 100).
func (m *Metrics) Percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), m.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted))*p/100+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	// Parse flags
	corpusPath := flag.String("corpus", "", "Path to a JSONL corpus of {text, scam} objects")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 0, "Maximum messages to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	threshold := flag.String("threshold", string(domain.RiskModerate), "Lowest risk level that counts as flagged")
	withAI := flag.Bool("ai", false, "Request AI synthesis")
	withLinks := flag.Bool("links", false, "Request link analysis")
	verbose := flag.Bool("verbose", false, "Print each message result")
	flag.Parse()

	if *corpusPath == "" {
		fmt.Println("Usage: kestrel-bench -corpus messages.jsonl [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	level := domain.RiskLevel(strings.ToLower(*threshold))
	if !validLevel(level) {
		fmt.Printf("ERROR: unknown risk level %q\n", *threshold)
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Recruitment Scam Detection         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCorpus:      %s\n", *corpusPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Threshold:   %s\n", level)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	f, err := os.Open(*corpusPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open corpus: %v\n", err)
		os.Exit(1)
	}
	samples, err := readCorpus(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read corpus: %v\n", err)
		os.Exit(1)
	}

	scams := 0
	for _, s := range samples {
		if s.Scam {
			scams++
		}
	}
	fmt.Printf("✓ Loaded %d messages (%d scam, %d legitimate)\n", len(samples), scams, len(samples)-scams)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	opts := analyzeRequest{IncludeAI: *withAI, IncludeLinks: *withLinks}
	start := time.Now()
	m := runBenchmark(samples, *baseURL, *tenantID, level, opts, *workers, *verbose)

	printResults(m, time.Since(start))
}

// readCorpus parses a JSONL corpus. Blank lines are skipped; a malformed
// line fails the read with its line number.
func readCorpus(r io.Reader, limit int) ([]Sample, error) {
	var samples []Sample
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var s Sample
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(s.Text) == "" {
			return nil, fmt.Errorf("line %d: text is empty", line)
		}
		samples = append(samples, s)

		if limit > 0 && len(samples) >= limit {
			break
		}
	}
	return samples, scanner.Err()
}

func validLevel(l domain.RiskLevel) bool {
	switch l {
	case domain.RiskSafe, domain.RiskLow, domain.RiskModerate, domain.RiskHigh, domain.RiskCritical:
		return true
	}
	return false
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runBenchmark(samples []Sample, baseURL, tenantID string, threshold domain.RiskLevel, opts analyzeRequest, numWorkers int, verbose bool) *Metrics {
	m := &Metrics{}

	work := make(chan Sample, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := analyze(client, baseURL, tenantID, s.Text, opts)
				elapsed := time.Since(start)

				if err != nil {
					atomic.AddInt64(&m.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", preview(s.Text), err)
					}
					continue
				}

				predicted := result.RiskLevel.AtLeast(threshold)
				m.record(predicted, s.Scam, elapsed)

				if verbose {
					status := "✓"
					if predicted != s.Scam {
						status = "✗"
					}
					fmt.Printf("%s %3d %-8s | scam: %-5v | %s\n",
						status, result.RiskScore, result.RiskLevel, s.Scam, preview(s.Text))
				}
			}
		}()
	}

	for _, s := range samples {
		work <- s
	}
	close(work)

	wg.Wait()
	return m
}

func analyze(client *http.Client, baseURL, tenantID, text string, opts analyzeRequest) (*analyzeResponse, error) {
	opts.Text = text
	body, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return text
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	processed := m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives
	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Processed:  %d\n", processed)
	fmt.Printf("   Errors:     %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                       Predicted")
	fmt.Println("                   flagged    passed")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           L  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision, recall, f1, accuracy := m.Scores()
	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged messages, how many were scams)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of scams, how many were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if processed > 0 {
		fmt.Printf("   p50 Latency:     %v\n", m.Percentile(50).Round(time.Microsecond))
		fmt.Printf("   p95 Latency:     %v\n", m.Percentile(95).Round(time.Microsecond))
		fmt.Printf("   p99 Latency:     %v\n", m.Percentile(99).Round(time.Microsecond))
		fmt.Printf("   Throughput:      %.2f msg/sec\n", float64(processed)/duration.Seconds())
	}
	fmt.Println()
}
