// Package links analyzes URLs found in messages: shortener expansion,
// domain reputation, phishing structure heuristics and external reputation.
package links

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kestrel-links")

// ReportCounter returns community report totals for a domain.
type ReportCounter interface {
	GetDomainReport(ctx context.Context, domain string) (*domain.DomainReport, error)
}

// Service analyzes batches of URLs concurrently.
type Service struct {
	maxURLs    int
	maxWorkers int
	expander   Expander
	checker    ReputationChecker
	reports    ReportCounter
	now        func() time.Time
}

// NewService creates a link analysis service.
// checker and reports may be nil.
func NewService(cfg domain.LinksConfig, expander Expander, checker ReputationChecker, reports ReportCounter) *Service {
	maxURLs := cfg.MaxURLs
	if maxURLs <= 0 {
		maxURLs = 10
	}
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = maxURLs
	}
	if expander == nil {
		expander = NewHTTPExpander(cfg.ExpandTimeout)
	}
	if checker == nil {
		checker = DisabledChecker{}
	}
	return &Service{
		maxURLs:    maxURLs,
		maxWorkers: maxWorkers,
		expander:   expander,
		checker:    checker,
		reports:    reports,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AnalyzeLinks analyzes up to the first maxURLs URLs in parallel and returns
// the results in input order. A URL whose task fails is omitted; the batch
// only fails when ctx is done before all tasks finish.
func (s *Service) AnalyzeLinks(ctx context.Context, urls []string) ([]domain.LinkAnalysis, error) {
	if len(urls) == 0 {
		return []domain.LinkAnalysis{}, nil
	}
	if len(urls) > s.maxURLs {
		urls = urls[:s.maxURLs]
	}

	ctx, span := tracer.Start(ctx, "links.analyze",
		trace.WithAttributes(attribute.Int("links.count", len(urls))),
	)
	defer span.End()

	results := make([]*domain.LinkAnalysis, len(urls))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, s.maxWorkers)

	for i, u := range urls {
		wg.Add(1)
		go func(idx int, rawURL string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("link analysis task failed",
						"url", rawURL,
						"error", r,
					)
				}
			}()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = s.analyzeURL(ctx, rawURL)
		}(i, u)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", domain.ErrLinkAnalysis, err)
	}

	analyses := make([]domain.LinkAnalysis, 0, len(results))
	for _, r := range results {
		if r != nil {
			analyses = append(analyses, *r)
		}
	}
	return analyses, nil
}

// analyzeURL runs the per-URL pipeline. Unparseable URLs get a minimal analysis.
func (s *Service) analyzeURL(ctx context.Context, rawURL string) *domain.LinkAnalysis {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		slog.Debug("unparseable url", "url", rawURL, "error", err)
		return &domain.LinkAnalysis{URL: rawURL}
	}

	analysis := &domain.LinkAnalysis{URL: rawURL}
	host := strings.ToLower(parsed.Hostname())

	analysis.IsShortened = IsShortener(host)
	if analysis.IsShortened {
		if final, err := s.expander.Expand(ctx, rawURL); err != nil {
			slog.Debug("shortened url not resolved", "url", rawURL, "error", err)
		} else if finalURL, err := url.Parse(final); err == nil && finalURL.Host != "" {
			analysis.FinalURL = final
			parsed = finalURL
			host = strings.ToLower(parsed.Hostname())
		}
	}

	analysis.DomainReputation = Reputation(host, s.now())
	if s.reports != nil {
		if report, err := s.reports.GetDomainReport(ctx, host); err == nil && report != nil {
			analysis.DomainReputation.ReportCount = report.ReportCount
		}
	}

	analysis.IsPhishing, analysis.PhishingConfidence = PhishingScore(rawURL, parsed)

	score, err := s.checker.CheckURL(ctx, rawURL)
	if err != nil {
		slog.Warn("reputation lookup failed", "url", rawURL, "error", err)
	} else {
		analysis.VirusTotalScore = score
	}

	return analysis
}

// DomainReputation returns the live reputation of a single domain,
// including community reports when available.
func (s *Service) DomainReputation(ctx context.Context, host string) *domain.DomainReputation {
	rep := Reputation(host, s.now())
	if s.reports != nil {
		if report, err := s.reports.GetDomainReport(ctx, rep.Domain); err == nil && report != nil {
			rep.ReportCount = report.ReportCount
		}
	}
	return rep
}
