package links

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ReputationChecker looks up the number of engines flagging a URL as malicious.
// A nil count means the checker has no opinion.
type ReputationChecker interface {
	CheckURL(ctx context.Context, rawURL string) (*int, error)
}

// DisabledChecker is used when no reputation API key is configured.
type DisabledChecker struct{}

// CheckURL always reports no opinion.
func (DisabledChecker) CheckURL(ctx context.Context, rawURL string) (*int, error) {
	return nil, nil
}

// vtCacheTenant scopes VirusTotal verdicts in the shared cache.
const vtCacheTenant = "_virustotal"

// VirusTotalClient queries the VirusTotal v3 URL endpoint.
type VirusTotalClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      domain.Cache
	cacheTTL   time.Duration
}

// NewReputationChecker returns a VirusTotal client when apiKey is set,
// otherwise a DisabledChecker. cache may be nil.
func NewReputationChecker(cfg domain.LinksConfig, cache domain.Cache) ReputationChecker {
	if cfg.VirusTotalAPIKey == "" {
		return DisabledChecker{}
	}
	return NewVirusTotalClient(cfg.VirusTotalAPIKey, cfg.VirusTotalURL, cache)
}

// NewVirusTotalClient creates a VirusTotal client.
func NewVirusTotalClient(apiKey, baseURL string, cache domain.Cache) *VirusTotalClient {
	if baseURL == "" {
		baseURL = "https://www.virustotal.com/api/v3"
	}
	return &VirusTotalClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:    cache,
		cacheTTL: time.Hour,
	}
}

type vtURLReport struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Harmless   int `json:"harmless"`
				Undetected int `json:"undetected"`
			} `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// CheckURL returns the malicious detection count for rawURL.
// URLs VirusTotal has never seen yield nil.
func (c *VirusTotalClient) CheckURL(ctx context.Context, rawURL string) (*int, error) {
	id := base64.RawURLEncoding.EncodeToString([]byte(rawURL))
	cacheKey := "vt:url:" + id

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, vtCacheTenant, cacheKey); err == nil && cached != nil {
			if n, err := strconv.Atoi(string(cached)); err == nil {
				return &n, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/urls/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("virustotal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("virustotal API error %d: %s", resp.StatusCode, string(body))
	}

	var report vtURLReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode virustotal response: %w", err)
	}

	malicious := report.Data.Attributes.LastAnalysisStats.Malicious

	if c.cache != nil {
		if err := c.cache.Set(ctx, vtCacheTenant, cacheKey, []byte(strconv.Itoa(malicious)), c.cacheTTL); err != nil {
			slog.Debug("failed to cache virustotal verdict", "error", err)
		}
	}

	return &malicious, nil
}
