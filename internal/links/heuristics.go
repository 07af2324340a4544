package links

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Trust scores assigned by the reputation heuristic.
const (
	TrustScoreTrusted       = 80
	TrustScoreUnknown       = 50
	TrustScoreSuspiciousTLD = 20
)

// PhishingThreshold is the heuristic confidence at which a URL counts as phishing.
const PhishingThreshold = 0.5

var shorteners = map[string]bool{
	"bit.ly":      true,
	"tinyurl.com": true,
	"short.io":    true,
	"rb.gy":       true,
	"cutt.ly":     true,
	"t.co":        true,
	"ow.ly":       true,
	"is.gd":       true,
}

var suspiciousTLDs = []string{
	".xyz", ".top", ".click", ".gq", ".ml", ".tk", ".cf", ".ga", ".work", ".online",
}

var trustedDomains = []string{
	// Tech companies
	"google.com", "microsoft.com", "apple.com", "amazon.com",
	"meta.com", "facebook.com", "instagram.com", "linkedin.com",

	// Job boards and ATS vendors
	"indeed.com", "glassdoor.com", "monster.com", "ziprecruiter.com",
	"lever.co", "greenhouse.io", "workday.com",

	// Mail providers
	"gmail.com", "outlook.com", "yahoo.com", "protonmail.com",
}

var impersonatedBrands = []string{"google", "microsoft", "amazon", "paypal", "apple", "linkedin"}

var suspiciousPathKeywords = []string{"verify", "secure", "account", "login", "signin", "update"}

// IsShortener reports whether host belongs to a known URL shortener.
func IsShortener(host string) bool {
	return shorteners[strings.ToLower(host)]
}

// IsTrustedDomain reports whether host is, or is a subdomain of, a trusted domain.
func IsTrustedDomain(host string) bool {
	host = strings.ToLower(host)
	for _, trusted := range trustedDomains {
		if host == trusted || strings.HasSuffix(host, "."+trusted) {
			return true
		}
	}
	return false
}

// HasSuspiciousTLD reports whether host ends with a suspicious top-level domain.
func HasSuspiciousTLD(host string) bool {
	host = strings.ToLower(host)
	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			return true
		}
	}
	return false
}

// Reputation computes the heuristic reputation of host.
func Reputation(host string, now time.Time) *domain.DomainReputation {
	trusted := IsTrustedDomain(host)

	score := TrustScoreUnknown
	if trusted {
		score = TrustScoreTrusted
	}
	if HasSuspiciousTLD(host) {
		score = TrustScoreSuspiciousTLD
	}

	rep := &domain.DomainReputation{
		Domain:      strings.ToLower(host),
		IsTrusted:   trusted,
		TrustScore:  score,
		Verified:    trusted,
		LastChecked: now,
	}
	if trusted {
		rep.VerificationSource = "allowlist"
	}
	return rep
}

// PhishingScore applies the URL structure heuristics. raw is the URL as it
// appeared in the message; u is the parsed (possibly expanded) URL.
// Contributions add up and the total is clamped to 1.
func PhishingScore(raw string, u *url.URL) (bool, float64) {
	host := strings.ToLower(u.Hostname())
	netloc := strings.ToLower(u.Host)

	confidence := 0.0

	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		confidence += 0.3
	}

	if strings.Count(netloc, ".") > 3 {
		confidence += 0.2
	}

	if !IsTrustedDomain(host) {
		for _, brand := range impersonatedBrands {
			if strings.Contains(host, brand) {
				confidence += 0.4
			}
		}
	}

	if strings.Contains(raw, "@") {
		confidence += 0.3
	}

	path := strings.ToLower(u.Path)
	for _, kw := range suspiciousPathKeywords {
		if strings.Contains(path, kw) {
			confidence += 0.15
			break
		}
	}

	if confidence > 1 {
		confidence = 1
	}
	return confidence >= PhishingThreshold, confidence
}
