package rules

import (
	"regexp"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Matcher finds the first occurrence of a rule in text.
type Matcher interface {
	// Match returns the matched substring and whether a match was found.
	Match(text string) (string, bool)
}

// RegexMatcher matches a single regular expression.
type RegexMatcher struct {
	re *regexp.Regexp
}

// Match implements Matcher.
func (m RegexMatcher) Match(text string) (string, bool) {
	loc := m.re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return text[loc[0]:loc[1]], true
}

// ExcludeSuffixMatcher matches a regular expression only when the text that
// immediately follows the match does not start with one of the excluded
// prefixes. Later candidates are tried when an earlier one is excluded.
type ExcludeSuffixMatcher struct {
	re       *regexp.Regexp
	excluded []string
}

// Match implements Matcher.
func (m ExcludeSuffixMatcher) Match(text string) (string, bool) {
	for _, loc := range m.re.FindAllStringIndex(text, -1) {
		rest := strings.ToLower(text[loc[1]:])
		blocked := false
		for _, prefix := range m.excluded {
			if strings.HasPrefix(rest, prefix) {
				blocked = true
				break
			}
		}
		if !blocked {
			return text[loc[0]:loc[1]], true
		}
	}
	return "", false
}

// PatternRule maps a matcher onto a signal.
type PatternRule struct {
	ID         string
	Category   domain.Category
	Severity   domain.Severity
	Message    string
	Confidence float64
	Matcher    Matcher
}

// ComboRule fires when every required category has already been detected.
type ComboRule struct {
	ID       string
	Requires []domain.Category
	Message  string
	Severity domain.Severity
}

// KeywordCluster fires when any phrase appears in the lowercased text.
type KeywordCluster struct {
	ID         string
	Phrases    []string
	Message    string
	Severity   domain.Severity
	Confidence float64
}

// Signal IDs of the social-engineering keyword clusters.
const (
	ClusterIsolation = "se-isolation"
	ClusterAuthority = "se-authority"
	ClusterEmotional = "se-emotional"
)

// ComboConfidence is the confidence of every combo signal.
const ComboConfidence = 0.95

func insensitive(expr string) RegexMatcher {
	return RegexMatcher{re: regexp.MustCompile(`(?i)` + expr)}
}

func sensitive(expr string) RegexMatcher {
	return RegexMatcher{re: regexp.MustCompile(expr)}
}

// freeMailProviders are excluded from the off-platform contact rule.
var freeMailProviders = []string{"gmail", "yahoo", "outlook", "hotmail"}

// Catalog returns the fixed pattern rule catalog in evaluation order.
func Catalog() []PatternRule {
	return []PatternRule{
		// Financial
		{
			ID:       "fin-payment",
			Category: domain.CategoryFinancial, Severity: domain.SeverityCritical,
			Message: "Requests monetary payment", Confidence: 0.95,
			Matcher: insensitive(`\b(pay|payment|transfer|send(?:\s+money)?|wire|pix|paypal|venmo|cashapp|zelle)\b.*?\$?\d+`),
		},
		{
			ID:       "fin-crypto",
			Category: domain.CategoryFinancial, Severity: domain.SeverityCritical,
			Message: "Mentions cryptocurrency payment", Confidence: 0.98,
			Matcher: insensitive(`\b(bitcoin|btc|crypto|ethereum|eth|usdt|blockchain|wallet\s+address)\b`),
		},
		{
			ID:       "fin-fees",
			Category: domain.CategoryFinancial, Severity: domain.SeverityHigh,
			Message: "Mentions upfront fees", Confidence: 0.92,
			Matcher: insensitive(`\b(processing\s+fee|registration\s+fee|training\s+fee|starter\s+kit|equipment\s+cost)\b`),
		},

		// Urgency
		{
			ID:       "urg-pressure",
			Category: domain.CategoryUrgency, Severity: domain.SeverityMedium,
			Message: "Creates artificial urgency", Confidence: 0.85,
			Matcher: insensitive(`\b(urgent|immediately|right\s+now|asap|today\s+only|limited\s+time|act\s+fast|hurry)\b`),
		},
		{
			ID:       "urg-deadline",
			Category: domain.CategoryUrgency, Severity: domain.SeverityHigh,
			Message: "Imposes strict time pressure", Confidence: 0.90,
			Matcher: insensitive(`\b(respond\s+within|deadline\s+(today|tonight)|expires?\s+(today|soon)|last\s+chance)\b`),
		},

		// Personal data
		{
			ID:       "pii-government-id",
			Category: domain.CategoryPersonalData, Severity: domain.SeverityCritical,
			Message: "Requests sensitive government ID", Confidence: 0.98,
			Matcher: insensitive(`\b(ssn|social\s+security|cpf|tax\s+id|passport\s+number|driver.?s?\s+license)\b`),
		},
		{
			ID:       "pii-credentials",
			Category: domain.CategoryPersonalData, Severity: domain.SeverityCritical,
			Message: "Requests login credentials", Confidence: 0.99,
			Matcher: insensitive(`\b(password|login\s+credentials|account\s+access|security\s+code|pin\s+number)\b`),
		},
		{
			ID:       "pii-account",
			Category: domain.CategoryPersonalData, Severity: domain.SeverityCritical,
			Message: "Requests financial account details", Confidence: 0.99,
			Matcher: insensitive(`\b(bank\s+account|routing\s+number|credit\s+card|debit\s+card|card\s+number|cvv)\b`),
		},

		// Unrealistic promises
		{
			ID:       "promise-guarantee",
			Category: domain.CategoryUnrealisticPromise, Severity: domain.SeverityHigh,
			Message: "Makes unrealistic job guarantees", Confidence: 0.88,
			Matcher: insensitive(`\b(guaranteed\s+(job|income|salary)|no\s+experience\s+(needed|required)|easy\s+money)\b`),
		},
		{
			ID:       "promise-remote-salary",
			Category: domain.CategoryUnrealisticPromise, Severity: domain.SeverityHigh,
			Message: "Promises unusually high salary for remote work", Confidence: 0.85,
			Matcher: insensitive(`\$\d{1,3},?\d{3,}\+?\s*(per|a|/)\s*(day|week|hour|month).*\bwork\s+from\s+home\b`),
		},
		{
			ID:       "promise-get-rich",
			Category: domain.CategoryUnrealisticPromise, Severity: domain.SeverityMedium,
			Message: "Uses get-rich-quick language", Confidence: 0.80,
			Matcher: insensitive(`\b(become\s+rich|financial\s+freedom|life-?changing\s+opportunity|quit\s+your\s+job)\b`),
		},

		// Off platform
		{
			ID:       "offplat-messaging",
			Category: domain.CategoryOffPlatform, Severity: domain.SeverityMedium,
			Message: "Requests communication via messaging app", Confidence: 0.87,
			Matcher: insensitive(`\b(whatsapp|telegram|signal|discord|wickr|kik)\b`),
		},
		{
			ID:       "offplat-contact",
			Category: domain.CategoryOffPlatform, Severity: domain.SeverityLow,
			Message: "Provides non-professional contact method", Confidence: 0.75,
			Matcher: ExcludeSuffixMatcher{
				re:       regexp.MustCompile(`(?i)\b(contact\s+me\s+at|reach\s+me\s+on|message\s+me\s+on)\s+[a-z]+@`),
				excluded: freeMailProviders,
			},
		},

		// Suspicious links
		{
			ID:       "link-suspicious-tld",
			Category: domain.CategorySuspiciousLink, Severity: domain.SeverityHigh,
			Message: "Contains link with suspicious domain extension", Confidence: 0.92,
			Matcher: insensitive(`https?://[^\s]+\.(xyz|top|click|gq|ml|tk|cf|ga|work|online|site)\b`),
		},
		{
			ID:       "link-shortener",
			Category: domain.CategorySuspiciousLink, Severity: domain.SeverityMedium,
			Message: "Uses URL shortener (hides destination)", Confidence: 0.70,
			Matcher: insensitive(`https?://(bit\.ly|tinyurl|short\.io|rb\.gy|cutt\.ly|t\.co)/`),
		},
		{
			ID:       "link-ip-address",
			Category: domain.CategorySuspiciousLink, Severity: domain.SeverityHigh,
			Message: "Link uses IP address instead of domain", Confidence: 0.88,
			Matcher: sensitive(`https?://[^\s]*\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`),
		},

		// Phishing
		{
			ID:       "phish-verify",
			Category: domain.CategoryPhishing, Severity: domain.SeverityCritical,
			Message: "Classic phishing verification request", Confidence: 0.90,
			Matcher: insensitive(`\b(verify\s+your\s+account|confirm\s+your\s+(identity|email)|update\s+your\s+information)\b`),
		},
		{
			ID:       "phish-call-to-action",
			Category: domain.CategoryPhishing, Severity: domain.SeverityMedium,
			Message: "Suspicious call-to-action", Confidence: 0.75,
			Matcher: insensitive(`\b(click\s+(here|this\s+link|below)|download\s+attachment|open\s+the\s+file)\b`),
		},
		{
			ID:       "phish-encoded-payload",
			Category: domain.CategoryPhishing, Severity: domain.SeverityCritical,
			Message: "Suspicious encoded payload detected", Confidence: 0.95,
			Matcher: sensitive(`[A-Za-z0-9+/]{40,}={0,2}`),
		},
	}
}

// ComboCatalog returns the fixed combination rules in evaluation order.
func ComboCatalog() []ComboRule {
	return []ComboRule{
		{
			ID:       "combo-urgency-financial",
			Requires: []domain.Category{domain.CategoryUrgency, domain.CategoryFinancial},
			Message:  "Urgency combined with payment request - high scam indicator",
			Severity: domain.SeverityCritical,
		},
		{
			ID:       "combo-phishing-link",
			Requires: []domain.Category{domain.CategoryPhishing, domain.CategorySuspiciousLink},
			Message:  "Phishing language with suspicious link",
			Severity: domain.SeverityCritical,
		},
		{
			ID:       "combo-promise-financial",
			Requires: []domain.Category{domain.CategoryUnrealisticPromise, domain.CategoryFinancial},
			Message:  "Unrealistic promises requiring upfront payment",
			Severity: domain.SeverityCritical,
		},
		{
			ID:       "combo-offplatform-urgency",
			Requires: []domain.Category{domain.CategoryOffPlatform, domain.CategoryUrgency},
			Message:  "Urgency to move conversation off platform",
			Severity: domain.SeverityHigh,
		},
		{
			ID:       "combo-personal-urgency",
			Requires: []domain.Category{domain.CategoryPersonalData, domain.CategoryUrgency},
			Message:  "Urgent request for sensitive information",
			Severity: domain.SeverityCritical,
		},
	}
}

// KeywordClusters returns the social-engineering phrase clusters in evaluation order.
func KeywordClusters() []KeywordCluster {
	return []KeywordCluster{
		{
			ID: ClusterIsolation,
			Phrases: []string{
				"don't tell anyone",
				"keep this confidential",
				"this is between us",
				"don't share this",
				"private opportunity",
			},
			Message:    "Uses isolation tactics (secrecy)",
			Severity:   domain.SeverityHigh,
			Confidence: 0.88,
		},
		{
			ID: ClusterAuthority,
			Phrases: []string{
				"from corporate",
				"head office",
				"ceo personally selected",
				"executive team",
				"management approved",
			},
			Message:    "Claims authority/insider status",
			Severity:   domain.SeverityMedium,
			Confidence: 0.75,
		},
		{
			ID: ClusterEmotional,
			Phrases: []string{
				"you've been chosen",
				"lucky to be selected",
				"special candidate",
				"perfect fit",
				"dream opportunity",
			},
			Message:    "Uses emotional manipulation/flattery",
			Severity:   domain.SeverityLow,
			Confidence: 0.70,
		},
	}
}
