package domain

// Category classifies what kind of risk a signal indicates.
type Category string

const (
	CategoryFinancial          Category = "financial"
	CategoryUrgency            Category = "urgency"
	CategoryPersonalData       Category = "personal_data"
	CategoryUnrealisticPromise Category = "unrealistic_promise"
	CategoryOffPlatform        Category = "off_platform"
	CategorySuspiciousLink     Category = "suspicious_link"
	CategoryPhishing           Category = "phishing"
	CategorySocialEngineering  Category = "social_engineering"
	CategoryDomainReputation   Category = "domain_reputation"
	CategoryLinguisticPattern  Category = "linguistic_pattern"
)

// Severity is the tier of a signal. Each tier carries a fixed scoring weight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the scoring weight of the severity tier.
// Unknown severities weigh nothing.
func (s Severity) Weight() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityLow:
		return 5
	case SeverityMedium:
		return 15
	case SeverityHigh:
		return 30
	case SeverityCritical:
		return 50
	default:
		return 0
	}
}

// Signal is one detected risk indicator.
// ID is the identifier of the rule, combo or keyword cluster that produced it.
type Signal struct {
	ID         string   `json:"id"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	Evidence   string   `json:"evidence,omitempty"`
}

// HasCategory reports whether any signal belongs to the category.
func HasCategory(signals []Signal, category Category) bool {
	for _, s := range signals {
		if s.Category == category {
			return true
		}
	}
	return false
}

// HasSignal reports whether a signal with the given ID is present.
func HasSignal(signals []Signal, id string) bool {
	for _, s := range signals {
		if s.ID == id {
			return true
		}
	}
	return false
}
