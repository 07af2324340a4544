package analyzer

import "github.com/opensource-finance/kestrel/internal/domain"

// maxActionItems caps the action list.
const maxActionItems = 6

var recommendations = map[domain.RiskLevel]string{
	domain.RiskSafe:     "No significant risk signals detected. This appears to be a legitimate opportunity.",
	domain.RiskLow:      "Minor risk signals detected. Exercise normal caution when responding.",
	domain.RiskModerate: "Multiple risk indicators present. Verify the company and recruiter before providing personal information.",
	domain.RiskHigh:     "High risk of scam detected. Do not share sensitive information or make any payments.",
	domain.RiskCritical: "Critical scam indicators detected. Do not engage with this opportunity under any circumstances.",
}

// Recommendation returns the AI recommendation when its confidence reaches
// minAIConfidence, otherwise the fixed text for level.
func Recommendation(level domain.RiskLevel, assessment *domain.AIAssessment, minAIConfidence float64) string {
	if assessment != nil && assessment.Recommendation != "" && assessment.Confidence >= minAIConfidence {
		return assessment.Recommendation
	}
	return recommendations[level]
}

// ActionItems builds at most six concrete steps for the user.
func ActionItems(level domain.RiskLevel, signals []domain.Signal) []string {
	if level == domain.RiskSafe || level == domain.RiskLow {
		return []string{
			"Research the company on LinkedIn and Glassdoor",
			"Verify recruiter's identity through official channels",
		}
	}

	var criticalFinancial, criticalPersonal bool
	for _, s := range signals {
		if s.Severity != domain.SeverityCritical {
			continue
		}
		switch s.Category {
		case domain.CategoryFinancial:
			criticalFinancial = true
		case domain.CategoryPersonalData:
			criticalPersonal = true
		}
	}

	var items []string
	if criticalFinancial {
		items = append(items,
			"DO NOT send money or cryptocurrency",
			"Legitimate employers never ask for upfront payments",
		)
	}
	if criticalPersonal {
		items = append(items,
			"DO NOT share SSN, passwords, or bank details",
			"Report this as a phishing attempt",
		)
	}
	if domain.HasCategory(signals, domain.CategoryPhishing) {
		items = append(items,
			"Do not click any links",
			"Verify sender through official company website",
		)
	}
	if domain.HasCategory(signals, domain.CategoryOffPlatform) {
		items = append(items,
			"Communicate only through official job platform",
			"Be suspicious of off-platform requests",
		)
	}
	if domain.HasCategory(signals, domain.CategoryUrgency) {
		items = append(items, "Take time to research - urgency is a manipulation tactic")
	}
	if level.AtLeast(domain.RiskHigh) {
		items = append(items,
			"Report this message to the platform/authorities",
			"Block sender and do not respond",
		)
	}

	if len(items) > maxActionItems {
		items = items[:maxActionItems]
	}
	if items == nil {
		items = []string{}
	}
	return items
}
