package domain

import (
	"time"
)

// RiskLevel is the categorical bucket of a risk score.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelFromScore maps a 0-100 score onto its level.
// Buckets are half-open: [0,20) safe, [20,40) low, [40,60) moderate,
// [60,80) high, [80,100] critical.
func RiskLevelFromScore(score int) RiskLevel {
	switch {
	case score < 20:
		return RiskSafe
	case score < 40:
		return RiskLow
	case score < 60:
		return RiskModerate
	case score < 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// AtLeast reports whether l is as severe as other or more.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.rank() >= other.rank()
}

func (l RiskLevel) rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskModerate:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// DomainReputation is the heuristic trust classification of a hostname.
type DomainReputation struct {
	Domain             string    `json:"domain"`
	IsTrusted          bool      `json:"isTrusted"`
	TrustScore         int       `json:"trustScore"`
	ReportCount        int       `json:"reportCount"`
	Verified           bool      `json:"verified"`
	VerificationSource string    `json:"verificationSource,omitempty"`
	LastChecked        time.Time `json:"lastChecked"`
}

// LinkAnalysis is the safety assessment of one URL.
type LinkAnalysis struct {
	URL                string            `json:"url"`
	IsShortened        bool              `json:"isShortened"`
	FinalURL           string            `json:"finalUrl,omitempty"`
	DomainReputation   *DomainReputation `json:"domainReputation,omitempty"`
	IsPhishing         bool              `json:"isPhishing"`
	PhishingConfidence float64           `json:"phishingConfidence"`
	VirusTotalScore    *int              `json:"virustotalScore,omitempty"`
}

// SocialEngineeringIndicators flags the manipulation tactics found in a message.
type SocialEngineeringIndicators struct {
	UrgencyPressure        bool    `json:"urgencyPressure"`
	EmotionalManipulation  bool    `json:"emotionalManipulation"`
	IsolationTactics       bool    `json:"isolationTactics"`
	AuthorityImpersonation bool    `json:"authorityImpersonation"`
	UnrealisticPromises    bool    `json:"unrealisticPromises"`
	ConfidenceScore        float64 `json:"confidenceScore"`
}

// TacticCount returns how many tactic flags are set.
func (s *SocialEngineeringIndicators) TacticCount() int {
	n := 0
	for _, on := range []bool{
		s.UrgencyPressure,
		s.EmotionalManipulation,
		s.IsolationTactics,
		s.AuthorityImpersonation,
		s.UnrealisticPromises,
	} {
		if on {
			n++
		}
	}
	return n
}

// AIAssessment is the narrative produced by the language model.
type AIAssessment struct {
	Summary        string  `json:"summary"`
	Recommendation string  `json:"recommendation"`
	Reasoning      string  `json:"reasoning,omitempty"`
	Confidence     float64 `json:"confidence"`
	ModelVersion   string  `json:"modelVersion"`
}

// AnalysisResult is the complete outcome of analyzing one message.
// It is built once and never mutated afterwards.
type AnalysisResult struct {
	ID                string                       `json:"id"`
	TenantID          string                       `json:"tenantId,omitempty"`
	Timestamp         time.Time                    `json:"timestamp"`
	RiskScore         int                          `json:"riskScore"`
	RiskLevel         RiskLevel                    `json:"riskLevel"`
	Confidence        float64                      `json:"confidence"`
	Signals           []Signal                     `json:"signals"`
	LinkAnalyses      []LinkAnalysis               `json:"linkAnalyses"`
	SocialEngineering *SocialEngineeringIndicators `json:"socialEngineering,omitempty"`
	AIAssessment      *AIAssessment                `json:"aiAssessment,omitempty"`
	Recommendation    string                       `json:"recommendation"`
	ActionItems       []string                     `json:"actionItems"`
	EngineVersion     string                       `json:"engineVersion"`
	RulesetVersion    string                       `json:"rulesetVersion"`
	ProcessingTimeMs  float64                      `json:"processingTimeMs"`
}

// IsHighRisk reports whether the result warrants an alert.
func (r *AnalysisResult) IsHighRisk() bool {
	return r.RiskLevel.AtLeast(RiskHigh)
}
