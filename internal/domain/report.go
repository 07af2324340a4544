package domain

import (
	"time"
)

// Feedback is a user's verdict on a past analysis.
type Feedback struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	AnalysisID    string    `json:"analysisId"`
	UserID        string    `json:"userId,omitempty"`
	IsAccurate    bool      `json:"isAccurate"`
	ActualOutcome string    `json:"actualOutcome,omitempty"` // scam, legitimate, unsure
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ScamReport is a community report of a scam message.
type ScamReport struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	UserID    string    `json:"userId,omitempty"`
	Text      string    `json:"text"`
	ScamType  string    `json:"scamType,omitempty"`
	Domains   []string  `json:"domains,omitempty"`
	URLs      []string  `json:"urls,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DomainReport aggregates community reports against a domain.
type DomainReport struct {
	Domain       string    `json:"domain"`
	ReportCount  int       `json:"reportCount"`
	LastReported time.Time `json:"lastReported"`
}

// AnalysisStats summarizes stored analyses and feedback for a tenant.
type AnalysisStats struct {
	TotalAnalyses    int               `json:"totalAnalyses"`
	ByRiskLevel      map[RiskLevel]int `json:"byRiskLevel"`
	FeedbackCount    int               `json:"feedbackCount"`
	AccurateFeedback int               `json:"accurateFeedback"`
	ScamReports      int               `json:"scamReports"`
}
