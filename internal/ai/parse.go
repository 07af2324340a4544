package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// defaultConfidence replaces a missing or out-of-range model confidence.
const defaultConfidence = 0.8

type assessmentReply struct {
	Summary        string   `json:"summary"`
	Recommendation string   `json:"recommendation"`
	Reasoning      string   `json:"reasoning"`
	Confidence     *float64 `json:"confidence"`
}

// extractJSON returns the body of the first fenced code block, or the
// whole reply when there is none.
func extractJSON(reply string) string {
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(reply, fence)
		if start < 0 {
			continue
		}
		body := reply[start+len(fence):]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(reply)
}

func parseReply(reply, model string) (*domain.AIAssessment, error) {
	var r assessmentReply
	if err := json.Unmarshal([]byte(extractJSON(reply)), &r); err != nil {
		return nil, fmt.Errorf("unparsable model reply: %w", err)
	}
	if r.Summary == "" || r.Recommendation == "" {
		return nil, errors.New("model reply missing summary or recommendation")
	}

	confidence := defaultConfidence
	if r.Confidence != nil && *r.Confidence >= 0 && *r.Confidence <= 1 {
		confidence = *r.Confidence
	}

	return &domain.AIAssessment{
		Summary:        r.Summary,
		Recommendation: r.Recommendation,
		Reasoning:      r.Reasoning,
		Confidence:     confidence,
		ModelVersion:   model,
	}, nil
}
