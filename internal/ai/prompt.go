package ai

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxPromptText bounds how much of the message is sent to the model.
const maxPromptText = 2000

const systemPrompt = `You are a scam detection expert analyzing job recruitment messages.

Your role is to:
1. Synthesize the detected risk signals into clear insights
2. Provide actionable recommendations
3. Explain your reasoning concisely
4. Assess confidence in your analysis

Return ONLY valid JSON with this exact structure:
{
  "summary": "Brief overview of the analysis (2-3 sentences)",
  "recommendation": "Clear action recommendation",
  "reasoning": "Explain key factors in your assessment",
  "confidence": 0.85
}

Be direct, professional, and user-focused.`

// sanitize drops characters that could break the structured reply and
// truncates to maxPromptText runes.
func sanitize(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '{', '}', '<', '>':
			return -1
		}
		return r
	}, text)

	if runes := []rune(cleaned); len(runes) > maxPromptText {
		cleaned = string(runes[:maxPromptText])
	}
	return cleaned
}

func buildPrompt(text string, signals []domain.Signal, score int, level domain.RiskLevel) string {
	var sb strings.Builder

	sb.WriteString("Analyze this recruitment message:\n\n")
	sb.WriteString("Risk Assessment:\n")
	sb.WriteString(fmt.Sprintf("- Score: %d/100\n", score))
	sb.WriteString(fmt.Sprintf("- Level: %s\n", level))
	sb.WriteString(fmt.Sprintf("- Signals detected: %d\n", len(signals)))

	sb.WriteString("\nDetected Signals:\n")
	if len(signals) == 0 {
		sb.WriteString("None detected\n")
	}
	for _, s := range signals {
		sb.WriteString(fmt.Sprintf("- %s (%s, confidence: %.2f)\n", s.Message, s.Severity, s.Confidence))
	}

	sb.WriteString("\nOriginal Message:\n")
	sb.WriteString(sanitize(text))
	sb.WriteString("\n\nProvide your analysis.")

	return sb.String()
}
