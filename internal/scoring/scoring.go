// Package scoring combines signals, link analyses and social-engineering
// indicators into a single risk score and a confidence value.
package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Weights controls how the three sub-scores blend into the final score.
type Weights struct {
	Signals           float64
	Links             float64
	SocialEngineering float64
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		Signals:           0.60,
		Links:             0.25,
		SocialEngineering: 0.15,
	}
}

// Engine computes risk scores. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	Weights Weights

	// SignalNormalizer divides the raw weighted signal sum.
	SignalNormalizer float64
}

// NewEngine creates a scoring engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Weights:          DefaultWeights(),
		SignalNormalizer: 2.5,
	}
}

// Calculate returns the risk score in [0,100] and the confidence in [0,1].
// se may be nil.
func (e *Engine) Calculate(signals []domain.Signal, links []domain.LinkAnalysis, se *domain.SocialEngineeringIndicators) (int, float64) {
	if len(signals) == 0 && len(links) == 0 {
		return 0, 1.0
	}

	signalScore := e.signalScore(signals)
	linkScore := linkScore(links)
	seScore := socialEngineeringScore(se)

	final := signalScore*e.Weights.Signals +
		linkScore*e.Weights.Links +
		seScore*e.Weights.SocialEngineering

	score := int(math.Round(final))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return score, confidence(signals, links, se)
}

func (e *Engine) signalScore(signals []domain.Signal) float64 {
	if len(signals) == 0 {
		return 0
	}

	total := 0.0
	for _, s := range signals {
		total += float64(s.Severity.Weight()) * s.Confidence
	}

	normalizer := e.SignalNormalizer
	if normalizer <= 0 {
		normalizer = 1
	}
	return math.Min(total/normalizer, 100)
}

func linkScore(links []domain.LinkAnalysis) float64 {
	if len(links) == 0 {
		return 0
	}

	total := 0.0
	for _, l := range links {
		score := 0.0
		if l.IsShortened {
			score += 15
		}
		if l.IsPhishing {
			score += 40 * l.PhishingConfidence
		}
		if l.DomainReputation != nil {
			score += float64(100-l.DomainReputation.TrustScore) / 2
		}
		if l.VirusTotalScore != nil && *l.VirusTotalScore > 0 {
			score += math.Min(float64(*l.VirusTotalScore)*10, 50)
		}
		total += score
	}

	return math.Min(total/float64(len(links)), 100)
}

func socialEngineeringScore(se *domain.SocialEngineeringIndicators) float64 {
	if se == nil {
		return 0
	}

	score := 0.0
	if se.UrgencyPressure {
		score += 20
	}
	if se.EmotionalManipulation {
		score += 15
	}
	if se.IsolationTactics {
		score += 25
	}
	if se.AuthorityImpersonation {
		score += 20
	}
	if se.UnrealisticPromises {
		score += 20
	}

	return math.Min(score*se.ConfidenceScore, 100)
}

func confidence(signals []domain.Signal, links []domain.LinkAnalysis, se *domain.SocialEngineeringIndicators) float64 {
	c := 0.5

	if n := len(signals); n > 0 {
		c += math.Min(float64(n)/10, 0.25)

		sum := 0.0
		for _, s := range signals {
			sum += s.Confidence
		}
		c += sum / float64(n) * 0.15
	}

	if len(links) > 0 {
		c += 0.1
	}
	if se != nil && se.ConfidenceScore > 0.5 {
		c += 0.1
	}

	return math.Max(0, math.Min(c, 1))
}

// DeriveIndicators maps detected signals onto the five social-engineering
// tactics. Keyword-cluster signals carry the emotional, isolation and
// authority tactics; category membership carries urgency and promises.
func DeriveIndicators(signals []domain.Signal) *domain.SocialEngineeringIndicators {
	se := &domain.SocialEngineeringIndicators{
		UrgencyPressure:        domain.HasCategory(signals, domain.CategoryUrgency),
		EmotionalManipulation:  domain.HasSignal(signals, rules.ClusterEmotional),
		IsolationTactics:       domain.HasSignal(signals, rules.ClusterIsolation),
		AuthorityImpersonation: domain.HasSignal(signals, rules.ClusterAuthority),
		UnrealisticPromises:    domain.HasCategory(signals, domain.CategoryUnrealisticPromise),
	}
	se.ConfidenceScore = math.Min(float64(se.TacticCount())/3, 1.0)
	return se
}
