package verification

import (
	"fmt"
	"math"
)

const (
	ReliabilityHigh   = "high"
	ReliabilityMedium = "medium"
	ReliabilityLow    = "low"
)

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

const (
	verifiedScore       = 0.7
	rejectedScore       = 0.45
	highConfidenceScore = 0.85
	medConfidenceScore  = 0.6
)

// Signals holds the outcome of each check. A nil signal counts as neutral.
type Signals struct {
	Reliability *Reliability
	Freshness   *Freshness
	Cross       *CrossValidation
	Fact        *FactCheck
}

type Assessment struct {
	Score           float64  `json:"score"`
	Status          string   `json:"status"`
	Reliability     string   `json:"reliability"`
	IsTrustworthy   bool     `json:"is_trustworthy"`
	ConfidenceLevel string   `json:"confidence_level"`
	Issues          []string `json:"issues"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
}

// Aggregate combines the signals into a weighted score and a verdict.
// Missing signals count as 0.5. Status, reliability, trust and confidence
// all follow the combined score; per-signal rules only add issues and
// warnings.
func (s *Scorer) Aggregate(signals Signals) Assessment {
	assessment := Assessment{
		Issues:          []string{},
		Warnings:        []string{},
		Recommendations: []string{},
	}

	reliability := neutralScore
	if signals.Reliability != nil {
		reliability = signals.Reliability.Score
		switch {
		case signals.Reliability.Blocked:
			assessment.Issues = append(assessment.Issues, "Source is on the blocked list")
		case reliability < 0.5:
			assessment.Issues = append(assessment.Issues, "Source has low reliability score")
		case reliability < 0.7:
			assessment.Warnings = append(assessment.Warnings, "Source has moderate reliability")
		}
	}

	freshness := neutralScore
	if signals.Freshness != nil {
		freshness = signals.Freshness.Score
		if !signals.Freshness.IsFresh {
			assessment.Issues = append(assessment.Issues, fmt.Sprintf("Data is outdated (%d days old)", signals.Freshness.AgeDays))
			assessment.Recommendations = append(assessment.Recommendations, "Consider finding more recent data")
		}
	}

	cross := neutralScore
	if signals.Cross != nil && signals.Cross.AgreementPercentage != nil {
		cross = signals.Cross.Confidence
		if signals.Cross.ContradictingCount > 0 {
			assessment.Warnings = append(assessment.Warnings, "Data contradicts other sources")
			assessment.Recommendations = append(assessment.Recommendations, "Review contradicting sources for accuracy")
		}
		if signals.Cross.Confidence < 0.5 {
			assessment.Issues = append(assessment.Issues, "Low confidence from cross-validation")
		}
	}

	fact := neutralScore
	if signals.Fact != nil {
		if ratio, ok := signals.Fact.PlausibleRatio(); ok {
			fact = ratio
		}
		if !signals.Fact.Passed {
			assessment.Issues = append(assessment.Issues, "Failed fact-checking")
			assessment.Recommendations = append(assessment.Recommendations, "Verify claims against official sources")
		}
	}

	weights := s.weights
	total := weights.Reliability + weights.Cross + weights.Freshness + weights.Fact
	score := (reliability*weights.Reliability +
		cross*weights.Cross +
		freshness*weights.Freshness +
		fact*weights.Fact) / total
	assessment.Score = math.Round(clamp01(score)*1000) / 1000

	switch {
	case assessment.Score >= verifiedScore:
		assessment.Status = StatusVerified
		assessment.Reliability = ReliabilityHigh
	case assessment.Score < rejectedScore:
		assessment.Status = StatusRejected
		assessment.Reliability = ReliabilityLow
	default:
		assessment.Status = StatusUncertain
		assessment.Reliability = ReliabilityMedium
	}
	assessment.IsTrustworthy = assessment.Status == StatusVerified

	switch {
	case assessment.Score >= highConfidenceScore:
		assessment.ConfidenceLevel = ConfidenceHigh
	case assessment.Score >= medConfidenceScore:
		assessment.ConfidenceLevel = ConfidenceMedium
	default:
		assessment.ConfidenceLevel = ConfidenceLow
	}
	return assessment
}
