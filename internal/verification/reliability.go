package verification

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/konard/RDmitryV-Trial-RDV/internal/sources"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

const (
	RatingExcellent  = "excellent"
	RatingGood       = "good"
	RatingFair       = "fair"
	RatingPoor       = "poor"
	RatingUnreliable = "unreliable"
)

const IssueBlockedSource = "blocked_source"

const neutralScore = 0.5

type Reliability struct {
	Domain      string   `json:"domain"`
	Score       float64  `json:"score"`
	Rating      string   `json:"rating"`
	DomainTrust float64  `json:"domain_trust"`
	History     float64  `json:"history"`
	Freshness   float64  `json:"freshness"`
	Blocked     bool     `json:"blocked"`
	BlockReason string   `json:"block_reason,omitempty"`
	Issues      []string `json:"issues,omitempty"`
}

type domainHeuristic struct {
	markers []string
	score   float64
}

var domainHeuristics = []domainHeuristic{
	{markers: []string{".gov.ru", ".ru/gov", "gosuslugi", "government"}, score: 0.95},
	{markers: []string{".edu", ".ac.ru", "university", "institut"}, score: 0.85},
	{markers: []string{"research", "scholar", "science", "academic", "nih.gov"}, score: 0.80},
	{markers: []string{"news", "tass", "interfax", "ria", "rbc", "kommersant"}, score: 0.60},
}

// AssessReliability scores a source by domain reputation, fetch history and
// the age of its last successful fetch.
func (s *Scorer) AssessReliability(ctx context.Context, sourceURL string) (Reliability, error) {
	domain := sources.Domain(sourceURL)
	result := Reliability{Domain: domain}

	if domain != "" && s.sources != nil {
		blocked, err := s.lookupBlocked(ctx, domain)
		if err != nil {
			return Reliability{}, err
		}
		if blocked != nil {
			result.Blocked = true
			result.BlockReason = blocked.Reason
			result.Rating = RatingUnreliable
			result.Issues = []string{IssueBlockedSource}
			return result, nil
		}
	}

	trust, err := s.domainTrust(ctx, sourceURL, domain)
	if err != nil {
		return Reliability{}, err
	}
	result.DomainTrust = trust
	result.History = neutralScore
	result.Freshness = neutralScore

	if domain != "" && s.sources != nil {
		stats, err := s.sources.GetSourceStats(ctx, domain)
		if err != nil {
			return Reliability{}, fmt.Errorf("source stats for %s: %w", domain, err)
		}
		if stats != nil {
			if rate, ok := stats.SuccessRate(); ok {
				result.History = rate
			}
			result.Freshness = lastFetchScore(stats.LastSuccessAt, s.now())
		}
	}

	weights := s.reliabilityWeights
	total := weights.DomainTrust + weights.History + weights.Freshness
	result.Score = clamp01((result.DomainTrust*weights.DomainTrust +
		result.History*weights.History +
		result.Freshness*weights.Freshness) / total)
	result.Rating = ratingFor(result.Score)
	return result, nil
}

// lookupBlocked checks the domain and each parent domain against the block list.
func (s *Scorer) lookupBlocked(ctx context.Context, domain string) (*store.BlockedSource, error) {
	for _, candidate := range domainCandidates(domain) {
		blocked, err := s.sources.GetBlockedSource(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("blocked source %s: %w", candidate, err)
		}
		if blocked != nil {
			return blocked, nil
		}
	}
	return nil, nil
}

func (s *Scorer) domainTrust(ctx context.Context, sourceURL string, domain string) (float64, error) {
	if domain == "" {
		return neutralScore, nil
	}
	if s.sources != nil {
		for _, candidate := range domainCandidates(domain) {
			trusted, err := s.sources.GetTrustedSource(ctx, candidate)
			if err != nil {
				return 0, fmt.Errorf("trusted source %s: %w", candidate, err)
			}
			if trusted != nil {
				return clamp01(trusted.TrustScore), nil
			}
		}
	}
	return heuristicTrust(sourceURL, domain), nil
}

func heuristicTrust(sourceURL string, domain string) float64 {
	target := domain
	if parsed, err := url.Parse(strings.TrimSpace(sourceURL)); err == nil {
		target = domain + strings.ToLower(parsed.EscapedPath())
	}
	for _, heuristic := range domainHeuristics {
		for _, marker := range heuristic.markers {
			if strings.Contains(target, marker) {
				return heuristic.score
			}
		}
	}
	return neutralScore
}

// domainCandidates returns the domain followed by its parents down to the
// registrable two-label form: a.b.example.com, b.example.com, example.com.
func domainCandidates(domain string) []string {
	labels := strings.Split(domain, ".")
	if len(labels) <= 2 {
		return []string{domain}
	}
	candidates := make([]string, 0, len(labels)-1)
	for i := 0; i+2 <= len(labels); i++ {
		candidates = append(candidates, strings.Join(labels[i:], "."))
	}
	return candidates
}

func lastFetchScore(lastSuccessAt string, now time.Time) float64 {
	if lastSuccessAt == "" {
		return neutralScore
	}
	fetched, err := time.Parse(time.RFC3339Nano, lastSuccessAt)
	if err != nil {
		return neutralScore
	}
	days := int(now.Sub(fetched).Hours() / 24)
	switch {
	case days <= 1:
		return 1.0
	case days <= 7:
		return 0.9
	case days <= 30:
		return 0.7
	case days <= 90:
		return 0.5
	case days <= 180:
		return 0.3
	default:
		return 0.1
	}
}

func ratingFor(score float64) string {
	switch {
	case score >= 0.9:
		return RatingExcellent
	case score >= 0.7:
		return RatingGood
	case score >= 0.5:
		return RatingFair
	case score >= 0.3:
		return RatingPoor
	default:
		return RatingUnreliable
	}
}
