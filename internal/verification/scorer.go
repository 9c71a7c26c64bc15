// Package verification scores collected findings for trustworthiness.
package verification

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

// SourceLookup is the read side of the domain lists and fetch history.
type SourceLookup interface {
	GetTrustedSource(ctx context.Context, domain string) (*store.TrustedSource, error)
	GetBlockedSource(ctx context.Context, domain string) (*store.BlockedSource, error)
	GetSourceStats(ctx context.Context, domain string) (*store.SourceStats, error)
}

// Weights are the aggregate signal weights. They are normalised by their sum.
type Weights struct {
	Reliability float64
	Cross       float64
	Freshness   float64
	Fact        float64
}

func DefaultWeights() Weights {
	return Weights{Reliability: 0.35, Cross: 0.35, Freshness: 0.15, Fact: 0.15}
}

// ReliabilityWeights combine the components of a source reliability score.
type ReliabilityWeights struct {
	DomainTrust float64
	History     float64
	Freshness   float64
}

func DefaultReliabilityWeights() ReliabilityWeights {
	return ReliabilityWeights{DomainTrust: 0.5, History: 0.3, Freshness: 0.2}
}

const DefaultSimilarityThreshold = 0.7

// Item is one collected piece of data under verification.
type Item struct {
	ID          string
	ResearchID  string
	Category    string
	Title       string
	Content     string
	SourceURL   string
	Metadata    map[string]any
	CollectedAt time.Time
}

func ItemFromFinding(finding store.Finding) Item {
	collected, _ := time.Parse(time.RFC3339Nano, finding.CreatedAt)
	return Item{
		ID:          finding.ID,
		ResearchID:  finding.ResearchID,
		Category:    finding.Category,
		Title:       finding.Title,
		Content:     finding.Content,
		SourceURL:   finding.SourceURL,
		Metadata:    finding.Metadata,
		CollectedAt: collected,
	}
}

type Scorer struct {
	sources             SourceLookup
	weights             Weights
	reliabilityWeights  ReliabilityWeights
	similarityThreshold float64
	similarity          func(a, b string) float64
	now                 func() time.Time
}

type Option func(*Scorer)

func WithWeights(weights Weights) Option {
	return func(s *Scorer) {
		if weights.Reliability+weights.Cross+weights.Freshness+weights.Fact > 0 {
			s.weights = weights
		}
	}
}

func WithReliabilityWeights(weights ReliabilityWeights) Option {
	return func(s *Scorer) {
		if weights.DomainTrust+weights.History+weights.Freshness > 0 {
			s.reliabilityWeights = weights
		}
	}
}

func WithSimilarityThreshold(threshold float64) Option {
	return func(s *Scorer) {
		if threshold > 0 && threshold <= 1 {
			s.similarityThreshold = threshold
		}
	}
}

// WithSimilarity replaces the text similarity measure used for cross-validation.
func WithSimilarity(similarity func(a, b string) float64) Option {
	return func(s *Scorer) {
		if similarity != nil {
			s.similarity = similarity
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScorer(sources SourceLookup, opts ...Option) *Scorer {
	scorer := &Scorer{
		sources:             sources,
		weights:             DefaultWeights(),
		reliabilityWeights:  DefaultReliabilityWeights(),
		similarityThreshold: DefaultSimilarityThreshold,
		similarity:          Similarity,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(scorer)
	}
	return scorer
}

// Similarity is the SequenceMatcher ratio of the two texts' lowercase word tokens.
func Similarity(a, b string) float64 {
	left := tokenize(a)
	right := tokenize(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	return difflib.NewMatcher(left, right).Ratio()
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func truncateRunes(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
