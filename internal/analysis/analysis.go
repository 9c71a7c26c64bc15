// Package analysis derives the competitive landscape and market trends of a
// research from its saved findings.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

var ErrResearchNotFound = errors.New("research not found")

type Store interface {
	GetResearch(ctx context.Context, researchID string) (*store.Research, error)
	ListFindings(ctx context.Context, researchID string) ([]store.Finding, error)
}

type Report struct {
	ResearchID  string      `json:"research_id"`
	Competitive Landscape   `json:"competitive"`
	Trends      TrendReport `json:"trends"`
	GeneratedAt string      `json:"generated_at"`
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(st Store) *Service {
	return &Service{store: st, now: time.Now}
}

// Analyze works from the findings saved so far. Reports are never persisted.
func (s *Service) Analyze(ctx context.Context, researchID string) (Report, error) {
	research, err := s.store.GetResearch(ctx, researchID)
	if err != nil {
		return Report{}, err
	}
	if research == nil {
		return Report{}, ErrResearchNotFound
	}
	findings, err := s.store.ListFindings(ctx, researchID)
	if err != nil {
		return Report{}, fmt.Errorf("list findings: %w", err)
	}
	report := Report{
		ResearchID:  researchID,
		Competitive: Competitive(research.ProductDescription, findings),
		Trends:      Trends(research.Industry, findings),
		GeneratedAt: s.now().UTC().Format(time.RFC3339),
	}
	log.Debug().
		Str("research_id", researchID).
		Int("findings", len(findings)).
		Int("competitors", report.Competitive.TotalCompetitors).
		Int("trends", len(report.Trends.Trends)).
		Msg("research_analyzed")
	return report, nil
}
