package verification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

type Store interface {
	SourceLookup
	store.FindingStore
	store.VerificationStore
}

const defaultConcurrency = 4

type Service struct {
	store       Store
	scorer      *Scorer
	concurrency int
}

func NewService(st Store, opts ...Option) *Service {
	return &Service{
		store:       st,
		scorer:      NewScorer(st, opts...),
		concurrency: defaultConcurrency,
	}
}

func (s *Service) Scorer() *Scorer {
	return s.scorer
}

// VerifyResearch verifies every finding of the research and inserts one new
// record per finding. Records are returned in finding order.
func (s *Service) VerifyResearch(ctx context.Context, researchID string) ([]store.VerificationRecord, error) {
	findings, err := s.store.ListFindings(ctx, researchID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	items := make([]Item, 0, len(findings))
	for _, finding := range findings {
		items = append(items, ItemFromFinding(finding))
	}

	records := make([]store.VerificationRecord, len(items))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i, item := range items {
		group.Go(func() error {
			record, err := s.scorer.Verify(groupCtx, item, items)
			if err != nil {
				return fmt.Errorf("verify finding %s: %w", item.ID, err)
			}
			records[i] = record
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	verified := 0
	for _, record := range records {
		if err := s.store.AddVerificationRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("add verification record: %w", err)
		}
		if record.Status == StatusVerified {
			verified++
		}
	}
	log.Info().
		Str("research_id", researchID).
		Int("records", len(records)).
		Int("verified", verified).
		Msg("research_verified")
	return records, nil
}
