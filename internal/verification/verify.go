package verification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

var newRecordID = uuid.NewString

// Verify runs the four checks concurrently and returns a new record for the item.
func (s *Scorer) Verify(ctx context.Context, item Item, peers []Item) (store.VerificationRecord, error) {
	var (
		reliability Reliability
		freshness   Freshness
		cross       CrossValidation
		fact        FactCheck
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		result, err := s.AssessReliability(groupCtx, item.SourceURL)
		if err != nil {
			return err
		}
		reliability = result
		return nil
	})
	group.Go(func() error {
		freshness = s.CheckFreshness(item, item.Category)
		return nil
	})
	group.Go(func() error {
		cross = s.CrossValidate(item, peers)
		return nil
	})
	group.Go(func() error {
		fact = s.FactCheck(item.Content)
		return nil
	})
	if err := group.Wait(); err != nil {
		return store.VerificationRecord{}, err
	}

	assessment := s.Aggregate(Signals{
		Reliability: &reliability,
		Freshness:   &freshness,
		Cross:       &cross,
		Fact:        &fact,
	})
	return buildRecord(item, reliability, freshness, cross, fact, assessment, s.now()), nil
}

func buildRecord(item Item, reliability Reliability, freshness Freshness, cross CrossValidation, fact FactCheck, assessment Assessment, now time.Time) store.VerificationRecord {
	issues := append([]string{}, assessment.Issues...)
	issues = appendCode(issues, reliability.Blocked, IssueBlockedSource)
	issues = appendCode(issues, !freshness.IsFresh, IssueOutdatedContent)
	issues = appendCode(issues, !fact.Passed, IssueFailedFactCheck)

	warnings := append([]string{}, assessment.Warnings...)
	if freshness.Warning != "" {
		warnings = append(warnings, freshness.Warning)
	}

	return store.VerificationRecord{
		ID:                     newRecordID(),
		ResearchID:             item.ResearchID,
		FindingID:              item.ID,
		SourceURL:              item.SourceURL,
		ReliabilityScore:       reliability.Score,
		ReliabilityRating:      reliability.Rating,
		IsFresh:                freshness.IsFresh,
		AgeDays:                freshness.AgeDays,
		FreshnessThresholdDays: freshness.ThresholdDays,
		AgreementPercentage:    cross.AgreementPercentage,
		MatchingCount:          cross.MatchingCount,
		ContradictingCount:     cross.ContradictingCount,
		ConsensusValue:         cross.ConsensusValue,
		StatementsChecked:      fact.StatementsChecked,
		StatementsFlagged:      fact.StatementsFlagged,
		FactCheckPassed:        fact.Passed,
		Score:                  assessment.Score,
		Reliability:            assessment.Reliability,
		IsTrustworthy:          assessment.IsTrustworthy,
		ConfidenceLevel:        assessment.ConfidenceLevel,
		Status:                 assessment.Status,
		Issues:                 issues,
		Warnings:               warnings,
		Recommendations:        append([]string{}, assessment.Recommendations...),
		CreatedAt:              now.UTC().Format(time.RFC3339Nano),
	}
}

func appendCode(issues []string, condition bool, code string) []string {
	if condition {
		return append(issues, code)
	}
	return issues
}
