package verification

import (
	"math"

	"github.com/konard/RDmitryV-Trial-RDV/internal/sources"
)

const (
	StatusVerified  = "verified"
	StatusFlagged   = "flagged"
	StatusFailed    = "failed"
	StatusPending   = "pending"
	StatusRejected  = "rejected"
	StatusUncertain = "uncertain"
)

const (
	maxPeers          = 10
	maxConsensusChars = 500
)

type PeerComparison struct {
	ItemID     string  `json:"item_id"`
	SourceURL  string  `json:"source_url,omitempty"`
	Similarity float64 `json:"similarity"`
	Matches    bool    `json:"matches"`
}

type CrossValidation struct {
	// AgreementPercentage is nil when there were no peers to compare against.
	AgreementPercentage *float64         `json:"agreement_percentage"`
	MatchingCount       int              `json:"matching_count"`
	ContradictingCount  int              `json:"contradicting_count"`
	ConsensusValue      string           `json:"consensus_value,omitempty"`
	Confidence          float64          `json:"confidence"`
	Status              string           `json:"status"`
	Comparisons         []PeerComparison `json:"comparisons,omitempty"`
}

// CrossValidate compares the item with peers collected from other sources.
func (s *Scorer) CrossValidate(item Item, peers []Item) CrossValidation {
	candidates := Peers(item, peers)
	if len(candidates) == 0 {
		return CrossValidation{Status: StatusPending}
	}

	result := CrossValidation{Comparisons: make([]PeerComparison, 0, len(candidates))}
	for _, peer := range candidates {
		similarity := s.similarity(item.Content, peer.Content)
		matches := similarity >= s.similarityThreshold
		if matches {
			result.MatchingCount++
		}
		result.Comparisons = append(result.Comparisons, PeerComparison{
			ItemID:     peer.ID,
			SourceURL:  peer.SourceURL,
			Similarity: math.Round(similarity*1000) / 1000,
			Matches:    matches,
		})
	}

	total := len(candidates)
	result.ContradictingCount = total - result.MatchingCount
	ratio := float64(result.MatchingCount) / float64(total)
	agreement := ratio * 100
	result.AgreementPercentage = &agreement
	result.ConsensusValue = truncateRunes(item.Content, maxConsensusChars)

	switch {
	case total == 1:
		result.Confidence = ratio * 0.5
	case total >= 5:
		result.Confidence = math.Min(1, ratio*1.2)
	default:
		result.Confidence = ratio
	}

	switch {
	case agreement >= 80:
		result.Status = StatusVerified
	case agreement >= 50:
		result.Status = StatusFlagged
	default:
		result.Status = StatusFailed
	}
	return result
}

// Peers selects up to ten items of the same research that came from a
// different source than item.
func Peers(item Item, all []Item) []Item {
	domain := sources.Domain(item.SourceURL)
	selected := make([]Item, 0, maxPeers)
	for _, candidate := range all {
		if len(selected) == maxPeers {
			break
		}
		if candidate.ID == item.ID {
			continue
		}
		if item.ResearchID != "" && candidate.ResearchID != "" && candidate.ResearchID != item.ResearchID {
			continue
		}
		if candidate.Content == "" {
			continue
		}
		if domain != "" && sources.Domain(candidate.SourceURL) == domain {
			continue
		}
		selected = append(selected, candidate)
	}
	return selected
}
