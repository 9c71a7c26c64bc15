package store

import (
	"context"

	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
)

const (
	ResearchCreated   = "created"
	ResearchRunning   = "running"
	ResearchCompleted = "completed"
	ResearchFailed    = "failed"
	ResearchCancelled = "cancelled"
)

const (
	RunRunning         = "running"
	RunCompleted       = "completed"
	RunMaxStepsReached = "max_steps_reached"
	RunFailed          = "failed"
	RunCancelled       = "cancelled"
)

type Research struct {
	ID                 string
	Title              string
	ProductDescription string
	Industry           string
	Region             string
	ResearchType       string
	Status             string
	CreatedAt          string
	UpdatedAt          string
}

type AgentRun struct {
	ID            string
	ResearchID    string
	Status        string
	StepsTaken    int
	FindingsCount int
	Report        string
	Error         string
	FinalState    *events.State
	StartedAt     string
	CompletedAt   string
}

type Finding struct {
	ID         string
	ResearchID string
	RunID      string
	Step       int
	Category   string
	Title      string
	Content    string
	SourceURL  string
	Confidence *float64
	Metadata   map[string]any
	CreatedAt  string
}

// VerificationRecord is insert-only; re-verification adds a new record.
type VerificationRecord struct {
	ID                     string
	ResearchID             string
	FindingID              string
	SourceURL              string
	ReliabilityScore       float64
	ReliabilityRating      string
	IsFresh                bool
	AgeDays                int
	FreshnessThresholdDays int
	AgreementPercentage    *float64
	MatchingCount          int
	ContradictingCount     int
	ConsensusValue         string
	StatementsChecked      int
	StatementsFlagged      int
	FactCheckPassed        bool
	Score                  float64
	Reliability            string
	IsTrustworthy          bool
	ConfidenceLevel        string
	Status                 string
	Issues                 []string
	Warnings               []string
	Recommendations        []string
	CreatedAt              string
}

type TrustedSource struct {
	Domain     string
	Name       string
	TrustScore float64
	Category   string
	IsOfficial bool
	CreatedAt  string
}

type BlockedSource struct {
	Domain    string
	Reason    string
	CreatedAt string
}

type SourceStats struct {
	Domain        string
	SuccessCount  int64
	FailureCount  int64
	LastSuccessAt string
	LastFailureAt string
}

// SuccessRate returns the share of successful fetches, or false when no fetch
// was ever recorded.
func (s SourceStats) SuccessRate() (float64, bool) {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return 0, false
	}
	return float64(s.SuccessCount) / float64(total), true
}

type ResearchStore interface {
	CreateResearch(ctx context.Context, research Research) error
	GetResearch(ctx context.Context, researchID string) (*Research, error)
	ListResearches(ctx context.Context) ([]Research, error)
	UpdateResearchStatus(ctx context.Context, researchID string, status string, updatedAt string) error
	CreateAgentRun(ctx context.Context, run AgentRun) error
	UpdateAgentRun(ctx context.Context, run AgentRun) error
	GetLatestAgentRun(ctx context.Context, researchID string) (*AgentRun, error)
}

type FindingStore interface {
	AddFinding(ctx context.Context, finding Finding) error
	ListFindings(ctx context.Context, researchID string) ([]Finding, error)
}

type VerificationStore interface {
	AddVerificationRecord(ctx context.Context, record VerificationRecord) error
	ListVerificationRecords(ctx context.Context, researchID string) ([]VerificationRecord, error)
}

type SourceStore interface {
	ListTrustedSources(ctx context.Context) ([]TrustedSource, error)
	GetTrustedSource(ctx context.Context, domain string) (*TrustedSource, error)
	UpsertTrustedSource(ctx context.Context, source TrustedSource) error
	ListBlockedSources(ctx context.Context) ([]BlockedSource, error)
	GetBlockedSource(ctx context.Context, domain string) (*BlockedSource, error)
	UpsertBlockedSource(ctx context.Context, source BlockedSource) error
	RecordSourceFetch(ctx context.Context, domain string, success bool, at string) error
	GetSourceStats(ctx context.Context, domain string) (*SourceStats, error)
}

type EventStore interface {
	AppendEvent(ctx context.Context, event events.Event) error
	ListEvents(ctx context.Context, researchID string, afterSeq int64) ([]events.Event, error)
	NextSeq(ctx context.Context, researchID string) (int64, error)
}

type Store interface {
	ResearchStore
	FindingStore
	VerificationStore
	SourceStore
	EventStore
}
