package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

type MemoryStore struct {
	mu            sync.RWMutex
	researches    map[string]store.Research
	runs          map[string][]store.AgentRun
	findings      map[string][]store.Finding
	verifications map[string][]store.VerificationRecord
	trusted       map[string]store.TrustedSource
	blocked       map[string]store.BlockedSource
	stats         map[string]store.SourceStats
	events        map[string][]events.Event
	seq           map[string]int64
}

func New() *MemoryStore {
	return &MemoryStore{
		researches:    map[string]store.Research{},
		runs:          map[string][]store.AgentRun{},
		findings:      map[string][]store.Finding{},
		verifications: map[string][]store.VerificationRecord{},
		trusted:       map[string]store.TrustedSource{},
		blocked:       map[string]store.BlockedSource{},
		stats:         map[string]store.SourceStats{},
		events:        map[string][]events.Event{},
		seq:           map[string]int64{},
	}
}

func (m *MemoryStore) CreateResearch(ctx context.Context, research store.Research) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(research.Status) == "" {
		research.Status = store.ResearchCreated
	}
	m.researches[research.ID] = research
	return nil
}

func (m *MemoryStore) GetResearch(ctx context.Context, researchID string) (*store.Research, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	research, ok := m.researches[researchID]
	if !ok {
		return nil, nil
	}
	return &research, nil
}

func (m *MemoryStore) ListResearches(ctx context.Context) ([]store.Research, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Research, 0, len(m.researches))
	for _, research := range m.researches {
		results = append(results, research)
	}
	sort.Slice(results, func(i, j int) bool {
		left, right := parseTime(results[i].CreatedAt), parseTime(results[j].CreatedAt)
		if left.Equal(right) {
			return results[i].ID < results[j].ID
		}
		return left.After(right)
	})
	return results, nil
}

func (m *MemoryStore) UpdateResearchStatus(ctx context.Context, researchID string, status string, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	research, ok := m.researches[researchID]
	if !ok {
		return nil
	}
	research.Status = status
	research.UpdatedAt = updatedAt
	m.researches[researchID] = research
	return nil
}

func (m *MemoryStore) CreateAgentRun(ctx context.Context, run store.AgentRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ResearchID] = append(m.runs[run.ResearchID], cloneRun(run))
	return nil
}

func (m *MemoryStore) UpdateAgentRun(ctx context.Context, run store.AgentRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := m.runs[run.ResearchID]
	for i := range runs {
		if runs[i].ID == run.ID {
			if run.StartedAt == "" {
				run.StartedAt = runs[i].StartedAt
			}
			runs[i] = cloneRun(run)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) GetLatestAgentRun(ctx context.Context, researchID string) (*store.AgentRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := m.runs[researchID]
	if len(runs) == 0 {
		return nil, nil
	}
	latest := cloneRun(runs[len(runs)-1])
	return &latest, nil
}

func (m *MemoryStore) AddFinding(ctx context.Context, finding store.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	finding.Metadata = cloneMap(finding.Metadata)
	m.findings[finding.ResearchID] = append(m.findings[finding.ResearchID], finding)
	return nil
}

func (m *MemoryStore) ListFindings(ctx context.Context, researchID string) ([]store.Finding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	findings := m.findings[researchID]
	results := make([]store.Finding, 0, len(findings))
	for _, finding := range findings {
		finding.Metadata = cloneMap(finding.Metadata)
		results = append(results, finding)
	}
	return results, nil
}

func (m *MemoryStore) AddVerificationRecord(ctx context.Context, record store.VerificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[record.ResearchID] = append(m.verifications[record.ResearchID], cloneRecord(record))
	return nil
}

func (m *MemoryStore) ListVerificationRecords(ctx context.Context, researchID string) ([]store.VerificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.verifications[researchID]
	results := make([]store.VerificationRecord, 0, len(records))
	for _, record := range records {
		results = append(results, cloneRecord(record))
	}
	return results, nil
}

func (m *MemoryStore) ListTrustedSources(ctx context.Context) ([]store.TrustedSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.TrustedSource, 0, len(m.trusted))
	for _, source := range m.trusted {
		results = append(results, source)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Domain < results[j].Domain })
	return results, nil
}

func (m *MemoryStore) GetTrustedSource(ctx context.Context, domain string) (*store.TrustedSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	source, ok := m.trusted[normalizeDomain(domain)]
	if !ok {
		return nil, nil
	}
	return &source, nil
}

func (m *MemoryStore) UpsertTrustedSource(ctx context.Context, source store.TrustedSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	source.Domain = normalizeDomain(source.Domain)
	if existing, ok := m.trusted[source.Domain]; ok && source.CreatedAt == "" {
		source.CreatedAt = existing.CreatedAt
	}
	m.trusted[source.Domain] = source
	return nil
}

func (m *MemoryStore) ListBlockedSources(ctx context.Context) ([]store.BlockedSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.BlockedSource, 0, len(m.blocked))
	for _, source := range m.blocked {
		results = append(results, source)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Domain < results[j].Domain })
	return results, nil
}

func (m *MemoryStore) GetBlockedSource(ctx context.Context, domain string) (*store.BlockedSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	source, ok := m.blocked[normalizeDomain(domain)]
	if !ok {
		return nil, nil
	}
	return &source, nil
}

func (m *MemoryStore) UpsertBlockedSource(ctx context.Context, source store.BlockedSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	source.Domain = normalizeDomain(source.Domain)
	m.blocked[source.Domain] = source
	return nil
}

func (m *MemoryStore) RecordSourceFetch(ctx context.Context, domain string, success bool, at string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	domain = normalizeDomain(domain)
	stats := m.stats[domain]
	stats.Domain = domain
	if success {
		stats.SuccessCount++
		stats.LastSuccessAt = at
	} else {
		stats.FailureCount++
		stats.LastFailureAt = at
	}
	m.stats[domain] = stats
	return nil
}

func (m *MemoryStore) GetSourceStats(ctx context.Context, domain string) (*store.SourceStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats, ok := m.stats[normalizeDomain(domain)]
	if !ok {
		return nil, nil
	}
	return &stats, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Type = events.NormalizeType(event.Type)
	m.events[event.ResearchID] = append(m.events[event.ResearchID], event)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, researchID string, afterSeq int64) ([]events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.events[researchID]
	if afterSeq <= 0 {
		return append([]events.Event{}, stored...), nil
	}
	filtered := []events.Event{}
	for _, event := range stored {
		if event.Seq > afterSeq {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, researchID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[researchID] += 1
	return m.seq[researchID], nil
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func normalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
}

func cloneRun(run store.AgentRun) store.AgentRun {
	if run.FinalState != nil {
		state := *run.FinalState
		state.CompletedSubtasks = append([]string{}, run.FinalState.CompletedSubtasks...)
		state.PendingSubtasks = append([]string{}, run.FinalState.PendingSubtasks...)
		run.FinalState = &state
	}
	return run
}

func cloneRecord(record store.VerificationRecord) store.VerificationRecord {
	if record.AgreementPercentage != nil {
		value := *record.AgreementPercentage
		record.AgreementPercentage = &value
	}
	record.Issues = append([]string(nil), record.Issues...)
	record.Warnings = append([]string(nil), record.Warnings...)
	record.Recommendations = append([]string(nil), record.Recommendations...)
	return record
}

func cloneMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
