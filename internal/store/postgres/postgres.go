package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"researches",
		"agent_runs",
		"findings",
		"verification_records",
		"trusted_sources",
		"blocked_sources",
		"source_stats",
		"research_events",
		"research_event_sequences",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateResearch(ctx context.Context, research store.Research) error {
	status := strings.TrimSpace(research.Status)
	if status == "" {
		status = store.ResearchCreated
	}
	const query = `
		INSERT INTO researches (
			id,
			title,
			product_description,
			industry,
			region,
			research_type,
			status,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		research.ID,
		research.Title,
		research.ProductDescription,
		research.Industry,
		research.Region,
		research.ResearchType,
		status,
		parseTimestampValue(research.CreatedAt),
		parseTimestampValue(research.UpdatedAt),
	)
	return err
}

const researchColumns = `id, title, product_description, industry, region, research_type, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResearch(row rowScanner) (store.Research, error) {
	var createdAt time.Time
	var updatedAt time.Time
	research := store.Research{}
	if err := row.Scan(
		&research.ID,
		&research.Title,
		&research.ProductDescription,
		&research.Industry,
		&research.Region,
		&research.ResearchType,
		&research.Status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return store.Research{}, err
	}
	research.CreatedAt = formatTimestamp(createdAt)
	research.UpdatedAt = formatTimestamp(updatedAt)
	return research, nil
}

func (p *PostgresStore) GetResearch(ctx context.Context, researchID string) (*store.Research, error) {
	query := `SELECT ` + researchColumns + ` FROM researches WHERE id = $1`
	research, err := scanResearch(p.db.QueryRowContext(ctx, query, researchID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &research, nil
}

func (p *PostgresStore) ListResearches(ctx context.Context) ([]store.Research, error) {
	query := `SELECT ` + researchColumns + ` FROM researches ORDER BY created_at DESC, id ASC`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Research{}
	for rows.Next() {
		research, err := scanResearch(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, research)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) UpdateResearchStatus(ctx context.Context, researchID string, status string, updatedAt string) error {
	const query = `UPDATE researches SET status = $2, updated_at = $3 WHERE id = $1`
	_, err := p.db.ExecContext(ctx, query, researchID, status, parseTimestampValue(updatedAt))
	return err
}

func (p *PostgresStore) CreateAgentRun(ctx context.Context, run store.AgentRun) error {
	state, err := encodeJSONNull(run.FinalState)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO agent_runs (
			id,
			research_id,
			status,
			steps_taken,
			findings_count,
			report,
			error,
			final_state,
			started_at,
			completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.ResearchID,
		run.Status,
		run.StepsTaken,
		run.FindingsCount,
		nullString(run.Report),
		nullString(run.Error),
		state,
		parseTimestampValue(run.StartedAt),
		parseTimestampNull(run.CompletedAt),
	)
	return err
}

func (p *PostgresStore) UpdateAgentRun(ctx context.Context, run store.AgentRun) error {
	state, err := encodeJSONNull(run.FinalState)
	if err != nil {
		return err
	}
	const query = `
		UPDATE agent_runs
		SET status = $2,
			steps_taken = $3,
			findings_count = $4,
			report = $5,
			error = $6,
			final_state = $7,
			completed_at = $8
		WHERE id = $1
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.Status,
		run.StepsTaken,
		run.FindingsCount,
		nullString(run.Report),
		nullString(run.Error),
		state,
		parseTimestampNull(run.CompletedAt),
	)
	return err
}

func (p *PostgresStore) GetLatestAgentRun(ctx context.Context, researchID string) (*store.AgentRun, error) {
	const query = `
		SELECT id, research_id, status, steps_taken, findings_count, report, error, final_state, started_at, completed_at
		FROM agent_runs
		WHERE research_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`
	var report sql.NullString
	var runErr sql.NullString
	var stateBytes []byte
	var startedAt time.Time
	var completedAt sql.NullTime
	run := store.AgentRun{}
	if err := p.db.QueryRowContext(ctx, query, researchID).Scan(
		&run.ID,
		&run.ResearchID,
		&run.Status,
		&run.StepsTaken,
		&run.FindingsCount,
		&report,
		&runErr,
		&stateBytes,
		&startedAt,
		&completedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	run.Report = report.String
	run.Error = runErr.String
	run.StartedAt = formatTimestamp(startedAt)
	if completedAt.Valid {
		run.CompletedAt = formatTimestamp(completedAt.Time)
	}
	if len(stateBytes) > 0 {
		state := &events.State{}
		if err := json.Unmarshal(stateBytes, state); err != nil {
			return nil, err
		}
		run.FinalState = state
	}
	return &run, nil
}

func (p *PostgresStore) AddFinding(ctx context.Context, finding store.Finding) error {
	metadata := finding.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO findings (
			id,
			research_id,
			run_id,
			step,
			category,
			title,
			content,
			source_url,
			confidence,
			metadata,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		finding.ID,
		finding.ResearchID,
		nullString(finding.RunID),
		finding.Step,
		finding.Category,
		finding.Title,
		finding.Content,
		nullString(finding.SourceURL),
		floatPtrValue(finding.Confidence),
		encoded,
		parseTimestampValue(finding.CreatedAt),
	)
	return err
}

func (p *PostgresStore) ListFindings(ctx context.Context, researchID string) ([]store.Finding, error) {
	const query = `
		SELECT id, research_id, run_id, step, category, title, content, source_url, confidence, metadata, created_at
		FROM findings
		WHERE research_id = $1
		ORDER BY position ASC
	`
	rows, err := p.db.QueryContext(ctx, query, researchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Finding{}
	for rows.Next() {
		var runID sql.NullString
		var sourceURL sql.NullString
		var confidence sql.NullFloat64
		var metadata []byte
		var createdAt time.Time
		finding := store.Finding{}
		if err := rows.Scan(
			&finding.ID,
			&finding.ResearchID,
			&runID,
			&finding.Step,
			&finding.Category,
			&finding.Title,
			&finding.Content,
			&sourceURL,
			&confidence,
			&metadata,
			&createdAt,
		); err != nil {
			return nil, err
		}
		finding.RunID = runID.String
		finding.SourceURL = sourceURL.String
		if confidence.Valid {
			value := confidence.Float64
			finding.Confidence = &value
		}
		finding.Metadata = decodeJSONMap(metadata)
		finding.CreatedAt = formatTimestamp(createdAt)
		results = append(results, finding)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) AddVerificationRecord(ctx context.Context, record store.VerificationRecord) error {
	issues, err := encodeStringSlice(record.Issues)
	if err != nil {
		return err
	}
	warnings, err := encodeStringSlice(record.Warnings)
	if err != nil {
		return err
	}
	recommendations, err := encodeStringSlice(record.Recommendations)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO verification_records (
			id,
			research_id,
			finding_id,
			source_url,
			reliability_score,
			reliability_rating,
			is_fresh,
			age_days,
			freshness_threshold_days,
			agreement_percentage,
			matching_count,
			contradicting_count,
			consensus_value,
			statements_checked,
			statements_flagged,
			fact_check_passed,
			score,
			reliability,
			is_trustworthy,
			confidence_level,
			status,
			issues,
			warnings,
			recommendations,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.ResearchID,
		record.FindingID,
		nullString(record.SourceURL),
		record.ReliabilityScore,
		record.ReliabilityRating,
		record.IsFresh,
		record.AgeDays,
		record.FreshnessThresholdDays,
		floatPtrValue(record.AgreementPercentage),
		record.MatchingCount,
		record.ContradictingCount,
		nullString(record.ConsensusValue),
		record.StatementsChecked,
		record.StatementsFlagged,
		record.FactCheckPassed,
		record.Score,
		record.Reliability,
		record.IsTrustworthy,
		record.ConfidenceLevel,
		record.Status,
		issues,
		warnings,
		recommendations,
		parseTimestampValue(record.CreatedAt),
	)
	return err
}

func (p *PostgresStore) ListVerificationRecords(ctx context.Context, researchID string) ([]store.VerificationRecord, error) {
	const query = `
		SELECT id,
			research_id,
			finding_id,
			source_url,
			reliability_score,
			reliability_rating,
			is_fresh,
			age_days,
			freshness_threshold_days,
			agreement_percentage,
			matching_count,
			contradicting_count,
			consensus_value,
			statements_checked,
			statements_flagged,
			fact_check_passed,
			score,
			reliability,
			is_trustworthy,
			confidence_level,
			status,
			issues,
			warnings,
			recommendations,
			created_at
		FROM verification_records
		WHERE research_id = $1
		ORDER BY position ASC
	`
	rows, err := p.db.QueryContext(ctx, query, researchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.VerificationRecord{}
	for rows.Next() {
		var sourceURL sql.NullString
		var agreement sql.NullFloat64
		var consensus sql.NullString
		var issues, warnings, recommendations []byte
		var createdAt time.Time
		record := store.VerificationRecord{}
		if err := rows.Scan(
			&record.ID,
			&record.ResearchID,
			&record.FindingID,
			&sourceURL,
			&record.ReliabilityScore,
			&record.ReliabilityRating,
			&record.IsFresh,
			&record.AgeDays,
			&record.FreshnessThresholdDays,
			&agreement,
			&record.MatchingCount,
			&record.ContradictingCount,
			&consensus,
			&record.StatementsChecked,
			&record.StatementsFlagged,
			&record.FactCheckPassed,
			&record.Score,
			&record.Reliability,
			&record.IsTrustworthy,
			&record.ConfidenceLevel,
			&record.Status,
			&issues,
			&warnings,
			&recommendations,
			&createdAt,
		); err != nil {
			return nil, err
		}
		record.SourceURL = sourceURL.String
		if agreement.Valid {
			value := agreement.Float64
			record.AgreementPercentage = &value
		}
		record.ConsensusValue = consensus.String
		record.Issues = decodeStringSlice(issues)
		record.Warnings = decodeStringSlice(warnings)
		record.Recommendations = decodeStringSlice(recommendations)
		record.CreatedAt = formatTimestamp(createdAt)
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) ListTrustedSources(ctx context.Context) ([]store.TrustedSource, error) {
	const query = `
		SELECT domain, name, trust_score, category, is_official, created_at
		FROM trusted_sources
		ORDER BY domain ASC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.TrustedSource{}
	for rows.Next() {
		source, err := scanTrustedSource(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, source)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanTrustedSource(row rowScanner) (store.TrustedSource, error) {
	var createdAt time.Time
	source := store.TrustedSource{}
	if err := row.Scan(&source.Domain, &source.Name, &source.TrustScore, &source.Category, &source.IsOfficial, &createdAt); err != nil {
		return store.TrustedSource{}, err
	}
	source.CreatedAt = formatTimestamp(createdAt)
	return source, nil
}

func (p *PostgresStore) GetTrustedSource(ctx context.Context, domain string) (*store.TrustedSource, error) {
	const query = `
		SELECT domain, name, trust_score, category, is_official, created_at
		FROM trusted_sources
		WHERE domain = $1
	`
	source, err := scanTrustedSource(p.db.QueryRowContext(ctx, query, normalizeDomain(domain)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &source, nil
}

func (p *PostgresStore) UpsertTrustedSource(ctx context.Context, source store.TrustedSource) error {
	const query = `
		INSERT INTO trusted_sources (domain, name, trust_score, category, is_official, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (domain)
		DO UPDATE SET name = EXCLUDED.name,
			trust_score = EXCLUDED.trust_score,
			category = EXCLUDED.category,
			is_official = EXCLUDED.is_official
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		normalizeDomain(source.Domain),
		source.Name,
		source.TrustScore,
		source.Category,
		source.IsOfficial,
		parseTimestampValue(source.CreatedAt),
	)
	return err
}

func (p *PostgresStore) ListBlockedSources(ctx context.Context) ([]store.BlockedSource, error) {
	const query = `SELECT domain, reason, created_at FROM blocked_sources ORDER BY domain ASC`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.BlockedSource{}
	for rows.Next() {
		var createdAt time.Time
		source := store.BlockedSource{}
		if err := rows.Scan(&source.Domain, &source.Reason, &createdAt); err != nil {
			return nil, err
		}
		source.CreatedAt = formatTimestamp(createdAt)
		results = append(results, source)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) GetBlockedSource(ctx context.Context, domain string) (*store.BlockedSource, error) {
	const query = `SELECT domain, reason, created_at FROM blocked_sources WHERE domain = $1`
	var createdAt time.Time
	source := store.BlockedSource{}
	if err := p.db.QueryRowContext(ctx, query, normalizeDomain(domain)).Scan(&source.Domain, &source.Reason, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	source.CreatedAt = formatTimestamp(createdAt)
	return &source, nil
}

func (p *PostgresStore) UpsertBlockedSource(ctx context.Context, source store.BlockedSource) error {
	const query = `
		INSERT INTO blocked_sources (domain, reason, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (domain)
		DO UPDATE SET reason = EXCLUDED.reason
	`
	_, err := p.db.ExecContext(ctx, query, normalizeDomain(source.Domain), source.Reason, parseTimestampValue(source.CreatedAt))
	return err
}

func (p *PostgresStore) RecordSourceFetch(ctx context.Context, domain string, success bool, at string) error {
	timestamp := parseTimestampValue(at)
	var query string
	if success {
		query = `
			INSERT INTO source_stats (domain, success_count, failure_count, last_success_at)
			VALUES ($1, 1, 0, $2)
			ON CONFLICT (domain)
			DO UPDATE SET success_count = source_stats.success_count + 1, last_success_at = EXCLUDED.last_success_at
		`
	} else {
		query = `
			INSERT INTO source_stats (domain, success_count, failure_count, last_failure_at)
			VALUES ($1, 0, 1, $2)
			ON CONFLICT (domain)
			DO UPDATE SET failure_count = source_stats.failure_count + 1, last_failure_at = EXCLUDED.last_failure_at
		`
	}
	_, err := p.db.ExecContext(ctx, query, normalizeDomain(domain), timestamp)
	return err
}

func (p *PostgresStore) GetSourceStats(ctx context.Context, domain string) (*store.SourceStats, error) {
	const query = `
		SELECT domain, success_count, failure_count, last_success_at, last_failure_at
		FROM source_stats
		WHERE domain = $1
	`
	var lastSuccess sql.NullTime
	var lastFailure sql.NullTime
	stats := store.SourceStats{}
	if err := p.db.QueryRowContext(ctx, query, normalizeDomain(domain)).Scan(
		&stats.Domain,
		&stats.SuccessCount,
		&stats.FailureCount,
		&lastSuccess,
		&lastFailure,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if lastSuccess.Valid {
		stats.LastSuccessAt = formatTimestamp(lastSuccess.Time)
	}
	if lastFailure.Valid {
		stats.LastFailureAt = formatTimestamp(lastFailure.Time)
	}
	return &stats, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event events.Event) error {
	event.Type = events.NormalizeType(event.Type)
	state, err := encodeJSONNull(event.State)
	if err != nil {
		return err
	}
	results, err := encodeJSONNull(event.Results)
	if err != nil {
		return err
	}
	timestamp := event.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	const query = `
		INSERT INTO research_events (research_id, seq, type, timestamp, message, state, results, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		event.ResearchID,
		event.Seq,
		event.Type,
		parseTimestampValue(timestamp),
		nullString(event.Message),
		state,
		results,
		nullString(event.Error),
	)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, researchID string, afterSeq int64) ([]events.Event, error) {
	const query = `
		SELECT research_id, seq, type, timestamp, message, state, results, error
		FROM research_events
		WHERE research_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, researchID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []events.Event{}
	for rows.Next() {
		var timestamp time.Time
		var message sql.NullString
		var stateBytes []byte
		var resultsBytes []byte
		var eventErr sql.NullString
		event := events.Event{}
		if err := rows.Scan(&event.ResearchID, &event.Seq, &event.Type, &timestamp, &message, &stateBytes, &resultsBytes, &eventErr); err != nil {
			return nil, err
		}
		event.Timestamp = formatTimestamp(timestamp)
		event.Message = message.String
		event.Error = eventErr.String
		if len(stateBytes) > 0 {
			state := &events.State{}
			if err := json.Unmarshal(stateBytes, state); err != nil {
				return nil, err
			}
			event.State = state
		}
		if len(resultsBytes) > 0 {
			decoded := &events.Results{}
			if err := json.Unmarshal(resultsBytes, decoded); err != nil {
				return nil, err
			}
			event.Results = decoded
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, researchID string) (int64, error) {
	const query = `
		INSERT INTO research_event_sequences (research_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (research_id)
		DO UPDATE SET last_seq = research_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, researchID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func formatTimestamp(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func parseTimestampNull(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return parsed.UTC()
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

func floatPtrValue(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func normalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
}

// encodeJSONNull marshals value, mapping nil pointers to SQL NULL.
func encodeJSONNull[T any](value *T) (any, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

func encodeStringSlice(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func decodeStringSlice(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	values := []string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func decodeJSONMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}
