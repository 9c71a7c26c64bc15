package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/konard/RDmitryV-Trial-RDV/internal/agent"
	"github.com/konard/RDmitryV-Trial-RDV/internal/analysis"
	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

var newResearchID = uuid.NewString

const defaultResearchType = "market"

type researchResponse struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	ProductDescription string       `json:"product_description"`
	Industry           string       `json:"industry"`
	Region             string       `json:"region"`
	ResearchType       string       `json:"research_type"`
	Status             string       `json:"status"`
	CreatedAt          string       `json:"created_at"`
	UpdatedAt          string       `json:"updated_at"`
	RunID              string       `json:"run_id,omitempty"`
	LatestRun          *runResponse `json:"latest_run,omitempty"`
}

type runResponse struct {
	ID            string        `json:"id"`
	Status        string        `json:"status"`
	StepsTaken    int           `json:"steps_taken"`
	FindingsCount int           `json:"findings_count"`
	Report        string        `json:"report,omitempty"`
	Error         string        `json:"error,omitempty"`
	FinalState    *events.State `json:"final_state,omitempty"`
	StartedAt     string        `json:"started_at"`
	CompletedAt   string        `json:"completed_at,omitempty"`
}

type listResearchesResponse struct {
	Researches []researchResponse `json:"researches"`
}

type findingResponse struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	Step       int            `json:"step"`
	Category   string         `json:"category"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	SourceURL  string         `json:"source_url,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

type listFindingsResponse struct {
	Findings []findingResponse `json:"findings"`
}

type verificationResponse struct {
	ID                     string   `json:"id"`
	FindingID              string   `json:"finding_id"`
	SourceURL              string   `json:"source_url,omitempty"`
	ReliabilityScore       float64  `json:"reliability_score"`
	ReliabilityRating      string   `json:"reliability_rating"`
	IsFresh                bool     `json:"is_fresh"`
	AgeDays                int      `json:"age_days"`
	FreshnessThresholdDays int      `json:"freshness_threshold_days"`
	AgreementPercentage    *float64 `json:"agreement_percentage"`
	MatchingCount          int      `json:"matching_count"`
	ContradictingCount     int      `json:"contradicting_count"`
	ConsensusValue         string   `json:"consensus_value,omitempty"`
	StatementsChecked      int      `json:"statements_checked"`
	StatementsFlagged      int      `json:"statements_flagged"`
	FactCheckPassed        bool     `json:"fact_check_passed"`
	Score                  float64  `json:"score"`
	Reliability            string   `json:"reliability"`
	IsTrustworthy          bool     `json:"is_trustworthy"`
	ConfidenceLevel        string   `json:"confidence_level"`
	Status                 string   `json:"status"`
	Issues                 []string `json:"issues"`
	Warnings               []string `json:"warnings"`
	Recommendations        []string `json:"recommendations"`
	CreatedAt              string   `json:"created_at"`
}

type listVerificationsResponse struct {
	Verifications []verificationResponse `json:"verifications"`
}

type createResearchRequest struct {
	Title              string `json:"title"`
	ProductDescription string `json:"product_description"`
	Industry           string `json:"industry"`
	Region             string `json:"region"`
	ResearchType       string `json:"research_type"`
}

func (s *Server) createResearch(w http.ResponseWriter, r *http.Request) {
	var req createResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	title := strings.TrimSpace(req.Title)
	industry := strings.TrimSpace(req.Industry)
	if title == "" || industry == "" {
		http.Error(w, "title and industry required", http.StatusBadRequest)
		return
	}
	researchType := strings.TrimSpace(req.ResearchType)
	if researchType == "" {
		researchType = defaultResearchType
	}
	now := s.timestamp()
	research := store.Research{
		ID:                 newResearchID(),
		Title:              title,
		ProductDescription: strings.TrimSpace(req.ProductDescription),
		Industry:           industry,
		Region:             strings.TrimSpace(req.Region),
		ResearchType:       researchType,
		Status:             store.ResearchCreated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreateResearch(r.Context(), research); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info().Str("research_id", research.ID).Str("industry", research.Industry).Msg("research_created")
	writeJSONStatus(w, toResearchResponse(research), http.StatusCreated)
}

func (s *Server) listResearches(w http.ResponseWriter, r *http.Request) {
	researches, err := s.store.ListResearches(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := listResearchesResponse{Researches: make([]researchResponse, 0, len(researches))}
	for _, research := range researches {
		response.Researches = append(response.Researches, toResearchResponse(research))
	}
	writeJSON(w, response)
}

func (s *Server) getResearch(w http.ResponseWriter, r *http.Request) {
	research, ok := s.lookupResearch(w, r)
	if !ok {
		return
	}
	response := toResearchResponse(*research)
	run, err := s.store.GetLatestAgentRun(r.Context(), research.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run != nil {
		response.LatestRun = toRunResponse(*run)
	}
	writeJSON(w, response)
}

func (s *Server) runAgent(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		http.Error(w, "agent runner unavailable", http.StatusServiceUnavailable)
		return
	}
	researchID := chi.URLParam(r, "id")
	runID, err := s.runner.Start(r.Context(), researchID)
	switch {
	case errors.Is(err, agent.ErrResearchNotFound):
		http.Error(w, "research not found", http.StatusNotFound)
		return
	case errors.Is(err, agent.ErrAlreadyRunning):
		http.Error(w, "research already running", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	research, err := s.store.GetResearch(r.Context(), researchID)
	if err != nil || research == nil {
		writeJSONStatus(w, researchResponse{ID: researchID, Status: store.ResearchRunning, RunID: runID}, http.StatusAccepted)
		return
	}
	response := toResearchResponse(*research)
	response.RunID = runID
	writeJSONStatus(w, response, http.StatusAccepted)
}

func (s *Server) cancelResearch(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		http.Error(w, "agent runner unavailable", http.StatusServiceUnavailable)
		return
	}
	research, ok := s.lookupResearch(w, r)
	if !ok {
		return
	}
	err := s.runner.Cancel(r.Context(), research.ID)
	if errors.Is(err, agent.ErrNoActiveRun) {
		http.Error(w, "no active run", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info().Str("research_id", research.ID).Msg("research_cancel_requested")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listFindings(w http.ResponseWriter, r *http.Request) {
	research, ok := s.lookupResearch(w, r)
	if !ok {
		return
	}
	findings, err := s.store.ListFindings(r.Context(), research.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := listFindingsResponse{Findings: make([]findingResponse, 0, len(findings))}
	for _, finding := range findings {
		response.Findings = append(response.Findings, findingResponse{
			ID:         finding.ID,
			RunID:      finding.RunID,
			Step:       finding.Step,
			Category:   finding.Category,
			Title:      finding.Title,
			Content:    finding.Content,
			SourceURL:  finding.SourceURL,
			Confidence: finding.Confidence,
			Metadata:   finding.Metadata,
			CreatedAt:  finding.CreatedAt,
		})
	}
	writeJSON(w, response)
}

func (s *Server) verifyResearch(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		http.Error(w, "verification unavailable", http.StatusServiceUnavailable)
		return
	}
	research, ok := s.lookupResearch(w, r)
	if !ok {
		return
	}
	records, err := s.verifier.VerifyResearch(r.Context(), research.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, toVerificationsResponse(records))
}

func (s *Server) listVerifications(w http.ResponseWriter, r *http.Request) {
	research, ok := s.lookupResearch(w, r)
	if !ok {
		return
	}
	records, err := s.store.ListVerificationRecords(r.Context(), research.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, toVerificationsResponse(records))
}

func (s *Server) analyzeResearch(w http.ResponseWriter, r *http.Request) {
	report, err := s.analyzer.Analyze(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, analysis.ErrResearchNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

// lookupResearch replies 404 itself when the research does not exist.
func (s *Server) lookupResearch(w http.ResponseWriter, r *http.Request) (*store.Research, bool) {
	return s.findResearch(r.Context(), w, chi.URLParam(r, "id"))
}

func (s *Server) findResearch(ctx context.Context, w http.ResponseWriter, researchID string) (*store.Research, bool) {
	research, err := s.store.GetResearch(ctx, researchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if research == nil {
		http.Error(w, "research not found", http.StatusNotFound)
		return nil, false
	}
	return research, true
}

func toResearchResponse(research store.Research) researchResponse {
	return researchResponse{
		ID:                 research.ID,
		Title:              research.Title,
		ProductDescription: research.ProductDescription,
		Industry:           research.Industry,
		Region:             research.Region,
		ResearchType:       research.ResearchType,
		Status:             research.Status,
		CreatedAt:          research.CreatedAt,
		UpdatedAt:          research.UpdatedAt,
	}
}

func toRunResponse(run store.AgentRun) *runResponse {
	return &runResponse{
		ID:            run.ID,
		Status:        run.Status,
		StepsTaken:    run.StepsTaken,
		FindingsCount: run.FindingsCount,
		Report:        run.Report,
		Error:         run.Error,
		FinalState:    run.FinalState,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
	}
}

func toVerificationsResponse(records []store.VerificationRecord) listVerificationsResponse {
	response := listVerificationsResponse{Verifications: make([]verificationResponse, 0, len(records))}
	for _, record := range records {
		response.Verifications = append(response.Verifications, verificationResponse{
			ID:                     record.ID,
			FindingID:              record.FindingID,
			SourceURL:              record.SourceURL,
			ReliabilityScore:       record.ReliabilityScore,
			ReliabilityRating:      record.ReliabilityRating,
			IsFresh:                record.IsFresh,
			AgeDays:                record.AgeDays,
			FreshnessThresholdDays: record.FreshnessThresholdDays,
			AgreementPercentage:    record.AgreementPercentage,
			MatchingCount:          record.MatchingCount,
			ContradictingCount:     record.ContradictingCount,
			ConsensusValue:         record.ConsensusValue,
			StatementsChecked:      record.StatementsChecked,
			StatementsFlagged:      record.StatementsFlagged,
			FactCheckPassed:        record.FactCheckPassed,
			Score:                  record.Score,
			Reliability:            record.Reliability,
			IsTrustworthy:          record.IsTrustworthy,
			ConfidenceLevel:        record.ConfidenceLevel,
			Status:                 record.Status,
			Issues:                 nonNilStrings(record.Issues),
			Warnings:               nonNilStrings(record.Warnings),
			Recommendations:        nonNilStrings(record.Recommendations),
			CreatedAt:              record.CreatedAt,
		})
	}
	return response
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
