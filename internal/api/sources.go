package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
)

type trustedSourceRequest struct {
	Domain     string  `json:"domain"`
	Name       string  `json:"name"`
	TrustScore float64 `json:"trust_score"`
	Category   string  `json:"category"`
	IsOfficial bool    `json:"is_official"`
}

type trustedSourceResponse struct {
	Domain     string  `json:"domain"`
	Name       string  `json:"name"`
	TrustScore float64 `json:"trust_score"`
	Category   string  `json:"category"`
	IsOfficial bool    `json:"is_official"`
	CreatedAt  string  `json:"created_at"`
}

type blockedSourceRequest struct {
	Domain string `json:"domain"`
	Reason string `json:"reason"`
}

type blockedSourceResponse struct {
	Domain    string `json:"domain"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

type listToolsResponse struct {
	Tools []tools.Descriptor `json:"tools"`
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	response := listToolsResponse{Tools: []tools.Descriptor{}}
	if s.tools != nil {
		response.Tools = append(response.Tools, s.tools.Schemas()...)
	}
	writeJSON(w, response)
}

func (s *Server) listTrustedSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListTrustedSources(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]trustedSourceResponse, 0, len(sources))
	for _, source := range sources {
		response = append(response, toTrustedSourceResponse(source))
	}
	writeJSON(w, map[string]any{"sources": response})
}

func (s *Server) upsertTrustedSource(w http.ResponseWriter, r *http.Request) {
	var req trustedSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	domain := normalizeDomain(req.Domain)
	if domain == "" {
		http.Error(w, "domain required", http.StatusBadRequest)
		return
	}
	if req.TrustScore < 0 || req.TrustScore > 1 {
		http.Error(w, "trust_score must be between 0 and 1", http.StatusBadRequest)
		return
	}
	source := store.TrustedSource{
		Domain:     domain,
		Name:       strings.TrimSpace(req.Name),
		TrustScore: req.TrustScore,
		Category:   strings.TrimSpace(req.Category),
		IsOfficial: req.IsOfficial,
		CreatedAt:  s.timestamp(),
	}
	if err := s.store.UpsertTrustedSource(r.Context(), source); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, toTrustedSourceResponse(source))
}

func (s *Server) listBlockedSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListBlockedSources(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]blockedSourceResponse, 0, len(sources))
	for _, source := range sources {
		response = append(response, blockedSourceResponse{Domain: source.Domain, Reason: source.Reason, CreatedAt: source.CreatedAt})
	}
	writeJSON(w, map[string]any{"sources": response})
}

func (s *Server) upsertBlockedSource(w http.ResponseWriter, r *http.Request) {
	var req blockedSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	domain := normalizeDomain(req.Domain)
	if domain == "" {
		http.Error(w, "domain required", http.StatusBadRequest)
		return
	}
	source := store.BlockedSource{
		Domain:    domain,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedAt: s.timestamp(),
	}
	if err := s.store.UpsertBlockedSource(r.Context(), source); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, blockedSourceResponse{Domain: source.Domain, Reason: source.Reason, CreatedAt: source.CreatedAt})
}

func toTrustedSourceResponse(source store.TrustedSource) trustedSourceResponse {
	return trustedSourceResponse{
		Domain:     source.Domain,
		Name:       source.Name,
		TrustScore: source.TrustScore,
		Category:   source.Category,
		IsOfficial: source.IsOfficial,
		CreatedAt:  source.CreatedAt,
	}
}

func normalizeDomain(domain string) string {
	value := strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(value, "www.")
}
