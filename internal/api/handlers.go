package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yourusername/edge-scanner/internal/models"
	"github.com/yourusername/edge-scanner/internal/portfolio"
	"github.com/yourusername/edge-scanner/internal/scanner"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// OpportunityList is returned by the opportunity listing endpoint
type OpportunityList struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	Count         int                  `json:"count"`
	Total         int                  `json:"total"`
}

// StatusResponse summarises the scanner for dashboards
type StatusResponse struct {
	State             string                   `json:"state"`
	Strategies        []models.OpportunityType `json:"strategies"`
	LiveOpportunities int                      `json:"liveOpportunities"`
	LastScanID        string                   `json:"lastScanId,omitempty"`
	LastScanAt        *time.Time               `json:"lastScanAt,omitempty"`
}

// ProvidersResponse reports provider health and quota
type ProvidersResponse struct {
	Providers interface{}     `json:"providers"`
	Usage     models.APIUsage `json:"usage"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State:             string(s.cfg.Scanner.State()),
		Strategies:        s.cfg.Scanner.Strategies(),
		LiveOpportunities: len(s.cfg.Store.All()),
	}
	if latest, ok := s.cfg.Scanner.Latest(); ok {
		resp.LastScanID = latest.ID.String()
		started := latest.StartedAt
		resp.LastScanAt = &started
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListOpportunities lists live opportunities ranked by score.
// Query params: type, sport, min_ev, min_confidence, limit
func (s *Server) handleListOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var types []models.OpportunityType
	for _, raw := range splitParam(q.Get("type")) {
		t, err := models.ParseOpportunityType(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		types = append(types, t)
	}
	sports := splitParam(q.Get("sport"))

	minEV, err := parseFloatParam(r, "min_ev", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "min_ev must be a number")
		return
	}
	minConfidence, err := parseFloatParam(r, "min_confidence", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "min_confidence must be a number")
		return
	}
	limit := parseIntParam(r, "limit", 100)

	live := s.cfg.Store.All()
	matched := make([]models.Opportunity, 0, len(live))
	for _, o := range live {
		if len(types) > 0 && !containsType(types, o.Type) {
			continue
		}
		if len(sports) > 0 && !containsString(sports, o.Subject.Category) {
			continue
		}
		if o.ExpectedValue < minEV || o.Confidence < minConfidence {
			continue
		}
		matched = append(matched, o)
	}

	ranked := portfolio.Rank(matched)
	total := len(ranked)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	respondJSON(w, http.StatusOK, OpportunityList{Opportunities: ranked, Count: len(ranked), Total: total})
}

func (s *Server) handleGetOpportunity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opp, ok := s.cfg.Store.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "opportunity not found or expired")
		return
	}
	respondJSON(w, http.StatusOK, opp)
}

func (s *Server) handleOpportunityHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		respondError(w, http.StatusServiceUnavailable, "scan history is not enabled")
		return
	}

	sightings, err := s.cfg.History.Sightings(r.Context(), chi.URLParam(r, "id"), parseIntParam(r, "limit", 50))
	if err != nil {
		s.logger.WithError(err).Error("Failed to load opportunity history")
		respondError(w, http.StatusInternalServerError, "failed to load opportunity history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sightings": sightings, "count": len(sightings)})
}

// handlePortfolio rebuilds the portfolio over the currently live set, so
// opportunities that expired since the last scan are excluded
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.cfg.Optimizer.Optimize(s.cfg.Store.All()))
}

func (s *Server) handleLatestScan(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.cfg.Scanner.Latest()
	if !ok {
		respondError(w, http.StatusNotFound, "no scan has completed yet")
		return
	}
	respondJSON(w, http.StatusOK, latest)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		respondError(w, http.StatusServiceUnavailable, "scan history is not enabled")
		return
	}

	scans, err := s.cfg.History.List(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		s.logger.WithError(err).Error("Failed to list scans")
		respondError(w, http.StatusInternalServerError, "failed to list scans")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"scans": scans, "count": len(scans)})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		respondError(w, http.StatusServiceUnavailable, "scan history is not enabled")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid scan id")
		return
	}

	result, err := s.cfg.History.GetByID(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to load scan")
		respondError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleTriggerScan runs one cycle on demand. The scan outlives a dropped
// client connection since its result is shared with every consumer.
func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.cfg.Scanner.Scan(context.WithoutCancel(r.Context()), "manual")
	if errors.Is(err, scanner.ErrScanInProgress) {
		respondError(w, http.StatusConflict, "a scan is already in progress")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Manual scan failed")
		respondError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Providers == nil {
		respondError(w, http.StatusServiceUnavailable, "no providers configured")
		return
	}
	respondJSON(w, http.StatusOK, ProvidersResponse{
		Providers: s.cfg.Providers.Health(),
		Usage:     s.cfg.Providers.Usage(),
	})
}

func parseIntParam(r *http.Request, param string, defaultValue int) int {
	valueStr := r.URL.Query().Get(param)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func parseFloatParam(r *http.Request, param string, defaultValue float64) (float64, error) {
	valueStr := r.URL.Query().Get(param)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(valueStr, 64)
}

func splitParam(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsType(types []models.OpportunityType, t models.OpportunityType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
