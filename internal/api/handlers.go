package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bbcompare/internal/adapter"
	"bbcompare/internal/domain"
	"bbcompare/internal/normalize"
)

type compareResponse struct {
	RunID      string                          `json:"run_id"`
	Postcode   string                          `json:"postcode"`
	RankBy     string                          `json:"rank_by"`
	ElapsedMS  int64                           `json:"elapsed_ms"`
	Table      []normalize.ComparisonRow       `json:"table"`
	Unresolved map[string]domain.ScrapeOutcome `json:"unresolved,omitempty"`
	Outcomes   map[string]domain.ScrapeOutcome `json:"outcomes"`
	Events     []domain.StepEvent              `json:"events,omitempty"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req domain.CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rankBy, err := normalize.ParseRankBy(req.RankBy)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.orch.Compare(r.Context(), req)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	table := normalize.BuildTable(report.Outcomes, rankBy)
	s.respondWithJSON(w, http.StatusOK, compareResponse{
		RunID:      report.RunID,
		Postcode:   report.Postcode.String(),
		RankBy:     string(rankBy),
		ElapsedMS:  report.Took.Milliseconds(),
		Table:      table.Rows,
		Unresolved: table.Unresolved,
		Outcomes:   report.Outcomes,
		Events:     report.Events,
	})
}

type providerInfo struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	StartURL string `json:"start_url"`
	Host     string `json:"host"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	all := adapter.All()
	providers := make([]providerInfo, 0, len(all))
	for _, a := range all {
		providers = append(providers, providerInfo{
			Slug:     a.Slug(),
			Name:     a.Name(),
			StartURL: a.StartURL(),
			Host:     a.Host(),
		})
	}
	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"providers": providers})
}

type outcomeRow struct {
	domain.CacheEntry
	Fresh bool `json:"fresh"`
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("postcode")
	if raw == "" {
		s.respondWithError(w, http.StatusBadRequest, "postcode query parameter is required")
		return
	}
	postcode, err := domain.ParsePostcode(raw)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.results.List(r.Context(), postcode.String())
	if err != nil {
		s.logger.Error("failed to list cached outcomes", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not read cached outcomes")
		return
	}

	rows := make([]outcomeRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, outcomeRow{CacheEntry: entry, Fresh: s.results.Fresh(entry)})
	}
	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"postcode": postcode.String(),
		"entries":  rows,
	})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.results.Ping(ctx); err != nil {
		healthStatus["cache"] = "unhealthy"
		s.logger.Error("health check failed for cache store", zap.Error(err))
	} else {
		healthStatus["cache"] = "healthy"
	}

	if len(adapter.Keys()) == 0 {
		healthStatus["providers"] = "none registered"
	} else {
		healthStatus["providers"] = "healthy"
	}

	if healthStatus["cache"] != "healthy" || healthStatus["providers"] != "healthy" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
