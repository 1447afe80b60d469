package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/elonfeng/streamrank/pkg/trend"
)

type updateWeightsRequest struct {
	Weights   map[string]float64 `json:"weights" validate:"required,min=1"`
	Reason    string             `json:"reason" validate:"max=500"`
	UpdatedBy string             `json:"updatedBy" validate:"max=128"`
}

type updateThresholdsRequest struct {
	Thresholds trend.ThresholdsPatch `json:"thresholds"`
	Reason     string                `json:"reason" validate:"max=500"`
	UpdatedBy  string                `json:"updatedBy" validate:"max=128"`
}

func (s *Server) handleTopTrending(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.TopTrending(r.Context(), queryInt(r, "limit", 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"count": len(items),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.ActiveConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateWeights(w http.ResponseWriter, r *http.Request) {
	var req updateWeightsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	weights, err := trend.ParseWeights(req.Weights)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.store.SaveWeights(r.Context(), weights, req.Reason, actor(req.UpdatedBy))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info().Str("updated_by", cfg.UpdatedBy).Interface("weights", cfg.Weights).Msg("trending weights updated")
	writeData(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req updateThresholdsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	current, err := s.engine.ActiveConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	next, err := req.Thresholds.Apply(current.Thresholds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.store.SaveThresholds(r.Context(), next, req.Reason, actor(req.UpdatedBy))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info().Str("updated_by", cfg.UpdatedBy).Interface("thresholds", cfg.Thresholds).Msg("trending thresholds updated")
	writeData(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.History(r.Context(), queryInt(r, "limit", 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"count": len(entries),
	})
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	calc, err := s.engine.Recompute(r.Context(), chi.URLParam(r, "contentId"))
	if errors.Is(err, trend.ErrContentNotFound) {
		writeError(w, http.StatusNotFound, "content not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, calc)
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	var opts trend.BatchOptions
	if err := decodeBody(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.engine.RunBatch(r.Context(), opts)
	if err != nil {
		resp := map[string]any{"error": err.Error()}
		if report != nil {
			resp["data"] = report
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeData(w, http.StatusOK, report)
}

func actor(updatedBy string) string {
	if updatedBy == "" {
		return "api"
	}
	return updatedBy
}
