package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/elonfeng/streamrank/internal/store"
	"github.com/elonfeng/streamrank/pkg/livestream"
	"github.com/elonfeng/streamrank/pkg/provider"
)

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]provider.Public, 0, len(providers))
	for i := range providers {
		out = append(out, providers[i].Public())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  out,
		"count": len(out),
	})
}

func (s *Server) handleBestProvider(w http.ResponseWriter, r *http.Request) {
	features, err := ParseFeatures(r.URL.Query().Get("features"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	providers, err := s.store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	best, fallback := provider.SelectBest(providers, provider.Requirements{Features: features})
	if best == nil {
		writeError(w, http.StatusNotFound, "No available provider found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":     best.Public(),
		"fallback": fallback,
	})
}

func (s *Server) handleHealthCheckAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.checker.CheckAll(r.Context())
	if err != nil && len(outcomes) == 0 {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"data":  outcomes,
		"count": len(outcomes),
	}
	if err != nil {
		resp["errors"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.store.ResetMonthlyUsage(r.Context(), name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info().Str("provider", name).Msg("monthly usage reset")
	writeData(w, http.StatusOK, map[string]any{"provider": name, "usedMinutes": 0})
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	var req livestream.StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stream, err := s.streams.Start(r.Context(), req)
	switch {
	case errors.Is(err, livestream.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, livestream.ErrNoProvider):
		writeError(w, http.StatusServiceUnavailable, "No streaming provider available")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeData(w, http.StatusCreated, stream)
	}
}

func (s *Server) handleEndStream(w http.ResponseWriter, r *http.Request) {
	stream, err := s.streams.End(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, livestream.ErrStreamNotFound):
		writeError(w, http.StatusNotFound, "stream not found")
	case errors.Is(err, livestream.ErrStreamEnded):
		writeError(w, http.StatusConflict, "stream already ended")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeData(w, http.StatusOK, stream)
	}
}

// ParseFeatures reads the features query value: either a JSON object of
// booleans where true marks a required feature, or a JSON array of names.
func ParseFeatures(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, "[") {
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return nil, fmt.Errorf("invalid features: %w", err)
		}
		return names, nil
	}

	var flags map[string]bool
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil, fmt.Errorf("invalid features: %w", err)
	}
	var names []string
	for name, required := range flags {
		if required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
