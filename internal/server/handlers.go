package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"cinefetch/internal/httputil"
	"cinefetch/internal/media"
	"cinefetch/internal/resolve"
)

// APIResponse is the envelope of every JSON answer.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// failure is the body of a resolution that exhausted every source.
type failure struct {
	Statuses []media.AttemptStatus `json:"statuses"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.public})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	providers, err := s.registry.Populate(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "loading source catalog", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: providers})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	mt, err := media.ParseMediaType(r.URL.Query().Get("type"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid media type", err)
		return
	}

	providers, err := s.registry.Populate(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "loading source catalog", err)
		return
	}

	ids, err := s.engine.Plan(providers, media.MediaDescriptor{Type: mt})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "computing order", err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: ids})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	m, err := mediaFromQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid media", err)
		return
	}

	providers, err := s.registry.Populate(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "loading source catalog", err)
		return
	}

	res, err := s.engine.NewSession().ResolveFor(r.Context(), m, providers, nil)
	var failed *resolve.FailedError
	switch {
	case errors.As(err, &failed):
		s.writeJSON(w, http.StatusNotFound, APIResponse{
			Error: err.Error(),
			Data:  failure{Statuses: failed.Statuses},
		})
	case errors.Is(err, resolve.ErrCancelled):
		// client went away
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "resolving stream", err)
	default:
		s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: res})
	}
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.engine.Cache().Clear()
	w.WriteHeader(http.StatusNoContent)
}

// mediaFromQuery reads type, tmdb, season, episode, seasonId and episodeId.
func mediaFromQuery(q url.Values) (media.MediaDescriptor, error) {
	mt, err := media.ParseMediaType(q.Get("type"))
	if err != nil {
		return media.MediaDescriptor{}, err
	}

	m := media.MediaDescriptor{Type: mt, TMDBID: q.Get("tmdb")}
	if mt == media.Show {
		season, err := strconv.Atoi(q.Get("season"))
		if err != nil {
			return media.MediaDescriptor{}, fmt.Errorf("season: %w", err)
		}
		episode, err := strconv.Atoi(q.Get("episode"))
		if err != nil {
			return media.MediaDescriptor{}, fmt.Errorf("episode: %w", err)
		}
		m = media.NewEpisode(m.TMDBID,
			media.Ref{Number: season, TMDBID: q.Get("seasonId")},
			media.Ref{Number: episode, TMDBID: q.Get("episodeId")},
		)
	}

	if err := m.Validate(); err != nil {
		return media.MediaDescriptor{}, err
	}
	if err := httputil.ValidateNumericID(m.TMDBID); err != nil {
		return media.MediaDescriptor{}, fmt.Errorf("tmdb: %w", err)
	}
	return m, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string, err error) {
	s.logger.WithError(err).WithField("status", status).Debug(msg)
	s.writeJSON(w, status, APIResponse{Error: fmt.Sprintf("%s: %v", msg, err)})
}
