package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) movie(w http.ResponseWriter, r *http.Request) {
	id, ok := intVar(w, r, "id")
	if !ok {
		return
	}
	t, err := s.resolver.Movie(r.Context(), id)
	s.writeTitle(w, r, t, err)
}

func (s *Server) series(w http.ResponseWriter, r *http.Request) {
	id, ok := intVar(w, r, "id")
	if !ok {
		return
	}
	t, err := s.resolver.Series(r.Context(), id)
	s.writeTitle(w, r, t, err)
}

func (s *Server) season(w http.ResponseWriter, r *http.Request) {
	id, ok := intVar(w, r, "id")
	if !ok {
		return
	}
	season, ok := intVar(w, r, "season")
	if !ok {
		return
	}
	t, err := s.resolver.Season(r.Context(), id, season)
	s.writeTitle(w, r, t, err)
}

func (s *Server) anime(w http.ResponseWriter, r *http.Request) {
	id, ok := intVar(w, r, "id")
	if !ok {
		return
	}
	t, err := s.resolver.Anime(r.Context(), id)
	s.writeTitle(w, r, t, err)
}

func (s *Server) poster(w http.ResponseWriter, r *http.Request) {
	id, ok := intVar(w, r, "id")
	if !ok {
		return
	}
	t, err := s.resolver.Poster(r.Context(), mux.Vars(r)["type"], id)
	s.writeTitle(w, r, t, err)
}

func (s *Server) animeImages(w http.ResponseWriter, r *http.Request) {
	id, ok := intVar(w, r, "id")
	if !ok {
		return
	}
	t, err := s.resolver.AnimeImages(r.Context(), id, mux.Vars(r)["type"])
	s.writeTitle(w, r, t, err)
}

func (s *Server) animeEpisodes(w http.ResponseWriter, r *http.Request) {
	id, ok := intVar(w, r, "id")
	if !ok {
		return
	}
	vars := mux.Vars(r)
	t, err := s.resolver.AnimeEpisodes(r.Context(), id, vars["start"], vars["end"])
	s.writeTitle(w, r, t, err)
}

func (s *Server) animeRelations(w http.ResponseWriter, r *http.Request) {
	id, ok := intVar(w, r, "id")
	if !ok {
		return
	}
	t, err := s.resolver.AnimeRelations(r.Context(), id)
	s.writeTitle(w, r, t, err)
}

func (s *Server) animeChain(w http.ResponseWriter, r *http.Request) {
	id, ok := intVar(w, r, "id")
	if !ok {
		return
	}
	t, err := s.resolver.AnimeChain(r.Context(), id)
	s.writeTitle(w, r, t, err)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	t, err := s.resolver.Search(r.Context(), mux.Vars(r)["query"])
	s.writeTitle(w, r, t, err)
}

func (s *Server) currentTrending(w http.ResponseWriter, r *http.Request) {
	snap, err := s.trending.GetCurrent()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
		writeMessage(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func intVar(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := mux.Vars(r)[name]
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeMessage(w, http.StatusBadRequest, "invalid "+name+": "+raw)
		return 0, false
	}
	return v, true
}

// writeTitle writes the cached payload as is.
func (s *Server) writeTitle(w http.ResponseWriter, r *http.Request, t *domain.ResolvedTitle, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(t.Payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusOf(err)

	log := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}

	writeMessage(w, status, message)
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrIsAnime):
		return http.StatusForbidden, err.Error() + ", use the anime endpoints"
	case errors.Is(err, domain.ErrNotAvailable):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusInternalServerError, domain.ErrUpstream.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
