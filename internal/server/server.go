package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/resolver"
	"github.com/varoOP/shinkrometa/internal/trending"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	log      zerolog.Logger
	resolver resolver.Service
	trending trending.Service
	db       Pinger
	srv      *http.Server
}

func NewServer(log zerolog.Logger, host string, port int, resolverSvc resolver.Service, trendingSvc trending.Service, db Pinger) *Server {
	s := &Server{
		log:      log.With().Str("module", "http").Logger(),
		resolver: resolverSvc,
		trending: trendingSvc,
		db:       db,
	}

	s.srv = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID, s.accessLog, s.recoverer)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/movie/{id}", s.movie).Methods(http.MethodGet)
	api.HandleFunc("/tv/{id}", s.series).Methods(http.MethodGet)
	api.HandleFunc("/tv/{id}/season/{season}", s.season).Methods(http.MethodGet)
	api.HandleFunc("/anime/{id}", s.anime).Methods(http.MethodGet)
	api.HandleFunc("/anime/{id}/images/{type}", s.animeImages).Methods(http.MethodGet)
	api.HandleFunc("/anime/{id}/episodes/{start}/{end}", s.animeEpisodes).Methods(http.MethodGet)
	api.HandleFunc("/anime/{id}/relations", s.animeRelations).Methods(http.MethodGet)
	api.HandleFunc("/anime/{id}/chain", s.animeChain).Methods(http.MethodGet)
	api.HandleFunc("/poster/{type}/{id}", s.poster).Methods(http.MethodGet)
	api.HandleFunc("/search/{query}", s.search).Methods(http.MethodGet)
	api.HandleFunc("/trending", s.currentTrending).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// Open listens until Shutdown is called.
func (s *Server) Open() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting http server")

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
