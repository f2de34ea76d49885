package classifier

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/pkg/animelist"
)

// Service decides whether a title is anime from data already on hand. It never
// calls an upstream provider. When neither the identifier map nor a fresh
// snapshot knows the title it answers false.
type Service interface {
	IsAnime(ctx context.Context, tvdbID int) bool
	IsAnimeMovie(ctx context.Context, tmdbID int) bool
}

type service struct {
	log      zerolog.Logger
	repo     domain.IdentifierRepo
	snapshot *animelist.Holder
	maxAge   time.Duration
	now      func() time.Time
}

// NewService builds a classifier. maxAge of zero disables the staleness check.
func NewService(log zerolog.Logger, repo domain.IdentifierRepo, snapshot *animelist.Holder, maxAge time.Duration) Service {
	return &service{
		log:      log.With().Str("module", "classifier").Logger(),
		repo:     repo,
		snapshot: snapshot,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

func (s *service) IsAnime(ctx context.Context, tvdbID int) bool {
	if tvdbID <= 0 {
		return false
	}

	if s.knownAnime(ctx, domain.IDKindTVDB, tvdbID) {
		return true
	}

	snap := s.freshSnapshot()
	if snap == nil {
		s.log.Debug().Int("tvdb_id", tvdbID).Msg("no usable anime list, classifying as not anime")
		return false
	}

	return snap.HasTvdb(tvdbID)
}

func (s *service) IsAnimeMovie(ctx context.Context, tmdbID int) bool {
	if tmdbID <= 0 {
		return false
	}

	if s.knownAnime(ctx, domain.IDKindTMDBMovie, tmdbID) {
		return true
	}

	snap := s.freshSnapshot()
	if snap == nil {
		s.log.Debug().Int("tmdb_id", tmdbID).Msg("no usable anime list, classifying as not anime")
		return false
	}

	return snap.HasTmdbMovie(tmdbID)
}

func (s *service) knownAnime(ctx context.Context, kind domain.IDKind, id int) bool {
	records, err := s.repo.FindBy(ctx, kind, strconv.Itoa(id))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Debug().Err(err).Str("kind", string(kind)).Int("id", id).Msg("identifier lookup failed, falling back to anime list")
		}
		return false
	}

	for _, rec := range records {
		if rec.IsAnime() {
			return true
		}
	}

	return false
}

func (s *service) freshSnapshot() *animelist.Snapshot {
	if s.snapshot == nil {
		return nil
	}

	snap := s.snapshot.Current()
	if snap == nil {
		return nil
	}

	if s.maxAge > 0 && s.now().Sub(snap.LoadedAt) > s.maxAge {
		s.log.Debug().Time("loaded_at", snap.LoadedAt).Msg("anime list is stale")
		return nil
	}

	return snap
}
