package identmap

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/internal/tmdb"
	"github.com/varoOP/shinkrometa/pkg/animelist"
)

type Service interface {
	Resolve(ctx context.Context, kind domain.IDKind, id string) (*domain.IdentifierRecord, error)
	Upsert(ctx context.Context, rec domain.IdentifierRecord) (*domain.IdentifierRecord, error)
	Discover(ctx context.Context, rec domain.IdentifierRecord, hint domain.TMDBType) (*domain.IdentifierRecord, error)
	List(ctx context.Context) ([]domain.IdentifierRecord, error)
}

// Finder is the subset of the TMDB client used for discovery.
type Finder interface {
	Find(ctx context.Context, source tmdb.ExternalSource, externalID string) (*tmdb.FindResult, error)
	ExternalIDs(ctx context.Context, mediaType domain.TMDBType, id int) (*tmdb.ExternalIDs, error)
}

// AniDBLinker maps a MAL id to an AniDB id.
type AniDBLinker interface {
	AniDBID(ctx context.Context, malID int) (int, error)
}

type service struct {
	log      zerolog.Logger
	repo     domain.IdentifierRepo
	finder   Finder
	linker   AniDBLinker
	snapshot *animelist.Holder
}

func NewService(log zerolog.Logger, repo domain.IdentifierRepo, finder Finder, linker AniDBLinker, snapshot *animelist.Holder) Service {
	return &service{
		log:      log.With().Str("module", "identmap").Logger(),
		repo:     repo,
		finder:   finder,
		linker:   linker,
		snapshot: snapshot,
	}
}

func (s *service) Resolve(ctx context.Context, kind domain.IDKind, id string) (*domain.IdentifierRecord, error) {
	records, err := s.repo.FindBy(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return &records[0], nil
}

func (s *service) List(ctx context.Context) ([]domain.IdentifierRecord, error) {
	return s.repo.List(ctx)
}

// Upsert merges rec into the stored record sharing its key. Conflicting
// values are overwritten and reported as data quality warnings.
func (s *service) Upsert(ctx context.Context, rec domain.IdentifierRecord) (*domain.IdentifierRecord, error) {
	res, err := s.repo.Upsert(ctx, rec)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert identifier record")
	}

	for _, c := range res.Conflicts {
		s.log.Warn().
			Str("field", c.Field).
			Str("existing", c.Existing).
			Str("incoming", c.Incoming).
			Int("mal_id", rec.MalID).
			Msg("identifier conflict, keeping newer value")
	}

	if len(res.Records) == 0 {
		return &rec, nil
	}
	return &res.Records[0], nil
}

// Discover stores rec and then tries to fill in the identifiers it lacks:
// MAL to AniDB through the MAL page, AniDB through the anime list snapshot,
// TVDB or IMDb to TMDB through the find endpoint and TMDB series to TVDB
// through external ids. Every lookup is best effort; a record that stays
// partial is not an error.
func (s *service) Discover(ctx context.Context, partial domain.IdentifierRecord, hint domain.TMDBType) (*domain.IdentifierRecord, error) {
	stored, err := s.Upsert(ctx, partial)
	if err != nil {
		return nil, err
	}

	rec := *stored
	before := rec

	if rec.MalID != 0 && rec.AnidbID == 0 && rec.TvdbID == 0 && rec.TmdbID == 0 && s.linker != nil {
		aid, err := s.linker.AniDBID(ctx, rec.MalID)
		if err != nil {
			s.logLookupFailure(err, "mal", strconv.Itoa(rec.MalID), "anidb")
		} else if aid > 0 {
			rec.AnidbID = aid
		}
	}

	if rec.AnidbID != 0 {
		s.fromSnapshot(&rec, hint)
	}

	if rec.TmdbID == 0 && rec.TvdbID != 0 {
		primary := hint
		if primary == "" {
			primary = domain.TMDBTV
		}
		s.findTMDB(ctx, &rec, tmdb.SourceTVDB, strconv.Itoa(rec.TvdbID), primary)
	}

	if rec.TmdbID == 0 && rec.ImdbID != "" {
		primary := hint
		if primary == "" {
			primary = domain.TMDBMovie
		}
		s.findTMDB(ctx, &rec, tmdb.SourceIMDB, rec.ImdbID, primary)
	}

	if rec.TmdbID != 0 && rec.TmdbType == domain.TMDBTV && rec.TvdbID == 0 && s.finder != nil {
		ids, err := s.finder.ExternalIDs(ctx, domain.TMDBTV, rec.TmdbID)
		if err != nil {
			s.logLookupFailure(err, "tmdb", strconv.Itoa(rec.TmdbID), "tvdb")
		} else {
			rec.TvdbID = ids.TvdbID
			if rec.ImdbID == "" {
				rec.ImdbID = ids.ImdbID
			}
		}
	}

	if rec == before {
		return &rec, nil
	}

	s.log.Debug().Interface("before", before).Interface("after", rec).Msg("discovered identifiers")
	return s.Upsert(ctx, rec)
}

func (s *service) fromSnapshot(rec *domain.IdentifierRecord, hint domain.TMDBType) {
	if s.snapshot == nil {
		return
	}
	snap := s.snapshot.Current()
	if snap == nil {
		return
	}

	e, ok := snap.Lookup(rec.AnidbID)
	if !ok {
		return
	}

	if rec.TvdbID == 0 {
		rec.TvdbID = e.TvdbID
	}
	if rec.ImdbID == "" {
		rec.ImdbID = e.ImdbID
	}
	if rec.TmdbID == 0 {
		switch {
		case e.TmdbTVID != 0 && (hint != domain.TMDBMovie || e.TmdbMovieID == 0):
			rec.TmdbID, rec.TmdbType = e.TmdbTVID, domain.TMDBTV
		case e.TmdbMovieID != 0:
			rec.TmdbID, rec.TmdbType = e.TmdbMovieID, domain.TMDBMovie
		}
	}
}

// findTMDB issues one find call and takes the first result of the primary
// type, falling back to the alternate type from the same response.
func (s *service) findTMDB(ctx context.Context, rec *domain.IdentifierRecord, source tmdb.ExternalSource, externalID string, primary domain.TMDBType) {
	if s.finder == nil {
		return
	}

	res, err := s.finder.Find(ctx, source, externalID)
	if err != nil {
		s.logLookupFailure(err, string(source), externalID, "tmdb")
		return
	}

	for _, t := range []domain.TMDBType{primary, primary.Alternate()} {
		if id := res.First(t); id != 0 {
			rec.TmdbID, rec.TmdbType = id, t
			return
		}
	}

	s.log.Debug().Str("source", string(source)).Str("id", externalID).Msg("no tmdb result")
}

func (s *service) logLookupFailure(err error, source, id, kind string) {
	ev := s.log.Warn()
	if errors.Is(err, domain.ErrNotFound) {
		ev = s.log.Debug()
	}
	ev.Err(err).Str("source", source).Str("id", id).Str("kind", kind).Msg("identifier lookup failed")
}
