package resolver

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/classifier"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/internal/identmap"
	"github.com/varoOP/shinkrometa/internal/metadata"
	"github.com/varoOP/shinkrometa/internal/relations"
	"github.com/varoOP/shinkrometa/internal/rescache"
)

// OpenEnd as the end of an episode range means today.
const OpenEnd = "null"

const posterBaseURL = "https://image.tmdb.org/t/p/w780"

// Service answers title requests: classify, consult the cache, fetch on a
// miss and record whatever identifiers were learned on the way.
type Service interface {
	Movie(ctx context.Context, id int) (*domain.ResolvedTitle, error)
	Series(ctx context.Context, id int) (*domain.ResolvedTitle, error)
	Season(ctx context.Context, id, season int) (*domain.ResolvedTitle, error)
	Anime(ctx context.Context, id int) (*domain.ResolvedTitle, error)
	AnimeImages(ctx context.Context, id int, imageType string) (*domain.ResolvedTitle, error)
	AnimeEpisodes(ctx context.Context, id int, start, end string) (*domain.ResolvedTitle, error)
	AnimeRelations(ctx context.Context, id int) (*domain.ResolvedTitle, error)
	AnimeChain(ctx context.Context, id int) (*domain.ResolvedTitle, error)
	Search(ctx context.Context, query string) (*domain.ResolvedTitle, error)
	Poster(ctx context.Context, mediaType string, id int) (*domain.ResolvedTitle, error)
}

type service struct {
	log        zerolog.Logger
	cache      rescache.Service
	fetcher    metadata.Fetcher
	classifier classifier.Service
	ids        identmap.Service
	edges      domain.RelationRepo
	chains     relations.Service
	now        func() time.Time
}

func NewService(log zerolog.Logger, cache rescache.Service, fetcher metadata.Fetcher, classifierSvc classifier.Service, ids identmap.Service, edges domain.RelationRepo, chainLimit int) Service {
	s := &service{
		log:        log.With().Str("module", "resolver").Logger(),
		cache:      cache,
		fetcher:    fetcher,
		classifier: classifierSvc,
		ids:        ids,
		edges:      edges,
		now:        time.Now,
	}
	s.chains = relations.NewService(log, s.relationsFor, chainLimit)

	return s
}

func key(kind domain.SourceKind, id int, variant string) domain.CacheKey {
	return domain.CacheKey{Kind: kind, ID: strconv.Itoa(id), Variant: variant}
}

func (s *service) Movie(ctx context.Context, id int) (*domain.ResolvedTitle, error) {
	if s.classifier.IsAnimeMovie(ctx, id) {
		return nil, errors.Wrapf(domain.ErrIsAnime, "movie %d", id)
	}

	return s.cache.GetOrFetch(ctx, key(domain.SourceMovie, id, domain.VariantDetail), func(ctx context.Context) (*domain.ResolvedTitle, error) {
		t, err := s.fetcher.FetchMovie(ctx, id)
		if err != nil {
			return nil, err
		}
		s.remember(ctx, t.External)
		return t, nil
	})
}

// Series refuses anime. A stored mapping is checked before the cache so a
// cached series that was later mapped to an anime is refused too; on a miss
// the freshly fetched TVDB id is classified before anything is written.
func (s *service) Series(ctx context.Context, id int) (*domain.ResolvedTitle, error) {
	if err := s.gateSeries(ctx, id); err != nil {
		return nil, err
	}

	return s.cache.GetOrFetch(ctx, key(domain.SourceSeries, id, domain.VariantDetail), func(ctx context.Context) (*domain.ResolvedTitle, error) {
		t, err := s.fetcher.FetchSeries(ctx, id)
		if err != nil {
			return nil, err
		}

		if s.classifier.IsAnime(ctx, t.External.TvdbID) {
			return nil, errors.Wrapf(domain.ErrIsAnime, "series %d (tvdb %d)", id, t.External.TvdbID)
		}

		s.remember(ctx, t.External)
		return t, nil
	})
}

func (s *service) Season(ctx context.Context, id, season int) (*domain.ResolvedTitle, error) {
	if season < 0 {
		return nil, errors.Wrapf(domain.ErrInvalid, "season %d", season)
	}
	if err := s.gateSeries(ctx, id); err != nil {
		return nil, err
	}

	return s.cache.GetOrFetch(ctx, key(domain.SourceSeries, id, domain.VariantSeason(season)), func(ctx context.Context) (*domain.ResolvedTitle, error) {
		return s.fetcher.FetchSeason(ctx, id, season)
	})
}

func (s *service) gateSeries(ctx context.Context, id int) error {
	rec, err := s.ids.Resolve(ctx, domain.IDKindTMDBTV, strconv.Itoa(id))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Debug().Err(err).Int("tmdb_id", id).Msg("identifier lookup failed")
		}
		return nil
	}

	if rec.IsAnime() || s.classifier.IsAnime(ctx, rec.TvdbID) {
		return errors.Wrapf(domain.ErrIsAnime, "series %d", id)
	}
	return nil
}

func (s *service) Anime(ctx context.Context, id int) (*domain.ResolvedTitle, error) {
	t, _, err := s.anime(ctx, id)
	return t, err
}

// anime also reports whether this call fetched the detail, and with it ran
// identifier discovery.
func (s *service) anime(ctx context.Context, id int) (*domain.ResolvedTitle, bool, error) {
	var discovered bool

	t, err := s.cache.GetOrFetch(ctx, key(domain.SourceAnime, id, domain.VariantDetail), func(ctx context.Context) (*domain.ResolvedTitle, error) {
		t, err := s.fetcher.FetchAnimeDetail(ctx, id)
		if err != nil {
			return nil, err
		}

		if _, err := s.ids.Discover(ctx, t.External, metadata.AnimeMediaType(t.Payload)); err != nil {
			s.log.Warn().Err(err).Int("mal_id", id).Msg("identifier discovery failed")
		}
		discovered = true

		return t, nil
	})

	return t, discovered, err
}

// tmdbFor returns the mapping of anime id with a TMDB id, discovering it when
// the map does not have one yet.
func (s *service) tmdbFor(ctx context.Context, id int) (*domain.IdentifierRecord, error) {
	if rec := s.mapped(ctx, id); rec != nil {
		return rec, nil
	}

	detail, discovered, err := s.anime(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec := s.mapped(ctx, id); rec != nil {
		return rec, nil
	}

	if !discovered {
		rec, err := s.ids.Discover(ctx, domain.IdentifierRecord{MalID: id}, metadata.AnimeMediaType(detail.Payload))
		if err != nil {
			return nil, err
		}
		if rec.TmdbID != 0 && rec.TmdbType != "" {
			return rec, nil
		}
	}

	return nil, errors.Wrapf(domain.ErrNotFound, "no tmdb mapping for anime %d", id)
}

func (s *service) mapped(ctx context.Context, id int) *domain.IdentifierRecord {
	rec, err := s.ids.Resolve(ctx, domain.IDKindMAL, strconv.Itoa(id))
	if err != nil || rec.TmdbID == 0 || rec.TmdbType == "" {
		return nil
	}
	return rec
}

func (s *service) AnimeImages(ctx context.Context, id int, imageType string) (*domain.ResolvedTitle, error) {
	switch imageType {
	case "backdrops", "posters", "logos":
	default:
		return nil, errors.Wrapf(domain.ErrInvalid, "image type %q", imageType)
	}

	rec, err := s.tmdbFor(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.cache.GetOrFetch(ctx, key(domain.SourceAnime, id, domain.VariantImages(imageType)), func(ctx context.Context) (*domain.ResolvedTitle, error) {
		return s.fetcher.FetchImages(ctx, rec.TmdbType, rec.TmdbID, imageType)
	})
}

// AnimeEpisodes lists the episodes that aired between start and end. Both are
// dates; an end of OpenEnd means today.
func (s *service) AnimeEpisodes(ctx context.Context, id int, start, end string) (*domain.ResolvedTitle, error) {
	from, err := time.Parse(metadata.DateLayout, start)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrInvalid, "start date %q", start)
	}

	to := s.now()
	if end != OpenEnd {
		if to, err = time.Parse(metadata.DateLayout, end); err != nil {
			return nil, errors.Wrapf(domain.ErrInvalid, "end date %q", end)
		}
	}

	if to.Format(metadata.DateLayout) < from.Format(metadata.DateLayout) {
		return nil, errors.Wrapf(domain.ErrInvalid, "range %s..%s", start, end)
	}

	rec, err := s.tmdbFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TmdbType != domain.TMDBTV {
		return nil, errors.Wrapf(domain.ErrNotFound, "anime %d is not mapped to a series", id)
	}

	variant := domain.VariantEpisodes(from.Format(metadata.DateLayout), to.Format(metadata.DateLayout))
	return s.cache.GetOrFetch(ctx, key(domain.SourceAnime, id, variant), func(ctx context.Context) (*domain.ResolvedTitle, error) {
		return s.fetcher.FetchEpisodes(ctx, rec.TmdbID, from, to)
	})
}

func (s *service) AnimeRelations(ctx context.Context, id int) (*domain.ResolvedTitle, error) {
	return s.cache.GetOrFetch(ctx, key(domain.SourceAnime, id, domain.VariantRelations), func(ctx context.Context) (*domain.ResolvedTitle, error) {
		rel, err := s.fetcher.FetchAnimeRelations(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := s.edges.ReplaceEdges(ctx, id, rel.Edges); err != nil {
			s.log.Warn().Err(err).Int("mal_id", id).Msg("failed to store relation edges")
		}

		return &rel.Title, nil
	})
}

// relationsFor feeds the chain builder. When the provider is down it falls
// back to the last stored edges of id.
func (s *service) relationsFor(ctx context.Context, id int) (*domain.AnimeRelations, error) {
	t, err := s.AnimeRelations(ctx, id)
	if err == nil {
		return metadata.DecodeRelations(*t)
	}

	if !errors.Is(err, domain.ErrUpstream) {
		return nil, err
	}

	edges, lerr := s.edges.EdgesFrom(ctx, id)
	if lerr != nil || len(edges) == 0 {
		return nil, err
	}

	s.log.Warn().Err(err).Int("mal_id", id).Int("edges", len(edges)).Msg("serving stored relation edges")
	return &domain.AnimeRelations{
		Title: domain.ResolvedTitle{Kind: domain.SourceAnime, SourceID: strconv.Itoa(id)},
		Edges: edges,
	}, nil
}

func (s *service) AnimeChain(ctx context.Context, id int) (*domain.ResolvedTitle, error) {
	return s.cache.GetOrFetch(ctx, key(domain.SourceAnime, id, domain.VariantChain), func(ctx context.Context) (*domain.ResolvedTitle, error) {
		chain, err := s.chains.BuildChain(ctx, id)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(chain)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode chain")
		}

		start := chain.Entries[0]
		return &domain.ResolvedTitle{
			Kind:       domain.SourceAnime,
			SourceID:   strconv.Itoa(id),
			Title:      start.Title,
			PosterPath: start.PosterPath,
			Payload:    payload,
			FetchedAt:  s.now(),
		}, nil
	})
}

func (s *service) Search(ctx context.Context, query string) (*domain.ResolvedTitle, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, errors.Wrap(domain.ErrInvalid, "empty search query")
	}

	k := domain.CacheKey{Kind: domain.SourceSearch, ID: strings.ToLower(q), Variant: domain.VariantResults}
	return s.cache.GetOrFetch(ctx, k, func(ctx context.Context) (*domain.ResolvedTitle, error) {
		return s.fetcher.Search(ctx, q)
	})
}

type poster struct {
	ID        int    `json:"id"`
	MediaType string `json:"media_type"`
	Title     string `json:"title"`
	Path      string `json:"poster_path"`
	URL       string `json:"poster_url"`
}

// Poster is the title and poster of a movie or series, built from the cached
// detail. Anime is refused before the poster cache is consulted.
func (s *service) Poster(ctx context.Context, mediaType string, id int) (*domain.ResolvedTitle, error) {
	var detail func(context.Context, int) (*domain.ResolvedTitle, error)
	var kind domain.SourceKind

	switch domain.TMDBType(mediaType) {
	case domain.TMDBMovie:
		if s.classifier.IsAnimeMovie(ctx, id) {
			return nil, errors.Wrapf(domain.ErrIsAnime, "movie %d", id)
		}
		detail, kind = s.Movie, domain.SourceMovie
	case domain.TMDBTV:
		if err := s.gateSeries(ctx, id); err != nil {
			return nil, err
		}
		detail, kind = s.Series, domain.SourceSeries
	default:
		return nil, errors.Wrapf(domain.ErrInvalid, "media type %q", mediaType)
	}

	return s.cache.GetOrFetch(ctx, key(kind, id, domain.VariantPoster), func(ctx context.Context) (*domain.ResolvedTitle, error) {
		t, err := detail(ctx, id)
		if err != nil {
			return nil, err
		}

		p := poster{ID: id, MediaType: mediaType, Title: t.Title, Path: t.PosterPath}
		if p.Path != "" {
			p.URL = posterBaseURL + p.Path
		}

		payload, err := json.Marshal(p)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode poster")
		}

		return &domain.ResolvedTitle{
			Kind:       kind,
			SourceID:   strconv.Itoa(id),
			Title:      t.Title,
			PosterPath: t.PosterPath,
			Payload:    payload,
			FetchedAt:  s.now(),
		}, nil
	})
}

// remember upserts identifiers learned from a fetch. Failures only cost a
// future lookup, so they are logged and dropped.
func (s *service) remember(ctx context.Context, rec domain.IdentifierRecord) {
	if rec.Empty() {
		return
	}
	if _, err := s.ids.Upsert(ctx, rec); err != nil {
		s.log.Warn().Err(err).Interface("record", rec).Msg("failed to record identifiers")
	}
}
