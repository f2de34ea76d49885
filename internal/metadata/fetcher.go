package metadata

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/varoOP/shinkrometa/internal/anilist"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/internal/mal"
	"github.com/varoOP/shinkrometa/internal/tmdb"
)

// DateLayout is the format of episode air dates and range bounds.
const DateLayout = "2006-01-02"

// Fetcher turns provider responses into ResolvedTitles. It does not cache and
// does not retry.
type Fetcher interface {
	FetchMovie(ctx context.Context, id int) (*domain.ResolvedTitle, error)
	FetchSeries(ctx context.Context, id int) (*domain.ResolvedTitle, error)
	FetchSeason(ctx context.Context, id, season int) (*domain.ResolvedTitle, error)
	FetchAnimeDetail(ctx context.Context, id int) (*domain.ResolvedTitle, error)
	FetchAnimeRelations(ctx context.Context, id int) (*domain.AnimeRelations, error)
	FetchImages(ctx context.Context, mediaType domain.TMDBType, id int, imageType string) (*domain.ResolvedTitle, error)
	FetchEpisodes(ctx context.Context, id int, from, to time.Time) (*domain.ResolvedTitle, error)
	Search(ctx context.Context, query string) (*domain.ResolvedTitle, error)
}

type fetcher struct {
	log     zerolog.Logger
	tmdb    tmdb.Service
	mal     mal.Service
	anilist anilist.Service
}

func NewFetcher(log zerolog.Logger, tmdbSvc tmdb.Service, malSvc mal.Service, anilistSvc anilist.Service) Fetcher {
	return &fetcher{
		log:     log.With().Str("module", "metadata").Logger(),
		tmdb:    tmdbSvc,
		mal:     malSvc,
		anilist: anilistSvc,
	}
}

func (f *fetcher) FetchMovie(ctx context.Context, id int) (*domain.ResolvedTitle, error) {
	t, err := f.tmdb.Movie(ctx, id)
	if err != nil {
		return nil, f.failed(err, "tmdb", "movie", id)
	}

	res := fromTMDB(domain.SourceMovie, t)
	res.External = domain.IdentifierRecord{TmdbID: t.ID, TmdbType: domain.TMDBMovie, ImdbID: t.ExternalIDs.ImdbID}
	return res, nil
}

func (f *fetcher) FetchSeries(ctx context.Context, id int) (*domain.ResolvedTitle, error) {
	t, err := f.tmdb.Series(ctx, id)
	if err != nil {
		return nil, f.failed(err, "tmdb", "series", id)
	}

	res := fromTMDB(domain.SourceSeries, t)
	res.External = domain.IdentifierRecord{
		TvdbID:   t.ExternalIDs.TvdbID,
		TmdbID:   t.ID,
		TmdbType: domain.TMDBTV,
		ImdbID:   t.ExternalIDs.ImdbID,
	}
	return res, nil
}

func (f *fetcher) FetchSeason(ctx context.Context, id, season int) (*domain.ResolvedTitle, error) {
	t, err := f.tmdb.Season(ctx, id, season)
	if err != nil {
		return nil, f.failed(err, "tmdb", "season", id)
	}

	res := fromTMDB(domain.SourceSeries, t)
	res.SourceID = strconv.Itoa(id)
	return res, nil
}

func (f *fetcher) FetchAnimeDetail(ctx context.Context, id int) (*domain.ResolvedTitle, error) {
	a, err := f.mal.Anime(ctx, id)
	if err != nil {
		return nil, f.failed(err, "mal", "anime", id)
	}

	return &domain.ResolvedTitle{
		Kind:       domain.SourceAnime,
		SourceID:   strconv.Itoa(a.ID),
		Title:      a.Title,
		PosterPath: a.PicturePath,
		Payload:    a.Payload,
		FetchedAt:  time.Now(),
		External:   domain.IdentifierRecord{MalID: a.ID},
	}, nil
}

func (f *fetcher) FetchAnimeRelations(ctx context.Context, id int) (*domain.AnimeRelations, error) {
	m, err := f.anilist.Relations(ctx, id)
	if err != nil {
		return nil, f.failed(err, "anilist", "relations", id)
	}

	payload, err := json.Marshal(relationsPayload{
		Media: *m,
		Relations: lo.Map(m.Relations, func(r anilist.Relation, _ int) relationView {
			return relationView{RelationType: r.Type, RawType: r.RawType, Node: r.Node}
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode relations")
	}

	return &domain.AnimeRelations{
		Title: domain.ResolvedTitle{
			Kind:       domain.SourceAnime,
			SourceID:   strconv.Itoa(m.MalID),
			Title:      m.Title,
			PosterPath: m.CoverImage,
			Payload:    payload,
			FetchedAt:  time.Now(),
		},
		Format: m.Format,
		Edges:  m.Edges(),
	}, nil
}

func (f *fetcher) FetchImages(ctx context.Context, mediaType domain.TMDBType, id int, imageType string) (*domain.ResolvedTitle, error) {
	images, err := f.tmdb.Images(ctx, mediaType, id)
	if err != nil {
		return nil, f.failed(err, "tmdb", "images", id)
	}

	list, ok := images.ByType(imageType)
	if !ok {
		return nil, errors.Wrapf(domain.ErrInvalid, "image type %q", imageType)
	}
	if list == nil {
		list = []tmdb.Image{}
	}

	payload, err := json.Marshal(list)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode images")
	}

	return &domain.ResolvedTitle{
		Kind:      kindOf(mediaType),
		SourceID:  strconv.Itoa(id),
		Payload:   payload,
		FetchedAt: time.Now(),
	}, nil
}

// FetchEpisodes returns the episodes of series id that aired between from and
// to, both inclusive.
func (f *fetcher) FetchEpisodes(ctx context.Context, id int, from, to time.Time) (*domain.ResolvedTitle, error) {
	series, err := f.tmdb.SeriesEpisodes(ctx, id)
	if err != nil {
		return nil, f.failed(err, "tmdb", "episodes", id)
	}

	start, end := from.Format(DateLayout), to.Format(DateLayout)
	episodes := lo.Filter(series.Episodes, func(e tmdb.Episode, _ int) bool {
		return e.AirDate != "" && e.AirDate >= start && e.AirDate <= end
	})
	if episodes == nil {
		episodes = []tmdb.Episode{}
	}

	payload, err := json.Marshal(episodesPayload{ID: id, Name: series.Name, Start: start, End: end, Episodes: episodes})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode episodes")
	}

	f.log.Debug().Int("tmdb_id", id).Int("seasons", series.NumberOfSeasons).Int("episodes", len(episodes)).Msg("filtered episodes")

	return &domain.ResolvedTitle{
		Kind:       domain.SourceSeries,
		SourceID:   strconv.Itoa(id),
		Title:      series.Name,
		PosterPath: series.PosterPath,
		Payload:    payload,
		FetchedAt:  time.Now(),
	}, nil
}

func (f *fetcher) Search(ctx context.Context, query string) (*domain.ResolvedTitle, error) {
	raw, err := f.tmdb.Search(ctx, query)
	if err != nil {
		f.log.Warn().Err(err).Str("source", "tmdb").Str("query", query).Str("kind", "search").Msg("fetch failed")
		return nil, err
	}

	return &domain.ResolvedTitle{
		Kind:      domain.SourceSearch,
		SourceID:  query,
		Title:     query,
		Payload:   raw,
		FetchedAt: time.Now(),
	}, nil
}

// failed logs upstream failures with enough context to replay them.
func (f *fetcher) failed(err error, source, kind string, id int) error {
	if errors.Is(err, domain.ErrUpstream) {
		f.log.Warn().Err(err).Str("source", source).Int("id", id).Str("kind", kind).Msg("fetch failed")
	}
	return err
}

func fromTMDB(kind domain.SourceKind, t *tmdb.Title) *domain.ResolvedTitle {
	return &domain.ResolvedTitle{
		Kind:       kind,
		SourceID:   strconv.Itoa(t.ID),
		Title:      t.Name,
		PosterPath: t.PosterPath,
		Payload:    t.Payload,
		FetchedAt:  time.Now(),
	}
}

func kindOf(t domain.TMDBType) domain.SourceKind {
	if t == domain.TMDBMovie {
		return domain.SourceMovie
	}
	return domain.SourceSeries
}
