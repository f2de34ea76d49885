package trending

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"github.com/varoOP/shinkrometa/internal/anilist"
	"github.com/varoOP/shinkrometa/internal/classifier"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/internal/mal"
	"github.com/varoOP/shinkrometa/internal/tmdb"
)

const (
	sectionSize = 10
	fanOut      = 4
)

const (
	sourceTMDBMovies = "tmdb_movies"
	sourceTMDBSeries = "tmdb_series"
	sourceMAL        = "mal"
	sourceAniList    = "anilist"
)

type Service interface {
	Refresh(ctx context.Context) (*domain.TrendingSnapshot, domain.TrendingStats, error)
	GetCurrent() (*domain.TrendingSnapshot, error)
	Load(ctx context.Context) error
}

type service struct {
	log        zerolog.Logger
	repo       domain.TrendingRepo
	tmdb       tmdb.Service
	mal        mal.Service
	anilist    anilist.Service
	classifier classifier.Service
	ttl        time.Duration

	current atomic.Pointer[domain.TrendingSnapshot]
	refresh sync.Mutex
	now     func() time.Time
}

// NewService builds the aggregator. A snapshot older than ttl is no longer
// served; zero keeps it forever.
func NewService(log zerolog.Logger, repo domain.TrendingRepo, tmdbSvc tmdb.Service, malSvc mal.Service, anilistSvc anilist.Service, classifierSvc classifier.Service, ttl time.Duration) Service {
	return &service{
		log:        log.With().Str("module", "trending").Logger(),
		repo:       repo,
		tmdb:       tmdbSvc,
		mal:        malSvc,
		anilist:    anilistSvc,
		classifier: classifierSvc,
		ttl:        ttl,
		now:        time.Now,
	}
}

// GetCurrent never fetches.
func (s *service) GetCurrent() (*domain.TrendingSnapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, errors.Wrap(domain.ErrNotAvailable, "trending has not been computed yet")
	}

	if s.ttl > 0 && s.now().Sub(snap.ComputedAt) > s.ttl {
		return nil, errors.Wrapf(domain.ErrNotAvailable, "trending computed at %s has expired", snap.ComputedAt.Format(time.RFC3339))
	}

	return snap, nil
}

// Load restores the persisted snapshot, if any.
func (s *service) Load(ctx context.Context) error {
	snap, err := s.repo.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Info().Msg("no stored trending snapshot")
			return nil
		}
		return errors.Wrap(err, "failed to load trending snapshot")
	}

	s.current.Store(snap)
	s.log.Info().Time("computed_at", snap.ComputedAt).Msg("loaded trending snapshot")
	return nil
}

// Refresh fetches every source, enriches the entries and replaces the current
// snapshot in one step. A failed source keeps its section from the previous
// snapshot; when every source fails nothing is replaced.
func (s *service) Refresh(ctx context.Context) (*domain.TrendingSnapshot, domain.TrendingStats, error) {
	s.refresh.Lock()
	defer s.refresh.Unlock()

	start := s.now()
	prev := s.current.Load()

	var (
		movies, series   []domain.TrendingItem
		malItems, aItems []domain.TrendingItem
		mu               sync.Mutex
	)
	errs := map[string]error{}

	record := func(source string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs[source] = err
		mu.Unlock()
		s.log.Warn().Err(err).Str("source", source).Str("kind", "trending").Msg("trending source failed")
	}

	p := pool.New().WithMaxGoroutines(fanOut)
	p.Go(func() {
		var err error
		movies, err = s.tmdbSection(ctx, domain.TMDBMovie)
		record(sourceTMDBMovies, err)
	})
	p.Go(func() {
		var err error
		series, err = s.tmdbSection(ctx, domain.TMDBTV)
		record(sourceTMDBSeries, err)
	})
	p.Go(func() {
		var err error
		malItems, err = s.malSection(ctx)
		record(sourceMAL, err)
	})
	p.Go(func() {
		var err error
		aItems, err = s.anilistSection(ctx)
		record(sourceAniList, err)
	})
	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, domain.TrendingStats{}, err
	}

	if len(errs) == 4 {
		failed := sortedKeys(errs)
		causes := lo.Map(failed, func(source string, _ int) string { return source + ": " + errs[source].Error() })
		return nil, domain.TrendingStats{FailedSources: failed}, errors.Wrapf(domain.ErrUpstream, "all trending sources failed (%s)", strings.Join(causes, "; "))
	}

	anime := mergeAnime(malItems, aItems)

	if prev != nil {
		if errs[sourceTMDBMovies] != nil {
			movies = prev.Movies
		}
		if errs[sourceTMDBSeries] != nil {
			series = prev.Series
		}
		if errs[sourceMAL] != nil && errs[sourceAniList] != nil {
			anime = prev.Anime
		}
	}

	snap := domain.TrendingSnapshot{
		ComputedAt: s.now(),
		Movies:     orEmpty(movies),
		Series:     orEmpty(series),
		Anime:      orEmpty(anime),
	}

	if err := s.repo.Replace(ctx, snap); err != nil {
		return nil, domain.TrendingStats{}, errors.Wrap(err, "failed to persist trending snapshot")
	}
	s.current.Store(&snap)

	stats := domain.TrendingStats{
		Movies:        len(snap.Movies),
		Series:        len(snap.Series),
		Anime:         len(snap.Anime),
		AnimeTagged:   lo.CountBy(snap.Series, func(i domain.TrendingItem) bool { return i.Anime }),
		FailedSources: sortedKeys(errs),
		Duration:      s.now().Sub(start),
	}

	s.log.Info().
		Int("movies", stats.Movies).
		Int("series", stats.Series).
		Int("anime", stats.Anime).
		Int("anime_tagged", stats.AnimeTagged).
		Strs("failed", stats.FailedSources).
		Dur("took", stats.Duration).
		Msg("trending refreshed")

	return &snap, stats, nil
}

func (s *service) tmdbSection(ctx context.Context, mediaType domain.TMDBType) ([]domain.TrendingItem, error) {
	results, err := s.tmdb.Trending(ctx, mediaType)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Popularity > results[j].Popularity })
	if len(results) > sectionSize {
		results = results[:sectionSize]
	}

	items := lo.Map(results, func(r tmdb.TrendingResult, _ int) domain.TrendingItem {
		return domain.TrendingItem{
			ID:           r.ID,
			MediaType:    string(mediaType),
			Title:        r.DisplayTitle(),
			Overview:     r.Overview,
			PosterPath:   r.PosterPath,
			BackdropPath: r.BackdropPath,
			Popularity:   r.Popularity,
			Source:       "tmdb",
		}
	})

	p := pool.New().WithMaxGoroutines(fanOut)
	for i := range items {
		p.Go(func() {
			s.enrich(ctx, mediaType, &items[i], results[i].OriginalLanguage)
		})
	}
	p.Wait()

	return items, nil
}

// enrich adds the best logo and, for series, the anime classification. Both
// are best effort.
func (s *service) enrich(ctx context.Context, mediaType domain.TMDBType, item *domain.TrendingItem, originalLanguage string) {
	images, err := s.tmdb.Images(ctx, mediaType, item.ID)
	if err != nil {
		s.log.Debug().Err(err).Int("tmdb_id", item.ID).Msg("no logos")
	} else {
		item.LogoPath = tmdb.BestLogo(images.Logos, originalLanguage)
	}

	if mediaType == domain.TMDBMovie {
		item.Anime = s.classifier.IsAnimeMovie(ctx, item.ID)
		return
	}

	ids, err := s.tmdb.ExternalIDs(ctx, domain.TMDBTV, item.ID)
	if err != nil {
		s.log.Debug().Err(err).Int("tmdb_id", item.ID).Msg("no external ids")
		return
	}

	item.TvdbID = ids.TvdbID
	if s.classifier.IsAnime(ctx, ids.TvdbID) {
		item.Anime = true
		item.MediaType = "anime"
	}
}

func (s *service) malSection(ctx context.Context) ([]domain.TrendingItem, error) {
	ranked, err := s.mal.Ranking(ctx, "airing", sectionSize)
	if err != nil {
		return nil, err
	}

	return lo.Map(ranked, func(r mal.RankedAnime, _ int) domain.TrendingItem {
		title := r.EnglishTitle
		if title == "" {
			title = r.Title
		}
		return domain.TrendingItem{
			ID:         r.ID,
			MediaType:  "anime",
			Title:      title,
			Overview:   r.Synopsis,
			PosterPath: r.PicturePath,
			Popularity: float64(r.Popularity),
			Source:     "mal",
			MalID:      r.ID,
			Anime:      true,
		}
	}), nil
}

func (s *service) anilistSection(ctx context.Context) ([]domain.TrendingItem, error) {
	media, err := s.anilist.Trending(ctx, sectionSize)
	if err != nil {
		return nil, err
	}

	media = lo.Filter(media, func(m anilist.Media, _ int) bool { return m.MalID != 0 })

	return lo.Map(media, func(m anilist.Media, _ int) domain.TrendingItem {
		title := m.EnglishTitle
		if title == "" {
			title = m.Title
		}
		return domain.TrendingItem{
			ID:           m.MalID,
			MediaType:    "anime",
			Title:        title,
			Overview:     m.Description,
			PosterPath:   m.CoverImage,
			BackdropPath: m.BannerImage,
			Popularity:   float64(m.Trending),
			Source:       "anilist",
			MalID:        m.MalID,
			Anime:        true,
		}
	}), nil
}

// mergeAnime keeps MAL entries first and drops AniList entries for the same
// MAL id.
func mergeAnime(malItems, anilistItems []domain.TrendingItem) []domain.TrendingItem {
	return lo.UniqBy(append(append([]domain.TrendingItem{}, malItems...), anilistItems...), func(i domain.TrendingItem) int {
		return i.MalID
	})
}

func orEmpty(items []domain.TrendingItem) []domain.TrendingItem {
	if items == nil {
		return []domain.TrendingItem{}
	}
	return items
}

func sortedKeys(errs map[string]error) []string {
	keys := lo.Keys(errs)
	sort.Strings(keys)
	return keys
}
