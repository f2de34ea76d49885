package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/varoOP/shinkrometa/internal/anilist"
	"github.com/varoOP/shinkrometa/internal/classifier"
	"github.com/varoOP/shinkrometa/internal/config"
	"github.com/varoOP/shinkrometa/internal/database"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/internal/identmap"
	"github.com/varoOP/shinkrometa/internal/logger"
	"github.com/varoOP/shinkrometa/internal/mal"
	"github.com/varoOP/shinkrometa/internal/metadata"
	"github.com/varoOP/shinkrometa/internal/notification"
	"github.com/varoOP/shinkrometa/internal/repository"
	"github.com/varoOP/shinkrometa/internal/rescache"
	"github.com/varoOP/shinkrometa/internal/resolver"
	"github.com/varoOP/shinkrometa/internal/scheduler"
	"github.com/varoOP/shinkrometa/internal/server"
	"github.com/varoOP/shinkrometa/internal/tmdb"
	"github.com/varoOP/shinkrometa/internal/trending"
	"github.com/varoOP/shinkrometa/pkg/animelist"
)

const (
	shutdownTimeout = 15 * time.Second
	downloadTimeout = 2 * time.Minute
)

// App holds every service, wired from one configuration.
type App struct {
	log       zerolog.Logger
	logCloser io.Closer
	config    *domain.Config

	db          *database.DB
	mappingRepo domain.MappingRepository
	animeList   *animelist.Holder

	cache     rescache.Service
	ids       identmap.Service
	resolver  resolver.Service
	trending  trending.Service
	scheduler *scheduler.Service
}

// NewApp loads the configuration from v, opens the store and builds the
// service graph. The previously persisted trending snapshot and the anime list
// on disk are loaded when present.
func NewApp(v *viper.Viper) (*App, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	log, closer, err := logger.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set up logger")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		closer.Close()
		return nil, errors.Wrap(err, "failed to create data dir")
	}

	db, err := database.NewDB(cfg.DataDir, log)
	if err != nil {
		closer.Close()
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	identifierRepo := database.NewIdentifierRepo(log, db)
	resolutionRepo := database.NewResolutionRepo(log, db)
	relationRepo := database.NewRelationRepo(log, db)
	trendingRepo := database.NewTrendingRepo(log, db)

	holder := &animelist.Holder{}
	if snap, err := holder.Reload(cfg.AnimeListPath); err != nil {
		log.Warn().Err(err).Str("path", cfg.AnimeListPath).Msg("anime list not loaded, run update-animelist")
	} else {
		log.Info().Int("entries", snap.Len()).Str("path", cfg.AnimeListPath).Msg("loaded anime list")
	}

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}

	tmdbService := tmdb.NewService(log, cfg.TmdbApiKey, "", httpClient, cfg.SeriesSeasonChunk)
	malService := mal.NewService(log, mal.Options{
		ClientID: cfg.MalClientID,
		Timeout:  cfg.UpstreamTimeout,
		Delay:    cfg.MalDelay,
		CacheDir: cfg.ScrapeCacheDir,
	})
	anilistService := anilist.NewService(log, "", httpClient)

	classifierService := classifier.NewService(log, identifierRepo, holder, cfg.AnimeListMaxAge)
	idService := identmap.NewService(log, identifierRepo, tmdbService, malService, holder)

	cache := rescache.NewService(log, resolutionRepo, rescache.Policy{
		Series:   cfg.SeriesTTL,
		Volatile: cfg.VolatileTTL,
	})
	fetcher := metadata.NewFetcher(log, tmdbService, malService, anilistService)
	resolverService := resolver.NewService(log, cache, fetcher, classifierService, idService, relationRepo, cfg.ChainLimit)

	trendingService := trending.NewService(log, trendingRepo, tmdbService, malService, anilistService, classifierService, cfg.TrendingTTL)
	if err := trendingService.Load(context.Background()); err != nil {
		log.Warn().Err(err).Msg("failed to load persisted trending snapshot")
	}

	notifier := notification.NewService(log, cfg.DiscordWebhookURL)

	sched, err := scheduler.NewService(log, trendingService, notifier, cfg.TrendingSchedule)
	if err != nil {
		db.Close()
		closer.Close()
		return nil, err
	}

	return &App{
		log:         log,
		logCloser:   closer,
		config:      cfg,
		db:          db,
		mappingRepo: repository.NewFileRepository(log),
		animeList:   holder,
		cache:       cache,
		ids:         idService,
		resolver:    resolverService,
		trending:    trendingService,
		scheduler:   sched,
	}, nil
}

func (a *App) Close() error {
	err := a.db.Close()
	if cerr := a.logCloser.Close(); err == nil {
		err = cerr
	}
	return err
}

// Serve runs the http server and the trending scheduler until SIGINT or
// SIGTERM. SIGHUP reloads the anime list from disk.
func (a *App) Serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(a.log, a.config.Host, a.config.Port, a.resolver, a.trending, a.db)

	a.scheduler.Start(ctx)
	go a.reloadOnHangup(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Open()
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		a.log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("http server shutdown failed")
	}
	a.scheduler.Stop(shutdownCtx)

	return serveErr
}

func (a *App) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			snap, err := a.animeList.Reload(a.config.AnimeListPath)
			if err != nil {
				a.log.Error().Err(err).Str("path", a.config.AnimeListPath).Msg("failed to reload anime list, keeping current")
				continue
			}
			a.log.Info().Int("entries", snap.Len()).Msg("reloaded anime list")
		}
	}
}

// RefreshTrending runs one refresh with the scheduler's retry and notification
// policy.
func (a *App) RefreshTrending(ctx context.Context) error {
	return a.scheduler.RunNow(ctx)
}

// UpdateAnimeList downloads the anime list and swaps it in.
func (a *App) UpdateAnimeList(ctx context.Context) error {
	err := retry.Do(
		func() error {
			return animelist.Download(ctx, &http.Client{Timeout: downloadTimeout}, a.config.AnimeListURL, a.config.AnimeListPath)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(5*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			a.log.Warn().Err(err).Uint("attempt", n+1).Msg("anime list download failed, retrying")
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to download anime list")
	}

	snap, err := a.animeList.Reload(a.config.AnimeListPath)
	if err != nil {
		return errors.Wrap(err, "failed to load anime list")
	}

	a.log.Info().Int("entries", snap.Len()).Str("path", a.config.AnimeListPath).Msg("anime list updated")
	return nil
}

// SeedMappings upserts every record of a mapping file into the identifier map.
func (a *App) SeedMappings(ctx context.Context, path string) (int, error) {
	m, err := a.mappingRepo.GetMappings(ctx, path)
	if err != nil {
		return 0, err
	}

	seeded := 0
	for _, rec := range m.Mappings {
		if _, err := a.ids.Upsert(ctx, rec); err != nil {
			if errors.Is(err, domain.ErrInvalid) {
				a.log.Warn().Err(err).Interface("record", rec).Msg("skipping mapping")
				continue
			}
			return seeded, errors.Wrapf(err, "failed to seed mapping %d", seeded)
		}
		seeded++
	}

	a.log.Info().Int("seeded", seeded).Int("total", len(m.Mappings)).Str("path", path).Msg("seeded mappings")
	return seeded, nil
}

// ExportMappings writes the whole identifier map to path.
func (a *App) ExportMappings(ctx context.Context, path string) (int, error) {
	records, err := a.ids.List(ctx)
	if err != nil {
		return 0, err
	}

	if err := a.mappingRepo.StoreMappings(ctx, path, &domain.MappingFile{Mappings: records}); err != nil {
		return 0, err
	}

	a.log.Info().Int("count", len(records)).Str("path", path).Msg("exported mappings")
	return len(records), nil
}

func (a *App) PruneCache(ctx context.Context) (int64, error) {
	n, err := a.cache.Prune(ctx)
	if err != nil {
		return 0, err
	}

	a.log.Info().Int64("deleted", n).Msg("pruned resolution cache")
	return n, nil
}
