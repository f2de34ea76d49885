package rescache

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
	"golang.org/x/sync/singleflight"
)

// FetchFunc loads a value from upstream after a cache miss.
type FetchFunc func(ctx context.Context) (*domain.ResolvedTitle, error)

type Service interface {
	Get(ctx context.Context, key domain.CacheKey) (*domain.ResolvedTitle, error)
	Put(ctx context.Context, key domain.CacheKey, value domain.ResolvedTitle, ttl time.Duration) error
	GetOrFetch(ctx context.Context, key domain.CacheKey, fetch FetchFunc) (*domain.ResolvedTitle, error)
	Prune(ctx context.Context) (int64, error)
}

// Policy maps a cache key to its lifetime. Zero means the entry never expires.
type Policy struct {
	Series   time.Duration
	Volatile time.Duration
}

// TTL keeps per-title detail records forever, lets series detail go stale
// after Series, and expires every aggregate view after Volatile.
func (p Policy) TTL(key domain.CacheKey) time.Duration {
	switch {
	case key.Variant == domain.VariantDetail && key.Kind == domain.SourceSeries:
		return p.Series
	case key.Variant == domain.VariantDetail:
		return 0
	case strings.HasPrefix(key.Variant, "season:"):
		return 0
	}
	return p.Volatile
}

type service struct {
	log    zerolog.Logger
	repo   domain.ResolutionRepo
	policy Policy
	group  singleflight.Group
	now    func() time.Time
}

func NewService(log zerolog.Logger, repo domain.ResolutionRepo, policy Policy) Service {
	return &service{
		log:    log.With().Str("module", "rescache").Logger(),
		repo:   repo,
		policy: policy,
		now:    time.Now,
	}
}

// Get returns domain.ErrCacheMiss when key is absent or expired.
func (s *service) Get(ctx context.Context, key domain.CacheKey) (*domain.ResolvedTitle, error) {
	return s.repo.Get(ctx, key, s.now())
}

func (s *service) Put(ctx context.Context, key domain.CacheKey, value domain.ResolvedTitle, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := s.now().Add(ttl)
		expiresAt = &t
	}

	if value.FetchedAt.IsZero() {
		value.FetchedAt = s.now()
	}

	return s.repo.Put(ctx, key, value, expiresAt)
}

// GetOrFetch serves key from the store, or runs fetch and writes the result
// through. Concurrent misses for the same key share a single fetch. Store
// failures are logged and never hide a successful fetch.
func (s *service) GetOrFetch(ctx context.Context, key domain.CacheKey, fetch FetchFunc) (*domain.ResolvedTitle, error) {
	cached, err := s.Get(ctx, key)
	if err == nil {
		s.log.Trace().Str("key", key.String()).Msg("cache hit")
		return cached, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("cache read failed, fetching upstream")
	}

	for attempt := 0; ; attempt++ {
		ch := s.group.DoChan(key.String(), func() (interface{}, error) {
			value, err := fetch(ctx)
			if err != nil {
				return nil, err
			}

			if err := s.Put(ctx, key, *value, s.policy.TTL(key)); err != nil {
				s.log.Warn().Err(err).Str("key", key.String()).Msg("cache write failed")
			}

			return value, nil
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}

		if res.Err != nil {
			// the caller that owned the shared fetch went away; fetch again
			// on our own context instead of failing with its cancellation
			if res.Shared && attempt == 0 && ctx.Err() == nil && isCancellation(res.Err) {
				continue
			}
			return nil, res.Err
		}

		if res.Shared {
			s.log.Trace().Str("key", key.String()).Msg("shared in-flight fetch")
		}
		return res.Val.(*domain.ResolvedTitle), nil
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Prune removes expired entries.
func (s *service) Prune(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune resolution cache")
	}

	s.log.Info().Int64("removed", n).Msg("pruned expired cache entries")
	return n, nil
}
