package rescache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/shinkrometa/internal/domain"
)

type memEntry struct {
	value     domain.ResolvedTitle
	expiresAt *time.Time
}

type memRepo struct {
	mu      sync.Mutex
	entries map[domain.CacheKey]memEntry
	putErr  error
	getErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{entries: map[domain.CacheKey]memEntry{}}
}

func (m *memRepo) Get(_ context.Context, key domain.CacheKey, now time.Time) (*domain.ResolvedTitle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.entries[key]
	if !ok || (e.expiresAt != nil && !e.expiresAt.After(now)) {
		return nil, domain.ErrCacheMiss
	}
	v := e.value
	return &v, nil
}

func (m *memRepo) Put(_ context.Context, key domain.CacheKey, value domain.ResolvedTitle, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.putErr != nil {
		return m.putErr
	}
	m.entries[key] = memEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (m *memRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, e := range m.entries {
		if e.expiresAt != nil && !e.expiresAt.After(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func newTestService(repo domain.ResolutionRepo, now *time.Time) *service {
	svc := NewService(zerolog.Nop(), repo, Policy{Series: 24 * time.Hour, Volatile: time.Hour}).(*service)
	svc.now = func() time.Time { return *now }
	return svc
}

func TestPutGet_RoundTripUntilTTL(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(newMemRepo(), &now)
	ctx := context.Background()

	key := domain.CacheKey{Kind: domain.SourceAnime, ID: "1", Variant: domain.VariantEpisodes("2024-01-01", "null")}
	value := domain.ResolvedTitle{Kind: domain.SourceAnime, SourceID: "1", Title: "x", Payload: []byte(`[1,2]`)}

	require.NoError(t, svc.Put(ctx, key, value, time.Hour))

	got, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value.Title, got.Title)
	assert.Equal(t, value.Payload, got.Payload)
	assert.Equal(t, now, got.FetchedAt)

	now = now.Add(59 * time.Minute)
	_, err = svc.Get(ctx, key)
	assert.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = svc.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	n, err := svc.Prune(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPolicy_TTL(t *testing.T) {
	p := Policy{Series: 24 * time.Hour, Volatile: time.Hour}

	assert.Zero(t, p.TTL(domain.CacheKey{Kind: domain.SourceMovie, Variant: domain.VariantDetail}))
	assert.Zero(t, p.TTL(domain.CacheKey{Kind: domain.SourceAnime, Variant: domain.VariantDetail}))
	assert.Zero(t, p.TTL(domain.CacheKey{Kind: domain.SourceSeries, Variant: domain.VariantSeason(2)}))
	assert.Equal(t, 24*time.Hour, p.TTL(domain.CacheKey{Kind: domain.SourceSeries, Variant: domain.VariantDetail}))
	assert.Equal(t, time.Hour, p.TTL(domain.CacheKey{Kind: domain.SourceAnime, Variant: domain.VariantChain}))
	assert.Equal(t, time.Hour, p.TTL(domain.CacheKey{Kind: domain.SourceAnime, Variant: domain.VariantImages("logos")}))
	assert.Equal(t, time.Hour, p.TTL(domain.CacheKey{Kind: domain.SourceSearch, Variant: domain.VariantDetail + "x"}))
}

func TestGetOrFetch_WritesThrough(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	svc := newTestService(repo, &now)
	ctx := context.Background()

	key := domain.CacheKey{Kind: domain.SourceMovie, ID: "550", Variant: domain.VariantDetail}
	calls := 0
	fetch := func(context.Context) (*domain.ResolvedTitle, error) {
		calls++
		return &domain.ResolvedTitle{Kind: domain.SourceMovie, SourceID: "550", Title: "Fight Club"}, nil
	}

	first, err := svc.GetOrFetch(ctx, key, fetch)
	require.NoError(t, err)
	assert.Equal(t, "Fight Club", first.Title)

	now = now.AddDate(5, 0, 0)
	second, err := svc.GetOrFetch(ctx, key, fetch)
	require.NoError(t, err)
	assert.Equal(t, "Fight Club", second.Title)
	assert.Equal(t, 1, calls)

	assert.Nil(t, repo.entries[key].expiresAt)
}

func TestGetOrFetch_CoalescesConcurrentMisses(t *testing.T) {
	now := time.Now()
	svc := newTestService(newMemRepo(), &now)

	key := domain.CacheKey{Kind: domain.SourceSeries, ID: "1", Variant: domain.VariantDetail}
	release := make(chan struct{})
	var calls atomic.Int32

	fetch := func(context.Context) (*domain.ResolvedTitle, error) {
		calls.Add(1)
		<-release
		return &domain.ResolvedTitle{Title: "shared"}, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.GetOrFetch(context.Background(), key, fetch)
			if assert.NoError(t, err) {
				results[i] = v.Title
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestGetOrFetch_ErrorsAreNotCached(t *testing.T) {
	now := time.Now()
	svc := newTestService(newMemRepo(), &now)
	key := domain.CacheKey{Kind: domain.SourceMovie, ID: "1", Variant: domain.VariantDetail}

	_, err := svc.GetOrFetch(context.Background(), key, func(context.Context) (*domain.ResolvedTitle, error) {
		return nil, errors.Wrap(domain.ErrUpstream, "boom")
	})
	assert.ErrorIs(t, err, domain.ErrUpstream)

	v, err := svc.GetOrFetch(context.Background(), key, func(context.Context) (*domain.ResolvedTitle, error) {
		return &domain.ResolvedTitle{Title: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v.Title)
}

func TestGetOrFetch_StoreFailuresAreAbsorbed(t *testing.T) {
	now := time.Now()
	repo := newMemRepo()
	repo.getErr = errors.New("database is locked")
	repo.putErr = errors.New("database is locked")
	svc := newTestService(repo, &now)

	key := domain.CacheKey{Kind: domain.SourceMovie, ID: "1", Variant: domain.VariantDetail}
	v, err := svc.GetOrFetch(context.Background(), key, func(context.Context) (*domain.ResolvedTitle, error) {
		return &domain.ResolvedTitle{Title: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v.Title)
}
