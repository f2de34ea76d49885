package identmap

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/shinkrometa/internal/database"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/internal/tmdb"
	"github.com/varoOP/shinkrometa/pkg/animelist"
)

type fakeFinder struct {
	find      map[string]*tmdb.FindResult
	externals map[int]*tmdb.ExternalIDs
	findCalls int
}

func (f *fakeFinder) Find(_ context.Context, source tmdb.ExternalSource, externalID string) (*tmdb.FindResult, error) {
	f.findCalls++
	if res, ok := f.find[string(source)+":"+externalID]; ok {
		return res, nil
	}
	return &tmdb.FindResult{}, nil
}

func (f *fakeFinder) ExternalIDs(_ context.Context, _ domain.TMDBType, id int) (*tmdb.ExternalIDs, error) {
	if ids, ok := f.externals[id]; ok {
		return ids, nil
	}
	return nil, domain.ErrNotFound
}

type fakeLinker map[int]int

func (f fakeLinker) AniDBID(_ context.Context, malID int) (int, error) {
	return f[malID], nil
}

func tvResult(ids ...int) *tmdb.FindResult {
	res := &tmdb.FindResult{}
	for _, id := range ids {
		res.TVResults = append(res.TVResults, tmdb.FindItem{ID: id})
	}
	return res
}

func movieResult(ids ...int) *tmdb.FindResult {
	res := &tmdb.FindResult{}
	for _, id := range ids {
		res.MovieResults = append(res.MovieResults, tmdb.FindItem{ID: id})
	}
	return res
}

func newRepo(t *testing.T) domain.IdentifierRepo {
	t.Helper()

	db, err := database.NewDB(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return database.NewIdentifierRepo(zerolog.Nop(), db)
}

func TestDiscover_TvdbToTmdb(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	finder := &fakeFinder{find: map[string]*tmdb.FindResult{"tvdb_id:777": tvResult(555)}}
	svc := NewService(zerolog.Nop(), repo, finder, nil, nil)

	_, err := svc.Upsert(ctx, domain.IdentifierRecord{MalID: 42})
	require.NoError(t, err)

	rec, err := svc.Discover(ctx, domain.IdentifierRecord{MalID: 42, TvdbID: 777}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.IdentifierRecord{MalID: 42, TvdbID: 777, TmdbID: 555, TmdbType: domain.TMDBTV}, *rec)

	stored, err := svc.Resolve(ctx, domain.IDKindMAL, "42")
	require.NoError(t, err)
	assert.Equal(t, *rec, *stored)
	assert.Equal(t, 1, finder.findCalls)
}

func TestDiscover_FallsBackToAlternateType(t *testing.T) {
	ctx := context.Background()
	finder := &fakeFinder{find: map[string]*tmdb.FindResult{"tvdb_id:10": movieResult(20)}}
	svc := NewService(zerolog.Nop(), newRepo(t), finder, nil, nil)

	rec, err := svc.Discover(ctx, domain.IdentifierRecord{MalID: 1, TvdbID: 10}, domain.TMDBTV)
	require.NoError(t, err)
	assert.Equal(t, 20, rec.TmdbID)
	assert.Equal(t, domain.TMDBMovie, rec.TmdbType)
	assert.Equal(t, 1, finder.findCalls)
}

func TestDiscover_NoResultLeavesRecordPartial(t *testing.T) {
	ctx := context.Background()
	svc := NewService(zerolog.Nop(), newRepo(t), &fakeFinder{}, nil, nil)

	rec, err := svc.Discover(ctx, domain.IdentifierRecord{MalID: 1, TvdbID: 10}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.IdentifierRecord{MalID: 1, TvdbID: 10}, *rec)
}

func TestDiscover_MalThroughAniDBSnapshot(t *testing.T) {
	ctx := context.Background()

	snap, err := animelist.Parse(strings.NewReader(`<anime-list>
		<anime anidbid="69" tvdbid="81797" tmdbtv="37854" imdbid="tt0388629"><name>One Piece</name></anime>
	</anime-list>`))
	require.NoError(t, err)
	holder := &animelist.Holder{}
	holder.Set(snap)

	finder := &fakeFinder{}
	svc := NewService(zerolog.Nop(), newRepo(t), finder, fakeLinker{21: 69}, holder)

	rec, err := svc.Discover(ctx, domain.IdentifierRecord{MalID: 21}, domain.TMDBTV)
	require.NoError(t, err)
	assert.Equal(t, domain.IdentifierRecord{
		MalID: 21, AnidbID: 69, TvdbID: 81797, TmdbID: 37854, TmdbType: domain.TMDBTV, ImdbID: "tt0388629",
	}, *rec)
	assert.Zero(t, finder.findCalls)
}

func TestDiscover_TmdbSeriesToTvdb(t *testing.T) {
	ctx := context.Background()
	finder := &fakeFinder{externals: map[int]*tmdb.ExternalIDs{1396: {TvdbID: 81189, ImdbID: "tt0903747"}}}
	svc := NewService(zerolog.Nop(), newRepo(t), finder, nil, nil)

	rec, err := svc.Discover(ctx, domain.IdentifierRecord{TmdbID: 1396, TmdbType: domain.TMDBTV}, "")
	require.NoError(t, err)
	assert.Equal(t, 81189, rec.TvdbID)
	assert.Equal(t, "tt0903747", rec.ImdbID)
}

func TestUpsert_ConflictNewerWins(t *testing.T) {
	ctx := context.Background()
	svc := NewService(zerolog.Nop(), newRepo(t), nil, nil, nil)

	_, err := svc.Upsert(ctx, domain.IdentifierRecord{MalID: 5, TvdbID: 1})
	require.NoError(t, err)

	rec, err := svc.Upsert(ctx, domain.IdentifierRecord{MalID: 5, TvdbID: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TvdbID)
}
