package metadata

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/shinkrometa/internal/anilist"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/internal/mal"
	"github.com/varoOP/shinkrometa/internal/tmdb"
)

type fakeTMDB struct {
	tmdb.Service
	series   *tmdb.Title
	episodes []tmdb.Episode
	images   *tmdb.Images
	err      error

	seriesCalls int
}

func (f *fakeTMDB) Series(context.Context, int) (*tmdb.Title, error) {
	f.seriesCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.series, nil
}

func (f *fakeTMDB) SeriesEpisodes(context.Context, int) (*tmdb.EpisodeList, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &tmdb.EpisodeList{
		Name:            f.series.Name,
		PosterPath:      f.series.PosterPath,
		NumberOfSeasons: f.series.NumberOfSeasons,
		Episodes:        f.episodes,
	}, nil
}

func (f *fakeTMDB) Images(context.Context, domain.TMDBType, int) (*tmdb.Images, error) {
	return f.images, nil
}

type fakeMAL struct {
	mal.Service
	anime *mal.Anime
}

func (f *fakeMAL) Anime(context.Context, int) (*mal.Anime, error) {
	return f.anime, nil
}

type fakeAniList struct {
	anilist.Service
	media *anilist.Media
}

func (f *fakeAniList) Relations(context.Context, int) (*anilist.Media, error) {
	return f.media, nil
}

func TestFetchSeries_External(t *testing.T) {
	tm := &fakeTMDB{series: &tmdb.Title{
		ID:          1396,
		Name:        "Breaking Bad",
		PosterPath:  "/bb.jpg",
		ExternalIDs: tmdb.ExternalIDs{TvdbID: 81189, ImdbID: "tt0903747"},
		Payload:     json.RawMessage(`{"id":1396}`),
	}}
	f := NewFetcher(zerolog.Nop(), tm, nil, nil)

	res, err := f.FetchSeries(context.Background(), 1396)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceSeries, res.Kind)
	assert.Equal(t, "1396", res.SourceID)
	assert.Equal(t, "Breaking Bad", res.Title)
	assert.Equal(t, domain.IdentifierRecord{TvdbID: 81189, TmdbID: 1396, TmdbType: domain.TMDBTV, ImdbID: "tt0903747"}, res.External)
}

func TestFetchSeries_PropagatesUpstreamError(t *testing.T) {
	f := NewFetcher(zerolog.Nop(), &fakeTMDB{err: domain.ErrUpstream}, nil, nil)

	_, err := f.FetchSeries(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestFetchEpisodes_FiltersByAirDate(t *testing.T) {
	tm := &fakeTMDB{
		series: &tmdb.Title{ID: 37854, Name: "One Piece", NumberOfSeasons: 2},
		episodes: []tmdb.Episode{
			{ID: 1, AirDate: "2023-12-31", SeasonNumber: 1, EpisodeNumber: 1},
			{ID: 2, AirDate: "2024-01-01", SeasonNumber: 1, EpisodeNumber: 2},
			{ID: 3, AirDate: "2024-01-08", SeasonNumber: 2, EpisodeNumber: 1},
			{ID: 4, AirDate: "2024-01-15", SeasonNumber: 2, EpisodeNumber: 2},
			{ID: 5, AirDate: "", SeasonNumber: 2, EpisodeNumber: 3},
		},
	}
	f := NewFetcher(zerolog.Nop(), tm, nil, nil)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	res, err := f.FetchEpisodes(context.Background(), 37854, from, to)
	require.NoError(t, err)

	var payload episodesPayload
	require.NoError(t, json.Unmarshal(res.Payload, &payload))
	assert.Equal(t, "2024-01-01", payload.Start)
	assert.Equal(t, "2024-01-08", payload.End)
	assert.Equal(t, "One Piece", res.Title)
	assert.Zero(t, tm.seriesCalls, "episodes must not need the full series detail")
	if assert.Len(t, payload.Episodes, 2) {
		assert.Equal(t, 2, payload.Episodes[0].ID)
		assert.Equal(t, 3, payload.Episodes[1].ID)
	}
}

func TestFetchImages(t *testing.T) {
	tm := &fakeTMDB{images: &tmdb.Images{
		Logos: []tmdb.Image{{FilePath: "/logo.png", Iso6391: "en"}},
	}}
	f := NewFetcher(zerolog.Nop(), tm, nil, nil)

	res, err := f.FetchImages(context.Background(), domain.TMDBTV, 10, "logos")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"file_path":"/logo.png","iso_639_1":"en","vote_average":0,"vote_count":0,"width":0,"height":0}]`, string(res.Payload))

	res, err = f.FetchImages(context.Background(), domain.TMDBTV, 10, "posters")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(res.Payload))

	_, err = f.FetchImages(context.Background(), domain.TMDBTV, 10, "stills")
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestFetchAnimeDetail(t *testing.T) {
	m := &fakeMAL{anime: &mal.Anime{ID: 21, Title: "One Piece", MediaType: "tv", PicturePath: "/op.jpg", Payload: json.RawMessage(`{"id":21,"media_type":"tv"}`)}}
	f := NewFetcher(zerolog.Nop(), nil, m, nil)

	res, err := f.FetchAnimeDetail(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceAnime, res.Kind)
	assert.Equal(t, domain.IdentifierRecord{MalID: 21}, res.External)
	assert.Equal(t, domain.TMDBTV, AnimeMediaType(res.Payload))
}

func TestFetchAnimeRelations_RoundTripsThroughPayload(t *testing.T) {
	media := &anilist.Media{
		ID:     1,
		MalID:  100,
		Type:   "ANIME",
		Format: "TV",
		Title:  "A",
		Relations: []anilist.Relation{
			{Type: domain.RelationSequel, RawType: "SEQUEL", Node: anilist.Media{MalID: 200, Type: "ANIME"}},
			{Type: domain.RelationOther, RawType: "ADAPTATION", Node: anilist.Media{MalID: 300, Type: "MANGA"}},
			{Type: domain.RelationSideStory, RawType: "SIDE_STORY", Node: anilist.Media{MalID: 0, Type: "ANIME"}},
		},
	}
	f := NewFetcher(zerolog.Nop(), nil, nil, &fakeAniList{media: media})

	rel, err := f.FetchAnimeRelations(context.Background(), 100)
	require.NoError(t, err)
	want := []domain.RelationEdge{{FromID: 100, ToID: 200, RelationType: domain.RelationSequel}}
	assert.Equal(t, want, rel.Edges)
	assert.Equal(t, "TV", rel.Format)

	decoded, err := DecodeRelations(rel.Title)
	require.NoError(t, err)
	assert.Equal(t, want, decoded.Edges)
	assert.Equal(t, "TV", decoded.Format)
}

func TestAnimeMediaType(t *testing.T) {
	assert.Equal(t, domain.TMDBMovie, AnimeMediaType(json.RawMessage(`{"media_type":"movie"}`)))
	assert.Equal(t, domain.TMDBTV, AnimeMediaType(json.RawMessage(`{"media_type":"ona"}`)))
	assert.Equal(t, domain.TMDBType(""), AnimeMediaType(json.RawMessage(`{}`)))
	assert.Equal(t, domain.TMDBType(""), AnimeMediaType(json.RawMessage(`nope`)))
}
