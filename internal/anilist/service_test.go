package anilist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/shinkrometa/internal/domain"
)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newTestService(t *testing.T, h func(req gqlRequest) (int, string)) Service {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		status, body := h(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return NewService(zerolog.Nop(), srv.URL, srv.Client())
}

func TestRelations(t *testing.T) {
	svc := newTestService(t, func(req gqlRequest) (int, string) {
		assert.Contains(t, req.Query, "Media(idMal: $id, type: ANIME)")
		assert.EqualValues(t, 16498, req.Variables["id"])

		return http.StatusOK, `{"data":{"Media":{
			"id": 16498, "idMal": 16498, "type": "ANIME", "format": "TV",
			"title": {"romaji": "Shingeki no Kyojin", "english": "Attack on Titan"},
			"description": "Humanity <i>lives</i> inside walls.<br>Then a titan appears.",
			"coverImage": {"large": "cover.jpg"}, "bannerImage": null, "popularity": 100,
			"startDate": {"year": 2013},
			"relations": {"edges": [
				{"relationType": "SEQUEL", "node": {"id": 20958, "idMal": 25777, "type": "ANIME", "title": {"romaji": "S2"}, "coverImage": {"large": "s2.jpg"}, "startDate": {"year": 2017}}},
				{"relationType": "ADAPTATION", "node": {"id": 53390, "idMal": 23390, "type": "MANGA", "title": {"romaji": "Manga"}, "coverImage": {"large": ""}, "startDate": {"year": 2009}}},
				{"relationType": "SIDE_STORY", "node": {"id": 99, "idMal": null, "type": "ANIME", "title": {"romaji": "No MAL"}, "coverImage": {"large": ""}, "startDate": {"year": null}}}
			]}
		}}}`
	})

	media, err := svc.Relations(context.Background(), 16498)
	require.NoError(t, err)

	assert.Equal(t, "Shingeki no Kyojin", media.Title)
	assert.Equal(t, "Attack on Titan", media.EnglishTitle)
	assert.Equal(t, "Humanity lives inside walls.\nThen a titan appears.", media.Description)
	assert.Equal(t, "", media.BannerImage)
	require.Len(t, media.Relations, 3)
	assert.Equal(t, domain.RelationOther, media.Relations[1].Type)

	assert.Equal(t, []domain.RelationEdge{
		{FromID: 16498, ToID: 25777, RelationType: domain.RelationSequel},
	}, media.Edges())
}

func TestRelations_NotFound(t *testing.T) {
	svc := newTestService(t, func(gqlRequest) (int, string) {
		return http.StatusNotFound, `{"errors":[{"message":"Not Found.","status":404}],"data":{"Media":null}}`
	})

	_, err := svc.Relations(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRelations_ServerError(t *testing.T) {
	svc := newTestService(t, func(gqlRequest) (int, string) {
		return http.StatusInternalServerError, `{}`
	})

	_, err := svc.Relations(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestTrending(t *testing.T) {
	svc := newTestService(t, func(req gqlRequest) (int, string) {
		assert.Contains(t, req.Query, "media(sort: TRENDING_DESC, type: ANIME)")
		assert.EqualValues(t, 10, req.Variables["perPage"])

		return http.StatusOK, `{"data":{"Page":{"media":[
			{"id": 1, "idMal": 11, "type": "ANIME", "title": {"romaji": "A"}, "coverImage": {"large": "a.jpg"}, "trending": 50, "startDate": {"year": 2024}},
			{"id": 2, "idMal": 12, "type": "ANIME", "title": {"romaji": "B"}, "coverImage": {"large": "b.jpg"}, "trending": 40, "startDate": {"year": 2024}}
		]}}}`
	})

	media, err := svc.Trending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, media, 2)
	assert.Equal(t, 11, media[0].MalID)
	assert.Equal(t, 50, media[0].Trending)
	assert.Equal(t, "b.jpg", media[1].CoverImage)
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "", StripHTML(""))
	assert.Equal(t, "a & b", StripHTML("a &amp; b"))
	assert.Equal(t, "line one\nline two", StripHTML("<p>line one<br/>line two</p>"))
}
