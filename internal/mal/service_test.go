package mal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/shinkrometa/internal/domain"
)

func TestAnime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client-id", r.Header.Get("X-MAL-CLIENT-ID"))
		switch r.URL.Path {
		case "/anime/5114":
			assert.Contains(t, r.URL.Query().Get("fields"), "related_anime")
			w.Write([]byte(`{"id":5114,"title":"Fullmetal Alchemist: Brotherhood","media_type":"tv","main_picture":{"medium":"m.jpg","large":"l.jpg"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := NewService(zerolog.Nop(), Options{ClientID: "client-id", APIURL: srv.URL})

	a, err := svc.Anime(context.Background(), 5114)
	require.NoError(t, err)
	assert.Equal(t, "Fullmetal Alchemist: Brotherhood", a.Title)
	assert.Equal(t, "tv", a.MediaType)
	assert.Equal(t, "l.jpg", a.PicturePath)
	assert.JSONEq(t, `{"id":5114,"title":"Fullmetal Alchemist: Brotherhood","media_type":"tv","main_picture":{"medium":"m.jpg","large":"l.jpg"}}`, string(a.Payload))

	_, err = svc.Anime(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRanking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/anime/ranking", r.URL.Path)
		assert.Equal(t, "airing", r.URL.Query().Get("ranking_type"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"data":[
			{"node":{"id":1,"title":"One","alternative_titles":{"en":"One EN"},"mean":8.5},"ranking":{"rank":1}},
			{"node":{"id":2,"title":"Two"},"ranking":{"rank":2}}
		]}`))
	}))
	defer srv.Close()

	svc := NewService(zerolog.Nop(), Options{APIURL: srv.URL})

	ranked, err := svc.Ranking(context.Background(), "airing", 10)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "One EN", ranked[0].EnglishTitle)
	assert.Equal(t, 2, ranked[1].Rank)
}

func TestAniDBID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/anime/1":
			w.Write([]byte(`<html><body>
				<a href="https://example.com">home</a>
				<a data-ga-click-type="external-links-anime-pc-anidb" href="https://anidb.net/perl-bin/animedb.pl?show=anime&amp;aid=23">AniDB</a>
			</body></html>`))
		case "/anime/2":
			w.Write([]byte(`<html><body><a href="https://anidb.net/anime/?aid=77">AniDB</a></body></html>`))
		case "/anime/3":
			w.Write([]byte(`<html><body>nothing here</body></html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := NewService(zerolog.Nop(), Options{WebURL: srv.URL, Timeout: 5 * time.Second})
	ctx := context.Background()

	id, err := svc.AniDBID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 23, id)

	id, err = svc.AniDBID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 77, id)

	id, err = svc.AniDBID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	// revisiting the same page must not be rejected
	id, err = svc.AniDBID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 23, id)

	_, err = svc.AniDBID(ctx, 4)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelayPacesCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	svc := NewService(zerolog.Nop(), Options{APIURL: srv.URL, Delay: 100 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := svc.Ranking(context.Background(), "airing", 1)
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)
}
