package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"github.com/varoOP/shinkrometa/internal/domain"
)

const DefaultBaseURL = "https://api.themoviedb.org/3"

const defaultLanguage = "en-US"

var (
	movieAppend  = "credits,keywords,images,similar,videos,watch/providers,release_dates,external_ids"
	seriesAppend = "aggregate_credits,content_ratings,images,recommendations,videos,watch/providers,external_ids,credits,keywords"
)

// ExternalSource is the external_source parameter of the find endpoint.
type ExternalSource string

const (
	SourceTVDB ExternalSource = "tvdb_id"
	SourceIMDB ExternalSource = "imdb_id"
)

type Service interface {
	Movie(ctx context.Context, id int) (*Title, error)
	Series(ctx context.Context, id int) (*Title, error)
	Season(ctx context.Context, id, season int) (*Title, error)
	SeriesEpisodes(ctx context.Context, id int) (*EpisodeList, error)
	Images(ctx context.Context, mediaType domain.TMDBType, id int) (*Images, error)
	Find(ctx context.Context, source ExternalSource, externalID string) (*FindResult, error)
	ExternalIDs(ctx context.Context, mediaType domain.TMDBType, id int) (*ExternalIDs, error)
	Trending(ctx context.Context, mediaType domain.TMDBType) ([]TrendingResult, error)
	Search(ctx context.Context, query string) (json.RawMessage, error)
}

type service struct {
	log         zerolog.Logger
	apiKey      string
	baseURL     string
	client      *http.Client
	seasonChunk int
}

// Title is a trimmed detail response. Payload is what gets cached and served.
type Title struct {
	ID               int
	Name             string
	PosterPath       string
	OriginalLanguage string
	NumberOfSeasons  int
	ExternalIDs      ExternalIDs
	Payload          json.RawMessage
}

type ExternalIDs struct {
	ImdbID string `json:"imdb_id"`
	TvdbID int    `json:"tvdb_id"`
}

type Image struct {
	FilePath    string  `json:"file_path"`
	Iso6391     string  `json:"iso_639_1"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
}

type Images struct {
	ID        int     `json:"id"`
	Backdrops []Image `json:"backdrops"`
	Posters   []Image `json:"posters"`
	Logos     []Image `json:"logos"`
}

// ByType returns the list named by imageType (backdrops, posters or logos).
func (i *Images) ByType(imageType string) ([]Image, bool) {
	switch imageType {
	case "backdrops":
		return i.Backdrops, true
	case "posters":
		return i.Posters, true
	case "logos":
		return i.Logos, true
	}
	return nil, false
}

type Episode struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Overview      string  `json:"overview"`
	AirDate       string  `json:"air_date"`
	EpisodeNumber int     `json:"episode_number"`
	SeasonNumber  int     `json:"season_number"`
	StillPath     string  `json:"still_path"`
	Runtime       int     `json:"runtime"`
	VoteAverage   float64 `json:"vote_average"`
}

// EpisodeList is every episode of a series plus the header fields returned
// alongside the first season chunk.
type EpisodeList struct {
	Name            string
	PosterPath      string
	NumberOfSeasons int
	Episodes        []Episode
}

type FindItem struct {
	ID int `json:"id"`
}

type FindResult struct {
	MovieResults []FindItem `json:"movie_results"`
	TVResults    []FindItem `json:"tv_results"`
}

// First returns the first result of mediaType, or zero.
func (f *FindResult) First(mediaType domain.TMDBType) int {
	if mediaType == domain.TMDBMovie {
		if len(f.MovieResults) > 0 {
			return f.MovieResults[0].ID
		}
		return 0
	}
	if len(f.TVResults) > 0 {
		return f.TVResults[0].ID
	}
	return 0
}

type TrendingResult struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`
	Name             string  `json:"name"`
	Overview         string  `json:"overview"`
	PosterPath       string  `json:"poster_path"`
	BackdropPath     string  `json:"backdrop_path"`
	OriginalLanguage string  `json:"original_language"`
	Popularity       float64 `json:"popularity"`
}

func (r TrendingResult) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

func NewService(log zerolog.Logger, apiKey, baseURL string, client *http.Client, seasonChunk int) Service {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	if seasonChunk <= 0 {
		seasonChunk = 19
	}

	return &service{
		log:         log.With().Str("module", "tmdb").Logger(),
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      client,
		seasonChunk: seasonChunk,
	}
}

func (s *service) Movie(ctx context.Context, id int) (*Title, error) {
	raw := map[string]json.RawMessage{}
	if err := s.request(ctx, fmt.Sprintf("/movie/%d", id), url.Values{"append_to_response": {movieAppend}}, &raw); err != nil {
		return nil, err
	}

	return buildTitle(raw, trimMovie)
}

func (s *service) Series(ctx context.Context, id int) (*Title, error) {
	raw := map[string]json.RawMessage{}
	if err := s.request(ctx, fmt.Sprintf("/tv/%d", id), url.Values{"append_to_response": {seriesAppend}}, &raw); err != nil {
		return nil, err
	}

	return buildTitle(raw, trimSeries)
}

func (s *service) Season(ctx context.Context, id, season int) (*Title, error) {
	raw := map[string]json.RawMessage{}
	if err := s.get(ctx, fmt.Sprintf("/tv/%d/season/%d", id, season), nil, &raw); err != nil {
		return nil, err
	}

	return buildTitle(raw, nil)
}

// SeriesEpisodes collects every episode of series id. The provider caps
// append_to_response, so seasons are requested in chunks; the first chunk also
// carries the season count, so no separate detail request is made.
func (s *service) SeriesEpisodes(ctx context.Context, id int) (*EpisodeList, error) {
	var head struct {
		Name            string `json:"name"`
		PosterPath      string `json:"poster_path"`
		NumberOfSeasons int    `json:"number_of_seasons"`
	}

	episodes, err := s.chunkEpisodes(ctx, id, 1, s.seasonChunk, &head)
	if err != nil {
		return nil, err
	}

	if head.NumberOfSeasons > s.seasonChunk {
		rest, err := s.seasonEpisodes(ctx, id, s.seasonChunk+1, head.NumberOfSeasons)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, rest...)
	}

	sort.SliceStable(episodes, func(i, j int) bool {
		if episodes[i].SeasonNumber != episodes[j].SeasonNumber {
			return episodes[i].SeasonNumber < episodes[j].SeasonNumber
		}
		return episodes[i].EpisodeNumber < episodes[j].EpisodeNumber
	})

	return &EpisodeList{
		Name:            head.Name,
		PosterPath:      head.PosterPath,
		NumberOfSeasons: head.NumberOfSeasons,
		Episodes:        episodes,
	}, nil
}

func (s *service) seasonEpisodes(ctx context.Context, id, from, to int) ([]Episode, error) {
	p := pool.NewWithResults[[]Episode]().
		WithContext(ctx).
		WithMaxGoroutines(4).
		WithCancelOnError()

	for start := from; start <= to; start += s.seasonChunk {
		end := min(start+s.seasonChunk-1, to)

		p.Go(func(ctx context.Context) ([]Episode, error) {
			return s.chunkEpisodes(ctx, id, start, end, nil)
		})
	}

	chunks, err := p.Wait()
	if err != nil {
		return nil, err
	}

	var episodes []Episode
	for _, c := range chunks {
		episodes = append(episodes, c...)
	}
	return episodes, nil
}

// chunkEpisodes requests seasons start..end of series id in one call. When
// head is set the top-level series fields are decoded into it.
func (s *service) chunkEpisodes(ctx context.Context, id, start, end int, head any) ([]Episode, error) {
	appends := make([]string, 0, end-start+1)
	for n := start; n <= end; n++ {
		appends = append(appends, "season/"+strconv.Itoa(n))
	}

	var body json.RawMessage
	if err := s.get(ctx, fmt.Sprintf("/tv/%d", id), url.Values{"append_to_response": {strings.Join(appends, ",")}}, &body); err != nil {
		return nil, err
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrapf(domain.ErrUpstream, "tmdb /tv/%d: failed to decode response: %v", id, err)
	}
	if head != nil {
		if err := json.Unmarshal(body, head); err != nil {
			return nil, errors.Wrapf(domain.ErrUpstream, "tmdb /tv/%d: failed to decode response: %v", id, err)
		}
	}

	var episodes []Episode
	for _, key := range appends {
		season, ok := raw[key]
		if !ok {
			continue
		}

		var decoded struct {
			Episodes []Episode `json:"episodes"`
		}
		if err := json.Unmarshal(season, &decoded); err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s", key)
		}
		episodes = append(episodes, decoded.Episodes...)
	}

	s.log.Debug().Int("tmdb_id", id).Int("from", start).Int("to", end).Int("episodes", len(episodes)).Msg("fetched season chunk")
	return episodes, nil
}

func (s *service) Images(ctx context.Context, mediaType domain.TMDBType, id int) (*Images, error) {
	images := &Images{}
	if err := s.request(ctx, fmt.Sprintf("/%s/%d/images", mediaType, id), nil, images); err != nil {
		return nil, err
	}
	return images, nil
}

func (s *service) Find(ctx context.Context, source ExternalSource, externalID string) (*FindResult, error) {
	res := &FindResult{}
	if err := s.get(ctx, "/find/"+url.PathEscape(externalID), url.Values{"external_source": {string(source)}}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *service) ExternalIDs(ctx context.Context, mediaType domain.TMDBType, id int) (*ExternalIDs, error) {
	ids := &ExternalIDs{}
	if err := s.get(ctx, fmt.Sprintf("/%s/%d/external_ids", mediaType, id), nil, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *service) Trending(ctx context.Context, mediaType domain.TMDBType) ([]TrendingResult, error) {
	var res struct {
		Results []TrendingResult `json:"results"`
	}
	if err := s.get(ctx, fmt.Sprintf("/trending/%s/day", mediaType), nil, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

func (s *service) Search(ctx context.Context, query string) (json.RawMessage, error) {
	var raw json.RawMessage
	params := url.Values{
		"query":         {query},
		"include_adult": {"false"},
		"page":          {"1"},
	}
	if err := s.get(ctx, "/search/multi", params, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *service) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("language", defaultLanguage)

	return s.request(ctx, path, params, out)
}

// request sends params as given. The language parameter also filters images,
// so requests returning images leave it out and get every language; text
// fields then come back in the provider's default, English.
func (s *service) request(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", s.apiKey)

	target := s.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// the url carries the api key
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return errors.Wrapf(domain.ErrUpstream, "tmdb %s: %v", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(domain.ErrNotFound, "tmdb %s", path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return errors.Wrapf(domain.ErrUpstream, "tmdb %s: unexpected status code %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(domain.ErrUpstream, "tmdb %s: failed to decode response: %v", path, err)
	}

	s.log.Trace().Str("path", path).Msg("fetched")
	return nil
}
