package mal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly"
	"github.com/gocolly/colly/extensions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL = "https://api.myanimelist.net/v2"
	DefaultWebURL = "https://myanimelist.net"

	detailFields  = "id,title,main_picture,alternative_titles,start_date,end_date,synopsis,mean,rank,popularity,num_episodes,media_type,status,genres,studios,source,rating,average_episode_duration,start_season,pictures,background,related_anime"
	rankingFields = "media_type,start_date,alternative_titles{en},mean,popularity,synopsis"
)

var aidPattern = regexp.MustCompile(`aid=(\d+)`)

type Service interface {
	Anime(ctx context.Context, id int) (*Anime, error)
	Ranking(ctx context.Context, rankingType string, limit int) ([]RankedAnime, error)
	AniDBID(ctx context.Context, malID int) (int, error)
}

type service struct {
	log       zerolog.Logger
	apiURL    string
	webURL    string
	client    *http.Client
	collector *colly.Collector
	limiter   *rate.Limiter
}

type Anime struct {
	ID          int
	Title       string
	MediaType   string
	PicturePath string
	Payload     json.RawMessage
}

type picture struct {
	Medium string `json:"medium"`
	Large  string `json:"large"`
}

type RankedAnime struct {
	ID           int
	Title        string
	EnglishTitle string
	MediaType    string
	Synopsis     string
	PicturePath  string
	Mean         float64
	Popularity   int
	Rank         int
}

type MalResponse struct {
	Data []struct {
		Node struct {
			ID                int     `json:"id"`
			Title             string  `json:"title"`
			MainPicture       picture `json:"main_picture"`
			MediaType         string  `json:"media_type"`
			Synopsis          string  `json:"synopsis"`
			Mean              float64 `json:"mean"`
			Popularity        int     `json:"popularity"`
			AlternativeTitles struct {
				English string `json:"en"`
			} `json:"alternative_titles"`
		} `json:"node"`
		Ranking struct {
			Rank int `json:"rank"`
		} `json:"ranking"`
	} `json:"data"`
}

type clientIDTransport struct {
	Transport http.RoundTripper
	ClientID  string
}

func (c *clientIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}
	req.Header.Add("X-MAL-CLIENT-ID", c.ClientID)
	return c.Transport.RoundTrip(req)
}

type Options struct {
	ClientID string
	APIURL   string
	WebURL   string
	Timeout  time.Duration
	// Delay is the minimum gap between two calls to MyAnimeList.
	Delay    time.Duration
	CacheDir string
}

func NewService(log zerolog.Logger, opts Options) Service {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.WebURL == "" {
		opts.WebURL = DefaultWebURL
	}

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}

	collectorOpts := []func(*colly.Collector){colly.AllowURLRevisit()}
	if opts.CacheDir != "" {
		collectorOpts = append(collectorOpts, colly.CacheDir(opts.CacheDir))
	}

	cc := colly.NewCollector(collectorOpts...)
	if opts.Timeout > 0 {
		cc.SetRequestTimeout(opts.Timeout)
	}

	return &service{
		log:    log.With().Str("module", "mal").Logger(),
		apiURL: strings.TrimRight(opts.APIURL, "/"),
		webURL: strings.TrimRight(opts.WebURL, "/"),
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &clientIDTransport{ClientID: opts.ClientID},
		},
		collector: cc,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

func (s *service) Anime(ctx context.Context, id int) (*Anime, error) {
	var raw json.RawMessage
	if err := s.get(ctx, fmt.Sprintf("/anime/%d", id), url.Values{"fields": {detailFields}}, &raw); err != nil {
		return nil, err
	}

	var head struct {
		ID          int     `json:"id"`
		Title       string  `json:"title"`
		MediaType   string  `json:"media_type"`
		MainPicture picture `json:"main_picture"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, errors.Wrap(err, "failed to decode anime")
	}

	return &Anime{
		ID:          head.ID,
		Title:       head.Title,
		MediaType:   head.MediaType,
		PicturePath: head.MainPicture.Large,
		Payload:     raw,
	}, nil
}

// Ranking returns the first page of a MAL ranking, e.g. "airing" for the
// currently hot list.
func (s *service) Ranking(ctx context.Context, rankingType string, limit int) ([]RankedAnime, error) {
	params := url.Values{
		"ranking_type": {rankingType},
		"limit":        {strconv.Itoa(limit)},
		"fields":       {rankingFields},
	}

	res := &MalResponse{}
	if err := s.get(ctx, "/anime/ranking", params, res); err != nil {
		return nil, err
	}

	out := make([]RankedAnime, 0, len(res.Data))
	for _, v := range res.Data {
		out = append(out, RankedAnime{
			ID:           v.Node.ID,
			Title:        v.Node.Title,
			EnglishTitle: v.Node.AlternativeTitles.English,
			MediaType:    v.Node.MediaType,
			Synopsis:     v.Node.Synopsis,
			PicturePath:  v.Node.MainPicture.Large,
			Mean:         v.Node.Mean,
			Popularity:   v.Node.Popularity,
			Rank:         v.Ranking.Rank,
		})
	}

	return out, nil
}

// AniDBID scrapes the anime page for its AniDB external link. Zero means the
// page has no such link.
func (s *service) AniDBID(ctx context.Context, malID int) (int, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	cc := s.collector.Clone()
	extensions.RandomUserAgent(cc)

	var (
		anidbID int
		status  int
	)

	cc.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if anidbID != 0 {
			return
		}

		href := e.Attr("href")
		if e.Attr("data-ga-click-type") != "external-links-anime-pc-anidb" && !strings.Contains(href, "anidb.net") {
			return
		}

		m := aidPattern.FindStringSubmatch(href)
		if len(m) < 2 {
			return
		}

		id, err := strconv.Atoi(m[1])
		if err != nil {
			s.log.Warn().Err(err).Str("url", href).Msg("failed to parse AniDB ID")
			return
		}

		anidbID = id
	})

	cc.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	target := fmt.Sprintf("%s/anime/%d", s.webURL, malID)
	s.log.Debug().Str("url", target).Msg("visiting")

	if err := cc.Visit(target); err != nil {
		if status == http.StatusNotFound {
			return 0, errors.Wrapf(domain.ErrNotFound, "mal page %d", malID)
		}
		return 0, errors.Wrapf(domain.ErrUpstream, "mal page %d: %v", malID, err)
	}

	if anidbID != 0 {
		s.log.Debug().Int("anidbid", anidbID).Int("malid", malID).Msg("Parsed AniDB ID")
	}

	return anidbID, nil
}

func (s *service) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	target := s.apiURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(domain.ErrUpstream, "mal %s: %v", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(domain.ErrNotFound, "mal %s", path)
	case resp.StatusCode != http.StatusOK:
		return errors.Wrapf(domain.ErrUpstream, "mal %s: unexpected status code %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(domain.ErrUpstream, "mal %s: failed to unmarshal response: %v", path, err)
	}

	return nil
}
