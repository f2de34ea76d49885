package animelist

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const DefaultURL = "https://raw.githubusercontent.com/Anime-Lists/anime-lists/master/anime-list.xml"

// AnimeList mirrors anime-list.xml from the Anime-Lists project.
type AnimeList struct {
	XMLName xml.Name `xml:"anime-list"`
	Anime   []struct {
		Anidbid           string `xml:"anidbid,attr"`
		Tvdbid            string `xml:"tvdbid,attr"`
		Tmdbid            string `xml:"tmdbid,attr"`
		Tmdbtv            string `xml:"tmdbtv,attr"`
		Imdbid            string `xml:"imdbid,attr"`
		Defaulttvdbseason string `xml:"defaulttvdbseason,attr"`
		Name              string `xml:"name"`
	} `xml:"anime"`
}

// Entry is one AniDB title with its parsed cross references.
type Entry struct {
	AnidbID     int
	TvdbID      int
	TmdbMovieID int
	TmdbTVID    int
	ImdbID      string
	Name        string
}

// Snapshot is an immutable, indexed view of an anime list.
type Snapshot struct {
	LoadedAt time.Time

	byAniDB    map[int]Entry
	tvdb       map[int]struct{}
	tmdbMovies map[int]struct{}
}

// Parse decodes anime-list.xml and indexes it.
func Parse(r io.Reader) (*Snapshot, error) {
	al := &AnimeList{}
	if err := xml.NewDecoder(r).Decode(al); err != nil {
		return nil, errors.Wrap(err, "failed to decode anime list")
	}

	s := &Snapshot{
		LoadedAt:   time.Now(),
		byAniDB:    make(map[int]Entry, len(al.Anime)),
		tvdb:       make(map[int]struct{}),
		tmdbMovies: make(map[int]struct{}),
	}

	for _, a := range al.Anime {
		aid := firstID(a.Anidbid)
		if aid == 0 {
			continue
		}

		e := Entry{
			AnidbID:     aid,
			TvdbID:      firstID(a.Tvdbid),
			TmdbMovieID: firstID(a.Tmdbid),
			TmdbTVID:    firstID(a.Tmdbtv),
			ImdbID:      firstField(a.Imdbid),
			Name:        strings.TrimSpace(a.Name),
		}
		if !strings.HasPrefix(e.ImdbID, "tt") {
			e.ImdbID = ""
		}

		s.byAniDB[aid] = e
		if e.TvdbID > 0 {
			s.tvdb[e.TvdbID] = struct{}{}
		}
		if e.TmdbMovieID > 0 {
			s.tmdbMovies[e.TmdbMovieID] = struct{}{}
		}
	}

	return s, nil
}

// Load reads a snapshot from an anime-list.xml file. The snapshot's LoadedAt
// is the file's modification time so staleness survives restarts.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, err
	}

	if info, err := f.Stat(); err == nil {
		s.LoadedAt = info.ModTime()
	}

	return s, nil
}

// Download fetches the list from url and atomically replaces the file at path.
func Download(ctx context.Context, client *http.Client, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to fetch anime list")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".anime-list-*.xml")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write anime list")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to write anime list")
	}

	// validate before swapping so a truncated download never replaces a good file
	if _, err := Load(tmp.Name()); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func (s *Snapshot) Len() int {
	return len(s.byAniDB)
}

func (s *Snapshot) Lookup(aid int) (Entry, bool) {
	e, ok := s.byAniDB[aid]
	return e, ok
}

func (s *Snapshot) HasTvdb(tvdbID int) bool {
	_, ok := s.tvdb[tvdbID]
	return ok
}

func (s *Snapshot) HasTmdbMovie(tmdbID int) bool {
	_, ok := s.tmdbMovies[tmdbID]
	return ok
}

// Holder publishes the current snapshot. Readers never observe a partially
// loaded list.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

func (h *Holder) Set(s *Snapshot) {
	h.current.Store(s)
}

// Reload loads path and swaps it in. The previous snapshot is kept on error.
func (h *Holder) Reload(path string) (*Snapshot, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}

	h.Set(s)
	return s, nil
}

func firstField(v string) string {
	v, _, _ = strings.Cut(v, ",")
	return strings.TrimSpace(v)
}

func firstID(v string) int {
	id, err := strconv.Atoi(firstField(v))
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
