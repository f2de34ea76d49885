package tmdb

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const creditLimit = 50

type trimFunc func(raw map[string]json.RawMessage) error

func buildTitle(raw map[string]json.RawMessage, trim trimFunc) (*Title, error) {
	var head struct {
		ID               int         `json:"id"`
		Title            string      `json:"title"`
		Name             string      `json:"name"`
		PosterPath       string      `json:"poster_path"`
		OriginalLanguage string      `json:"original_language"`
		NumberOfSeasons  int         `json:"number_of_seasons"`
		ExternalIDs      ExternalIDs `json:"external_ids"`
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-encode response")
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}

	if trim != nil {
		if err := trim(raw); err != nil {
			return nil, err
		}
		if logo := bestLogoFromRaw(raw, head.OriginalLanguage); logo != "" {
			raw["logo_path"] = mustMarshal(logo)
		}
		if b, err = json.Marshal(raw); err != nil {
			return nil, errors.Wrap(err, "failed to encode trimmed response")
		}
	}

	name := head.Title
	if name == "" {
		name = head.Name
	}

	return &Title{
		ID:               head.ID,
		Name:             name,
		PosterPath:       head.PosterPath,
		OriginalLanguage: head.OriginalLanguage,
		NumberOfSeasons:  head.NumberOfSeasons,
		ExternalIDs:      head.ExternalIDs,
		Payload:          b,
	}, nil
}

func trimMovie(raw map[string]json.RawMessage) error {
	if err := trimCredits(raw, "credits"); err != nil {
		return err
	}
	if err := reduceSpokenLanguages(raw); err != nil {
		return err
	}

	if body, ok := raw["release_dates"]; ok {
		var rd struct {
			Results []struct {
				Iso31661     string `json:"iso_3166_1"`
				ReleaseDates []struct {
					Certification string `json:"certification"`
				} `json:"release_dates"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &rd); err != nil {
			return errors.Wrap(err, "failed to decode release_dates")
		}

		certification := ""
		for _, r := range rd.Results {
			if r.Iso31661 != "US" {
				continue
			}
			for _, d := range r.ReleaseDates {
				if d.Certification != "" {
					certification = d.Certification
					break
				}
			}
		}

		delete(raw, "release_dates")
		raw["certification"] = mustMarshal(certification)
	}

	return nil
}

func trimSeries(raw map[string]json.RawMessage) error {
	if err := trimCredits(raw, "credits"); err != nil {
		return err
	}
	if err := trimCredits(raw, "aggregate_credits"); err != nil {
		return err
	}
	if err := reduceSpokenLanguages(raw); err != nil {
		return err
	}

	if body, ok := raw["content_ratings"]; ok {
		var cr struct {
			Results []contentRating `json:"results"`
		}
		if err := json.Unmarshal(body, &cr); err != nil {
			return errors.Wrap(err, "failed to decode content_ratings")
		}

		rating := ""
		if us, found := lo.Find(cr.Results, func(r contentRating) bool { return r.Iso31661 == "US" }); found {
			rating = us.Rating
		}

		raw["content_ratings"] = mustMarshal(rating)
	}

	return nil
}

type contentRating struct {
	Iso31661 string `json:"iso_3166_1"`
	Rating   string `json:"rating"`
}

type spokenLanguage struct {
	EnglishName string `json:"english_name"`
}

type creditEntry struct {
	raw        json.RawMessage
	order      int
	popularity float64
}

// trimCredits sorts cast by billing order and crew by popularity and keeps
// the first creditLimit of each.
func trimCredits(raw map[string]json.RawMessage, key string) error {
	body, ok := raw[key]
	if !ok {
		return nil
	}

	var credits map[string]json.RawMessage
	if err := json.Unmarshal(body, &credits); err != nil {
		return errors.Wrapf(err, "failed to decode %s", key)
	}

	cast, err := decodeCredits(credits["cast"])
	if err != nil {
		return errors.Wrapf(err, "failed to decode %s cast", key)
	}
	crew, err := decodeCredits(credits["crew"])
	if err != nil {
		return errors.Wrapf(err, "failed to decode %s crew", key)
	}

	sort.SliceStable(cast, func(i, j int) bool { return cast[i].order < cast[j].order })
	sort.SliceStable(crew, func(i, j int) bool { return crew[i].popularity > crew[j].popularity })

	credits["cast"] = encodeCredits(cast)
	credits["crew"] = encodeCredits(crew)
	raw[key] = mustMarshal(credits)

	return nil
}

func decodeCredits(body json.RawMessage) ([]creditEntry, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}

	out := make([]creditEntry, 0, len(items))
	for _, item := range items {
		var head struct {
			Order      int     `json:"order"`
			Popularity float64 `json:"popularity"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, err
		}
		out = append(out, creditEntry{raw: item, order: head.Order, popularity: head.Popularity})
	}

	return out, nil
}

func encodeCredits(entries []creditEntry) json.RawMessage {
	if len(entries) > creditLimit {
		entries = entries[:creditLimit]
	}
	return mustMarshal(lo.Map(entries, func(e creditEntry, _ int) json.RawMessage { return e.raw }))
}

func reduceSpokenLanguages(raw map[string]json.RawMessage) error {
	body, ok := raw["spoken_languages"]
	if !ok {
		return nil
	}

	var langs []spokenLanguage
	if err := json.Unmarshal(body, &langs); err != nil {
		return errors.Wrap(err, "failed to decode spoken_languages")
	}

	names := lo.Compact(lo.Map(langs, func(l spokenLanguage, _ int) string { return l.EnglishName }))
	if names == nil {
		names = []string{}
	}
	raw["spoken_languages"] = mustMarshal(names)

	return nil
}

func bestLogoFromRaw(raw map[string]json.RawMessage, originalLanguage string) string {
	body, ok := raw["images"]
	if !ok {
		return ""
	}

	var images Images
	if err := json.Unmarshal(body, &images); err != nil {
		return ""
	}

	return BestLogo(images.Logos, originalLanguage)
}

// BestLogo picks the most voted logo, preferring English, then the title's
// original language, then any language.
func BestLogo(logos []Image, originalLanguage string) string {
	pick := func(match func(Image) bool) string {
		best := -1
		for i, l := range logos {
			if l.FilePath == "" || !match(l) {
				continue
			}
			if best < 0 || l.VoteCount > logos[best].VoteCount {
				best = i
			}
		}
		if best < 0 {
			return ""
		}
		return logos[best].FilePath
	}

	if p := pick(func(l Image) bool { return l.Iso6391 == "en" }); p != "" {
		return p
	}
	if originalLanguage != "" {
		if p := pick(func(l Image) bool { return l.Iso6391 == originalLanguage }); p != "" {
			return p
		}
	}
	return pick(func(Image) bool { return true })
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
