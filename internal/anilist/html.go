package anilist

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML reduces AniList's HTML descriptions to plain text. Line breaks
// survive as newlines.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				b.WriteByte('\n')
			}
		}
	}
}
