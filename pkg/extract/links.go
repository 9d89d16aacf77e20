// Package extract turns fetched HTML into normalized absolute candidate URLs
// plus the small amount of page metadata the registry records.
package extract

import (
	"bytes"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// PageData is what link extraction yields for one fetched page
type PageData struct {
	Links          []string // Absolute, fragment-stripped, deduplicated, page order preserved
	Title          string
	ExtractedChars int // Rune count of the page's visible text, whitespace collapsed
}

// LinkExtractor parses HTML and produces candidate URLs for scope
// classification. It never fails: unparseable markup yields an empty link set
// so the page is still stored with zero outgoing links.
type LinkExtractor struct {
	log *logrus.Entry
}

// NewLinkExtractor creates a LinkExtractor
func NewLinkExtractor(log *logrus.Entry) *LinkExtractor {
	return &LinkExtractor{log: log}
}

// Extract parses body and resolves every <a href> against base.
// Non-http(s) schemes (javascript:, mailto:, tel:, ...) and empty hrefs are
// discarded here, before any scope check sees them. Fragments are stripped so
// anchor variants of one page collapse to a single candidate.
func (e *LinkExtractor) Extract(body []byte, base *url.URL) PageData {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.log.WithField("base_url", base.String()).Warnf("HTML parse failed, treating page as linkless: %v", err)
		return PageData{}
	}

	var data PageData
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}

		resolved, parseErr := base.Parse(href)
		if parseErr != nil {
			e.log.Debugf("Skipping unparseable href '%s': %v", href, parseErr)
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if resolved.Hostname() == "" {
			return
		}
		resolved.Fragment = ""

		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		data.Links = append(data.Links, abs)
	})

	data.Title = strings.TrimSpace(doc.Find("title").First().Text())
	data.ExtractedChars = utf8.RuneCountInString(condenseWhitespace(doc.Text()))

	return data
}

func condenseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
