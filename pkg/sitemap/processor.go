// Package sitemap collects candidate URLs from XML sitemaps declared in
// robots.txt. Collected URLs are frontier seeds only; they still pass the
// usual scope, dedup, and robots checks.
package sitemap

import (
	"context"
	"encoding/xml"

	"github.com/sirupsen/logrus"

	"sitecrawl/pkg/fetch"
	"sitecrawl/pkg/utils"
)

// maxChildSitemaps caps how many children of a sitemap index are fetched
const maxChildSitemaps = 50

type urlSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Processor fetches and parses sitemaps over the run's fetcher
type Processor struct {
	fetcher *fetch.Fetcher
	log     *logrus.Entry
}

// NewProcessor creates a Processor
func NewProcessor(fetcher *fetch.Fetcher, log *logrus.Entry) *Processor {
	return &Processor{fetcher: fetcher, log: log}
}

// Collect returns the page URLs listed by sitemapURL. A sitemap index is
// followed one level deep; nested indexes are logged and skipped.
func (p *Processor) Collect(ctx context.Context, sitemapURL string) ([]string, error) {
	urls, children, err := p.fetchOne(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	if len(children) > maxChildSitemaps {
		p.log.Warnf("Sitemap index %s lists %d children, taking first %d", sitemapURL, len(children), maxChildSitemaps)
		children = children[:maxChildSitemaps]
	}
	for _, child := range children {
		childURLs, grandchildren, err := p.fetchOne(ctx, child)
		if err != nil {
			p.log.Warnf("Skipping child sitemap %s: %v", child, err)
			continue
		}
		if len(grandchildren) > 0 {
			p.log.Warnf("Ignoring nested sitemap index %s", child)
		}
		urls = append(urls, childURLs...)
	}
	return urls, nil
}

func (p *Processor) fetchOne(ctx context.Context, sitemapURL string) (urls, children []string, err error) {
	result, err := p.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil, nil, err
	}

	var set urlSet
	if xmlErr := xml.Unmarshal(result.Body, &set); xmlErr == nil && len(set.URLs) > 0 {
		for _, u := range set.URLs {
			if u.Loc != "" {
				urls = append(urls, u.Loc)
			}
		}
		return urls, nil, nil
	}

	var index sitemapIndex
	if xmlErr := xml.Unmarshal(result.Body, &index); xmlErr == nil && len(index.Sitemaps) > 0 {
		for _, sm := range index.Sitemaps {
			if sm.Loc != "" {
				children = append(children, sm.Loc)
			}
		}
		return nil, children, nil
	}

	return nil, nil, utils.WrapErrorf(utils.ErrParsing, "XML sitemap %s has no recognizable entries", sitemapURL)
}
