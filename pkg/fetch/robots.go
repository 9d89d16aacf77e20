package fetch

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"sitecrawl/pkg/config"
)

// RobotsChecker fetches and caches robots.txt per host for the lifetime of a
// run. Fetch failures and parse failures default to allow-all: an unreachable
// robots file never blocks a crawl, a parseable one is honored exactly.
type RobotsChecker struct {
	fetcher   *Fetcher
	limiter   *RateLimiter
	cfg       *config.AppConfig
	userAgent string

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData // Hostname -> parsed rules; nil = allow all

	log *logrus.Entry
}

// NewRobotsChecker creates a RobotsChecker sharing the run's fetcher and
// rate limiter, so robots requests count against the same politeness budget
// as page requests.
func NewRobotsChecker(fetcher *Fetcher, limiter *RateLimiter, cfg *config.AppConfig, log *logrus.Entry) *RobotsChecker {
	return &RobotsChecker{
		fetcher:   fetcher,
		limiter:   limiter,
		cfg:       cfg,
		userAgent: cfg.UserAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// CanFetch reports whether robots.txt permits fetching u, fetching and
// caching the host's rules on first use.
func (rc *RobotsChecker) CanFetch(ctx context.Context, u *url.URL) bool {
	data := rc.hostData(ctx, u)
	if data == nil {
		return true
	}
	return data.FindGroup(rc.userAgent).Test(u.Path)
}

// CrawlDelay returns the robots-declared crawl delay for host, or zero when
// none is declared or the host's rules were never loaded. The caller takes
// the max of this and the configured politeness floor.
func (rc *RobotsChecker) CrawlDelay(host string) time.Duration {
	rc.mu.Lock()
	data := rc.cache[host]
	rc.mu.Unlock()
	if data == nil {
		return 0
	}
	return data.FindGroup(rc.userAgent).CrawlDelay
}

// Sitemaps returns the sitemap URLs declared by the host's robots.txt, if
// its rules have been loaded.
func (rc *RobotsChecker) Sitemaps(host string) []string {
	rc.mu.Lock()
	data := rc.cache[host]
	rc.mu.Unlock()
	if data == nil {
		return nil
	}
	return data.Sitemaps
}

// hostData returns the cached rules for u's host, loading them on a miss.
// A nil return means "no rules, allow everything".
func (rc *RobotsChecker) hostData(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	host := u.Hostname()

	rc.mu.Lock()
	data, cached := rc.cache[host]
	rc.mu.Unlock()
	if cached {
		return data
	}

	data = rc.load(ctx, u)
	rc.mu.Lock()
	rc.cache[host] = data
	rc.mu.Unlock()
	return data
}

func (rc *RobotsChecker) load(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()
	rlog := rc.log.WithFields(logrus.Fields{"host": u.Hostname(), "robots_url": robotsURL})

	if err := rc.limiter.Wait(ctx, u.Hostname(), rc.cfg.MinPolitenessDelay); err != nil {
		rlog.Debugf("Politeness wait cancelled before robots fetch: %v", err)
		return nil
	}
	result, err := rc.fetcher.Fetch(ctx, robotsURL)
	rc.limiter.UpdateLastRequest(u.Hostname())

	if err != nil || result == nil {
		rlog.Infof("robots.txt unavailable, allowing all paths: %v", err)
		return nil
	}

	data, parseErr := robotstxt.FromBytes(result.Body)
	if parseErr != nil {
		rlog.Warnf("robots.txt unparseable, allowing all paths: %v", parseErr)
		return nil
	}
	rlog.WithField("sitemaps", len(data.Sitemaps)).Debug("Loaded robots.txt")
	return data
}
