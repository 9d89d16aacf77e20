package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitecrawl/pkg/config"
)

func testRobotsChecker(t *testing.T) *RobotsChecker {
	t.Helper()
	cfg := &config.AppConfig{
		UserAgent:        "sitecrawl-test/1.0",
		FetchTimeout:     5 * time.Second,
		MaxPageSizeBytes: 1 << 20,
		MaxRetries:       0,
		// Politeness floor is irrelevant for these tests, keep them fast.
		MinPolitenessDelay: time.Millisecond,
	}
	client := &http.Client{Timeout: cfg.FetchTimeout}
	fetcher := NewFetcher(client, cfg, testLog())
	limiter := NewRateLimiter(testLog())
	return NewRobotsChecker(fetcher, limiter, cfg, testLog())
}

func serveRobots(t *testing.T, robotsBody string, robotsStatus int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			if robotsStatus != http.StatusOK {
				w.WriteHeader(robotsStatus)
				return
			}
			w.Write([]byte(robotsBody))
			return
		}
		w.Write([]byte("page"))
	}))
	t.Cleanup(server.Close)
	return server
}

func serverURL(t *testing.T, server *httptest.Server, path string) *url.URL {
	t.Helper()
	u, err := url.Parse(server.URL + path)
	require.NoError(t, err)
	return u
}

func TestCanFetchHonorsDisallow(t *testing.T) {
	server := serveRobots(t, "User-agent: *\nDisallow: /private/\n", http.StatusOK)
	rc := testRobotsChecker(t)
	ctx := context.Background()

	assert.True(t, rc.CanFetch(ctx, serverURL(t, server, "/docs/intro")))
	assert.False(t, rc.CanFetch(ctx, serverURL(t, server, "/private/secrets")))
	assert.True(t, rc.CanFetch(ctx, serverURL(t, server, "/")))
}

func TestCanFetchAgentSpecificGroup(t *testing.T) {
	robots := "User-agent: sitecrawl-test\nDisallow: /blocked/\n\nUser-agent: *\nDisallow:\n"
	server := serveRobots(t, robots, http.StatusOK)
	rc := testRobotsChecker(t)

	assert.False(t, rc.CanFetch(context.Background(), serverURL(t, server, "/blocked/x")))
	assert.True(t, rc.CanFetch(context.Background(), serverURL(t, server, "/open")))
}

func TestCanFetchDefaultsToAllowOnMissingRobots(t *testing.T) {
	server := serveRobots(t, "", http.StatusNotFound)
	rc := testRobotsChecker(t)

	assert.True(t, rc.CanFetch(context.Background(), serverURL(t, server, "/anything")))
}

func TestCanFetchDefaultsToAllowOnServerError(t *testing.T) {
	server := serveRobots(t, "", http.StatusInternalServerError)
	rc := testRobotsChecker(t)

	assert.True(t, rc.CanFetch(context.Background(), serverURL(t, server, "/anything")))
}

func TestRobotsFetchedOncePerHost(t *testing.T) {
	var robotsHits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			atomic.AddInt32(&robotsHits, 1)
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.Write([]byte("page"))
	}))
	defer server.Close()

	rc := testRobotsChecker(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		rc.CanFetch(ctx, serverURL(t, server, "/docs"))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&robotsHits))
}

func TestCrawlDelay(t *testing.T) {
	server := serveRobots(t, "User-agent: *\nCrawl-delay: 2\n", http.StatusOK)
	rc := testRobotsChecker(t)

	u := serverURL(t, server, "/")
	assert.Equal(t, time.Duration(0), rc.CrawlDelay(u.Hostname()), "no delay before rules are loaded")

	rc.CanFetch(context.Background(), u)
	assert.Equal(t, 2*time.Second, rc.CrawlDelay(u.Hostname()))
}

func TestSitemapsFromRobots(t *testing.T) {
	robots := "User-agent: *\nDisallow:\nSitemap: https://example.com/sitemap.xml\nSitemap: https://example.com/news.xml\n"
	server := serveRobots(t, robots, http.StatusOK)
	rc := testRobotsChecker(t)

	u := serverURL(t, server, "/")
	assert.Empty(t, rc.Sitemaps(u.Hostname()))

	rc.CanFetch(context.Background(), u)
	assert.Equal(t, []string{"https://example.com/sitemap.xml", "https://example.com/news.xml"}, rc.Sitemaps(u.Hostname()))
}
