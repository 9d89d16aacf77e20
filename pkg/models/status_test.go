package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrawlStatusLifecycle(t *testing.T) {
	assert.True(t, CrawlStatusPending.IsResumable())
	assert.True(t, CrawlStatusCrawling.IsResumable(), "interrupted runs resume from their checkpoint")
	assert.True(t, CrawlStatusPaused.IsResumable())
	assert.False(t, CrawlStatusCompleted.IsResumable())

	assert.True(t, CrawlStatusCompleted.IsTerminal())
	assert.False(t, CrawlStatusPaused.IsTerminal())

	assert.False(t, CrawlStatus("archived").IsValid())
	assert.Equal(t, "unset", CrawlStatus("").String())
}

func TestPageStatusResolution(t *testing.T) {
	assert.False(t, PageStatusPending.IsResolved())
	assert.True(t, PageStatusFetched.IsResolved())
	assert.True(t, PageStatusFailed.IsResolved())
	assert.True(t, PageStatusSkipped.IsResolved())

	assert.False(t, PageStatus("stored").IsValid())
}

func TestFrontierSizeIncludesOverflow(t *testing.T) {
	st := &CrawlState{
		Frontier:      []FrontierItem{{URL: "https://a"}, {URL: "https://b"}},
		OverflowCount: 5,
	}
	assert.Equal(t, 7, st.FrontierSize())
}

func TestNewProgressUpdate(t *testing.T) {
	st := &CrawlState{
		SourceURL:       "https://docs.example.com/",
		SourceHash:      "abc",
		RunID:           "run-1",
		Status:          CrawlStatusCrawling,
		VisitedCount:    3,
		DiscoveredCount: 10,
		Frontier:        []FrontierItem{{URL: "https://x"}},
	}
	u := NewProgressUpdate(st)
	assert.Equal(t, "run-1", u.RunID)
	assert.Equal(t, CrawlStatusCrawling, u.Status)
	assert.Equal(t, 3, u.VisitedCount)
	assert.Equal(t, 1, u.FrontierSize)
	assert.False(t, u.Timestamp.IsZero())
}
