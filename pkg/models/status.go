package models

// CrawlStatus represents the lifecycle state of a source crawl
type CrawlStatus string

const (
	CrawlStatusPending   CrawlStatus = "pending"   // Created, no run started yet
	CrawlStatusCrawling  CrawlStatus = "crawling"  // A run is (or was, if interrupted) active
	CrawlStatusPaused    CrawlStatus = "paused"    // Frontier non-empty, run budget exhausted or stopped
	CrawlStatusCompleted CrawlStatus = "completed" // Frontier drained; terminal
)

// String implements fmt.Stringer for logging
func (s CrawlStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s CrawlStatus) IsValid() bool {
	switch s {
	case CrawlStatusPending, CrawlStatusCrawling, CrawlStatusPaused, CrawlStatusCompleted:
		return true
	}
	return false
}

// IsTerminal returns true for statuses that no further run may mutate
func (s CrawlStatus) IsTerminal() bool {
	return s == CrawlStatusCompleted
}

// IsResumable returns true if a new run may pick the crawl up where it stopped.
// A "crawling" state on disk means the previous run was interrupted before its
// final save; resuming from the last checkpoint is exactly what it needs.
func (s CrawlStatus) IsResumable() bool {
	switch s {
	case CrawlStatusPending, CrawlStatusCrawling, CrawlStatusPaused:
		return true
	}
	return false
}

// PageStatus represents the fetch outcome of a discovered URL
type PageStatus string

const (
	PageStatusPending PageStatus = "pending" // Discovered, not yet attempted
	PageStatusFetched PageStatus = "fetched" // Fetched with a 2xx response, content stored
	PageStatusFailed  PageStatus = "failed"  // Network failure, timeout or non-2xx status
	PageStatusSkipped PageStatus = "skipped" // Blocked by robots.txt or an exclude pattern
)

// String implements fmt.Stringer for logging
func (s PageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusPending, PageStatusFetched, PageStatusFailed, PageStatusSkipped:
		return true
	}
	return false
}

// IsResolved returns true once the single fetch attempt has happened.
// Resolved entries are immutable.
func (s PageStatus) IsResolved() bool {
	return s == PageStatusFetched || s == PageStatusFailed || s == PageStatusSkipped
}
