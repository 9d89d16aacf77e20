package models

import "time"

// FrontierItem is one discovered, not-yet-visited URL waiting in the frontier
type FrontierItem struct {
	URL            string `json:"url"`
	Depth          int    `json:"depth"`                     // Link hops from the source URL
	DiscoveredFrom string `json:"discovered_from,omitempty"` // Referrer URL, empty for the seed
	Attempts       int    `json:"attempts,omitempty"`        // Prior failed fetch attempts (cross-run retries)
}

// CrawlState is the durable per-source crawl record. It is an explicit value
// owned by the orchestrator for the duration of a run and persisted by the
// state manager at every checkpoint; it is never a process-wide singleton.
type CrawlState struct {
	SourceURL  string      `json:"source_url"`
	SourceHash string      `json:"source_hash"` // SHA-256 hex of the source URL, names the state dir
	Scope      string      `json:"scope"`       // path | host | domain
	Status     CrawlStatus `json:"status"`
	RunID      string      `json:"run_id,omitempty"` // UUID of the most recent run

	// Frontier holds the in-memory portion of the queue; entries beyond the
	// configured memory limit live in the overflow file next to the state file.
	Frontier      []FrontierItem `json:"frontier"`
	OverflowCount int            `json:"overflow_count,omitempty"`

	// VisitedHashes holds URL digests already fetched or rejected as
	// duplicates. Invariant: frontier and visited never intersect.
	VisitedHashes map[string]bool `json:"visited_hashes"`

	// Failed holds URLs whose fetch failed in some run. They re-enter the
	// frontier on the next run until their attempt budget is exhausted.
	Failed []FrontierItem `json:"failed,omitempty"`

	DiscoveredCount int `json:"discovered_count"`
	InScopeCount    int `json:"in_scope_count"`
	OutOfScopeCount int `json:"out_of_scope_count"`
	SkippedCount    int `json:"skipped_count"`
	FailedCount     int `json:"failed_count"`
	VisitedCount    int `json:"visited_count"`

	// Config snapshot taken at creation so a resumed run behaves identically.
	MaxPages        int      `json:"max_pages"`
	MaxDepth        int      `json:"max_depth"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`

	ContentRoot  string `json:"content_root"`
	RegistryPath string `json:"registry_path"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FrontierSize returns the total queued URL count, overflow included
func (s *CrawlState) FrontierSize() int {
	return len(s.Frontier) + s.OverflowCount
}

// Snapshot captures the per-source crawl limits recorded into a new CrawlState
type Snapshot struct {
	Scope           string
	MaxPages        int
	MaxDepth        int
	ExcludePatterns []string
	ContentRoot     string
	RegistryPath    string
}

// PageEntry records one discovered URL. It is created with status pending and
// transitions exactly once, on its single fetch attempt; afterwards it is
// immutable. A cross-run retry writes a fresh entry with a higher Attempt.
type PageEntry struct {
	URL            string `json:"url"`
	URLHash        string `json:"url_hash"`
	SourceURL      string `json:"source_url"`
	DiscoveredFrom string `json:"discovered_from,omitempty"`
	LinkDepth      int    `json:"link_depth"`
	Attempt        int    `json:"attempt,omitempty"`

	Status PageStatus `json:"status"`

	DiscoveredAt time.Time  `json:"discovered_at"`
	FetchedAt    *time.Time `json:"fetched_at,omitempty"`

	HTTPStatus   int    `json:"http_status,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"` // Category string from utils.CategorizeError

	ContentHash    string `json:"content_hash,omitempty"`
	ContentPath    string `json:"content_path,omitempty"` // Relative to the content root
	ContentSize    int64  `json:"content_size,omitempty"`
	ExtractedChars int    `json:"extracted_chars,omitempty"`

	Title                string `json:"title,omitempty"`
	OutgoingLinksCount   int    `json:"outgoing_links_count,omitempty"`
	OutgoingLinksInScope int    `json:"outgoing_links_in_scope,omitempty"`
}

// SourceEntry is the external registry record this subsystem consumes crawl
// parameters from and reports progress onto. Its lifecycle belongs elsewhere.
type SourceEntry struct {
	SourceURL     string `json:"source_url"`
	IsCrawlable   bool   `json:"is_crawlable"`
	CrawlScope    string `json:"crawl_scope"`
	CrawlMaxPages int    `json:"crawl_max_pages"`
	CrawlMaxDepth int    `json:"crawl_max_depth"`

	TotalPagesDiscovered int        `json:"total_pages_discovered"`
	TotalPagesAcquired   int        `json:"total_pages_acquired"`
	LastCrawlStartedAt   *time.Time `json:"last_crawl_started_at,omitempty"`
	LastCrawlFinishedAt  *time.Time `json:"last_crawl_finished_at,omitempty"`
}

// ProgressUpdate is the signal emitted to the external tracking collaborator
// at each checkpoint and at run end.
type ProgressUpdate struct {
	RunID      string      `json:"run_id"`
	SourceURL  string      `json:"source_url"`
	SourceHash string      `json:"source_hash"`
	Status     CrawlStatus `json:"status"`

	VisitedCount    int `json:"visited_count"`
	FrontierSize    int `json:"frontier_size"`
	DiscoveredCount int `json:"discovered_count"`
	InScopeCount    int `json:"in_scope_count"`
	OutOfScopeCount int `json:"out_of_scope_count"`
	SkippedCount    int `json:"skipped_count"`
	FailedCount     int `json:"failed_count"`

	Timestamp time.Time `json:"timestamp"`
}

// NewProgressUpdate builds a ProgressUpdate from the current crawl state
func NewProgressUpdate(state *CrawlState) ProgressUpdate {
	return ProgressUpdate{
		RunID:           state.RunID,
		SourceURL:       state.SourceURL,
		SourceHash:      state.SourceHash,
		Status:          state.Status,
		VisitedCount:    state.VisitedCount,
		FrontierSize:    state.FrontierSize(),
		DiscoveredCount: state.DiscoveredCount,
		InScopeCount:    state.InScopeCount,
		OutOfScopeCount: state.OutOfScopeCount,
		SkippedCount:    state.SkippedCount,
		FailedCount:     state.FailedCount,
		Timestamp:       time.Now().UTC(),
	}
}
