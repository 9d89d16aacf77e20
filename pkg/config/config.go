package config

import "time"

// SourceConfig holds the crawl parameters for a single source URL
type SourceConfig struct {
	SourceURL       string   `yaml:"source_url"`
	Scope           string   `yaml:"scope"` // path | host | domain
	MaxPages        int      `yaml:"max_pages"`
	MaxDepth        int      `yaml:"max_depth"`
	MaxPagesPerRun  int      `yaml:"max_pages_per_run,omitempty"` // 0 = no per-run budget
	ExcludePatterns []string `yaml:"exclude_patterns,omitempty"`  // Regex patterns matched against URL paths
	Crawlable       *bool    `yaml:"crawlable,omitempty"`         // nil = true
}

// IsCrawlable reports whether runs may be started for this source
func (c *SourceConfig) IsCrawlable() bool {
	return c.Crawlable == nil || *c.Crawlable
}

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent           string        `yaml:"user_agent"`
	StateDir            string        `yaml:"state_dir"`
	OutputBaseDir       string        `yaml:"output_base_dir"`
	MinPolitenessDelay  time.Duration `yaml:"min_politeness_delay,omitempty"` // Floor between requests to one host
	FetchTimeout        time.Duration `yaml:"fetch_timeout,omitempty"`        // Per-fetch deadline
	MaxPageSizeBytes    int64         `yaml:"max_page_size_bytes,omitempty"`
	MaxRetries          int           `yaml:"max_retries,omitempty"` // Transient (5xx/429) retries within one fetch
	InitialRetryDelay   time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay       time.Duration `yaml:"max_retry_delay,omitempty"`
	CheckpointEvery     int           `yaml:"checkpoint_every,omitempty"`       // Pages between state checkpoints
	FrontierMemoryLimit int           `yaml:"frontier_memory_limit,omitempty"`  // Frontier entries kept in memory
	RegistryBatchSize   int           `yaml:"registry_batch_size,omitempty"`    // PageEntry records per batch file
	RegistryBackend     string        `yaml:"registry_backend,omitempty"`       // files | badger
	MaxURLRetries       int           `yaml:"max_url_retries,omitempty"`        // Cross-run fetch attempts before a URL is abandoned
	EnableSitemaps      bool          `yaml:"enable_sitemaps,omitempty"`        // Seed frontier from robots-discovered sitemaps
	MaxParallelSources  int           `yaml:"max_parallel_sources,omitempty"`   // Independent source crawls at once
	GlobalCrawlTimeout  time.Duration `yaml:"global_crawl_timeout,omitempty"`   // 0 = none
	HTTPClientSettings  HTTPClientConfig        `yaml:"http_client_settings,omitempty"`
	Sources             map[string]SourceConfig `yaml:"sources"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}
