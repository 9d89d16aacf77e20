package config

import (
	"net/url"
	"time"

	"sitecrawl/pkg/scope"
	"sitecrawl/pkg/utils"
)

// RegistryBackendFiles batches PageEntry records into numbered JSON files;
// RegistryBackendBadger keeps them in a BadgerDB table instead.
const (
	RegistryBackendFiles  = "files"
	RegistryBackendBadger = "badger"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		warnings = append(warnings, "user_agent is empty, defaulting to 'sitecrawl/1.0'")
		c.UserAgent = "sitecrawl/1.0"
	}

	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawl_state'")
		c.StateDir = "./crawl_state"
	}

	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './crawl_output'")
		c.OutputBaseDir = "./crawl_output"
	}

	// The politeness floor is never allowed below one second.
	if c.MinPolitenessDelay < time.Second {
		if c.MinPolitenessDelay > 0 {
			warnings = append(warnings, "min_politeness_delay below 1s, raising to 1s")
		}
		c.MinPolitenessDelay = time.Second
	}

	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}

	if c.MaxPageSizeBytes <= 0 {
		c.MaxPageSizeBytes = 10 << 20 // 10 MiB
	}

	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
		if c.InitialRetryDelay > c.MaxRetryDelay {
			warnings = append(warnings, "initial_retry_delay exceeds max_retry_delay, using max_retry_delay for initial")
			c.InitialRetryDelay = c.MaxRetryDelay
		}
	}

	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 100
	}

	if c.FrontierMemoryLimit <= 0 {
		c.FrontierMemoryLimit = 1000
	}

	if c.RegistryBatchSize <= 0 {
		c.RegistryBatchSize = 500
	}

	switch c.RegistryBackend {
	case "":
		c.RegistryBackend = RegistryBackendFiles
	case RegistryBackendFiles, RegistryBackendBadger:
	default:
		return warnings, utils.WrapErrorf(utils.ErrConfigValidation,
			"unknown registry_backend '%s' (want '%s' or '%s')",
			c.RegistryBackend, RegistryBackendFiles, RegistryBackendBadger)
	}

	if c.MaxURLRetries <= 0 {
		c.MaxURLRetries = 3
	}

	if c.MaxParallelSources <= 0 {
		c.MaxParallelSources = 4
	}

	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SourceConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
func (c *SourceConfig) Validate() (warnings []string, err error) {
	if c.SourceURL == "" {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "source needs a source_url")
	}
	parsed, parseErr := url.ParseRequestURI(c.SourceURL)
	if parseErr != nil {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "invalid source_url '%s': %v", c.SourceURL, parseErr)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "source_url scheme must be http or https, got '%s'", parsed.Scheme)
	}

	if c.Scope == "" {
		warnings = append(warnings, "scope not set, defaulting to 'path'")
		c.Scope = string(scope.ModePath)
	}
	if _, err := scope.ParseMode(c.Scope); err != nil {
		return warnings, err
	}

	if c.MaxPages <= 0 {
		warnings = append(warnings, "max_pages should be > 0, defaulting to 1000")
		c.MaxPages = 1000
	}

	if c.MaxDepth < 0 {
		warnings = append(warnings, "max_depth cannot be negative, setting to 0 (unlimited)")
		c.MaxDepth = 0
	}

	if c.MaxPagesPerRun < 0 {
		warnings = append(warnings, "max_pages_per_run cannot be negative, setting to 0 (no per-run budget)")
		c.MaxPagesPerRun = 0
	}

	// Fail fast on bad patterns rather than at the first matching URL.
	if _, err := utils.CompileRegexPatterns(c.ExcludePatterns); err != nil {
		return warnings, err
	}

	return warnings, nil
}
