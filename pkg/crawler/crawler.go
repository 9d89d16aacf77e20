// Package crawler runs the per-source crawl loop: pop, check, fetch, store,
// extract, classify, checkpoint. One Crawler serves the whole process; each
// RunCrawl call works one source with a single serial worker.
package crawler

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sitecrawl/pkg/config"
	"sitecrawl/pkg/content"
	"sitecrawl/pkg/extract"
	"sitecrawl/pkg/fetch"
	"sitecrawl/pkg/models"
	"sitecrawl/pkg/parse"
	"sitecrawl/pkg/progress"
	"sitecrawl/pkg/registry"
	"sitecrawl/pkg/scope"
	"sitecrawl/pkg/sitemap"
	"sitecrawl/pkg/state"
	"sitecrawl/pkg/utils"
)

// Crawler holds the process-wide collaborators shared across source runs
type Crawler struct {
	cfg       *config.AppConfig
	stateMgr  *state.Manager
	fetcher   *fetch.Fetcher
	limiter   *fetch.RateLimiter
	robots    *fetch.RobotsChecker
	extractor *extract.LinkExtractor
	sitemaps  *sitemap.Processor
	reporter  progress.Reporter
	log       *logrus.Entry
}

// New wires a Crawler from validated configuration
func New(cfg *config.AppConfig, reporter progress.Reporter, log *logrus.Entry) *Crawler {
	client := fetch.NewClient(cfg.HTTPClientSettings, log.WithField("component", "http_client"))
	fetcher := fetch.NewFetcher(client, cfg, log.WithField("component", "fetcher"))
	limiter := fetch.NewRateLimiter(log.WithField("component", "ratelimit"))

	if reporter == nil {
		reporter = progress.NewLogReporter(log.WithField("component", "progress"))
	}

	return &Crawler{
		cfg:       cfg,
		stateMgr:  state.NewManager(cfg.StateDir, cfg.FrontierMemoryLimit, cfg.MaxURLRetries, log.WithField("component", "state")),
		fetcher:   fetcher,
		limiter:   limiter,
		robots:    fetch.NewRobotsChecker(fetcher, limiter, cfg, log.WithField("component", "robots")),
		extractor: extract.NewLinkExtractor(log.WithField("component", "extract")),
		sitemaps:  sitemap.NewProcessor(fetcher, log.WithField("component", "sitemap")),
		reporter:  reporter,
		log:       log,
	}
}

// RunOptions parametrize one crawl run for one source
type RunOptions struct {
	Source       config.SourceConfig
	ForceRestart bool

	// Entry, when set, is the external source registry record to report
	// totals and timestamps onto.
	Entry *models.SourceEntry
}

// run bundles the per-run working set handed between loop helpers
type run struct {
	crawl     *state.Crawl
	registry  registry.Registry
	store     *content.Store
	validator *scope.Validator
	excludes  []*regexp.Regexp
	sourceURL string

	// excludedSeen dedups pattern-skip counting within one run
	excludedSeen map[string]bool

	pagesThisRun int
	maxPerRun    int
	sinceCkpt    int

	log *logrus.Entry
}

// RunCrawl executes one run against opts.Source: it loads or creates the
// crawl state, works the frontier until it drains or a budget stops it, and
// leaves a durable checkpoint behind. The returned state reflects the final
// status even when an error is also returned.
func (cr *Crawler) RunCrawl(ctx context.Context, opts RunOptions) (*models.CrawlState, error) {
	normalizedSource, sourceParsed, err := parse.ParseAndNormalize(opts.Source.SourceURL)
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrParsing, "source URL '%s': %v", opts.Source.SourceURL, err)
	}

	mode, err := scope.ParseMode(opts.Source.Scope)
	if err != nil {
		return nil, err
	}
	validator, err := scope.NewValidator(sourceParsed, mode)
	if err != nil {
		return nil, err
	}
	excludes, err := utils.CompileRegexPatterns(opts.Source.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	sourceHash := utils.URLDigest(normalizedSource)
	outDir := filepath.Join(cr.cfg.OutputBaseDir, sourceHash)
	snap := models.Snapshot{
		Scope:           string(mode),
		MaxPages:        opts.Source.MaxPages,
		MaxDepth:        opts.Source.MaxDepth,
		ExcludePatterns: opts.Source.ExcludePatterns,
		ContentRoot:     filepath.Join(outDir, "content"),
		RegistryPath:    filepath.Join(outDir, "registry"),
	}

	crawl, err := cr.stateMgr.LoadOrCreate(normalizedSource, snap, opts.ForceRestart)
	if err != nil {
		return nil, err
	}
	st := crawl.State

	rlog := cr.log.WithFields(logrus.Fields{"source_url": normalizedSource, "source_hash": sourceHash[:12]})

	if st.Status.IsTerminal() {
		rlog.Info("Crawl already completed, nothing to do")
		return st, nil
	}

	reg, err := registry.Open(cr.cfg.RegistryBackend, st.RegistryPath, cr.cfg.RegistryBatchSize, rlog.WithField("component", "registry"))
	if err != nil {
		return st, err
	}
	defer reg.Close()

	store, err := content.NewStore(st.ContentRoot, rlog.WithField("component", "content"))
	if err != nil {
		return st, err
	}

	st.RunID = uuid.NewString()
	st.Status = models.CrawlStatusCrawling
	rlog = rlog.WithField("run_id", st.RunID)

	r := &run{
		crawl:        crawl,
		registry:     reg,
		store:        store,
		validator:    validator,
		excludes:     excludes,
		sourceURL:    normalizedSource,
		excludedSeen: make(map[string]bool),
		maxPerRun:    opts.Source.MaxPagesPerRun,
		log:          rlog,
	}

	// The seed needs a registry record on the very first run.
	if err := r.ensureEntry(models.FrontierItem{URL: normalizedSource, Depth: 0}); err != nil {
		return st, err
	}

	if opts.Entry != nil {
		now := time.Now().UTC()
		opts.Entry.LastCrawlStartedAt = &now
	}

	if err := crawl.Save(); err != nil {
		return st, err
	}

	if cr.cfg.EnableSitemaps && st.VisitedCount == 0 {
		cr.seedFromSitemaps(ctx, r, sourceParsed)
	}

	rlog.WithFields(logrus.Fields{
		"scope": st.Scope, "max_pages": st.MaxPages, "max_depth": st.MaxDepth, "frontier": st.FrontierSize(),
	}).Info("Starting crawl run")

	runErr := cr.loop(ctx, r)

	// Persist the final status; a storage failure here must not mask runErr.
	if saveErr := crawl.Save(); saveErr != nil {
		rlog.Errorf("Final checkpoint failed: %v", saveErr)
		if runErr == nil {
			runErr = saveErr
		}
	}
	if flushErr := reg.Flush(); flushErr != nil {
		rlog.Errorf("Registry flush failed: %v", flushErr)
		if runErr == nil {
			runErr = flushErr
		}
	}

	cr.reporter.Publish(models.NewProgressUpdate(st))
	cr.updateSourceEntry(opts.Entry, st)

	rlog.WithFields(logrus.Fields{
		"status": st.Status, "visited": st.VisitedCount, "frontier": st.FrontierSize(),
		"failed": st.FailedCount, "skipped": st.SkippedCount, "pages_this_run": r.pagesThisRun,
	}).Info("Crawl run finished")

	return st, runErr
}

// loop works the frontier until it drains, a budget stops the run, or the
// context is cancelled. Storage errors abort immediately; the last successful
// checkpoint remains authoritative.
func (cr *Crawler) loop(ctx context.Context, r *run) error {
	st := r.crawl.State

	for {
		if ctx.Err() != nil {
			st.Status = models.CrawlStatusPaused
			r.log.Info("Run cancelled, pausing")
			return nil
		}
		// Completion takes precedence over budget pauses: a drained frontier
		// means there is nothing left to come back for.
		if st.FrontierSize() == 0 {
			st.Status = models.CrawlStatusCompleted
			r.log.Info("Frontier drained, crawl complete")
			return nil
		}
		if st.VisitedCount >= st.MaxPages {
			st.Status = models.CrawlStatusPaused
			r.log.WithField("max_pages", st.MaxPages).Info("Page cap reached, pausing")
			return nil
		}
		if r.maxPerRun > 0 && r.pagesThisRun >= r.maxPerRun {
			st.Status = models.CrawlStatusPaused
			r.log.WithField("max_pages_per_run", r.maxPerRun).Info("Run budget exhausted, pausing")
			return nil
		}

		item, ok := r.crawl.Pop()
		if !ok {
			// Only reachable if the overflow file failed to refill.
			st.Status = models.CrawlStatusCompleted
			r.log.Warn("Frontier unreadable, treating crawl as complete")
			return nil
		}

		if err := cr.processItem(ctx, r, item); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.crawl.RequeueFront(item)
				st.Status = models.CrawlStatusPaused
				r.log.Info("Run interrupted mid-page, pausing")
				return nil
			}
			if errors.Is(err, utils.ErrStorage) {
				st.Status = models.CrawlStatusPaused
				r.log.Errorf("Storage failure, aborting run: %v", err)
				return err
			}
			// Anything else was already recorded against the page.
			r.log.WithField("url", item.URL).Debugf("Page resolved with error: %v", err)
		}

		r.sinceCkpt++
		if r.sinceCkpt >= cr.cfg.CheckpointEvery {
			if err := r.checkpoint(); err != nil {
				st.Status = models.CrawlStatusPaused
				return err
			}
			cr.reporter.Publish(models.NewProgressUpdate(st))
		}
	}
}

// processItem handles one popped frontier entry end to end. Returned storage
// and context errors stop the run; all other errors are recorded in the
// registry and swallowed by the caller.
func (cr *Crawler) processItem(ctx context.Context, r *run, item models.FrontierItem) error {
	digest := utils.URLDigest(item.URL)
	if r.crawl.IsVisited(digest) {
		return nil
	}

	parsed, err := url.Parse(item.URL)
	if err != nil {
		// Frontier URLs were parsed at discovery; a failure here means the
		// state file was edited or corrupted.
		r.crawl.State.SkippedCount++
		return utils.WrapErrorf(utils.ErrParsing, "frontier URL '%s': %v", item.URL, err)
	}

	if err := r.ensureEntry(item); err != nil {
		return err
	}

	plog := r.log.WithFields(logrus.Fields{"url": item.URL, "depth": item.Depth})

	if !cr.robots.CanFetch(ctx, parsed) {
		r.crawl.State.SkippedCount++
		plog.Info("Skipped by robots.txt")
		return r.resolveEntry(digest, func(e *models.PageEntry) {
			e.Status = models.PageStatusSkipped
			e.ErrorMessage = utils.CategorizeError(utils.ErrRobotsDisallowed)
		})
	}

	host := parsed.Hostname()
	delay := cr.cfg.MinPolitenessDelay
	if robotsDelay := cr.robots.CrawlDelay(host); robotsDelay > delay {
		delay = robotsDelay
	}
	if err := cr.limiter.Wait(ctx, host, delay); err != nil {
		return err
	}

	result, fetchErr := cr.fetcher.Fetch(ctx, item.URL)
	cr.limiter.UpdateLastRequest(host)

	if fetchErr != nil {
		// Only the run's own context ending interrupts the loop; a timed-out
		// fetch is a failure of this page like any other, so it consumes its
		// attempt budget below instead of blocking the frontier head.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.crawl.RecordFailure(item)
		category := utils.CategorizeError(fetchErr)
		plog.WithField("category", category).Warnf("Fetch failed: %v", fetchErr)
		return r.resolveEntry(digest, func(e *models.PageEntry) {
			now := time.Now().UTC()
			e.Status = models.PageStatusFailed
			e.FetchedAt = &now
			e.ErrorMessage = category
			if result != nil {
				e.HTTPStatus = result.StatusCode
			}
		})
	}

	contentHash, contentPath, created, err := r.store.Put(result.Body, result.ContentType, item.URL)
	if err != nil {
		return err
	}

	var page extract.PageData
	if isHTML(result.ContentType) {
		page = cr.extractor.Extract(result.Body, parsed)
	}

	inScope := cr.classifyLinks(r, item, page.Links)

	if err := r.resolveEntry(digest, func(e *models.PageEntry) {
		now := time.Now().UTC()
		e.Status = models.PageStatusFetched
		e.FetchedAt = &now
		e.HTTPStatus = result.StatusCode
		e.ContentType = result.ContentType
		e.ContentHash = contentHash
		e.ContentPath = contentPath
		e.ContentSize = int64(len(result.Body))
		e.ExtractedChars = page.ExtractedChars
		e.Title = page.Title
		e.OutgoingLinksCount = len(page.Links)
		e.OutgoingLinksInScope = inScope
	}); err != nil {
		return err
	}

	r.crawl.MarkVisited(digest)
	r.pagesThisRun++

	plog.WithFields(logrus.Fields{
		"status": result.StatusCode, "bytes": len(result.Body), "links": len(page.Links),
		"in_scope": inScope, "dedup": !created,
	}).Info("Page acquired")
	return nil
}

// classifyLinks runs every extracted link through normalization, the scope
// check, the depth cap, and the exclude patterns, enqueueing survivors.
// Returns how many links were in scope.
func (cr *Crawler) classifyLinks(r *run, from models.FrontierItem, links []string) int {
	st := r.crawl.State
	inScope := 0

	for _, link := range links {
		normalized, parsed, err := parse.ParseAndNormalize(link)
		if err != nil {
			continue // Extractor already filtered most garbage
		}
		st.DiscoveredCount++

		if !r.validator.InScope(parsed) {
			st.OutOfScopeCount++
			continue
		}
		inScope++
		st.InScopeCount++

		if st.MaxDepth > 0 && from.Depth+1 > st.MaxDepth {
			continue
		}

		if matchesAny(r.excludes, parsed.Path) {
			digest := utils.URLDigest(normalized)
			if !r.excludedSeen[digest] {
				r.excludedSeen[digest] = true
				st.SkippedCount++
				r.log.WithField("url", normalized).Debug("Skipped by exclude pattern")
			}
			continue
		}

		queued := r.crawl.Enqueue(models.FrontierItem{
			URL:            normalized,
			Depth:          from.Depth + 1,
			DiscoveredFrom: from.URL,
		})
		if queued {
			entry := newPendingEntry(normalized, r.sourceURL, from.URL, from.Depth+1, 0)
			if err := r.registry.Put(entry); err != nil {
				r.log.Errorf("Recording discovery of %s: %v", normalized, err)
			}
		}
	}
	return inScope
}

// seedFromSitemaps enqueues in-scope URLs from the sitemaps robots.txt
// declares for the source host. Best effort: any failure just leaves the
// frontier as it was.
func (cr *Crawler) seedFromSitemaps(ctx context.Context, r *run, source *url.URL) {
	// CanFetch loads and caches robots.txt, which carries the sitemap list.
	cr.robots.CanFetch(ctx, source)

	sitemapURLs := cr.robots.Sitemaps(source.Hostname())
	if len(sitemapURLs) == 0 {
		return
	}

	seedItem := models.FrontierItem{URL: r.sourceURL, Depth: 0}
	for _, smURL := range sitemapURLs {
		urls, err := cr.sitemaps.Collect(ctx, smURL)
		if err != nil {
			r.log.Warnf("Sitemap %s unusable: %v", smURL, err)
			continue
		}
		before := r.crawl.State.FrontierSize()
		cr.classifyLinks(r, seedItem, urls)
		r.log.WithFields(logrus.Fields{
			"sitemap": smURL, "listed": len(urls), "queued": r.crawl.State.FrontierSize() - before,
		}).Info("Seeded frontier from sitemap")
	}
}

// updateSourceEntry reports run totals onto the external source record
func (cr *Crawler) updateSourceEntry(entry *models.SourceEntry, st *models.CrawlState) {
	if entry == nil {
		return
	}
	entry.TotalPagesDiscovered = st.DiscoveredCount
	entry.TotalPagesAcquired = st.VisitedCount
	now := time.Now().UTC()
	entry.LastCrawlFinishedAt = &now
}

// ensureEntry guarantees a pending registry record exists for item. A
// cross-run retry gets a fresh record with its attempt number; resolved
// records from earlier runs stay untouched.
func (r *run) ensureEntry(item models.FrontierItem) error {
	digest := utils.URLDigest(item.URL)
	existing, found, err := r.registry.Get(digest)
	if err != nil {
		return err
	}
	if found && !existing.Status.IsResolved() {
		return nil
	}
	if found && item.Attempts == 0 {
		return nil
	}
	entry := newPendingEntry(item.URL, r.sourceURL, item.DiscoveredFrom, item.Depth, item.Attempts)
	return r.registry.Put(entry)
}

// resolveEntry applies the outcome mutation to the pending record for digest
func (r *run) resolveEntry(digest string, mutate func(*models.PageEntry)) error {
	entry, found, err := r.registry.Get(digest)
	if err != nil {
		return err
	}
	if !found {
		return utils.WrapErrorf(utils.ErrStorage, "no registry record for %s", digest)
	}
	mutate(entry)
	return r.registry.Update(entry)
}

func (r *run) checkpoint() error {
	if err := r.crawl.Save(); err != nil {
		return err
	}
	if err := r.registry.Flush(); err != nil {
		return err
	}
	r.sinceCkpt = 0
	r.log.WithFields(logrus.Fields{
		"visited": r.crawl.State.VisitedCount, "frontier": r.crawl.State.FrontierSize(),
	}).Debug("Checkpoint written")
	return nil
}

func newPendingEntry(pageURL, sourceURL, discoveredFrom string, depth, attempt int) *models.PageEntry {
	return &models.PageEntry{
		URL:            pageURL,
		URLHash:        utils.URLDigest(pageURL),
		SourceURL:      sourceURL,
		DiscoveredFrom: discoveredFrom,
		LinkDepth:      depth,
		Attempt:        attempt,
		Status:         models.PageStatusPending,
		DiscoveredAt:   time.Now().UTC(),
	}
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true // Assume HTML when the server stays silent
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func matchesAny(patterns []*regexp.Regexp, path string) bool {
	for _, re := range patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
