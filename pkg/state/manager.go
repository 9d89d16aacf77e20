// Package state owns the durable per-source crawl record: the frontier, the
// visited set, counters, and the checkpoint files that make interrupted runs
// resumable.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"sitecrawl/pkg/models"
	"sitecrawl/pkg/utils"
)

const (
	stateFileName    = "crawl_state.json"
	overflowFileName = "frontier_overflow.jsonl"
)

// Manager creates and persists Crawl records under a state directory. One
// subdirectory per source, named by the source URL's digest.
type Manager struct {
	stateDir      string
	memLimit      int // Frontier entries held in memory before spilling
	maxURLRetries int
	log           *logrus.Entry
}

// NewManager creates a Manager
func NewManager(stateDir string, frontierMemoryLimit, maxURLRetries int, log *logrus.Entry) *Manager {
	return &Manager{
		stateDir:      stateDir,
		memLimit:      frontierMemoryLimit,
		maxURLRetries: maxURLRetries,
		log:           log,
	}
}

// Crawl wraps a CrawlState with the run-local bookkeeping that never
// persists: which URLs are queued, and which were already handed out this
// run. It is owned by a single crawl worker and is not safe for concurrent
// use.
type Crawl struct {
	State *models.CrawlState

	dir          string
	overflowPath string
	memLimit     int
	maxRetries   int

	// queued tracks URL digests currently in the frontier (memory and
	// overflow). Together with the visited set it guarantees a URL is
	// enqueued at most once.
	queued map[string]bool

	// attempted tracks URL digests handed out during this run, so a URL
	// that failed or was skipped is not re-enqueued before the run ends.
	attempted map[string]bool

	log *logrus.Entry
}

// LoadOrCreate returns the Crawl for sourceURL, loading its checkpoint if one
// exists, otherwise creating a fresh state seeded with the source itself.
// With forceRestart any existing checkpoint is discarded. On load, previously
// failed URLs with remaining attempt budget re-enter the frontier.
func (m *Manager) LoadOrCreate(sourceURL string, snap models.Snapshot, forceRestart bool) (*Crawl, error) {
	sourceHash := utils.URLDigest(sourceURL)
	dir := filepath.Join(m.stateDir, sourceHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "creating state dir %s: %v", dir, err)
	}

	c := &Crawl{
		dir:          dir,
		overflowPath: filepath.Join(dir, overflowFileName),
		memLimit:     m.memLimit,
		maxRetries:   m.maxURLRetries,
		queued:       make(map[string]bool),
		attempted:    make(map[string]bool),
		log:          m.log.WithField("source_hash", sourceHash[:12]),
	}

	statePath := filepath.Join(dir, stateFileName)
	if !forceRestart {
		loaded, err := loadStateFile(statePath)
		if err != nil {
			return nil, err
		}
		if loaded != nil {
			c.State = loaded
			if err := c.rebuildQueued(); err != nil {
				return nil, err
			}
			c.requeueFailed()
			c.log.WithFields(logrus.Fields{
				"status": loaded.Status, "visited": loaded.VisitedCount, "frontier": loaded.FrontierSize(),
			}).Info("Loaded crawl checkpoint")
			return c, nil
		}
	} else {
		if err := os.Remove(statePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, utils.WrapErrorf(utils.ErrStorage, "removing old state file: %v", err)
		}
		if err := os.Remove(c.overflowPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, utils.WrapErrorf(utils.ErrStorage, "removing old overflow file: %v", err)
		}
	}

	now := time.Now().UTC()
	c.State = &models.CrawlState{
		SourceURL:       sourceURL,
		SourceHash:      sourceHash,
		Scope:           snap.Scope,
		Status:          models.CrawlStatusPending,
		VisitedHashes:   make(map[string]bool),
		MaxPages:        snap.MaxPages,
		MaxDepth:        snap.MaxDepth,
		ExcludePatterns: snap.ExcludePatterns,
		ContentRoot:     snap.ContentRoot,
		RegistryPath:    snap.RegistryPath,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// The source is the first discovery; it is in scope by definition.
	c.State.DiscoveredCount = 1
	c.State.InScopeCount = 1
	c.Enqueue(models.FrontierItem{URL: sourceURL, Depth: 0})

	c.log.Info("Created fresh crawl state")
	return c, nil
}

func loadStateFile(path string) (*models.CrawlState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "reading state file %s: %v", path, err)
	}
	var st models.CrawlState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "corrupt state file %s: %v", path, err)
	}
	if st.VisitedHashes == nil {
		st.VisitedHashes = make(map[string]bool)
	}
	return &st, nil
}

// rebuildQueued reconstructs the queued digest set from the in-memory
// frontier and the overflow file. Overflow entries whose URL is already in
// the frontier are crash leftovers from an interrupted refill and get
// dropped here.
func (c *Crawl) rebuildQueued() error {
	for _, item := range c.State.Frontier {
		c.queued[utils.URLDigest(item.URL)] = true
	}
	if c.State.OverflowCount == 0 {
		return nil
	}
	items, err := readOverflow(c.overflowPath)
	if err != nil {
		return err
	}
	var kept []models.FrontierItem
	for _, item := range items {
		digest := utils.URLDigest(item.URL)
		if c.queued[digest] {
			continue
		}
		c.queued[digest] = true
		kept = append(kept, item)
	}
	if len(kept) != len(items) {
		c.log.Warnf("Dropping %d duplicate overflow entries", len(items)-len(kept))
		if err := writeOverflow(c.overflowPath, kept); err != nil {
			return err
		}
	}
	// Trust the file over the persisted count if they disagree.
	if len(kept) != c.State.OverflowCount {
		c.log.Warnf("Overflow count mismatch: state says %d, file has %d", c.State.OverflowCount, len(kept))
		c.State.OverflowCount = len(kept)
	}
	return nil
}

// requeueFailed moves failed URLs with remaining attempt budget back into the
// frontier; the rest are abandoned and marked visited so they are never
// enqueued again.
func (c *Crawl) requeueFailed() {
	if len(c.State.Failed) == 0 {
		return
	}
	var kept, abandoned int
	for _, item := range c.State.Failed {
		if item.Attempts >= c.maxRetries {
			c.State.VisitedHashes[utils.URLDigest(item.URL)] = true
			abandoned++
			continue
		}
		if c.Enqueue(item) {
			kept++
		}
	}
	c.State.Failed = nil
	if kept > 0 || abandoned > 0 {
		c.log.WithFields(logrus.Fields{"requeued": kept, "abandoned": abandoned}).Info("Reprocessed failed URLs")
	}
}

// Enqueue adds item to the frontier unless its URL was already visited,
// queued, or attempted this run. Past the memory limit the item spills to the
// overflow file. Reports whether the item was actually queued.
func (c *Crawl) Enqueue(item models.FrontierItem) bool {
	digest := utils.URLDigest(item.URL)
	if c.State.VisitedHashes[digest] || c.queued[digest] || c.attempted[digest] {
		return false
	}

	if len(c.State.Frontier) >= c.memLimit {
		if err := appendOverflow(c.overflowPath, item); err != nil {
			// Losing one frontier entry beats aborting the crawl.
			c.log.Errorf("Dropping frontier entry %s: %v", item.URL, err)
			return false
		}
		c.State.OverflowCount++
	} else {
		c.State.Frontier = append(c.State.Frontier, item)
	}
	c.queued[digest] = true
	return true
}

// Pop removes and returns the oldest frontier entry, refilling from the
// overflow file when the in-memory portion runs dry. The popped URL counts as
// attempted for the rest of the run.
func (c *Crawl) Pop() (models.FrontierItem, bool) {
	if len(c.State.Frontier) == 0 && c.State.OverflowCount > 0 {
		if err := c.refillFromOverflow(); err != nil {
			c.log.Errorf("Overflow refill failed: %v", err)
		}
	}
	if len(c.State.Frontier) == 0 {
		return models.FrontierItem{}, false
	}

	item := c.State.Frontier[0]
	c.State.Frontier = c.State.Frontier[1:]

	digest := utils.URLDigest(item.URL)
	delete(c.queued, digest)
	c.attempted[digest] = true
	return item, true
}

// RequeueFront puts an item back at the head of the frontier, undoing its
// Pop. Used when a run stops after popping but before processing.
func (c *Crawl) RequeueFront(item models.FrontierItem) {
	digest := utils.URLDigest(item.URL)
	delete(c.attempted, digest)
	c.queued[digest] = true
	c.State.Frontier = append([]models.FrontierItem{item}, c.State.Frontier...)
}

func (c *Crawl) refillFromOverflow() error {
	items, err := readOverflow(c.overflowPath)
	if err != nil {
		return err
	}
	take := len(items)
	if take > c.memLimit {
		take = c.memLimit
	}
	c.State.Frontier = append(c.State.Frontier, items[:take]...)
	rest := items[take:]
	c.State.OverflowCount = len(rest)

	// Checkpoint before touching the overflow file: a crash between the two
	// leaves the moved items duplicated on disk, never lost. Duplicates are
	// dropped again on load.
	if err := c.Save(); err != nil {
		return err
	}

	if len(rest) == 0 {
		if err := os.Remove(c.overflowPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return utils.WrapErrorf(utils.ErrStorage, "removing drained overflow file: %v", err)
		}
	} else if err := writeOverflow(c.overflowPath, rest); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"loaded": take, "remaining": len(rest)}).Debug("Refilled frontier from overflow")
	return nil
}

// MarkVisited records a successful fetch of the URL behind digest
func (c *Crawl) MarkVisited(digest string) {
	if !c.State.VisitedHashes[digest] {
		c.State.VisitedHashes[digest] = true
		c.State.VisitedCount++
	}
}

// IsVisited reports whether the URL behind digest was already fetched
func (c *Crawl) IsVisited(digest string) bool {
	return c.State.VisitedHashes[digest]
}

// RecordFailure notes a failed fetch attempt for item. The URL stays eligible
// for the next run until its attempt budget runs out, at which point it is
// abandoned and treated as visited.
func (c *Crawl) RecordFailure(item models.FrontierItem) {
	item.Attempts++
	c.State.FailedCount++
	if item.Attempts >= c.maxRetries {
		c.State.VisitedHashes[utils.URLDigest(item.URL)] = true
		c.log.WithFields(logrus.Fields{"url": item.URL, "attempts": item.Attempts}).Warn("Abandoning URL, attempt budget exhausted")
		return
	}
	c.State.Failed = append(c.State.Failed, item)
}

// Save atomically persists the crawl state. The overflow file is already on
// disk; only the JSON document is rewritten.
func (c *Crawl) Save() error {
	c.State.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(c.State, "", "  ")
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "marshaling crawl state: %v", err)
	}
	return atomicWriteFile(filepath.Join(c.dir, stateFileName), data)
}

// Dir returns the per-source state directory
func (c *Crawl) Dir() string {
	return c.dir
}

// atomicWriteFile writes data to a temp file in path's directory, fsyncs it,
// then renames it over path. A crash leaves either the old or the new file,
// never a partial one.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "creating temp file in %s: %v", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return utils.WrapErrorf(utils.ErrStorage, "writing %s: %v", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return utils.WrapErrorf(utils.ErrStorage, "syncing %s: %v", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "closing %s: %v", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "renaming %s -> %s: %v", tmpName, path, err)
	}
	return nil
}

func appendOverflow(path string, item models.FrontierItem) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "opening overflow file: %v", err)
	}
	defer f.Close()
	line, err := json.Marshal(item)
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "marshaling frontier item: %v", err)
	}
	if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "appending to overflow file: %v", err)
	}
	return nil
}

func readOverflow(path string) ([]models.FrontierItem, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "opening overflow file: %v", err)
	}
	defer f.Close()

	var items []models.FrontierItem
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item models.FrontierItem
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, utils.WrapErrorf(utils.ErrStorage, "corrupt overflow line: %v", err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "scanning overflow file: %v", err)
	}
	return items, nil
}

func writeOverflow(path string, items []models.FrontierItem) error {
	var buf []byte
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return utils.WrapErrorf(utils.ErrStorage, "marshaling frontier item: %v", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return atomicWriteFile(path, buf)
}
