package registry

import (
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

const manifestFileName = "manifest.json"

// manifest indexes the batch files so a reader can load the registry without
// globbing the directory.
type manifest struct {
	BatchSize    int       `json:"batch_size"`
	BatchCount   int       `json:"batch_count"`
	TotalEntries int       `json:"total_entries"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FileRegistry keeps PageEntry records in numbered JSON batch files
// (batch_000000.json, batch_000001.json, ...) plus a manifest. All entries
// are held in memory; only dirty batches are rewritten on Flush.
type FileRegistry struct {
	dir       string
	batchSize int

	entries []models.PageEntry
	byHash  map[string]int // URL digest -> index of most recent entry
	dirty   map[int]bool   // Batch index -> needs rewrite

	log *logrus.Entry
}

// OpenFileRegistry loads (or initializes) a file-backed registry at dir
func OpenFileRegistry(dir string, batchSize int, log *logrus.Entry) (*FileRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "creating registry dir %s: %v", dir, err)
	}

	r := &FileRegistry{
		dir:       dir,
		batchSize: batchSize,
		byHash:    make(map[string]int),
		dirty:     make(map[int]bool),
		log:       log,
	}

	m, err := r.readManifest()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return r, nil
	}
	if m.BatchSize != batchSize {
		// Batch boundaries are baked into the files; honor the stored size.
		r.log.Warnf("Registry batch size %d differs from configured %d, keeping stored size", m.BatchSize, batchSize)
		r.batchSize = m.BatchSize
	}

	for i := 0; i < m.BatchCount; i++ {
		batch, err := r.readBatch(i)
		if err != nil {
			return nil, err
		}
		r.entries = append(r.entries, batch...)
	}
	if len(r.entries) != m.TotalEntries {
		r.log.Warnf("Registry entry count mismatch: manifest says %d, batches hold %d", m.TotalEntries, len(r.entries))
	}
	for i := range r.entries {
		r.byHash[r.entries[i].URLHash] = i
	}

	r.log.WithFields(logrus.Fields{"entries": len(r.entries), "batches": m.BatchCount}).Debug("Loaded page registry")
	return r, nil
}

// Get returns the most recent entry for urlHash
func (r *FileRegistry) Get(urlHash string) (*models.PageEntry, bool, error) {
	idx, ok := r.byHash[urlHash]
	if !ok {
		return nil, false, nil
	}
	entry := r.entries[idx]
	return &entry, true, nil
}

// Put appends a new entry and marks its batch dirty
func (r *FileRegistry) Put(entry *models.PageEntry) error {
	r.entries = append(r.entries, *entry)
	idx := len(r.entries) - 1
	r.byHash[entry.URLHash] = idx
	r.dirty[idx/r.batchSize] = true
	return nil
}

// Update rewrites the most recent entry for entry.URLHash
func (r *FileRegistry) Update(entry *models.PageEntry) error {
	idx, ok := r.byHash[entry.URLHash]
	if !ok {
		return utils.WrapErrorf(utils.ErrStorage, "updating unknown registry entry %s", entry.URLHash)
	}
	r.entries[idx] = *entry
	r.dirty[idx/r.batchSize] = true
	return nil
}

// Len returns the total number of stored entries
func (r *FileRegistry) Len() int {
	return len(r.entries)
}

// Flush rewrites every dirty batch file, then the manifest. Batch files and
// manifest are each written atomically; the manifest goes last so readers
// never see it pointing at a missing batch.
func (r *FileRegistry) Flush() error {
	if len(r.dirty) == 0 {
		return nil
	}
	for batchIdx := range r.dirty {
		if err := r.writeBatch(batchIdx); err != nil {
			return err
		}
	}
	r.dirty = make(map[int]bool)
	return r.writeManifest()
}

// Close flushes pending writes
func (r *FileRegistry) Close() error {
	return r.Flush()
}

func (r *FileRegistry) batchPath(idx int) string {
	return filepath.Join(r.dir, fmt.Sprintf("batch_%06d.json", idx))
}

func (r *FileRegistry) batchCount() int {
	if len(r.entries) == 0 {
		return 0
	}
	return (len(r.entries)-1)/r.batchSize + 1
}

func (r *FileRegistry) readBatch(idx int) ([]models.PageEntry, error) {
	path := r.batchPath(idx)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "reading registry batch %s: %v", path, err)
	}
	var batch []models.PageEntry
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "corrupt registry batch %s: %v", path, err)
	}
	return batch, nil
}

func (r *FileRegistry) writeBatch(idx int) error {
	start := idx * r.batchSize
	if start >= len(r.entries) {
		return nil
	}
	end := start + r.batchSize
	if end > len(r.entries) {
		end = len(r.entries)
	}
	data, err := json.MarshalIndent(r.entries[start:end], "", "  ")
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "marshaling registry batch %d: %v", idx, err)
	}
	return atomicWrite(r.batchPath(idx), data)
}

func (r *FileRegistry) readManifest() (*manifest, error) {
	path := filepath.Join(r.dir, manifestFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "reading registry manifest: %v", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "corrupt registry manifest: %v", err)
	}
	return &m, nil
}

func (r *FileRegistry) writeManifest() error {
	m := manifest{
		BatchSize:    r.batchSize,
		BatchCount:   r.batchCount(),
		TotalEntries: len(r.entries),
		UpdatedAt:    time.Now().UTC(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "marshaling registry manifest: %v", err)
	}
	return atomicWrite(filepath.Join(r.dir, manifestFileName), data)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "creating temp file in %s: %v", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

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
