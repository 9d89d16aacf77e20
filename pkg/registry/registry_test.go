package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitecrawl/pkg/config"
	"sitecrawl/pkg/models"
	"sitecrawl/pkg/utils"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func pendingEntry(pageURL string) *models.PageEntry {
	return &models.PageEntry{
		URL:          pageURL,
		URLHash:      utils.URLDigest(pageURL),
		SourceURL:    "https://docs.example.com/",
		LinkDepth:    1,
		Status:       models.PageStatusPending,
		DiscoveredAt: time.Now().UTC(),
	}
}

// both backends must behave identically for the shared contract
func backends(t *testing.T) map[string]func() Registry {
	return map[string]func() Registry{
		"files": func() Registry {
			r, err := OpenFileRegistry(t.TempDir(), 3, testLog())
			require.NoError(t, err)
			return r
		},
		"badger": func() Registry {
			r, err := OpenBadgerRegistry(t.TempDir(), testLog())
			require.NoError(t, err)
			return r
		},
	}
}

func TestRegistryPutGetUpdate(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := open()
			defer r.Close()

			entry := pendingEntry("https://docs.example.com/a")
			require.NoError(t, r.Put(entry))

			got, found, err := r.Get(entry.URLHash)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, models.PageStatusPending, got.Status)

			got.Status = models.PageStatusFetched
			got.HTTPStatus = 200
			require.NoError(t, r.Update(got))

			again, found, err := r.Get(entry.URLHash)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, models.PageStatusFetched, again.Status)
			assert.Equal(t, 200, again.HTTPStatus)
			assert.Equal(t, 1, r.Len())
		})
	}
}

func TestRegistryGetMissing(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := open()
			defer r.Close()

			_, found, err := r.Get(utils.URLDigest("https://docs.example.com/nope"))
			require.NoError(t, err)
			assert.False(t, found)

			err = r.Update(pendingEntry("https://docs.example.com/nope"))
			assert.ErrorIs(t, err, utils.ErrStorage)
		})
	}
}

func TestRegistryRetrySupersedes(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := open()
			defer r.Close()

			first := pendingEntry("https://docs.example.com/flaky")
			first.Status = models.PageStatusFailed
			first.ErrorMessage = "HTTP_5xx"
			require.NoError(t, r.Put(first))

			retry := pendingEntry("https://docs.example.com/flaky")
			retry.Attempt = 1
			require.NoError(t, r.Put(retry))

			got, found, err := r.Get(first.URLHash)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 1, got.Attempt)
			assert.Equal(t, models.PageStatusPending, got.Status)
			assert.Equal(t, 2, r.Len(), "the failed attempt stays on record")
		})
	}
}

func TestFileRegistryBatchLayout(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenFileRegistry(dir, 3, testLog())
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		require.NoError(t, r.Put(pendingEntry(fmt.Sprintf("https://docs.example.com/p%d", i))))
	}
	require.NoError(t, r.Flush())

	assert.FileExists(t, filepath.Join(dir, "batch_000000.json"))
	assert.FileExists(t, filepath.Join(dir, "batch_000001.json"))
	assert.FileExists(t, filepath.Join(dir, "batch_000002.json"))
	assert.NoFileExists(t, filepath.Join(dir, "batch_000003.json"))

	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	require.NoError(t, err)
	var m manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, 3, m.BatchSize)
	assert.Equal(t, 3, m.BatchCount)
	assert.Equal(t, 7, m.TotalEntries)

	// The last batch holds the remainder.
	data, err = os.ReadFile(filepath.Join(dir, "batch_000002.json"))
	require.NoError(t, err)
	var batch []models.PageEntry
	require.NoError(t, json.Unmarshal(data, &batch))
	assert.Len(t, batch, 1)
}

func TestFileRegistryReload(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenFileRegistry(dir, 2, testLog())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Put(pendingEntry(fmt.Sprintf("https://docs.example.com/p%d", i))))
	}
	require.NoError(t, r.Close())

	reloaded, err := OpenFileRegistry(dir, 2, testLog())
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.Len())

	got, found, err := reloaded.Get(utils.URLDigest("https://docs.example.com/p3"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://docs.example.com/p3", got.URL)
}

func TestFileRegistryFlushOnlyDirtyBatches(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenFileRegistry(dir, 2, testLog())
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Put(pendingEntry(fmt.Sprintf("https://docs.example.com/p%d", i))))
	}
	require.NoError(t, r.Flush())

	firstBatch := filepath.Join(dir, "batch_000000.json")
	before, err := os.Stat(firstBatch)
	require.NoError(t, err)

	// Touching only an entry in batch 1 must leave batch 0 untouched.
	entry, _, err := r.Get(utils.URLDigest("https://docs.example.com/p3"))
	require.NoError(t, err)
	entry.Status = models.PageStatusFetched
	require.NoError(t, r.Update(entry))
	require.NoError(t, r.Flush())

	after, err := os.Stat(firstBatch)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestBadgerRegistryReload(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenBadgerRegistry(dir, testLog())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Put(pendingEntry(fmt.Sprintf("https://docs.example.com/p%d", i))))
	}
	require.NoError(t, r.Close())

	reloaded, err := OpenBadgerRegistry(dir, testLog())
	require.NoError(t, err)
	defer reloaded.Close()
	assert.Equal(t, 3, reloaded.Len())

	got, found, err := reloaded.Get(utils.URLDigest("https://docs.example.com/p1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://docs.example.com/p1", got.URL)
}

func TestOpenSelectsBackend(t *testing.T) {
	r, err := Open(config.RegistryBackendFiles, t.TempDir(), 10, testLog())
	require.NoError(t, err)
	assert.IsType(t, &FileRegistry{}, r)
	r.Close()

	r, err = Open(config.RegistryBackendBadger, t.TempDir(), 10, testLog())
	require.NoError(t, err)
	assert.IsType(t, &BadgerRegistry{}, r)
	r.Close()

	_, err = Open("postgres", t.TempDir(), 10, testLog())
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}
