// Package progress delivers crawl progress updates to external observers.
package progress

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"sitecrawl/pkg/models"
	"sitecrawl/pkg/utils"
)

// Reporter receives a ProgressUpdate at each checkpoint and at run end.
// Publish must not block the crawl loop for long; failures are the
// reporter's problem to log, not the crawler's to handle.
type Reporter interface {
	Publish(update models.ProgressUpdate)
}

// LogReporter writes each update as a structured log line
type LogReporter struct {
	log *logrus.Entry
}

// NewLogReporter creates a LogReporter
func NewLogReporter(log *logrus.Entry) *LogReporter {
	return &LogReporter{log: log}
}

func (r *LogReporter) Publish(update models.ProgressUpdate) {
	r.log.WithFields(logrus.Fields{
		"run_id":       update.RunID,
		"source_url":   update.SourceURL,
		"status":       update.Status,
		"visited":      update.VisitedCount,
		"frontier":     update.FrontierSize,
		"discovered":   update.DiscoveredCount,
		"in_scope":     update.InScopeCount,
		"out_of_scope": update.OutOfScopeCount,
		"skipped":      update.SkippedCount,
		"failed":       update.FailedCount,
	}).Info("Crawl progress")
}

// FileReporter rewrites a JSON file with the latest update, atomically, so an
// external watcher always reads a complete document.
type FileReporter struct {
	path string
	log  *logrus.Entry
}

// NewFileReporter creates a FileReporter writing to path
func NewFileReporter(path string, log *logrus.Entry) *FileReporter {
	return &FileReporter{path: path, log: log}
}

func (r *FileReporter) Publish(update models.ProgressUpdate) {
	data, err := json.MarshalIndent(update, "", "  ")
	if err != nil {
		r.log.Errorf("Marshaling progress update: %v", err)
		return
	}
	if err := atomicWrite(r.path, data); err != nil {
		r.log.Errorf("Writing progress file: %v", err)
	}
}

// MultiReporter fans one update out to several reporters
type MultiReporter []Reporter

func (m MultiReporter) Publish(update models.ProgressUpdate) {
	for _, r := range m {
		r.Publish(update)
	}
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
	if err := tmp.Close(); err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "closing %s: %v", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "renaming %s -> %s: %v", tmpName, path, err)
	}
	return nil
}
