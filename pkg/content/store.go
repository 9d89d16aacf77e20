// Package content stores fetched page bodies on disk, addressed by content
// digest so identical bodies are kept once.
package content

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"sitecrawl/pkg/utils"
)

// sidecar is the metadata document written next to each stored body. URLs
// accumulates every page whose body hashed to this digest.
type sidecar struct {
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URLs        []string  `json:"urls"`
	StoredAt    time.Time `json:"stored_at"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Store writes bodies under root, sharded by the first two hex characters of
// their digest: root/ab/abcdef....html plus abcdef....meta.json.
type Store struct {
	root string
	log  *logrus.Entry
}

// NewStore creates a Store rooted at root
func NewStore(root string, log *logrus.Entry) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "creating content root %s: %v", root, err)
	}
	return &Store{root: root, log: log}, nil
}

// Put stores body if its digest is new and records pageURL in the sidecar
// either way. Returns the content digest, the body's path relative to the
// store root, and whether a new file was created (false = deduplicated).
func (s *Store) Put(body []byte, contentType, pageURL string) (hash, relPath string, created bool, err error) {
	hash = utils.ContentDigest(body)
	shard := hash[:2]
	relPath = filepath.Join(shard, hash+".html")

	dir := filepath.Join(s.root, shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", false, utils.WrapErrorf(utils.ErrStorage, "creating content shard %s: %v", dir, err)
	}

	bodyPath := filepath.Join(s.root, relPath)
	metaPath := filepath.Join(dir, hash+".meta.json")

	if _, statErr := os.Stat(bodyPath); statErr == nil {
		// Duplicate body: keep the existing file, append this URL.
		if err := s.appendURL(metaPath, pageURL); err != nil {
			return "", "", false, err
		}
		s.log.WithFields(logrus.Fields{"content_hash": hash[:12], "url": pageURL}).Debug("Content deduplicated")
		return hash, relPath, false, nil
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return "", "", false, utils.WrapErrorf(utils.ErrStorage, "checking %s: %v", bodyPath, statErr)
	}

	if err := atomicWrite(bodyPath, body); err != nil {
		return "", "", false, err
	}
	meta := sidecar{
		ContentType: contentType,
		Size:        int64(len(body)),
		URLs:        []string{pageURL},
		StoredAt:    time.Now().UTC(),
	}
	if err := s.writeSidecar(metaPath, &meta); err != nil {
		return "", "", false, err
	}
	return hash, relPath, true, nil
}

// appendURL adds pageURL to the sidecar's URL list, once
func (s *Store) appendURL(metaPath, pageURL string) error {
	data, err := os.ReadFile(metaPath)
	var meta sidecar
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &meta); jsonErr != nil {
			return utils.WrapErrorf(utils.ErrStorage, "corrupt content sidecar %s: %v", metaPath, jsonErr)
		}
	case errors.Is(err, os.ErrNotExist):
		// Body without sidecar, likely a crash between the two writes.
		s.log.Warnf("Rebuilding missing content sidecar %s", metaPath)
		meta.StoredAt = time.Now().UTC()
	default:
		return utils.WrapErrorf(utils.ErrStorage, "reading content sidecar %s: %v", metaPath, err)
	}

	for _, u := range meta.URLs {
		if u == pageURL {
			return nil
		}
	}
	meta.URLs = append(meta.URLs, pageURL)
	meta.UpdatedAt = time.Now().UTC()
	return s.writeSidecar(metaPath, &meta)
}

func (s *Store) writeSidecar(path string, meta *sidecar) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "marshaling content sidecar: %v", err)
	}
	return atomicWrite(path, data)
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
