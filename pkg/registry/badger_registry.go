package registry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	applog "sitecrawl/pkg/log"
	"sitecrawl/pkg/models"
	"sitecrawl/pkg/utils"
)

const (
	entryKeyPrefix = "entry:" // entry:<seq> -> PageEntry JSON
	hashKeyPrefix  = "hash:"  // hash:<urlHash> -> seq of the most recent entry
	seqCounterKey  = "meta:next_seq"
)

// BadgerRegistry keeps PageEntry records in a BadgerDB store. Entries are
// appended under a monotonic sequence number; a secondary key per URL digest
// points at the most recent entry. Interchangeable with FileRegistry.
type BadgerRegistry struct {
	db      *badger.DB
	nextSeq uint64
	log     *logrus.Entry
}

// OpenBadgerRegistry opens (or creates) a Badger-backed registry at dir
func OpenBadgerRegistry(dir string, log *logrus.Entry) (*BadgerRegistry, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(applog.NewBadgerAdapter(log)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrStorage, "opening registry database at %s: %v", dir, err)
	}

	r := &BadgerRegistry{db: db, log: log}
	if err := r.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *BadgerRegistry) loadSeq() error {
	return r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(seqCounterKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			r.nextSeq = 0
			return nil
		}
		if err != nil {
			return utils.WrapErrorf(utils.ErrStorage, "reading registry sequence counter: %v", err)
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return utils.WrapErrorf(utils.ErrStorage, "corrupt registry sequence counter (%d bytes)", len(val))
			}
			r.nextSeq = binary.BigEndian.Uint64(val)
			return nil
		})
	})
}

func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%012d", entryKeyPrefix, seq))
}

func hashKey(urlHash string) []byte {
	return []byte(hashKeyPrefix + urlHash)
}

// Get returns the most recent entry for urlHash
func (r *BadgerRegistry) Get(urlHash string) (*models.PageEntry, bool, error) {
	var entry models.PageEntry
	found := false

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hashKey(urlHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var seq uint64
		if err := item.Value(func(val []byte) error {
			seq = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return err
		}

		entryItem, err := txn.Get(entryKey(seq))
		if err != nil {
			return err
		}
		return entryItem.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &entry); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, false, utils.WrapErrorf(utils.ErrStorage, "reading registry entry %s: %v", urlHash, err)
	}
	if !found {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Put appends a new entry and points the URL digest key at it
func (r *BadgerRegistry) Put(entry *models.PageEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "marshaling registry entry: %v", err)
	}

	seq := r.nextSeq
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], seq+1)

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(entryKey(seq), data); err != nil {
			return err
		}
		if err := txn.Set(hashKey(entry.URLHash), seqBytes[:]); err != nil {
			return err
		}
		return txn.Set([]byte(seqCounterKey), counterBytes[:])
	})
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "writing registry entry %s: %v", entry.URLHash, err)
	}
	r.nextSeq = seq + 1
	return nil
}

// Update rewrites the most recent entry for entry.URLHash in place
func (r *BadgerRegistry) Update(entry *models.PageEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "marshaling registry entry: %v", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(hashKey(entry.URLHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return utils.WrapErrorf(utils.ErrStorage, "updating unknown registry entry %s", entry.URLHash)
		}
		if err != nil {
			return err
		}
		var seq uint64
		if err := item.Value(func(val []byte) error {
			seq = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return err
		}
		return txn.Set(entryKey(seq), data)
	})
	if err != nil {
		if errors.Is(err, utils.ErrStorage) {
			return err
		}
		return utils.WrapErrorf(utils.ErrStorage, "updating registry entry %s: %v", entry.URLHash, err)
	}
	return nil
}

// Len returns the total number of stored entries
func (r *BadgerRegistry) Len() int {
	return int(r.nextSeq)
}

// Flush syncs Badger's writes to disk
func (r *BadgerRegistry) Flush() error {
	if err := r.db.Sync(); err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "syncing registry database: %v", err)
	}
	return nil
}

// Close closes the underlying database
func (r *BadgerRegistry) Close() error {
	if err := r.db.Close(); err != nil {
		return utils.WrapErrorf(utils.ErrStorage, "closing registry database: %v", err)
	}
	return nil
}
