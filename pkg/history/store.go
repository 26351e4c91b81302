package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"booru-archiver/pkg/log"
	"booru-archiver/pkg/utils"
)

const (
	downloadKeyPrefix = "dl:"         // dl:<provider>:<post id>
	historyDBDir      = "download_db" // Subdirectory within the history dir for Badger files
)

// Entry records one finished download.
type Entry struct {
	Path         string    `json:"path"` // Relative to the output root
	MD5          string    `json:"md5,omitempty"`
	Size         int64     `json:"size,omitempty"`
	Query        string    `json:"query,omitempty"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Store keeps a per-provider record of completed downloads in BadgerDB so
// reruns can skip work without stat'ing every file on disk.
type Store struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64
}

// NewStore opens (or creates) the history database under historyDir.
func NewStore(historyDir string, logger *logrus.Entry) (*Store, error) {
	dbPath := filepath.Join(historyDir, historyDBDir)
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cannot create history directory %s: %v", utils.ErrFilesystem, dbPath, err)
	}

	store := &Store{log: logger}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening history database at %s: %v", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countKeys()
	if err != nil {
		logger.Warnf("Failed to count existing history keys: %v", err)
	} else {
		store.keyCount.Store(int64(count))
	}

	logger.WithField("db_path", dbPath).Debug("Download history database opened")
	return store, nil
}

func (s *Store) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func downloadKey(provider string, postID int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", downloadKeyPrefix, provider, postID))
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *Store) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// MarkDownloaded records a completed download. Overwrites any prior entry for
// the same provider and post.
func (s *Store) MarkDownloaded(provider string, postID int64, entry Entry) error {
	if s.db == nil {
		return errors.New("history store not initialized")
	}
	if entry.DownloadedAt.IsZero() {
		entry.DownloadedAt = time.Now().UTC()
	}
	key := downloadKey(provider, postID)

	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling history entry for key '%s': %w", string(key), err)
	}

	isNew := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB update error in MarkDownloaded: %v", err)
		return fmt.Errorf("%w: marking download key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// Check reports whether a download is recorded and returns its entry.
func (s *Store) Check(provider string, postID int64) (*Entry, bool, error) {
	key := downloadKey(provider, postID)
	var entry *Entry

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: getting download key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded Entry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				// An unreadable entry means re-download; never trust it.
				s.log.Warnf("Failed to unmarshal history entry for key '%s': %v. Treating as absent.", string(key), errJSON)
				return nil
			}
			entry = &decoded
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB view error in Check for key '%s': %v", string(key), errView)
		return nil, false, errView
	}
	return entry, entry != nil, nil
}

// Count returns the cached number of recorded downloads (O(1)).
func (s *Store) Count() int {
	return int(s.keyCount.Load())
}

// RunGC runs BadgerDB's value log garbage collection periodically until ctx
// is cancelled.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for {
				// Run GC while the log has at least 50% reclaimable space.
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping history GC goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing history DB: %v", err)
			return err
		}
	}
	return nil
}
