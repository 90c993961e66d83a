// Package store implements the per-hour append-only record store,
// grounded in original_source/sensor/include/berkeleyDB.cpp's DB_RECNO
// wrapper (there: a Berkeley DB recno database opened per hour bucket,
// keyed by an auto-incrementing 32-bit record number) and in the
// bolt.Open/bolt.Update idiom used by etcd's mvcc backend for
// transactional, file-backed key spaces. go.etcd.io/bbolt's
// NextSequence is the direct Go analog of DB_RECNO's "append record,
// get back its recno" semantics.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/levigross/netSensor/internal/ts"
)

var recordsBucket = []byte("records")

// bucket is one open hour-bucket database.
type bucket struct {
	db         *bbolt.DB
	path       string
	bucketTime int64 // hour-bucket start, unix seconds
}

// Store is a bounded, LRU-over-time cache of per-hour recno database
// handles rooted at a single directory.
type Store struct {
	rootDir  string
	baseName string
	idleTO   int64

	log *zap.Logger

	buckets map[int64]*bucket
}

// New verifies rootDir is writable (by creating it if absent) and
// returns a Store ready to accept writes.
func New(rootDir, baseName string, idleTimeoutSeconds int64, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, errors.Wrap(err, "store: root directory not writable")
	}
	return &Store{
		rootDir:  rootDir,
		baseName: baseName,
		idleTO:   idleTimeoutSeconds,
		log:      log.Named("store").With(zap.String("base", baseName)),
		buckets:  make(map[int64]*bucket),
	}, nil
}

// pathFor builds <root>/YYYY/MM/DD/<base>_HH in local time for the
// hour bucket starting at bucketTime.
func (s *Store) pathFor(bucketTime int64) (dir, path string) {
	tm := ts.Timestamp{Seconds: bucketTime}.Time()
	dir = filepath.Join(s.rootDir,
		fmt.Sprintf("%04d", tm.Year()),
		fmt.Sprintf("%02d", int(tm.Month())),
		fmt.Sprintf("%02d", tm.Day()),
	)
	path = filepath.Join(dir, fmt.Sprintf("%s_%02d", s.baseName, tm.Hour()))
	return dir, path
}

// Write selects (or opens) the hour bucket containing bucketTime,
// assigns the next record number, and writes the record. It returns
// the assigned record number and an error on any I/O failure -- the
// offending bucket remains registered so a later Flush can retry it.
func (s *Store) Write(payload []byte, bucketTime int64) (uint64, error) {
	start := ts.Timestamp{Seconds: bucketTime}.HourBucketStart()

	b, ok := s.buckets[start]
	if !ok {
		dir, path := s.pathFor(start)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, errors.Wrap(err, "store: mkdir")
		}
		db, err := bbolt.Open(path, 0644, nil)
		if err != nil {
			return 0, errors.Wrap(err, "store: open")
		}
		if err := db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(recordsBucket)
			return err
		}); err != nil {
			db.Close()
			return 0, errors.Wrap(err, "store: create bucket")
		}
		b = &bucket{db: db, path: path, bucketTime: start}
		s.buckets[start] = b
		s.log.Debug("opened hour bucket", zap.String("path", path))
	}

	var recno uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(recordsBucket)
		seq, err := bk.NextSequence()
		if err != nil {
			return err
		}
		recno = seq
		return bk.Put(recnoKey(recno), payload)
	})
	if err != nil {
		return 0, errors.Wrap(err, "store: write")
	}
	return recno, nil
}

// Flush forces outstanding writes to storage (bbolt fsyncs on every
// Update, so this is a no-op beyond the eviction pass) and closes any
// bucket whose hour ended at least idleTimeout seconds ago.
func (s *Store) Flush(now int64) error {
	for start, b := range s.buckets {
		if now-(start+3600) >= s.idleTO {
			if err := b.db.Close(); err != nil {
				return errors.Wrap(err, "store: close")
			}
			delete(s.buckets, start)
			s.log.Debug("evicted idle hour bucket", zap.String("path", b.path))
		}
	}
	return nil
}

// Close closes every open bucket handle, used at shutdown.
func (s *Store) Close() error {
	for start, b := range s.buckets {
		if err := b.db.Close(); err != nil {
			return errors.Wrap(err, "store: close")
		}
		delete(s.buckets, start)
	}
	return nil
}

// OpenBucketCount reports how many hour buckets are currently open,
// exported for metrics and tests.
func (s *Store) OpenBucketCount() int { return len(s.buckets) }

func recnoKey(recno uint64) []byte {
	var k [4]byte
	k[0] = byte(recno >> 24)
	k[1] = byte(recno >> 16)
	k[2] = byte(recno >> 8)
	k[3] = byte(recno)
	return k[:]
}
