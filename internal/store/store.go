// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

// Package store persists athletes, activities, streams and sync bookkeeping
// in BadgerDB.
//
// Records are stored as JSON under prefixed keys. Per-athlete lookups go
// through secondary index keys whose key bytes carry the referenced ids, so
// set-difference style scans can run key-only without loading values.
//
// Key layout:
//
//	athlete:<id>                              Athlete
//	activity:<id>                             Activity
//	activity_athlete:<athlete>:<ts>:<id>      (index, empty value)
//	activity_sync:<athlete>:<target>:<version>:<id> (index, empty value)
//	stream:<activity>:<name>                  StreamRecord
//	stream_athlete:<athlete>:<activity>:<name> (index, empty value)
//	ratelimit:<label>                         RateLimiterState
//	peer_sentinel:<athlete>                   PeerSentinel
//
// Numeric key components other than the sync version are zero padded to 20
// digits so lexical order matches numeric order. Only non-zero sync versions
// are indexed.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/logging"
)

// Key prefixes for BadgerDB storage
const (
	athleteKeyPrefix         = "athlete:"
	activityKeyPrefix        = "activity:"
	activityAthleteKeyPrefix = "activity_athlete:"
	activitySyncKeyPrefix    = "activity_sync:"
	streamKeyPrefix          = "stream:"
	streamAthleteKeyPrefix   = "stream_athlete:"
	rateLimitKeyPrefix       = "ratelimit:"
	peerSentinelKeyPrefix    = "peer_sentinel:"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Store is the BadgerDB-backed persistent store.
type Store struct {
	db    *badger.DB
	owned bool
}

// Open opens (or creates) the store described by cfg.
func Open(cfg config.StorageConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("Store opened")

	return &Store{db: db, owned: true}, nil
}

// New wraps an already opened database. The caller keeps ownership of db.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database.
func (s *Store) DB() *badger.DB {
	return s.db
}

// Close closes the database if it was opened by Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// RunGC runs value log garbage collection until nothing is left to rewrite
// and returns the number of rewritten files.
func (s *Store) RunGC(discardRatio float64) (int, error) {
	if s.db.IsClosed() {
		return 0, ErrClosed
	}
	rewrites := 0
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return rewrites, nil
		}
		if err != nil {
			return rewrites, fmt.Errorf("run value log GC: %w", err)
		}
		rewrites++
	}
}

func pad(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func athleteKey(id int64) []byte {
	return []byte(athleteKeyPrefix + pad(id))
}

func activityKey(id int64) []byte {
	return []byte(activityKeyPrefix + pad(id))
}

func activityAthletePrefix(athlete int64) []byte {
	return []byte(activityAthleteKeyPrefix + pad(athlete) + ":")
}

func activitySyncPrefix(athlete int64, target string) []byte {
	return []byte(activitySyncKeyPrefix + pad(athlete) + ":" + target + ":")
}

func activitySyncKey(athlete int64, target string, version int, id int64) []byte {
	return []byte(activitySyncKeyPrefix + pad(athlete) + ":" + target + ":" + strconv.Itoa(version) + ":" + pad(id))
}

// parseSyncIndex splits the <version>:<id> tail of an activity_sync key.
func parseSyncIndex(key, prefix []byte) (version int, id int64, err error) {
	tail := string(key[len(prefix):])
	v, rest, ok := strings.Cut(tail, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed sync index key %q", key)
	}
	if version, err = strconv.Atoi(v); err != nil {
		return 0, 0, fmt.Errorf("malformed sync index key %q: %w", key, err)
	}
	if id, err = strconv.ParseInt(rest, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed sync index key %q: %w", key, err)
	}
	return version, id, nil
}

func activityAthleteKey(athlete, ts, id int64) []byte {
	return []byte(activityAthleteKeyPrefix + pad(athlete) + ":" + pad(ts) + ":" + pad(id))
}

func streamKey(activity int64, stream string) []byte {
	return []byte(streamKeyPrefix + pad(activity) + ":" + stream)
}

func streamActivityPrefix(activity int64) []byte {
	return []byte(streamKeyPrefix + pad(activity) + ":")
}

func streamAthletePrefix(athlete int64) []byte {
	return []byte(streamAthleteKeyPrefix + pad(athlete) + ":")
}

func streamAthleteKey(athlete, activity int64, stream string) []byte {
	return []byte(streamAthleteKeyPrefix + pad(athlete) + ":" + pad(activity) + ":" + stream)
}

func rateLimitKey(label string) []byte {
	return []byte(rateLimitKeyPrefix + label)
}

func peerSentinelKey(athlete int64) []byte {
	return []byte(peerSentinelKeyPrefix + pad(athlete))
}

// lastIDComponent parses the trailing zero-padded id of an index key.
func lastIDComponent(key []byte) (int64, error) {
	k := string(key)
	i := strings.LastIndexByte(k, ':')
	if i < 0 {
		return 0, fmt.Errorf("malformed index key %q", k)
	}
	return strconv.ParseInt(k[i+1:], 10, 64)
}

// keysWithPrefix returns copies of all keys under prefix without loading values.
func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}
