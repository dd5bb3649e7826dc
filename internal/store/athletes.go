// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/athletesync/internal/models"
)

func getAthlete(txn *badger.Txn, id int64) (*models.Athlete, error) {
	item, err := txn.Get(athleteKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get athlete %d: %w", id, err)
	}
	var a models.Athlete
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &a)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal athlete %d: %w", id, err)
	}
	return &a, nil
}

func setAthlete(txn *badger.Txn, a *models.Athlete) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal athlete %d: %w", a.ID, err)
	}
	return txn.Set(athleteKey(a.ID), data)
}

// GetAthlete returns the athlete or ErrNotFound.
func (s *Store) GetAthlete(ctx context.Context, id int64) (*models.Athlete, error) {
	var a *models.Athlete
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		a, err = getAthlete(txn, id)
		return err
	})
	return a, err
}

// PutAthlete inserts or replaces an athlete.
func (s *Store) PutAthlete(ctx context.Context, a *models.Athlete) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setAthlete(txn, a)
	})
}

// UpdateAthlete applies fn to the stored athlete and persists the result in
// one transaction. It returns ErrNotFound when the athlete does not exist.
func (s *Store) UpdateAthlete(ctx context.Context, id int64, fn func(*models.Athlete) error) (*models.Athlete, error) {
	var out *models.Athlete
	err := s.db.Update(func(txn *badger.Txn) error {
		a, err := getAthlete(txn, id)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		a.ID = id
		out = a
		return setAthlete(txn, a)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAthletes returns every stored athlete.
func (s *Store) ListAthletes(ctx context.Context) ([]*models.Athlete, error) {
	var out []*models.Athlete
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(athleteKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var a models.Athlete
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return fmt.Errorf("unmarshal athlete: %w", err)
			}
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EnabledAthletes returns the athletes with sync enabled.
func (s *Store) EnabledAthletes(ctx context.Context) ([]*models.Athlete, error) {
	all, err := s.ListAthletes(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.Sync {
			out = append(out, a)
		}
	}
	return out, nil
}

// DeleteAthlete purges the athlete's activities, streams and peer sentinel.
// The athlete record itself is kept.
func (s *Store) DeleteAthlete(ctx context.Context, athlete int64) error {
	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range keysWithPrefix(txn, activityAthletePrefix(athlete)) {
			id, err := lastIDComponent(k)
			if err != nil {
				return err
			}
			doomed = append(doomed, k, activityKey(id))
		}
		doomed = append(doomed, keysWithPrefix(txn, []byte(activitySyncKeyPrefix+pad(athlete)+":"))...)
		streamPrefix := streamAthletePrefix(athlete)
		for _, k := range keysWithPrefix(txn, streamPrefix) {
			key, err := streamKeyFromIndex(k, streamPrefix)
			if err != nil {
				return err
			}
			doomed = append(doomed, k, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan athlete %d: %w", athlete, err)
	}
	doomed = append(doomed, peerSentinelKey(athlete))

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range doomed {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete %q: %w", k, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("purge athlete %d: %w", athlete, err)
	}
	return nil
}

// streamKeyFromIndex maps stream_athlete:<athlete>:<activity>:<name> to
// stream:<activity>:<name>.
func streamKeyFromIndex(index, prefix []byte) ([]byte, error) {
	if len(index) <= len(prefix) {
		return nil, fmt.Errorf("malformed stream index key %q", index)
	}
	return append([]byte(streamKeyPrefix), index[len(prefix):]...), nil
}
