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

// writeChunk bounds the records written in one transaction.
const writeChunk = 500

func getActivity(txn *badger.Txn, id int64) (*models.Activity, error) {
	item, err := txn.Get(activityKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activity %d: %w", id, err)
	}
	var a models.Activity
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &a)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal activity %d: %w", id, err)
	}
	return &a, nil
}

func setActivity(txn *badger.Txn, a *models.Activity, prev *models.Activity) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal activity %d: %w", a.ID, err)
	}
	if err := txn.Set(activityKey(a.ID), data); err != nil {
		return fmt.Errorf("set activity %d: %w", a.ID, err)
	}
	if prev != nil && (prev.Athlete != a.Athlete || prev.TS != a.TS) {
		if err := txn.Delete(activityAthleteKey(prev.Athlete, prev.TS, prev.ID)); err != nil {
			return fmt.Errorf("delete stale index for %d: %w", a.ID, err)
		}
	}
	if err := txn.Set(activityAthleteKey(a.Athlete, a.TS, a.ID), nil); err != nil {
		return fmt.Errorf("set index for %d: %w", a.ID, err)
	}
	return setSyncIndex(txn, a, prev)
}

func syncIndexKeys(a *models.Activity) map[string]bool {
	keys := make(map[string]bool, len(a.SyncState))
	for target := range a.SyncState {
		if v := a.SyncVersion(target); v != 0 {
			keys[string(activitySyncKey(a.Athlete, target, v, a.ID))] = true
		}
	}
	return keys
}

// setSyncIndex replaces the sync version index entries of prev with those
// of a.
func setSyncIndex(txn *badger.Txn, a, prev *models.Activity) error {
	want := syncIndexKeys(a)
	if prev != nil {
		for k := range syncIndexKeys(prev) {
			if want[k] {
				delete(want, k)
				continue
			}
			if err := txn.Delete([]byte(k)); err != nil {
				return fmt.Errorf("delete stale sync index for %d: %w", a.ID, err)
			}
		}
	}
	for k := range want {
		if err := txn.Set([]byte(k), nil); err != nil {
			return fmt.Errorf("set sync index for %d: %w", a.ID, err)
		}
	}
	return nil
}

// athleteActivityIDs returns the athlete's activity ids in timestamp order.
func athleteActivityIDs(txn *badger.Txn, athlete int64) ([]int64, error) {
	keys := keysWithPrefix(txn, activityAthletePrefix(athlete))
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		id, err := lastIDComponent(k)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AllActivityIDs returns every activity id of the athlete, oldest first.
func (s *Store) AllActivityIDs(ctx context.Context, athlete int64) ([]int64, error) {
	var ids []int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ids, err = athleteActivityIDs(txn, athlete)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list activity ids: %w", err)
	}
	return ids, nil
}

// ActivitiesForAthlete returns every activity of the athlete, oldest first.
func (s *Store) ActivitiesForAthlete(ctx context.Context, athlete int64) ([]*models.Activity, error) {
	var acts []*models.Activity
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := athleteActivityIDs(txn, athlete)
		if err != nil {
			return err
		}
		acts = make([]*models.Activity, 0, len(ids))
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			a, err := getActivity(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			acts = append(acts, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return acts, nil
}

// filterActivityIDs returns the athlete's activity ids, oldest first, whose
// target version passes keep. It reads index keys only.
func (s *Store) filterActivityIDs(ctx context.Context, athlete int64, target string, keep func(version int) bool) ([]int64, error) {
	var ids []int64
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := activitySyncPrefix(athlete, target)
		versions := make(map[int64]int)
		for _, k := range keysWithPrefix(txn, prefix) {
			v, id, err := parseSyncIndex(k, prefix)
			if err != nil {
				return err
			}
			versions[id] = v
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		all, err := athleteActivityIDs(txn, athlete)
		if err != nil {
			return err
		}
		for _, id := range all {
			if keep(versions[id]) {
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s sync versions: %w", target, err)
	}
	return ids, nil
}

// ActivityIDsWithSyncVersion returns ids whose target version equals version.
func (s *Store) ActivityIDsWithSyncVersion(ctx context.Context, athlete int64, target string, version int) ([]int64, error) {
	return s.filterActivityIDs(ctx, athlete, target, func(v int) bool {
		return v == version
	})
}

// ActivityIDsWithSyncLatest returns ids whose target version is at least latest.
func (s *Store) ActivityIDsWithSyncLatest(ctx context.Context, athlete int64, target string, latest int) ([]int64, error) {
	return s.filterActivityIDs(ctx, athlete, target, func(v int) bool {
		return v >= latest
	})
}

// GetActivity returns one activity or ErrNotFound.
func (s *Store) GetActivity(ctx context.Context, id int64) (*models.Activity, error) {
	var a *models.Activity
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		a, err = getActivity(txn, id)
		return err
	})
	return a, err
}

// GetActivities returns the activities for ids in the same order, skipping
// ids that do not exist.
func (s *Store) GetActivities(ctx context.Context, ids []int64) ([]*models.Activity, error) {
	acts := make([]*models.Activity, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			a, err := getActivity(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			acts = append(acts, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acts, nil
}

// PutActivities inserts or replaces whole activity records.
func (s *Store) PutActivities(ctx context.Context, acts []*models.Activity) error {
	for start := 0; start < len(acts); start += writeChunk {
		end := min(start+writeChunk, len(acts))
		if err := s.putActivities(acts[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) putActivities(acts []*models.Activity) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, a := range acts {
			prev, err := getActivity(txn, a.ID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if err := setActivity(txn, a, prev); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveActivities persists the sync state and stats of existing activities.
// Other stored fields are left as they are. Missing activities are skipped.
// Each chunk of writeChunk activities is committed atomically.
func (s *Store) SaveActivities(ctx context.Context, acts []*models.Activity) error {
	for start := 0; start < len(acts); start += writeChunk {
		end := min(start+writeChunk, len(acts))
		if err := s.saveActivities(acts[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) saveActivities(acts []*models.Activity) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, a := range acts {
			stored, err := getActivity(txn, a.ID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			updated := *stored
			updated.SyncState = a.SyncState
			updated.Stats = a.Stats
			if err := setActivity(txn, &updated, stored); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountActivities returns the number of activities of the athlete.
func (s *Store) CountActivities(ctx context.Context, athlete int64) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		count = len(keysWithPrefix(txn, activityAthletePrefix(athlete)))
		return nil
	})
	return count, err
}

// FirstActivity returns the athlete's oldest activity or ErrNotFound.
func (s *Store) FirstActivity(ctx context.Context, athlete int64) (*models.Activity, error) {
	var a *models.Activity
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := activityAthletePrefix(athlete)
		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		id, err := lastIDComponent(it.Item().Key())
		if err != nil {
			return err
		}
		a, err = getActivity(txn, id)
		return err
	})
	return a, err
}

// ClearSyncState forgets target on every activity of the athlete and
// returns how many activities were touched.
func (s *Store) ClearSyncState(ctx context.Context, athlete int64, target string) (int, error) {
	acts, err := s.ActivitiesForAthlete(ctx, athlete)
	if err != nil {
		return 0, err
	}
	for _, a := range acts {
		a.ClearSyncState(target)
	}
	if err := s.SaveActivities(ctx, acts); err != nil {
		return 0, fmt.Errorf("clear %s sync state: %w", target, err)
	}
	return len(acts), nil
}
