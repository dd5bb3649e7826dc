// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/athletesync/internal/models"
)

// PutStreams inserts or replaces stream records.
func (s *Store) PutStreams(ctx context.Context, recs []models.StreamRecord) error {
	if len(recs) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range recs {
		r := &recs[i]
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal stream %d/%s: %w", r.Activity, r.Stream, err)
		}
		if err := wb.Set(streamKey(r.Activity, r.Stream), data); err != nil {
			return fmt.Errorf("set stream: %w", err)
		}
		if err := wb.Set(streamAthleteKey(r.Athlete, r.Activity, r.Stream), nil); err != nil {
			return fmt.Errorf("set stream index: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush streams: %w", err)
	}
	return nil
}

// ActivityStreams returns every stored stream of one activity.
func (s *Store) ActivityStreams(ctx context.Context, activity int64) (models.StreamSet, error) {
	set := make(models.StreamSet)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := streamActivityPrefix(activity)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec models.StreamRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("unmarshal stream: %w", err)
			}
			set[rec.Stream] = rec.Data
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// StreamKeysForAthlete returns the keys of every stream stored for the
// athlete. Only index keys are read.
func (s *Store) StreamKeysForAthlete(ctx context.Context, athlete int64) ([]models.StreamKey, error) {
	var out []models.StreamKey
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := streamAthletePrefix(athlete)
		for _, k := range keysWithPrefix(txn, prefix) {
			rest := strings.TrimPrefix(string(k), string(prefix))
			idStr, stream, ok := strings.Cut(rest, ":")
			if !ok {
				return fmt.Errorf("malformed stream index key %q", k)
			}
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				return fmt.Errorf("malformed stream index key %q: %w", k, err)
			}
			out = append(out, models.StreamKey{Activity: id, Stream: stream})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetStreams returns the records for keys, skipping missing ones.
func (s *Store) GetStreams(ctx context.Context, keys []models.StreamKey) ([]models.StreamRecord, error) {
	out := make([]models.StreamRecord, 0, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			item, err := txn.Get(streamKey(k.Activity, k.Stream))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get stream %d/%s: %w", k.Activity, k.Stream, err)
			}
			var rec models.StreamRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("unmarshal stream %d/%s: %w", k.Activity, k.Stream, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IterateStreams calls fn for every stream of the athlete in key order.
// Iteration stops at the first error returned by fn.
func (s *Store) IterateStreams(ctx context.Context, athlete int64, fn func(models.StreamRecord) error) error {
	keys, err := s.StreamKeysForAthlete(ctx, athlete)
	if err != nil {
		return err
	}
	const page = 256
	for start := 0; start < len(keys); start += page {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := s.GetStreams(ctx, keys[start:min(start+page, len(keys))])
		if err != nil {
			return err
		}
		for _, r := range recs {
			if err := fn(r); err != nil {
				return err
			}
		}
	}
	return nil
}
