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

func (s *Store) getJSON(key []byte, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func (s *Store) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// LoadRateLimiterState returns the persisted state of a limiter tier or
// ErrNotFound. Undecodable state is returned as an error.
func (s *Store) LoadRateLimiterState(ctx context.Context, label string) (*models.RateLimiterState, error) {
	var st models.RateLimiterState
	if err := s.getJSON(rateLimitKey(label), &st); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load rate limiter %s: %w", label, err)
	}
	return &st, nil
}

// SaveRateLimiterState persists the state of a limiter tier.
func (s *Store) SaveRateLimiterState(ctx context.Context, st *models.RateLimiterState) error {
	if err := s.setJSON(rateLimitKey(st.Label), st); err != nil {
		return fmt.Errorf("save rate limiter %s: %w", st.Label, err)
	}
	return nil
}

// GetPeerSentinel returns the athlete's peer scan sentinel or ErrNotFound.
func (s *Store) GetPeerSentinel(ctx context.Context, athlete int64) (*models.PeerSentinel, error) {
	var ps models.PeerSentinel
	if err := s.getJSON(peerSentinelKey(athlete), &ps); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load peer sentinel %d: %w", athlete, err)
	}
	return &ps, nil
}

// PutPeerSentinel persists the athlete's peer scan sentinel.
func (s *Store) PutPeerSentinel(ctx context.Context, ps *models.PeerSentinel) error {
	if err := s.setJSON(peerSentinelKey(ps.Athlete), ps); err != nil {
		return fmt.Errorf("save peer sentinel %d: %w", ps.Athlete, err)
	}
	return nil
}
