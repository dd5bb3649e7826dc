// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package sync

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/models"
)

// ExportPageSize is the number of stream records per exported page.
const ExportPageSize = 5000

// ExportStreams writes the athlete's stream records to w as newline
// delimited JSON arrays of at most ExportPageSize records. It returns the
// number of pages written.
func (s *Service) ExportStreams(ctx context.Context, w io.Writer, athlete int64) (int, error) {
	enc := json.NewEncoder(w)
	page := make([]models.StreamRecord, 0, ExportPageSize)
	pages := 0
	flush := func() error {
		if err := enc.Encode(page); err != nil {
			return fmt.Errorf("write page %d: %w", pages, err)
		}
		pages++
		page = page[:0]
		return nil
	}

	err := s.store.IterateStreams(ctx, athlete, func(rec models.StreamRecord) error {
		page = append(page, rec)
		if len(page) == ExportPageSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return pages, err
	}
	if len(page) > 0 {
		if err := flush(); err != nil {
			return pages, err
		}
	}
	logging.Info().Int64("athlete", athlete).Int("pages", pages).Msg("Export done")
	return pages, nil
}

// ImportStreams reads pages written by ExportStreams and stores them. It
// returns the number of records imported.
func (s *Service) ImportStreams(ctx context.Context, r io.Reader) (int, error) {
	dec := json.NewDecoder(r)
	added := 0
	for page := 0; ; page++ {
		var recs []models.StreamRecord
		if err := dec.Decode(&recs); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return added, fmt.Errorf("read page %d: %w", page, err)
		}
		if err := ctx.Err(); err != nil {
			return added, err
		}
		if err := s.store.PutStreams(ctx, recs); err != nil {
			return added, fmt.Errorf("import page %d: %w", page, err)
		}
		added += len(recs)
		logging.Debug().Int("page", page).Int("records", len(recs)).Msg("Imported streams page")
	}
	logging.Info().Int("records", added).Msg("Imported streams")
	return added, nil
}
