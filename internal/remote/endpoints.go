// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package remote

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/athletesync/internal/models"
)

// FetchStreams requests the named streams of an activity. It returns
// ErrNotFound when the activity no longer exists remotely and a
// *ThrottledFetchError on 429.
func (c *Client) FetchStreams(ctx context.Context, activityID int64, names []string) (map[string]json.RawMessage, error) {
	q := url.Values{}
	for _, n := range names {
		q.Add("stream_types[]", n)
	}
	resp, err := c.Fetch(ctx, fmt.Sprintf("/activities/%d/streams", activityID), q)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("streams for activity %d: %w", activityID, ErrNotFound)
		}
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode streams for activity %d: %w", activityID, err)
	}
	return out, nil
}

// TrainingActivity is one entry of the self activity listing.
type TrainingActivity struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	Trainer           bool   `json:"trainer"`
	StartDateLocalRaw int64  `json:"start_date_local_raw"`
}

// TrainingActivitiesPage is one page of the self activity listing.
type TrainingActivitiesPage struct {
	Models  []TrainingActivity `json:"models"`
	Total   int                `json:"total"`
	PerPage int                `json:"perPage"`
}

// TrainingActivities fetches one page (1-based) of the current user's
// activity listing.
func (c *Client) TrainingActivities(ctx context.Context, page int) (*TrainingActivitiesPage, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("new_activity_only", "false")
	q.Set("page", strconv.Itoa(page))
	resp, err := c.Fetch(ctx, "/athlete/training_activities", q)
	if err != nil {
		return nil, err
	}
	var out TrainingActivitiesPage
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode training activities page %d: %w", page, err)
	}
	return &out, nil
}

// IntervalFeed returns the raw monthly activity feed of an athlete.
func (c *Client) IntervalFeed(ctx context.Context, athlete int64, year, month int) (string, error) {
	if err := c.pace(ctx); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("interval_type", "month")
	q.Set("chart_type", "miles")
	q.Set("year_offset", "0")
	q.Set("interval", fmt.Sprintf("%d%02d", year, month))
	resp, err := c.Fetch(ctx, fmt.Sprintf("/athletes/%d/interval", athlete), q)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

type hrZonesResponse struct {
	DistributionBuckets []struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"distribution_buckets"`
}

// FetchHRZones returns the heart rate zones of the athlete owning
// activityID, or nil when the athlete has none configured. The endpoint
// is activity scoped but the zones are global to the athlete.
func (c *Client) FetchHRZones(ctx context.Context, activityID int64) (*models.HRZones, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}
	resp, err := c.Fetch(ctx, fmt.Sprintf("/activities/%d/heartrate_zones", activityID), nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var r hrZonesResponse
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return nil, fmt.Errorf("decode heart rate zones: %w", err)
	}
	b := r.DistributionBuckets
	if len(b) < 4 {
		return nil, nil
	}
	return &models.HRZones{Z1: b[0].Max, Z2: b[1].Max, Z3: b[2].Max, Z4: b[3].Max}, nil
}

var allFTPsRegexp = regexp.MustCompile(`all_ftps = (\[.*\]);`)

// SelfFTPHistory scrapes the current user's FTP history from the
// performance settings page.
func (c *Client) SelfFTPHistory(ctx context.Context) ([]models.ValueAt, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}
	resp, err := c.Fetch(ctx, "/settings/performance", nil)
	if err != nil {
		return nil, err
	}
	return ParseFTPHistory(resp.Body)
}

// ParseFTPHistory extracts the all_ftps table from a performance page.
func ParseFTPHistory(page []byte) ([]models.ValueAt, error) {
	m := allFTPsRegexp.FindSubmatch(page)
	if m == nil {
		return nil, nil
	}
	var raw []struct {
		StartDate int64   `json:"start_date"`
		Value     float64 `json:"value"`
	}
	if err := json.Unmarshal(m[1], &raw); err != nil {
		return nil, fmt.Errorf("decode ftp history: %w", err)
	}
	out := make([]models.ValueAt, len(raw))
	for i, x := range raw {
		out[i] = models.ValueAt{TS: x.StartDate * 1000, Value: x.Value}
	}
	return out, nil
}
