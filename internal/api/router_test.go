// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/athletesync/internal/analysis"
	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/events"
	"github.com/tomtom215/athletesync/internal/models"
	"github.com/tomtom215/athletesync/internal/ratelimit"
	"github.com/tomtom215/athletesync/internal/store"
	syncpkg "github.com/tomtom215/athletesync/internal/sync"
	"github.com/tomtom215/athletesync/internal/workerpool"
)

const testAthlete = int64(42)

type nopDiscovery struct{}

func (nopDiscovery) Sync(ctx context.Context, athlete int64, isSelf bool) error { return nil }

type nopData struct{}

func (nopData) SyncData(ctx context.Context, athlete *models.Athlete, opts syncpkg.SyncOptions) error {
	return nil
}

type fakeLimiterStatus struct{}

func (fakeLimiterStatus) Status(ctx context.Context) []ratelimit.TierStatus {
	return []ratelimit.TierStatus{{Label: "minute", Period: time.Minute, Limit: 90, Used: 3}}
}

type apiFixture struct {
	store  *store.Store
	holder *syncpkg.Holder
	server *httptest.Server
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil // Disable logging for tests
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("Failed to open BadgerDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(db)
}

// newAPIFixture serves the full router over a temp store. A non-zero
// currentUser starts a sync manager.
func newAPIFixture(t *testing.T, currentUser int64) *apiFixture {
	t.Helper()
	st := newTestStore(t)

	bus, err := events.NewBus(config.EventsConfig{BufferSize: 64})
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })

	pool := workerpool.New(config.WorkerPoolConfig{MaxWorkers: 2}, workerpool.DefaultRegistry())
	t.Cleanup(pool.Close)

	syncCfg := config.SyncConfig{RefreshInterval: time.Hour, RefreshErrorBackoff: time.Minute}
	holder := syncpkg.NewHolder(func(user int64) *syncpkg.Manager {
		return syncpkg.NewManager(user, st, nopDiscovery{}, nopData{}, bus, syncCfg)
	}, currentUser)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = holder.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	if currentUser != 0 {
		deadline := time.Now().Add(5 * time.Second)
		for holder.Current() == nil {
			if time.Now().After(deadline) {
				t.Fatal("holder never started a manager")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	svc := syncpkg.NewService(syncpkg.ServiceDeps{
		Store:  st,
		Holder: holder,
		Pool:   pool,
		Events: bus,
	})
	handler := NewHandler(HandlerDeps{Service: svc, Holder: holder, Limiter: fakeLimiterStatus{}})
	server := httptest.NewServer(NewRouter(handler, nil).SetupChi())
	t.Cleanup(server.Close)

	return &apiFixture{store: st, holder: holder, server: server}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (int, APIResponse) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	var out APIResponse
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s body %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func (f *apiFixture) seedAthlete(t *testing.T, a *models.Athlete) {
	t.Helper()
	if err := f.store.PutAthlete(context.Background(), a); err != nil {
		t.Fatalf("PutAthlete() error = %v", err)
	}
}

func (f *apiFixture) athlete(t *testing.T, id int64) *models.Athlete {
	t.Helper()
	a, err := f.store.GetAthlete(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAthlete() error = %v", err)
	}
	return a
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t, testAthlete)

	for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready", "/api/v1/health/"} {
		t.Run(path, func(t *testing.T) {
			code, resp := f.do(t, http.MethodGet, path, nil)
			if code != http.StatusOK || !resp.Success {
				t.Errorf("GET %s = %d %+v", path, code, resp)
			}
		})
	}

	resp, err := http.Get(f.server.URL + "/api/v1/health/live")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestAthleteEndpoints(t *testing.T) {
	f := newAPIFixture(t, testAthlete)

	t.Run("add invalid", func(t *testing.T) {
		code, resp := f.do(t, http.MethodPost, "/api/v1/athletes", map[string]interface{}{"id": 0, "gender": "x"})
		if code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
			t.Errorf("POST invalid = %d %+v", code, resp.Error)
		}
	})

	t.Run("add malformed", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/athletes", strings.NewReader("{"))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST malformed = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("add", func(t *testing.T) {
		code, _ := f.do(t, http.MethodPost, "/api/v1/athletes", syncpkg.AddAthleteRequest{ID: testAthlete, Name: "Ada", Gender: "female"})
		if code != http.StatusCreated {
			t.Fatalf("POST athlete = %d, want 201", code)
		}
	})

	t.Run("list", func(t *testing.T) {
		code, resp := f.do(t, http.MethodGet, "/api/v1/athletes", nil)
		if code != http.StatusOK || resp.Meta == nil || resp.Meta.Count == nil || *resp.Meta.Count != 1 {
			t.Errorf("GET athletes = %d %+v", code, resp.Meta)
		}
	})

	t.Run("get", func(t *testing.T) {
		tests := []struct {
			path string
			want int
		}{
			{"/api/v1/athletes/42", http.StatusOK},
			{"/api/v1/athletes/999", http.StatusNotFound},
			{"/api/v1/athletes/abc", http.StatusBadRequest},
			{"/api/v1/athletes/-3", http.StatusBadRequest},
		}
		for _, tt := range tests {
			if code, _ := f.do(t, http.MethodGet, tt.path, nil); code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, code, tt.want)
			}
		}
	})

	t.Run("enable and disable", func(t *testing.T) {
		if code, _ := f.do(t, http.MethodPost, "/api/v1/athletes/42/enable", nil); code != http.StatusOK {
			t.Fatalf("enable = %d", code)
		}
		if !f.athlete(t, testAthlete).Sync {
			t.Error("athlete not enabled")
		}
		if code, _ := f.do(t, http.MethodPost, "/api/v1/athletes/42/disable", nil); code != http.StatusOK {
			t.Fatalf("disable = %d", code)
		}
		if f.athlete(t, testAthlete).Sync {
			t.Error("athlete still enabled")
		}
		if code, _ := f.do(t, http.MethodPost, "/api/v1/athletes/999/enable", nil); code != http.StatusNotFound {
			t.Errorf("enable unknown = %d, want 404", code)
		}
	})
}

func TestSyncEndpoints(t *testing.T) {
	f := newAPIFixture(t, testAthlete)
	f.seedAthlete(t, &models.Athlete{ID: testAthlete, Name: "Ada", Gender: "female"})

	noStreams := &models.Activity{ID: 1, Athlete: testAthlete, TS: 1000}
	noStreams.SetSyncVersion(models.TargetStreams, models.VersionNever)
	fetched := &models.Activity{ID: 2, Athlete: testAthlete, TS: 2000}
	fetched.SetSyncVersion(models.TargetStreams, 1)
	if err := f.store.PutActivities(context.Background(), []*models.Activity{noStreams, fetched}); err != nil {
		t.Fatalf("PutActivities() error = %v", err)
	}

	t.Run("status", func(t *testing.T) {
		code, resp := f.do(t, http.MethodGet, "/api/v1/athletes/42/sync", nil)
		if code != http.StatusOK {
			t.Fatalf("GET sync = %d", code)
		}
		data, _ := json.Marshal(resp.Data)
		var status SyncStatus
		if err := json.Unmarshal(data, &status); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if status.ActivitiesCount != 2 {
			t.Errorf("ActivitiesCount = %d, want 2", status.ActivitiesCount)
		}
		if status.RateLimiterSleeping {
			t.Error("RateLimiterSleeping = true")
		}
	})

	t.Run("invalidate", func(t *testing.T) {
		code, resp := f.do(t, http.MethodPost, "/api/v1/athletes/42/sync/invalidate", InvalidateRequest{Target: "bogus"})
		if code != http.StatusBadRequest || resp.Error.Code != ErrCodeValidationFailed {
			t.Errorf("invalidate bogus = %d %+v", code, resp.Error)
		}
		code, resp = f.do(t, http.MethodPost, "/api/v1/athletes/42/sync/invalidate", InvalidateRequest{Target: models.TargetStreams})
		if code != http.StatusOK {
			t.Fatalf("invalidate = %d %+v", code, resp.Error)
		}
		data := resp.Data.(map[string]interface{})
		if data["activities"] != float64(2) {
			t.Errorf("activities = %v, want 2", data["activities"])
		}
		if !f.athlete(t, testAthlete).Sync {
			t.Error("invalidate should enable the athlete")
		}
	})

	t.Run("start and cancel", func(t *testing.T) {
		if code, _ := f.do(t, http.MethodPost, "/api/v1/athletes/42/sync/start", nil); code != http.StatusAccepted {
			t.Errorf("start = %d, want 202", code)
		}
		if code, _ := f.do(t, http.MethodPost, "/api/v1/athletes/42/sync/cancel", nil); code != http.StatusOK {
			t.Errorf("cancel = %d, want 200", code)
		}
	})

	t.Run("rate limiter", func(t *testing.T) {
		code, resp := f.do(t, http.MethodGet, "/api/v1/ratelimit", nil)
		if code != http.StatusOK || resp.Meta.Count == nil || *resp.Meta.Count != 1 {
			t.Errorf("GET ratelimit = %d %+v", code, resp.Meta)
		}
	})
}

func TestSessionEndpoints(t *testing.T) {
	f := newAPIFixture(t, 0)
	f.seedAthlete(t, &models.Athlete{ID: testAthlete, Name: "Ada", Gender: "female"})

	if code, resp := f.do(t, http.MethodPost, "/api/v1/athletes/42/enable", nil); code != http.StatusServiceUnavailable {
		t.Errorf("enable without manager = %d %+v, want 503", code, resp.Error)
	}

	code, resp := f.do(t, http.MethodPut, "/api/v1/session", CurrentUserRequest{Athlete: testAthlete})
	if code != http.StatusOK {
		t.Fatalf("PUT session = %d %+v", code, resp.Error)
	}
	if f.holder.Current() == nil {
		t.Fatal("no manager after setting the current user")
	}
	if code, _ := f.do(t, http.MethodPost, "/api/v1/athletes/42/enable", nil); code != http.StatusOK {
		t.Errorf("enable with manager = %d, want 200", code)
	}

	code, resp = f.do(t, http.MethodGet, "/api/v1/session", nil)
	if code != http.StatusOK {
		t.Fatalf("GET session = %d", code)
	}
	if data := resp.Data.(map[string]interface{}); data["athlete"] != float64(testAthlete) || data["manager_running"] != true {
		t.Errorf("session = %v", data)
	}

	if code, _ := f.do(t, http.MethodPut, "/api/v1/session", CurrentUserRequest{Athlete: -1}); code != http.StatusBadRequest {
		t.Errorf("PUT negative session = %d, want 400", code)
	}
}

func TestStreamsEndpoints(t *testing.T) {
	src := newAPIFixture(t, 0)
	src.seedAthlete(t, &models.Athlete{ID: testAthlete, Name: "Ada", Gender: "female"})
	recs := []models.StreamRecord{
		{Activity: 1, Athlete: testAthlete, Stream: "time", Data: json.RawMessage(`[0,1,2]`)},
		{Activity: 1, Athlete: testAthlete, Stream: "watts", Data: json.RawMessage(`[100,200,150]`)},
	}
	if err := src.store.PutStreams(context.Background(), recs); err != nil {
		t.Fatalf("PutStreams() error = %v", err)
	}

	resp, err := http.Get(src.server.URL + "/api/v1/athletes/42/streams/export")
	if err != nil {
		t.Fatalf("GET export error = %v", err)
	}
	exported, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	dst := newAPIFixture(t, 0)
	imp, err := http.Post(dst.server.URL+"/api/v1/streams/import", "application/x-ndjson", bytes.NewReader(exported))
	if err != nil {
		t.Fatalf("POST import error = %v", err)
	}
	imp.Body.Close()
	if imp.StatusCode != http.StatusOK {
		t.Fatalf("import = %d", imp.StatusCode)
	}
	got, err := dst.store.ActivityStreams(context.Background(), 1)
	if err != nil {
		t.Fatalf("ActivityStreams() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("imported streams = %d, want 2", len(got))
	}

	if code, _ := dst.do(t, http.MethodPost, "/api/v1/streams/usage", nil); code != http.StatusNoContent {
		t.Errorf("usage = %d, want 204", code)
	}
	if code, _ := dst.do(t, http.MethodGet, "/api/v1/self/ftp-history", nil); code != http.StatusBadGateway {
		t.Errorf("ftp history without source = %d, want 502", code)
	}
}

func TestAnalysisEndpoints(t *testing.T) {
	f := newAPIFixture(t, 0)

	code, resp := f.do(t, http.MethodPost, "/api/v1/analysis/tss", TSSRequest{})
	if code != http.StatusBadRequest {
		t.Errorf("empty tss = %d %+v, want 400", code, resp.Error)
	}

	code, resp = f.do(t, http.MethodPost, "/api/v1/analysis/tss", TSSRequest{
		Inputs: []analysis.TSSInput{{Activity: 7}},
	})
	if code != http.StatusOK {
		t.Fatalf("tss = %d %+v", code, resp.Error)
	}
	if resp.Meta.Count == nil || *resp.Meta.Count != 1 {
		t.Errorf("tss count = %v, want 1", resp.Meta.Count)
	}

	code, resp = f.do(t, http.MethodPost, "/api/v1/analysis/peaks", PeaksRequest{
		Inputs:  []analysis.PeaksInput{{Activity: 7, Time: []float64{0, 1, 2, 3, 4}, Values: []float64{100, 200, 300, 200, 100}}},
		Periods: []int{2},
	})
	if code != http.StatusOK {
		t.Fatalf("peaks = %d %+v", code, resp.Error)
	}
}

func TestAthleteEventsWebSocket(t *testing.T) {
	f := newAPIFixture(t, testAthlete)
	f.seedAthlete(t, &models.Athlete{ID: testAthlete, Name: "Ada", Gender: "female"})

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/athletes/42/events"

	if _, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}}); err == nil {
		t.Fatal("foreign origin should be rejected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {f.server.URL}})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if code, _ := f.do(t, http.MethodPost, "/api/v1/athletes/42/enable", nil); code != http.StatusOK {
		t.Fatalf("enable = %d", code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	seen := map[events.Kind]bool{}
	// enable is published by the request goroutine and may trail the job's
	// own events.
	for !seen[events.KindStop] || !seen[events.KindEnable] {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v, seen %v", err, seen)
		}
		var ev events.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if ev.Athlete != testAthlete {
			t.Errorf("event for athlete %d", ev.Athlete)
		}
		seen[ev.Kind] = true
	}
	if !seen[events.KindStart] {
		t.Errorf("events seen = %v, want a start event", seen)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, 0)
	resp, err := http.Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "athletesync_") {
		t.Error("metrics output has no athletesync series")
	}
}
