package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"radiologger/internal/api"
	"radiologger/internal/catalog"
	"radiologger/internal/testsupport"
)

func newTestAPI(t *testing.T, token string, objects *testsupport.MemoryObjectStore) (http.Handler, *catalog.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = token
	store := testsupport.MustOpenStore(t, cfg)
	var objs ObjectStore
	if objects != nil {
		objs = objects
	}
	d, err := New(cfg, store, objs, nil,
		WithToolCheck(func(context.Context) error { return nil }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv, err := newAPIServer(cfg, d, nil)
	if err != nil {
		t.Fatalf("newAPIServer: %v", err)
	}
	return srv.server.Handler, store
}

func serve(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	called := false
	next := func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}

	open := authMiddleware("", next)
	w := httptest.NewRecorder()
	open(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if !called || w.Code != http.StatusNoContent {
		t.Fatalf("empty token should pass through, got %d", w.Code)
	}

	guarded := authMiddleware("secret", next)
	for _, header := range []string{"", "Bearer wrong", "Basic secret", "secret"} {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		guarded(w, req)
		if called || w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, w.Code)
		}
	}

	called = false
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	guarded(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("valid token should reach handler")
	}
}

func TestAPIHealthReflectsChecks(t *testing.T) {
	objects := testsupport.NewMemoryObjectStore()
	h, _ := newTestAPI(t, "secret", objects)

	// Health is reachable without a token; the capture tool is missing from
	// PATH in tests so at least one check fails.
	w := serve(h, http.MethodGet, "/api/health", "")
	var resp api.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Checks) == 0 {
		t.Fatal("expected checks in response")
	}
	want := http.StatusOK
	if !resp.Healthy {
		want = http.StatusServiceUnavailable
	}
	if w.Code != want {
		t.Fatalf("status %d does not match healthy=%v", w.Code, resp.Healthy)
	}

	objects.FailPing(true)
	w = serve(h, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when object store is down, got %d", w.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h, _ := newTestAPI(t, "secret", nil)
	for _, path := range []string{"/api/status", "/api/jobs", "/api/recordings", "/api/recordings/1/url"} {
		if w := serve(h, http.MethodGet, path, ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, w.Code)
		}
	}
	if w := serve(h, http.MethodGet, "/api/status", "secret"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
	if w := serve(h, http.MethodPost, "/api/status", "secret"); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestAPIRecordingsAndPlaybackURL(t *testing.T) {
	objects := testsupport.NewMemoryObjectStore()
	h, store := newTestAPI(t, "", objects)
	ctx := context.Background()

	st := testsupport.NewStation(t, store, catalog.Station{Name: "r1", URL: "http://example.invalid/r1"})
	other := testsupport.NewStation(t, store, catalog.Station{Name: "r2", URL: "http://example.invalid/r2"})
	key := "opnames/r1/2024-05-01/14.mp3"
	for _, rec := range []catalog.Recording{
		{StationID: st.ID, Date: "2024-05-01", Hour: "14", FilePath: key, Uploaded: true},
		{StationID: other.ID, Date: "2024-05-01", Hour: "15", FilePath: "opnames/r2/2024-05-01/15.mp3", Uploaded: true},
	} {
		if _, err := store.UpsertRecording(ctx, rec); err != nil {
			t.Fatalf("UpsertRecording: %v", err)
		}
	}
	objects.Seed(key, []byte("audio"))

	w := serve(h, http.MethodGet, "/api/recordings?station=r1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var list api.RecordingListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Recordings) != 1 || list.Recordings[0].Key != key || list.Recordings[0].Station != "r1" {
		t.Fatalf("unexpected recordings %+v", list.Recordings)
	}

	if w := serve(h, http.MethodGet, "/api/recordings?station=missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown station, got %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "/api/recordings?limit=zero", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}

	id := list.Recordings[0].ID
	w = serve(h, http.MethodGet, "/api/recordings/"+strconv.FormatInt(id, 10)+"/url", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var playback api.PlaybackURLResponse
	if err := json.Unmarshal(w.Body.Bytes(), &playback); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if playback.URL == "" || playback.ID != id || playback.ExpiresIn <= 0 {
		t.Fatalf("unexpected playback response %+v", playback)
	}

	if w := serve(h, http.MethodGet, "/api/recordings/9999/url", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown recording, got %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "/api/recordings/abc/url", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestAPIPlaybackWithoutObjectStore(t *testing.T) {
	h, _ := newTestAPI(t, "", nil)
	if w := serve(h, http.MethodGet, "/api/recordings/1/url", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestAPIJobs(t *testing.T) {
	h, store := newTestAPI(t, "", nil)
	st := testsupport.NewStation(t, store, catalog.Station{Name: "r1", URL: "http://example.invalid/r1"})
	if _, err := store.OpenJob(context.Background(), st.ID, catalog.KindScheduled, time.Now()); err != nil {
		t.Fatalf("OpenJob: %v", err)
	}
	w := serve(h, http.MethodGet, "/api/jobs?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.JobListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].Station != "r1" || resp.Jobs[0].Status != "running" {
		t.Fatalf("unexpected jobs %+v", resp.Jobs)
	}
}
