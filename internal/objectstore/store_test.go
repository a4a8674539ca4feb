package objectstore_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"radiologger/internal/objectstore"
	"radiologger/internal/testsupport"
)

func newS3Stub(t *testing.T, objects map[string]bool) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		p := strings.TrimPrefix(r.URL.Path, "/")
		if p == "test-bucket" || p == "test-bucket/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if objects[p] {
			w.Header().Set("Last-Modified", time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC).Format(http.TimeFormat))
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.Header().Set("Content-Length", "0")
			w.Header().Set("Content-Type", "audio/mpeg")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func TestNewRequiresBucket(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStorage())
	if _, err := objectstore.New(cfg, nil); !errors.Is(err, objectstore.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewRejectsUnsupportedScheme(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Storage.Endpoint = "ftp://storage.example"
	if _, err := objectstore.New(cfg, nil); err == nil {
		t.Fatal("expected endpoint scheme error")
	}
}

func TestExistsAndPing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Storage.Endpoint = newS3Stub(t, map[string]bool{
		"test-bucket/opnames/R1/2024-05-01/14.mp3": true,
	})
	store, err := objectstore.New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if store.Bucket() != "test-bucket" {
		t.Fatalf("unexpected bucket %q", store.Bucket())
	}
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	ok, err := store.Exists(ctx, "opnames/R1/2024-05-01/14.mp3")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Fatal("expected stored object to exist")
	}
	ok, err = store.Exists(ctx, "opnames/R1/2024-05-01/15.mp3")
	if err != nil {
		t.Fatalf("Exists on missing key failed: %v", err)
	}
	if ok {
		t.Fatal("expected missing object to be reported absent")
	}
}
