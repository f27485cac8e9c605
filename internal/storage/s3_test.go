package storage

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 serves the path-style subset of the S3 API the store uses.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

type listResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Name        string   `xml:"Name"`
	Prefix      string   `xml:"Prefix"`
	KeyCount    int      `xml:"KeyCount"`
	IsTruncated bool     `xml:"IsTruncated"`
	Contents    []struct {
		Key          string `xml:"Key"`
		Size         int    `xml:"Size"`
		LastModified string `xml:"LastModified"`
	} `xml:"Contents"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(p, "/")
	if bucket != f.bucket {
		http.Error(w, "NoSuchBucket", http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: bucket, Prefix: prefix}
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Contents = append(res.Contents, struct {
				Key          string `xml:"Key"`
				Size         int    `xml:"Size"`
				LastModified string `xml:"LastModified"`
			}{k, len(f.objects[k]), "2026-01-02T03:04:05.000Z"})
		}
		res.KeyCount = len(keys)
		w.Header().Set("Content-Type", "application/xml")
		xml.NewEncoder(w).Encode(res)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		w.Write(data)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*ReportStore, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "reports", objects: make(map[string][]byte)}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	store, err := NewReportStore(context.Background(), S3Config{
		Endpoint:        ts.URL,
		Bucket:          "reports",
		Prefix:          "/ptyctl/reports/",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	})
	if err != nil {
		t.Fatalf("NewReportStore() error: %v", err)
	}
	return store, fake
}

func TestReportKey(t *testing.T) {
	store, _ := newTestStore(t)
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	got := store.ReportKey("runbook", "fix-backend", at)
	if got != "ptyctl/reports/runbook/20260301T123000Z-fix-backend.json" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestPutGetListDelete(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()
	key := store.ReportKey("runbook", "fix", time.Now())

	n, err := store.Put(ctx, key, []byte(`{"ok":true}`), "")
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if n != 11 {
		t.Errorf("expected 11 bytes, got %d", n)
	}
	if string(fake.objects[key]) != `{"ok":true}` {
		t.Errorf("unexpected stored body %q", fake.objects[key])
	}
	if _, err := store.Put(ctx, store.ReportKey("journal", "events", time.Now()), []byte("[]"), ""); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("expected round trip, got %q", data)
	}

	objs, err := store.List(ctx, "runbook")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(objs) != 1 || objs[0].Key != key {
		t.Errorf("expected only the runbook report, got %+v", objs)
	}
	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 objects, got %d", len(all))
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, key); err == nil {
		t.Error("expected error for deleted key")
	}
}

func TestNewReportStoreRequiresBucket(t *testing.T) {
	if _, err := NewReportStore(context.Background(), S3Config{}); err == nil {
		t.Error("expected error without bucket")
	}
}
