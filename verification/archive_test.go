package verification

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

type zipEntry struct {
	name     string
	data     []byte
	modified time.Time
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: e.modified}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, store *fakeBlobStore) *ArchivePipeline {
	t.Helper()
	return NewArchivePipeline(resty.New(), store, "statements", t.TempDir(), testLogger())
}

func TestLocateResultFile(t *testing.T) {
	base := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	t.Run("picks newest json", func(t *testing.T) {
		path, ok := locateResultFile([]scratchEntry{
			{Path: "/scratch/old.json", ModTime: base},
			{Path: "/scratch/new.json", ModTime: base.Add(time.Hour)},
			{Path: "/scratch/notes.txt", ModTime: base.Add(2 * time.Hour)},
		})
		if !ok || path != "/scratch/new.json" {
			t.Errorf("got (%q, %v), want /scratch/new.json", path, ok)
		}
	})

	t.Run("extension match is case insensitive", func(t *testing.T) {
		path, ok := locateResultFile([]scratchEntry{
			{Path: "/scratch/REPORT.JSON", ModTime: base},
		})
		if !ok || path != "/scratch/REPORT.JSON" {
			t.Errorf("got (%q, %v)", path, ok)
		}
	})

	t.Run("no json", func(t *testing.T) {
		if _, ok := locateResultFile([]scratchEntry{{Path: "/scratch/a.zip", ModTime: base}}); ok {
			t.Error("expected not found")
		}
	})
}

func TestLocateInnerZip(t *testing.T) {
	entries := []scratchEntry{
		{Path: "/scratch/app-9.zip"},
		{Path: "/scratch/details.zip"},
	}
	path, ok := locateInnerZip(entries, "app-9.zip")
	if !ok || path != "/scratch/details.zip" {
		t.Errorf("got (%q, %v), want /scratch/details.zip", path, ok)
	}

	if _, ok := locateInnerZip([]scratchEntry{{Path: "/scratch/app-9.zip"}}, "app-9.zip"); ok {
		t.Error("original artifact must never be chosen as inner archive")
	}
}

func TestArchivePipeline_FetchReport(t *testing.T) {
	report := []byte(`{"customerInfo":{"accountNo":"111222"}}`)
	when := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	t.Run("flat archive", func(t *testing.T) {
		payload := buildZip(t,
			zipEntry{name: "older.json", data: []byte(`{"stale":true}`), modified: when},
			zipEntry{name: "report.json", data: report, modified: when.Add(time.Hour)},
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(payload)
		}))
		defer srv.Close()

		store := newFakeBlobStore()
		p := newTestPipeline(t, store)
		doc, err := p.FetchReport(context.Background(), "app-7", srv.URL, degradedReportParam, nil)
		if err != nil {
			t.Fatalf("FetchReport: %v", err)
		}
		if !bytes.Equal(doc, report) {
			t.Errorf("got %s, want newest report json", doc)
		}
		if got := store.objects["statements/app-7.zip"]; !bytes.Equal(got, payload) {
			t.Error("original archive not kept in durable storage")
		}
	})

	t.Run("nested archive recurses once", func(t *testing.T) {
		inner := buildZip(t, zipEntry{name: "analysis/report.json", data: report, modified: when})
		payload := buildZip(t, zipEntry{name: "details.zip", data: inner, modified: when})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(payload)
		}))
		defer srv.Close()

		p := newTestPipeline(t, newFakeBlobStore())
		doc, err := p.FetchReport(context.Background(), "app-8", srv.URL, degradedReportParam, nil)
		if err != nil {
			t.Fatalf("FetchReport: %v", err)
		}
		if !bytes.Equal(doc, report) {
			t.Errorf("got %s, want inner report json", doc)
		}
	})

	t.Run("doubly nested archive fails", func(t *testing.T) {
		innermost := buildZip(t, zipEntry{name: "report.json", data: report, modified: when})
		inner := buildZip(t, zipEntry{name: "level2.zip", data: innermost, modified: when})
		payload := buildZip(t, zipEntry{name: "level1.zip", data: inner, modified: when})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(payload)
		}))
		defer srv.Close()

		p := newTestPipeline(t, newFakeBlobStore())
		_, err := p.FetchReport(context.Background(), "app-10", srv.URL, degradedReportParam, nil)
		var archiveErr *ArchiveError
		if !errors.As(err, &archiveErr) || archiveErr.Stage != "locate" {
			t.Fatalf("err = %v, want locate-stage ArchiveError", err)
		}
	})

	t.Run("degraded retry appends extended parameter", func(t *testing.T) {
		payload := buildZip(t, zipEntry{name: "report.json", data: report, modified: when})
		var calls []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, r.URL.RawQuery)
			if len(calls) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write(payload)
		}))
		defer srv.Close()

		p := newTestPipeline(t, newFakeBlobStore())
		doc, err := p.FetchReport(context.Background(), "app-11", srv.URL+"?txnId=t1", degradedReportParam, nil)
		if err != nil {
			t.Fatalf("FetchReport: %v", err)
		}
		if !bytes.Equal(doc, report) {
			t.Errorf("got %s after retry", doc)
		}
		if len(calls) != 2 {
			t.Fatalf("vendor called %d times, want 2", len(calls))
		}
		if calls[0] != "txnId=t1" || calls[1] != "txnId=t1&"+degradedReportParam {
			t.Errorf("queries = %v", calls)
		}
	})

	t.Run("both downloads failing stops after two attempts", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		p := newTestPipeline(t, newFakeBlobStore())
		_, err := p.FetchReport(context.Background(), "app-12", srv.URL, degradedReportParam, nil)
		var archiveErr *ArchiveError
		if !errors.As(err, &archiveErr) || archiveErr.Stage != "download" {
			t.Fatalf("err = %v, want download-stage ArchiveError", err)
		}
		if calls != 2 {
			t.Errorf("vendor called %d times, want 2", calls)
		}
	})

	t.Run("scratch removed after success", func(t *testing.T) {
		payload := buildZip(t, zipEntry{name: "report.json", data: report, modified: when})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(payload)
		}))
		defer srv.Close()

		scratchRoot := t.TempDir()
		p := NewArchivePipeline(resty.New(), newFakeBlobStore(), "statements", scratchRoot, testLogger())
		if _, err := p.FetchReport(context.Background(), "app-13", srv.URL, degradedReportParam, nil); err != nil {
			t.Fatalf("FetchReport: %v", err)
		}
		if _, err := os.Stat(filepath.Join(scratchRoot, "app-13")); !os.IsNotExist(err) {
			t.Errorf("scratch dir still present: %v", err)
		}
	})

	t.Run("scratch removed after locate failure", func(t *testing.T) {
		payload := buildZip(t, zipEntry{name: "readme.txt", data: []byte("no json here"), modified: when})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(payload)
		}))
		defer srv.Close()

		scratchRoot := t.TempDir()
		p := NewArchivePipeline(resty.New(), newFakeBlobStore(), "statements", scratchRoot, testLogger())
		if _, err := p.FetchReport(context.Background(), "app-14", srv.URL, degradedReportParam, nil); err == nil {
			t.Fatal("expected error for archive without json")
		}
		if _, err := os.Stat(filepath.Join(scratchRoot, "app-14")); !os.IsNotExist(err) {
			t.Errorf("scratch dir still present: %v", err)
		}
	})

	t.Run("request headers forwarded", func(t *testing.T) {
		payload := buildZip(t, zipEntry{name: "report.json", data: report, modified: when})
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Write(payload)
		}))
		defer srv.Close()

		p := newTestPipeline(t, newFakeBlobStore())
		headers := map[string]string{"Authorization": "ApiKey secret"}
		if _, err := p.FetchReport(context.Background(), "app-15", srv.URL, degradedReportParam, headers); err != nil {
			t.Fatalf("FetchReport: %v", err)
		}
		if gotAuth != "ApiKey secret" {
			t.Errorf("Authorization = %q", gotAuth)
		}
	})
}
