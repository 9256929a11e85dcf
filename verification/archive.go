package verification

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"bankverify-backend/blobstore"
)

// ArchivePipeline retrieves a vendor's compressed report, keeps the original
// artifact in durable storage, and digs the structured JSON result out of the
// archive. Scratch state is applicant-scoped and always removed.
type ArchivePipeline struct {
	http        *resty.Client
	store       blobstore.Store
	bucket      string
	scratchRoot string
	log         *zap.Logger
}

func NewArchivePipeline(http *resty.Client, store blobstore.Store, bucket, scratchRoot string, log *zap.Logger) *ArchivePipeline {
	return &ArchivePipeline{
		http:        http,
		store:       store,
		bucket:      bucket,
		scratchRoot: scratchRoot,
		log:         log,
	}
}

// FetchReport downloads the compressed report, retrying exactly once with the
// vendor's extended query parameter when the first response is non-2xx, and
// returns the raw bytes of the located result JSON. Any failure surfaces as
// ArchiveError; nothing is committed, so the vendor may redeliver safely.
func (p *ArchivePipeline) FetchReport(ctx context.Context, applicantID, reportURL, degradedParam string, headers map[string]string) (json.RawMessage, error) {
	data, err := p.download(ctx, reportURL, degradedParam, headers)
	if err != nil {
		return nil, err
	}

	remotePath := applicantID + ".zip"
	if err := p.store.Put(ctx, p.bucket, remotePath, data); err != nil {
		return nil, &ArchiveError{Stage: "store", Err: err}
	}

	scratch := filepath.Join(p.scratchRoot, applicantID)
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			p.log.Warn("scratch cleanup failed", zap.String("dir", scratch), zap.Error(err))
		}
	}()

	if err := extractZip(data, scratch); err != nil {
		return nil, &ArchiveError{Stage: "extract", Err: err}
	}

	doc, err := resultDocument(scratch, applicantID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *ArchivePipeline) download(ctx context.Context, reportURL, degradedParam string, headers map[string]string) ([]byte, error) {
	resp, err := p.http.R().SetContext(ctx).SetHeaders(headers).Get(reportURL)
	if err != nil {
		return nil, &ArchiveError{Stage: "download", Err: err}
	}
	if resp.IsSuccess() {
		return resp.Body(), nil
	}

	// Vendor-specific degraded mode: one retry with the extended parameter.
	p.log.Warn("report download non-2xx, retrying in degraded mode",
		zap.Int("status", resp.StatusCode()))
	retryURL := reportURL
	if degradedParam != "" {
		sep := "?"
		if strings.Contains(reportURL, "?") {
			sep = "&"
		}
		retryURL = reportURL + sep + degradedParam
	}
	resp, err = p.http.R().SetContext(ctx).SetHeaders(headers).Get(retryURL)
	if err != nil {
		return nil, &ArchiveError{Stage: "download", Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &ArchiveError{Stage: "download", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	return resp.Body(), nil
}

// scratchEntry is a snapshot of one extracted file, enough for locate logic.
type scratchEntry struct {
	Path    string
	ModTime time.Time
}

// resultDocument locates and reads the structured result. Preference order:
// newest *.json anywhere under dir; otherwise extract the first inner *.zip
// (never the original <applicantID>.zip artifact) and look again. The zip
// recursion happens exactly once.
func resultDocument(dir, applicantID string) (json.RawMessage, error) {
	entries, err := snapshotDir(dir)
	if err != nil {
		return nil, &ArchiveError{Stage: "scan", Err: err}
	}

	if path, ok := locateResultFile(entries); ok {
		return readJSON(path)
	}

	inner, ok := locateInnerZip(entries, applicantID+".zip")
	if !ok {
		return nil, &ArchiveError{Stage: "locate", Err: fmt.Errorf("no result json in archive")}
	}
	data, err := os.ReadFile(inner)
	if err != nil {
		return nil, &ArchiveError{Stage: "locate", Err: err}
	}
	if err := extractZip(data, dir); err != nil {
		return nil, &ArchiveError{Stage: "extract", Err: err}
	}

	entries, err = snapshotDir(dir)
	if err != nil {
		return nil, &ArchiveError{Stage: "scan", Err: err}
	}
	if path, ok := locateResultFile(entries); ok {
		return readJSON(path)
	}
	return nil, &ArchiveError{Stage: "locate", Err: fmt.Errorf("no result json after inner archive")}
}

// locateResultFile picks the newest *.json from a directory snapshot. Pure:
// no filesystem access.
func locateResultFile(entries []scratchEntry) (string, bool) {
	var best scratchEntry
	found := false
	for _, e := range entries {
		if !strings.EqualFold(filepath.Ext(e.Path), ".json") {
			continue
		}
		if !found || e.ModTime.After(best.ModTime) {
			best = e
			found = true
		}
	}
	return best.Path, found
}

// locateInnerZip picks any *.zip except the original artifact.
func locateInnerZip(entries []scratchEntry, excludeName string) (string, bool) {
	for _, e := range entries {
		if !strings.EqualFold(filepath.Ext(e.Path), ".zip") {
			continue
		}
		if strings.EqualFold(filepath.Base(e.Path), excludeName) {
			continue
		}
		return e.Path, true
	}
	return "", false
}

func snapshotDir(dir string) ([]scratchEntry, error) {
	var entries []scratchEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, scratchEntry{Path: path, ModTime: info.ModTime()})
		return nil
	})
	return entries, err
}

func readJSON(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArchiveError{Stage: "read", Err: err}
	}
	if !json.Valid(data) {
		return nil, &ArchiveError{Stage: "parse", Err: fmt.Errorf("%s is not valid json", filepath.Base(path))}
	}
	return json.RawMessage(data), nil
}

func extractZip(data []byte, dest string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, f := range zr.File {
		target := filepath.Join(dest, filepath.Clean(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes extraction dir", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return err
	}
	// Preserve the archive's recorded time so "newest json" ordering holds.
	return os.Chtimes(target, f.Modified, f.Modified)
}
