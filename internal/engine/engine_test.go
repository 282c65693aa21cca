package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fetchcore/fetchcore/internal/model"
)

func testConfig(dir string) model.Config {
	cfg := model.DefaultConfig()
	cfg.DownloadDir = dir
	cfg.ChunkSize = 256
	cfg.ThreadsPerDownload = 4
	cfg.MaxRetries = 3
	cfg.Timeout = 5 * time.Second
	cfg.UserAgent = "fetchcore-test/0"
	return cfg
}

func TestRunSegmentedEndToEnd(t *testing.T) {
	body := bytes.Repeat([]byte("abcd"), 1000) // 4000 bytes
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			return
		}
		rangeHdr := r.Header.Get("Range")
		var start, end int
		fmt.Sscanf(rangeHdr, "bytes=%d-%d", &start, &end)
		if end >= len(body) {
			end = len(body) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(body[start : end+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := testConfig(dir)
	e := New(cfg)
	defer e.Close()

	desc := model.DownloadDescriptor{URL: srv.URL, Filename: "out.bin"}
	job, err := e.Run(context.Background(), desc, dir, RunOptions{NumThreads: 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status() != model.StatusCompleted {
		t.Fatalf("job status = %v, want Completed", job.Status())
	}

	data, rerr := os.ReadFile(job.OutputPath)
	if rerr != nil {
		t.Fatalf("reading output file: %v", rerr)
	}
	if !bytes.Equal(data, body) {
		t.Fatalf("merged output mismatch: got %d bytes, want %d", len(data), len(body))
	}
}

func TestRunStreamingSmallFile(t *testing.T) {
	body := []byte("a small file that fits in one request")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			w.Header().Set("Accept-Ranges", "none")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := testConfig(dir)
	e := New(cfg)
	defer e.Close()

	desc := model.DownloadDescriptor{URL: srv.URL, Filename: "small.txt"}
	job, err := e.Run(context.Background(), desc, dir, RunOptions{NumThreads: 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status() != model.StatusCompleted {
		t.Fatalf("job status = %v, want Completed", job.Status())
	}
	data, _ := os.ReadFile(job.OutputPath)
	if !bytes.Equal(data, body) {
		t.Fatal("streamed output mismatch")
	}
}

func TestRunStreamingResumesFromExistingFile(t *testing.T) {
	full := bytes.Repeat([]byte("z"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(full)))
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			return
		}
		rangeHdr := r.Header.Get("Range")
		var start int
		fmt.Sscanf(rangeHdr, "bytes=%d-", &start)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(full)-1, len(full)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(full[start:])
	}))
	defer srv.Close()

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "resumed.bin")
	if err := os.WriteFile(outputPath, full[:400], 0o644); err != nil {
		t.Fatalf("seed partial file: %v", err)
	}

	cfg := testConfig(dir)
	cfg.ThreadsPerDownload = 1 // force streaming even though Range is supported
	e := New(cfg)
	defer e.Close()

	desc := model.DownloadDescriptor{URL: srv.URL, Filename: "resumed.bin"}
	job, err := e.Run(context.Background(), desc, outputPath, RunOptions{NumThreads: 1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status() != model.StatusCompleted {
		t.Fatalf("job status = %v, want Completed", job.Status())
	}
	data, _ := os.ReadFile(outputPath)
	if !bytes.Equal(data, full) {
		t.Fatal("resumed output does not match full body")
	}
}

func TestRunFailsWithRangeIgnored(t *testing.T) {
	body := bytes.Repeat([]byte("q"), 4000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			return
		}
		// Ignore Range and return the full body with 200.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := testConfig(dir)
	e := New(cfg)
	defer e.Close()

	desc := model.DownloadDescriptor{URL: srv.URL, Filename: "ignored.bin"}
	job, err := e.Run(context.Background(), desc, dir, RunOptions{NumThreads: 4})
	if err == nil {
		t.Fatal("expected Run to fail when the server ignores Range")
	}
	if job.Status() != model.StatusFailed {
		t.Fatalf("job status = %v, want Failed", job.Status())
	}
	merr, ok := job.Error().(*model.Error)
	if !ok || merr.Kind != model.KindRangeIgnored {
		t.Fatalf("job error = %v, want KindRangeIgnored", job.Error())
	}
	if _, statErr := os.Stat(job.OutputPath); statErr == nil {
		t.Fatal("expected no output file to be created on RangeIgnored failure")
	}
}

func TestRunStreamingSelectedWhenSizeUnknown(t *testing.T) {
	body := bytes.Repeat([]byte("n"), 5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := testConfig(dir)
	e := New(cfg)
	defer e.Close()

	desc := model.DownloadDescriptor{URL: srv.URL, Filename: "unknown-size.bin"}
	job, err := e.Run(context.Background(), desc, dir, RunOptions{NumThreads: 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	data, _ := os.ReadFile(job.OutputPath)
	if !bytes.Equal(data, body) {
		t.Fatal("output mismatch for SizeUnknown streaming fallback")
	}
}
