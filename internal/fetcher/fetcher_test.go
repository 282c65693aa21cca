package fetcher

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fetchcore/fetchcore/internal/httpfile"
	"github.com/fetchcore/fetchcore/internal/model"
)

func newTestClient() *httpfile.Client {
	return httpfile.New(2*time.Second, "fetchcore-test/0", 4)
}

func TestFetchSingleSegmentHappyPath(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-4999/5000")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	seg := model.Segment{ID: 0, Start: 0, End: 4999, StagingPath: filepath.Join(dir, "seg0")}

	var gotProgress int64
	out, err := Fetch(context.Background(), Options{
		URL:        srv.URL,
		Segment:    seg,
		ChunkSize:  512,
		MaxRetries: 2,
		Client:     newTestClient(),
		OnProgress: func(d int64) { gotProgress += d },
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !out.Completed {
		t.Fatal("expected segment to be marked completed")
	}
	if out.Downloaded != 5000 {
		t.Fatalf("Downloaded = %d, want 5000", out.Downloaded)
	}
	if gotProgress != 5000 {
		t.Fatalf("cumulative OnProgress = %d, want 5000", gotProgress)
	}

	data, err := os.ReadFile(seg.StagingPath)
	if err != nil {
		t.Fatalf("reading staging file: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Fatal("staging file contents do not match source body")
	}
}

func TestFetchResumesFromExistingStagingFile(t *testing.T) {
	full := bytes.Repeat([]byte("y"), 1000)
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(full[400:])
	}))
	defer srv.Close()

	dir := t.TempDir()
	stagingPath := filepath.Join(dir, "seg0")
	if err := os.WriteFile(stagingPath, full[:400], 0o644); err != nil {
		t.Fatalf("seed staging file: %v", err)
	}

	seg := model.Segment{ID: 0, Start: 0, End: 999, StagingPath: stagingPath}
	out, err := Fetch(context.Background(), Options{
		URL:        srv.URL,
		Segment:    seg,
		ChunkSize:  64,
		MaxRetries: 1,
		Client:     newTestClient(),
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if out.Downloaded != 1000 {
		t.Fatalf("Downloaded = %d, want 1000", out.Downloaded)
	}
	if gotRange != "bytes=400-999" {
		t.Fatalf("Range header = %q, want bytes=400-999", gotRange)
	}

	data, _ := os.ReadFile(stagingPath)
	if !bytes.Equal(data, full) {
		t.Fatal("resumed staging file does not match full body")
	}
}

func TestFetchRangeIgnoredIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(bytes.Repeat([]byte("z"), 2000))
	}))
	defer srv.Close()

	dir := t.TempDir()
	seg := model.Segment{ID: 1, Start: 1000, End: 2999, StagingPath: filepath.Join(dir, "seg1")}

	_, err := Fetch(context.Background(), Options{
		URL:        srv.URL,
		Segment:    seg,
		ChunkSize:  512,
		MaxRetries: 3,
		Client:     newTestClient(),
	})
	if err == nil {
		t.Fatal("expected an error for a Range-ignoring server")
	}
	merr, ok := err.(*model.Error)
	if !ok {
		t.Fatalf("expected *model.Error, got %T", err)
	}
	if merr.Kind != model.KindRangeIgnored {
		t.Fatalf("Kind = %v, want KindRangeIgnored", merr.Kind)
	}
}

func TestFetchServerErrorRetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	seg := model.Segment{ID: 2, Start: 0, End: 99, StagingPath: filepath.Join(dir, "seg2")}

	_, err := Fetch(context.Background(), Options{
		URL:        srv.URL,
		Segment:    seg,
		ChunkSize:  32,
		MaxRetries: 3,
		Client:     newTestClient(),
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("server called %d times, want 3 (MaxRetries)", calls)
	}
	merr, ok := err.(*model.Error)
	if !ok {
		t.Fatalf("expected *model.Error, got %T", err)
	}
	if merr.Kind != model.KindServerError {
		t.Fatalf("Kind = %v, want KindServerError", merr.Kind)
	}
}

func TestFetchRateLimitedThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(bytes.Repeat([]byte("w"), 100))
	}))
	defer srv.Close()

	dir := t.TempDir()
	seg := model.Segment{ID: 4, Start: 0, End: 99, StagingPath: filepath.Join(dir, "seg4")}

	out, err := Fetch(context.Background(), Options{
		URL:        srv.URL,
		Segment:    seg,
		ChunkSize:  32,
		MaxRetries: 3,
		Client:     newTestClient(),
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !out.Completed || out.Downloaded != 100 {
		t.Fatalf("unexpected result after rate-limit recovery: %+v", out)
	}
	if calls != 2 {
		t.Fatalf("server called %d times, want 2", calls)
	}
}

func TestFetchRangeIgnoredIsTerminalEvenForFirstSegment(t *testing.T) {
	// A segment fetcher always issues a ranged GET, including for segment 0;
	// a 200 response means Range was ignored regardless of which segment it
	// is, not "the whole file, accept it" (a buggy CDN returning 200 only
	// for the first sub-range must not be merged as if it succeeded).
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(bytes.Repeat([]byte("a"), 4000))
	}))
	defer srv.Close()

	dir := t.TempDir()
	seg := model.Segment{ID: 0, Start: 0, End: 999, StagingPath: filepath.Join(dir, "seg0")}

	_, err := Fetch(context.Background(), Options{
		URL:        srv.URL,
		Segment:    seg,
		ChunkSize:  512,
		MaxRetries: 1,
		Client:     newTestClient(),
	})
	if err == nil {
		t.Fatal("expected an error when segment 0 receives a full-body 200")
	}
	merr, ok := err.(*model.Error)
	if !ok || merr.Kind != model.KindRangeIgnored {
		t.Fatalf("err = %v, want *model.Error{Kind: KindRangeIgnored}", err)
	}
	if _, statErr := os.Stat(seg.StagingPath); statErr == nil {
		t.Fatal("expected no staging file to be written when Range is ignored")
	}
}

func TestBackoffDelayFallsBackToExponentialWithoutRetryAfter(t *testing.T) {
	rateLimited := model.NewError(model.KindRateLimited, "rate limited", nil)

	delay, honored := backoffDelay(1, rateLimited)
	if honored {
		t.Fatal("expected honored=false when the 429 carried no Retry-After")
	}
	if delay < 1*time.Second || delay >= 2*time.Second {
		t.Fatalf("attempt 1 delay = %v, want roughly [1s, 2s) (2^0 + jitter)", delay)
	}

	delay, honored = backoffDelay(2, rateLimited)
	if honored {
		t.Fatal("expected honored=false when the 429 carried no Retry-After")
	}
	if delay < 2*time.Second || delay >= 3*time.Second {
		t.Fatalf("attempt 2 delay = %v, want roughly [2s, 3s) (2^1 + jitter)", delay)
	}
}

func TestBackoffDelayHonorsRetryAfterWhenPresent(t *testing.T) {
	rateLimited := model.NewError(model.KindRateLimited, "rate limited", &retryAfterError{delay: 5 * time.Second})

	delay, honored := backoffDelay(1, rateLimited)
	if !honored {
		t.Fatal("expected honored=true when the 429 carried a parseable Retry-After")
	}
	if delay != 5*time.Second {
		t.Fatalf("delay = %v, want the honored 5s Retry-After", delay)
	}
}

func TestFetchZeroWidthSegmentIsImmediatelyComplete(t *testing.T) {
	dir := t.TempDir()
	seg := model.Segment{ID: 3, Start: 5, End: 4, StagingPath: filepath.Join(dir, "seg3")}

	out, err := Fetch(context.Background(), Options{
		URL:        "http://unused.invalid",
		Segment:    seg,
		MaxRetries: 1,
		Client:     newTestClient(),
	})
	if err != nil {
		t.Fatalf("Fetch on zero-width segment returned error: %v", err)
	}
	if !out.Completed {
		t.Fatal("zero-width segment should be Completed without any request")
	}
}
