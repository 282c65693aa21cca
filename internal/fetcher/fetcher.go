// Package fetcher implements the Segment Fetcher (spec §4.5): fetches one
// byte range to a staging file with bounded retry, resumable within the
// range across retries and across process restarts (the staging file's
// own size is the resume point).
package fetcher

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/fetchcore/fetchcore/internal/httpfile"
	"github.com/fetchcore/fetchcore/internal/model"
	"github.com/fetchcore/fetchcore/internal/utils"
)

// Options configures a single segment fetch.
type Options struct {
	URL         string
	Headers     map[string]string
	Segment     model.Segment
	ChunkSize   int
	MaxRetries  int
	Client      *httpfile.Client
	// OnProgress is called after every chunk write with the number of
	// bytes just written, so the caller can atomically add it to the
	// job's total downloaded counter and feed a shared tracker (spec
	// §4.5: "atomic increment of the job's total downloaded counter").
	OnProgress func(delta int64)
}

// Fetch downloads Options.Segment into Options.Segment.StagingPath,
// resuming from the staging file's current size on entry and across
// retries. It returns the updated segment (Downloaded/Completed reflect
// final state) and a *model.Error on unrecoverable failure.
func Fetch(ctx context.Context, opts Options) (model.Segment, error) {
	seg := opts.Segment

	if seg.Size() == 0 {
		seg.Completed = true
		return seg, nil
	}

	seg.Downloaded = 0
	if fi, err := os.Stat(seg.StagingPath); err == nil {
		seg.Downloaded = fi.Size()
		if seg.Downloaded > seg.Size() {
			seg.Downloaded = seg.Size()
		}
	}

	if seg.Downloaded >= seg.Size() {
		seg.Completed = true
		return seg, nil
	}

	var lastErr error
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay, honored := backoffDelay(attempt, lastErr)
			utils.Debug("segment %d: retry %d after %v (honored Retry-After=%v)", seg.ID, attempt, delay, honored)
			select {
			case <-ctx.Done():
				return seg, model.NewError(model.KindCancelled, "cancelled during backoff", ctx.Err())
			case <-time.After(delay):
			}
		}

		newSeg, err := attemptOnce(ctx, opts, seg)
		seg = newSeg
		if err == nil {
			seg.Completed = true
			return seg, nil
		}
		lastErr = err

		if me, ok := err.(*model.Error); ok && !me.Kind.Retryable() {
			return seg, err
		}
	}

	if me, ok := lastErr.(*model.Error); ok {
		return seg, me
	}
	return seg, model.NewError(model.KindTransport, fmt.Sprintf("segment %d: exhausted retries", seg.ID), lastErr)
}

// backoffDelay returns the delay before the given attempt (1-indexed). It
// honors Retry-After only when the 429 response actually carried a
// parseable one (cause is a *retryAfterError); otherwise it falls back to
// 2^(attempt-1) seconds, same as every other retryable error (spec §9 open
// question #2).
func backoffDelay(attempt int, lastErr error) (time.Duration, bool) {
	if me, ok := lastErr.(*model.Error); ok && me.Kind == model.KindRateLimited {
		if rae, ok := me.Cause.(*retryAfterError); ok {
			return rae.delay, true
		}
	}
	base := time.Duration(1<<uint(attempt-1)) * time.Second
	// jitter keeps many concurrent segments from retrying in lockstep
	jitter := time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	return base + jitter, false
}

type retryAfterError struct {
	delay time.Duration
}

func (e *retryAfterError) Error() string { return fmt.Sprintf("rate limited, retry after %v", e.delay) }

func attemptOnce(ctx context.Context, opts Options, seg model.Segment) (model.Segment, error) {
	headers := cloneHeaders(opts.Headers)
	start := seg.Start + seg.Downloaded
	headers["Range"] = fmt.Sprintf("bytes=%d-%d", start, seg.End)

	resp, err := opts.Client.Get(ctx, opts.URL, headers)
	if err != nil {
		return seg, model.NewError(model.KindTransport, fmt.Sprintf("segment %d GET failed", seg.ID), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// expected
	case http.StatusOK:
		// A segment fetcher always issues a ranged GET; a 200 here means
		// the server ignored Range and sent the whole body, which this
		// segment's staging file is never sized to hold. Terminal in every
		// case, including segment 0 — a caller that wants an unsegmented
		// fetch uses the engine's streaming path, not this one.
		return seg, model.NewError(model.KindRangeIgnored, fmt.Sprintf("segment %d: server ignored Range", seg.ID), nil)
	case http.StatusTooManyRequests:
		var cause error
		if d, ok := httpfile.RetryAfter(resp.Header); ok {
			cause = &retryAfterError{delay: d}
		}
		return seg, model.NewError(model.KindRateLimited, fmt.Sprintf("segment %d rate limited", seg.ID), cause)
	default:
		if resp.StatusCode >= 500 {
			return seg, model.NewError(model.KindServerError, fmt.Sprintf("segment %d: server error %d", seg.ID, resp.StatusCode), nil)
		}
		return seg, model.NewError(model.KindClientError, fmt.Sprintf("segment %d: unexpected status %d", seg.ID, resp.StatusCode), nil)
	}

	f, err := os.OpenFile(seg.StagingPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return seg, model.NewError(model.KindMergeIO, fmt.Sprintf("segment %d: open staging file", seg.ID), err)
	}
	defer f.Close()

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	body := httpfile.NewChunkReader(resp.Body, chunkSize)
	buf := make([]byte, chunkSize)

	for {
		select {
		case <-ctx.Done():
			return seg, model.NewError(model.KindCancelled, fmt.Sprintf("segment %d cancelled", seg.ID), ctx.Err())
		default:
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return seg, model.NewError(model.KindMergeIO, fmt.Sprintf("segment %d: write staging file", seg.ID), werr)
			}
			seg.Downloaded += int64(n)
			if opts.OnProgress != nil {
				opts.OnProgress(int64(n))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return seg, model.NewError(model.KindTransport, fmt.Sprintf("segment %d: read body", seg.ID), rerr)
		}
		if seg.Downloaded >= seg.Size() {
			break
		}
	}

	return seg, nil
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}
