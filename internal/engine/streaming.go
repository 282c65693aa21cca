package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fetchcore/fetchcore/internal/httpfile"
	"github.com/fetchcore/fetchcore/internal/model"
	"github.com/fetchcore/fetchcore/internal/tracker"
	"github.com/fetchcore/fetchcore/internal/utils"
)

// runStreaming drives the single-connection path of spec §4.4: resume from
// the existing file's size when possible, append chunks, and retry with
// backoff on transient failures, always re-issuing Range from the current
// on-disk offset.
func (e *Engine) runStreaming(ctx context.Context, job *model.DownloadJob, desc model.DownloadDescriptor, md model.Metadata, trk *tracker.Tracker) error {
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return model.NewError(model.KindMergeIO, "creating output directory", err)
	}

	var offset int64
	if fi, err := os.Stat(job.OutputPath); err == nil && md.ResumeSupported {
		offset = fi.Size()
	}
	job.SetDownloaded(offset)
	trk.Update(offset)

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffFor(attempt)
			utils.Debug("job %s: streaming retry %d after %v", job.ID, attempt, delay)
			select {
			case <-ctx.Done():
				return model.NewError(model.KindCancelled, "cancelled during backoff", ctx.Err())
			case <-time.After(delay):
			}
			if fi, err := os.Stat(job.OutputPath); err == nil {
				offset = fi.Size()
			}
		}

		done, err := e.streamOnce(ctx, job, desc, md, offset, trk)
		if err == nil {
			if done {
				return nil
			}
			// short read with no error: loop and retry from new offset
			lastErr = nil
			if fi, ferr := os.Stat(job.OutputPath); ferr == nil {
				offset = fi.Size()
			}
			continue
		}
		lastErr = err
		if merr, ok := err.(*model.Error); ok && !merr.Kind.Retryable() {
			return err
		}
	}

	if merr, ok := lastErr.(*model.Error); ok {
		return merr
	}
	return model.NewError(model.KindTransport, "streaming: exhausted retries", lastErr)
}

// streamOnce issues a single GET (ranged if offset > 0) and streams the
// body to disk. done reports whether the transfer is now complete.
func (e *Engine) streamOnce(ctx context.Context, job *model.DownloadJob, desc model.DownloadDescriptor, md model.Metadata, offset int64, trk *tracker.Tracker) (bool, error) {
	headers := make(map[string]string, len(desc.Headers)+1)
	for k, v := range desc.Headers {
		headers[k] = v
	}
	if offset > 0 {
		headers["Range"] = fmt.Sprintf("bytes=%d-", offset)
	}

	resp, err := e.client.Get(ctx, md.EffectiveURL, headers)
	if err != nil {
		return false, wrapTransport(err, "streaming GET")
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		if offset > 0 {
			// server ignored our Range: restart from zero
			flags |= os.O_TRUNC
			offset = 0
			job.SetDownloaded(0)
			trk.Update(0)
		} else {
			flags |= os.O_TRUNC
		}
	case http.StatusRequestedRangeNotSatisfiable:
		if job.TotalSize() > 0 && offset >= job.TotalSize() {
			return true, nil
		}
		return false, model.NewError(model.KindRangeIgnored, "server rejected resume range", nil)
	case http.StatusTooManyRequests:
		return false, model.NewError(model.KindRateLimited, "streaming rate limited", nil)
	default:
		if resp.StatusCode >= 500 {
			return false, model.NewError(model.KindServerError, fmt.Sprintf("streaming: server error %d", resp.StatusCode), nil)
		}
		return false, model.NewError(model.KindClientError, fmt.Sprintf("streaming: unexpected status %d", resp.StatusCode), nil)
	}

	f, err := os.OpenFile(job.OutputPath, flags, 0o644)
	if err != nil {
		return false, model.NewError(model.KindMergeIO, "opening output file", err)
	}
	defer f.Close()

	body := httpfile.NewChunkReader(resp.Body, e.chunkSize())
	buf := make([]byte, e.chunkSize())
	var written int64
	for {
		select {
		case <-ctx.Done():
			return false, model.NewError(model.KindCancelled, "streaming cancelled", ctx.Err())
		default:
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return false, model.NewError(model.KindMergeIO, "writing output file", werr)
			}
			written += int64(n)
			job.AddDownloaded(int64(n))
			trk.Update(offset + written)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return false, wrapTransport(rerr, "streaming read")
		}
	}

	if job.TotalSize() > 0 {
		return offset+written >= job.TotalSize(), nil
	}
	return true, nil
}

func (e *Engine) chunkSize() int {
	if e.cfg.ChunkSize <= 0 {
		return 1 << 20
	}
	return int(e.cfg.ChunkSize)
}

func backoffFor(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}
