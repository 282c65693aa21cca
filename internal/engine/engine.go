// Package engine implements the Download Engine (spec §4.4): strategy
// selection between segmented and streaming fetch, orchestration of
// parallel segment fetchers, merge, progress emission, and the job state
// machine. It is the primary orchestrator of the download core.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fetchcore/fetchcore/internal/httpfile"
	"github.com/fetchcore/fetchcore/internal/model"
	"github.com/fetchcore/fetchcore/internal/state"
	"github.com/fetchcore/fetchcore/internal/tracker"
	"github.com/fetchcore/fetchcore/internal/utils"
)

// Engine drives one job at a time to a terminal status. It owns an HTTP
// client shared across every segment fetcher of the jobs it runs.
type Engine struct {
	client *httpfile.Client
	cfg    model.Config
}

// New builds an Engine from a resolved configuration.
func New(cfg model.Config) *Engine {
	return &Engine{
		client: httpfile.New(cfg.Timeout, cfg.UserAgent, cfg.ThreadsPerDownload+2),
		cfg:    cfg,
	}
}

// Close releases the engine's HTTP connection pool.
func (e *Engine) Close() {
	e.client.Close()
}

// ProgressFunc receives a consistent job snapshot alongside each tracker
// emission. It must not block.
type ProgressFunc func(model.Snapshot, model.ProgressSample)

// RunOptions configures one invocation of Run.
type RunOptions struct {
	// NumThreads overrides the configured default. Run clamps it to the
	// descriptor's MaxThreads (spec §4.6) when the extractor set one.
	NumThreads int
	// Resume, if non-nil, is a previously persisted job for the same
	// descriptor: Run attempts to continue it rather than start fresh.
	Resume *model.DownloadJob
	// Store, if non-nil, receives a Save after every segment completes
	// and once more at job completion, so a killed process can resume.
	Store      state.Store
	OnProgress ProgressFunc
}

// Run resolves desc to a final file at targetPath (directory, literal
// path, or "" for the configured download directory), driving the job
// through Downloading to a terminal status. The returned job is always
// non-nil, even on error; err is also set on job.Error() except for
// Cancelled, which is terminal but not a failure (spec §7).
func (e *Engine) Run(ctx context.Context, desc model.DownloadDescriptor, targetPath string, opts RunOptions) (*model.DownloadJob, error) {
	job := opts.Resume
	if job == nil {
		job = model.NewJob(model.NewJobID(), desc.URL)
		job.Filename = desc.Filename
	}
	job.SetStatus(model.StatusDownloading)

	numThreads := opts.NumThreads
	if numThreads < 1 {
		numThreads = e.cfg.ThreadsPerDownload
	}
	if desc.MaxThreads > 0 && numThreads > desc.MaxThreads {
		numThreads = desc.MaxThreads
	}

	md, err := e.client.Head(ctx, desc.URL, desc.Headers)
	if err != nil {
		return e.fail(job, opts.Store, wrapTransport(err, "probing metadata"))
	}

	if opts.Resume != nil && job.TotalSize() > 0 && (md.Size != job.TotalSize() || !md.ResumeSupported) {
		// Open question decision: cross-process resume re-validates
		// against the live server rather than trusting stale staging.
		utils.Debug("job %s: metadata changed since last run (size %d -> %d, resume %v), discarding stale segments",
			job.ID, job.TotalSize(), md.Size, md.ResumeSupported)
		job.SetSegments(nil)
		_ = os.RemoveAll(stagingDirFor(job.ID))
	}

	job.SetTotalSize(md.Size)
	if job.Filename == "" {
		filename := md.Filename
		if filename == "" {
			filename = utils.DetermineFilename(md.EffectiveURL, nil, nil)
		}
		job.Filename = filename
	}
	if job.OutputPath == "" {
		job.OutputPath = resolveOutputPath(targetPath, job.Filename, e.cfg.DownloadDir)
	}

	lock, acquired, err := utils.AcquireOutputLock(job.OutputPath)
	if err != nil {
		return e.fail(job, opts.Store, model.NewError(model.KindMergeIO, "acquiring output lock", err))
	}
	if !acquired {
		return e.fail(job, opts.Store, model.NewError(model.KindMergeIO, fmt.Sprintf("output path %s is locked by another download", job.OutputPath), nil))
	}
	defer lock.Release()

	if fi, statErr := os.Stat(job.OutputPath); statErr == nil && job.TotalSize() > 0 && fi.Size() >= job.TotalSize() {
		job.SetDownloaded(fi.Size())
		job.SetStatus(model.StatusCompleted)
		if opts.Store != nil {
			_ = opts.Store.Save(job)
		}
		return job, nil
	}

	segmented := md.Size > 0 && md.ResumeSupported && md.Size > e.cfg.ChunkSize && numThreads > 1
	if md.Size <= 0 && md.ResumeSupported && numThreads > 1 {
		utils.Debug("job %s: %s, falling back to streaming", job.ID, model.KindSizeUnknown)
	}

	trk := tracker.New(job.TotalSize(), 0, func(sample tracker.Sample) {
		job.SetSpeed(sample.SpeedBPS)
		if opts.OnProgress != nil {
			opts.OnProgress(job.Snapshot(), model.ProgressSample{
				Downloaded:    sample.Downloaded,
				Total:         sample.Total,
				SpeedBPS:      sample.SpeedBPS,
				ETASeconds:    sample.ETASeconds,
				ElapsedSecond: sample.Elapsed.Seconds(),
			})
		}
	})
	trk.Start()
	trk.Update(job.Downloaded())

	var runErr error
	if segmented {
		runErr = e.runSegmented(ctx, job, desc, md, numThreads, trk, opts.Store)
	} else {
		runErr = e.runStreaming(ctx, job, desc, md, trk)
	}
	trk.Finish()

	if runErr != nil {
		if merr, ok := runErr.(*model.Error); ok && merr.Kind == model.KindCancelled {
			job.SetStatus(model.StatusCancelled)
		} else {
			job.SetStatus(model.StatusFailed)
			job.SetError(runErr)
		}
	} else {
		job.SetStatus(model.StatusCompleted)
	}

	if opts.Store != nil {
		_ = opts.Store.Save(job)
	}
	return job, job.Error()
}

func (e *Engine) fail(job *model.DownloadJob, store state.Store, err error) (*model.DownloadJob, error) {
	job.SetStatus(model.StatusFailed)
	job.SetError(err)
	if store != nil {
		_ = store.Save(job)
	}
	return job, err
}

func wrapTransport(err error, context string) error {
	if terr, ok := err.(*httpfile.TransportError); ok {
		kind := model.KindTransport
		switch {
		case terr.Class == httpfile.ErrHTTPStatus && terr.StatusCode == 429:
			kind = model.KindRateLimited
		case terr.Class == httpfile.ErrHTTPStatus && terr.StatusCode >= 500:
			kind = model.KindServerError
		case terr.Class == httpfile.ErrHTTPStatus:
			kind = model.KindClientError
		}
		return model.NewError(kind, context, terr)
	}
	return model.NewError(model.KindTransport, context, err)
}

// resolveOutputPath implements spec §4.4's output-path resolution rules.
func resolveOutputPath(targetPath, filename, downloadDir string) string {
	if targetPath == "" {
		return filepath.Join(downloadDir, filename)
	}
	if strings.HasSuffix(targetPath, string(os.PathSeparator)) {
		return filepath.Join(targetPath, filename)
	}
	if fi, err := os.Stat(targetPath); err == nil && fi.IsDir() {
		return filepath.Join(targetPath, filename)
	}
	return targetPath
}
