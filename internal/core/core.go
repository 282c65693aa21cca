// Package core wires the dispatcher and engine into the single convenience
// entrypoint a caller (the CLI, or any embedding host) needs: given a
// source URL, resolve it to one or more descriptors and drive each to a
// terminal job, grounded on macdl's download_file as the one-call surface
// over its plugin registry and downloader.
package core

import (
	"context"

	"github.com/fetchcore/fetchcore/internal/dispatcher"
	"github.com/fetchcore/fetchcore/internal/engine"
	"github.com/fetchcore/fetchcore/internal/httpfile"
	"github.com/fetchcore/fetchcore/internal/model"
	"github.com/fetchcore/fetchcore/internal/state"
)

// Options configures one Download call.
type Options struct {
	Config     model.Config
	NumThreads int
	Store      state.Store
	OnProgress engine.ProgressFunc
	// Registry overrides the default dispatcher (generic HTTP extractor
	// only); callers embedding site-specific extractors build their own
	// and pass it here.
	Registry *dispatcher.Registry
}

// Download resolves rawurl via the dispatcher and runs the engine once per
// resulting descriptor, in sequence. A failure on one descriptor does not
// prevent the others from starting (spec §8 scenario 6); every job's
// terminal status is returned, and the first error encountered (if any) is
// also returned so simple callers can fail fast.
func Download(ctx context.Context, rawurl, targetPath string, opts Options) ([]*model.DownloadJob, error) {
	reg := opts.Registry
	if reg == nil {
		client := httpfile.New(opts.Config.Timeout, opts.Config.UserAgent, opts.Config.ThreadsPerDownload+2)
		defer client.Close()
		reg = dispatcher.Default(client)
	}

	descs, err := reg.Dispatch(ctx, rawurl)
	if err != nil {
		return nil, err
	}

	e := engine.New(opts.Config)
	defer e.Close()

	jobs := make([]*model.DownloadJob, 0, len(descs))
	var firstErr error
	for _, desc := range descs {
		job, runErr := e.Run(ctx, desc, targetPath, engine.RunOptions{
			NumThreads: opts.NumThreads,
			Store:      opts.Store,
			OnProgress: opts.OnProgress,
		})
		jobs = append(jobs, job)
		if runErr != nil && firstErr == nil {
			firstErr = runErr
		}
	}
	return jobs, firstErr
}

// Resume looks up a persisted job by ID and continues it against the same
// descriptor. store must be the same Store the original run used, since
// segment staging paths are keyed by job ID.
func Resume(ctx context.Context, jobID string, opts Options) (*model.DownloadJob, error) {
	job, err := opts.Store.Load(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, model.NewError(model.KindUnsupportedURL, "no persisted job with id "+jobID, nil)
	}

	e := engine.New(opts.Config)
	defer e.Close()

	desc := model.DownloadDescriptor{URL: job.URL, Filename: job.Filename}
	return e.Run(ctx, desc, job.OutputPath, engine.RunOptions{
		NumThreads: opts.NumThreads,
		Resume:     job,
		Store:      opts.Store,
		OnProgress: opts.OnProgress,
	})
}
