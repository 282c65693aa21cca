package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cloudeng.io/sync/errgroup"

	"github.com/fetchcore/fetchcore/internal/fetcher"
	"github.com/fetchcore/fetchcore/internal/model"
	"github.com/fetchcore/fetchcore/internal/planner"
	"github.com/fetchcore/fetchcore/internal/state"
	"github.com/fetchcore/fetchcore/internal/tracker"
	"github.com/fetchcore/fetchcore/internal/utils"
)

func stagingDirFor(jobID string) string {
	return filepath.Join(os.TempDir(), "fetchcore", "staging", jobID)
}

// runSegmented drives the segmented path of spec §4.4: plan, fan out one
// fetcher per segment, cancel siblings on the first fatal error, merge in
// ascending segment-id order, and always clean up staging.
func (e *Engine) runSegmented(ctx context.Context, job *model.DownloadJob, desc model.DownloadDescriptor, md model.Metadata, numThreads int, trk *tracker.Tracker, store state.Store) error {
	stagingDir := stagingDirFor(job.ID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return model.NewError(model.KindMergeIO, "creating staging directory", err)
	}
	defer os.RemoveAll(stagingDir)

	segs := job.Segments()
	if len(segs) == 0 {
		segs = planner.Plan(md.Size, numThreads)
		for i := range segs {
			segs[i].StagingPath = filepath.Join(stagingDir, fmt.Sprintf("segment-%d", segs[i].ID))
		}
		job.SetSegments(segs)
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var firstErr error

	for _, seg := range segs {
		seg := seg
		if seg.Completed {
			continue
		}
		g.Go(func() error {
			out, ferr := fetcher.Fetch(gctx, fetcher.Options{
				URL:        md.EffectiveURL,
				Headers:    desc.Headers,
				Segment:    seg,
				ChunkSize:  int(e.cfg.ChunkSize),
				MaxRetries: e.cfg.MaxRetries,
				Client:     e.client,
				OnProgress: func(delta int64) {
					job.AddDownloaded(delta)
					trk.Update(job.Downloaded())
				},
			})
			job.UpdateSegment(out)

			mu.Lock()
			if store != nil {
				_ = store.Save(job)
			}
			if ferr != nil && firstErr == nil {
				firstErr = ferr
			}
			mu.Unlock()

			return ferr
		})
	}

	aggErr := g.Wait()
	if aggErr != nil {
		utils.Debug("job %s: segmented fetch errors: %v", job.ID, aggErr)
		return firstErr
	}

	if err := mergeSegments(job.OutputPath, job.Segments()); err != nil {
		return model.NewError(model.KindMergeIO, "merging staged segments", err)
	}
	return nil
}

// mergeSegments streams each staging file, in ascending segment-id order,
// into outputPath. It never buffers the whole file in memory.
func mergeSegments(outputPath string, segs []model.Segment) error {
	sorted := make([]model.Segment, len(segs))
	copy(sorted, segs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer out.Close()

	for _, seg := range sorted {
		if seg.Size() == 0 {
			continue
		}
		if err := appendSegment(out, seg.StagingPath); err != nil {
			return fmt.Errorf("segment %d: %w", seg.ID, err)
		}
	}
	return nil
}

func appendSegment(out *os.File, stagingPath string) error {
	in, err := os.Open(stagingPath)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(out, in)
	return err
}
