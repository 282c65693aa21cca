// Package model defines the data types shared across the download core:
// descriptors produced by extractors, metadata discovered via HEAD,
// segments and jobs tracked by the engine, and the error taxonomy used
// to report terminal failures.
package model

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewJobID returns a fresh, unique job identifier.
func NewJobID() string {
	return uuid.New().String()
}

// DownloadDescriptor is produced by an extractor (or the generic HTTP
// extractor as a passthrough) and describes one concrete fetchable URL.
type DownloadDescriptor struct {
	URL        string
	Filename   string
	Size       int64 // 0 means unknown
	Headers    map[string]string
	ResumeHint bool
	SourceURL  string
	// MaxThreads is the extractor's concurrency clamp (0 means none),
	// copied onto the descriptor by the dispatcher; the engine clamps its
	// thread count to it (spec §4.6).
	MaxThreads int
}

// Metadata is the result of a HEAD request against a descriptor's URL.
type Metadata struct {
	EffectiveURL    string
	Size            int64 // 0 means unknown
	ResumeSupported bool
	Filename        string
	ContentType     string
}

// Segment is a contiguous byte range of a job fetched independently and
// staged to its own file prior to merge.
type Segment struct {
	ID          int
	Start       int64
	End         int64 // inclusive
	Downloaded  int64
	Completed   bool
	StagingPath string
}

// Size returns the number of bytes this segment covers.
func (s Segment) Size() int64 {
	return s.End - s.Start + 1
}

// Status is the lifecycle state of a DownloadJob.
type Status int

const (
	StatusPending Status = iota
	StatusExtracting
	StatusDownloading
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExtracting:
		return "extracting"
	case StatusDownloading:
		return "downloading"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DownloadJob is the unit of work the engine drives to completion. It is
// safe for concurrent readers; Downloaded is updated atomically-ish behind
// mu since several segment fetchers contribute to it concurrently.
type DownloadJob struct {
	ID         string
	URL        string
	Filename   string
	OutputPath string
	NumThreads int

	mu             sync.Mutex
	totalSize      int64 // 0 == unknown
	downloadedSize int64
	status         Status
	err            error
	segments       []Segment
	startedAt      time.Time
	speed          float64
}

// NewJob creates a job in the Pending state.
func NewJob(id, url string) *DownloadJob {
	return &DownloadJob{ID: id, URL: url, status: StatusPending}
}

func (j *DownloadJob) SetStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
	if s == StatusDownloading && j.startedAt.IsZero() {
		j.startedAt = time.Now()
	}
}

func (j *DownloadJob) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *DownloadJob) SetError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err == nil {
		j.err = err
	}
}

func (j *DownloadJob) Error() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *DownloadJob) SetTotalSize(n int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.totalSize = n
}

func (j *DownloadJob) TotalSize() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.totalSize
}

func (j *DownloadJob) AddDownloaded(n int64) int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.downloadedSize += n
	return j.downloadedSize
}

func (j *DownloadJob) SetDownloaded(n int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.downloadedSize = n
}

func (j *DownloadJob) Downloaded() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.downloadedSize
}

func (j *DownloadJob) SetSegments(segs []Segment) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.segments = segs
}

// Segments returns a copy of the job's current segment table.
func (j *DownloadJob) Segments() []Segment {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Segment, len(j.segments))
	copy(out, j.segments)
	return out
}

// UpdateSegment replaces the segment with matching ID, if present.
func (j *DownloadJob) UpdateSegment(seg Segment) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.segments {
		if j.segments[i].ID == seg.ID {
			j.segments[i] = seg
			return
		}
	}
}

func (j *DownloadJob) SetSpeed(bps float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.speed = bps
}

func (j *DownloadJob) Speed() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.speed
}

// Snapshot is an immutable point-in-time view of a job, safe to hand to a
// progress callback without holding the job's lock.
type Snapshot struct {
	ID         string
	URL        string
	Filename   string
	OutputPath string
	TotalSize  int64
	Downloaded int64
	Status     Status
	Error      error
	Speed      float64
}

// Snapshot takes a consistent snapshot of the job's externally-visible state.
func (j *DownloadJob) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:         j.ID,
		URL:        j.URL,
		Filename:   j.Filename,
		OutputPath: j.OutputPath,
		TotalSize:  j.totalSize,
		Downloaded: j.downloadedSize,
		Status:     j.status,
		Error:      j.err,
		Speed:      j.speed,
	}
}

// ProgressSample is one tracker emission.
type ProgressSample struct {
	Downloaded    int64
	Total         int64 // 0 if unknown
	SpeedBPS      float64
	ETASeconds    float64 // -1 if undefined
	ElapsedSecond float64
}

// Kind is a taxonomy of terminal/transient error categories (spec §7).
type Kind int

const (
	KindTransport Kind = iota
	KindRateLimited
	KindServerError
	KindClientError
	KindRangeIgnored
	KindSizeUnknown
	KindExtraction
	KindUnsupportedURL
	KindMergeIO
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	case KindRangeIgnored:
		return "range_ignored"
	case KindSizeUnknown:
		return "size_unknown"
	case KindExtraction:
		return "extraction"
	case KindUnsupportedURL:
		return "unsupported_url"
	case KindMergeIO:
		return "merge_io"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retryable reports whether this kind of error should be retried by the
// segment fetcher / streaming path, per spec §7.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransport, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// Error wraps a Kind with the underlying cause, so callers can still
// errors.Is/errors.As through it while reporting one error per failed job.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs a tagged Error.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
