// Package state implements the persisted job/segment store (spec §6): a
// narrow save(job)/load(job_id) interface backed by SQLite, so a download
// interrupted mid-process can resume against its on-disk staging files.
// Grounded on the teacher's download/state package, renamed to the
// job/segment vocabulary this core uses.
package state

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fetchcore/fetchcore/internal/model"
)

// Store is the narrow persistence contract the engine depends on.
type Store interface {
	Save(job *model.DownloadJob) error
	Load(id string) (*model.DownloadJob, error)
	Delete(id string) error
}

// SQLiteStore is the default Store, backed by modernc.org/sqlite (pure Go,
// no cgo).
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or attaches to the SQLite database at path and ensures the
// schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			filename TEXT,
			output_path TEXT,
			total_size INTEGER,
			downloaded_size INTEGER,
			status TEXT,
			error TEXT,
			num_threads INTEGER,
			updated_at INTEGER
		);
		CREATE TABLE IF NOT EXISTS segments (
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			segment_id INTEGER NOT NULL,
			start INTEGER NOT NULL,
			end_ INTEGER NOT NULL,
			downloaded INTEGER NOT NULL,
			completed INTEGER NOT NULL,
			staging_path TEXT NOT NULL,
			PRIMARY KEY (job_id, segment_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) withTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Save upserts a job and replaces its full segment table in one transaction.
func (s *SQLiteStore) Save(job *model.DownloadJob) error {
	snap := job.Snapshot()
	segs := job.Segments()

	var errMsg string
	if snap.Error != nil {
		errMsg = snap.Error.Error()
	}

	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO jobs (id, url, filename, output_path, total_size, downloaded_size, status, error, num_threads, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				url=excluded.url,
				filename=excluded.filename,
				output_path=excluded.output_path,
				total_size=excluded.total_size,
				downloaded_size=excluded.downloaded_size,
				status=excluded.status,
				error=excluded.error,
				num_threads=excluded.num_threads,
				updated_at=excluded.updated_at
		`, snap.ID, snap.URL, snap.Filename, snap.OutputPath, snap.TotalSize, snap.Downloaded,
			snap.Status.String(), errMsg, job.NumThreads, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("upsert job: %w", err)
		}

		if _, err := tx.Exec("DELETE FROM segments WHERE job_id = ?", snap.ID); err != nil {
			return fmt.Errorf("clear segments: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO segments (job_id, segment_id, start, end_, downloaded, completed, staging_path)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, seg := range segs {
			completed := 0
			if seg.Completed {
				completed = 1
			}
			if _, err := stmt.Exec(snap.ID, seg.ID, seg.Start, seg.End, seg.Downloaded, completed, seg.StagingPath); err != nil {
				return fmt.Errorf("insert segment %d: %w", seg.ID, err)
			}
		}
		return nil
	})
}

// Load reconstructs a job and its segment table by ID. It returns
// (nil, nil) if no such job is persisted.
func (s *SQLiteStore) Load(id string) (*model.DownloadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT url, filename, output_path, total_size, downloaded_size, status, error, num_threads
		FROM jobs WHERE id = ?
	`, id)

	var url, filename, outputPath, status string
	var errMsg sql.NullString
	var totalSize, downloadedSize int64
	var numThreads int
	if err := row.Scan(&url, &filename, &outputPath, &totalSize, &downloadedSize, &status, &errMsg, &numThreads); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query job %s: %w", id, err)
	}

	job := model.NewJob(id, url)
	job.Filename = filename
	job.OutputPath = outputPath
	job.NumThreads = numThreads
	job.SetTotalSize(totalSize)
	job.SetDownloaded(downloadedSize)
	job.SetStatus(statusFromString(status))
	if errMsg.Valid && errMsg.String != "" {
		job.SetError(fmt.Errorf("%s", errMsg.String))
	}

	rows, err := s.db.Query(`
		SELECT segment_id, start, end_, downloaded, completed, staging_path
		FROM segments WHERE job_id = ? ORDER BY segment_id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query segments for %s: %w", id, err)
	}
	defer rows.Close()

	var segs []model.Segment
	for rows.Next() {
		var seg model.Segment
		var completed int
		if err := rows.Scan(&seg.ID, &seg.Start, &seg.End, &seg.Downloaded, &completed, &seg.StagingPath); err != nil {
			return nil, err
		}
		seg.Completed = completed != 0
		segs = append(segs, seg)
	}
	job.SetSegments(segs)

	return job, nil
}

// ListAll returns every persisted job's snapshot, for introspection (e.g.
// a CLI "ls" command). It does not load segment tables.
func (s *SQLiteStore) ListAll() ([]model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, url, filename, output_path, total_size, downloaded_size, status FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		var snap model.Snapshot
		var status string
		if err := rows.Scan(&snap.ID, &snap.URL, &snap.Filename, &snap.OutputPath, &snap.TotalSize, &snap.Downloaded, &status); err != nil {
			return nil, err
		}
		snap.Status = statusFromString(status)
		out = append(out, snap)
	}
	return out, nil
}

// Delete removes a job and its segments.
func (s *SQLiteStore) Delete(id string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM segments WHERE job_id = ?", id); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM jobs WHERE id = ?", id)
		return err
	})
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func statusFromString(s string) model.Status {
	for st := model.StatusPending; st <= model.StatusCancelled; st++ {
		if st.String() == s {
			return st
		}
	}
	return model.StatusPending
}
