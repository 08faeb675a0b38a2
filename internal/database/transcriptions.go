package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Job statuses recorded in the ledger. The managed service owns the real
// job state; these only track what this API did.
const (
	JobStatusSubmitted = "submitted"
	JobStatusFailed    = "failed"
	JobStatusCompleted = "completed"
)

var ErrJobNotFound = errors.New("job not found")

// JobRow is the input for recording a submitted job.
type JobRow struct {
	ID              string
	Identity        string
	Filename        string
	DurationSeconds float64
	SizeBytes       int64
	MediaKey        string
	JobName         string
	Status          string
}

// JobAPI is the job representation for API responses.
type JobAPI struct {
	ID              string    `json:"unique_id"`
	Identity        string    `json:"identity"`
	Filename        string    `json:"filename,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	SizeBytes       int64     `json:"size_bytes"`
	JobName         string    `json:"job_name"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	TranscriptURL   string    `json:"s3_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// InsertJob records a job before it is submitted so failures can be marked.
func (db *DB) InsertJob(ctx context.Context, row *JobRow) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO transcription_jobs
			(id, identity, filename, duration_seconds, size_bytes, media_key, job_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, row.ID, row.Identity, row.Filename, row.DurationSeconds, row.SizeBytes,
		row.MediaKey, row.JobName, row.Status)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", row.ID, err)
	}
	return nil
}

// UpdateJobStatus sets status and error text for a job.
func (db *DB) UpdateJobStatus(ctx context.Context, id, status, errMsg string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE transcription_jobs SET status = $2, error = $3, updated_at = now()
		WHERE id = $1
	`, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkJobCompleted stores the transcript URL the first time it is observed.
func (db *DB) MarkJobCompleted(ctx context.Context, id, transcriptURL string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE transcription_jobs SET status = $2, transcript_url = $3, updated_at = now()
		WHERE id = $1 AND status <> $2
	`, id, JobStatusCompleted, transcriptURL)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

const jobColumns = `id::text, identity, filename, duration_seconds, size_bytes, job_name,
	status, error, transcript_url, created_at, updated_at`

func scanJob(row pgx.Row) (*JobAPI, error) {
	var j JobAPI
	err := row.Scan(&j.ID, &j.Identity, &j.Filename, &j.DurationSeconds, &j.SizeBytes,
		&j.JobName, &j.Status, &j.Error, &j.TranscriptURL, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs returns a page of an identity's jobs, newest first, and the total.
func (db *DB) ListJobs(ctx context.Context, identity string, limit, offset int) ([]JobAPI, int, error) {
	var total int
	if err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM transcription_jobs WHERE identity = $1`, identity).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM transcription_jobs
		WHERE identity = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, identity, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []JobAPI{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, total, rows.Err()
}
