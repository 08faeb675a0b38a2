// Package jobs moves a validated upload into object storage, starts the
// managed transcription job for it, and answers "is the transcript ready".
package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/transcribe-api/internal/database"
	"github.com/snarg/transcribe-api/internal/events"
	"github.com/snarg/transcribe-api/internal/metrics"
	"github.com/snarg/transcribe-api/internal/transcribe"
)

var (
	ErrNotFound  = errors.New("transcription not found")
	ErrInvalidID = errors.New("invalid transcription id")
)

// ObjectStore is the object storage the service reads and writes.
type ObjectStore interface {
	Bucket() string
	Key(name string) string
	URI(key string) string
	PutFile(ctx context.Context, key, path, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(ctx context.Context, key string) (string, error)
}

// Ledger records jobs. Optional.
type Ledger interface {
	InsertJob(ctx context.Context, row *database.JobRow) error
	UpdateJobStatus(ctx context.Context, id, status, errMsg string) error
	MarkJobCompleted(ctx context.Context, id, transcriptURL string) error
}

// Options are the per-deployment job settings.
type Options struct {
	LanguageCode   string
	SubtitleFormat string // extension of the output object, e.g. "srt"
	JobPrefix      string
}

// Service orchestrates upload → submit, and status lookups.
type Service struct {
	store    ObjectStore
	provider transcribe.Provider
	ledger   Ledger
	events   events.Publisher
	opts     Options
	log      zerolog.Logger
	newID    func() string
}

// NewService creates the job service. ledger may be nil; pub may be nil.
func NewService(store ObjectStore, provider transcribe.Provider, ledger Ledger, pub events.Publisher, opts Options, log zerolog.Logger) *Service {
	opts.SubtitleFormat = strings.ToLower(strings.TrimPrefix(opts.SubtitleFormat, "."))
	if opts.SubtitleFormat == "" {
		opts.SubtitleFormat = "srt"
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:    store,
		provider: provider,
		ledger:   ledger,
		events:   pub,
		opts:     opts,
		log:      log.With().Str("component", "jobs").Logger(),
		newID:    uuid.NewString,
	}
}

// SubmitRequest is a validated file sitting in scratch storage.
type SubmitRequest struct {
	Path      string
	Filename  string // client-supplied name, informational only
	Identity  string
	Duration  time.Duration
	SizeBytes int64
}

// SubmitResult is returned to the client.
type SubmitResult struct {
	ID      string `json:"unique_id"`
	JobName string `json:"-"`
}

// Submit uploads the file and starts the transcription job. The caller owns
// the scratch file and removes it afterwards.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(req.Path), "."))
	format := transcribe.MediaFormatFor(ext)
	if format == "" {
		return nil, fmt.Errorf("unsupported media format %q", ext)
	}

	id := s.newID()
	mediaKey := s.store.Key(id + "." + ext)
	jobName := s.opts.JobPrefix + id
	log := s.log.With().Str("unique_id", id).Str("identity", req.Identity).Logger()

	if s.ledger != nil {
		err := s.ledger.InsertJob(ctx, &database.JobRow{
			ID:              id,
			Identity:        req.Identity,
			Filename:        req.Filename,
			DurationSeconds: req.Duration.Seconds(),
			SizeBytes:       req.SizeBytes,
			MediaKey:        mediaKey,
			JobName:         jobName,
			Status:          database.JobStatusSubmitted,
		})
		if err != nil {
			// The ledger is bookkeeping; the job itself can still go ahead.
			log.Warn().Err(err).Msg("failed to record job")
		}
	}

	if err := s.store.PutFile(ctx, mediaKey, req.Path, contentTypeFor(ext)); err != nil {
		s.fail(ctx, log, id, req.Identity, "upload", err)
		return nil, fmt.Errorf("upload audio: %w", err)
	}
	log.Debug().Str("key", mediaKey).Msg("audio stored")

	err := s.provider.StartJob(ctx, transcribe.JobRequest{
		Name:         jobName,
		MediaURI:     s.store.URI(mediaKey),
		MediaFormat:  format,
		LanguageCode: s.opts.LanguageCode,
		OutputBucket: s.store.Bucket(),
		OutputKey:    s.store.Key(id),
	})
	if err != nil {
		s.fail(ctx, log, id, req.Identity, "submit", err)
		return nil, fmt.Errorf("start job: %w", err)
	}

	metrics.JobsSubmittedTotal.Inc()
	metrics.AudioDuration.Observe(req.Duration.Seconds())
	s.events.Publish(events.Event{
		Name:     events.JobSubmitted,
		JobID:    id,
		Identity: req.Identity,
		Data: map[string]any{
			"duration_seconds": req.Duration.Seconds(),
			"size_bytes":       req.SizeBytes,
		},
	})
	log.Info().
		Str("job", jobName).
		Float64("duration_s", req.Duration.Seconds()).
		Int64("bytes", req.SizeBytes).
		Msg("transcription submitted")

	return &SubmitResult{ID: id, JobName: jobName}, nil
}

func (s *Service) fail(ctx context.Context, log zerolog.Logger, id, identity, stage string, cause error) {
	metrics.JobsFailedTotal.WithLabelValues(stage).Inc()
	log.Error().Err(cause).Str("stage", stage).Msg("transcription submission failed")
	if s.ledger != nil {
		if err := s.ledger.UpdateJobStatus(ctx, id, database.JobStatusFailed, stage+": "+cause.Error()); err != nil {
			log.Warn().Err(err).Msg("failed to mark job failed")
		}
	}
	s.events.Publish(events.Event{
		Name:     events.JobFailed,
		JobID:    id,
		Identity: identity,
		Data:     map[string]any{"stage": stage},
	})
}

// StatusResult describes a finished transcript.
type StatusResult struct {
	URL string `json:"s3_url"`
}

// NotFoundError carries the managed job's state when the transcript is not
// there yet. It matches ErrNotFound with errors.Is.
type NotFoundError struct {
	JobState string
}

func (e *NotFoundError) Error() string {
	if e.JobState != "" {
		return ErrNotFound.Error() + " (job " + e.JobState + ")"
	}
	return ErrNotFound.Error()
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Status reports the transcript URL when the output object exists.
func (s *Service) Status(ctx context.Context, id string) (*StatusResult, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidID
	}
	id = parsed.String()

	key := s.store.Key(id + "." + s.opts.SubtitleFormat)
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		metrics.StatusChecksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("check transcript: %w", err)
	}
	if !ok {
		metrics.StatusChecksTotal.WithLabelValues("pending").Inc()
		s.events.Publish(events.Event{Name: events.StatusMiss, JobID: id})
		return nil, &NotFoundError{JobState: s.jobState(ctx, id)}
	}

	url, err := s.store.URL(ctx, key)
	if err != nil {
		metrics.StatusChecksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("transcript url: %w", err)
	}

	metrics.StatusChecksTotal.WithLabelValues("ready").Inc()
	if s.ledger != nil {
		if err := s.ledger.MarkJobCompleted(ctx, id, url); err != nil {
			s.log.Warn().Err(err).Str("unique_id", id).Msg("failed to mark job completed")
		}
	}
	s.events.Publish(events.Event{Name: events.StatusReady, JobID: id})
	return &StatusResult{URL: url}, nil
}

// jobState asks the provider how the job is doing. Best effort: an empty
// string means unknown.
func (s *Service) jobState(ctx context.Context, id string) string {
	if s.provider == nil {
		return ""
	}
	st, err := s.provider.JobStatus(ctx, s.opts.JobPrefix+id)
	if err != nil {
		if !errors.Is(err, transcribe.ErrJobNotFound) {
			s.log.Debug().Err(err).Str("unique_id", id).Msg("job status lookup failed")
		}
		return ""
	}
	return st.String()
}

func contentTypeFor(ext string) string {
	switch ext {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "m4a", "mp4":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	case "ogg":
		return "audio/ogg"
	case "webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
