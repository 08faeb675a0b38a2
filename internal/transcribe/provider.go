package transcribe

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

var ErrJobNotFound = errors.New("transcription job not found")

// Provider starts and inspects managed transcription jobs.
type Provider interface {
	StartJob(ctx context.Context, req JobRequest) error
	JobStatus(ctx context.Context, name string) (*JobStatus, error)
	Name() string // "aws-transcribe"
}

// JobRequest describes one transcription job. Output lands in OutputBucket
// under OutputKey, with the subtitle extension appended by the service.
type JobRequest struct {
	Name         string
	MediaURI     string // s3://bucket/key
	MediaFormat  string // mp3, wav, flac, ...
	LanguageCode string
	OutputBucket string
	OutputKey    string
}

// JobStatus is the subset of job state callers care about.
type JobStatus struct {
	Name          string
	Status        string // QUEUED, IN_PROGRESS, FAILED, COMPLETED
	FailureReason string
	SubtitleURIs  []string
}

// Failed reports whether the job ended in failure.
func (s *JobStatus) Failed() bool { return s.Status == "FAILED" }

// String renders the status for client-facing detail fields.
func (s *JobStatus) String() string {
	if s.Failed() && s.FailureReason != "" {
		return s.Status + ": " + s.FailureReason
	}
	return s.Status
}

// mediaFormats maps file extensions to the service's MediaFormat values.
var mediaFormats = map[string]string{
	"mp3":  "mp3",
	"mp4":  "mp4",
	"m4a":  "m4a",
	"wav":  "wav",
	"flac": "flac",
	"ogg":  "ogg",
	"webm": "webm",
	"amr":  "amr",
}

// MediaFormatFor returns the MediaFormat for a file name or extension, or ""
// when the service does not accept it.
func MediaFormatFor(nameOrExt string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(nameOrExt), "."))
	if ext == "" {
		ext = strings.ToLower(strings.TrimPrefix(nameOrExt, "."))
	}
	return mediaFormats[ext]
}
