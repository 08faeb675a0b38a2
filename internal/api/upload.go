package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"
	"github.com/snarg/transcribe-api/internal/auth"
	"github.com/snarg/transcribe-api/internal/events"
	"github.com/snarg/transcribe-api/internal/jobs"
	"github.com/snarg/transcribe-api/internal/metrics"
	"github.com/snarg/transcribe-api/internal/probe"
	"github.com/snarg/transcribe-api/internal/scratch"
)

// formOverhead is the allowance for multipart boundaries and headers on top
// of the file size limit.
const formOverhead = 1 << 20

const durationErrorMessage = "Failed to get duration, either longer than 1 min or ffmpeg not working."

// ScratchStore holds uploads on local disk until they are submitted.
type ScratchStore interface {
	Save(r io.Reader, ext string, limit int64) (string, int64, error)
	Remove(path string) error
}

// DurationValidator reads an audio file's duration and enforces the ceiling.
type DurationValidator interface {
	Validate(ctx context.Context, path string) (time.Duration, error)
}

// Submitter hands a validated file to the transcription pipeline.
type Submitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.SubmitResult, error)
}

// UploadOptions are the upload limits.
type UploadOptions struct {
	MaxBytes          int64
	AllowedExtensions []string
}

// UploadHandler accepts a single audio file and starts its transcription.
type UploadHandler struct {
	scratch ScratchStore
	probe   DurationValidator
	jobs    Submitter
	events  events.Publisher
	errs    Errors
	opts    UploadOptions
	allowed map[string]bool
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(s ScratchStore, p DurationValidator, j Submitter, pub events.Publisher, errs Errors, opts UploadOptions) *UploadHandler {
	allowed := make(map[string]bool, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &UploadHandler{
		scratch: s,
		probe:   p,
		jobs:    j,
		events:  pub,
		errs:    errs,
		opts:    opts,
		allowed: allowed,
	}
}

// Upload handles POST /transcribe.
// Expects a multipart form with the audio in field "file".
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	identity := auth.DefaultIdentity
	if id, ok := IdentityFrom(r.Context()); ok {
		identity = id.Name
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBytes+formOverhead)

	part, err := h.filePart(r)
	if err != nil {
		var ue *UploadError
		if errors.As(err, &ue) {
			h.reject(r, identity, ue.Reason)
			h.errs.Write(w, r, err)
			return
		}
		h.reject(r, identity, "no_file")
		WriteError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer part.Close()

	filename := filepath.Base(part.FileName())
	ext := extension(filename)
	if !h.allowed[ext] {
		h.reject(r, identity, "file_type")
		h.errs.Write(w, r, &UploadError{Reason: "file_type", Msg: "Invalid file type"})
		return
	}

	path, size, err := h.scratch.Save(part, ext, h.opts.MaxBytes)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.Is(err, scratch.ErrTooLarge) || errors.As(err, &mbe) {
			h.reject(r, identity, "too_large")
			h.errs.Write(w, r, &UploadError{Reason: "too_large", Msg: "File too large", Err: err})
			return
		}
		h.errs.Internal(w, r, "Failed to process transcription", err)
		return
	}
	defer func() {
		if err := h.scratch.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove scratch file")
		}
	}()

	dur, err := h.probe.Validate(r.Context(), path)
	if err != nil {
		var de *probe.DurationError
		reason := "probe"
		if errors.As(err, &de) {
			reason = "duration"
		}
		log.Warn().Err(err).Str("filename", filename).Msg("duration check failed")
		h.reject(r, identity, reason)
		WriteErrorDetail(w, http.StatusBadRequest, durationErrorMessage, err.Error())
		return
	}

	res, err := h.jobs.Submit(r.Context(), jobs.SubmitRequest{
		Path:      path,
		Filename:  filename,
		Identity:  identity,
		Duration:  dur,
		SizeBytes: size,
	})
	if err != nil {
		h.errs.Internal(w, r, "Failed to process transcription", err)
		return
	}

	WriteJSON(w, http.StatusOK, res)
}

// filePart walks the multipart stream to the "file" part. Non-file fields are
// skipped.
func (h *UploadHandler) filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errors.New("no file part")
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, &UploadError{Reason: "too_large", Msg: "File too large", Err: err}
			}
			return nil, &UploadError{Reason: "malformed", Msg: "Malformed multipart body", Err: err}
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

func (h *UploadHandler) reject(r *http.Request, identity, reason string) {
	metrics.UploadsRejectedTotal.WithLabelValues(reason).Inc()
	h.events.Publish(events.Event{
		Name:     events.UploadReject,
		Identity: identity,
		Path:     r.URL.Path,
		Data:     map[string]any{"reason": reason},
	})
}

// extension returns the lower-cased text after the last dot, or "".
func extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
