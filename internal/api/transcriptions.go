package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/transcribe-api/internal/auth"
	"github.com/snarg/transcribe-api/internal/database"
	"github.com/snarg/transcribe-api/internal/jobs"
)

// StatusChecker reports whether a transcript is ready.
type StatusChecker interface {
	Status(ctx context.Context, id string) (*jobs.StatusResult, error)
}

// JobLister lists an identity's jobs from the ledger.
type JobLister interface {
	ListJobs(ctx context.Context, identity string, limit, offset int) ([]database.JobAPI, int, error)
}

type TranscriptionsHandler struct {
	status StatusChecker
	ledger JobLister // nil when no DATABASE_URL
	errs   Errors
}

func NewTranscriptionsHandler(status StatusChecker, ledger JobLister, errs Errors) *TranscriptionsHandler {
	return &TranscriptionsHandler{status: status, ledger: ledger, errs: errs}
}

// GetTranscription handles GET /transcriptions/{id}.
func (h *TranscriptionsHandler) GetTranscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.status.Status(r.Context(), id)
	if err != nil {
		var nf *jobs.NotFoundError
		switch {
		case errors.Is(err, jobs.ErrInvalidID):
			WriteError(w, http.StatusBadRequest, "Invalid transcription id")
		case errors.As(err, &nf):
			WriteErrorDetail(w, http.StatusNotFound, "Transcription not found", nf.JobState)
		case errors.Is(err, jobs.ErrNotFound):
			WriteError(w, http.StatusNotFound, "Transcription not found")
		default:
			h.errs.Upstream(w, r, "Failed to check transcription", err)
		}
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// ListTranscriptions handles GET /api/v1/transcriptions: the caller's own
// jobs, newest first.
func (h *TranscriptionsHandler) ListTranscriptions(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		WriteError(w, http.StatusServiceUnavailable, "Job history is not enabled")
		return
	}

	identity := auth.DefaultIdentity
	if id, ok := IdentityFrom(r.Context()); ok {
		identity = id.Name
	}
	p := ParsePagination(r)

	list, total, err := h.ledger.ListJobs(r.Context(), identity, p.Limit, p.Offset)
	if err != nil {
		h.errs.Internal(w, r, "Failed to list transcriptions", err)
		return
	}
	if list == nil {
		list = []database.JobAPI{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"transcriptions": list,
		"total":          total,
		"limit":          p.Limit,
		"offset":         p.Offset,
	})
}
