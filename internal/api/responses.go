package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/hlog"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// UploadError is a rejected multipart upload: bad file type, oversized part,
// unreadable form. Clients see 400 {"error":"File upload error","details":...}.
type UploadError struct {
	Reason string // metric label
	Msg    string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *UploadError) Unwrap() error { return e.Err }

type uploadErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Errors renders errors that reached the top of a handler. Internal messages
// are hidden from clients in production.
type Errors struct {
	Production bool
}

// Write maps err to a status code and body.
func (e Errors) Write(w http.ResponseWriter, r *http.Request, err error) {
	log := hlog.FromRequest(r)

	var ue *UploadError
	if errors.As(err, &ue) {
		log.Warn().Err(err).Str("path", r.URL.Path).Str("method", r.Method).Msg("file upload error")
		WriteJSON(w, http.StatusBadRequest, uploadErrorResponse{Error: "File upload error", Details: ue.Msg})
		return
	}

	e.Internal(w, r, "Internal server error", err)
}

// Internal logs err, reports it to Sentry and replies 500 with msg. Outside
// production the error text is added as detail.
func (e Errors) Internal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	e.status(w, r, http.StatusInternalServerError, msg, err)
}

// Upstream is Internal with 502, for failures of a managed dependency.
func (e Errors) Upstream(w http.ResponseWriter, r *http.Request, msg string, err error) {
	e.status(w, r, http.StatusBadGateway, msg, err)
}

func (e Errors) status(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	hlog.FromRequest(r).Error().Err(err).
		Str("path", r.URL.Path).
		Str("method", r.Method).
		Msg("unhandled error")

	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetRequest(r)
	hub.Scope().SetTag("request_id", RequestIDFrom(r.Context()))
	hub.CaptureException(err)

	if e.Production || err == nil {
		WriteError(w, status, msg)
		return
	}
	WriteErrorDetail(w, status, msg, err.Error())
}

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination extracts limit and offset from query params. Missing or
// out-of-range values fall back to the defaults (50, 0).
func ParsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: 50, Offset: 0}
	if v, ok := QueryInt(r, "limit"); ok && v >= 1 && v <= 1000 {
		p.Limit = v
	}
	if v, ok := QueryInt(r, "offset"); ok && v >= 0 {
		p.Offset = v
	}
	return p
}

// QueryInt extracts an integer query parameter. Returns 0, false if missing or invalid.
func QueryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
