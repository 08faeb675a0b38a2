package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ── ParsePagination ──────────────────────────────────────────────────

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 50, 0},
		{"valid_custom", "limit=25&offset=10", 25, 10},
		{"limit_over_1000_clamps", "limit=2000", 50, 0},
		{"limit_zero_clamps", "limit=0", 50, 0},
		{"negative_offset_clamps", "offset=-5", 50, 0},
		{"non_numeric_ignored", "limit=abc&offset=xyz", 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			p := ParsePagination(req)
			if p.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

// ── QueryInt ─────────────────────────────────────────────────────────

func TestQueryInt(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?n=42", nil)
		v, ok := QueryInt(req, "n")
		if !ok || v != 42 {
			t.Errorf("got (%d, %v), want (42, true)", v, ok)
		}
	})
	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		_, ok := QueryInt(req, "n")
		if ok {
			t.Error("expected ok=false for missing param")
		}
	})
	t.Run("non_numeric", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?n=abc", nil)
		_, ok := QueryInt(req, "n")
		if ok {
			t.Error("expected ok=false for non-numeric param")
		}
	})
}

// ── WriteJSON ────────────────────────────────────────────────────────

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"msg": "ok"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["msg"] != "ok" {
		t.Errorf("body = %v, want msg=ok", body)
	}
}

// ── WriteError ───────────────────────────────────────────────────────

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["error"] != "bad input" {
		t.Errorf("error = %v, want %q", body["error"], "bad input")
	}
	if _, ok := body["detail"]; ok {
		t.Error("empty detail should be omitted")
	}
}

// ── WriteErrorDetail ─────────────────────────────────────────────────

func TestWriteErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetail(rec, http.StatusNotFound, "Transcription not found", "IN_PROGRESS")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "Transcription not found" {
		t.Errorf("Error = %q, want %q", body.Error, "Transcription not found")
	}
	if body.Detail != "IN_PROGRESS" {
		t.Errorf("Detail = %q, want %q", body.Detail, "IN_PROGRESS")
	}
}

// ── Errors ───────────────────────────────────────────────────────────

func TestErrors_UploadError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/transcribe", nil)
	err := &UploadError{Reason: "file_type", Msg: "Invalid file type"}
	Errors{Production: true}.Write(rec, req, err)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["error"] != "File upload error" {
		t.Errorf("error = %q", body["error"])
	}
	if body["details"] != "Invalid file type" {
		t.Errorf("details = %q", body["details"])
	}
}

func TestErrors_Internal(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:443: connection refused")

	t.Run("development_includes_detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/transcribe", nil)
		Errors{}.Internal(rec, req, "Failed to process transcription", cause)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
		var body ErrorResponse
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Error != "Failed to process transcription" {
			t.Errorf("Error = %q", body.Error)
		}
		if body.Detail != cause.Error() {
			t.Errorf("Detail = %q, want %q", body.Detail, cause.Error())
		}
	})

	t.Run("production_hides_detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/transcribe", nil)
		Errors{Production: true}.Internal(rec, req, "Failed to process transcription", cause)

		var body ErrorResponse
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Detail != "" {
			t.Errorf("Detail should be hidden in production, got %q", body.Detail)
		}
	})

	t.Run("unknown_error_via_write", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		Errors{Production: true}.Write(rec, req, cause)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
		var body ErrorResponse
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Error != "Internal server error" {
			t.Errorf("Error = %q", body.Error)
		}
	})

	t.Run("upstream_is_502", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		Errors{}.Upstream(rec, req, "Failed to check transcription", cause)
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
	})
}

func TestUploadError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&UploadError{Msg: "File too large", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("UploadError should unwrap to its cause")
	}
	if err.Error() != "File too large: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}
