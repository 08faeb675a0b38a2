package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/snarg/transcribe-api/internal/auth"
	"github.com/snarg/transcribe-api/internal/jobs"
	"github.com/snarg/transcribe-api/internal/probe"
	"github.com/snarg/transcribe-api/internal/scratch"
)

// mockProbe implements DurationValidator for testing.
type mockProbe struct {
	dur      time.Duration
	err      error
	lastPath string
	lastData []byte
}

func (m *mockProbe) Validate(ctx context.Context, path string) (time.Duration, error) {
	m.lastPath = path
	m.lastData, _ = os.ReadFile(path)
	if m.err != nil {
		return 0, m.err
	}
	return m.dur, nil
}

// mockSubmitter implements Submitter for testing.
type mockSubmitter struct {
	last   *jobs.SubmitRequest
	result *jobs.SubmitResult
	err    error
}

func (m *mockSubmitter) Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.SubmitResult, error) {
	m.last = &req
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &jobs.SubmitResult{ID: "3f2a5a4e-8b1c-4c2e-9d7a-1b2c3d4e5f60"}, nil
}

func newTestUploadHandler(t *testing.T, p *mockProbe, s *mockSubmitter) (*UploadHandler, *scratch.Store) {
	t.Helper()
	store, err := scratch.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := NewUploadHandler(store, p, s, nil, Errors{}, UploadOptions{
		MaxBytes:          1024,
		AllowedExtensions: []string{"mp3"},
	})
	return h, store
}

func buildMultipartForm(t *testing.T, fields map[string]string, fileField string, fileData []byte, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	if fileData != nil && fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(fileData)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func doUpload(ctx context.Context, h *UploadHandler, body *bytes.Buffer, ct string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/transcribe", body).WithContext(ctx)
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	rec := httptest.NewRecorder()
	h.Upload(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestUpload_Success(t *testing.T) {
	p := &mockProbe{dur: 42 * time.Second}
	s := &mockSubmitter{}
	h, store := newTestUploadHandler(t, p, s)

	body, ct := buildMultipartForm(t, map[string]string{"note": "ignored"}, "file", []byte("fake-mp3-data"), "Call.MP3")
	ctx := context.WithValue(context.Background(), identityKey, auth.Identity{Name: "mobile"})
	rec := doUpload(ctx, h, body, ct)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := decodeBody(t, rec)["unique_id"]; got != "3f2a5a4e-8b1c-4c2e-9d7a-1b2c3d4e5f60" {
		t.Errorf("unique_id = %q", got)
	}

	if string(p.lastData) != "fake-mp3-data" {
		t.Errorf("probed data = %q, want %q", p.lastData, "fake-mp3-data")
	}
	if strings.Contains(p.lastPath, "Call") {
		t.Errorf("scratch path %q must not use the client file name", p.lastPath)
	}
	if !strings.HasSuffix(p.lastPath, ".mp3") {
		t.Errorf("scratch path %q should keep the lower-cased extension", p.lastPath)
	}

	if s.last == nil {
		t.Fatal("Submit not called")
	}
	if s.last.Identity != "mobile" {
		t.Errorf("identity = %q, want mobile", s.last.Identity)
	}
	if s.last.Filename != "Call.MP3" {
		t.Errorf("filename = %q", s.last.Filename)
	}
	if s.last.Duration != 42*time.Second {
		t.Errorf("duration = %s", s.last.Duration)
	}
	if s.last.SizeBytes != int64(len("fake-mp3-data")) {
		t.Errorf("size = %d", s.last.SizeBytes)
	}

	if n := store.Count(); n != 0 {
		t.Errorf("scratch dir holds %d files after request, want 0", n)
	}
}

func TestUpload_DefaultIdentity(t *testing.T) {
	s := &mockSubmitter{}
	h, _ := newTestUploadHandler(t, &mockProbe{dur: time.Second}, s)

	body, ct := buildMultipartForm(t, nil, "file", []byte("x"), "a.mp3")
	rec := doUpload(context.Background(), h, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if s.last.Identity != auth.DefaultIdentity {
		t.Errorf("identity = %q, want %q", s.last.Identity, auth.DefaultIdentity)
	}
}

func TestUpload_NoFilePart(t *testing.T) {
	tests := []struct {
		name string
		body func() (*bytes.Buffer, string)
	}{
		{"wrong_field_name", func() (*bytes.Buffer, string) {
			return buildMultipartForm(t, nil, "audio", []byte("x"), "a.mp3")
		}},
		{"fields_only", func() (*bytes.Buffer, string) {
			return buildMultipartForm(t, map[string]string{"file": "not-a-file"}, "", nil, "")
		}},
		{"not_multipart", func() (*bytes.Buffer, string) {
			return bytes.NewBufferString(`{"file":"x"}`), "application/json"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSubmitter{}
			h, _ := newTestUploadHandler(t, &mockProbe{}, s)
			body, ct := tt.body()
			rec := doUpload(context.Background(), h, body, ct)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeBody(t, rec)["error"]; got != "No file part" {
				t.Errorf("error = %q, want %q", got, "No file part")
			}
			if s.last != nil {
				t.Error("Submit should not be called")
			}
		})
	}
}

func TestUpload_InvalidFileType(t *testing.T) {
	for _, name := range []string{"a.wav", "mp3", "a.mp3.exe", "noext."} {
		t.Run(name, func(t *testing.T) {
			p := &mockProbe{}
			h, _ := newTestUploadHandler(t, p, &mockSubmitter{})
			body, ct := buildMultipartForm(t, nil, "file", []byte("x"), name)
			rec := doUpload(context.Background(), h, body, ct)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			got := decodeBody(t, rec)
			if got["error"] != "File upload error" || got["details"] != "Invalid file type" {
				t.Errorf("body = %v", got)
			}
			if p.lastPath != "" {
				t.Error("probe should not run for rejected types")
			}
		})
	}
}

func TestUpload_TooLarge(t *testing.T) {
	p := &mockProbe{}
	h, store := newTestUploadHandler(t, p, &mockSubmitter{})

	body, ct := buildMultipartForm(t, nil, "file", bytes.Repeat([]byte("a"), 2048), "big.mp3")
	rec := doUpload(context.Background(), h, body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["error"] != "File upload error" || got["details"] != "File too large" {
		t.Errorf("body = %v", got)
	}
	if p.lastPath != "" {
		t.Error("probe should not run for oversized files")
	}
	if n := store.Count(); n != 0 {
		t.Errorf("scratch dir holds %d files, want 0", n)
	}
}

func TestUpload_DurationRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"too_long", &probe.DurationError{Duration: 61 * time.Second, Max: time.Minute}},
		{"probe_failed", errors.New("exec: \"ffprobe\": executable file not found in $PATH")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSubmitter{}
			h, store := newTestUploadHandler(t, &mockProbe{err: tt.err}, s)
			body, ct := buildMultipartForm(t, nil, "file", []byte("x"), "a.mp3")
			rec := doUpload(context.Background(), h, body, ct)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			got := decodeBody(t, rec)
			if got["error"] != durationErrorMessage {
				t.Errorf("error = %q", got["error"])
			}
			if got["detail"] != tt.err.Error() {
				t.Errorf("detail = %q, want %q", got["detail"], tt.err.Error())
			}
			if s.last != nil {
				t.Error("Submit should not be called")
			}
			if n := store.Count(); n != 0 {
				t.Errorf("scratch dir holds %d files, want 0", n)
			}
		})
	}
}

func TestUpload_SubmitFails(t *testing.T) {
	s := &mockSubmitter{err: errors.New("start job: AccessDenied")}
	h, store := newTestUploadHandler(t, &mockProbe{dur: time.Second}, s)

	body, ct := buildMultipartForm(t, nil, "file", []byte("x"), "a.mp3")
	rec := doUpload(context.Background(), h, body, ct)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != "Failed to process transcription" {
		t.Errorf("error = %q", got)
	}
	if n := store.Count(); n != 0 {
		t.Errorf("scratch dir holds %d files, want 0", n)
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"a.mp3":     "mp3",
		"A.MP3":     "mp3",
		"a.b.WAV":   "wav",
		"noext":     "",
		"trailing.": "",
		".mp3":      "mp3",
	}
	for in, want := range tests {
		if got := extension(in); got != want {
			t.Errorf("extension(%q) = %q, want %q", in, got, want)
		}
	}
}
