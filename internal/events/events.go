// Package events fans request-level events (job submitted, status polled)
// out to optional sinks: an MQTT broker and Umami analytics. Sinks never
// affect the HTTP response; failures are logged and dropped.
package events

import (
	"context"
	"time"
)

// Event names.
const (
	JobSubmitted = "job.submitted"
	JobFailed    = "job.failed"
	StatusReady  = "status.ready"
	StatusMiss   = "status.pending"
	UploadReject = "upload.rejected"
)

// Event is one thing worth telling the outside world about.
type Event struct {
	Name     string         `json:"name"`
	JobID    string         `json:"unique_id,omitempty"`
	Identity string         `json:"identity,omitempty"`
	Path     string         `json:"path,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Time     time.Time      `json:"time"`
}

// Sink delivers events somewhere.
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Name() string
}

// Publisher is what request handlers see.
type Publisher interface {
	Publish(ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}
