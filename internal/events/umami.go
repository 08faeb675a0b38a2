package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// UmamiSink records events in an Umami analytics website.
type UmamiSink struct {
	hostURL   string
	websiteID string
	hostname  string
	client    *http.Client
}

// NewUmamiSink creates a sink posting to <hostURL>/api/send.
func NewUmamiSink(hostURL, websiteID, hostname string) *UmamiSink {
	return &UmamiSink{
		hostURL:   strings.TrimRight(hostURL, "/"),
		websiteID: websiteID,
		hostname:  hostname,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (u *UmamiSink) Name() string { return "umami" }

type umamiPayload struct {
	Website  string         `json:"website"`
	Hostname string         `json:"hostname,omitempty"`
	URL      string         `json:"url,omitempty"`
	Name     string         `json:"name"`
	Data     map[string]any `json:"data,omitempty"`
}

func (u *UmamiSink) Send(ctx context.Context, ev Event) error {
	data := make(map[string]any, len(ev.Data)+2)
	for k, v := range ev.Data {
		data[k] = v
	}
	if ev.JobID != "" {
		data["unique_id"] = ev.JobID
	}
	if ev.Identity != "" {
		data["identity"] = ev.Identity
	}

	body, err := json.Marshal(map[string]any{
		"type": "event",
		"payload": umamiPayload{
			Website:  u.websiteID,
			Hostname: u.hostname,
			URL:      ev.Path,
			Name:     ev.Name,
			Data:     data,
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.hostURL+"/api/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	// Umami drops requests without a browser-ish user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; transcribe-api)")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("umami send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("umami send: status %d", resp.StatusCode)
	}
	return nil
}
