// Package probe reads audio durations with ffprobe and enforces a ceiling.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var ErrUnparsable = errors.New("could not parse duration from ffprobe output")

// DurationError reports a file that probed fine but is too long.
type DurationError struct {
	Duration time.Duration
	Max      time.Duration
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("audio duration %.2fs exceeds limit of %.0fs", e.Duration.Seconds(), e.Max.Seconds())
}

// Prober runs ffprobe against local files.
type Prober struct {
	bin     string
	max     time.Duration
	timeout time.Duration
}

// New creates a Prober. bin is the ffprobe executable (name or path).
func New(bin string, max, timeout time.Duration) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{bin: bin, max: max, timeout: timeout}
}

// Max returns the configured duration ceiling.
func (p *Prober) Max() time.Duration { return p.max }

// Available reports whether the ffprobe binary resolves.
func (p *Prober) Available() bool {
	_, err := exec.LookPath(p.bin)
	return err == nil
}

// Duration returns the container duration of the file at path.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	// -v quiet suppresses banners; csv=p=0 prints the bare number.
	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return 0, fmt.Errorf("ffprobe: %w: %s", err, msg)
		}
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return ParseDuration(string(out))
}

// Validate probes the file and returns its duration, or a *DurationError when
// it exceeds the ceiling. A duration exactly at the ceiling is accepted.
func (p *Prober) Validate(ctx context.Context, path string) (time.Duration, error) {
	d, err := p.Duration(ctx, path)
	if err != nil {
		return 0, err
	}
	if d > p.max {
		return d, &DurationError{Duration: d, Max: p.max}
	}
	return d, nil
}

// ParseDuration converts ffprobe's seconds output to a time.Duration.
func ParseDuration(out string) (time.Duration, error) {
	s := strings.TrimSpace(out)
	// Some containers report one line per program; the first is the format.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnparsable, s)
	}
	return time.Duration(math.Round(secs * float64(time.Second))), nil
}
