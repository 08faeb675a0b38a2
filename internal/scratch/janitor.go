package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Janitor removes scratch files left behind by requests that never reached
// their cleanup (crash, kill -9). Handlers remove their own files; this only
// catches leftovers.
type Janitor struct {
	store    *Store
	maxAge   time.Duration
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewJanitor sweeps files older than maxAge every interval.
func NewJanitor(store *Store, maxAge, interval time.Duration, log zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = maxAge / 2
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Janitor{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		log:      log.With().Str("component", "scratch-janitor").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	go j.loop()
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
	<-j.done
}

func (j *Janitor) loop() {
	defer close(j.done)

	// Run once on startup to clear anything left from the previous process
	j.Sweep(time.Now())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			j.Sweep(now)
		case <-j.stop:
			return
		}
	}
}

// Sweep removes files whose modification time is older than now-maxAge and
// returns how many were removed.
func (j *Janitor) Sweep(now time.Time) int {
	if j.maxAge <= 0 {
		return 0
	}
	cutoff := now.Add(-j.maxAge)

	entries, err := os.ReadDir(j.store.dir)
	if err != nil {
		j.log.Warn().Err(err).Msg("scratch sweep failed")
		return 0
	}

	var removed int
	var freed int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.store.dir, e.Name())); err == nil {
			removed++
			freed += info.Size()
		}
	}

	if removed > 0 {
		j.log.Info().
			Int("removed", removed).
			Str("freed", humanizeBytes(freed)).
			Msg("scratch sweep complete")
	}
	return removed
}

// Count returns the number of files currently in the scratch directory.
func (s *Store) Count() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
