package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher delivers events to sinks on background workers so request
// handlers never wait on a broker or analytics endpoint.
type Dispatcher struct {
	sinks    []Sink
	ch       chan Event
	timeout  time.Duration
	log      zerolog.Logger
	wg       sync.WaitGroup
	mu       sync.RWMutex // guards ch against send-after-close
	stopped  bool
	stopOnce sync.Once
	dropped  atomic.Int64
}

// NewDispatcher creates a dispatcher with the given buffer size. Each send is
// bounded by timeout.
func NewDispatcher(sinks []Sink, bufferSize int, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		ch:      make(chan Event, bufferSize),
		timeout: timeout,
		log:     log.With().Str("component", "events").Logger(),
	}
}

// Publish enqueues an event. Non-blocking: drops with a warning when the
// buffer is full or the dispatcher is stopped.
func (d *Dispatcher) Publish(ev Event) {
	if len(d.sinks) == 0 {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.dropped.Add(1)
		d.log.Warn().Str("event", ev.Name).Msg("event queue full, dropping")
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Start launches worker goroutines.
func (d *Dispatcher) Start(workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	d.log.Info().Int("workers", workers).Strs("sinks", names).Msg("event dispatcher started")
}

// Stop stops accepting events and waits for queued ones to drain.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.ch)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.ch {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := s.Send(ctx, ev); err != nil {
				d.log.Warn().Err(err).Str("sink", s.Name()).Str("event", ev.Name).Msg("event delivery failed")
			}
			cancel()
		}
	}
}
