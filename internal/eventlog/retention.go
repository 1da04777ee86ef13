package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
)

// defaultPurgeInterval is how often the janitor sweeps when the caller
// does not set one.
const defaultPurgeInterval = time.Hour

// Purger deletes entries older than a cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically purges event log entries past their retention age.
type Janitor struct {
	purger   Purger
	maxAge   time.Duration
	interval time.Duration
	logger   *logging.Logger
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// JanitorOptions configures a retention janitor.
type JanitorOptions struct {
	// MaxAge is how long entries are kept. Required, must be positive.
	MaxAge time.Duration

	// Interval is the sweep cadence. Defaults to one hour.
	Interval time.Duration

	Logger *logging.Logger
}

// NewJanitor creates a janitor that purges entries older than MaxAge.
func NewJanitor(purger Purger, opts JanitorOptions) *Janitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultPurgeInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Janitor{
		purger:   purger,
		maxAge:   opts.MaxAge,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "eventlog_janitor"),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Start runs an immediate sweep and then sweeps on the configured
// interval until Stop is called.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		j.sweep()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.sweep()
			case <-j.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop. Safe to call more than once.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
	j.wg.Wait()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := j.now().UTC().Add(-j.maxAge)
	purged, err := j.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("event log purge failed", "error", err)
		return
	}
	if purged > 0 {
		j.logger.Info("event log purged", "entries", purged, "cutoff", cutoff)
	}
}
