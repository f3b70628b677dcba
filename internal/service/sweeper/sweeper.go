// Package sweeper periodically removes expired records
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/nkiryanov/gopherauth/internal/logger"
)

const defaultInterval = time.Hour

// Purger removes records expired by now and returns how many were removed
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

type PurgerFunc func(ctx context.Context, now time.Time) (int64, error)

func (f PurgerFunc) Purge(ctx context.Context, now time.Time) (int64, error) {
	return f(ctx, now)
}

// Called after every purge, e.g. to update metrics
type Observer func(name string, purged int64)

type Sweeper struct {
	interval time.Duration
	logger   logger.Logger
	observe  Observer

	names   []string
	purgers []Purger

	now func() time.Time
}

func New(interval time.Duration, l logger.Logger, observe Observer) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}
	if observe == nil {
		observe = func(string, int64) {}
	}

	return &Sweeper{
		interval: interval,
		logger:   l.With("component", "sweeper"),
		observe:  observe,
		now:      time.Now,
	}
}

// Register adds purger. Not safe to call after Run
func (s *Sweeper) Register(name string, p Purger) {
	s.names = append(s.names, name)
	s.purgers = append(s.purgers, p)
}

// Run sweeps every interval until ctx is done
// Returned channel is closed when the loop has stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.interval, "purgers", len(s.purgers))

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()

	return idleStopped
}

// Sweep runs every purger once. Failed purger doesn't stop the others
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()

	for i, p := range s.purgers {
		name := s.names[i]

		n, err := p.Purge(ctx, now)
		switch {
		case err == nil:
			s.observe(name, n)
			if n > 0 {
				s.logger.Info("Expired records purged", "purger", name, "count", n)
			}
		case errors.Is(err, context.Canceled):
			return
		default:
			s.logger.Error("Failed to purge expired records", "purger", name, "error", err.Error())
		}
	}
}
