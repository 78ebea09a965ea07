// Package retention purges old relay messages on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"github.com/pliu/bizdir/internal/logging"
)

// Purger deletes messages created before a cutoff; *sqlstore.SQLStore
// implements it.
type Purger interface {
	PurgeBefore(cutoff time.Time) (int64, error)
}

type Job struct {
	store  Purger
	cron   string
	maxAge time.Duration
	log    *slog.Logger
	now    func() time.Time
}

func New(store Purger, cron string, maxAge time.Duration, log *slog.Logger) (*Job, error) {
	if !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("retention: invalid cron expression %q", cron)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention: max age must be positive, got %v", maxAge)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Job{store: store, cron: cron, maxAge: maxAge, log: log, now: time.Now}, nil
}

// RunOnce deletes every message older than the configured age.
func (j *Job) RunOnce() (int64, error) {
	cutoff := j.now().Add(-j.maxAge)
	n, err := j.store.PurgeBefore(cutoff)
	if err != nil {
		return 0, err
	}
	j.log.Info("purged messages",
		slog.Int64("count", n),
		slog.String("older_than", humanize.Time(cutoff)),
	)
	return n, nil
}

// Next returns the first scheduled run after t.
func (j *Job) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(j.cron, t, false)
}

// Run purges on every tick of the schedule until ctx is cancelled.
func (j *Job) Run(ctx context.Context) error {
	for {
		next, err := j.Next(j.now())
		if err != nil {
			return err
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if _, err := j.RunOnce(); err != nil {
			j.log.Error("purge failed", logging.Err(err))
		}
	}
}
