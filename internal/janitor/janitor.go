// internal/janitor/janitor.go
//
// Scheduled cleanup of abandoned games.
// A cron job finishes every unfinished game whose lastActivityAt is older
// than the idle timeout. Expired games have no winner.

package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Expirer finishes stale games and reports how many it touched.
type Expirer interface {
	ExpireStale(ctx context.Context, maxIdle time.Duration) (int, error)
}

// Janitor runs the cleanup job on a cron schedule.
type Janitor struct {
	cron    *cron.Cron
	games   Expirer
	maxIdle time.Duration
	timeout time.Duration
}

// New schedules the cleanup job. schedule accepts standard cron
// expressions and descriptors like "@every 15m".
func New(games Expirer, schedule string, maxIdle time.Duration) (*Janitor, error) {
	j := &Janitor{
		cron:    cron.New(),
		games:   games,
		maxIdle: maxIdle,
		timeout: time.Minute,
	}
	if _, err := j.cron.AddFunc(schedule, j.Run); err != nil {
		return nil, err
	}
	return j, nil
}

// Run executes one cleanup pass.
func (j *Janitor) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	log.Debug().Dur("max_idle", j.maxIdle).Msg("janitor: expiring idle games")
	n, err := j.games.ExpireStale(ctx, j.maxIdle)
	if err != nil {
		log.Error().Err(err).Msg("janitor: expire idle games")
		return
	}
	if n > 0 {
		log.Info().Int("games_expired", n).Msg("janitor: expired idle games")
	}
}

// Start begins running the schedule in the background.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running pass to finish.
func (j *Janitor) Stop() { <-j.cron.Stop().Done() }
