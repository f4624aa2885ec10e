package janitor

import (
	"context"
	"time"

	"match-session-coordinator/metrics"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// Sweeper removes pointers last touched before the cutoff.
type Sweeper interface {
	SweepStale(ctx context.Context, cutoff time.Time) (int, error)
}

// Janitor periodically sweeps superseded and abandoned matching pointers.
// A pointer past its TTL belongs to a ticket that either resolved long ago
// or was orphaned by a re-submission; nothing will ever route through it.
type Janitor struct {
	store     Sweeper
	interval  time.Duration
	ttl       time.Duration
	scheduler gocron.Scheduler
}

func New(store Sweeper, interval, ttl time.Duration) (*Janitor, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Janitor{
		store:     store,
		interval:  interval,
		ttl:       ttl,
		scheduler: scheduler,
	}, nil
}

func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.scheduler.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(func() { j.sweep(ctx) }),
	)
	if err != nil {
		return err
	}
	j.scheduler.Start()
	log.Info().Dur("interval", j.interval).Dur("ttl", j.ttl).Msg("janitor: started")
	return nil
}

func (j *Janitor) Stop() error {
	return j.scheduler.Shutdown()
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.ttl)
	swept, err := j.store.SweepStale(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("janitor: sweep failed")
		return
	}
	if swept > 0 {
		metrics.PointersSwept.Add(float64(swept))
		log.Info().Int("swept", swept).Time("cutoff", cutoff).Msg("janitor: stale pointers removed")
	}
}
