package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSweepSchedule = "@every 5m"
	defaultSweepBatch    = 500
	sweepTimeout         = 30 * time.Second
)

// ExpiredReleaser is satisfied by *credits.Service.
type ExpiredReleaser interface {
	ReleaseExpired(ctx context.Context, limit int) (int, error)
}

// ReservationSweepJob refunds credit holds whose operation never settled.
type ReservationSweepJob struct {
	releaser ExpiredReleaser
	schedule string
	batch    int
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

func NewReservationSweepJob(releaser ExpiredReleaser, schedule string) *ReservationSweepJob {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &ReservationSweepJob{
		releaser: releaser,
		schedule: schedule,
		batch:    defaultSweepBatch,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

func (j *ReservationSweepJob) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := cron.ParseStandard(j.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", j.schedule, err)
	}
	if _, err := j.cron.AddFunc(j.schedule, j.sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	j.cron.Start()
	j.running = true
	log.Info().Str("schedule", j.schedule).Msg("reservation sweep job started")
	return nil
}

// Stop waits for an in-flight sweep to finish.
func (j *ReservationSweepJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
	log.Info().Msg("reservation sweep job stopped")
}

func (j *ReservationSweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	j.RunOnce(ctx)
}

// RunOnce releases one batch of expired holds.
func (j *ReservationSweepJob) RunOnce(ctx context.Context) int {
	released, err := j.releaser.ReleaseExpired(ctx, j.batch)
	if err != nil {
		log.Error().Err(err).Int("released", released).Msg("failed to sweep expired reservations")
	} else if released > 0 {
		log.Info().Int("count", released).Msg("released expired reservations")
	}
	return released
}
