package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/orbital-sentry/internal/sentry"
)

// ErrScanInProgress is returned by RunNow while another scan is running.
var ErrScanInProgress = errors.New("scan already in progress")

// Scheduler periodically scans every key of a plan.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *sentry.Service
	plan      sentry.Plan
	interval  time.Duration
	timeout   time.Duration
	capture   func(time.Time) time.Time

	running sync.Mutex
}

// New creates a new Scheduler. capture maps the wall clock to the imagery
// date to request; nil means the current UTC day.
func New(plan sentry.Plan, interval, timeout time.Duration, capture func(time.Time) time.Time, service *sentry.Service) *Scheduler {
	if capture == nil {
		capture = sentry.Day
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   service,
		plan:      plan,
		interval:  interval,
		timeout:   timeout,
		capture:   capture,
	}
}

// Start schedules the periodic scan and starts the underlying scheduler.
// The first scan runs immediately.
func (s *Scheduler) Start() error {
	if len(s.plan.Keys()) == 0 {
		log.Warn().Msg("scheduler: no keys configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	_, err := s.scheduler.Every(interval).SingletonMode().Do(func() {
		log.Info().Msg("scheduler: running scan job")
		if _, err := s.RunNow(context.Background()); err != nil {
			log.Error().Err(err).Msg("scheduler: scan failed")
			return
		}
		log.Info().Msg("scheduler: completed scan job")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunNow performs one scan outside the schedule. It refuses to overlap with
// a scan that is already running.
func (s *Scheduler) RunNow(ctx context.Context) (*sentry.RunReport, error) {
	if !s.running.TryLock() {
		return nil, ErrScanInProgress
	}
	defer s.running.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	return s.service.Scan(ctx, s.plan, s.capture(time.Now().UTC()))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
