package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/pkg/lock"
	"github.com/jwalitptl/wa-connector/pkg/metrics"
)

const defaultJobTimeout = time.Minute

// Job is a periodic task. Spec uses the six field cron format (with seconds).
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs jobs on their cron schedule. Every run holds the distributed
// lock cron:{name}, so with several workers only one executes a given tick.
type Scheduler struct {
	cron    *cron.Cron
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu  sync.RWMutex
	ctx context.Context
}

func NewScheduler(locker lock.Locker, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		locker:  locker,
		metrics: m,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		ctx:     context.Background(),
	}
}

func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run func")
	}
	if job.Timeout <= 0 {
		job.Timeout = defaultJobTimeout
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.run(s.baseContext(), job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	s.logger.Info().Str("job", job.Name).Str("spec", job.Spec).Msg("job scheduled")
	return nil
}

// Start blocks until ctx is done, then waits for running jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("starting scheduler")

	<-ctx.Done()
	s.logger.Info().Msg("shutting down scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	start := time.Now()
	err := s.locker.WithLock(ctx, "cron:"+job.Name, job.Timeout, job.Run)

	result := "ok"
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		result = "skipped"
		s.logger.Debug().Str("job", job.Name).Msg("job already running elsewhere")
	case err != nil:
		result = "error"
		s.logger.Error().Err(err).Str("job", job.Name).Msg("job failed")
	default:
		s.logger.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job finished")
	}

	if s.metrics != nil {
		s.metrics.CronRuns.WithLabelValues(job.Name, result).Inc()
	}
}
