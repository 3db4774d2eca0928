// Package scheduler runs stage jobs from a persisted priority queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/clock"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/shared/obs"
	"github.com/robfig/cron/v3"
)

// Handler executes one stage job. A nil error completes the job.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *domain.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) error { return f(ctx, job) }

// Locker leases a job across scheduler instances.
type Locker interface {
	Key(jobID string) string
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// Config holds scheduler configuration
type Config struct {
	Logger       *slog.Logger
	Store        JobStore
	Clock        clock.Clock
	Locker       Locker
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	AutoRetry    bool
	JobTimeout   time.Duration
	StaleSweep   string
	LeaseTTL     time.Duration
	FetchRetry   RetryConfig
}

// Scheduler polls pending jobs and runs them through registered stage handlers
type Scheduler struct {
	logger       *slog.Logger
	store        JobStore
	clock        clock.Clock
	locker       Locker
	pollInterval time.Duration
	batchSize    int
	autoRetry    bool
	jobTimeout   time.Duration
	staleSweep   string
	leaseTTL     time.Duration
	fetchRetry   RetryConfig

	mu       sync.RWMutex
	handlers map[domain.Stage]Handler

	gate     chan struct{}
	wake     chan struct{}
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once

	// stopMu orders wg.Add in Poll against the final wg.Wait in Stop.
	stopMu  sync.Mutex
	stopped bool
}

// New creates a scheduler. Zero values fall back to a 5s poll, batches of 10,
// 3 concurrent jobs, a 10 minute job timeout and a one minute stale sweep.
func New(cfg *Config) *Scheduler {
	s := &Scheduler{
		logger:       cfg.Logger.With("component", "scheduler"),
		store:        cfg.Store,
		clock:        cfg.Clock,
		locker:       cfg.Locker,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		autoRetry:    cfg.AutoRetry,
		jobTimeout:   cfg.JobTimeout,
		staleSweep:   cfg.StaleSweep,
		leaseTTL:     cfg.LeaseTTL,
		fetchRetry:   cfg.FetchRetry.withDefaults(),
		handlers:     make(map[domain.Stage]Handler),
		wake:         make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 5 * time.Second
	}
	if s.batchSize <= 0 {
		s.batchSize = 10
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	s.gate = make(chan struct{}, concurrency)
	if s.jobTimeout <= 0 {
		s.jobTimeout = 10 * time.Minute
	}
	if s.staleSweep == "" {
		s.staleSweep = "@every 1m"
	}
	if s.leaseTTL <= 0 {
		s.leaseTTL = s.jobTimeout + time.Minute
	}
	return s
}

// Register binds a handler to a stage. Later registrations replace earlier ones.
func (s *Scheduler) Register(stage domain.Stage, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[stage] = h
}

func (s *Scheduler) handler(stage domain.Stage) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[stage]
	return h, ok
}

// Start polls until ctx is canceled or Stop is called. In-flight jobs are not interrupted.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler",
		slog.Duration("poll_interval", s.pollInterval),
		slog.Int("batch_size", s.batchSize),
		slog.Int("concurrency", cap(s.gate)),
		slog.Bool("auto_retry", s.autoRetry),
		slog.Duration("job_timeout", s.jobTimeout),
	)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(s.staleSweep, func() { s.SweepStale(ctx) }); err != nil {
		return fmt.Errorf("invalid stale sweep schedule %q: %w", s.staleSweep, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context canceled, stopping...")
			return nil
		case <-s.stopChan:
			return nil
		case <-ticker.C():
			s.poll(ctx)
		case <-s.wake:
			s.poll(ctx)
		}
	}
}

// Wake requests an immediate poll. Extra requests while one is pending are dropped.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop ends polling, prevents further claims and waits for in-flight jobs
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler...")
	s.stopMu.Lock()
	s.stopped = true
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.stopMu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// track registers one more running job unless Stop has been called.
func (s *Scheduler) track() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Scheduler) isStopped() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.stopped
}

// Wait blocks until every started job has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) poll(ctx context.Context) {
	if _, err := s.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Failed to fetch pending jobs",
			slog.String("error", err.Error()),
		)
	}
}

// Poll fetches one batch of pending jobs and starts each behind the concurrency gate.
// It returns how many jobs were started.
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	if s.isStopped() {
		return 0, nil
	}

	var jobs []*domain.Job
	err := retryWithBackoff(ctx, s.clock, s.fetchRetry, func() error {
		var fetchErr error
		jobs, fetchErr = s.store.FetchPendingJobs(ctx, s.batchSize)
		return fetchErr
	})
	obs.RecordPoll(err)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, job := range jobs {
		// Step 1: Wait for a free slot
		select {
		case s.gate <- struct{}{}:
		case <-ctx.Done():
			return started, ctx.Err()
		case <-s.stopChan:
			return started, nil
		}

		// Step 2: Stop or cancellation may have won the race for the slot
		if ctx.Err() != nil {
			<-s.gate
			return started, ctx.Err()
		}
		if !s.track() {
			<-s.gate
			return started, nil
		}

		// Step 3: Lease and claim, releasing the slot if either is lost
		claimed, lease, ok := s.acquire(ctx, job)
		if !ok {
			<-s.gate
			s.wg.Done()
			continue
		}

		started++
		go func() {
			defer s.wg.Done()
			defer func() { <-s.gate }()
			s.processJob(ctx, claimed, lease)
		}()
	}
	return started, nil
}
