package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/clock"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/events"
	"github.com/cuongbtq/mortgage-recon/internal/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	store *memory.Store
	clock *clock.Fake
	queue *Queue
	rec   *events.Recorder
	sched *Scheduler
}

func newHarness(t *testing.T, mutate func(cfg *Config)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	clk := clock.NewFake(t0)
	rec := &events.Recorder{}

	cfg := &Config{
		Logger:       logger,
		Store:        store,
		Clock:        clk,
		PollInterval: 5 * time.Second,
		BatchSize:    10,
		Concurrency:  3,
		AutoRetry:    true,
		JobTimeout:   time.Minute,
		FetchRetry:   RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}
	if mutate != nil {
		mutate(cfg)
	}

	return &harness{
		store: store,
		clock: clk,
		queue: NewQueue(store, rec, clk, 3, logger),
		rec:   rec,
		sched: New(cfg),
	}
}

func (h *harness) enqueue(t *testing.T, stage domain.Stage, priority int) *domain.Job {
	t.Helper()
	job, err := h.queue.Enqueue(context.Background(), domain.NewJob{
		ApplicationID: "APP-1",
		Stage:         stage,
		Priority:      priority,
	})
	require.NoError(t, err)
	return job
}

// pollAndWait runs one poll and waits for the jobs it started.
func (h *harness) pollAndWait(t *testing.T) int {
	t.Helper()
	n, err := h.sched.Poll(context.Background())
	require.NoError(t, err)
	h.sched.Wait()
	return n
}

// poll runs one poll without waiting for the jobs it started.
func (h *harness) poll(t *testing.T) int {
	t.Helper()
	n, err := h.sched.Poll(context.Background())
	require.NoError(t, err)
	return n
}

func (h *harness) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestQueue_Enqueue(t *testing.T) {
	h := newHarness(t, nil)

	job := h.enqueue(t, domain.StageValidation, domain.PriorityValidation)

	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, t0, job.CreatedAt)

	evs := h.rec.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.JobEnqueued, evs[0].Type)
	assert.Equal(t, job.ID, evs[0].JobID)

	_, err := h.queue.Enqueue(context.Background(), domain.NewJob{ApplicationID: "APP-1", Stage: "bogus"})
	assert.Error(t, err)
	_, err = h.queue.Enqueue(context.Background(), domain.NewJob{Stage: domain.StageValidation})
	assert.Error(t, err)
}

func TestQueue_EnqueueHelpers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	ext, err := h.queue.EnqueueExtraction(ctx, "APP-1", "doc-1", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.StageExtraction, ext.Stage)
	assert.Equal(t, domain.PriorityDefaultExtraction, ext.Priority)
	assert.Equal(t, "doc-1", ext.DocumentIDValue())

	val, err := h.queue.EnqueueValidation(ctx, "APP-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityValidation, val.Priority)

	counts, err := h.queue.StatusCounts(ctx, "APP-1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.JobStatusPending])
	assert.Equal(t, 0, counts[domain.JobStatusFailed])
}

func TestScheduler_PriorityOrder(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Concurrency = 1 })

	var mu sync.Mutex
	var order []domain.Stage
	record := HandlerFunc(func(_ context.Context, job *domain.Job) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, job.Stage)
		return nil
	})
	h.sched.Register(domain.StageExtraction, record)
	h.sched.Register(domain.StageValidation, record)
	h.sched.Register(domain.StageFormatting, record)

	h.enqueue(t, domain.StageExtraction, 5)
	h.enqueue(t, domain.StageValidation, domain.PriorityValidation)
	h.enqueue(t, domain.StageExtraction, 1)
	h.enqueue(t, domain.StageFormatting, domain.PriorityFormatting)

	assert.Equal(t, 4, h.pollAndWait(t))
	assert.Equal(t, []domain.Stage{
		domain.StageExtraction,
		domain.StageFormatting,
		domain.StageValidation,
		domain.StageExtraction,
	}, order)
}

func TestScheduler_EmptyBatch(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, 0, h.pollAndWait(t))
}

func TestScheduler_RetryThenSucceed(t *testing.T) {
	h := newHarness(t, nil)

	var calls atomic.Int32
	h.sched.Register(domain.StageValidation, HandlerFunc(func(context.Context, *domain.Job) error {
		if calls.Add(1) <= 2 {
			return errors.New("ocr unavailable")
		}
		return nil
	}))

	job := h.enqueue(t, domain.StageValidation, domain.PriorityValidation)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, h.pollAndWait(t), "poll %d", i)
	}

	got := h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, 0, h.pollAndWait(t))
}

func TestScheduler_TerminalFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.sched.Register(domain.StageValidation, HandlerFunc(func(context.Context, *domain.Job) error {
		return errors.New("always broken")
	}))

	job := h.enqueue(t, domain.StageValidation, domain.PriorityValidation)

	for i := 0; i < 4; i++ {
		h.pollAndWait(t)
	}

	got := h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "always broken", *got.ErrorMessage)
	assert.Equal(t, 0, h.pollAndWait(t))
}

func TestScheduler_ManualRetry(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.AutoRetry = false })

	var calls atomic.Int32
	h.sched.Register(domain.StageFormatting, HandlerFunc(func(context.Context, *domain.Job) error {
		if calls.Add(1) == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	}))

	job := h.enqueue(t, domain.StageFormatting, domain.PriorityFormatting)
	h.pollAndWait(t)
	assert.Equal(t, domain.JobStatusFailed, h.job(t, job.ID).Status)

	appID := "APP-1"
	n, err := h.queue.RetryFailed(context.Background(), &appID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	h.pollAndWait(t)
	assert.Equal(t, domain.JobStatusCompleted, h.job(t, job.ID).Status)
}

func TestScheduler_HandlerFailures(t *testing.T) {
	tests := []struct {
		name     string
		register bool
		handler  HandlerFunc
		wantMsg  string
	}{
		{
			name:     "panic is recovered",
			register: true,
			handler:  func(context.Context, *domain.Job) error { panic("boom") },
			wantMsg:  "panic: boom",
		},
		{
			name:    "missing handler",
			wantMsg: "no handler registered for stage: validation",
		},
		{
			name:     "timeout",
			register: true,
			handler: func(ctx context.Context, _ *domain.Job) error {
				<-ctx.Done()
				return ctx.Err()
			},
			wantMsg: "context deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(cfg *Config) {
				cfg.AutoRetry = false
				cfg.JobTimeout = 20 * time.Millisecond
			})
			if tt.register {
				h.sched.Register(domain.StageValidation, tt.handler)
			}

			job := h.enqueue(t, domain.StageValidation, domain.PriorityValidation)
			h.pollAndWait(t)

			got := h.job(t, job.ID)
			assert.Equal(t, domain.JobStatusFailed, got.Status)
			require.NotNil(t, got.ErrorMessage)
			assert.Contains(t, *got.ErrorMessage, tt.wantMsg)
		})
	}
}

func TestScheduler_ConcurrencyGate(t *testing.T) {
	h := newHarness(t, nil)

	var running, peak atomic.Int32
	release := make(chan struct{})
	h.sched.Register(domain.StageExtraction, HandlerFunc(func(context.Context, *domain.Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		h.enqueue(t, domain.StageExtraction, 5)
	}

	done := make(chan int)
	go func() {
		n, _ := h.sched.Poll(context.Background())
		done <- n
	}()

	assert.Eventually(t, func() bool { return running.Load() == 3 }, time.Second, 5*time.Millisecond)
	counts, err := h.queue.StatusCounts(context.Background(), "APP-1")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.JobStatusProcessing])
	assert.Equal(t, 2, counts[domain.JobStatusPending])

	close(release)
	assert.Equal(t, 5, <-done)
	h.sched.Wait()

	assert.Equal(t, int32(3), peak.Load())
	counts, err = h.queue.StatusCounts(context.Background(), "APP-1")
	require.NoError(t, err)
	assert.Equal(t, 5, counts[domain.JobStatusCompleted])
}

func TestScheduler_FetchError(t *testing.T) {
	h := newHarness(t, nil)
	h.store.FailFetch = errors.New("connection refused")

	type pollResult struct {
		n   int
		err error
	}
	done := make(chan pollResult, 1)
	go func() {
		n, err := h.sched.Poll(context.Background())
		done <- pollResult{n, err}
	}()

	// The second attempt waits on the injected clock, not on wall time.
	require.Eventually(t, func() bool { return h.clock.Sleepers() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("poll returned before the backoff elapsed")
	default:
	}

	h.clock.Advance(2 * time.Millisecond)
	res := <-done
	assert.Zero(t, res.n)
	assert.EqualError(t, res.err, "connection refused")
}

func TestScheduler_SweepStale(t *testing.T) {
	tests := []struct {
		name       string
		autoRetry  bool
		wantStatus string
		wantRetry  int
	}{
		{"requeued when retries remain", true, domain.JobStatusPending, 1},
		{"left failed without auto retry", false, domain.JobStatusFailed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(cfg *Config) { cfg.AutoRetry = tt.autoRetry })
			ctx := context.Background()

			job := h.enqueue(t, domain.StageExtraction, 1)
			_, err := h.store.ClaimJob(ctx, job.ID, "lease-1", h.clock.Now())
			require.NoError(t, err)

			h.clock.Advance(30 * time.Second)
			assert.Equal(t, 0, h.sched.SweepStale(ctx))

			h.clock.Advance(31 * time.Second)
			assert.Equal(t, 1, h.sched.SweepStale(ctx))

			got := h.job(t, job.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantRetry, got.RetryCount)
		})
	}
}

func TestScheduler_StartPollsOnTick(t *testing.T) {
	h := newHarness(t, nil)

	processed := make(chan string, 1)
	h.sched.Register(domain.StageValidation, HandlerFunc(func(_ context.Context, job *domain.Job) error {
		processed <- job.ID
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.sched.Start(ctx) }()

	require.Eventually(t, func() bool { return h.clock.TickerCount() == 1 }, time.Second, time.Millisecond)

	job := h.enqueue(t, domain.StageValidation, domain.PriorityValidation)
	h.clock.Advance(5 * time.Second)

	select {
	case id := <-processed:
		assert.Equal(t, job.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed after a tick")
	}

	cancel()
	require.NoError(t, <-errCh)
	h.sched.Stop()
	assert.Equal(t, domain.JobStatusCompleted, h.job(t, job.ID).Status)
}

func TestScheduler_WakeTriggersPoll(t *testing.T) {
	h := newHarness(t, nil)

	processed := make(chan struct{}, 1)
	h.sched.Register(domain.StageFormatting, HandlerFunc(func(context.Context, *domain.Job) error {
		processed <- struct{}{}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.sched.Start(ctx) }()
	require.Eventually(t, func() bool { return h.clock.TickerCount() == 1 }, time.Second, time.Millisecond)

	h.enqueue(t, domain.StageFormatting, domain.PriorityFormatting)
	h.sched.Wake()

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("wake did not trigger a poll")
	}
	h.sched.Stop()
}

func TestScheduler_InvalidSweepSchedule(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.StaleSweep = "not a schedule" })
	err := h.sched.Start(context.Background())
	assert.ErrorContains(t, err, "invalid stale sweep schedule")
}

type fakeLocker struct {
	mu       sync.Mutex
	deny     bool
	held     map[string]string
	released []string
}

func (f *fakeLocker) Key(jobID string) string { return "lock:" + jobID }

func (f *fakeLocker) Acquire(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny {
		return false, nil
	}
	if f.held == nil {
		f.held = make(map[string]string)
	}
	f.held[key] = token
	return true, nil
}

func (f *fakeLocker) Refresh(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeLocker) Release(_ context.Context, key, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] != token {
		return false, nil
	}
	delete(f.held, key)
	f.released = append(f.released, key)
	return true, nil
}

func TestScheduler_Lease(t *testing.T) {
	t.Run("held lease skips the job", func(t *testing.T) {
		locker := &fakeLocker{deny: true}
		h := newHarness(t, func(cfg *Config) { cfg.Locker = locker })
		h.sched.Register(domain.StageValidation, HandlerFunc(func(context.Context, *domain.Job) error { return nil }))

		job := h.enqueue(t, domain.StageValidation, domain.PriorityValidation)
		assert.Equal(t, 0, h.pollAndWait(t))
		assert.Equal(t, domain.JobStatusPending, h.job(t, job.ID).Status)
	})

	t.Run("lease is stored on claim and released after", func(t *testing.T) {
		locker := &fakeLocker{}
		h := newHarness(t, func(cfg *Config) { cfg.Locker = locker })

		var token *string
		h.sched.Register(domain.StageValidation, HandlerFunc(func(_ context.Context, job *domain.Job) error {
			token = job.LeaseToken
			return nil
		}))

		job := h.enqueue(t, domain.StageValidation, domain.PriorityValidation)
		assert.Equal(t, 1, h.pollAndWait(t))

		require.NotNil(t, token)
		assert.Equal(t, []string{"lock:" + job.ID}, locker.released)
		assert.Nil(t, h.job(t, job.ID).LeaseToken)
	})
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, BackoffMultiplier: 2}.withDefaults()
	clk := clock.Real{}

	t.Run("succeeds after failures", func(t *testing.T) {
		attempts := 0
		err := retryWithBackoff(context.Background(), clk, cfg, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("returns last error", func(t *testing.T) {
		attempts := 0
		err := retryWithBackoff(context.Background(), clk, cfg, func() error {
			attempts++
			return errors.New("still down")
		})
		assert.EqualError(t, err, "still down")
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		attempts := 0
		err := retryWithBackoff(context.Background(), clk, cfg, func() error {
			attempts++
			return context.Canceled
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestRetryConfig_Defaults(t *testing.T) {
	tests := []struct {
		name string
		in   RetryConfig
		want RetryConfig
	}{
		{name: "zero value", in: RetryConfig{}, want: DefaultRetryConfig()},
		{
			name: "jitter out of range",
			in:   RetryConfig{MaxAttempts: 2, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 3, JitterFraction: 1.5},
			want: RetryConfig{MaxAttempts: 2, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 3, JitterFraction: 0.1},
		},
		{
			name: "explicit values kept",
			in:   RetryConfig{MaxAttempts: 7, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 1.5, JitterFraction: 0.25},
			want: RetryConfig{MaxAttempts: 7, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 1.5, JitterFraction: 0.25},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.withDefaults())
		})
	}
}

func TestBackoff_GrowsToCap(t *testing.T) {
	b := backoff{
		cfg:  RetryConfig{MaxBackoff: 350 * time.Millisecond, BackoffMultiplier: 2, JitterFraction: 0.1},
		base: 100 * time.Millisecond,
	}

	for _, want := range []time.Duration{100, 200, 350, 350} {
		got := b.next()
		want *= time.Millisecond
		spread := time.Duration(float64(want) * 0.1)
		assert.GreaterOrEqual(t, got, want-spread)
		assert.LessOrEqual(t, got, want+spread)
	}
}

func TestScheduler_StopBlocksNewClaims(t *testing.T) {
	h := newHarness(t, nil)

	var calls atomic.Int32
	h.sched.Register(domain.StageExtraction, HandlerFunc(func(context.Context, *domain.Job) error {
		calls.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		h.enqueue(t, domain.StageExtraction, 5)
	}

	h.sched.Stop()
	assert.Equal(t, 0, h.poll(t))
	h.sched.Wait()

	assert.Zero(t, calls.Load())
	counts, err := h.queue.StatusCounts(context.Background(), "APP-1")
	require.NoError(t, err)
	assert.Equal(t, 5, counts[domain.JobStatusPending])
}

func TestScheduler_StopFinishesInFlightOnly(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Concurrency = 1 })

	var running atomic.Int32
	release := make(chan struct{})
	h.sched.Register(domain.StageExtraction, HandlerFunc(func(context.Context, *domain.Job) error {
		running.Add(1)
		<-release
		return nil
	}))
	for i := 0; i < 3; i++ {
		h.enqueue(t, domain.StageExtraction, 5)
	}

	polled := make(chan int, 1)
	go func() {
		n, _ := h.sched.Poll(context.Background())
		polled <- n
	}()
	require.Eventually(t, func() bool { return running.Load() == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		h.sched.Stop()
		close(stopped)
	}()

	assert.Equal(t, 1, <-polled)
	select {
	case <-stopped:
		t.Fatal("stop returned while a job was still running")
	default:
	}

	close(release)
	<-stopped

	counts, err := h.queue.StatusCounts(context.Background(), "APP-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.JobStatusCompleted])
	assert.Equal(t, 2, counts[domain.JobStatusPending])
	assert.Equal(t, int32(1), running.Load())
}

// finishRecorder reports the outcome of every CompleteJob call.
type finishRecorder struct {
	*memory.Store
	finished chan error
}

func (f *finishRecorder) CompleteJob(ctx context.Context, jobID, leaseToken string, completedAt time.Time) error {
	err := f.Store.CompleteJob(ctx, jobID, leaseToken, completedAt)
	f.finished <- err
	return err
}

func TestScheduler_LateAttemptCannotFinishReclaimedJob(t *testing.T) {
	finished := make(chan error, 2)
	h := newHarness(t, func(cfg *Config) {
		cfg.Store = &finishRecorder{Store: cfg.Store.(*memory.Store), finished: finished}
	})

	first, second := make(chan struct{}), make(chan struct{})
	h.sched.Register(domain.StageExtraction, HandlerFunc(func(_ context.Context, job *domain.Job) error {
		if job.RetryCount == 0 {
			<-first
		} else {
			<-second
		}
		return nil
	}))

	job := h.enqueue(t, domain.StageExtraction, 1)
	assert.Equal(t, 1, h.poll(t))

	h.clock.Advance(61 * time.Second)
	assert.Equal(t, 1, h.sched.SweepStale(context.Background()))
	assert.Equal(t, 1, h.poll(t))

	close(first)
	assert.ErrorIs(t, <-finished, domain.ErrJobNotProcessing)

	got := h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	close(second)
	assert.NoError(t, <-finished)
	h.sched.Wait()

	got = h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestScheduler_HungJobEventuallyFails(t *testing.T) {
	// Abandoned attempts keep their slots until the handler returns.
	h := newHarness(t, func(cfg *Config) { cfg.Concurrency = 5 })

	var calls atomic.Int32
	hang := make(chan struct{})
	h.sched.Register(domain.StageExtraction, HandlerFunc(func(context.Context, *domain.Job) error {
		calls.Add(1)
		<-hang
		return nil
	}))

	job := h.enqueue(t, domain.StageExtraction, 1)
	for attempt := 0; attempt <= job.MaxRetries; attempt++ {
		require.Equal(t, 1, h.poll(t), "attempt %d", attempt)
		h.clock.Advance(61 * time.Second)
		require.Equal(t, 1, h.sched.SweepStale(context.Background()), "attempt %d", attempt)
	}

	assert.Equal(t, 0, h.poll(t))
	close(hang)
	h.sched.Wait()

	got := h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, got.MaxRetries, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "Job timed out after 1m0s", *got.ErrorMessage)
	assert.Equal(t, int32(job.MaxRetries+1), calls.Load())
}

func retriesRecorded(t *testing.T, stage domain.Stage, reason string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "recon_scheduler_retries_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["stage"] == string(stage) && labels["reason"] == reason {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestScheduler_RetryReason(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason string
	}{
		{name: "retryable error", err: domain.NewRetryableError(errors.New("ocr returned 503")), wantReason: "transient"},
		{name: "plain error", err: errors.New("bad field mapping"), wantReason: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			var calls atomic.Int32
			h.sched.Register(domain.StageFormatting, HandlerFunc(func(context.Context, *domain.Job) error {
				if calls.Add(1) == 1 {
					return tt.err
				}
				return nil
			}))

			before := retriesRecorded(t, domain.StageFormatting, tt.wantReason)
			job := h.enqueue(t, domain.StageFormatting, domain.PriorityFormatting)
			h.pollAndWait(t)
			h.pollAndWait(t)

			assert.Equal(t, before+1, retriesRecorded(t, domain.StageFormatting, tt.wantReason))
			assert.Equal(t, domain.JobStatusCompleted, h.job(t, job.ID).Status)
		})
	}
}
