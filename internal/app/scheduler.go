/**
 * @description
 * Drives the notification pass: a daily cron trigger at the configured
 * wall-clock time, a one-off startup trigger and manual triggers from the
 * internal API. At most one pass runs at a time.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/subtrack/renewal-service/internal/config"
)

var (
	ErrSchedulerStarted = errors.New("scheduler already started")
	ErrSchedulerStopped = errors.New("scheduler stopped")
	ErrPassInProgress   = errors.New("a notification pass is already running")
)

// PassRunner runs one notification pass.
type PassRunner interface {
	RunAllChecks(ctx context.Context) PassSummary
}

// Scheduler manages the triggers of the notification pass.
type Scheduler struct {
	cron        *cron.Cron
	runner      PassRunner
	distributed RunLock
	logger      *slog.Logger
	config      config.Config

	// running is held for the duration of a pass.
	running sync.Mutex

	baseCtx  context.Context
	cancel   context.CancelFunc
	inFlight sync.WaitGroup

	mu           sync.Mutex
	started      bool
	stopped      bool
	startupTimer *time.Timer
	lastSummary  *PassSummary
}

// NewScheduler creates a new scheduler instance. distributed may be nil.
func NewScheduler(runner PassRunner, distributed RunLock, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(time.Local),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:        c,
		runner:      runner,
		distributed: distributed,
		logger:      logger,
		config:      cfg,
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Start registers the daily trigger, starts cron and arms the startup trigger.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.started {
		return ErrSchedulerStarted
	}

	spec := s.config.CronSpec()
	if _, err := s.cron.AddFunc(spec, func() { s.runScheduled("daily") }); err != nil {
		s.logger.Error("failed to schedule notification checks", "schedule", spec, "error", err)
		return fmt.Errorf("schedule daily notification checks: %w", err)
	}
	s.logger.Info("scheduled daily notification checks", "schedule", spec)

	s.cron.Start()
	s.started = true

	delay := s.config.StartupDelay()
	s.startupTimer = time.AfterFunc(delay, func() { s.runScheduled("startup") })
	s.logger.Info("startup notification check armed", "delay", delay.String())
	return nil
}

// TriggerNow runs a pass synchronously. The pass is cancelled when ctx is done,
// when the pass timeout elapses or when the scheduler stops.
func (s *Scheduler) TriggerNow(ctx context.Context) (PassSummary, error) {
	return s.runPass(ctx, "manual")
}

// LastSummary returns the result of the most recent completed pass, if any.
func (s *Scheduler) LastSummary() *PassSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSummary == nil {
		return nil
	}
	summary := *s.lastSummary
	return &summary
}

// Started reports whether the automatic triggers are active.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

// Stop disarms the triggers, cancels the in-flight pass and waits for it to
// return, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.startupTimer != nil {
		s.startupTimer.Stop()
	}
	started := s.started
	s.mu.Unlock()

	var cronDone <-chan struct{}
	if started {
		cronDone = s.cron.Stop().Done()
	}
	s.cancel()

	passesDone := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(passesDone)
	}()

	select {
	case <-passesDone:
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight pass: %w", ctx.Err())
	}
	if cronDone != nil {
		select {
		case <-cronDone:
		case <-ctx.Done():
			return fmt.Errorf("waiting for cron to stop: %w", ctx.Err())
		}
	}
	return nil
}

func (s *Scheduler) runScheduled(trigger string) {
	_, err := s.runPass(context.Background(), trigger)
	if err != nil && !errors.Is(err, ErrSchedulerStopped) {
		s.logger.Info("scheduled notification pass did not run", "trigger", trigger, "reason", err.Error())
	}
}

func (s *Scheduler) runPass(parent context.Context, trigger string) (PassSummary, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return PassSummary{}, ErrSchedulerStopped
	}
	s.inFlight.Add(1)
	s.mu.Unlock()
	defer s.inFlight.Done()

	if !s.running.TryLock() {
		s.logger.Warn("skipping notification pass; previous pass still running", "trigger", trigger)
		return PassSummary{}, ErrPassInProgress
	}
	defer s.running.Unlock()

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout := s.config.PassTimeout(); timeout > 0 {
		ctx, cancel = context.WithTimeout(s.baseCtx, timeout)
	} else {
		ctx, cancel = context.WithCancel(s.baseCtx)
	}
	defer cancel()
	stopPropagation := context.AfterFunc(parent, cancel)
	defer stopPropagation()

	if s.distributed != nil {
		release, acquired, err := s.distributed.TryAcquire(ctx)
		switch {
		case err != nil:
			// Notification writes are deduplicated in the store, so a pass
			// without the distributed lock is still safe.
			s.logger.Warn("distributed run lock unavailable; continuing with local lock only", "error", err)
		case !acquired:
			s.logger.Info("skipping notification pass; another replica holds the run lock", "trigger", trigger)
			return PassSummary{}, ErrPassInProgress
		default:
			defer release()
		}
	}

	s.logger.Info("notification pass triggered", "trigger", trigger)
	summary := s.runner.RunAllChecks(ctx)

	s.mu.Lock()
	s.lastSummary = &summary
	s.mu.Unlock()
	return summary, nil
}
