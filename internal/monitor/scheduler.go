package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keepalive/internal/logger"
	"keepalive/internal/models"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard five-field syntax plus descriptors such as @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Scheduler triggers scheduled runs. A tick that fires while the previous
// run is still in flight is skipped.
type Scheduler struct {
	runner       Runner
	cron         *cron.Cron
	entryID      cron.EntryID
	spec         string
	runTimeout   time.Duration
	runOnStartup bool
	logger       *slog.Logger

	// ctx is the parent of every run context; cancel aborts in-flight runs.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	startup sync.WaitGroup
}

// NewScheduler creates a scheduler for cfg.Schedule. It does not start it.
func NewScheduler(cfg models.MonitorConfig, runner Runner, l *slog.Logger) (*Scheduler, error) {
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Discard()
	}

	cl := cronLogger{l}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:       runner,
		spec:         cfg.Schedule,
		runTimeout:   cfg.RunTimeout,
		runOnStartup: cfg.RunOnStartup,
		logger:       l,
		ctx:          ctx,
		cancel:       cancel,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	s.entryID = s.cron.Schedule(sched, cron.FuncJob(s.tick))
	return s, nil
}

// Start begins firing runs on schedule, plus one immediate run when
// run_on_startup is set.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.cron.Start()
	s.logger.Info("Scheduler started", "schedule", s.spec, "next_run", s.next())

	if s.runOnStartup {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			s.tick()
		}()
	}
}

// Stop halts the schedule and waits for an in-flight run, then releases the
// run context. If ctx expires first, the run is cancelled and ctx's error is
// returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.startup.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("Scheduler stop timed out, cancelled in-flight run")
		return ctx.Err()
	}
}

// Running reports whether the schedule is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Next returns the next scheduled fire time, or zero when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.next()
}

func (s *Scheduler) next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	defer cancel()

	_, err := s.runner.RunOnce(ctx, models.TriggerSchedule)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("Skipping scheduled run, a manual run is in progress")
	case err != nil:
		s.logger.Error("Scheduled run failed", "error", err)
	}
}

// cronLogger routes cron's logging through slog. Cron reports every wake-up
// at info level, which is debug noise here.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
