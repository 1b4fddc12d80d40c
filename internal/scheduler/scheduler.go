package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a periodic maintenance job.
type Task func(ctx context.Context) error

// Scheduler runs named tasks on cron specs. Overlapping runs of the same
// task are skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	tasks   map[string]Task
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// New builds a scheduler. timeout bounds a single task run; zero means no bound.
func New(logger *zap.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Named("cron")}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		tasks:   make(map[string]Task),
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
	}
}

// Register schedules task under name. Empty specs disable the task.
func (s *Scheduler) Register(name, spec string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}
	s.tasks[name] = task
	if spec == "" {
		s.logger.Info("task disabled", zap.String("task", name))
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { _ = s.run(s.ctx, name, task) }); err != nil {
		delete(s.tasks, name)
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	return nil
}

// RunNow executes a registered task synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %q not registered", name)
	}
	return s.run(ctx, name, task)
}

// Start begins dispatching.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running tasks and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) run(ctx context.Context, name string, task Task) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	err := task(ctx)
	fields := []zap.Field{zap.String("task", name), zap.Duration("duration", time.Since(started))}
	if err != nil {
		s.logger.Warn("task failed", append(fields, zap.Error(err))...)
		return err
	}
	s.logger.Debug("task finished", fields...)
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
