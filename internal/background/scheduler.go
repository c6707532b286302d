package background

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// FaultNotifier is told about panics in background work.
type FaultNotifier interface {
	Alert(ctx context.Context, subject string, fields map[string]string)
}

// Job is one periodic maintenance task.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means 30 seconds.
	Timeout time.Duration
	// RunAtStart runs the job once before the first tick.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker until Stop is called or the
// context passed to Start is cancelled.
type Scheduler struct {
	jobs     []Job
	logger   *slog.Logger
	notifier FaultNotifier
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// WithNotifier sets who is alerted when a job panics. A panicking job is
// recovered and keeps its schedule.
func (s *Scheduler) WithNotifier(n FaultNotifier) *Scheduler {
	s.notifier = n
	return s
}

// Start launches one goroutine per job and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			s.logger.Warn("skipping invalid background job", slog.String("job", job.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

// Stop signals every job to stop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.RunAtStart {
		s.run(ctx, job)
	}

	for {
		select {
		case <-ticker.C:
			s.run(ctx, job)
		case <-s.stopCh:
			s.logger.Info("background job stopped", slog.String("job", job.Name))
			return
		case <-ctx.Done():
			s.logger.Info("background job context cancelled", slog.String("job", job.Name))
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if rvr := recover(); rvr != nil {
			reportPanic(ctx, s.logger, s.notifier, "background job "+job.Name, rvr)
		}
	}()

	start := time.Now()
	if err := job.Run(runCtx); err != nil {
		s.logger.Error("background job failed",
			slog.String("job", job.Name),
			slog.Any("error", err))
		return
	}
	s.logger.Debug("background job completed",
		slog.String("job", job.Name),
		slog.Duration("took", time.Since(start)))
}

// Guard runs fn and reports a panic the same way a job panic is reported. The
// panic is not propagated.
func Guard(ctx context.Context, logger *slog.Logger, notifier FaultNotifier, name string, fn func(ctx context.Context)) {
	defer func() {
		if rvr := recover(); rvr != nil {
			reportPanic(ctx, logger, notifier, name, rvr)
		}
	}()
	fn(ctx)
}

func reportPanic(ctx context.Context, logger *slog.Logger, notifier FaultNotifier, name string, rvr any) {
	logger.Error("recovered panic",
		slog.String("component", name),
		slog.Any("panic", rvr),
		slog.String("stack", string(debug.Stack())))
	if notifier == nil {
		return
	}
	notifier.Alert(context.WithoutCancel(ctx), "panic in "+name, map[string]string{
		"component": name,
		"panic":     fmt.Sprint(rvr),
	})
}
