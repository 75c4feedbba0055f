package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/abcmetrics/internal/clock"
	obsmetrics "github.com/smallbiznis/abcmetrics/internal/observability/metrics"
	"github.com/smallbiznis/abcmetrics/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Params struct {
	fx.In

	Syncer     Syncer
	Aggregator Aggregator
	GenID      *snowflake.Node
	Clock      clock.Clock
	Log        *zap.Logger
	Locker     *ratelimit.Locker `optional:"true"`
	Config     Config            `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	syncer     Syncer
	aggregator Aggregator
	locker     *ratelimit.Locker

	jobs    []Job
	running map[string]*sync.Mutex

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// RunReport describes one job execution.
type RunReport struct {
	Job        string    `json:"job"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Processed  int       `json:"processed"`
	TimedOut   bool      `json:"timed_out"`
}

func New(p Params) (*Scheduler, error) {
	if p.Syncer == nil || p.Aggregator == nil || p.GenID == nil || p.Log == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	s := &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		syncer:     p.Syncer,
		aggregator: p.Aggregator,
		locker:     p.Locker,
		running:    map[string]*sync.Mutex{},
		lastRun:    map[string]time.Time{},
	}
	s.jobs = s.buildJobs()

	// firing times before startup are not replayed
	now := s.clock.Now()
	for _, job := range s.jobs {
		s.running[job.Name] = &sync.Mutex{}
		s.lastRun[job.Name] = now
	}
	return s, nil
}

// Jobs returns the job table.
func (s *Scheduler) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

func (s *Scheduler) runJob(parent context.Context, job Job, now time.Time) (RunReport, error) {
	schedMetrics := obsmetrics.Scheduler()

	guard := s.guard(job.Name)
	if !guard.TryLock() {
		schedMetrics.IncJobSkipped(job.Name, obsmetrics.SchedulerSkipReasonOverlap)
		s.logger(parent).Info("scheduler.job.skipped",
			zap.String("job", job.Name),
			zap.String("reason", obsmetrics.SchedulerSkipReasonOverlap),
		)
		return RunReport{Job: job.Name}, ErrJobRunning
	}
	defer guard.Unlock()

	release, err := s.acquireLease(parent, job)
	if err != nil {
		return RunReport{Job: job.Name}, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(parent, job.Timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, job.Name, job.Resource)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", job.Name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(job.Name)

	processed, err := job.Run(ctx, now)
	run.AddProcessed(processed)
	schedMetrics.ObserveJobDuration(job.Name, time.Since(run.startedAt))
	schedMetrics.AddBatchProcessed(job.Name, job.Resource, processed)
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)

	report := RunReport{
		Job:        job.Name,
		RunID:      run.runID,
		StartedAt:  run.startedAt,
		FinishedAt: s.clock.Now(),
		Processed:  processed,
	}
	if err == nil {
		schedMetrics.MarkSuccess(job.Name, report.FinishedAt)
		return report, nil
	}

	// deadline is a soft timeout
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(job.Name)
	}
	schedMetrics.IncJobError(job.Name, err)
	if isTimeout {
		report.TimedOut = true
		log.Warn("job timed out",
			zap.Duration("timeout", job.Timeout),
			zap.Error(err),
		)
		return report, nil
	}

	s.logSchedulerError(ctx, "scheduler.job.failed", job.Name, err)
	return report, fmt.Errorf("%s: %w", job.Name, err)
}

func (s *Scheduler) guard(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.running[name]
	if !ok {
		g = &sync.Mutex{}
		s.running[name] = g
	}
	return g
}

// acquireLease takes the cross-replica lock when redis is configured.
// An unreachable redis degrades to the in-process guard only.
func (s *Scheduler) acquireLease(ctx context.Context, job Job) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	lease, err := s.locker.AcquireJob(ctx, job.Name, job.Timeout)
	switch {
	case errors.Is(err, ratelimit.ErrLockHeld):
		obsmetrics.Scheduler().IncJobSkipped(job.Name, obsmetrics.SchedulerSkipReasonLockHeld)
		s.logger(ctx).Info("scheduler.job.skipped",
			zap.String("job", job.Name),
			zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld),
		)
		return noop, ErrJobRunning
	case err != nil:
		s.logger(ctx).Warn("scheduler.lock.unavailable",
			zap.String("job", job.Name),
			zap.Error(err),
		)
		return noop, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			s.logger(ctx).Warn("scheduler.lock.release_failed",
				zap.String("job", job.Name),
				zap.Error(err),
			)
		}
	}, nil
}

// RunOnce runs every enabled job whose firing time passed since its last run.
// Chains run concurrently; a failing job never stops the others.
func (s *Scheduler) RunOnce(parent context.Context, now time.Time) error {
	chains := map[string][]Job{}
	var order []string
	for _, job := range s.dueJobs(now) {
		if _, ok := chains[job.Chain]; !ok {
			order = append(order, job.Chain)
		}
		chains[job.Chain] = append(chains[job.Chain], job)
	}
	if len(order) == 0 {
		return nil
	}

	results := make([]error, len(order))
	var g errgroup.Group
	for i, name := range order {
		i := i
		jobs := chains[name]
		g.Go(func() error {
			var errs []error
			for _, job := range jobs {
				if err := parent.Err(); err != nil {
					errs = append(errs, err)
					break
				}
				if _, err := s.runJob(parent, job, now); err != nil && !errors.Is(err, ErrJobRunning) {
					errs = append(errs, err)
				}
			}
			results[i] = errors.Join(errs...)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(results...)
}

func (s *Scheduler) dueJobs(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for _, job := range s.jobs {
		if !job.Schedule.Due(s.lastRun[job.Name], now) {
			continue
		}
		s.lastRun[job.Name] = now
		if !s.isJobEnabled(job.Name) {
			obsmetrics.Scheduler().IncJobSkipped(job.Name, obsmetrics.SchedulerSkipReasonNotEnabled)
			continue
		}
		due = append(due, job)
	}
	return due
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.Tick)
	schedMetrics := obsmetrics.Scheduler()

	s.log.Info("scheduler started", zap.Duration("tick", s.cfg.Tick))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}

		now := s.clock.Now()
		if runLag := now.Sub(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx, now); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.Tick)
	}
}

// Trigger runs the named job immediately, outside its schedule.
func (s *Scheduler) Trigger(ctx context.Context, name string) (RunReport, error) {
	for _, job := range s.jobs {
		if !strings.EqualFold(job.Name, name) {
			continue
		}
		if !s.isJobEnabled(job.Name) {
			obsmetrics.Scheduler().IncJobSkipped(job.Name, obsmetrics.SchedulerSkipReasonNotEnabled)
			return RunReport{Job: job.Name}, ErrJobDisabled
		}
		return s.runJob(ctx, job, s.clock.Now())
	}
	return RunReport{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	switch jobName {
	case JobSyncJobs, JobSyncLeads, JobSyncPayments:
		if s.cfg.WorkizDisabled {
			return false
		}
	case JobSyncCalls:
		if s.cfg.ElocalDisabled {
			return false
		}
	}
	// If EnabledJobs is empty, all jobs are enabled by default
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
