package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const jobGroupDefault = "default"

var (
	RoleMaintenanceJobKey  = JobKey{Name: "role-maintenance", Group: jobGroupDefault}
	ModmailCleanupJobKey   = JobKey{Name: "modmail-cleanup", Group: jobGroupDefault}
	MigrateResourcesJobKey = JobKey{Name: "migrate-resources", Group: jobGroupDefault}
	HeartbeatJobKey        = JobKey{Name: "heartbeat", Group: jobGroupDefault}
)

// JobRun describes a single execution of a job
type JobRun struct {
	Key       JobKey    `json:"key"`
	DryRun    bool      `json:"dry_run"`
	StartedAt time.Time `json:"started_at"`
}

// JobFunc runs a job. ctx is canceled when the job is canceled or
// the scheduler stops.
type JobFunc func(ctx context.Context, run JobRun) error

// JobStatus is a snapshot of a registered job
type JobStatus struct {
	Key        JobKey        `json:"key"`
	Interval   time.Duration `json:"interval"`
	Running    bool          `json:"running"`
	Current    *JobRun       `json:"current,omitempty"`
	LastRun    *JobRun       `json:"last_run,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	LastFinish time.Time     `json:"last_finish,omitempty"`
}

type scheduledJob struct {
	key      JobKey
	interval time.Duration
	fn       JobFunc

	current    *JobRun
	cancel     context.CancelFunc
	lastRun    *JobRun
	lastErr    error
	lastFinish time.Time
}

// JobScheduler runs registered jobs on their interval, or when
// triggered. A job runs at most once at a time.
type JobScheduler struct {
	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	baseCtx context.Context
	wg      sync.WaitGroup

	errorLogger errorLogger
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewJobScheduler(errorLogger errorLogger, metrics *Metrics, logger *slog.Logger) *JobScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobScheduler{
		jobs:        map[string]*scheduledJob{},
		baseCtx:     context.Background(),
		errorLogger: errorLogger,
		metrics:     metrics,
		logger:      logger.With(loggerNameKey, "jobs"),
		now:         time.Now,
	}
}

// Register adds a job. A zero interval means the job only runs
// when triggered.
func (s *JobScheduler) Register(key JobKey, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[key.Name] = &scheduledJob{key: key, interval: interval, fn: fn}
}

// Run starts each job's schedule, and blocks until ctx is canceled
// and running jobs have returned.
func (s *JobScheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	jobs := make([]*scheduledJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go func(j *scheduledJob) {
			defer s.wg.Done()
			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := s.start(j.key.Name, false); err != nil {
						s.logger.Info("skipped scheduled run", "job", j.key.String(), tint.Err(err))
					}
				}
			}
		}(j)
	}

	<-ctx.Done()
	s.logger.Info("context canceled, stopping jobs")
	s.mu.Lock()
	for _, j := range s.jobs {
		if j.cancel != nil {
			j.cancel()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Trigger runs the named job now
func (s *JobScheduler) Trigger(name string, dryRun bool) (JobKey, error) {
	return s.start(name, dryRun)
}

func (s *JobScheduler) start(name string, dryRun bool) (JobKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return JobKey{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if j.current != nil {
		return j.key, fmt.Errorf("%w: %s", ErrJobAlreadyRunning, name)
	}
	if s.baseCtx.Err() != nil {
		return j.key, s.baseCtx.Err()
	}

	run := &JobRun{Key: j.key, DryRun: dryRun, StartedAt: s.now()}
	logger := s.logger.With("job", j.key.String(), "dry_run", dryRun)
	ctx, cancel := context.WithCancel(WithLogger(s.baseCtx, logger))
	j.current = run
	j.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		err := s.execute(ctx, logger, j.fn, *run)

		s.mu.Lock()
		j.current = nil
		j.cancel = nil
		j.lastRun = run
		j.lastErr = err
		j.lastFinish = s.now()
		s.mu.Unlock()
	}()
	return j.key, nil
}

func (s *JobScheduler) execute(ctx context.Context, logger *slog.Logger, fn JobFunc, run JobRun) (err error) {
	defer func() {
		if perr := handleRecover(logger, recover()); perr != nil {
			err = perr
			s.metrics.jobRun(run.Key.Name, outcomePanic)
			s.errorLogger.LogError(fmt.Sprintf("Job failed: %s", run.Key), errorReport(perr))
		}
	}()

	logger.InfoContext(ctx, "job started")
	err = fn(ctx, run)
	switch {
	case err == nil:
		s.metrics.jobRun(run.Key.Name, outcomeOK)
		logger.InfoContext(ctx, "job finished", "elapsed", s.now().Sub(run.StartedAt))
	case errors.Is(err, context.Canceled):
		s.metrics.jobRun(run.Key.Name, outcomeCanceled)
		logger.InfoContext(ctx, "job canceled")
	default:
		s.metrics.jobRun(run.Key.Name, outcomeError)
		logger.ErrorContext(ctx, "job failed", tint.Err(err))
		s.errorLogger.LogError(fmt.Sprintf("Job failed: %s", run.Key), err.Error())
	}
	return err
}

// Cancel stops the named job, if it's running
func (s *JobScheduler) Cancel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok || j.cancel == nil {
		return fmt.Errorf("%w: %s", ErrJobNotRunning, name)
	}
	j.cancel()
	return nil
}

func (s *JobScheduler) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	return ok && j.current != nil
}

// List returns the status of every registered job, by name
func (s *JobScheduler) List() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	rv := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{
			Key:        j.key,
			Interval:   j.interval,
			Running:    j.current != nil,
			LastFinish: j.lastFinish,
		}
		if j.current != nil {
			cur := *j.current
			st.Current = &cur
		}
		if j.lastRun != nil {
			last := *j.lastRun
			st.LastRun = &last
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		rv = append(rv, st)
	}
	sort.Slice(rv, func(i, k int) bool { return rv[i].Key.Name < rv[k].Key.Name })
	return rv
}

// Wait blocks until every running job has returned
func (s *JobScheduler) Wait() {
	s.wg.Wait()
}

// sleepContext waits for d, or until ctx is canceled
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type jobTrigger interface {
	Trigger(name string, dryRun bool) (JobKey, error)
	Cancel(name string) error
}

type jobHandlers struct {
	jobs   jobTrigger
	logger *slog.Logger
}

func newJobHandlers(jobs jobTrigger, logger *slog.Logger) *jobHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &jobHandlers{jobs: jobs, logger: logger.With(loggerNameKey, "jobs")}
}

func (h *jobHandlers) register(b *MediatorBuilder) {
	HandleCommand(b, h.runJob)
	HandleCommand(b, h.cancelJob)
}

func (h *jobHandlers) runJob(ctx context.Context, cmd RunJobCommand) error {
	key, err := h.jobs.Trigger(cmd.Name, cmd.DryRun)
	switch {
	case errors.Is(err, ErrUnknownJob):
		return cmd.Ctx.Respond(ctx, fmt.Sprintf("Unknown job name: %s", cmd.Name), false)
	case errors.Is(err, ErrJobAlreadyRunning):
		return cmd.Ctx.Respond(ctx, fmt.Sprintf("Job already running: %s", key), false)
	case err != nil:
		return err
	}
	return cmd.Ctx.Respond(ctx, fmt.Sprintf("Job triggered: %s", key), false)
}

func (h *jobHandlers) cancelJob(ctx context.Context, cmd CancelJobCommand) error {
	if err := h.jobs.Cancel(cmd.Name); err != nil {
		if errors.Is(err, ErrJobNotRunning) {
			return cmd.Ctx.Respond(ctx, fmt.Sprintf("No job running with name: %s", cmd.Name), false)
		}
		return err
	}
	return cmd.Ctx.Respond(ctx, fmt.Sprintf("Canceled job: %s", cmd.Name), false)
}
