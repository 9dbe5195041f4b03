package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stepline/stepline/pkg/schema"
)

// InstanceStarter is the interface the scheduler uses to launch
// instances. Satisfied by the engine service (avoids import cycle).
type InstanceStarter interface {
	StartInstance(ctx context.Context, workflow string, inputs map[string]any) (string, error)
}

// Job is one recurring instance launch.
type Job struct {
	ID             string         `json:"id"`
	Workflow       string         `json:"workflow"`
	CronExpression string         `json:"cron_expression"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Enabled        bool           `json:"enabled"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	LastRunStatus  string         `json:"last_run_status,omitempty"`
}

// Scheduler launches workflow instances on cron schedules.
type Scheduler struct {
	starter InstanceStarter
	parser  cron.Parser
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex

	jobsMu sync.RWMutex
	jobs   map[string]*Job

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs with a run in progress
}

// NewScheduler creates a new Scheduler.
func NewScheduler(starter InstanceStarter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// AddJob registers a job and computes its first run time.
func (s *Scheduler) AddJob(job *Job) error {
	if job == nil || job.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "job id is empty")
	}
	if job.Workflow == "" {
		return schema.NewError(schema.ErrCodeValidation, "job workflow is empty")
	}

	next, err := s.CalculateNextRun(job.CronExpression, time.Now().UTC())
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "job %q: %v", job.ID, err).WithCause(err)
	}
	job.NextRunAt = &next

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "job %q already registered", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// RemoveJob deletes a job. Removing an unknown job is a no-op.
func (s *Scheduler) RemoveJob(id string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	delete(s.jobs, id)
}

// Jobs returns a snapshot of all registered jobs, sorted by ID.
func (s *Scheduler) Jobs() []Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// First tick right away so a due job does not wait a full minute.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled jobs and runs those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, job := range s.dueJobs(now) {
		if !s.tryAcquire(job.ID) {
			continue // already running (dedup)
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// dueJobs returns the enabled jobs whose next run is at or before now.
func (s *Scheduler) dueJobs(now time.Time) []*Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	var due []*Job
	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		if job.NextRunAt == nil || !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	return due
}

// runJob launches one instance for the job and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("workflow", job.Workflow),
	)

	instanceID, err := s.starter.StartInstance(ctx, job.Workflow, job.Inputs)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled instance start failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("scheduled instance started",
			slog.String("job_id", job.ID),
			slog.String("instance_id", instanceID),
		)
	}

	return s.updateJobStatus(job, now, status)
}

func (s *Scheduler) updateJobStatus(job *Job, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job.LastRunAt = &now
	job.NextRunAt = &nextRun
	job.LastRunStatus = status
	return nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs jobs whose next_run_at was already in the past at
// startup, once each.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	now := time.Now().UTC()
	recovered := 0
	for _, job := range s.dueJobs(now) {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to recover missed job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			s.releaseJob(job.ID)
			continue
		}
		s.releaseJob(job.ID)
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("ran missed scheduled jobs", slog.Int("count", recovered))
	}
	return nil
}
