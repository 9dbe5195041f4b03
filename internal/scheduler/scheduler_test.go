package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepline/stepline/pkg/schema"
)

// fakeStarter records StartInstance calls.
type fakeStarter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeStarter) StartInstance(_ context.Context, workflow string, _ map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, workflow)
	return "inst-" + workflow, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestAddJobComputesFirstRun(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)
	job := &Job{ID: "nightly", Workflow: "create-prd", CronExpression: "0 2 * * *", Enabled: true}
	require.NoError(t, s.AddJob(job))

	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now().UTC()))
}

func TestAddJobValidation(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)

	err := s.AddJob(&Job{Workflow: "wf", CronExpression: "* * * * *"})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = s.AddJob(&Job{ID: "j1", CronExpression: "* * * * *"})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = s.AddJob(&Job{ID: "j1", Workflow: "wf", CronExpression: "not cron"})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestAddJobDuplicateRejected(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)
	require.NoError(t, s.AddJob(&Job{ID: "j1", Workflow: "wf", CronExpression: "* * * * *"}))

	err := s.AddJob(&Job{ID: "j1", Workflow: "wf", CronExpression: "* * * * *"})
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestRemoveJobIsIdempotent(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)
	require.NoError(t, s.AddJob(&Job{ID: "j1", Workflow: "wf", CronExpression: "* * * * *"}))
	s.RemoveJob("j1")
	s.RemoveJob("j1")
	assert.Empty(t, s.Jobs())
}

func TestJobsSnapshotSorted(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)
	require.NoError(t, s.AddJob(&Job{ID: "b", Workflow: "wf", CronExpression: "* * * * *"}))
	require.NoError(t, s.AddJob(&Job{ID: "a", Workflow: "wf", CronExpression: "* * * * *"}))

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)
}

func TestCalculateNextRun(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)
	from := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

	next, err := s.CalculateNextRun("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC), next)

	next, err = s.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 29, 10, 45, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("banana", from)
	assert.Error(t, err)
}

func TestTickRunsDueJobsAndReschedules(t *testing.T) {
	starter := &fakeStarter{}
	s := NewScheduler(starter, nil)

	past := time.Now().UTC().Add(-time.Minute)
	job := &Job{ID: "due", Workflow: "create-prd", CronExpression: "* * * * *", Enabled: true}
	require.NoError(t, s.AddJob(job))
	job.NextRunAt = &past

	s.tick(context.Background())

	assert.Equal(t, 1, starter.count())
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "success", jobs[0].LastRunStatus)
	require.NotNil(t, jobs[0].NextRunAt)
	assert.True(t, jobs[0].NextRunAt.After(past))
}

func TestTickSkipsDisabledJobs(t *testing.T) {
	starter := &fakeStarter{}
	s := NewScheduler(starter, nil)

	past := time.Now().UTC().Add(-time.Minute)
	job := &Job{ID: "off", Workflow: "wf", CronExpression: "* * * * *", Enabled: false}
	require.NoError(t, s.AddJob(job))
	job.NextRunAt = &past

	s.tick(context.Background())
	assert.Equal(t, 0, starter.count())
}

func TestTickSkipsFutureJobs(t *testing.T) {
	starter := &fakeStarter{}
	s := NewScheduler(starter, nil)
	require.NoError(t, s.AddJob(&Job{ID: "later", Workflow: "wf", CronExpression: "0 2 * * *", Enabled: true}))

	s.tick(context.Background())
	assert.Equal(t, 0, starter.count())
}

func TestTickRecordsStarterFailure(t *testing.T) {
	starter := &fakeStarter{err: schema.NewError(schema.ErrCodeNotFound, "workflow gone")}
	s := NewScheduler(starter, nil)

	past := time.Now().UTC().Add(-time.Minute)
	job := &Job{ID: "broken", Workflow: "ghost", CronExpression: "* * * * *", Enabled: true}
	require.NoError(t, s.AddJob(job))
	job.NextRunAt = &past

	s.tick(context.Background())

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "error", jobs[0].LastRunStatus)
}

func TestRecoverMissedRunsPastDueOnce(t *testing.T) {
	starter := &fakeStarter{}
	s := NewScheduler(starter, nil)

	past := time.Now().UTC().Add(-time.Hour)
	job := &Job{ID: "missed", Workflow: "create-prd", CronExpression: "* * * * *", Enabled: true}
	require.NoError(t, s.AddJob(job))
	job.NextRunAt = &past

	require.NoError(t, s.RecoverMissed(context.Background()))
	assert.Equal(t, 1, starter.count())

	// The job was rescheduled into the future; recovering again is a no-op.
	require.NoError(t, s.RecoverMissed(context.Background()))
	assert.Equal(t, 1, starter.count())
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	// Stopping twice is safe, and the scheduler can start again.
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}
