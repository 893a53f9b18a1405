package nellebot

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var testJobKey = JobKey{Name: "test-job", Group: jobGroupDefault}

func newTestScheduler(env *testEnv) *JobScheduler {
	return NewJobScheduler(env.errLogger, NewMetrics(), nil)
}

// blockingJob runs until canceled, signaling started once it begins
func blockingJob(started chan<- JobRun) JobFunc {
	return func(ctx context.Context, run JobRun) error {
		started <- run
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestJobScheduler_TriggerAndCancel(t *testing.T) {
	env := newTestEnv(t)
	s := newTestScheduler(env)
	started := make(chan JobRun, 1)
	s.Register(testJobKey, 0, blockingJob(started))

	key, err := s.Trigger("test-job", true)
	require.NoError(t, err)
	assert.Equal(t, testJobKey, key)

	select {
	case run := <-started:
		assert.True(t, run.DryRun)
		assert.Equal(t, testJobKey, run.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	assert.True(t, s.Running("test-job"))

	_, err = s.Trigger("test-job", false)
	require.ErrorIs(t, err, ErrJobAlreadyRunning)

	require.NoError(t, s.Cancel("test-job"))
	s.Wait()
	assert.False(t, s.Running("test-job"))
	require.ErrorIs(t, s.Cancel("test-job"), ErrJobNotRunning)

	statuses := s.List()
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Running)
	require.NotNil(t, statuses[0].LastRun)
	assert.Equal(t, context.Canceled.Error(), statuses[0].LastError)
	assert.Empty(t, env.errorsLogged())
}

func TestJobScheduler_UnknownJob(t *testing.T) {
	env := newTestEnv(t)
	s := newTestScheduler(env)

	_, err := s.Trigger("nope", false)
	require.ErrorIs(t, err, ErrUnknownJob)
	require.ErrorIs(t, s.Cancel("nope"), ErrJobNotRunning)
	assert.False(t, s.Running("nope"))
}

func TestJobScheduler_ReportsFailures(t *testing.T) {
	env := newTestEnv(t)
	s := newTestScheduler(env)
	s.Register(testJobKey, 0, func(context.Context, JobRun) error {
		return errors.New("out of cheese")
	})
	panicKey := JobKey{Name: "panics", Group: jobGroupDefault}
	s.Register(panicKey, 0, func(context.Context, JobRun) error {
		panic("oh no")
	})

	_, err := s.Trigger("test-job", false)
	require.NoError(t, err)
	_, err = s.Trigger("panics", false)
	require.NoError(t, err)
	s.Wait()

	statuses := s.List()
	require.Len(t, statuses, 2)
	assert.Equal(t, "panics", statuses[0].Key.Name)
	assert.Contains(t, statuses[0].LastError, "oh no")
	assert.Equal(t, "out of cheese", statuses[1].LastError)

	logged := env.errorsLogged()
	require.Len(t, logged, 2)
	assert.Contains(t, logged, "out of cheese")
	var panicReport string
	for _, msg := range logged {
		if strings.HasPrefix(msg, "panic: oh no") {
			panicReport = msg
		}
	}
	assert.Contains(t, panicReport, "goroutine")
}

func TestJobScheduler_RunsOnInterval(t *testing.T) {
	env := newTestEnv(t)
	s := newTestScheduler(env)
	var runs atomic.Int32
	s.Register(testJobKey, 10*time.Millisecond, func(context.Context, JobRun) error {
		runs.Add(1)
		return nil
	})
	s.Register(JobKey{Name: "manual"}, 0, func(context.Context, JobRun) error {
		t.Error("manual job should not run on a schedule")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	_, err := s.Trigger("test-job", false)
	require.ErrorIs(t, err, context.Canceled)
}

func TestJobScheduler_StopCancelsRunningJobs(t *testing.T) {
	env := newTestEnv(t)
	s := newTestScheduler(env)
	started := make(chan JobRun, 1)
	s.Register(testJobKey, 0, blockingJob(started))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(
		t,
		func() bool {
			_, err := s.Trigger("test-job", false)
			return err == nil
		},
		time.Second,
		5*time.Millisecond,
	)
	<-started
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.Running("test-job"))
}

func TestJobHandlers(t *testing.T) {
	env := newTestEnv(t)
	s := newTestScheduler(env)
	started := make(chan JobRun, 1)
	s.Register(RoleMaintenanceJobKey, 0, blockingJob(started))
	h := newJobHandlers(s, nil)
	ctx := context.Background()
	mod := testMember("10", "mod", "role-mod")

	jobCommand := func(name string) BotCommand {
		return BotCommand{Ctx: NewInteractionContext(env.session, newTestInteraction(name, mod))}
	}

	require.NoError(t, h.runJob(ctx, RunJobCommand{BotCommand: jobCommand("run-job"), Name: "nope"}))
	assert.Equal(t, "Unknown job name: nope", lastInteractionContent(t, env))

	require.NoError(t, h.runJob(ctx, RunJobCommand{BotCommand: jobCommand("run-job"), Name: "role-maintenance"}))
	assert.Equal(t, "Job triggered: default.role-maintenance", lastInteractionContent(t, env))
	<-started

	require.NoError(t, h.cancelJob(ctx, CancelJobCommand{BotCommand: jobCommand("cancel-job"), Name: "role-maintenance"}))
	assert.Equal(t, "Canceled job: role-maintenance", lastInteractionContent(t, env))
	s.Wait()

	require.NoError(t, h.cancelJob(ctx, CancelJobCommand{BotCommand: jobCommand("cancel-job"), Name: "role-maintenance"}))
	assert.Equal(t, "No job running with name: role-maintenance", lastInteractionContent(t, env))
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}
