package nellebot

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestModmailCleanupJob(t *testing.T) {
	ctx := context.Background()
	config := testBotConfig()
	config.ModmailTicketInactiveHours = 72
	tickets := NewModmailTicketRepository(newTestDB(t))
	queue := NewCommandQueue(DefaultQueueSize)

	stale, err := tickets.CreateTicket(ctx, "20", "Reggie", false)
	require.NoError(t, err)
	require.NoError(t, tickets.SetForumPost(ctx, stale, "post-1", "msg-1"))
	closed, err := tickets.CreateTicket(ctx, "21", "Ronja", false)
	require.NoError(t, err)
	require.NoError(t, tickets.CloseTicket(ctx, closed))

	job := newModmailCleanupJob(config, tickets, queue, nil)

	t.Run("recent tickets stay open", func(t *testing.T) {
		require.NoError(t, job.Run(ctx, JobRun{Key: ModmailCleanupJobKey}))
		assert.Equal(t, 0, queue.Len())
	})

	job.now = func() time.Time { return time.Now().Add(73 * time.Hour) }

	t.Run("dry run", func(t *testing.T) {
		require.NoError(t, job.Run(ctx, JobRun{Key: ModmailCleanupJobKey, DryRun: true}))
		assert.Equal(t, 0, queue.Len())
	})

	t.Run("inactive tickets are closed", func(t *testing.T) {
		require.NoError(t, job.Run(ctx, JobRun{Key: ModmailCleanupJobKey}))
		require.Equal(t, 1, queue.Len())
		cmd, err := queue.Read(ctx)
		require.NoError(t, err)
		closeCmd, ok := cmd.(CloseInactiveModmailTicketCommand)
		require.True(t, ok)
		assert.Equal(t, stale.ID, closeCmd.Ticket.ID)
		assert.Equal(t, "post-1", closeCmd.Ticket.ForumPostID)
	})
}

func TestHeartbeatJob(t *testing.T) {
	ctx := context.Background()
	settings, _ := newTestSettingsService(t)
	job := newHeartbeatJob(settings, nil)
	beat := time.UnixMilli(time.Now().UnixMilli())
	job.now = func() time.Time { return beat }

	_, found, err := settings.GetLastHeartbeat(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, job.Run(ctx, JobRun{Key: HeartbeatJobKey}))
	last, found, err := settings.GetLastHeartbeat(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, beat.Equal(last))
}
