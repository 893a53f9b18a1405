package nellebot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"path/filepath"
	"testing"
)

func newTestBot(t *testing.T) (*Bot, *mockDiscordSession) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(t.TempDir(), "nellebot.sqlite3")
	cfg.Discord.Token = "test-token"
	cfg.Bot = testBotConfig()
	cfg.API.Enabled = false

	b, err := New(cfg)
	require.NoError(t, err)
	session := newMockDiscordSession()
	b.session = session
	t.Cleanup(b.closeDB)
	return b, session
}

func TestBot_ValidateConfig(t *testing.T) {
	b, _ := newTestBot(t)
	b.config.Discord.Token = ""
	assert.Error(t, b.ValidateConfig())
}

func TestNew_InvalidDatabaseType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabaseType = "mysql"
	_, err := New(cfg)
	assert.ErrorContains(t, err, "invalid database type")
}

func TestBot_Init(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, _ := newTestBot(t)
	require.NoError(t, b.init(ctx, ctx))

	assert.NotNil(t, b.mediator)
	assert.NotNil(t, b.discord)
	assert.Nil(t, b.api)
	assert.NotEmpty(t, b.router.ApplicationCommands())

	var names []string
	for _, j := range b.Jobs() {
		names = append(names, j.Key.Name)
	}
	assert.ElementsMatch(
		t,
		[]string{
			RoleMaintenanceJobKey.Name,
			ModmailCleanupJobKey.Name,
			MigrateResourcesJobKey.Name,
			HeartbeatJobKey.Name,
		},
		names,
	)
	assert.Len(t, b.QueueStats(), 5)
	assert.False(t, b.Connected())

	_, err := b.TriggerJob("nope", false)
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.ErrorIs(t, b.CancelJob(HeartbeatJobKey.Name), ErrJobNotRunning)
}

func TestBot_InitWithAPI(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, _ := newTestBot(t)
	b.config.API.Enabled = true
	b.config.API.Secret = "test-secret"
	require.NoError(t, b.init(ctx, ctx))
	assert.NotNil(t, b.api)
}

func TestBot_ConnectAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, session := newTestBot(t)
	require.NoError(t, b.init(ctx, ctx))

	// the mock never sends gateway events, so mark the session ready first
	b.discord.handlerReady(ctx)(nil, &discordgo.Ready{User: &discordgo.User{ID: testBotUserID, Bot: true}})
	require.NoError(t, b.connect(ctx, ctx))
	assert.Len(t, session.callsTo("Open"), 1)
	assert.Len(t, session.callsTo("ApplicationCommandBulkOverwrite"), 1)

	g := &errgroup.Group{}
	b.startWorkers(ctx, g)
	cancel()
	require.NoError(t, b.shutdown(g))
	assert.Len(t, session.callsTo("Close"), 1)
}

func TestBot_AdminCredentials(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBot(t)
	require.NoError(t, b.init(ctx, ctx))

	require.NoError(t, b.settings.SetAdminCredentials(ctx, "admin", "hunter22"))
	ok, err := b.VerifyAdminCredentials(ctx, "admin", "hunter22")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.VerifyAdminCredentials(ctx, "admin", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}
