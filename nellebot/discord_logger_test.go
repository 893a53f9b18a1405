package nellebot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func testBotConfig() *BotConfig {
	cfg := DefaultConfig().Bot
	cfg.GuildID = testGuildID
	cfg.ModRoleID = "role-mod"
	cfg.TrustedRoleIDs = []string{"role-mod", "role-trusted"}
	cfg.MemberRoleID = "role-member"
	cfg.MemberRoleIDs = []string{"role-a", "role-b"}
	cfg.GhostRoleID = "role-ghost"
	cfg.SpammerRoleID = "role-spammer"
	cfg.QuarantineRoleID = "role-quarantine"
	cfg.TrustedChannelID = "chan-trusted"
	cfg.ModAlertsChannelID = "chan-alerts"
	cfg.ActivityLogChannelID = "chan-activity"
	cfg.ExtendedActivityLogChannelID = "chan-extended"
	cfg.GreetingsChannelID = "chan-greetings"
	cfg.QuarantineChannelID = "chan-quarantine"
	cfg.OperationLogChannelID = "chan-operations"
	cfg.ErrorLogChannelID = "chan-errors"
	cfg.ModmailChannelID = "chan-modmail"
	return cfg
}

func drainLogQueue(t *testing.T, q *DiscordLogQueue) []DiscordLogItem {
	t.Helper()
	var items []DiscordLogItem
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for q.Len() > 0 {
		item, err := q.Read(context.Background())
		require.NoError(t, err)
		items = append(items, item)
	}
	_, err := q.Read(ctx)
	require.Error(t, err)
	return items
}

func TestDiscordLogger_RoutesToChannels(t *testing.T) {
	q := NewDiscordLogQueue(DefaultQueueSize)
	l := NewDiscordLogger(testBotConfig(), q, nil, nil)

	l.LogGreetingMessage("greeting")
	l.LogActivityMessage("activity")
	l.LogModAlertsMessage("alert")
	l.LogOperationMessage("operation")

	items := drainLogQueue(t, q)
	require.Len(t, items, 4)
	assert.Equal(t, "chan-greetings", items[0].ChannelID)
	assert.Equal(t, discordgo.MessageFlags(0), items[0].Message.Flags)
	assert.Equal(t, "chan-activity", items[1].ChannelID)
	assert.Equal(t, discordgo.MessageFlagsSuppressNotifications, items[1].Message.Flags)
	assert.Equal(t, "chan-alerts", items[2].ChannelID)
	assert.Equal(t, "alert", items[2].Message.Content)
	assert.Equal(t, "chan-operations", items[3].ChannelID)
}

func TestDiscordLogger_SkipsUnconfiguredChannel(t *testing.T) {
	cfg := testBotConfig()
	cfg.GreetingsChannelID = ""
	q := NewDiscordLogQueue(DefaultQueueSize)
	NewDiscordLogger(cfg, q, nil, nil).LogGreetingMessage("hi")
	assert.Equal(t, 0, q.Len())
}

func TestDiscordLogger_DropsWhenFull(t *testing.T) {
	metrics := NewMetrics()
	q := NewDiscordLogQueue(1)
	l := NewDiscordLogger(testBotConfig(), q, nil, metrics)

	l.LogTrustedChannelMessage("one")
	l.LogTrustedChannelMessage("two")

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.discordLogDrops))
}

func TestDiscordErrorLogger_LogCommandError(t *testing.T) {
	q := NewDiscordLogQueue(DefaultQueueSize)
	el := NewDiscordErrorLogger(NewDiscordLogger(testBotConfig(), q, nil, nil))

	sc := newFakeSlashContext("vkick `x`", testMember("5", "mod"))
	el.LogCommandError(sc, "it `broke`")
	el.LogWarning("careful", "watch out")

	items := drainLogQueue(t, q)
	require.Len(t, items, 2)
	assert.Equal(t, "chan-errors", items[0].ChannelID)
	embed := items[0].Message.Embeds[0]
	assert.Equal(t, "Failed command", embed.Title)
	assert.Equal(
		t,
		"`vkick 'x'` by `mod` in `channel-1`(`100`)\n`it 'broke'`",
		embed.Description,
	)
	assert.Equal(t, ErrorEmbedColor, embed.Color)
	assert.Equal(t, WarningEmbedColor, items[1].Message.Embeds[0].Color)
}
