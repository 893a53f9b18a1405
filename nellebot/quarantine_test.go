package nellebot

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestQuarantineService_QuarantineMember(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := testMember("1", "alice", "role-member")
	env.session.addMember(member)
	mod := testMember("2", "bob", "role-mod")

	svc := env.quarantineService()
	require.NoError(t, svc.QuarantineMember(ctx, member, mod, "spam"))

	assert.True(t, hasRole(env.session.member("1"), "role-quarantine"))
	assert.True(t, hasRole(member, "role-quarantine"))

	published := publishedOfType[MemberQuarantinedNotification](env.publisher)
	require.Len(t, published, 1)
	assert.Equal(t, "spam", published[0].Reason)
	assert.Equal(t, "2", published[0].Responsible.User.ID)
}

func TestQuarantineService_ApproveMember(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := testMember("1", "alice", "role-member", "role-quarantine")
	env.session.addMember(member)

	svc := env.quarantineService()
	require.NoError(t, svc.ApproveMember(ctx, member, testMember("2", "bob")))

	assert.False(t, hasRole(env.session.member("1"), "role-quarantine"))
	assert.Equal(t, []string{"role-member"}, member.Roles)
	require.Len(t, publishedOfType[MemberApprovedNotification](env.publisher), 1)
}

func TestQuarantineService_MissingRole(t *testing.T) {
	env := newTestEnv(t)
	env.config.QuarantineRoleID = "role-deleted"
	member := testMember("1", "alice")
	env.session.addMember(member)

	svc := env.quarantineService()
	require.NoError(t, svc.QuarantineMember(context.Background(), member, nil, "spam"))

	assert.Empty(t, env.session.callsTo("GuildMemberRoleAdd"))
	assert.Empty(t, env.publisher.all())
	errs := env.errorsLogged()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "unable to resolve quarantine role")
}

func TestQuarantineService_RoleAddFails(t *testing.T) {
	env := newTestEnv(t)
	env.session.errs["GuildMemberRoleAdd"] = errors.New("missing permissions")
	member := testMember("1", "alice")
	env.session.addMember(member)

	err := env.quarantineService().QuarantineMember(context.Background(), member, nil, "spam")
	assert.ErrorContains(t, err, "missing permissions")
	assert.Empty(t, env.publisher.all())
}

func TestDiscordResolver_ResolveRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role, err := env.resolver.ResolveRole(ctx, "role-ghost")
	require.NoError(t, err)
	assert.Equal(t, "Ghost", role.Name)

	_, err = env.resolver.ResolveRole(ctx, "nope")
	assert.ErrorIs(t, err, ErrRoleNotFound)
	_, err = env.resolver.ResolveRole(ctx, "")
	assert.ErrorIs(t, err, ErrRoleNotFound)

	names, err := env.resolver.RoleNames(ctx, []string{"role-a", "nope"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"role-a": "Learner"}, names)
}

func TestDiscordResolver_ResolveChannelCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.session.channels["c1"] = &discordgo.Channel{ID: "c1", Name: "general"}

	for i := 0; i < 3; i++ {
		ch, err := env.resolver.ResolveChannel(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "general", ch.Name)
	}
	assert.Len(t, env.session.callsTo("Channel"), 1)

	_, err := env.resolver.ResolveChannel(ctx, "missing")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestDiscordResolver_ResolveGuildMember(t *testing.T) {
	env := newTestEnv(t)
	env.session.addMember(testMember("1", "alice"))

	m, err := env.resolver.ResolveGuildMember(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, testGuildID, m.GuildID)

	_, err = env.resolver.ResolveGuildMember(context.Background(), "2")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	bot := env.resolver.BotMember(context.Background())
	require.NotNil(t, bot)
	assert.Equal(t, testBotUserID, bot.User.ID)
}

func TestDiscordResolver_ResolveAuditLogEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()
	action := discordgo.AuditLogActionMemberKick
	env.session.auditLogs[int(action)] = &discordgo.GuildAuditLog{
		Users: []*discordgo.User{{ID: "mod", Username: "moderator"}},
		AuditLogEntries: []*discordgo.AuditLogEntry{
			{ID: snowflakeAt(now.Add(-time.Minute)), TargetID: "1", UserID: "mod", Reason: "rude"},
			{ID: snowflakeAt(now.Add(-time.Hour)), TargetID: "2", UserID: "mod"},
			{ID: snowflakeAt(now), TargetID: "3", UserID: "unlisted"},
		},
	}

	entry, user, err := env.resolver.ResolveAuditLogEntry(ctx, action, auditTarget("1"), auditLogMaxAge)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "rude", entry.Reason)
	assert.Equal(t, "moderator", user.Username)

	entry, _, err = env.resolver.ResolveAuditLogEntry(ctx, action, auditTarget("2"), auditLogMaxAge)
	require.NoError(t, err)
	assert.Nil(t, entry, "entry older than max age")

	_, user, err = env.resolver.ResolveAuditLogEntry(ctx, action, auditTarget("3"), auditLogMaxAge)
	require.NoError(t, err)
	assert.Equal(t, "unlisted", user.ID)

	entry, _, err = env.resolver.ResolveAuditLogEntry(ctx, discordgo.AuditLogActionMemberBanAdd, auditTarget("1"), auditLogMaxAge)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMentionEncoding(t *testing.T) {
	guild := GuildEntities{
		Roles: []*discordgo.Role{
			{ID: "10", Name: "Mod"},
			{ID: "11", Name: "Moderator"},
		},
		Channels: []*discordgo.Channel{{ID: "20", Name: "rules"}},
		Emojis: []*discordgo.Emoji{
			{ID: "30", Name: "wave"},
			{ID: "31", Name: "party", Animated: true},
		},
	}
	input := "Ask a @Moderator or @Mod, read #rules :wave: :party:"
	encoded := EncodeMentions(guild, input)
	assert.Equal(t, "Ask a <@&11> or <@&10>, read <#20> <:wave:30> <a:party:31>", encoded)
	assert.Equal(t, encoded, EncodeMentions(guild, encoded))
	assert.Equal(t, input, DecodeMentions(guild, encoded))

	assert.Equal(t, "<@&999> <#999>", DecodeMentions(guild, "<@&999> <#999>"))
}
