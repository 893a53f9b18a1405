package nellebot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestRandom_Oi(t *testing.T) {
	env := newTestEnv(t)
	h := newRandomHandlers(env.config, env.resolver, nil)
	member := testMember("10", "someone")

	err := h.oi(
		context.Background(),
		OiCommand{BotCommand: BotCommand{Ctx: NewInteractionContext(env.session, newTestInteraction("oi", member))}},
	)
	require.NoError(t, err)
	assert.Equal(t, "Oi!", lastInteractionContent(t, env))
}

func TestRandom_Slap(t *testing.T) {
	env := newTestEnv(t)
	h := newRandomHandlers(env.config, env.resolver, nil)
	slapper := testMember("10", "slapper")
	slapper.Nick = "Nelle"
	target := testMember("20", "target")
	env.session.addMember(target)

	cmd := SlapCommand{
		BotCommand:   BotCommand{Ctx: NewInteractionContext(env.session, newTestInteraction("slap", slapper))},
		TargetUserID: "20",
	}
	require.NoError(t, h.slap(context.Background(), cmd))
	assert.Equal(t, "_**Nelle** slaps **target** around a bit with a large trout_", lastInteractionContent(t, env))

	cmd.TargetUserID = "404"
	var userErr *UserInputError
	require.ErrorAs(t, h.slap(context.Background(), cmd), &userErr)
}

func TestRandom_BanJoke(t *testing.T) {
	env := newTestEnv(t)
	h := newRandomHandlers(env.config, env.resolver, nil)
	member := testMember("10", "someone")

	err := h.banJoke(
		context.Background(),
		BanJokeCommand{
			BotCommand: BotCommand{Ctx: NewInteractionContext(env.session, newTestInteraction("ban", member))},
			Text:       "my neighbour",
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "Why ban **my neighbour** when I can ban you instead?", lastInteractionContent(t, env))
}

func TestRandom_ListAwardChannels(t *testing.T) {
	env := newTestEnv(t)
	env.config.AwardVoteGroupIDs = []string{"cat-awards"}
	for _, ch := range []*discordgo.Channel{
		{ID: "cat-awards", Name: "Awards", Type: discordgo.ChannelTypeGuildCategory, Position: 0},
		{ID: "c1", Name: "best-meme", Type: discordgo.ChannelTypeGuildText, ParentID: "cat-awards", Position: 1},
		{ID: "c2", Name: "best-word", Type: discordgo.ChannelTypeGuildText, ParentID: "cat-awards", Position: 2},
		{ID: "cat-other", Name: "Other", Type: discordgo.ChannelTypeGuildCategory, Position: 3},
		{ID: "c3", Name: "general", Type: discordgo.ChannelTypeGuildText, ParentID: "cat-other", Position: 4},
	} {
		env.session.channels[ch.ID] = ch
	}
	h := newRandomHandlers(env.config, env.resolver, nil)

	err := h.listAwardChannels(
		context.Background(),
		ListAwardChannelsCommand{
			BotCommand: BotCommand{
				Ctx: NewInteractionContext(env.session, newTestInteraction("list-award-channels", testMember("10", "mod"))),
			},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "**Awards**\n#best-meme\n#best-word", lastInteractionContent(t, env))
}
