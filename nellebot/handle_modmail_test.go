package nellebot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type modmailTestEnv struct {
	*testEnv
	h       *modmailHandlers
	tickets *ModmailTicketRepository
	queue   *CommandQueue
}

func newModmailTestEnv(t *testing.T) *modmailTestEnv {
	t.Helper()
	env := newTestEnv(t)
	env.session.channels["chan-modmail"] = &discordgo.Channel{ID: "chan-modmail", Type: discordgo.ChannelTypeGuildForum}
	tickets := NewModmailTicketRepository(newTestDB(t))
	queue := NewCommandQueue(DefaultQueueSize)
	return &modmailTestEnv{
		testEnv: env,
		h:       newModmailHandlers(env.config, env.session, env.resolver, tickets, env.errLogger, queue, nil),
		tickets: tickets,
		queue:   queue,
	}
}

// deliver publishes a created message, and runs the relay command it
// queued, if any
func (e *modmailTestEnv) deliver(t *testing.T, m *discordgo.Message) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.h.messageCreated(ctx, MessageCreatedNotification{Message: m}))
	if e.queue.Len() == 0 {
		return
	}
	cmd, err := e.queue.Read(ctx)
	require.NoError(t, err)
	switch c := cmd.(type) {
	case RelayRequesterMessageCommand:
		require.NoError(t, e.h.relayRequesterMessage(ctx, c))
	case RelayModeratorMessageCommand:
		require.NoError(t, e.h.relayModeratorMessage(ctx, c))
	default:
		t.Fatalf("unexpected command %T", cmd)
	}
}

func (e *modmailTestEnv) reactionsTo(messageID string) []string {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	var rv []string
	for _, r := range e.session.reactions {
		if r.Args[1] == messageID {
			rv = append(rv, r.Method)
		}
	}
	return rv
}

func dmFrom(id string, userID string, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: "dm-" + userID,
		Content:   content,
		Author:    &discordgo.User{ID: userID, Username: "requester"},
	}
}

func TestModmail_RequesterRelay(t *testing.T) {
	env := newModmailTestEnv(t)
	ctx := context.Background()
	requester := testMember("20", "requester")
	requester.Nick = "Reggie"
	env.session.addMember(requester)

	env.deliver(t, dmFrom("1", "20", "I need help\nwith something"))

	ticket, err := env.tickets.GetOpenTicketByRequester(ctx, "20")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "Reggie", ticket.RequesterDisplayName)
	require.NotEmpty(t, ticket.ForumPostID)

	post := env.session.channels[ticket.ForumPostID]
	require.NotNil(t, post)
	assert.Equal(t, "chan-modmail", post.ParentID)
	assert.Equal(t, "Reggie", post.Name)
	assert.Equal(t, []string{"Reggie says\n> I need help\n> with something"}, env.session.sentTo(ticket.ForumPostID))
	assert.Equal(t, []string{successReaction}, env.reactionsTo("1"))

	env.deliver(t, dmFrom("2", "20", "hello?"))
	assert.Equal(
		t,
		[]string{"Reggie says\n> I need help\n> with something", "Reggie says\n> hello?"},
		env.session.sentTo(ticket.ForumPostID),
	)
	assert.Equal(t, []string{successReaction}, env.reactionsTo("2"))
	assert.Len(t, env.session.callsTo("ForumThreadStartComplex"), 1)
}

func TestModmail_ModeratorRelay(t *testing.T) {
	env := newModmailTestEnv(t)
	ctx := context.Background()
	env.session.addMember(testMember("20", "requester"))

	env.deliver(t, dmFrom("1", "20", "help"))
	ticket, err := env.tickets.GetOpenTicketByRequester(ctx, "20")
	require.NoError(t, err)
	require.NotNil(t, ticket)

	trusted := testMember("10", "trusted", "role-trusted")
	env.deliver(
		t,
		&discordgo.Message{
			ID:        "2",
			GuildID:   testGuildID,
			ChannelID: ticket.ForumPostID,
			Content:   "hi there",
			Author:    trusted.User,
			Member:    &discordgo.Member{Roles: trusted.Roles},
		},
	)
	assert.Equal(t, []string{failureReaction}, env.reactionsTo("2"))
	assert.Empty(t, env.session.sentTo("dm-20"))

	mod := testMember("11", "mod", "role-mod")
	env.deliver(
		t,
		&discordgo.Message{
			ID:        "3",
			GuildID:   testGuildID,
			ChannelID: ticket.ForumPostID,
			Content:   "how can we help?",
			Author:    mod.User,
			Member:    &discordgo.Member{Roles: mod.Roles},
		},
	)
	assert.Equal(t, []string{successReaction}, env.reactionsTo("3"))
	assert.Equal(t, []string{"Message from moderator:\n> how can we help?"}, env.session.sentTo("dm-20"))
}

func TestModmail_IgnoresOtherMessages(t *testing.T) {
	env := newModmailTestEnv(t)
	env.session.channels["chan-general"] = &discordgo.Channel{ID: "chan-general"}

	env.deliver(
		t,
		&discordgo.Message{
			ID: "1", GuildID: testGuildID, ChannelID: "chan-general", Content: "hi",
			Author: &discordgo.User{ID: "20"},
		},
	)
	bot := dmFrom("2", "21", "beep")
	bot.Author.Bot = true
	env.deliver(t, bot)

	assert.Empty(t, env.session.callsTo("ForumThreadStartComplex"))
	assert.Empty(t, env.session.sentMessages())
}

func TestModmail_RequestTicket(t *testing.T) {
	env := newModmailTestEnv(t)
	ctx := context.Background()
	member := testMember("20", "requester")
	env.session.addMember(member)

	cmd := RequestModmailTicketCommand{
		BotSlashCommand: BotSlashCommand{Ctx: NewInteractionContext(env.session, newTestInteraction("modmail", member))},
	}
	require.NoError(t, env.h.requestTicket(ctx, cmd))
	assert.Equal(t, modmailRequestResponse, lastInteractionContent(t, env.testEnv))
	assert.Equal(t, []string{modmailGreetingMessage}, env.session.sentTo("dm-20"))

	env.deliver(t, dmFrom("1", "20", "help"))
	cmd.Ctx = NewInteractionContext(env.session, newTestInteraction("modmail", member))
	require.NoError(t, env.h.requestTicket(ctx, cmd))
	assert.Equal(t, []string{modmailGreetingMessage, modmailExistingTicket}, env.session.sentTo("dm-20"))
}

func TestModmail_CloseTicket(t *testing.T) {
	env := newModmailTestEnv(t)
	ctx := context.Background()
	env.session.addMember(testMember("20", "requester"))
	env.deliver(t, dmFrom("1", "20", "help"))
	ticket, err := env.tickets.GetOpenTicketByRequester(ctx, "20")
	require.NoError(t, err)
	require.NotNil(t, ticket)

	mod := testMember("11", "mod", "role-mod")
	i := newTestInteraction("close-ticket", mod)
	i.ChannelID = ticket.ForumPostID
	require.NoError(
		t,
		env.h.closeTicket(ctx, CloseModmailTicketCommand{BotSlashCommand: BotSlashCommand{Ctx: NewInteractionContext(env.session, i)}}),
	)
	assert.Equal(t, modmailClosedMessage, lastInteractionContent(t, env.testEnv))
	assert.Contains(t, env.session.sentTo("dm-20"), modmailRequesterClosed)

	open, err := env.tickets.GetOpenTicketByRequester(ctx, "20")
	require.NoError(t, err)
	assert.Nil(t, open)

	err = env.h.closeTicket(ctx, CloseModmailTicketCommand{BotSlashCommand: BotSlashCommand{Ctx: NewInteractionContext(env.session, i)}})
	var userErr *UserInputError
	require.ErrorAs(t, err, &userErr)
}

func TestModmail_CloseInactiveTicket(t *testing.T) {
	env := newModmailTestEnv(t)
	ctx := context.Background()

	ticket, err := env.tickets.CreateTicket(ctx, "20", "requester", false)
	require.NoError(t, err)
	env.session.channels["post-1"] = &discordgo.Channel{ID: "post-1", ParentID: "chan-modmail"}
	require.NoError(t, env.tickets.SetForumPost(ctx, ticket, "post-1", "msg-1"))

	gone, err := env.tickets.CreateTicket(ctx, "21", "departed", false)
	require.NoError(t, err)
	require.NoError(t, env.tickets.SetForumPost(ctx, gone, "post-deleted", "msg-2"))

	inactive, err := env.tickets.GetInactiveTickets(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, inactive, 2)
	for _, tk := range inactive {
		require.NoError(t, env.h.closeInactiveTicket(ctx, CloseInactiveModmailTicketCommand{Ticket: tk}))
	}

	assert.Equal(t, []string{modmailInactiveMessage}, env.session.sentTo("post-1"))
	assert.Equal(t, []string{modmailInactiveMessage}, env.session.sentTo("dm-20"))
	assert.Equal(t, []string{modmailInactiveMessage}, env.session.sentTo("dm-21"))
	errs := env.errorsLogged()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Probably deleted. Closing ticket anyway.")

	inactive, err = env.tickets.GetInactiveTickets(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, inactive)
}

func TestModmail_CloseInactiveTicketWithoutPost(t *testing.T) {
	env := newModmailTestEnv(t)
	err := env.h.closeInactiveTicket(
		context.Background(),
		CloseInactiveModmailTicketCommand{Ticket: ModmailTicket{ID: "t-1"}},
	)
	assert.EqualError(t, err, "modmail ticket t-1 does not have a forum post")
}
