package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

const (
	modmailRequestResponse  = "I'll just slip into your DMs"
	modmailGreetingMessage  = "Hi! Send me a message here, and I'll pass it on to the moderators."
	modmailExistingTicket   = "You already have an open ticket. Reply here, and I'll pass it on to the moderators."
	modmailClosedMessage    = "This ticket has been closed."
	modmailRequesterClosed  = "Your ticket has been closed. Send me a message if you need anything else."
	modmailInactiveMessage  = "This ticket has been closed due to inactivity."
	modmailModeratorMessage = "Message from moderator:\n%s"
	modmailRequesterMessage = "%s says\n%s"
)

// modmailHandlers relays conversations between members, over DM, and
// the moderators, in a forum post per ticket.
type modmailHandlers struct {
	config      *BotConfig
	session     DiscordSessionHandler
	resolver    *DiscordResolver
	tickets     *ModmailTicketRepository
	errorLogger errorLogger
	commands    commandWriter
	logger      *slog.Logger
	now         func() time.Time
}

func newModmailHandlers(
	config *BotConfig,
	session DiscordSessionHandler,
	resolver *DiscordResolver,
	tickets *ModmailTicketRepository,
	errorLogger errorLogger,
	commands commandWriter,
	logger *slog.Logger,
) *modmailHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &modmailHandlers{
		config:      config,
		session:     session,
		resolver:    resolver,
		tickets:     tickets,
		errorLogger: errorLogger,
		commands:    commands,
		logger:      logger.With(loggerNameKey, "modmail"),
		now:         time.Now,
	}
}

func (h *modmailHandlers) register(b *MediatorBuilder) {
	HandleNotification(b, "modmail", h.messageCreated)
	HandleCommand(b, h.requestTicket)
	HandleCommand(b, h.relayRequesterMessage)
	HandleCommand(b, h.relayModeratorMessage)
	HandleCommand(b, h.closeTicket)
	HandleCommand(b, h.closeInactiveTicket)
}

// messageCreated routes DMs and messages in ticket posts to the relay
// commands. Relays go through the serial command queue, so a
// requester's first messages can't race to open two tickets.
func (h *modmailHandlers) messageCreated(ctx context.Context, n MessageCreatedNotification) error {
	m := n.Message
	if m == nil || m.Author == nil || m.Author.Bot || h.config.ModmailChannelID == "" {
		return nil
	}

	if m.GuildID == "" {
		ticket, err := h.tickets.GetOpenTicketByRequester(ctx, m.Author.ID)
		if err != nil {
			return err
		}
		return h.commands.Write(ctx, RelayRequesterMessageCommand{Message: m, Ticket: ticket})
	}

	if !h.isTicketPost(ctx, m.ChannelID) {
		return nil
	}
	ticket, err := h.tickets.GetOpenTicketByForumPost(ctx, m.ChannelID)
	if err != nil || ticket == nil {
		return err
	}
	return h.commands.Write(ctx, RelayModeratorMessageCommand{Message: m, Ticket: ticket})
}

func (h *modmailHandlers) isTicketPost(ctx context.Context, channelID string) bool {
	ch, err := h.resolver.ResolveChannel(ctx, channelID)
	if err != nil {
		return false
	}
	return ch.ParentID == h.config.ModmailChannelID
}

func (h *modmailHandlers) sendDM(ctx context.Context, userID string, content string) error {
	dm, err := h.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error opening DM channel: %w", err)
	}
	_, err = h.session.ChannelMessageSend(dm.ID, content, discordgo.WithContext(ctx))
	return err
}

func (h *modmailHandlers) react(ctx context.Context, m *discordgo.Message, emoji string) {
	if err := h.session.MessageReactionAdd(m.ChannelID, m.ID, emoji, discordgo.WithContext(ctx)); err != nil {
		contextLoggerOr(ctx, h.logger).WarnContext(ctx, "unable to add reaction", "message_id", m.ID, tint.Err(err))
	}
}

func (h *modmailHandlers) requestTicket(ctx context.Context, cmd RequestModmailTicketCommand) error {
	sc := cmd.Ctx
	user := sc.User()
	if user == nil {
		return nil
	}
	if err := sc.Respond(ctx, modmailRequestResponse, true); err != nil {
		return err
	}

	ticket, err := h.tickets.GetOpenTicketByRequester(ctx, user.ID)
	if err != nil {
		return err
	}
	greeting := modmailGreetingMessage
	if ticket != nil {
		greeting = modmailExistingTicket
	}
	return h.sendDM(ctx, user.ID, greeting)
}

func (h *modmailHandlers) requesterDisplayName(ctx context.Context, u *discordgo.User) string {
	if m, err := h.resolver.ResolveGuildMember(ctx, u.ID); err == nil {
		if name := memberDisplayName(m); name != "" {
			return name
		}
	}
	return userDisplayName(u)
}

// openTicket creates a ticket and its forum post, holding the
// requester's first message.
func (h *modmailHandlers) openTicket(ctx context.Context, m *discordgo.Message) error {
	name := h.requesterDisplayName(ctx, m.Author)
	ticket, err := h.tickets.CreateTicket(ctx, m.Author.ID, name, false)
	if err != nil {
		return err
	}
	post, err := h.session.ForumThreadStartComplex(
		h.config.ModmailChannelID,
		&discordgo.ThreadStart{Name: truncate(name, MaxThreadTitleLength)},
		&discordgo.MessageSend{
			Content: truncate(fmt.Sprintf(modmailRequesterMessage, name, quote(m.Content)), MaxMessageLength),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error creating modmail post: %w", err)
	}
	if err = h.tickets.SetForumPost(ctx, ticket, post.ID, post.LastMessageID); err != nil {
		return err
	}
	contextLoggerOr(ctx, h.logger).InfoContext(
		ctx, "opened modmail ticket",
		"ticket_id", ticket.ID,
		"forum_post_id", post.ID,
	)
	h.react(ctx, m, successReaction)
	return nil
}

func (h *modmailHandlers) relayRequesterMessage(ctx context.Context, cmd RelayRequesterMessageCommand) error {
	m := cmd.Message
	ticket := cmd.Ticket
	if ticket == nil {
		// the ticket may have been opened since the message was queued
		var err error
		if ticket, err = h.tickets.GetOpenTicketByRequester(ctx, m.Author.ID); err != nil {
			return err
		}
	}
	if ticket == nil || ticket.ForumPostID == "" {
		return h.openTicket(ctx, m)
	}

	_, err := h.session.ChannelMessageSend(
		ticket.ForumPostID,
		truncate(fmt.Sprintf(modmailRequesterMessage, ticket.RequesterDisplayName, quote(m.Content)), MaxMessageLength),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		h.react(ctx, m, failureReaction)
		return fmt.Errorf("error relaying requester message: %w", err)
	}
	h.react(ctx, m, successReaction)
	return h.tickets.RefreshTicketActivity(ctx, ticket)
}

func (h *modmailHandlers) relayModeratorMessage(ctx context.Context, cmd RelayModeratorMessageCommand) error {
	m := cmd.Message
	member := m.Member
	if member == nil || len(member.Roles) == 0 {
		resolved, err := h.resolver.ResolveGuildMember(ctx, m.Author.ID)
		if err != nil && !errors.Is(err, ErrMemberNotFound) {
			return err
		}
		member = resolved
	}
	if !hasRole(member, h.config.ModRoleID) {
		h.react(ctx, m, failureReaction)
		return nil
	}

	err := h.sendDM(
		ctx,
		cmd.Ticket.RequesterID,
		truncate(fmt.Sprintf(modmailModeratorMessage, quote(m.Content)), MaxMessageLength),
	)
	if err != nil {
		h.react(ctx, m, failureReaction)
		return fmt.Errorf("error relaying moderator message: %w", err)
	}
	h.react(ctx, m, successReaction)
	return h.tickets.RefreshTicketActivity(ctx, cmd.Ticket)
}

func (h *modmailHandlers) closeTicket(ctx context.Context, cmd CloseModmailTicketCommand) error {
	sc := cmd.Ctx
	ticket, err := h.tickets.GetOpenTicketByForumPost(ctx, sc.ChannelID())
	if err != nil {
		return err
	}
	if ticket == nil {
		return NewUserInputError("This isn't an open modmail ticket")
	}
	if err = h.tickets.CloseTicket(ctx, ticket); err != nil {
		return err
	}
	if err = h.sendDM(ctx, ticket.RequesterID, modmailRequesterClosed); err != nil {
		contextLoggerOr(ctx, h.logger).WarnContext(ctx, "unable to notify requester", tint.Err(err))
	}
	return sc.Respond(ctx, modmailClosedMessage, false)
}

func (h *modmailHandlers) closeInactiveTicket(ctx context.Context, cmd CloseInactiveModmailTicketCommand) error {
	ticket := cmd.Ticket
	if ticket.ForumPostID == "" {
		return fmt.Errorf("modmail ticket %s does not have a forum post", ticket.ID)
	}
	if err := h.tickets.CloseTicket(ctx, &ticket); err != nil {
		return err
	}

	if err := h.sendDM(ctx, ticket.RequesterID, modmailInactiveMessage); err != nil {
		contextLoggerOr(ctx, h.logger).WarnContext(ctx, "unable to notify requester", tint.Err(err))
	}

	post, err := h.resolver.ResolveChannel(ctx, ticket.ForumPostID)
	if err != nil {
		h.errorLogger.LogWarning(
			fmt.Sprintf("Could not resolve thread channel for ticket id: %s", ticket.ID),
			fmt.Sprintf(
				"Thread channel for ticket id: %s could not be resolved. Probably deleted. Closing ticket anyway.",
				ticket.ID,
			),
		)
		return nil
	}
	_, err = h.session.ChannelMessageSend(post.ID, modmailInactiveMessage, discordgo.WithContext(ctx))
	return err
}
