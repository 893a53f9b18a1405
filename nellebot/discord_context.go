package nellebot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"strings"
	"sync/atomic"
)

// CommandContext is the user-facing origin of a command: either a slash
// command interaction, or a prefixed text message.
type CommandContext interface {
	User() *discordgo.User
	Member() *discordgo.Member
	GuildID() string
	ChannelID() string
	CommandName() string

	// CommandText is a description of the invocation suitable for
	// error reports: the message content for text commands,
	// or the command name for slash commands.
	CommandText() string

	Respond(ctx context.Context, content string, ephemeral bool) error
	RespondEmbeds(ctx context.Context, embeds []*discordgo.MessageEmbed, ephemeral bool) error
}

// SlashContext is a CommandContext backed by an application command
// interaction.
type SlashContext interface {
	CommandContext

	// Acknowledged reports whether the interaction has been responded
	// to, or deferred.
	Acknowledged() bool
	Defer(ctx context.Context, ephemeral bool) error
	Followup(ctx context.Context, content string, ephemeral bool) error
	Interaction() *discordgo.InteractionCreate
}

const (
	ackNone int32 = iota
	ackDeferred
	ackResponded
)

// InteractionContext implements SlashContext
type InteractionContext struct {
	session DiscordSessionHandler
	i       *discordgo.InteractionCreate
	state   atomic.Int32
}

func NewInteractionContext(
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
) *InteractionContext {
	return &InteractionContext{session: session, i: i}
}

func (c *InteractionContext) Interaction() *discordgo.InteractionCreate {
	return c.i
}

func (c *InteractionContext) User() *discordgo.User {
	if c.i.Member != nil && c.i.Member.User != nil {
		return c.i.Member.User
	}
	return c.i.User
}

func (c *InteractionContext) Member() *discordgo.Member {
	return c.i.Member
}

func (c *InteractionContext) GuildID() string {
	return c.i.GuildID
}

func (c *InteractionContext) ChannelID() string {
	return c.i.ChannelID
}

func (c *InteractionContext) CommandName() string {
	if c.i.Type != discordgo.InteractionApplicationCommand &&
		c.i.Type != discordgo.InteractionApplicationCommandAutocomplete {
		return ""
	}
	return c.i.ApplicationCommandData().Name
}

func (c *InteractionContext) CommandText() string {
	return c.CommandName()
}

func (c *InteractionContext) Acknowledged() bool {
	return c.state.Load() != ackNone
}

func messageFlags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

func (c *InteractionContext) Defer(_ context.Context, ephemeral bool) error {
	if !c.state.CompareAndSwap(ackNone, ackDeferred) {
		return nil
	}
	err := c.session.InteractionRespond(
		c.i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: messageFlags(ephemeral)},
		},
	)
	if err != nil {
		c.state.Store(ackNone)
	}
	return err
}

// Respond sends the initial response. If the interaction was deferred,
// the deferred response is edited instead, and if a response was already
// sent, a follow-up message is created.
func (c *InteractionContext) Respond(
	ctx context.Context,
	content string,
	ephemeral bool,
) error {
	return c.respond(ctx, content, nil, ephemeral)
}

func (c *InteractionContext) RespondEmbeds(
	ctx context.Context,
	embeds []*discordgo.MessageEmbed,
	ephemeral bool,
) error {
	return c.respond(ctx, "", embeds, ephemeral)
}

func (c *InteractionContext) respond(
	ctx context.Context,
	content string,
	embeds []*discordgo.MessageEmbed,
	ephemeral bool,
) error {
	switch c.state.Load() {
	case ackDeferred:
		edit := &discordgo.WebhookEdit{}
		if content != "" {
			edit.Content = &content
		}
		if len(embeds) > 0 {
			edit.Embeds = &embeds
		}
		_, err := c.session.InteractionResponseEdit(
			c.i.Interaction, edit, discordgo.WithContext(ctx),
		)
		if err == nil {
			c.state.Store(ackResponded)
		}
		return err
	case ackResponded:
		return c.followup(ctx, content, embeds, ephemeral)
	default:
		err := c.session.InteractionRespond(
			c.i.Interaction,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: content,
					Embeds:  embeds,
					Flags:   messageFlags(ephemeral),
				},
			},
			discordgo.WithContext(ctx),
		)
		if err == nil {
			c.state.Store(ackResponded)
		}
		return err
	}
}

// RespondWithComponents responds publicly with embeds and message
// components, such as buttons.
func (c *InteractionContext) RespondWithComponents(
	ctx context.Context,
	embeds []*discordgo.MessageEmbed,
	components []discordgo.MessageComponent,
) error {
	if c.state.Load() == ackDeferred {
		_, err := c.session.InteractionResponseEdit(
			c.i.Interaction,
			&discordgo.WebhookEdit{Embeds: &embeds, Components: &components},
			discordgo.WithContext(ctx),
		)
		if err == nil {
			c.state.Store(ackResponded)
		}
		return err
	}
	err := c.session.InteractionRespond(
		c.i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Embeds: embeds, Components: components},
		},
		discordgo.WithContext(ctx),
	)
	if err == nil {
		c.state.Store(ackResponded)
	}
	return err
}

func (c *InteractionContext) Followup(
	ctx context.Context,
	content string,
	ephemeral bool,
) error {
	return c.followup(ctx, content, nil, ephemeral)
}

func (c *InteractionContext) followup(
	ctx context.Context,
	content string,
	embeds []*discordgo.MessageEmbed,
	ephemeral bool,
) error {
	_, err := c.session.FollowupMessageCreate(
		c.i.Interaction,
		true,
		&discordgo.WebhookParams{
			Content: content,
			Embeds:  embeds,
			Flags:   messageFlags(ephemeral),
		},
		discordgo.WithContext(ctx),
	)
	return err
}

// MessageContext implements CommandContext for prefixed text commands
type MessageContext struct {
	session DiscordSessionHandler
	m       *discordgo.MessageCreate
	name    string
	args    []string
}

// NewMessageContext parses a text command from a message. Returns nil
// if the message doesn't start with the command prefix.
func NewMessageContext(
	session DiscordSessionHandler,
	m *discordgo.MessageCreate,
	prefix string,
) *MessageContext {
	if prefix == "" || !strings.HasPrefix(m.Content, prefix) {
		return nil
	}
	fields := strings.Fields(strings.TrimPrefix(m.Content, prefix))
	if len(fields) == 0 {
		return nil
	}
	return &MessageContext{
		session: session,
		m:       m,
		name:    strings.ToLower(fields[0]),
		args:    fields[1:],
	}
}

func (c *MessageContext) Message() *discordgo.Message {
	return c.m.Message
}

// Args returns the whitespace-separated arguments following the command name
func (c *MessageContext) Args() []string {
	return c.args
}

// RawArgs returns everything following the command name
func (c *MessageContext) RawArgs() string {
	content := strings.TrimSpace(c.m.Content)
	idx := strings.Index(strings.ToLower(content), c.name)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(content[idx+len(c.name):])
}

func (c *MessageContext) User() *discordgo.User {
	return c.m.Author
}

func (c *MessageContext) Member() *discordgo.Member {
	if c.m.Member != nil && c.m.Member.User == nil {
		c.m.Member.User = c.m.Author
	}
	return c.m.Member
}

func (c *MessageContext) GuildID() string {
	return c.m.GuildID
}

func (c *MessageContext) ChannelID() string {
	return c.m.ChannelID
}

func (c *MessageContext) CommandName() string {
	return c.name
}

func (c *MessageContext) CommandText() string {
	return c.m.Content
}

// Respond replies to the command message. Text commands can't
// respond ephemerally, so the flag is ignored.
func (c *MessageContext) Respond(
	ctx context.Context,
	content string,
	_ bool,
) error {
	_, err := c.session.ChannelMessageSendComplex(
		c.m.ChannelID,
		&discordgo.MessageSend{
			Content:   content,
			Reference: c.m.Reference(),
		},
		discordgo.WithContext(ctx),
	)
	return err
}

func (c *MessageContext) RespondEmbeds(
	ctx context.Context,
	embeds []*discordgo.MessageEmbed,
	_ bool,
) error {
	_, err := c.session.ChannelMessageSendComplex(
		c.m.ChannelID,
		&discordgo.MessageSend{
			Embeds:    embeds,
			Reference: c.m.Reference(),
		},
		discordgo.WithContext(ctx),
	)
	return err
}
