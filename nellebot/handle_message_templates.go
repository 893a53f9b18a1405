package nellebot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"slices"
	"strings"
)

const previewReason = "Being too awesome"

// messageTemplateHandlers manages the greeting, quarantine and goodbye
// templates, and the bot's messages in meta channels.
type messageTemplateHandlers struct {
	config        *BotConfig
	session       DiscordSessionHandler
	resolver      *DiscordResolver
	settings      *BotSettingsService
	discordLogger *DiscordLogger
	logger        *slog.Logger
}

func newMessageTemplateHandlers(
	config *BotConfig,
	session DiscordSessionHandler,
	resolver *DiscordResolver,
	settings *BotSettingsService,
	discordLogger *DiscordLogger,
	logger *slog.Logger,
) *messageTemplateHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &messageTemplateHandlers{
		config:        config,
		session:       session,
		resolver:      resolver,
		settings:      settings,
		discordLogger: discordLogger,
		logger:        logger.With(loggerNameKey, "message_templates"),
	}
}

func (h *messageTemplateHandlers) register(b *MediatorBuilder) {
	HandleCommand(b, h.setGreetingMessage)
	HandleCommand(b, h.setQuarantineMessage)
	HandleCommand(b, h.addGoodbyeMessage)
	HandleCommand(b, h.addMetaMessage)
	HandleCommand(b, h.editMetaMessage)
}

func invokerMention(cmdCtx CommandContext) string {
	if u := cmdCtx.User(); u != nil {
		return u.Mention()
	}
	return templateUserVariable
}

func (h *messageTemplateHandlers) setGreetingMessage(ctx context.Context, cmd SetGreetingMessageCommand) error {
	message := strings.TrimSpace(cmd.Message)
	if message == "" {
		return NewUserInputError("Message was empty!")
	}
	if err := h.settings.SetGreetingMessage(ctx, message); err != nil {
		return fmt.Errorf("error saving greeting message: %w", err)
	}
	preview := strings.ReplaceAll(message, templateUserVariable, invokerMention(cmd.Ctx))
	return cmd.Ctx.Respond(
		ctx,
		"Greeting message updated successfully. Here's a preview:\n\n"+preview,
		false,
	)
}

func (h *messageTemplateHandlers) setQuarantineMessage(ctx context.Context, cmd SetQuarantineMessageCommand) error {
	message := strings.TrimSpace(cmd.Message)
	if message == "" {
		return NewUserInputError("Message was empty!")
	}
	if err := h.settings.SetQuarantineMessage(ctx, message); err != nil {
		return fmt.Errorf("error saving quarantine message: %w", err)
	}
	preview := strings.ReplaceAll(message, templateUserVariable, invokerMention(cmd.Ctx))
	preview = strings.ReplaceAll(preview, templateReasonVariable, previewReason)
	return cmd.Ctx.Respond(
		ctx,
		"Quarantine message updated successfully. Here's a preview:\n\n"+preview,
		false,
	)
}

func (h *messageTemplateHandlers) addGoodbyeMessage(ctx context.Context, cmd AddGoodbyeMessageCommand) error {
	var authorID string
	if u := cmd.Ctx.User(); u != nil {
		authorID = u.ID
	}
	if err := h.settings.AddGoodbyeMessage(ctx, cmd.Message, authorID); err != nil {
		return err
	}
	name := "someone"
	if m := cmd.Ctx.Member(); m != nil {
		name = memberDisplayName(m)
	}
	preview := strings.ReplaceAll(strings.TrimSpace(cmd.Message), templateUserVariable, "**"+name+"**")
	return cmd.Ctx.Respond(
		ctx,
		"Goodbye message created successfully. Here's a preview:\n\n"+preview,
		false,
	)
}

func (h *messageTemplateHandlers) isMetaChannel(channelID string) bool {
	return slices.Contains(h.config.MetaChannelIDs, channelID)
}

// encode replaces role, channel and emoji names in message with mentions
func (h *messageTemplateHandlers) encode(ctx context.Context, message string) (string, error) {
	roles, err := h.resolver.Roles(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting roles: %w", err)
	}
	channels, err := h.resolver.Channels(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting channels: %w", err)
	}
	emojis, err := h.resolver.Emojis(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting emojis: %w", err)
	}
	return EncodeMentions(
		GuildEntities{Roles: roles, Channels: channels, Emojis: emojis},
		message,
	), nil
}

func (h *messageTemplateHandlers) addMetaMessage(ctx context.Context, cmd AddMetaMessageCommand) error {
	sc := cmd.Ctx
	if err := sc.Defer(ctx, true); err != nil {
		return err
	}
	if !h.isMetaChannel(cmd.ChannelID) {
		return NewInteractionError(sc, NewUserInputError("This channel is not a meta channel!"))
	}
	message := strings.TrimSpace(cmd.Message)
	if message == "" {
		return NewInteractionError(sc, NewUserInputError("Message was empty!"))
	}
	encoded, err := h.encode(ctx, message)
	if err != nil {
		return NewInteractionError(sc, err)
	}

	sent, err := h.session.ChannelMessageSendComplex(
		cmd.ChannelID,
		&discordgo.MessageSend{
			Content: encoded,
			Flags:   discordgo.MessageFlagsSuppressNotifications,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return NewInteractionError(sc, fmt.Errorf("failed to add message: %w", err))
	}

	link := messageLink(h.config.GuildID, cmd.ChannelID, sent.ID)
	h.discordLogger.LogActivityEmbed(
		fmt.Sprintf("Meta message added in <#%s> by %s", cmd.ChannelID, invokerMention(sc)),
		simpleEmbed("", encoded+"\n\n"+link, DefaultEmbedColor),
	)
	return sc.Respond(ctx, fmt.Sprintf("Message added successfully! [Jump to message](%s)", link), true)
}

func (h *messageTemplateHandlers) editMetaMessage(ctx context.Context, cmd EditMetaMessageCommand) error {
	sc := cmd.Ctx
	if err := sc.Defer(ctx, true); err != nil {
		return err
	}
	if !h.isMetaChannel(cmd.ChannelID) {
		return NewInteractionError(sc, NewUserInputError("The message is not in a meta channel!"))
	}
	message := strings.TrimSpace(cmd.Message)
	if message == "" {
		return NewInteractionError(sc, NewUserInputError("Message was empty!"))
	}

	existing, err := h.session.ChannelMessage(cmd.ChannelID, cmd.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "unable to get meta message", "message_id", cmd.MessageID, tint.Err(err))
		return NewInteractionError(sc, NewUserInputError("Could not find that message"))
	}
	if bot := h.resolver.BotUser(); existing.Author == nil || bot == nil || existing.Author.ID != bot.ID {
		return NewInteractionError(sc, NewUserInputError("The message is not from the bot!"))
	}

	encoded, err := h.encode(ctx, message)
	if err != nil {
		return NewInteractionError(sc, err)
	}
	if _, err = h.session.ChannelMessageEdit(
		cmd.ChannelID,
		cmd.MessageID,
		encoded,
		discordgo.WithContext(ctx),
	); err != nil {
		return NewInteractionError(sc, fmt.Errorf("failed to edit message: %w", err))
	}

	link := messageLink(h.config.GuildID, cmd.ChannelID, cmd.MessageID)
	h.discordLogger.LogExtendedActivityEmbed(
		fmt.Sprintf("Meta message edited in <#%s> by %s", cmd.ChannelID, invokerMention(sc)),
		simpleEmbed("", encoded+"\n\n"+link, DefaultEmbedColor),
	)
	return sc.Respond(ctx, fmt.Sprintf("Message edited successfully! [Jump to message](%s)", link), true)
}
