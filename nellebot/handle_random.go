package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"slices"
	"strings"
)

type randomHandlers struct {
	config   *BotConfig
	resolver *DiscordResolver
	logger   *slog.Logger
}

func newRandomHandlers(config *BotConfig, resolver *DiscordResolver, logger *slog.Logger) *randomHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &randomHandlers{
		config:   config,
		resolver: resolver,
		logger:   logger.With(loggerNameKey, "random"),
	}
}

func (h *randomHandlers) register(b *MediatorBuilder) {
	HandleCommand(b, h.oi)
	HandleCommand(b, h.slap)
	HandleCommand(b, h.banJoke)
	HandleCommand(b, h.listAwardChannels)
}

func (h *randomHandlers) oi(ctx context.Context, cmd OiCommand) error {
	return cmd.Ctx.Respond(ctx, "Oi!", false)
}

func (h *randomHandlers) slap(ctx context.Context, cmd SlapCommand) error {
	slapper := memberDisplayName(cmd.Ctx.Member())
	if slapper == "" {
		slapper = userDisplayName(cmd.Ctx.User())
	}
	target, err := h.resolver.ResolveGuildMember(ctx, cmd.TargetUserID)
	if errors.Is(err, ErrMemberNotFound) {
		return NewUserInputError("Could not find that member")
	}
	if err != nil {
		return err
	}
	return cmd.Ctx.Respond(
		ctx,
		fmt.Sprintf("_**%s** slaps **%s** around a bit with a large trout_", slapper, memberDisplayName(target)),
		false,
	)
}

func (h *randomHandlers) banJoke(ctx context.Context, cmd BanJokeCommand) error {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return nil
	}
	return cmd.Ctx.Respond(ctx, fmt.Sprintf("Why ban **%s** when I can ban you instead?", text), false)
}

// listAwardChannels lists the text channels in each award vote category
func (h *randomHandlers) listAwardChannels(ctx context.Context, cmd ListAwardChannelsCommand) error {
	channels, err := h.resolver.Channels(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, category := range channels {
		if category.Type != discordgo.ChannelTypeGuildCategory ||
			!slices.Contains(h.config.AwardVoteGroupIDs, category.ID) {
			continue
		}
		fmt.Fprintf(&b, "**%s**\n", category.Name)
		for _, ch := range channels {
			if ch.Type == discordgo.ChannelTypeGuildText && ch.ParentID == category.ID {
				fmt.Fprintf(&b, "#%s\n", ch.Name)
			}
		}
		b.WriteString("\n")
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		content = "No award channels found"
	}
	return cmd.Ctx.Respond(ctx, content, false)
}
