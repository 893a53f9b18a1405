package nellebot

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
)

// DiscordLogItem is a message to be sent to a channel by the
// Discord log worker
type DiscordLogItem struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

// DiscordLogger sends messages to the bot's log channels. Writes to
// the log queue never block: if it's full, the message is dropped
// and an error is logged.
type DiscordLogger struct {
	config  *BotConfig
	queue   *DiscordLogQueue
	logger  *slog.Logger
	metrics *Metrics
}

func NewDiscordLogger(
	config *BotConfig,
	queue *DiscordLogQueue,
	logger *slog.Logger,
	metrics *Metrics,
) *DiscordLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordLogger{
		config:  config,
		queue:   queue,
		logger:  logger.With(loggerNameKey, "discord_logger"),
		metrics: metrics,
	}
}

func (l *DiscordLogger) enqueue(channelID string, msg *discordgo.MessageSend) {
	if channelID == "" {
		l.logger.Debug("log channel not configured, skipping message")
		return
	}
	if !l.queue.TryWrite(DiscordLogItem{ChannelID: channelID, Message: msg}) {
		l.metrics.discordLogDropped()
		l.logger.Error(
			"discord log queue full, message dropped",
			"channel_id", channelID,
			"content", msg.Content,
		)
	}
}

func (l *DiscordLogger) send(channelID string, content string, suppress bool) {
	msg := &discordgo.MessageSend{Content: truncate(content, MaxMessageLength)}
	if suppress {
		msg.Flags = discordgo.MessageFlagsSuppressNotifications
	}
	l.enqueue(channelID, msg)
}

func (l *DiscordLogger) LogGreetingMessage(content string) {
	l.send(l.config.GreetingsChannelID, content, false)
}

func (l *DiscordLogger) LogQuarantineMessage(content string) {
	l.send(l.config.QuarantineChannelID, content, false)
}

func (l *DiscordLogger) LogActivityMessage(content string) {
	l.send(l.config.ActivityLogChannelID, content, true)
}

func (l *DiscordLogger) LogExtendedActivityMessage(content string) {
	l.send(l.config.ExtendedActivityLogChannelID, content, true)
}

// LogExtendedActivityEmbed sends an embed to the extended activity log
func (l *DiscordLogger) LogExtendedActivityEmbed(content string, embed *discordgo.MessageEmbed) {
	l.enqueue(
		l.config.ExtendedActivityLogChannelID,
		&discordgo.MessageSend{
			Content: truncate(content, MaxMessageLength),
			Embeds:  []*discordgo.MessageEmbed{embed},
			Flags:   discordgo.MessageFlagsSuppressNotifications,
		},
	)
}

// LogActivityEmbed sends an embed to the activity log
func (l *DiscordLogger) LogActivityEmbed(content string, embed *discordgo.MessageEmbed) {
	l.enqueue(
		l.config.ActivityLogChannelID,
		&discordgo.MessageSend{
			Content: truncate(content, MaxMessageLength),
			Embeds:  []*discordgo.MessageEmbed{embed},
			Flags:   discordgo.MessageFlagsSuppressNotifications,
		},
	)
}

func (l *DiscordLogger) LogOperationMessage(content string) {
	l.send(l.config.OperationLogChannelID, content, true)
}

func (l *DiscordLogger) LogModAlertsMessage(content string) {
	l.send(l.config.ModAlertsChannelID, content, false)
}

func (l *DiscordLogger) LogTrustedChannelMessage(content string) {
	l.send(l.config.TrustedChannelID, content, false)
}

// DiscordErrorLogger reports errors as embeds in the error log channel
type DiscordErrorLogger struct {
	discordLogger *DiscordLogger
}

func NewDiscordErrorLogger(discordLogger *DiscordLogger) *DiscordErrorLogger {
	return &DiscordErrorLogger{discordLogger: discordLogger}
}

// LogCommandError reports a failed command, with the invocation, user,
// channel and guild it came from.
func (l *DiscordErrorLogger) LogCommandError(cmd CommandContext, message string) {
	var username string
	if u := cmd.User(); u != nil {
		username = fullUsername(u)
	}
	description := fmt.Sprintf(
		"`%s` by `%s` in `%s`(`%s`)\n`%s`",
		escapeBackticks(cmd.CommandText()),
		username,
		cmd.ChannelID(),
		cmd.GuildID(),
		escapeBackticks(message),
	)
	l.logEmbed(simpleEmbed("Failed command", description, ErrorEmbedColor))
}

func (l *DiscordErrorLogger) LogError(title string, message string) {
	l.logEmbed(simpleEmbed(title, message, ErrorEmbedColor))
}

func (l *DiscordErrorLogger) LogWarning(title string, message string) {
	l.logEmbed(simpleEmbed(title, message, WarningEmbedColor))
}

func (l *DiscordErrorLogger) logEmbed(embed *discordgo.MessageEmbed) {
	l.discordLogger.enqueue(
		l.discordLogger.config.ErrorLogChannelID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
	)
}
