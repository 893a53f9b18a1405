package nellebot

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"net/http"
)

// DiscordSessionHandler is the subset of *discordgo.Session used by the
// bot, so the session can be swapped out in tests.
type DiscordSessionHandler interface {
	Open() error

	Close() error

	AddHandler(handler any) func()

	SetHTTPClient(client *http.Client)

	SetIdentify(discordgo.Identify)

	SetLogLevel(lvl slog.Level) error

	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageEdit(
		channelID string,
		messageID string,
		content string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessage(
		channelID string,
		messageID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessages returns up to limit messages (max 100) from a channel
	ChannelMessages(
		channelID string,
		limit int,
		beforeID string,
		afterID string,
		aroundID string,
		opts ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)

	Channel(
		channelID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	ChannelEdit(
		channelID string,
		data *discordgo.ChannelEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	GuildChannels(
		guildID string,
		opts ...discordgo.RequestOption,
	) ([]*discordgo.Channel, error)

	// UserChannelCreate returns the DM channel with the given user
	UserChannelCreate(
		recipientID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	GuildRoles(
		guildID string,
		opts ...discordgo.RequestOption,
	) ([]*discordgo.Role, error)

	GuildEmojis(
		guildID string,
		opts ...discordgo.RequestOption,
	) ([]*discordgo.Emoji, error)

	GuildMember(
		guildID string,
		userID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Member, error)

	// GuildMembers returns up to limit (max 1000) members with an ID
	// greater than after
	GuildMembers(
		guildID string,
		after string,
		limit int,
		opts ...discordgo.RequestOption,
	) ([]*discordgo.Member, error)

	GuildMemberRoleAdd(
		guildID string,
		userID string,
		roleID string,
		opts ...discordgo.RequestOption,
	) error

	GuildMemberRoleRemove(
		guildID string,
		userID string,
		roleID string,
		opts ...discordgo.RequestOption,
	) error

	GuildMemberDeleteWithReason(
		guildID string,
		userID string,
		reason string,
		opts ...discordgo.RequestOption,
	) error

	GuildBanCreateWithReason(
		guildID string,
		userID string,
		reason string,
		days int,
		opts ...discordgo.RequestOption,
	) error

	GuildAuditLog(
		guildID string,
		userID string,
		beforeID string,
		actionType int,
		limit int,
		opts ...discordgo.RequestOption,
	) (*discordgo.GuildAuditLog, error)

	MessageReactionAdd(
		channelID string,
		messageID string,
		emojiID string,
		opts ...discordgo.RequestOption,
	) error

	ForumThreadStartComplex(
		channelID string,
		threadData *discordgo.ThreadStart,
		messageData *discordgo.MessageSend,
		opts ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		opts ...discordgo.RequestOption,
	) error

	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		opts ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)
}

// DiscordSession implements DiscordSessionHandler by wrapping
// a *discordgo.Session, logging failed calls.
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) logCall(action string, err error, attrs ...any) {
	if err != nil {
		d.logger.Error(action+" failed", append(attrs, tint.Err(err))...)
		return
	}
	d.logger.Debug(action, attrs...)
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSend(channelID, message, opts...)
	d.logCall("send message", err, "channel_id", channelID)
	return msg, err
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, data, opts...)
	d.logCall("send complex message", err, "channel_id", channelID)
	return msg, err
}

func (d DiscordSession) ChannelMessageEdit(
	channelID string,
	messageID string,
	content string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageEdit(channelID, messageID, content, opts...)
	d.logCall("edit message", err, "channel_id", channelID, "message_id", messageID)
	return msg, err
}

func (d DiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessage(channelID, messageID, opts...)
	d.logCall("get message", err, "channel_id", channelID, "message_id", messageID)
	return msg, err
}

func (d DiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID string,
	afterID string,
	aroundID string,
	opts ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	msgs, err := d.session.ChannelMessages(
		channelID, limit, beforeID, afterID, aroundID, opts...,
	)
	d.logCall("get messages", err, "channel_id", channelID, "before_id", beforeID)
	return msgs, err
}

func (d DiscordSession) Channel(
	channelID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.Channel(channelID, opts...)
	d.logCall("get channel", err, "channel_id", channelID)
	return ch, err
}

func (d DiscordSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.ChannelEdit(channelID, data, opts...)
	d.logCall("edit channel", err, "channel_id", channelID)
	return ch, err
}

func (d DiscordSession) GuildChannels(
	guildID string,
	opts ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	channels, err := d.session.GuildChannels(guildID, opts...)
	d.logCall("get guild channels", err, "guild_id", guildID)
	return channels, err
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.UserChannelCreate(recipientID, opts...)
	d.logCall("create dm channel", err, "user_id", recipientID)
	return ch, err
}

func (d DiscordSession) GuildRoles(
	guildID string,
	opts ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	roles, err := d.session.GuildRoles(guildID, opts...)
	d.logCall("get guild roles", err, "guild_id", guildID)
	return roles, err
}

func (d DiscordSession) GuildEmojis(
	guildID string,
	opts ...discordgo.RequestOption,
) ([]*discordgo.Emoji, error) {
	emojis, err := d.session.GuildEmojis(guildID, opts...)
	d.logCall("get guild emojis", err, "guild_id", guildID)
	return emojis, err
}

func (d DiscordSession) GuildMember(
	guildID string,
	userID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	member, err := d.session.GuildMember(guildID, userID, opts...)
	if err != nil {
		// unknown members are an expected outcome, resolvers handle them
		d.logger.Debug("get guild member failed", "user_id", userID, tint.Err(err))
	}
	return member, err
}

func (d DiscordSession) GuildMembers(
	guildID string,
	after string,
	limit int,
	opts ...discordgo.RequestOption,
) ([]*discordgo.Member, error) {
	members, err := d.session.GuildMembers(guildID, after, limit, opts...)
	d.logCall("get guild members", err, "guild_id", guildID, "after", after)
	return members, err
}

func (d DiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.GuildMemberRoleAdd(guildID, userID, roleID, opts...)
	d.logCall("add member role", err, "user_id", userID, "role_id", roleID)
	return err
}

func (d DiscordSession) GuildMemberRoleRemove(
	guildID string,
	userID string,
	roleID string,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.GuildMemberRoleRemove(guildID, userID, roleID, opts...)
	d.logCall("remove member role", err, "user_id", userID, "role_id", roleID)
	return err
}

func (d DiscordSession) GuildMemberDeleteWithReason(
	guildID string,
	userID string,
	reason string,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.GuildMemberDeleteWithReason(guildID, userID, reason, opts...)
	d.logCall("kick member", err, "user_id", userID, "reason", reason)
	return err
}

func (d DiscordSession) GuildBanCreateWithReason(
	guildID string,
	userID string,
	reason string,
	days int,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.GuildBanCreateWithReason(guildID, userID, reason, days, opts...)
	d.logCall("ban member", err, "user_id", userID, "reason", reason, "days", days)
	return err
}

func (d DiscordSession) GuildAuditLog(
	guildID string,
	userID string,
	beforeID string,
	actionType int,
	limit int,
	opts ...discordgo.RequestOption,
) (*discordgo.GuildAuditLog, error) {
	auditLog, err := d.session.GuildAuditLog(
		guildID, userID, beforeID, actionType, limit, opts...,
	)
	d.logCall("get audit log", err, "guild_id", guildID, "action_type", actionType)
	return auditLog, err
}

func (d DiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.MessageReactionAdd(channelID, messageID, emojiID, opts...)
	d.logCall("add reaction", err, "channel_id", channelID, "message_id", messageID)
	return err
}

func (d DiscordSession) ForumThreadStartComplex(
	channelID string,
	threadData *discordgo.ThreadStart,
	messageData *discordgo.MessageSend,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	th, err := d.session.ForumThreadStartComplex(channelID, threadData, messageData, opts...)
	d.logCall("start forum thread", err, "channel_id", channelID)
	return th, err
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.InteractionRespond(interaction, resp, opts...)
	d.logCall("interaction respond", err, "interaction_id", interaction.ID)
	return err
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.InteractionResponseEdit(interaction, newresp, opts...)
	d.logCall("interaction response edit", err, "interaction_id", interaction.ID)
	return msg, err
}

func (d DiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.FollowupMessageCreate(interaction, wait, data, opts...)
	d.logCall("followup message", err, "interaction_id", interaction.ID)
	return msg, err
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	opts ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		opts...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name, "id", c.ID)
	}
	return created, nil
}
