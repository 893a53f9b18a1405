package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// Discord owns the gateway connection. Gateway events for the
// configured guild are turned into notifications, and messages and
// interactions are handed to the CommandRouter.
type Discord struct {
	session   DiscordSessionHandler
	config    *DiscordConfig
	botConfig *BotConfig
	resolver  *DiscordResolver
	publisher notificationPublisher
	router    *CommandRouter
	state     *gatewayState
	metrics   *Metrics
	logger    *slog.Logger

	connected atomic.Bool

	// ready is closed on the first Ready event
	ready     chan struct{}
	readyOnce sync.Once

	removeHandlerFuncs []func()
}

// newDiscordSession creates the discordgo session used by the bot.
// The discordgo state cache is disabled, gatewayState tracks what
// the bot needs.
func newDiscordSession(
	config *DiscordConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) (*DiscordSession, error) {
	s, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	s.SyncEvents = true
	s.StateEnabled = false
	if httpClient != nil {
		s.Client = httpClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	session := &DiscordSession{
		session: s,
		logger:  logger.With(loggerNameKey, "discord_session_handler"),
	}
	if config.DiscordGoLogLevel != nil {
		if err = session.SetLogLevel(config.DiscordGoLogLevel.Level()); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func newDiscord(
	config *DiscordConfig,
	botConfig *BotConfig,
	session DiscordSessionHandler,
	resolver *DiscordResolver,
	publisher notificationPublisher,
	router *CommandRouter,
	metrics *Metrics,
	logger *slog.Logger,
) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		session:   session,
		config:    config,
		botConfig: botConfig,
		resolver:  resolver,
		publisher: publisher,
		router:    router,
		state:     newGatewayState(0),
		metrics:   metrics,
		logger:    logger.With(loggerNameKey, "discord"),
		ready:     make(chan struct{}),
	}
}

// Connected reports whether the gateway connection is currently up
func (d *Discord) Connected() bool {
	return d.connected.Load()
}

// Ready returns a channel closed once the gateway session is ready
func (d *Discord) Ready() <-chan struct{} {
	return d.ready
}

// Open adds the gateway event handlers and connects. ctx is passed
// to every handler invocation, so it should live as long as the bot.
func (d *Discord) Open(ctx context.Context) error {
	d.session.SetIdentify(discordgo.Identify{Intents: d.config.GatewayIntents})
	d.removeHandlers()
	d.removeHandlerFuncs = []func(){
		d.session.AddHandler(d.handlerConnect(ctx)),
		d.session.AddHandler(d.handlerDisconnect(ctx)),
		d.session.AddHandler(d.handlerReady(ctx)),
		d.session.AddHandler(d.handlerGuildCreate(ctx)),
		d.session.AddHandler(d.handlerGuildMemberAdd(ctx)),
		d.session.AddHandler(d.handlerGuildMemberUpdate(ctx)),
		d.session.AddHandler(d.handlerGuildMemberRemove(ctx)),
		d.session.AddHandler(d.handlerGuildBanAdd(ctx)),
		d.session.AddHandler(d.handlerGuildBanRemove(ctx)),
		d.session.AddHandler(d.handlerMessageCreate(ctx)),
		d.session.AddHandler(d.handlerMessageUpdate(ctx)),
		d.session.AddHandler(d.handlerMessageDelete(ctx)),
		d.session.AddHandler(d.handlerMessageDeleteBulk(ctx)),
		d.session.AddHandler(d.handlerInteractionCreate(ctx)),
	}
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}
	return nil
}

// Close removes the event handlers and closes the gateway connection
func (d *Discord) Close() error {
	d.removeHandlers()
	return d.session.Close()
}

func (d *Discord) removeHandlers() {
	for _, remove := range d.removeHandlerFuncs {
		remove()
	}
	d.removeHandlerFuncs = nil
}

// RegisterCommands overwrites the guild's application commands with
// the router's. The application ID defaults to the bot user's ID.
func (d *Discord) RegisterCommands(ctx context.Context) ([]*discordgo.ApplicationCommand, error) {
	appID := d.config.ApplicationID
	if appID == "" {
		if u := d.resolver.BotUser(); u != nil {
			appID = u.ID
		}
	}
	if appID == "" {
		return nil, errors.New("no application ID configured, and the bot user is unknown")
	}
	commands, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		d.botConfig.GuildID,
		d.router.ApplicationCommands(),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error registering commands: %w", err)
	}
	d.logger.InfoContext(ctx, "registered commands", "count", len(commands))
	return commands, nil
}

func (d *Discord) inGuild(guildID string) bool {
	return guildID == d.botConfig.GuildID
}

func (d *Discord) publish(ctx context.Context, event string, n Notification) {
	d.metrics.gatewayEvent(event)
	if err := d.publisher.Publish(ctx, n); err != nil {
		d.logger.ErrorContext(
			ctx,
			"error publishing notification",
			"event", event,
			tint.Err(err),
		)
	}
}

func (d *Discord) handlerConnect(ctx context.Context) func(
	s *discordgo.Session,
	c *discordgo.Connect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.connected.Store(true)
		d.metrics.gatewayEvent("connect")
		d.logger.InfoContext(ctx, "connected to discord")
		if d.config.StartupMessage == "" || d.botConfig.OperationLogChannelID == "" {
			return
		}
		if _, err := d.session.ChannelMessageSend(
			d.botConfig.OperationLogChannelID,
			d.config.StartupMessage,
			discordgo.WithContext(ctx),
			discordgo.WithRetryOnRatelimit(false),
			discordgo.WithRestRetries(1),
		); err != nil {
			d.logger.ErrorContext(ctx, "error sending startup message", tint.Err(err))
		}
	}
}

func (d *Discord) handlerDisconnect(ctx context.Context) func(
	s *discordgo.Session,
	c *discordgo.Disconnect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metrics.gatewayEvent("disconnect")
		d.logger.WarnContext(ctx, "disconnected from discord")
	}
}

func (d *Discord) handlerReady(ctx context.Context) func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			d.resolver.SetBotUser(r.User)
		}
		d.logger.InfoContext(
			ctx,
			"discord session ready",
			"session_id", r.SessionID,
			"guilds", len(r.Guilds),
		)
		d.readyOnce.Do(func() { close(d.ready) })
		d.publish(ctx, "ready", ClientReadyNotification{User: r.User})
	}
}

func (d *Discord) handlerGuildCreate(ctx context.Context) func(
	s *discordgo.Session,
	g *discordgo.GuildCreate,
) {
	return func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		if g.Guild == nil || !d.inGuild(g.ID) {
			return
		}
		d.metrics.gatewayEvent("guild_create")
		for _, m := range g.Members {
			d.state.storeMember(m)
		}
		d.logger.InfoContext(ctx, "guild available", "guild_id", g.ID, "members", len(g.Members))
	}
}

func (d *Discord) handlerGuildMemberAdd(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.GuildMemberAdd,
) {
	return func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.Member == nil || !d.inGuild(m.GuildID) {
			return
		}
		d.state.storeMember(m.Member)
		d.publish(ctx, "guild_member_add", MemberJoinedNotification{Member: m.Member})
	}
}

func (d *Discord) handlerGuildMemberUpdate(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.GuildMemberUpdate,
) {
	return func(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
		if m.Member == nil || !d.inGuild(m.GuildID) {
			return
		}
		before := d.state.storeMember(m.Member)
		d.publish(ctx, "guild_member_update", MemberUpdatedNotification{Member: m.Member, Before: before})
	}
}

func (d *Discord) handlerGuildMemberRemove(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.GuildMemberRemove,
) {
	return func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
		if m.Member == nil || m.User == nil || !d.inGuild(m.GuildID) {
			return
		}
		member := d.state.removeMember(m.User.ID)
		if member == nil {
			member = m.Member
		}
		d.publish(ctx, "guild_member_remove", MemberRemovedNotification{GuildID: m.GuildID, Member: member})
	}
}

func (d *Discord) handlerGuildBanAdd(ctx context.Context) func(
	s *discordgo.Session,
	b *discordgo.GuildBanAdd,
) {
	return func(_ *discordgo.Session, b *discordgo.GuildBanAdd) {
		if b.User == nil || !d.inGuild(b.GuildID) {
			return
		}
		d.publish(ctx, "guild_ban_add", MemberBannedNotification{GuildID: b.GuildID, User: b.User})
	}
}

func (d *Discord) handlerGuildBanRemove(ctx context.Context) func(
	s *discordgo.Session,
	b *discordgo.GuildBanRemove,
) {
	return func(_ *discordgo.Session, b *discordgo.GuildBanRemove) {
		if b.User == nil || !d.inGuild(b.GuildID) {
			return
		}
		d.publish(ctx, "guild_ban_remove", MemberUnbannedNotification{GuildID: b.GuildID, User: b.User})
	}
}

// handlerMessageCreate handles guild messages and DMs. DMs only reach
// the router, which answers them.
func (d *Discord) handlerMessageCreate(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil {
			return
		}
		if m.GuildID != "" {
			if !d.inGuild(m.GuildID) {
				return
			}
			d.state.storeMessage(m.Message)
			d.publish(ctx, "message_create", MessageCreatedNotification{Message: m.Message})
		} else {
			d.metrics.gatewayEvent("direct_message_create")
		}
		d.router.HandleMessage(ctx, m)
	}
}

func (d *Discord) handlerMessageUpdate(_ context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageUpdate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		if m.Message == nil || !d.inGuild(m.GuildID) {
			return
		}
		d.metrics.gatewayEvent("message_update")
		d.state.updateMessage(m.Message)
	}
}

func (d *Discord) handlerMessageDelete(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageDelete,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		if m.Message == nil || !d.inGuild(m.GuildID) {
			return
		}
		n := MessageDeletedNotification{
			MessageID: m.ID,
			ChannelID: m.ChannelID,
			GuildID:   m.GuildID,
		}
		if before := d.state.removeMessages(m.ID); len(before) == 1 {
			n.Before = before[0]
		}
		d.publish(ctx, "message_delete", n)
	}
}

func (d *Discord) handlerMessageDeleteBulk(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageDeleteBulk,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageDeleteBulk) {
		if !d.inGuild(m.GuildID) {
			return
		}
		d.publish(
			ctx,
			"message_delete_bulk",
			MessagesBulkDeletedNotification{
				ChannelID:  m.ChannelID,
				GuildID:    m.GuildID,
				MessageIDs: m.Messages,
				Before:     d.state.removeMessages(m.Messages...),
			},
		)
	}
}

func (d *Discord) handlerInteractionCreate(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Interaction == nil {
			return
		}
		if i.GuildID != "" && !d.inGuild(i.GuildID) {
			return
		}
		d.metrics.gatewayEvent("interaction_create")
		d.router.HandleInteraction(ctx, i)
	}
}
