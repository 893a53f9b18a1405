package nellebot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"sync"
	"time"
)

const (
	channelCacheTTL = 10 * time.Minute
	auditLogLimit   = 10

	// auditLogMaxAge is how old an audit log entry can be and still be
	// attributed to a gateway event
	auditLogMaxAge = 5 * time.Minute
)

// DiscordResolver looks up guild entities through the session, caching
// channels.
type DiscordResolver struct {
	session DiscordSessionHandler
	guildID string
	cache   *SharedCache
	logger  *slog.Logger

	mu      sync.RWMutex
	botUser *discordgo.User
}

func NewDiscordResolver(
	session DiscordSessionHandler,
	guildID string,
	cache *SharedCache,
	logger *slog.Logger,
) *DiscordResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordResolver{
		session: session,
		guildID: guildID,
		cache:   cache,
		logger:  logger.With(loggerNameKey, "discord_resolver"),
	}
}

func (r *DiscordResolver) GuildID() string {
	return r.guildID
}

// SetBotUser is called once the gateway connection is ready
func (r *DiscordResolver) SetBotUser(u *discordgo.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.botUser = u
}

func (r *DiscordResolver) BotUser() *discordgo.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.botUser
}

// BotMember returns the bot as a member of the guild, resolved on a
// best-effort basis. If the member can't be fetched, the returned
// member only holds the bot's user.
func (r *DiscordResolver) BotMember(ctx context.Context) *discordgo.Member {
	u := r.BotUser()
	if u == nil {
		return nil
	}
	m, err := r.ResolveGuildMember(ctx, u.ID)
	if err != nil {
		r.logger.WarnContext(ctx, "unable to resolve bot member", tint.Err(err))
		return &discordgo.Member{GuildID: r.guildID, User: u}
	}
	return m
}

func (r *DiscordResolver) Roles(ctx context.Context) ([]*discordgo.Role, error) {
	return r.session.GuildRoles(r.guildID, discordgo.WithContext(ctx))
}

// ResolveRole returns the guild role with the given ID, or
// ErrRoleNotFound.
func (r *DiscordResolver) ResolveRole(ctx context.Context, roleID string) (*discordgo.Role, error) {
	if roleID == "" {
		return nil, fmt.Errorf("%w: no role ID configured", ErrRoleNotFound)
	}
	roles, err := r.Roles(ctx)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if role.ID == roleID {
			return role, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
}

// RoleNames maps role IDs to names, for the given IDs that exist
func (r *DiscordResolver) RoleNames(ctx context.Context, roleIDs []string) (map[string]string, error) {
	roles, err := r.Roles(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(roleIDs))
	for _, role := range roles {
		names[role.ID] = role.Name
	}
	rv := make(map[string]string, len(roleIDs))
	for _, id := range roleIDs {
		if n, ok := names[id]; ok {
			rv[id] = n
		}
	}
	return rv, nil
}

func (r *DiscordResolver) Channels(ctx context.Context) ([]*discordgo.Channel, error) {
	return r.session.GuildChannels(r.guildID, discordgo.WithContext(ctx))
}

// ResolveChannel returns the channel with the given ID, from the cache
// when possible.
func (r *DiscordResolver) ResolveChannel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if channelID == "" {
		return nil, fmt.Errorf("%w: no channel ID", ErrChannelNotFound)
	}
	return loadFromCache(
		r.cache,
		cacheKeyDiscordChannel+channelID,
		channelCacheTTL,
		func() (*discordgo.Channel, error) {
			ch, err := r.session.Channel(channelID, discordgo.WithContext(ctx))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrChannelNotFound, channelID, err)
			}
			return ch, nil
		},
	)
}

func (r *DiscordResolver) Emojis(ctx context.Context) ([]*discordgo.Emoji, error) {
	return r.session.GuildEmojis(r.guildID, discordgo.WithContext(ctx))
}

// ResolveGuildMember fetches the current state of a member
func (r *DiscordResolver) ResolveGuildMember(ctx context.Context, userID string) (*discordgo.Member, error) {
	m, err := r.session.GuildMember(r.guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMemberNotFound, userID, err)
	}
	if m.GuildID == "" {
		m.GuildID = r.guildID
	}
	return m, nil
}

// ResolveAuditLogEntry returns the most recent audit log entry of the
// given action type accepted by match, created within maxAge. It
// returns nil when there's no such entry. The user responsible for
// the entry is returned when the audit log includes it.
func (r *DiscordResolver) ResolveAuditLogEntry(
	ctx context.Context,
	actionType discordgo.AuditLogAction,
	match func(entry *discordgo.AuditLogEntry) bool,
	maxAge time.Duration,
) (*discordgo.AuditLogEntry, *discordgo.User, error) {
	auditLog, err := r.session.GuildAuditLog(
		r.guildID,
		"",
		"",
		int(actionType),
		auditLogLimit,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	for _, entry := range auditLog.AuditLogEntries {
		if !match(entry) {
			continue
		}
		created, e := discordgo.SnowflakeTimestamp(entry.ID)
		if e != nil || now.Sub(created) > maxAge {
			continue
		}
		var responsible *discordgo.User
		for _, u := range auditLog.Users {
			if u.ID == entry.UserID {
				responsible = u
				break
			}
		}
		if responsible == nil && entry.UserID != "" {
			responsible = &discordgo.User{ID: entry.UserID, Username: entry.UserID}
		}
		return entry, responsible, nil
	}
	return nil, nil, nil
}

func auditTarget(targetID string) func(*discordgo.AuditLogEntry) bool {
	return func(e *discordgo.AuditLogEntry) bool {
		return e.TargetID == targetID
	}
}

func auditChannel(channelID string) func(*discordgo.AuditLogEntry) bool {
	return func(e *discordgo.AuditLogEntry) bool {
		return e.Options != nil && e.Options.ChannelID == channelID
	}
}
