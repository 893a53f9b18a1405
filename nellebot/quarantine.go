package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
)

type quarantineErrorLogger interface {
	LogError(title string, message string)
}

// QuarantineService grants and revokes the quarantine role, and
// publishes the matching notification.
type QuarantineService struct {
	config      *BotConfig
	session     DiscordSessionHandler
	resolver    *DiscordResolver
	publisher   notificationPublisher
	errorLogger quarantineErrorLogger
	logger      *slog.Logger
}

func NewQuarantineService(
	config *BotConfig,
	session DiscordSessionHandler,
	resolver *DiscordResolver,
	publisher notificationPublisher,
	errorLogger quarantineErrorLogger,
	logger *slog.Logger,
) *QuarantineService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuarantineService{
		config:      config,
		session:     session,
		resolver:    resolver,
		publisher:   publisher,
		errorLogger: errorLogger,
		logger:      logger.With(loggerNameKey, "quarantine_service"),
	}
}

func (s *QuarantineService) quarantineRole(ctx context.Context, action string, member *discordgo.Member) (*discordgo.Role, error) {
	role, err := s.resolver.ResolveRole(ctx, s.config.QuarantineRoleID)
	if errors.Is(err, ErrRoleNotFound) {
		s.errorLogger.LogError(
			"Quarantine role",
			fmt.Sprintf(
				"Attempted to %s member %s, but was unable to resolve quarantine role",
				action,
				detailedMemberIdentifier(member),
			),
		)
		return nil, nil
	}
	return role, err
}

// QuarantineMember grants the quarantine role. If the role can't be
// resolved, the error is reported and nothing else happens.
func (s *QuarantineService) QuarantineMember(
	ctx context.Context,
	member *discordgo.Member,
	responsible *discordgo.Member,
	reason string,
) error {
	role, err := s.quarantineRole(ctx, "quarantine", member)
	if err != nil || role == nil {
		return err
	}
	err = addRoleWithReason(ctx, s.session, s.config.GuildID, member.User.ID, role.ID, reason)
	if err != nil {
		return fmt.Errorf("error granting quarantine role: %w", err)
	}
	s.logger.InfoContext(
		ctx,
		"member quarantined",
		"user_id", member.User.ID,
		"reason", reason,
	)
	member.Roles = appendRole(member.Roles, role.ID)
	return s.publisher.Publish(
		ctx,
		MemberQuarantinedNotification{Member: member, Responsible: responsible, Reason: reason},
	)
}

// ApproveMember revokes the quarantine role. If the role can't be
// resolved, the error is reported and nothing else happens.
func (s *QuarantineService) ApproveMember(
	ctx context.Context,
	member *discordgo.Member,
	responsible *discordgo.Member,
) error {
	role, err := s.quarantineRole(ctx, "approve", member)
	if err != nil || role == nil {
		return err
	}
	reason := "Approved"
	if responsible != nil && responsible.User != nil {
		reason = "Approved by " + responsible.User.Username
	}
	err = removeRoleWithReason(ctx, s.session, s.config.GuildID, member.User.ID, role.ID, reason)
	if err != nil {
		return fmt.Errorf("error revoking quarantine role: %w", err)
	}
	s.logger.InfoContext(ctx, "member approved", "user_id", member.User.ID)
	member.Roles = removeRole(member.Roles, role.ID)
	return s.publisher.Publish(
		ctx,
		MemberApprovedNotification{Member: member, Responsible: responsible},
	)
}

func addRoleWithReason(
	ctx context.Context,
	session DiscordSessionHandler,
	guildID string,
	userID string,
	roleID string,
	reason string,
) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(truncate(reason, MaxAuditReasonLength)))
	}
	return session.GuildMemberRoleAdd(guildID, userID, roleID, opts...)
}

func removeRoleWithReason(
	ctx context.Context,
	session DiscordSessionHandler,
	guildID string,
	userID string,
	roleID string,
	reason string,
) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(truncate(reason, MaxAuditReasonLength)))
	}
	return session.GuildMemberRoleRemove(guildID, userID, roleID, opts...)
}

func appendRole(roles []string, roleID string) []string {
	for _, r := range roles {
		if r == roleID {
			return roles
		}
	}
	return append(roles, roleID)
}

func removeRole(roles []string, roleID string) []string {
	rv := make([]string, 0, len(roles))
	for _, r := range roles {
		if r != roleID {
			rv = append(rv, r)
		}
	}
	return rv
}
