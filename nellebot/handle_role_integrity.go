package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"time"
)

// newcomers picking the spammer role within this long of joining are
// quarantined
const spammerQuarantineMaxMemberAge = 7 * 24 * time.Hour

type runningJobs interface {
	Running(name string) bool
}

// roleIntegrityHandler keeps the member and ghost roles consistent with
// a member's other roles as they change, and quarantines newcomers who
// pick the spammer role.
type roleIntegrityHandler struct {
	config     *BotConfig
	session    DiscordSessionHandler
	resolver   *DiscordResolver
	quarantine *QuarantineService
	jobs       runningJobs
	logger     *slog.Logger
	now        func() time.Time
}

func newRoleIntegrityHandler(
	config *BotConfig,
	session DiscordSessionHandler,
	resolver *DiscordResolver,
	quarantine *QuarantineService,
	jobs runningJobs,
	logger *slog.Logger,
) *roleIntegrityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &roleIntegrityHandler{
		config:     config,
		session:    session,
		resolver:   resolver,
		quarantine: quarantine,
		jobs:       jobs,
		logger:     logger.With(loggerNameKey, "member_role_integrity"),
		now:        time.Now,
	}
}

func (h *roleIntegrityHandler) register(b *MediatorBuilder) {
	HandleNotification(b, "member_role_integrity", h.memberUpdated)
}

func (h *roleIntegrityHandler) memberUpdated(ctx context.Context, n MemberUpdatedNotification) error {
	member := n.Member
	if member == nil || member.User == nil {
		return nil
	}
	var added []string
	if n.Before != nil {
		var removed []string
		added, removed = roleDiff(n.Before.Roles, member.Roles)
		if len(added)+len(removed) == 0 {
			return nil
		}
	}

	if err := h.quarantineIfSpammer(ctx, member, added); err != nil {
		return err
	}

	if h.jobs != nil && h.jobs.Running(RoleMaintenanceJobKey.Name) {
		h.logger.DebugContext(ctx, "role maintenance is running, skipping role integrity check")
		return nil
	}

	return errors.Join(
		h.maintainMemberRole(ctx, member),
		h.maintainGhostRole(ctx, member),
	)
}

func (h *roleIntegrityHandler) quarantineIfSpammer(
	ctx context.Context,
	member *discordgo.Member,
	added []string,
) error {
	if h.config.SpammerRoleID == "" || hasRole(member, h.config.QuarantineRoleID) {
		return nil
	}
	var chose bool
	for _, r := range added {
		if r == h.config.SpammerRoleID {
			chose = true
			break
		}
	}
	if !chose || memberAge(member, h.now()) >= spammerQuarantineMaxMemberAge {
		return nil
	}

	roleName := h.config.SpammerRoleID
	if role, err := h.resolver.ResolveRole(ctx, h.config.SpammerRoleID); err == nil {
		roleName = role.Name
	}
	reason := fmt.Sprintf("User is a **%s**", roleName)
	return h.quarantine.QuarantineMember(ctx, member, h.resolver.BotMember(ctx), reason)
}

func (h *roleIntegrityHandler) maintainMemberRole(ctx context.Context, member *discordgo.Member) error {
	switch {
	case missingMemberRole(h.config, member):
		err := addRoleWithReason(ctx, h.session, h.config.GuildID, member.User.ID, h.config.MemberRoleID, "")
		if err != nil {
			return fmt.Errorf("error granting member role: %w", err)
		}
		member.Roles = appendRole(member.Roles, h.config.MemberRoleID)
	case unneededMemberRole(h.config, member):
		err := removeRoleWithReason(ctx, h.session, h.config.GuildID, member.User.ID, h.config.MemberRoleID, "")
		if err != nil {
			return fmt.Errorf("error revoking member role: %w", err)
		}
		member.Roles = removeRole(member.Roles, h.config.MemberRoleID)
	}
	return nil
}

func (h *roleIntegrityHandler) maintainGhostRole(ctx context.Context, member *discordgo.Member) error {
	switch {
	case missingGhostRole(h.config, member):
		err := addRoleWithReason(ctx, h.session, h.config.GuildID, member.User.ID, h.config.GhostRoleID, "")
		if err != nil {
			return fmt.Errorf("error granting ghost role: %w", err)
		}
		member.Roles = appendRole(member.Roles, h.config.GhostRoleID)
	case unneededGhostRole(h.config, member):
		err := removeRoleWithReason(ctx, h.session, h.config.GuildID, member.User.ID, h.config.GhostRoleID, "")
		if err != nil {
			return fmt.Errorf("error revoking ghost role: %w", err)
		}
		member.Roles = removeRole(member.Roles, h.config.GhostRoleID)
	}
	return nil
}
