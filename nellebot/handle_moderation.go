package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"time"
)

const (
	valhallBanDeleteMessageDays = 7
	selfTargetResponse          = "Hmm"
)

// moderationHandlers handles the quarantine, approve and valhall
// commands. Access is checked before the commands are queued.
type moderationHandlers struct {
	config     *BotConfig
	session    DiscordSessionHandler
	resolver   *DiscordResolver
	quarantine *QuarantineService
	logger     *slog.Logger
	now        func() time.Time
}

func newModerationHandlers(
	config *BotConfig,
	session DiscordSessionHandler,
	resolver *DiscordResolver,
	quarantine *QuarantineService,
	logger *slog.Logger,
) *moderationHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &moderationHandlers{
		config:     config,
		session:    session,
		resolver:   resolver,
		quarantine: quarantine,
		logger:     logger.With(loggerNameKey, "moderation"),
		now:        time.Now,
	}
}

func (h *moderationHandlers) register(b *MediatorBuilder) {
	HandleCommand(b, h.quarantineUser)
	HandleCommand(b, h.approveUser)
	HandleCommand(b, h.valhallKick)
	HandleCommand(b, h.valhallBan)
}

// resolveTarget returns the current state of the targeted member,
// or nil if the invoker targeted themselves.
func (h *moderationHandlers) resolveTarget(
	ctx context.Context,
	cmdCtx CommandContext,
	targetUserID string,
) (*discordgo.Member, error) {
	if u := cmdCtx.User(); u != nil && u.ID == targetUserID {
		return nil, cmdCtx.Respond(ctx, selfTargetResponse, true)
	}
	target, err := h.resolver.ResolveGuildMember(ctx, targetUserID)
	if errors.Is(err, ErrMemberNotFound) {
		return nil, NewUserInputError("Could not find that member")
	}
	return target, err
}

func (h *moderationHandlers) isAdmin(m *discordgo.Member) bool {
	return hasRole(m, h.config.ModRoleID)
}

func (h *moderationHandlers) quarantineUser(ctx context.Context, cmd QuarantineUserCommand) error {
	target, err := h.resolveTarget(ctx, cmd.Ctx, cmd.TargetUserID)
	if err != nil || target == nil {
		return err
	}
	invoker := cmd.Ctx.Member()

	maxAge := time.Duration(h.config.QuarantineMaxMemberAgeDays) * 24 * time.Hour
	if !h.isAdmin(invoker) && memberAge(target, h.now()) >= maxAge {
		return cmd.Ctx.Respond(
			ctx,
			fmt.Sprintf(
				"You cannot quarantine this user. They have been a member of the server for more than %d days.",
				h.config.QuarantineMaxMemberAgeDays,
			),
			true,
		)
	}
	if hasRole(target, h.config.QuarantineRoleID) {
		return cmd.Ctx.Respond(ctx, "User is already quarantined", true)
	}

	reason := nullOrWhiteSpaceTo(cmd.Reason, shrug)
	if err = h.quarantine.QuarantineMember(ctx, target, invoker, reason); err != nil {
		return err
	}
	return cmd.Ctx.Respond(ctx, "User quarantined successfully", true)
}

func (h *moderationHandlers) approveUser(ctx context.Context, cmd ApproveUserCommand) error {
	target, err := h.resolveTarget(ctx, cmd.Ctx, cmd.TargetUserID)
	if err != nil || target == nil {
		return err
	}
	if !hasRole(target, h.config.QuarantineRoleID) {
		return cmd.Ctx.Respond(ctx, "User is not quarantined", true)
	}
	if err = h.quarantine.ApproveMember(ctx, target, cmd.Ctx.Member()); err != nil {
		return err
	}
	return cmd.Ctx.Respond(ctx, "User approved successfully", true)
}

func (h *moderationHandlers) valhallKick(ctx context.Context, cmd ValhallKickUserCommand) error {
	target, err := h.resolveTarget(ctx, cmd.Ctx, cmd.TargetUserID)
	if err != nil || target == nil {
		return err
	}
	maxAge := time.Duration(h.config.ValhallKickMaxMemberAgeHours) * time.Hour
	if memberAge(target, h.now()) >= maxAge {
		return cmd.Ctx.Respond(
			ctx,
			fmt.Sprintf(
				"You cannot vkick this user. They have been a member of the server for more than %d hours.",
				h.config.ValhallKickMaxMemberAgeHours,
			),
			true,
		)
	}

	reason := fmt.Sprintf(
		"Kicked on behalf of %s. Reason: %s",
		memberDisplayName(cmd.Ctx.Member()),
		nullOrWhiteSpaceTo(cmd.Reason, shrug),
	)
	err = h.session.GuildMemberDeleteWithReason(
		h.config.GuildID,
		target.User.ID,
		truncate(reason, MaxAuditReasonLength),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error kicking member: %w", err)
	}
	h.logger.InfoContext(ctx, "member vkicked", "user_id", target.User.ID, "reason", reason)
	return cmd.Ctx.Respond(ctx, "User vkicked successfully", true)
}

func (h *moderationHandlers) valhallBan(ctx context.Context, cmd ValhallBanUserCommand) error {
	target, err := h.resolveTarget(ctx, cmd.Ctx, cmd.TargetUserID)
	if err != nil || target == nil {
		return err
	}
	maxAge := time.Duration(h.config.ValhallBanMaxMemberAgeDays) * 24 * time.Hour
	if memberAge(target, h.now()) >= maxAge {
		return cmd.Ctx.Respond(
			ctx,
			fmt.Sprintf(
				"You cannot vban this user. They have been a member of the server for more than %d days.",
				h.config.ValhallBanMaxMemberAgeDays,
			),
			true,
		)
	}

	reason := fmt.Sprintf(
		"Banned on behalf of %s. Reason: %s",
		memberDisplayName(cmd.Ctx.Member()),
		nullOrWhiteSpaceTo(cmd.Reason, shrug),
	)
	err = h.session.GuildBanCreateWithReason(
		h.config.GuildID,
		target.User.ID,
		truncate(reason, MaxAuditReasonLength),
		valhallBanDeleteMessageDays,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error banning member: %w", err)
	}
	h.logger.InfoContext(ctx, "member vbanned", "user_id", target.User.ID, "reason", reason)
	return cmd.Ctx.Respond(ctx, "User vbanned successfully", true)
}
