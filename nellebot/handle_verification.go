package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

// commandWriter is satisfied by the command queues
type commandWriter interface {
	Write(ctx context.Context, cmd Command) error
}

// VerifyMemberCommand approves a new member once the verification
// delay has passed, unless they've left or been quarantined since.
type VerifyMemberCommand struct {
	BaseCommand
	UserID string
}

// verificationHandler screens new members: suspiciously new accounts
// are quarantined, everyone else is approved after a short delay.
// The delay is waited out on the parallel command queue, so it
// doesn't hold up other notifications.
type verificationHandler struct {
	config     *BotConfig
	resolver   *DiscordResolver
	quarantine *QuarantineService
	publisher  notificationPublisher
	commands   commandWriter
	logger     *slog.Logger
	now        func() time.Time
}

func newVerificationHandler(
	config *BotConfig,
	resolver *DiscordResolver,
	quarantine *QuarantineService,
	publisher notificationPublisher,
	commands commandWriter,
	logger *slog.Logger,
) *verificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &verificationHandler{
		config:     config,
		resolver:   resolver,
		quarantine: quarantine,
		publisher:  publisher,
		commands:   commands,
		logger:     logger.With(loggerNameKey, "member_verification"),
		now:        time.Now,
	}
}

func (h *verificationHandler) register(b *MediatorBuilder) {
	HandleNotification(b, "member_verification", h.memberJoined)
	HandleCommand(b, h.verifyMember)
}

func (h *verificationHandler) memberJoined(ctx context.Context, n MemberJoinedNotification) error {
	member := n.Member
	if member == nil || member.User == nil || member.User.Bot {
		return nil
	}
	logger := contextLoggerOr(ctx, h.logger).With("user_id", member.User.ID)

	age, err := accountAge(member.User, h.now())
	if err != nil {
		logger.WarnContext(ctx, "unable to determine account age", tint.Err(err))
	}
	threshold := time.Duration(h.config.SuspiciousAccountAgeDays) * 24 * time.Hour
	if err == nil && age < threshold {
		reason := fmt.Sprintf("User account is less than %d days old.", h.config.SuspiciousAccountAgeDays)
		return h.quarantine.QuarantineMember(ctx, member, h.resolver.BotMember(ctx), reason)
	}

	return h.commands.Write(ctx, VerifyMemberCommand{UserID: member.User.ID})
}

func (h *verificationHandler) verifyMember(ctx context.Context, cmd VerifyMemberCommand) error {
	logger := contextLoggerOr(ctx, h.logger).With("user_id", cmd.UserID)
	if h.config.VerificationDelay > 0 {
		timer := time.NewTimer(h.config.VerificationDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	current, err := h.resolver.ResolveGuildMember(ctx, cmd.UserID)
	if errors.Is(err, ErrMemberNotFound) {
		logger.InfoContext(ctx, "member left before verification")
		return nil
	}
	if err != nil {
		return err
	}
	if hasRole(current, h.config.QuarantineRoleID) {
		logger.InfoContext(ctx, "member quarantined before verification")
		return nil
	}
	return h.publisher.Publish(
		ctx,
		MemberApprovedNotification{Member: current, Responsible: h.resolver.BotMember(ctx)},
	)
}
