package nellebot

import (
	"context"
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	fallbackGreetingMessage   = "Welcome, $USER!"
	fallbackQuarantineMessage = "Welcome to quarantine, $USER!"
	fallbackGoodbyeMessage    = "$USER has left. Goodbye!"

	maxGoodbyeUsernames = 100

	// recently joined members who leave while quarantined were never
	// greeted, so they aren't sent off either
	goodbyeMinQuarantinedMemberAge = 48 * time.Hour
)

type errorLogger interface {
	LogError(title string, message string)
	LogWarning(title string, message string)
}

// newGoodbyeMessageBuffer collects the names of departing members, and
// publishes them as one BufferedMemberLeftNotification once nobody
// has left for delay.
func newGoodbyeMessageBuffer(
	ctx context.Context,
	delay time.Duration,
	publisher notificationPublisher,
	errorLogger errorLogger,
	logger *slog.Logger,
) *BatchingBuffer[string] {
	return NewBatchingBuffer(
		ctx,
		delay,
		func(ctx context.Context, usernames []string) error {
			err := publisher.Publish(ctx, BufferedMemberLeftNotification{Usernames: usernames})
			if err != nil {
				errorLogger.LogError("Goodbye", fmt.Sprintf("Error publishing buffered event: %s", err))
			}
			return err
		},
		logger,
	)
}

// greetingHandler posts greeting, quarantine and goodbye messages
type greetingHandler struct {
	config        *BotConfig
	settings      *BotSettingsService
	discordLogger *DiscordLogger
	errorLogger   errorLogger
	goodbyes      *BatchingBuffer[string]
	logger        *slog.Logger
	now           func() time.Time

	// pick returns an index in [0, n)
	pick func(n int) int
}

func newGreetingHandler(
	config *BotConfig,
	settings *BotSettingsService,
	discordLogger *DiscordLogger,
	errorLogger errorLogger,
	goodbyes *BatchingBuffer[string],
	logger *slog.Logger,
) *greetingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &greetingHandler{
		config:        config,
		settings:      settings,
		discordLogger: discordLogger,
		errorLogger:   errorLogger,
		goodbyes:      goodbyes,
		logger:        logger.With(loggerNameKey, "greeting"),
		now:           time.Now,
		pick:          rand.IntN,
	}
}

func (h *greetingHandler) register(b *MediatorBuilder) {
	HandleNotification(b, "greeting", h.memberApproved)
	HandleNotification(b, "greeting", h.memberQuarantined)
	HandleNotification(b, "greeting", h.memberRemoved)
	HandleNotification(b, "greeting", h.bufferedMemberLeft)
}

func (h *greetingHandler) memberApproved(ctx context.Context, n MemberApprovedNotification) error {
	if n.Member == nil || n.Member.User == nil {
		return nil
	}
	msg, ok, err := h.settings.GetGreetingMessage(ctx, n.Member.User.Mention())
	if err != nil || !ok {
		if err != nil {
			h.logger.ErrorContext(ctx, "error getting greeting message", tint.Err(err))
		}
		h.errorLogger.LogError("Greeting", "Greeting message couldn't be retrieved")
		msg = strings.ReplaceAll(fallbackGreetingMessage, templateUserVariable, n.Member.User.Mention())
	}
	h.discordLogger.LogGreetingMessage(msg)
	return nil
}

func (h *greetingHandler) memberQuarantined(ctx context.Context, n MemberQuarantinedNotification) error {
	if n.Member == nil || n.Member.User == nil {
		return nil
	}
	mention := n.Member.User.Mention()
	msg, ok, err := h.settings.GetQuarantineMessage(ctx, mention, n.Reason)
	if err != nil || !ok {
		if err != nil {
			h.logger.ErrorContext(ctx, "error getting quarantine message", tint.Err(err))
		}
		h.errorLogger.LogError("Greeting", "Quarantine message couldn't be retrieved")
		msg = strings.ReplaceAll(fallbackQuarantineMessage, templateUserVariable, mention)
	}
	h.discordLogger.LogQuarantineMessage(msg)
	return nil
}

func (h *greetingHandler) memberRemoved(_ context.Context, n MemberRemovedNotification) error {
	m := n.Member
	if m == nil || m.User == nil {
		return nil
	}
	if hasRole(m, h.config.QuarantineRoleID) && memberAge(m, h.now()) < goodbyeMinQuarantinedMemberAge {
		return nil
	}
	h.goodbyes.AddMessage(memberDisplayName(m))
	return nil
}

func (h *greetingHandler) bufferedMemberLeft(ctx context.Context, n BufferedMemberLeftNotification) error {
	var msg string
	switch count := len(n.Usernames); {
	case count == 0:
		return nil
	case count == 1:
		msg = h.randomGoodbyeMessage(ctx, n.Usernames[0])
	case count <= maxGoodbyeUsernames:
		msg = fmt.Sprintf(
			"The following users have left the server: %s. Goodbye!",
			boldList(n.Usernames),
		)
	default:
		msg = fmt.Sprintf(
			"The following users have left the server: %s and %d others. Goodbye!",
			boldList(n.Usernames[:maxGoodbyeUsernames]),
			count-maxGoodbyeUsernames,
		)
	}
	h.discordLogger.LogGreetingMessage(msg)
	return nil
}

func (h *greetingHandler) randomGoodbyeMessage(ctx context.Context, username string) string {
	template := fallbackGoodbyeMessage
	messages, err := h.settings.GetGoodbyeMessages(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "error getting goodbye messages", tint.Err(err))
	}
	if len(messages) > 0 {
		template = messages[h.pick(len(messages))]
	}
	return strings.ReplaceAll(template, templateUserVariable, "**"+username+"**")
}

func boldList(names []string) string {
	bold := make([]string, len(names))
	for i, n := range names {
		bold[i] = "**" + n + "**"
	}
	return strings.Join(bold, ", ")
}
