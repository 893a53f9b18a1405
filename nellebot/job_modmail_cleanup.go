package nellebot

import (
	"context"
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

// modmailCleanupJob closes tickets nobody has written in for
// ModmailTicketInactiveHours. Closing goes through the command queue,
// so it's serialized with the relays.
type modmailCleanupJob struct {
	config   *BotConfig
	tickets  *ModmailTicketRepository
	commands commandWriter
	logger   *slog.Logger
	now      func() time.Time
}

func newModmailCleanupJob(
	config *BotConfig,
	tickets *ModmailTicketRepository,
	commands commandWriter,
	logger *slog.Logger,
) *modmailCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &modmailCleanupJob{
		config:   config,
		tickets:  tickets,
		commands: commands,
		logger:   logger.With(loggerNameKey, "modmail_cleanup"),
		now:      time.Now,
	}
}

func (j *modmailCleanupJob) Run(ctx context.Context, run JobRun) error {
	threshold := time.Duration(j.config.ModmailTicketInactiveHours) * time.Hour
	expired, err := j.tickets.GetInactiveTickets(ctx, j.now().Add(-threshold))
	if err != nil {
		return fmt.Errorf("error getting inactive tickets: %w", err)
	}
	logger := contextLoggerOr(ctx, j.logger)
	logger.InfoContext(ctx, "found inactive modmail tickets", "count", len(expired))
	if run.DryRun {
		return nil
	}
	for _, t := range expired {
		if err = j.commands.Write(ctx, CloseInactiveModmailTicketCommand{Ticket: t}); err != nil {
			return err
		}
	}
	return nil
}

// heartbeatJob records that the bot is alive
type heartbeatJob struct {
	settings *BotSettingsService
	logger   *slog.Logger
	now      func() time.Time
}

func newHeartbeatJob(settings *BotSettingsService, logger *slog.Logger) *heartbeatJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &heartbeatJob{
		settings: settings,
		logger:   logger.With(loggerNameKey, "heartbeat"),
		now:      time.Now,
	}
}

func (j *heartbeatJob) Run(ctx context.Context, _ JobRun) error {
	if err := j.settings.SetLastHeartbeat(ctx, j.now()); err != nil {
		contextLoggerOr(ctx, j.logger).WarnContext(ctx, "unable to save heartbeat", tint.Err(err))
		return err
	}
	return nil
}
