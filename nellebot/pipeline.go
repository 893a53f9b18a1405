package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
)

// errorReporter reports failed requests to a Discord channel
type errorReporter interface {
	LogCommandError(cmd CommandContext, message string)
	LogError(title string, message string)
}

// ErrorPipeline is the terminal error boundary for every request the
// Mediator dispatches. Errors and panics are shown to the invoking user
// where there is one, reported to the error log channel, and logged.
// Handle never returns the handler's error.
type ErrorPipeline struct {
	reporter errorReporter
	logger   *slog.Logger
}

func NewErrorPipeline(reporter errorReporter, logger *slog.Logger) *ErrorPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorPipeline{
		reporter: reporter,
		logger:   logger.With(loggerNameKey, "pipeline"),
	}
}

func (p *ErrorPipeline) Handle(
	ctx context.Context,
	request any,
	next HandlerNext,
) (result any, err error) {
	logger := contextLoggerOr(ctx, p.logger)
	defer func() {
		if r := recover(); r != nil {
			p.handleError(ctx, logger, request, handleRecover(logger, r))
			result, err = nil, nil
		}
	}()

	result, err = next(ctx)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, context.Canceled) {
		logger.DebugContext(ctx, "request canceled", tint.Err(err))
		return nil, nil
	}
	p.handleError(ctx, logger, request, err)
	return nil, nil
}

func (p *ErrorPipeline) handleError(
	ctx context.Context,
	logger *slog.Logger,
	request any,
	err error,
) {
	message := err.Error()
	p.respondToUser(ctx, logger, request, err, message)

	var userErr *UserInputError
	if errors.As(err, &userErr) {
		logger.InfoContext(ctx, "user input error", "message", userErr.Message)
		return
	}

	logger.ErrorContext(
		ctx,
		"request failed",
		"request", fmt.Sprintf("%T", request),
		tint.Err(err),
	)
	if p.reporter == nil {
		return
	}
	report := errorReport(err)
	if cr, ok := request.(contextRequest); ok && cr.CommandContext() != nil {
		p.reporter.LogCommandError(cr.CommandContext(), report)
		return
	}
	p.reporter.LogError(fmt.Sprintf("Failed %T", request), report)
}

func (p *ErrorPipeline) respondToUser(
	ctx context.Context,
	logger *slog.Logger,
	request any,
	err error,
	message string,
) {
	var respondErr error

	var interactionErr *InteractionError
	switch {
	case errors.As(err, &interactionErr) && interactionErr.Interaction != nil:
		respondErr = respondEphemeral(ctx, interactionErr.Interaction, message)
	case isSlashRequest(request):
		respondErr = respondEphemeral(ctx, request.(slashRequest).SlashContext(), message)
	case isContextRequest(request):
		cmdCtx := request.(contextRequest).CommandContext()
		if sc, ok := cmdCtx.(SlashContext); ok {
			if sc.Acknowledged() {
				respondErr = sc.Followup(ctx, message, true)
			} else {
				respondErr = sc.Respond(ctx, message, false)
			}
		} else {
			respondErr = cmdCtx.Respond(ctx, message, false)
		}
	default:
		return
	}
	if respondErr != nil {
		logger.WarnContext(ctx, "unable to send error response", tint.Err(respondErr))
	}
}

func respondEphemeral(ctx context.Context, sc SlashContext, message string) error {
	if sc.Acknowledged() {
		return sc.Followup(ctx, message, true)
	}
	return sc.Respond(ctx, message, true)
}

func isSlashRequest(request any) bool {
	sr, ok := request.(slashRequest)
	return ok && sr.SlashContext() != nil
}

func isContextRequest(request any) bool {
	cr, ok := request.(contextRequest)
	return ok && cr.CommandContext() != nil
}
