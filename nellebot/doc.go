// Package nellebot implements a Discord community-moderation bot.
//
// Gateway events and slash/text commands are converted into typed requests
// (commands, queries and notifications) and written to bounded queues. Each
// queue has a single long-lived worker which dispatches items through a
// Mediator, wrapped by an error-handling pipeline that reports failures to
// the invoking user and to a Discord error-log channel.
//
// Key components of the package include:
//
//   - Bot: owns configuration, queues, workers, the Discord session and jobs.
//   - Mediator: type-keyed registry of command, query and notification handlers.
//   - Pipeline: the terminal error boundary around every dispatch.
//   - BatchingBuffer: debounces bursts of items into one batch (goodbye messages).
//   - DiscordLogger / DiscordErrorLogger: queued writes to log channels.
//   - JobScheduler: role maintenance, modmail cleanup and resource migration.
//   - API: a small gin admin surface for health, metrics, queues and jobs.
//
// Moderation commands include quarantine, approve, vkick and vban. Members
// are verified on join, greeted on approval, and their departures are
// batched into goodbye messages. Modmail tickets relay direct messages
// to a moderator forum.
package nellebot
