package nellebot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

const (
	guildMembersPageSize       = 1000
	roleMaintenanceMaxAttempts = 3
)

// roleMaintenanceJob brings every member's member and ghost roles in
// line with their other roles, in bulk. See roles.go for the rules.
type roleMaintenanceJob struct {
	config        *BotConfig
	jobsConfig    *JobsConfig
	session       DiscordSessionHandler
	resolver      *DiscordResolver
	discordLogger *DiscordLogger
	logger        *slog.Logger
}

func newRoleMaintenanceJob(
	config *BotConfig,
	jobsConfig *JobsConfig,
	session DiscordSessionHandler,
	resolver *DiscordResolver,
	discordLogger *DiscordLogger,
	logger *slog.Logger,
) *roleMaintenanceJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &roleMaintenanceJob{
		config:        config,
		jobsConfig:    jobsConfig,
		session:       session,
		resolver:      resolver,
		discordLogger: discordLogger,
		logger:        logger.With(loggerNameKey, "role_maintenance"),
	}
}

type roleChange struct {
	label    string
	roleID   string
	add      bool
	selector func(*BotConfig, *discordgo.Member) bool
}

func (j *roleMaintenanceJob) Run(ctx context.Context, run JobRun) error {
	j.discordLogger.LogOperationMessage(fmt.Sprintf("Job started: %s", run.Key))

	if _, err := j.resolver.ResolveRole(ctx, j.config.MemberRoleID); err != nil {
		return fmt.Errorf("could not find member role with id %s: %w", j.config.MemberRoleID, err)
	}
	if _, err := j.resolver.ResolveRole(ctx, j.config.GhostRoleID); err != nil {
		return fmt.Errorf("could not find ghost role with id %s: %w", j.config.GhostRoleID, err)
	}

	j.discordLogger.LogOperationMessage("Downloading guild members.")
	members, err := fetchGuildMembers(ctx, j.session, j.config.GuildID)
	if err != nil {
		return err
	}
	j.discordLogger.LogOperationMessage(fmt.Sprintf("Downloaded %d guild members.", len(members)))

	changes := []roleChange{
		{label: "Member", roleID: j.config.MemberRoleID, add: true, selector: missingMemberRole},
		{label: "Member", roleID: j.config.MemberRoleID, add: false, selector: unneededMemberRole},
		{label: "Ghost", roleID: j.config.GhostRoleID, add: true, selector: missingGhostRole},
		{label: "Ghost", roleID: j.config.GhostRoleID, add: false, selector: unneededGhostRole},
	}
	for _, change := range changes {
		if err = j.apply(ctx, members, change, run.DryRun); err != nil {
			return err
		}
	}

	j.discordLogger.LogOperationMessage(fmt.Sprintf("Job finished: %s", run.Key))
	return nil
}

func (j *roleMaintenanceJob) apply(
	ctx context.Context,
	members []*discordgo.Member,
	change roleChange,
	dryRun bool,
) error {
	var candidates []*discordgo.Member
	for _, m := range members {
		if change.selector(j.config, m) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	if change.add {
		j.discordLogger.LogOperationMessage(
			fmt.Sprintf("Found %d users which are missing the %s role.", len(candidates), change.label),
		)
	} else {
		j.discordLogger.LogOperationMessage(
			fmt.Sprintf("Found %d users with unneeded %s role.", len(candidates), change.label),
		)
	}
	if dryRun {
		return nil
	}

	succeeded, err := j.changeWithRetry(ctx, candidates, change)

	verb := "removing"
	if change.add {
		verb = "adding"
	}
	j.discordLogger.LogOperationMessage(
		fmt.Sprintf("Done %s %s role for %d/%d users.", verb, change.label, succeeded, len(candidates)),
	)
	return err
}

// changeWithRetry applies the role change to each member, retrying
// failures with a linear backoff. It stops early if ctx is canceled.
func (j *roleMaintenanceJob) changeWithRetry(
	ctx context.Context,
	members []*discordgo.Member,
	change roleChange,
) (int, error) {
	logger := contextLoggerOr(ctx, j.logger)
	succeeded := 0
	for _, m := range members {
		for attempt := 1; attempt <= roleMaintenanceMaxAttempts; attempt++ {
			var err error
			if change.add {
				err = addRoleWithReason(ctx, j.session, j.config.GuildID, m.User.ID, change.roleID, "")
			} else {
				err = removeRoleWithReason(ctx, j.session, j.config.GuildID, m.User.ID, change.roleID, "")
			}
			if err == nil {
				succeeded++
				if change.add {
					m.Roles = appendRole(m.Roles, change.roleID)
				} else {
					m.Roles = removeRole(m.Roles, change.roleID)
				}
				break
			}
			logger.WarnContext(
				ctx, "role change failed",
				"user_id", m.User.ID,
				"role_id", change.roleID,
				"attempt", attempt,
				tint.Err(err),
			)
			backoff := j.jobsConfig.RoleMaintenanceRetryBackoff * time.Duration(attempt)
			if serr := sleepContext(ctx, backoff); serr != nil {
				return succeeded, serr
			}
		}
		if err := sleepContext(ctx, j.jobsConfig.RoleMaintenanceMemberDelay); err != nil {
			return succeeded, err
		}
	}
	return succeeded, nil
}

// fetchGuildMembers pages through every member of the guild
func fetchGuildMembers(ctx context.Context, session DiscordSessionHandler, guildID string) (
	[]*discordgo.Member,
	error,
) {
	var members []*discordgo.Member
	after := ""
	for {
		page, err := session.GuildMembers(guildID, after, guildMembersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("error downloading guild members: %w", err)
		}
		for _, m := range page {
			if m.User != nil {
				members = append(members, m)
			}
		}
		if len(page) < guildMembersPageSize || page[len(page)-1].User == nil {
			return members, nil
		}
		after = page[len(page)-1].User.ID
	}
}
