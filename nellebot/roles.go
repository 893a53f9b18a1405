package nellebot

import (
	"github.com/bwmarrin/discordgo"
)

// Members holding any of the configured member roles get the member
// role, unless they're quarantined.
func eligibleForMemberRole(config *BotConfig, m *discordgo.Member) bool {
	return hasAnyRole(m, config.MemberRoleIDs) && !hasRole(m, config.QuarantineRoleID)
}

func missingMemberRole(config *BotConfig, m *discordgo.Member) bool {
	return config.MemberRoleID != "" &&
		!hasRole(m, config.MemberRoleID) &&
		eligibleForMemberRole(config, m)
}

func unneededMemberRole(config *BotConfig, m *discordgo.Member) bool {
	return config.MemberRoleID != "" &&
		hasRole(m, config.MemberRoleID) &&
		!eligibleForMemberRole(config, m)
}

// Members without any roles get the ghost role, and lose it once they
// pick up any other role.
func missingGhostRole(config *BotConfig, m *discordgo.Member) bool {
	return config.GhostRoleID != "" && len(m.Roles) == 0
}

func unneededGhostRole(config *BotConfig, m *discordgo.Member) bool {
	return config.GhostRoleID != "" && hasRole(m, config.GhostRoleID) && len(m.Roles) > 1
}

// roleDiff returns the role IDs in after but not before, and the ones
// in before but not after.
func roleDiff(before []string, after []string) (added []string, removed []string) {
	inBefore := make(map[string]struct{}, len(before))
	for _, r := range before {
		inBefore[r] = struct{}{}
	}
	inAfter := make(map[string]struct{}, len(after))
	for _, r := range after {
		inAfter[r] = struct{}{}
		if _, ok := inBefore[r]; !ok {
			added = append(added, r)
		}
	}
	for _, r := range before {
		if _, ok := inAfter[r]; !ok {
			removed = append(removed, r)
		}
	}
	return added, removed
}
