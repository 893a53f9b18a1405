package nellebot

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxMessageLength      = 2000
	MaxEmbedContentLength = 4096
	MaxThreadTitleLength  = 100
	MaxAuditReasonLength  = 512

	DefaultEmbedColor = 2346204
	ErrorEmbedColor   = 14431557
	WarningEmbedColor = 16612884

	successReaction = "✅"
	failureReaction = "❌"

	shrug = "/shrug"
)

func messageLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// fullUsername returns the username, with the legacy discriminator
// appended if the user still has one.
func fullUsername(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.Discriminator != "" && u.Discriminator != "0" {
		return u.Username + "#" + u.Discriminator
	}
	return u.Username
}

// userDisplayName prefers the global display name over the username
func userDisplayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// memberDisplayName prefers the guild nickname, then the global
// display name, then the username.
func memberDisplayName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	return userDisplayName(m.User)
}

// detailedMemberIdentifier identifies a member for log messages, ex:
// "Nelle (nelle, 1234)", or "nelle (1234)" when the display name
// is the username.
func detailedMemberIdentifier(m *discordgo.Member) string {
	if m == nil || m.User == nil {
		return "unknown member"
	}
	display := memberDisplayName(m)
	if display != m.User.Username {
		return fmt.Sprintf("%s (%s, %s)", display, fullUsername(m.User), m.User.ID)
	}
	return fmt.Sprintf("%s (%s)", fullUsername(m.User), m.User.ID)
}

func detailedUserIdentifier(u *discordgo.User) string {
	if u == nil {
		return "unknown user"
	}
	display := userDisplayName(u)
	if display != u.Username {
		return fmt.Sprintf("%s (%s, %s)", display, fullUsername(u), u.ID)
	}
	return fmt.Sprintf("%s (%s)", fullUsername(u), u.ID)
}

// quote prefixes each line of content with a markdown blockquote
func quote(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func nullOrWhiteSpaceTo(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func escapeBackticks(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}

func simpleEmbed(title string, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: truncate(description, MaxEmbedContentLength),
		Color:       color,
	}
}

func hasRole(m *discordgo.Member, roleID string) bool {
	if m == nil || roleID == "" {
		return false
	}
	return slices.Contains(m.Roles, roleID)
}

func hasAnyRole(m *discordgo.Member, roleIDs []string) bool {
	for _, r := range roleIDs {
		if hasRole(m, r) {
			return true
		}
	}
	return false
}

// memberAge returns how long ago the member joined the guild. Unknown
// join times are treated as just now.
func memberAge(m *discordgo.Member, now time.Time) time.Duration {
	if m == nil || m.JoinedAt.IsZero() {
		return 0
	}
	return now.Sub(m.JoinedAt)
}

// accountAge returns the age of the user's account, from the
// timestamp embedded in its snowflake ID.
func accountAge(u *discordgo.User, now time.Time) (time.Duration, error) {
	created, err := discordgo.SnowflakeTimestamp(u.ID)
	if err != nil {
		return 0, err
	}
	return now.Sub(created), nil
}

// chunkLines splits text into chunks of at most limit characters,
// breaking on newlines where possible.
func chunkLines(text string, limit int) []string {
	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for utf8.RuneCountInString(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			runes := []rune(line)
			chunks = append(chunks, string(runes[:limit]))
			line = string(runes[limit:])
		}
		needed := utf8.RuneCountInString(line)
		if current.Len() > 0 {
			needed++
		}
		if utf8.RuneCountInString(current.String())+needed > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func discordInteractionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}

func optionString(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	opt, ok := opts[name]
	if !ok {
		return ""
	}
	s, _ := opt.Value.(string)
	return s
}

func optionBool(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) bool {
	opt, ok := opts[name]
	if !ok {
		return false
	}
	b, _ := opt.Value.(bool)
	return b
}

// snowflakeLess reports whether snowflake a is older than b
func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
