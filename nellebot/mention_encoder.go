package nellebot

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"regexp"
	"sort"
	"strings"
)

var (
	roleMentionRegex    = regexp.MustCompile(`<@&(\d+)>`)
	channelMentionRegex = regexp.MustCompile(`<#(\d+)>`)
	emojiMentionRegex   = regexp.MustCompile(`<a?:\w+:(\d+)>`)
)

// GuildEntities holds the guild entities mentions are encoded from,
// and decoded to.
type GuildEntities struct {
	Roles    []*discordgo.Role
	Channels []*discordgo.Channel
	Emojis   []*discordgo.Emoji
}

// byLongestName orders names so that "@Moderator" is replaced before
// "@Mod" can match inside it.
func byLongestName[T any](items []T, name func(T) string) []T {
	sorted := append([]T{}, items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(name(sorted[i])) > len(name(sorted[j]))
	})
	return sorted
}

// EncodeMentions replaces @role, #channel and :emoji: names in input
// with Discord mentions.
func EncodeMentions(guild GuildEntities, input string) string {
	for _, role := range byLongestName(guild.Roles, func(r *discordgo.Role) string { return r.Name }) {
		input = strings.ReplaceAll(input, "@"+role.Name, fmt.Sprintf("<@&%s>", role.ID))
	}
	for _, ch := range byLongestName(guild.Channels, func(c *discordgo.Channel) string { return c.Name }) {
		input = strings.ReplaceAll(input, "#"+ch.Name, fmt.Sprintf("<#%s>", ch.ID))
	}
	for _, e := range byLongestName(guild.Emojis, func(e *discordgo.Emoji) string { return e.Name }) {
		encoded := fmt.Sprintf("<:%s:%s>", e.Name, e.ID)
		if e.Animated {
			encoded = fmt.Sprintf("<a:%s:%s>", e.Name, e.ID)
		}
		input = replaceOutsideMentions(input, ":"+e.Name+":", encoded)
	}
	return input
}

// replaceOutsideMentions is strings.ReplaceAll, except occurrences
// inside an already encoded emoji are left alone.
func replaceOutsideMentions(input string, old string, replacement string) string {
	var b strings.Builder
	for {
		idx := strings.Index(input, old)
		if idx < 0 {
			b.WriteString(input)
			return b.String()
		}
		if idx > 0 && (input[idx-1] == '<' || (idx > 1 && input[idx-2:idx] == "<a")) {
			b.WriteString(input[:idx+len(old)])
		} else {
			b.WriteString(input[:idx])
			b.WriteString(replacement)
		}
		input = input[idx+len(old):]
	}
}

// DecodeMentions replaces role, channel and emoji mentions in input
// with their names. Mentions of unknown entities are left as they are.
func DecodeMentions(guild GuildEntities, input string) string {
	roles := map[string]string{}
	for _, r := range guild.Roles {
		roles[r.ID] = "@" + r.Name
	}
	channels := map[string]string{}
	for _, c := range guild.Channels {
		channels[c.ID] = "#" + c.Name
	}
	emojis := map[string]string{}
	for _, e := range guild.Emojis {
		emojis[e.ID] = ":" + e.Name + ":"
	}
	input = decodeMatches(roleMentionRegex, input, roles)
	input = decodeMatches(channelMentionRegex, input, channels)
	return decodeMatches(emojiMentionRegex, input, emojis)
}

func decodeMatches(re *regexp.Regexp, input string, names map[string]string) string {
	return re.ReplaceAllStringFunc(input, func(match string) string {
		id := re.FindStringSubmatch(match)[1]
		if name, ok := names[id]; ok {
			return name
		}
		return match
	})
}
