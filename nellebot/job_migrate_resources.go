package nellebot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
)

// Reactions moderators use to mark messages in the resource channels
const (
	resourcePostReaction     = "\U0001F1F5" // regional indicator P
	resourceMergeReaction    = "\U0001F1F2" // M
	resourceCommentReaction  = "\U0001F1E8" // C
	resourceMediaReaction    = "\U0001F1EA" // E
	resourceNynorskReaction  = "\U0001F1F3" // N
	resourceDialectsReaction = "\U0001F1E9" // D

	resourceMediaTag    = "media"
	resourceNynorskTag  = "nynorsk"
	resourceDialectsTag = "dialects"

	channelMessagesPageSize       = 100
	forumPostAutoArchiveMinutes   = 7 * 24 * 60
	maxAttachmentDownloadBytes    = 25 << 20
	resourceUntitled              = "Untitled"
	resourceFilesHeader           = "The following files are present in the original message:"
	resourceUnknownAuthor         = "Unknown"
	resourceOriginalMessageFormat = "[View original message](%s) by %s."
)

var resourceTagReactions = []struct {
	reaction string
	tag      string
}{
	{resourceMediaReaction, resourceMediaTag},
	{resourceNynorskReaction, resourceNynorskTag},
	{resourceDialectsReaction, resourceDialectsTag},
}

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// resourcePost is a forum post to create: the messages merged into
// its content, and the messages posted as comments under it
type resourcePost struct {
	guildID  string
	content  []*discordgo.Message
	comments []*discordgo.Message
	tags     []discordgo.ForumTag
	migrated bool
}

func (p *resourcePost) first() *discordgo.Message {
	return p.content[0]
}

func (p *resourcePost) addTag(name string, available []discordgo.ForumTag) error {
	idx := slices.IndexFunc(available, func(t discordgo.ForumTag) bool { return t.Name == name })
	if idx < 0 {
		return fmt.Errorf("tag %s not found", name)
	}
	tag := available[idx]
	if !slices.ContainsFunc(p.tags, func(t discordgo.ForumTag) bool { return t.ID == tag.ID }) {
		p.tags = append(p.tags, tag)
	}
	return nil
}

func (p *resourcePost) tagIDs() []string {
	ids := make([]string, 0, len(p.tags))
	for _, t := range p.tags {
		ids = append(ids, t.ID)
	}
	return ids
}

func (p *resourcePost) tagNames() string {
	if len(p.tags) == 0 {
		return "none"
	}
	names := make([]string, 0, len(p.tags))
	for _, t := range p.tags {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

// title is the first line of the first message with any content
func (p *resourcePost) title() string {
	title := resourceUntitled
	for _, m := range p.content {
		if strings.TrimSpace(m.Content) != "" {
			title = strings.TrimSpace(strings.SplitN(m.Content, "\n", 2)[0])
			break
		}
	}
	return truncate(title, MaxThreadTitleLength)
}

func (p *resourcePost) attachments(images bool) []*discordgo.MessageAttachment {
	var rv []*discordgo.MessageAttachment
	for _, m := range p.content {
		for _, a := range m.Attachments {
			if isImageAttachment(a) == images {
				rv = append(rv, a)
			}
		}
	}
	return rv
}

func (p *resourcePost) originalMessageLine(m *discordgo.Message) string {
	author := resourceUnknownAuthor
	if m.Author != nil {
		author = m.Author.Mention()
	}
	return fmt.Sprintf(resourceOriginalMessageFormat, messageLink(p.guildID, m.ChannelID, m.ID), author)
}

// textContent is the merged content of the post, along with a list
// of files that can't be shown inline, split into message sized parts
func (p *resourcePost) textContent() []string {
	var b strings.Builder
	for _, m := range p.content {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	if files := p.attachments(false); len(files) > 0 {
		b.WriteString("\n" + resourceFilesHeader + "\n")
		for _, a := range files {
			fmt.Fprintf(&b, "`%s`\n", a.Filename)
		}
	}
	b.WriteString("\n" + p.originalMessageLine(p.first()))
	return chunkLines(strings.TrimSpace(b.String()), MaxMessageLength)
}

func (p *resourcePost) commentContent() []string {
	rv := make([]string, 0, len(p.comments))
	for _, m := range p.comments {
		var b strings.Builder
		b.WriteString(m.Content + "\n")
		if len(m.Attachments) > 0 {
			b.WriteString("\n" + resourceFilesHeader + "\n")
			for _, a := range m.Attachments {
				fmt.Fprintf(&b, "`%s`\n", a.Filename)
			}
		}
		b.WriteString("\n" + p.originalMessageLine(m))
		rv = append(rv, truncate(strings.TrimSpace(b.String()), MaxMessageLength))
	}
	return rv
}

func isImageAttachment(a *discordgo.MessageAttachment) bool {
	if a.ContentType != "" {
		return strings.HasPrefix(a.ContentType, "image")
	}
	return slices.Contains(imageExtensions, strings.ToLower(path.Ext(a.Filename)))
}

func hasReaction(m *discordgo.Message, emoji string) bool {
	for _, r := range m.Reactions {
		if r.Emoji != nil && r.Emoji.Name == emoji {
			return true
		}
	}
	return false
}

// migrateResourcesJob copies messages marked with reactions in the
// resource channels into posts in the resource forum. Migrated
// messages get a success reaction, and are skipped on later runs.
type migrateResourcesJob struct {
	config        *BotConfig
	jobsConfig    *JobsConfig
	session       DiscordSessionHandler
	resolver      *DiscordResolver
	discordLogger *DiscordLogger
	errorLogger   errorLogger
	httpClient    *http.Client
	logger        *slog.Logger
}

func newMigrateResourcesJob(
	config *BotConfig,
	jobsConfig *JobsConfig,
	session DiscordSessionHandler,
	resolver *DiscordResolver,
	discordLogger *DiscordLogger,
	errorLogger errorLogger,
	httpClient *http.Client,
	logger *slog.Logger,
) *migrateResourcesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &migrateResourcesJob{
		config:        config,
		jobsConfig:    jobsConfig,
		session:       session,
		resolver:      resolver,
		discordLogger: discordLogger,
		errorLogger:   errorLogger,
		httpClient:    httpClient,
		logger:        logger.With(loggerNameKey, "migrate_resources"),
	}
}

func (j *migrateResourcesJob) Run(ctx context.Context, run JobRun) error {
	dryRun := ""
	if run.DryRun {
		dryRun = " (dry run)"
	}
	j.discordLogger.LogOperationMessage(fmt.Sprintf("Running job %s%s", run.Key, dryRun))

	forum, err := j.resolver.ResolveChannel(ctx, j.config.ResourceForumChannelID)
	if err != nil {
		return fmt.Errorf("could not resolve forum channel %s: %w", j.config.ResourceForumChannelID, err)
	}
	if forum.Type != discordgo.ChannelTypeGuildForum {
		return fmt.Errorf("channel %s is not a forum channel", forum.ID)
	}

	j.discordLogger.LogOperationMessage("Collecting messages...")
	posts, skipped, err := j.collect(ctx, forum.AvailableTags)
	if err != nil {
		return err
	}
	j.discordLogger.LogOperationMessage("Done collecting messages")

	slices.SortStableFunc(posts, func(a, b *resourcePost) int {
		switch {
		case a.first().ID == b.first().ID:
			return 0
		case snowflakeLess(a.first().ID, b.first().ID):
			return -1
		default:
			return 1
		}
	})
	j.discordLogger.LogOperationMessage(fmt.Sprintf("%d resource forum posts will be created", len(posts)))
	j.discordLogger.LogOperationMessage(fmt.Sprintf("%d will be skipped", skipped))

	var succeeded, failed int
	for _, p := range posts {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = j.migrate(ctx, forum.ID, p, run.DryRun)
		switch {
		case errors.Is(err, context.Canceled):
			return err
		case err != nil:
			failed++
			j.errorLogger.LogError(
				fmt.Sprintf("Failed to post message: %s", err),
				messageLink(j.config.GuildID, p.first().ChannelID, p.first().ID),
			)
		default:
			succeeded++
		}
	}

	j.discordLogger.LogOperationMessage(fmt.Sprintf("Successful forum posts: %d", succeeded))
	j.discordLogger.LogOperationMessage(fmt.Sprintf("Failed forum posts: %d", failed))
	return nil
}

// collect groups the marked messages of every source channel into
// posts. Posts that were already migrated aren't returned, only
// counted.
func (j *migrateResourcesJob) collect(ctx context.Context, available []discordgo.ForumTag) (
	[]*resourcePost,
	int,
	error,
) {
	var posts []*resourcePost
	skipped := 0
	for _, channelID := range j.config.ResourceSourceChannelIDs {
		if _, err := j.resolver.ResolveChannel(ctx, channelID); err != nil {
			return nil, 0, fmt.Errorf("could not resolve channel %s: %w", channelID, err)
		}
		messages, err := fetchChannelHistory(ctx, j.session, channelID)
		if err != nil {
			return nil, 0, err
		}

		var current *resourcePost
		for _, m := range messages {
			switch {
			case hasReaction(m, resourcePostReaction):
				current = &resourcePost{guildID: j.config.GuildID, content: []*discordgo.Message{m}}
				if hasReaction(m, successReaction) {
					current.migrated = true
					skipped++
					continue
				}
				for _, tr := range resourceTagReactions {
					if !hasReaction(m, tr.reaction) {
						continue
					}
					if err = current.addTag(tr.tag, available); err != nil {
						return nil, 0, err
					}
				}
				if tag := j.config.ResourceChannelTags[channelID]; tag != "" {
					if err = current.addTag(tag, available); err != nil {
						return nil, 0, err
					}
				}
				posts = append(posts, current)
			case hasReaction(m, resourceMergeReaction):
				if current == nil {
					return nil, 0, errors.New("no post message to merge this message with")
				}
				if !current.migrated {
					current.content = append(current.content, m)
				}
			case hasReaction(m, resourceCommentReaction):
				if current == nil {
					return nil, 0, errors.New("no post message to add this comment to")
				}
				if !current.migrated {
					current.comments = append(current.comments, m)
				}
			}
		}
	}
	return posts, skipped, nil
}

func (j *migrateResourcesJob) migrate(ctx context.Context, forumID string, p *resourcePost, dryRun bool) error {
	title := p.title()
	content := p.textContent()
	comments := p.commentContent()
	images := p.attachments(true)

	chars := 0
	for _, c := range content {
		chars += len([]rune(c))
	}
	j.discordLogger.LogOperationMessage(
		fmt.Sprintf(
			"Creating post for message %s\nTitle: %s\nContent: %d chars in %d message(s)\nTags: %s\n"+
				"Comments: %d\nImages: %d\nNon image files: %d",
			messageLink(p.guildID, p.first().ChannelID, p.first().ID),
			title,
			chars,
			len(content),
			p.tagNames(),
			len(comments),
			len(images),
			len(p.attachments(false)),
		),
	)

	// time to follow along in the operation log, and cancel
	if err := sleepContext(ctx, j.jobsConfig.MigrationPostDelay); err != nil {
		return err
	}
	if dryRun {
		return nil
	}

	files := make([]*discordgo.File, 0, len(images))
	for _, a := range images {
		f, err := j.download(ctx, a)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	post, err := j.session.ForumThreadStartComplex(
		forumID,
		&discordgo.ThreadStart{
			Name:                title,
			AutoArchiveDuration: forumPostAutoArchiveMinutes,
			AppliedTags:         p.tagIDs(),
		},
		&discordgo.MessageSend{
			Content: content[0],
			Files:   files,
			Flags:   discordgo.MessageFlagsSuppressNotifications,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error creating forum post: %w", err)
	}
	if err = sleepContext(ctx, j.jobsConfig.MigrationSendDelay); err != nil {
		return err
	}

	followups := append(slices.Clone(content[1:]), comments...)
	for _, part := range followups {
		_, err = j.session.ChannelMessageSendComplex(
			post.ID,
			&discordgo.MessageSend{Content: part, Flags: discordgo.MessageFlagsSuppressNotifications},
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf("error sending message to forum post: %w", err)
		}
		if err = sleepContext(ctx, j.jobsConfig.MigrationSendDelay); err != nil {
			return err
		}
	}

	original := p.first()
	err = j.session.MessageReactionAdd(original.ChannelID, original.ID, successReaction, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error marking message as migrated: %w", err)
	}
	return sleepContext(ctx, j.jobsConfig.MigrationSendDelay)
}

func (j *migrateResourcesJob) download(ctx context.Context, a *discordgo.MessageAttachment) (*discordgo.File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading %s: %w", a.Filename, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error downloading %s: %s", a.Filename, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("error downloading %s: %w", a.Filename, err)
	}
	name := a.Filename
	if name == "" {
		name = uuid.NewString()
	}
	return &discordgo.File{Name: name, ContentType: a.ContentType, Reader: bytes.NewReader(data)}, nil
}

// fetchChannelHistory returns every message in the channel, oldest first
func fetchChannelHistory(ctx context.Context, session DiscordSessionHandler, channelID string) (
	[]*discordgo.Message,
	error,
) {
	var messages []*discordgo.Message
	before := ""
	for {
		page, err := session.ChannelMessages(
			channelID,
			channelMessagesPageSize,
			before,
			"",
			"",
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf("error fetching messages from %s: %w", channelID, err)
		}
		messages = append(messages, page...)
		if len(page) < channelMessagesPageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	slices.Reverse(messages)
	return messages, nil
}
