package nellebot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func reactions(emojis ...string) []*discordgo.MessageReactions {
	rv := make([]*discordgo.MessageReactions, 0, len(emojis))
	for _, e := range emojis {
		rv = append(rv, &discordgo.MessageReactions{Count: 1, Emoji: &discordgo.Emoji{Name: e}})
	}
	return rv
}

func resourceMessage(id string, authorID string, content string, emojis ...string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: "chan-media",
		Content:   content,
		Author:    &discordgo.User{ID: authorID},
		Reactions: reactions(emojis...),
	}
}

type migrateTestEnv struct {
	*testEnv
	job *migrateResourcesJob
	srv *httptest.Server
}

func newMigrateTestEnv(t *testing.T) *migrateTestEnv {
	t.Helper()
	env := newTestEnv(t)
	env.config.ResourceSourceChannelIDs = []string{"chan-media"}
	env.config.ResourceForumChannelID = "chan-forum"
	env.config.ResourceChannelTags = map[string]string{"chan-media": resourceMediaTag}
	env.session.channels["chan-media"] = &discordgo.Channel{ID: "chan-media", Type: discordgo.ChannelTypeGuildText}
	env.session.channels["chan-forum"] = &discordgo.Channel{
		ID:   "chan-forum",
		Type: discordgo.ChannelTypeGuildForum,
		AvailableTags: []discordgo.ForumTag{
			{ID: "tag-media", Name: resourceMediaTag},
			{ID: "tag-nn", Name: resourceNynorskTag},
			{ID: "tag-dialects", Name: resourceDialectsTag},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pic.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("not really a png"))
	}))
	t.Cleanup(srv.Close)

	jobsConfig := DefaultConfig().Jobs
	jobsConfig.MigrationPostDelay = 0
	jobsConfig.MigrationSendDelay = 0
	job := newMigrateResourcesJob(
		env.config,
		jobsConfig,
		env.session,
		env.resolver,
		env.logger,
		env.errLogger,
		srv.Client(),
		nil,
	)
	return &migrateTestEnv{testEnv: env, job: job, srv: srv}
}

func (e *migrateTestEnv) seed(messages ...*discordgo.Message) {
	e.session.messages["chan-media"] = append(e.session.messages["chan-media"], messages...)
}

func TestMigrateResourcesJob(t *testing.T) {
	env := newMigrateTestEnv(t)
	post := resourceMessage("101", "30", "Great resource\nmore text", resourcePostReaction, resourceDialectsReaction)
	post.Attachments = []*discordgo.MessageAttachment{
		{Filename: "pic.png", ContentType: "image/png", URL: env.srv.URL + "/pic.png"},
	}
	merged := resourceMessage("102", "30", "continued", resourceMergeReaction)
	merged.Attachments = []*discordgo.MessageAttachment{{Filename: "notes.pdf", ContentType: "application/pdf"}}
	env.seed(
		post,
		merged,
		resourceMessage("103", "31", "nice one", resourceCommentReaction),
		resourceMessage("104", "30", "old post", resourcePostReaction, successReaction),
		resourceMessage("105", "30", "merged into old", resourceMergeReaction),
		resourceMessage("106", "32", "just chatting"),
	)

	require.NoError(t, env.job.Run(context.Background(), JobRun{Key: MigrateResourcesJobKey}))

	calls := env.session.callsTo("ForumThreadStartComplex")
	require.Len(t, calls, 1)
	assert.Equal(t, "chan-forum", calls[0].Args[0])
	thread := calls[0].Args[1].(*discordgo.ThreadStart)
	assert.Equal(t, "Great resource", thread.Name)
	assert.Equal(t, []string{"tag-dialects", "tag-media"}, thread.AppliedTags)

	first := calls[0].Args[2].(*discordgo.MessageSend)
	assert.Equal(
		t,
		"Great resource\nmore text\ncontinued\n\n"+
			"The following files are present in the original message:\n`notes.pdf`\n\n"+
			"[View original message](https://discord.com/channels/100/chan-media/101) by <@30>.",
		first.Content,
	)
	require.Len(t, first.Files, 1)
	assert.Equal(t, "pic.png", first.Files[0].Name)
	data, err := io.ReadAll(first.Files[0].Reader)
	require.NoError(t, err)
	assert.Equal(t, "not really a png", string(data))

	var postID string
	for id, ch := range env.session.channels {
		if ch.ParentID == "chan-forum" {
			postID = id
		}
	}
	require.NotEmpty(t, postID)
	sent := env.session.sentTo(postID)
	require.Len(t, sent, 2)
	assert.Equal(t, "nice one\n\n[View original message](https://discord.com/channels/100/chan-media/103) by <@31>.", sent[1])

	var marked []string
	for _, r := range env.session.reactions {
		if r.Method == successReaction {
			marked = append(marked, r.Args[1].(string))
		}
	}
	assert.Equal(t, []string{"101"}, marked)

	ops := env.loggedTo(env.config.OperationLogChannelID)
	assert.Equal(t, "Running job default.migrate-resources", ops[0])
	assert.Contains(t, ops, "1 resource forum posts will be created")
	assert.Contains(t, ops, "1 will be skipped")
	assert.Contains(t, ops, "Successful forum posts: 1")
	assert.Contains(t, ops, "Failed forum posts: 0")

	var summary string
	for _, o := range ops {
		if strings.HasPrefix(o, "Creating post for message") {
			summary = o
		}
	}
	assert.Contains(t, summary, "Title: Great resource\n")
	assert.Contains(t, summary, "Tags: dialects, media\n")
	assert.Contains(t, summary, "Comments: 1\nImages: 1\nNon image files: 1")
	assert.Empty(t, env.errorsLogged())
}

func TestMigrateResourcesJob_DryRun(t *testing.T) {
	env := newMigrateTestEnv(t)
	env.seed(
		resourceMessage("101", "30", "first", resourcePostReaction),
		resourceMessage("102", "30", "second", resourcePostReaction, resourceNynorskReaction),
	)

	require.NoError(t, env.job.Run(context.Background(), JobRun{Key: MigrateResourcesJobKey, DryRun: true}))
	assert.Empty(t, env.session.callsTo("ForumThreadStartComplex"))
	assert.Empty(t, env.session.reactions)

	ops := env.loggedTo(env.config.OperationLogChannelID)
	assert.Equal(t, "Running job default.migrate-resources (dry run)", ops[0])
	assert.Contains(t, ops, "Successful forum posts: 2")
}

func TestMigrateResourcesJob_Failures(t *testing.T) {
	env := newMigrateTestEnv(t)
	env.seed(resourceMessage("101", "30", "first", resourcePostReaction))
	env.session.errs["ForumThreadStartComplex"] = assert.AnError

	require.NoError(t, env.job.Run(context.Background(), JobRun{Key: MigrateResourcesJobKey}))
	assert.Contains(t, env.loggedTo(env.config.OperationLogChannelID), "Failed forum posts: 1")
	assert.Equal(t, []string{"https://discord.com/channels/100/chan-media/101"}, env.errorsLogged())
}

func TestMigrateResourcesJob_InvalidMarks(t *testing.T) {
	testCases := []struct {
		name     string
		messages []*discordgo.Message
		forum    string
		err      string
	}{
		{
			name:     "merge without post",
			messages: []*discordgo.Message{resourceMessage("101", "30", "orphan", resourceMergeReaction)},
			err:      "no post message to merge this message with",
		},
		{
			name:     "comment without post",
			messages: []*discordgo.Message{resourceMessage("101", "30", "orphan", resourceCommentReaction)},
			err:      "no post message to add this comment to",
		},
		{
			name:  "not a forum",
			forum: "chan-media",
			err:   "is not a forum channel",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newMigrateTestEnv(t)
			env.seed(tc.messages...)
			if tc.forum != "" {
				env.config.ResourceForumChannelID = tc.forum
			}
			err := env.job.Run(context.Background(), JobRun{Key: MigrateResourcesJobKey})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestResourcePost_Title(t *testing.T) {
	p := &resourcePost{content: []*discordgo.Message{{Content: "  "}, {Content: " Hello \nworld"}}}
	assert.Equal(t, "Hello", p.title())

	p = &resourcePost{content: []*discordgo.Message{{Content: ""}}}
	assert.Equal(t, resourceUntitled, p.title())

	p = &resourcePost{content: []*discordgo.Message{{Content: strings.Repeat("a", 150)}}}
	assert.Len(t, p.title(), MaxThreadTitleLength)
}

func TestResourcePost_SplitsLongContent(t *testing.T) {
	line := strings.Repeat("x", 900)
	p := &resourcePost{
		guildID: testGuildID,
		content: []*discordgo.Message{{ID: "1", ChannelID: "c", Content: strings.Join([]string{line, line, line}, "\n")}},
	}
	parts := p.textContent()
	require.Len(t, parts, 2)
	for _, part := range parts {
		assert.LessOrEqual(t, len(part), MaxMessageLength)
	}
	assert.True(t, strings.HasSuffix(parts[1], "by Unknown."))
}

func TestIsImageAttachment(t *testing.T) {
	assert.True(t, isImageAttachment(&discordgo.MessageAttachment{ContentType: "image/webp"}))
	assert.False(t, isImageAttachment(&discordgo.MessageAttachment{ContentType: "video/mp4", Filename: "a.png"}))
	assert.True(t, isImageAttachment(&discordgo.MessageAttachment{Filename: "photo.JPG"}))
	assert.False(t, isImageAttachment(&discordgo.MessageAttachment{Filename: "notes.txt"}))
}
