package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

type reportedError struct {
	Title   string
	Command string
	Message string
}

type recordingReporter struct {
	mu       sync.Mutex
	reported []reportedError
}

func (r *recordingReporter) LogCommandError(cmd CommandContext, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(
		r.reported,
		reportedError{Title: "Failed command", Command: cmd.CommandText(), Message: message},
	)
}

func (r *recordingReporter) LogError(title string, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, reportedError{Title: title, Message: message})
}

func (r *recordingReporter) errors() []reportedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reportedError{}, r.reported...)
}

type contextResponse struct {
	Method    string
	Content   string
	Ephemeral bool
}

// fakeSlashContext is a SlashContext recording responses in memory
type fakeSlashContext struct {
	mu           sync.Mutex
	acknowledged bool
	member       *discordgo.Member
	name         string
	responses    []contextResponse
}

func newFakeSlashContext(name string, member *discordgo.Member) *fakeSlashContext {
	return &fakeSlashContext{name: name, member: member}
}

func (f *fakeSlashContext) record(method string, content string, ephemeral bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(
		f.responses,
		contextResponse{Method: method, Content: content, Ephemeral: ephemeral},
	)
	f.acknowledged = true
}

func (f *fakeSlashContext) calls() []contextResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contextResponse{}, f.responses...)
}

func (f *fakeSlashContext) User() *discordgo.User {
	if f.member == nil {
		return nil
	}
	return f.member.User
}

func (f *fakeSlashContext) Member() *discordgo.Member { return f.member }
func (f *fakeSlashContext) GuildID() string            { return testGuildID }
func (f *fakeSlashContext) ChannelID() string          { return "channel-1" }
func (f *fakeSlashContext) CommandName() string        { return f.name }
func (f *fakeSlashContext) CommandText() string        { return f.name }

func (f *fakeSlashContext) Acknowledged() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acknowledged
}

func (f *fakeSlashContext) Interaction() *discordgo.InteractionCreate {
	return newTestInteraction(f.name, f.member)
}

func (f *fakeSlashContext) Respond(_ context.Context, content string, ephemeral bool) error {
	f.record("Respond", content, ephemeral)
	return nil
}

func (f *fakeSlashContext) RespondEmbeds(
	_ context.Context,
	embeds []*discordgo.MessageEmbed,
	ephemeral bool,
) error {
	var content string
	if len(embeds) > 0 {
		content = embeds[0].Title
	}
	f.record("RespondEmbeds", content, ephemeral)
	return nil
}

func (f *fakeSlashContext) Defer(_ context.Context, ephemeral bool) error {
	f.record("Defer", "", ephemeral)
	return nil
}

func (f *fakeSlashContext) Followup(_ context.Context, content string, ephemeral bool) error {
	f.record("Followup", content, ephemeral)
	return nil
}

// fakeTextContext is a CommandContext for a text command
type fakeTextContext struct {
	fakeSlashContext
}

type slashOnlyCommand struct {
	BotSlashCommand
}

type contextCommand struct {
	BotCommand
}

func failingNext(err error) HandlerNext {
	return func(context.Context) (any, error) {
		return nil, err
	}
}

func TestErrorPipeline_UserInputErrorUnacknowledgedSlash(t *testing.T) {
	reporter := &recordingReporter{}
	p := NewErrorPipeline(reporter, nil)
	sc := newFakeSlashContext("quarantine", testMember("1", "mod"))

	rv, err := p.Handle(
		context.Background(),
		slashOnlyCommand{BotSlashCommand{Ctx: sc}},
		failingNext(NewUserInputError("bad input")),
	)
	require.NoError(t, err)
	assert.Nil(t, rv)

	assert.Equal(
		t,
		[]contextResponse{{Method: "Respond", Content: "bad input", Ephemeral: true}},
		sc.calls(),
	)
	assert.Empty(t, reporter.errors())
}

func TestErrorPipeline_SlashAcknowledgedFollowsUp(t *testing.T) {
	reporter := &recordingReporter{}
	p := NewErrorPipeline(reporter, nil)
	sc := newFakeSlashContext("bm", testMember("1", "user"))
	sc.acknowledged = true

	_, err := p.Handle(
		context.Background(),
		slashOnlyCommand{BotSlashCommand{Ctx: sc}},
		failingNext(errors.New("lookup failed")),
	)
	require.NoError(t, err)
	assert.Equal(
		t,
		[]contextResponse{{Method: "Followup", Content: "lookup failed", Ephemeral: true}},
		sc.calls(),
	)
	require.Len(t, reporter.errors(), 1)
	assert.Equal(
		t,
		reportedError{Title: "Failed command", Command: "bm", Message: "lookup failed"},
		reporter.errors()[0],
	)
}

func TestErrorPipeline_BotCommandWithSlashContext(t *testing.T) {
	tests := []struct {
		name         string
		acknowledged bool
		expected     contextResponse
	}{
		{
			name:     "unacknowledged",
			expected: contextResponse{Method: "Respond", Content: "boom", Ephemeral: false},
		},
		{
			name:         "acknowledged",
			acknowledged: true,
			expected:     contextResponse{Method: "Followup", Content: "boom", Ephemeral: true},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewErrorPipeline(&recordingReporter{}, nil)
			sc := newFakeSlashContext("vkick", testMember("1", "mod"))
			sc.acknowledged = tc.acknowledged
			_, err := p.Handle(
				context.Background(),
				contextCommand{BotCommand{Ctx: sc}},
				failingNext(errors.New("boom")),
			)
			require.NoError(t, err)
			assert.Equal(t, []contextResponse{tc.expected}, sc.calls())
		})
	}
}

func TestErrorPipeline_InteractionError(t *testing.T) {
	reporter := &recordingReporter{}
	p := NewErrorPipeline(reporter, nil)
	sc := newFakeSlashContext("add-meta-message", testMember("1", "mod"))

	_, err := p.Handle(
		context.Background(),
		testCommand{},
		failingNext(NewInteractionError(sc, errors.New("Failed to add message: nope"))),
	)
	require.NoError(t, err)
	assert.Equal(
		t,
		[]contextResponse{{Method: "Respond", Content: "Failed to add message: nope", Ephemeral: true}},
		sc.calls(),
	)
	require.Len(t, reporter.errors(), 1)
	assert.Equal(t, "Failed nellebot.testCommand", reporter.errors()[0].Title)
}

func TestErrorPipeline_PlainRequest(t *testing.T) {
	reporter := &recordingReporter{}
	p := NewErrorPipeline(reporter, nil)

	_, err := p.Handle(context.Background(), testCommand{}, failingNext(errors.New("db down")))
	require.NoError(t, err)
	assert.Equal(
		t,
		[]reportedError{{Title: "Failed nellebot.testCommand", Message: "db down"}},
		reporter.errors(),
	)
}

func TestErrorPipeline_RecoversPanic(t *testing.T) {
	reporter := &recordingReporter{}
	p := NewErrorPipeline(reporter, nil)
	sc := newFakeSlashContext("oi", testMember("1", "user"))

	require.NotPanics(t, func() {
		_, err := p.Handle(
			context.Background(),
			contextCommand{BotCommand{Ctx: sc}},
			func(context.Context) (any, error) {
				panic("oh no")
			},
		)
		require.NoError(t, err)
	})
	require.Len(t, sc.calls(), 1)
	assert.Contains(t, sc.calls()[0].Content, "oh no")
	assert.NotContains(t, sc.calls()[0].Content, "goroutine")

	reported := reporter.errors()
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Message, "panic: oh no")
	assert.Contains(t, reported[0].Message, "goroutine")
	assert.Contains(t, reported[0].Message, "runtime/debug.Stack")
}

func TestErrorPipeline_PanicStackInErrorLog(t *testing.T) {
	env := newTestEnv(t)
	p := NewErrorPipeline(env.errLogger, nil)

	_, err := p.Handle(
		context.Background(),
		testCommand{},
		func(context.Context) (any, error) {
			panic("oh no")
		},
	)
	require.NoError(t, err)

	logged := env.errorsLogged()
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "panic: oh no")
	assert.Contains(t, logged[0], "goroutine")
	assert.LessOrEqual(t, utf8.RuneCountInString(logged[0]), MaxEmbedContentLength)
}

func TestErrorReport(t *testing.T) {
	assert.Equal(t, "db down", errorReport(errors.New("db down")))

	perr := &panicError{
		value: "x",
		err:   errors.New("x"),
		stack: []byte(strings.Repeat("goroutine 1 [running]:\n", 1000)),
	}
	report := errorReport(fmt.Errorf("wrapped: %w", perr))
	assert.True(t, strings.HasPrefix(report, "wrapped: panic: x\ngoroutine 1"))
	assert.Equal(
		t,
		len("wrapped: panic: x\n")+maxReportedStackLength,
		utf8.RuneCountInString(report),
	)
}

func TestErrorPipeline_PassesResultThrough(t *testing.T) {
	p := NewErrorPipeline(&recordingReporter{}, nil)
	rv, err := p.Handle(
		context.Background(),
		testQuery{},
		func(context.Context) (any, error) { return 42, nil },
	)
	require.NoError(t, err)
	assert.Equal(t, 42, rv)
}

func TestErrorPipeline_CanceledIsSilent(t *testing.T) {
	reporter := &recordingReporter{}
	p := NewErrorPipeline(reporter, nil)
	_, err := p.Handle(context.Background(), testCommand{}, failingNext(context.Canceled))
	require.NoError(t, err)
	assert.Empty(t, reporter.errors())
}

func TestErrorPipeline_TextContextResponds(t *testing.T) {
	reporter := &recordingReporter{}
	p := NewErrorPipeline(reporter, nil)
	tc := &fakeTextContext{fakeSlashContext{name: "!vkick"}}

	// fakeTextContext embeds a SlashContext implementation, so wrap it
	// to hide the SlashContext methods
	var cmdCtx CommandContext = struct{ CommandContext }{tc}
	_, err := p.Handle(
		context.Background(),
		contextCommand{BotCommand{Ctx: cmdCtx}},
		failingNext(NewUserInputError("You do not have access to this command")),
	)
	require.NoError(t, err)
	assert.Equal(
		t,
		[]contextResponse{{Method: "Respond", Content: "You do not have access to this command"}},
		tc.calls(),
	)
	assert.Empty(t, reporter.errors())
}
