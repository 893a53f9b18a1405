package nellebot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"strconv"
	"sync"
	"testing"
	"time"
)

// recordingPublisher captures published notifications instead of
// queueing them
type recordingPublisher struct {
	mu        sync.Mutex
	published []Notification
}

func (p *recordingPublisher) Publish(_ context.Context, n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, n)
	return nil
}

func (p *recordingPublisher) all() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notification{}, p.published...)
}

func publishedOfType[T Notification](p *recordingPublisher) []T {
	var rv []T
	for _, n := range p.all() {
		if v, ok := n.(T); ok {
			rv = append(rv, v)
		}
	}
	return rv
}

// snowflakeAt returns a snowflake ID created at the given time
func snowflakeAt(t time.Time) string {
	const discordEpoch = 1420070400000
	return strconv.FormatInt((t.UnixMilli()-discordEpoch)<<22, 10)
}

// testEnv wires the services shared by handlers against a mock session
type testEnv struct {
	t         *testing.T
	session   *mockDiscordSession
	config    *BotConfig
	cache     *SharedCache
	resolver  *DiscordResolver
	logQueue  *DiscordLogQueue
	logger    *DiscordLogger
	errLogger *DiscordErrorLogger
	publisher *recordingPublisher

	mu     sync.Mutex
	logged []DiscordLogItem
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	session := newMockDiscordSession()
	config := testBotConfig()
	for id, name := range map[string]string{
		"role-mod":        "Moderator",
		"role-trusted":    "Trusted",
		"role-member":     "Member",
		"role-a":          "Learner",
		"role-b":          "Native",
		"role-ghost":      "Ghost",
		"role-spammer":    "Spammer",
		"role-quarantine": "Quarantine",
	} {
		session.roles = append(session.roles, &discordgo.Role{ID: id, Name: name})
	}
	cache := NewSharedCache()
	resolver := NewDiscordResolver(session, config.GuildID, cache, nil)
	resolver.SetBotUser(&discordgo.User{ID: testBotUserID, Username: "nellebot", Bot: true})
	session.addMember(testMember(testBotUserID, "nellebot"))

	logQueue := NewDiscordLogQueue(DefaultQueueSize)
	discordLogger := NewDiscordLogger(config, logQueue, nil, nil)
	return &testEnv{
		t:         t,
		session:   session,
		config:    config,
		cache:     cache,
		resolver:  resolver,
		logQueue:  logQueue,
		logger:    discordLogger,
		errLogger: NewDiscordErrorLogger(discordLogger),
		publisher: &recordingPublisher{},
	}
}

func (e *testEnv) quarantineService() *QuarantineService {
	return NewQuarantineService(
		e.config,
		e.session,
		e.resolver,
		e.publisher,
		e.errLogger,
		nil,
	)
}

// loggedTo returns the content of every Discord log message sent to
// channelID so far. Embeds are returned as their descriptions.
func (e *testEnv) loggedTo(channelID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.logQueue.Len() > 0 {
		item, err := e.logQueue.Read(context.Background())
		if err != nil {
			break
		}
		e.logged = append(e.logged, item)
	}
	var rv []string
	for _, item := range e.logged {
		if item.ChannelID != channelID {
			continue
		}
		if item.Message.Content != "" {
			rv = append(rv, item.Message.Content)
		}
		for _, embed := range item.Message.Embeds {
			rv = append(rv, embed.Description)
		}
	}
	return rv
}

func (e *testEnv) errorsLogged() []string {
	return e.loggedTo(e.config.ErrorLogChannelID)
}
