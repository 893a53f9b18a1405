package nellebot

import (
	"context"
	"github.com/bwmarrin/discordgo"
)

// notificationPublisher is satisfied by NotificationPublisher, and by
// test doubles capturing published notifications.
type notificationPublisher interface {
	Publish(ctx context.Context, n Notification) error
}

// NotificationPublisher writes notifications to the EventQueue, where
// the event worker publishes them to their handlers.
type NotificationPublisher struct {
	queue *EventQueue
}

func NewNotificationPublisher(queue *EventQueue) *NotificationPublisher {
	return &NotificationPublisher{queue: queue}
}

// Publish enqueues n, blocking while the EventQueue is full
func (p *NotificationPublisher) Publish(ctx context.Context, n Notification) error {
	return p.queue.Write(ctx, n)
}

type ClientReadyNotification struct {
	BaseNotification
	User *discordgo.User
}

type MemberJoinedNotification struct {
	BaseNotification
	Member *discordgo.Member
}

// MemberRemovedNotification is published when a member leaves, or is
// kicked. Member is the last known state of the member.
type MemberRemovedNotification struct {
	BaseNotification
	GuildID string
	Member  *discordgo.Member
}

type MemberUpdatedNotification struct {
	BaseNotification
	Member *discordgo.Member

	// Before is the member's previous state, when known
	Before *discordgo.Member
}

type MemberBannedNotification struct {
	BaseNotification
	GuildID string
	User    *discordgo.User
}

type MemberUnbannedNotification struct {
	BaseNotification
	GuildID string
	User    *discordgo.User
}

type MessageCreatedNotification struct {
	BaseNotification
	Message *discordgo.Message
}

type MessageDeletedNotification struct {
	BaseNotification
	MessageID string
	ChannelID string
	GuildID   string

	// Before is the message before deletion, when known
	Before *discordgo.Message
}

type MessagesBulkDeletedNotification struct {
	BaseNotification
	ChannelID  string
	GuildID    string
	MessageIDs []string

	// Before holds the deleted messages still in the state cache
	Before []*discordgo.Message
}

// MemberApprovedNotification is published when a member passes
// verification or is approved by a moderator. Responsible is the
// bot's own member for automatic approvals.
type MemberApprovedNotification struct {
	BaseNotification
	Member      *discordgo.Member
	Responsible *discordgo.Member
}

// MemberQuarantinedNotification is published when a member is given
// the quarantine role. Responsible is the bot's own member for
// automatic quarantines.
type MemberQuarantinedNotification struct {
	BaseNotification
	Member      *discordgo.Member
	Responsible *discordgo.Member
	Reason      string
}

// BufferedMemberLeftNotification carries the display names of members
// who left within one goodbye buffer window.
type BufferedMemberLeftNotification struct {
	BaseNotification
	Usernames []string
}
