package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const (
	unknownModerator = "Unknown mod"
	unknownUser      = "Unknown user"
	noReasonProvided = "*No reason provided*"
	noNickname       = "*no nickname*"

	// choosing more user-assignable roles than this at once is
	// reported as possible bot behavior
	suspiciousNewRoleCount = 3

	// repeated deletions in a channel increment an existing audit log
	// entry instead of creating a new one
	messageDeleteAuditLogMaxAge = time.Hour
)

// activityLogHandler reports member and moderation activity to the log
// channels, and keeps the user log history.
type activityLogHandler struct {
	config        *BotConfig
	resolver      *DiscordResolver
	discordLogger *DiscordLogger
	errorLogger   errorLogger
	userLogs      *UserLogRepository
	messageRefs   *MessageRefRepository
	logger        *slog.Logger
	now           func() time.Time
}

func newActivityLogHandler(
	config *BotConfig,
	resolver *DiscordResolver,
	discordLogger *DiscordLogger,
	errorLogger errorLogger,
	userLogs *UserLogRepository,
	messageRefs *MessageRefRepository,
	logger *slog.Logger,
) *activityLogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &activityLogHandler{
		config:        config,
		resolver:      resolver,
		discordLogger: discordLogger,
		errorLogger:   errorLogger,
		userLogs:      userLogs,
		messageRefs:   messageRefs,
		logger:        logger.With(loggerNameKey, "activity_log"),
		now:           time.Now,
	}
}

func (h *activityLogHandler) register(b *MediatorBuilder) {
	HandleNotification(b, "activity_log", h.memberBanned)
	HandleNotification(b, "activity_log", h.memberUnbanned)
	HandleNotification(b, "activity_log", h.memberJoined)
	HandleNotification(b, "activity_log", h.memberRemoved)
	HandleNotification(b, "activity_log", h.memberUpdated)
	HandleNotification(b, "activity_log", h.messageDeleted)
	HandleNotification(b, "activity_log", h.messagesBulkDeleted)
	HandleNotification(b, "activity_log", h.memberApproved)
	HandleNotification(b, "activity_log", h.memberQuarantined)
	HandleNotification(b, "message_ref", h.messageCreated)
}

// responsibleName returns the display name of the user responsible for
// an audit log entry, or fallback if there isn't one.
func (h *activityLogHandler) responsibleName(
	ctx context.Context,
	responsible *discordgo.User,
	fallback string,
) string {
	if responsible == nil {
		return fallback
	}
	if m, err := h.resolver.ResolveGuildMember(ctx, responsible.ID); err == nil {
		return memberDisplayName(m)
	}
	return userDisplayName(responsible)
}

func (h *activityLogHandler) memberBanned(ctx context.Context, n MemberBannedNotification) error {
	if n.User == nil {
		return nil
	}
	entry, responsible, err := h.resolver.ResolveAuditLogEntry(
		ctx,
		discordgo.AuditLogActionMemberBanAdd,
		auditTarget(n.User.ID),
		auditLogMaxAge,
	)
	if err != nil || entry == nil {
		return err
	}
	h.discordLogger.LogActivityMessage(
		fmt.Sprintf(
			"**%s** was banned by **%s**. Reason: %s.",
			detailedUserIdentifier(n.User),
			h.responsibleName(ctx, responsible, unknownModerator),
			nullOrWhiteSpaceTo(entry.Reason, noReasonProvided),
		),
	)
	return nil
}

func (h *activityLogHandler) memberUnbanned(ctx context.Context, n MemberUnbannedNotification) error {
	if n.User == nil {
		return nil
	}
	entry, responsible, err := h.resolver.ResolveAuditLogEntry(
		ctx,
		discordgo.AuditLogActionMemberBanRemove,
		auditTarget(n.User.ID),
		auditLogMaxAge,
	)
	if err != nil || entry == nil {
		return err
	}
	h.discordLogger.LogActivityMessage(
		fmt.Sprintf(
			"**%s** was unbanned by **%s**.",
			detailedUserIdentifier(n.User),
			h.responsibleName(ctx, responsible, unknownModerator),
		),
	)
	return nil
}

func (h *activityLogHandler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

func (h *activityLogHandler) memberJoined(ctx context.Context, n MemberJoinedNotification) error {
	m := n.Member
	if m == nil || m.User == nil {
		return nil
	}
	h.discordLogger.LogActivityMessage(fmt.Sprintf("**%s** joined the server", detailedMemberIdentifier(m)))
	return errors.Join(
		h.userLogs.CreateUserLog(ctx, m.User.ID, h.timestamp(), UserLogTypeJoinedServer, ""),
		h.userLogs.CreateUserLog(ctx, m.User.ID, fullUsername(m.User), UserLogTypeUsernameChange, ""),
	)
}

func (h *activityLogHandler) memberRemoved(ctx context.Context, n MemberRemovedNotification) error {
	m := n.Member
	if m == nil || m.User == nil {
		return nil
	}
	identifier := detailedMemberIdentifier(m)

	entry, responsible, err := h.resolver.ResolveAuditLogEntry(
		ctx,
		discordgo.AuditLogActionMemberKick,
		auditTarget(m.User.ID),
		auditLogMaxAge,
	)
	if err != nil {
		h.logger.WarnContext(ctx, "unable to check audit log for kick", tint.Err(err))
	}
	if entry == nil {
		h.discordLogger.LogActivityMessage(fmt.Sprintf("**%s** left the server", identifier))
		return h.userLogs.CreateUserLog(ctx, m.User.ID, h.timestamp(), UserLogTypeLeftServer, "")
	}

	h.discordLogger.LogActivityMessage(
		fmt.Sprintf(
			"**%s** was kicked by **%s**. Reason: %s.",
			identifier,
			h.responsibleName(ctx, responsible, unknownModerator),
			nullOrWhiteSpaceTo(entry.Reason, noReasonProvided),
		),
	)
	var responsibleID string
	if responsible != nil {
		responsibleID = responsible.ID
	}
	return h.userLogs.CreateUserLog(ctx, m.User.ID, h.timestamp(), UserLogTypeLeftServer, responsibleID)
}

func (h *activityLogHandler) memberUpdated(ctx context.Context, n MemberUpdatedNotification) error {
	m := n.Member
	if m == nil || m.User == nil {
		return nil
	}
	roleChanges, roleErr := h.checkRoles(ctx, n)
	nicknameChanged, nickErr := h.checkNickname(ctx, n)
	usernameChanged, userErr := h.checkUsername(ctx, n)

	total := roleChanges
	if nicknameChanged {
		total++
	}
	if usernameChanged {
		total++
	}
	if total > 2 {
		h.discordLogger.LogExtendedActivityMessage(fmt.Sprintf("Member update contained %d changes", total))
	}
	return errors.Join(roleErr, nickErr, userErr)
}

func (h *activityLogHandler) checkRoles(ctx context.Context, n MemberUpdatedNotification) (int, error) {
	if n.Before == nil {
		return 0, nil
	}
	m := n.Member
	added, removed := roleDiff(n.Before.Roles, m.Roles)
	if len(added)+len(removed) == 0 {
		return 0, nil
	}
	names, err := h.resolver.RoleNames(ctx, append(slices.Clone(added), removed...))
	if err != nil {
		return 0, err
	}
	roleName := func(id string) string {
		if name, ok := names[id]; ok {
			return name
		}
		return id
	}
	joinNames := func(ids []string) string {
		rv := make([]string, len(ids))
		for i, id := range ids {
			rv[i] = roleName(id)
		}
		return strings.Join(rv, ", ")
	}

	mention := m.User.Mention()
	if len(added) > 0 {
		h.discordLogger.LogActivityMessage(
			fmt.Sprintf("Added roles to **%s**: %s", memberDisplayName(m), joinNames(added)),
		)
		var assignable int
		for _, id := range added {
			h.discordLogger.LogExtendedActivityMessage(
				fmt.Sprintf("Role change for %s: Added %s.", mention, roleName(id)),
			)
			if slices.Contains(h.config.UserAssignableRoleIDs, id) {
				assignable++
			}
		}
		if assignable > suspiciousNewRoleCount {
			h.discordLogger.LogTrustedChannelMessage(
				fmt.Sprintf(
					"Awoooooo! **%s** chose %d roles in one go. Possibly bot.",
					detailedMemberIdentifier(m),
					assignable,
				),
			)
		}
	}

	var logErr error
	if len(removed) > 0 {
		h.discordLogger.LogActivityMessage(
			fmt.Sprintf("Removed roles from **%s**: %s", memberDisplayName(m), joinNames(removed)),
		)
		for _, id := range removed {
			h.discordLogger.LogExtendedActivityMessage(
				fmt.Sprintf("Role change for %s: Removed %s.", mention, roleName(id)),
			)
			if id == h.config.QuarantineRoleID {
				logErr = h.userLogs.CreateUserLog(ctx, m.User.ID, "", UserLogTypeApproved, "")
			}
		}
	}
	return len(added) + len(removed), logErr
}

// previousValue returns before, or the last recorded value when before
// is unknown or unchanged. known is false if there's no previous value
// at all.
func (h *activityLogHandler) previousValue(
	ctx context.Context,
	userID string,
	logType UserLogType,
	before string,
	after string,
) (previous string, known bool, err error) {
	if strings.TrimSpace(before) != "" && before != after {
		return before, true, nil
	}
	latest, err := h.userLogs.GetLatestFieldForUser(ctx, userID, logType)
	if err != nil {
		return "", false, err
	}
	if latest == nil {
		return before, before != "", nil
	}
	return latest.Value, true, nil
}

func (h *activityLogHandler) checkNickname(ctx context.Context, n MemberUpdatedNotification) (bool, error) {
	m := n.Member
	var before string
	if n.Before != nil {
		before = n.Before.Nick
	}
	previous, known, err := h.previousValue(ctx, m.User.ID, UserLogTypeNicknameChange, before, m.Nick)
	if err != nil {
		return false, err
	}
	if previous == m.Nick {
		return false, nil
	}
	if !known || previous == "" {
		previous = noNickname
	}
	h.discordLogger.LogExtendedActivityMessage(
		fmt.Sprintf(
			"Nickname change for %s. %s => %s.",
			m.User.Mention(),
			previous,
			nullOrWhiteSpaceTo(m.Nick, noNickname),
		),
	)
	return true, h.userLogs.CreateUserLog(ctx, m.User.ID, m.Nick, UserLogTypeNicknameChange, "")
}

func (h *activityLogHandler) checkUsername(ctx context.Context, n MemberUpdatedNotification) (bool, error) {
	m := n.Member
	after := fullUsername(m.User)
	var before string
	if n.Before != nil {
		before = fullUsername(n.Before.User)
	}
	previous, known, err := h.previousValue(ctx, m.User.ID, UserLogTypeUsernameChange, before, after)
	if err != nil {
		return false, err
	}
	if previous == after {
		return false, nil
	}
	if !known {
		previous = "??"
	}
	h.discordLogger.LogExtendedActivityMessage(
		fmt.Sprintf("Username change for %s. %s => %s.", m.User.Mention(), previous, nullOrWhiteSpaceTo(after, "??")),
	)
	return true, h.userLogs.CreateUserLog(ctx, m.User.ID, after, UserLogTypeUsernameChange, "")
}

func (h *activityLogHandler) isLogChannel(channelID string) bool {
	return channelID == h.config.ActivityLogChannelID || channelID == h.config.ExtendedActivityLogChannelID
}

func (h *activityLogHandler) channelName(ctx context.Context, channelID string) string {
	if ch, err := h.resolver.ResolveChannel(ctx, channelID); err == nil && ch.Name != "" {
		return ch.Name
	}
	return channelID
}

// deletedMessage is a deleted message, with its author filled in from
// the recorded message refs when the state cache didn't have it.
type deletedMessage struct {
	ID        string
	ChannelID string
	AuthorID  string
	Author    *discordgo.User
	Content   string
	Timestamp time.Time
}

func (d deletedMessage) authorName(ctx context.Context, resolver *DiscordResolver) string {
	if m, err := resolver.ResolveGuildMember(ctx, d.AuthorID); err == nil {
		return detailedMemberIdentifier(m)
	}
	if d.Author != nil {
		return detailedUserIdentifier(d.Author)
	}
	return unknownUser
}

func (h *activityLogHandler) messageDeleted(ctx context.Context, n MessageDeletedNotification) error {
	if n.GuildID == "" || h.isLogChannel(n.ChannelID) {
		return nil
	}
	if n.Before != nil && n.Before.Author != nil && n.Before.Author.Bot {
		return nil
	}
	channelName := h.channelName(ctx, n.ChannelID)

	msg, err := h.enrichMessage(ctx, n.MessageID, n.ChannelID, n.Before)
	if err != nil {
		return err
	}
	if msg == nil {
		h.errorLogger.LogWarning("Message deleted", fmt.Sprintf("Could not resolve message id %s", n.MessageID))
		h.discordLogger.LogExtendedActivityMessage(
			fmt.Sprintf("An unknown message in **%s** was removed", channelName),
		)
		return nil
	}

	entry, responsible, err := h.resolver.ResolveAuditLogEntry(
		ctx,
		discordgo.AuditLogActionMessageDelete,
		auditChannel(n.ChannelID),
		messageDeleteAuditLogMaxAge,
	)
	if err != nil || entry == nil {
		// most likely deleted by its author
		return err
	}
	if responsible == nil {
		h.errorLogger.LogWarning(
			"Message deleted",
			"Could not find any responsible user for the message delete event.",
		)
		return nil
	}
	if responsible.ID == msg.AuthorID {
		return nil
	}

	logMessage := fmt.Sprintf(
		"Message written by **%s** in **%s** was removed by **%s**.",
		msg.authorName(ctx, h.resolver),
		channelName,
		h.responsibleName(ctx, responsible, unknownModerator),
	)
	h.discordLogger.LogActivityMessage(logMessage)
	if strings.TrimSpace(msg.Content) != "" {
		logMessage += " Original message:\n" + quote(msg.Content)
	}
	h.discordLogger.LogExtendedActivityMessage(logMessage)
	return nil
}

// enrichMessage returns the deleted message, or nil when neither the
// state cache nor the message refs know its author.
func (h *activityLogHandler) enrichMessage(
	ctx context.Context,
	messageID string,
	channelID string,
	before *discordgo.Message,
) (*deletedMessage, error) {
	msg := &deletedMessage{ID: messageID, ChannelID: channelID}
	if before != nil {
		msg.Content = before.Content
		msg.Timestamp = before.Timestamp
		if before.Author != nil {
			msg.Author = before.Author
			msg.AuthorID = before.Author.ID
			return msg, nil
		}
	}
	ref, err := h.messageRefs.GetMessageRef(ctx, messageID)
	if err != nil || ref == nil {
		return nil, err
	}
	msg.AuthorID = ref.UserID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.UnixMilli(ref.CreatedAt)
	}
	return msg, nil
}

func (h *activityLogHandler) messagesBulkDeleted(ctx context.Context, n MessagesBulkDeletedNotification) error {
	if n.GuildID == "" || h.isLogChannel(n.ChannelID) {
		return nil
	}
	if len(n.MessageIDs) == 0 {
		h.errorLogger.LogWarning("Messages bulk deleted", "Notification contained no messages.")
		return nil
	}

	messages, err := h.enrichMessages(ctx, n)
	if err != nil {
		return err
	}
	channelName := h.channelName(ctx, n.ChannelID)

	var authorIDs []string
	byAuthor := map[string][]deletedMessage{}
	for _, m := range messages {
		if _, ok := byAuthor[m.AuthorID]; !ok {
			authorIDs = append(authorIDs, m.AuthorID)
		}
		byAuthor[m.AuthorID] = append(byAuthor[m.AuthorID], m)
	}

	for _, authorID := range authorIDs {
		authorMessages := byAuthor[authorID]
		authorName := authorMessages[0].authorName(ctx, h.resolver)
		responsible := h.bulkDeleteResponsible(ctx, n.ChannelID, authorID, authorName)

		summary := fmt.Sprintf(
			"%d messages written by **%s** were removed by **%s**.",
			len(authorMessages),
			authorName,
			h.responsibleName(ctx, responsible, unknownModerator),
		)
		h.discordLogger.LogActivityMessage(summary)

		var sb strings.Builder
		sb.WriteString(summary)
		sb.WriteString("\n")
		for _, m := range authorMessages {
			sb.WriteString(fmt.Sprintf("\nIn %s at %s:\n", channelName, m.Timestamp.UTC().Format(time.RFC3339)))
			if strings.TrimSpace(m.Content) != "" {
				sb.WriteString(quote(m.Content))
				sb.WriteString("\n")
			}
		}
		for _, chunk := range chunkLines(strings.TrimSpace(sb.String()), MaxMessageLength) {
			h.discordLogger.LogExtendedActivityMessage(chunk)
		}
	}
	return nil
}

// bulkDeleteResponsible finds who bulk deleted messages in a channel.
// Messages are also bulk deleted when their author is banned.
func (h *activityLogHandler) bulkDeleteResponsible(
	ctx context.Context,
	channelID string,
	authorID string,
	authorName string,
) *discordgo.User {
	entry, responsible, err := h.resolver.ResolveAuditLogEntry(
		ctx,
		discordgo.AuditLogActionMessageBulkDelete,
		auditTarget(channelID),
		auditLogMaxAge,
	)
	if err == nil && entry != nil {
		return responsible
	}
	entry, responsible, err = h.resolver.ResolveAuditLogEntry(
		ctx,
		discordgo.AuditLogActionMemberBanAdd,
		auditTarget(authorID),
		auditLogMaxAge,
	)
	if err == nil && entry != nil {
		return responsible
	}
	h.errorLogger.LogWarning(
		"Messages bulk deleted",
		fmt.Sprintf("Could not find any audit log entry for %s", authorName),
	)
	return nil
}

func (h *activityLogHandler) enrichMessages(
	ctx context.Context,
	n MessagesBulkDeletedNotification,
) ([]deletedMessage, error) {
	cached := make(map[string]*discordgo.Message, len(n.Before))
	for _, m := range n.Before {
		if m != nil {
			cached[m.ID] = m
		}
	}
	var messages []deletedMessage
	var missing []string
	for _, id := range n.MessageIDs {
		m, ok := cached[id]
		if !ok || m.Author == nil {
			missing = append(missing, id)
			continue
		}
		messages = append(
			messages,
			deletedMessage{
				ID:        id,
				ChannelID: n.ChannelID,
				AuthorID:  m.Author.ID,
				Author:    m.Author,
				Content:   m.Content,
				Timestamp: m.Timestamp,
			},
		)
	}
	refs, err := h.messageRefs.GetMessageRefs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		msg := deletedMessage{
			ID:        ref.MessageID,
			ChannelID: ref.ChannelID,
			AuthorID:  ref.UserID,
			Timestamp: time.UnixMilli(ref.CreatedAt),
		}
		if m, ok := cached[ref.MessageID]; ok {
			msg.Content = m.Content
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (h *activityLogHandler) memberApproved(ctx context.Context, n MemberApprovedNotification) error {
	if n.Member == nil || n.Member.User == nil {
		return nil
	}
	h.discordLogger.LogExtendedActivityMessage(
		fmt.Sprintf(
			"%s has been approved by **%s**.",
			n.Member.User.Mention(),
			nullOrWhiteSpaceTo(memberDisplayName(n.Responsible), unknownModerator),
		),
	)
	return h.userLogs.CreateUserLog(ctx, n.Member.User.ID, "", UserLogTypeApproved, responsibleID(n.Responsible))
}

func (h *activityLogHandler) memberQuarantined(ctx context.Context, n MemberQuarantinedNotification) error {
	if n.Member == nil || n.Member.User == nil {
		return nil
	}
	h.discordLogger.LogTrustedChannelMessage(
		fmt.Sprintf(
			"Awoooooo! **%s** has been quarantined. Reason: %s.",
			detailedMemberIdentifier(n.Member),
			n.Reason,
		),
	)
	h.discordLogger.LogExtendedActivityMessage(
		fmt.Sprintf(
			"%s has been quarantined by **%s**.",
			n.Member.User.Mention(),
			nullOrWhiteSpaceTo(memberDisplayName(n.Responsible), unknownModerator),
		),
	)
	return h.userLogs.CreateUserLog(
		ctx,
		n.Member.User.ID,
		n.Reason,
		UserLogTypeQuarantined,
		responsibleID(n.Responsible),
	)
}

// messageCreated records the author of every guild message, so
// authors can be named when messages are deleted.
func (h *activityLogHandler) messageCreated(ctx context.Context, n MessageCreatedNotification) error {
	m := n.Message
	if m == nil || m.GuildID == "" || m.Author == nil || m.WebhookID != "" {
		return nil
	}
	return h.messageRefs.CreateMessageRef(ctx, m.ID, m.ChannelID, m.Author.ID)
}

func responsibleID(m *discordgo.Member) string {
	if m == nil || m.User == nil {
		return ""
	}
	return m.User.ID
}
