package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"time"
)

type BotSettingsRepository struct {
	db *database
}

func NewBotSettingsRepository(db *database) *BotSettingsRepository {
	return &BotSettingsRepository{db: db}
}

// GetBotSetting returns the value of the setting, and false if it's
// never been set.
func (r *BotSettingsRepository) GetBotSetting(ctx context.Context, key string) (string, bool, error) {
	db, cancel := r.db.read(ctx)
	defer cancel()
	var setting BotSetting
	err := db.Where(&BotSetting{Key: key}).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error getting bot setting %q: %w", key, err)
	}
	return setting.Value, true, nil
}

// SaveBotSetting creates or replaces the setting
func (r *BotSettingsRepository) SaveBotSetting(ctx context.Context, key string, value string) error {
	return r.db.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: "key"}},
					DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
				},
			).Create(&BotSetting{Key: key, Value: value}).Error
		},
	)
}

type MessageTemplateRepository struct {
	db *database
}

func NewMessageTemplateRepository(db *database) *MessageTemplateRepository {
	return &MessageTemplateRepository{db: db}
}

func (r *MessageTemplateRepository) CreateMessageTemplate(
	ctx context.Context,
	templateType string,
	message string,
	authorID string,
) (*MessageTemplate, error) {
	tmpl := &MessageTemplate{
		ID:       uuid.NewString(),
		Type:     templateType,
		Message:  message,
		AuthorID: authorID,
	}
	if _, err := r.db.Create(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("error creating message template: %w", err)
	}
	return tmpl, nil
}

func (r *MessageTemplateRepository) GetAllMessageTemplates(
	ctx context.Context,
	templateType string,
) ([]MessageTemplate, error) {
	db, cancel := r.db.read(ctx)
	defer cancel()
	var templates []MessageTemplate
	err := db.Where("type = ?", templateType).Order("created_at").Find(&templates).Error
	if err != nil {
		return nil, fmt.Errorf("error listing message templates: %w", err)
	}
	return templates, nil
}

type UserLogRepository struct {
	db  *database
	now func() time.Time
}

func NewUserLogRepository(db *database) *UserLogRepository {
	return &UserLogRepository{db: db, now: time.Now}
}

// CreateUserLog records value as the latest value of the user's field.
// responsibleUserID is empty when the change wasn't made by another user.
func (r *UserLogRepository) CreateUserLog(
	ctx context.Context,
	userID string,
	value string,
	logType UserLogType,
	responsibleUserID string,
) error {
	entry := &UserLog{
		UserID:    userID,
		LogType:   logType,
		Value:     value,
		Timestamp: r.now().UnixMilli(),
	}
	if responsibleUserID != "" {
		entry.ResponsibleUserID = &responsibleUserID
	}
	if _, err := r.db.Create(ctx, entry); err != nil {
		return fmt.Errorf("error creating %s user log: %w", logType, err)
	}
	return nil
}

// GetLatestFieldForUser returns the most recent log of the given type,
// or nil if there are none.
func (r *UserLogRepository) GetLatestFieldForUser(
	ctx context.Context,
	userID string,
	logType UserLogType,
) (*UserLog, error) {
	db, cancel := r.db.read(ctx)
	defer cancel()
	var entry UserLog
	err := db.Where("user_id = ? AND log_type = ?", userID, logType).
		Order("timestamp desc, id desc").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user log: %w", err)
	}
	return &entry, nil
}

// GetLatestFieldsForUser returns the most recent log of each type
// recorded for the user.
func (r *UserLogRepository) GetLatestFieldsForUser(
	ctx context.Context,
	userID string,
) ([]UserLog, error) {
	db, cancel := r.db.read(ctx)
	defer cancel()
	var entries []UserLog
	err := db.Where("user_id = ?", userID).Order("timestamp desc, id desc").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("error listing user logs: %w", err)
	}
	seen := map[UserLogType]bool{}
	var latest []UserLog
	for _, e := range entries {
		if seen[e.LogType] {
			continue
		}
		seen[e.LogType] = true
		latest = append(latest, e)
	}
	return latest, nil
}

type ModmailTicketRepository struct {
	db  *database
	now func() time.Time
}

func NewModmailTicketRepository(db *database) *ModmailTicketRepository {
	return &ModmailTicketRepository{db: db, now: time.Now}
}

func (r *ModmailTicketRepository) CreateTicket(
	ctx context.Context,
	requesterID string,
	requesterDisplayName string,
	anonymous bool,
) (*ModmailTicket, error) {
	ticket := &ModmailTicket{
		ID:                   uuid.NewString(),
		RequesterID:          requesterID,
		RequesterDisplayName: requesterDisplayName,
		IsAnonymous:          anonymous,
		LastActivity:         r.now().UnixMilli(),
	}
	if _, err := r.db.Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("error creating modmail ticket: %w", err)
	}
	return ticket, nil
}

func (r *ModmailTicketRepository) getOpenTicket(
	ctx context.Context,
	query string,
	args ...any,
) (*ModmailTicket, error) {
	db, cancel := r.db.read(ctx)
	defer cancel()
	var ticket ModmailTicket
	err := db.Where("is_closed = ?", false).
		Where(query, args...).
		Order("created_at desc").
		Take(&ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting modmail ticket: %w", err)
	}
	return &ticket, nil
}

// GetOpenTicketByRequester returns the requester's open ticket, or nil
func (r *ModmailTicketRepository) GetOpenTicketByRequester(
	ctx context.Context,
	requesterID string,
) (*ModmailTicket, error) {
	return r.getOpenTicket(ctx, "requester_id = ?", requesterID)
}

// GetOpenTicketByForumPost returns the open ticket relayed to the given
// forum post, or nil
func (r *ModmailTicketRepository) GetOpenTicketByForumPost(
	ctx context.Context,
	forumPostID string,
) (*ModmailTicket, error) {
	return r.getOpenTicket(ctx, "forum_post_id = ?", forumPostID)
}

func (r *ModmailTicketRepository) SetForumPost(
	ctx context.Context,
	ticket *ModmailTicket,
	forumPostID string,
	forumPostMessageID string,
) error {
	_, err := r.db.Updates(
		ctx,
		ticket,
		map[string]any{
			"forum_post_id":         forumPostID,
			"forum_post_message_id": forumPostMessageID,
		},
	)
	if err != nil {
		return fmt.Errorf("error updating modmail ticket: %w", err)
	}
	return nil
}

func (r *ModmailTicketRepository) RefreshTicketActivity(
	ctx context.Context,
	ticket *ModmailTicket,
) error {
	_, err := r.db.Updates(ctx, ticket, map[string]any{"last_activity": r.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("error refreshing modmail ticket: %w", err)
	}
	return nil
}

func (r *ModmailTicketRepository) CloseTicket(ctx context.Context, ticket *ModmailTicket) error {
	_, err := r.db.Updates(ctx, ticket, map[string]any{"is_closed": true})
	if err != nil {
		return fmt.Errorf("error closing modmail ticket: %w", err)
	}
	return nil
}

// GetInactiveTickets returns open tickets without activity since before
func (r *ModmailTicketRepository) GetInactiveTickets(
	ctx context.Context,
	before time.Time,
) ([]ModmailTicket, error) {
	db, cancel := r.db.read(ctx)
	defer cancel()
	var tickets []ModmailTicket
	err := db.Where("is_closed = ? AND last_activity < ?", false, before.UnixMilli()).
		Order("last_activity").
		Find(&tickets).Error
	if err != nil {
		return nil, fmt.Errorf("error listing inactive modmail tickets: %w", err)
	}
	return tickets, nil
}

type MessageRefRepository struct {
	db *database
}

func NewMessageRefRepository(db *database) *MessageRefRepository {
	return &MessageRefRepository{db: db}
}

// CreateMessageRef records a message. Recording the same message twice
// is a no-op.
func (r *MessageRefRepository) CreateMessageRef(
	ctx context.Context,
	messageID string,
	channelID string,
	userID string,
) error {
	return r.db.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(
				&MessageRef{MessageID: messageID, ChannelID: channelID, UserID: userID},
			).Error
		},
	)
}

// GetMessageRef returns the recorded message, or nil
func (r *MessageRefRepository) GetMessageRef(ctx context.Context, messageID string) (*MessageRef, error) {
	db, cancel := r.db.read(ctx)
	defer cancel()
	var ref MessageRef
	err := db.Where("message_id = ?", messageID).Take(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting message ref: %w", err)
	}
	return &ref, nil
}

// GetMessageRefs returns the recorded messages among messageIDs
func (r *MessageRefRepository) GetMessageRefs(ctx context.Context, messageIDs []string) ([]MessageRef, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	db, cancel := r.db.read(ctx)
	defer cancel()
	var refs []MessageRef
	if err := db.Where("message_id IN ?", messageIDs).Find(&refs).Error; err != nil {
		return nil, fmt.Errorf("error getting message refs: %w", err)
	}
	return refs, nil
}
