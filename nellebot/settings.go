package nellebot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	settingGreetingMessage   = "GreetingMessage"
	settingQuarantineMessage = "QuarantineMessage"
	settingLastHeartbeat     = "LastHeartbeat"
	settingAdminUsername     = "AdminUsername"
	settingAdminPassword     = "AdminPasswordHash"

	templateUserVariable   = "$USER"
	templateReasonVariable = "$REASON"
)

// maxGoodbyeMessageLength leaves room in the message for the
// substituted username.
const maxGoodbyeMessageLength = 1800

// BotSettingsService reads and writes the runtime-editable settings.
// Message templates are cached, and flushed on every instance when
// they're changed.
type BotSettingsService struct {
	settings  *BotSettingsRepository
	templates *MessageTemplateRepository
	cache     *SharedCache
	notifier  settingsNotifier
	ttl       time.Duration
}

func NewBotSettingsService(
	settings *BotSettingsRepository,
	templates *MessageTemplateRepository,
	cache *SharedCache,
	notifier settingsNotifier,
	ttl time.Duration,
) *BotSettingsService {
	if ttl <= 0 {
		ttl = DefaultSettingsCacheTTL
	}
	return &BotSettingsService{
		settings:  settings,
		templates: templates,
		cache:     cache,
		notifier:  notifier,
		ttl:       ttl,
	}
}

type cachedSetting struct {
	Value string
	Found bool
}

func (s *BotSettingsService) cachedSetting(ctx context.Context, key string) (cachedSetting, error) {
	return loadFromCache(
		s.cache,
		key,
		s.ttl,
		func() (cachedSetting, error) {
			v, ok, err := s.settings.GetBotSetting(ctx, key)
			return cachedSetting{Value: v, Found: ok}, err
		},
	)
}

func (s *BotSettingsService) saveCachedSetting(ctx context.Context, key string, value string) error {
	if err := s.settings.SaveBotSetting(ctx, key, value); err != nil {
		return err
	}
	s.flush(ctx, key)
	return nil
}

func (s *BotSettingsService) flush(ctx context.Context, key string) {
	if s.notifier == nil {
		s.cache.Flush(key)
		return
	}
	s.notifier.FlushCache(ctx, key)
}

func (s *BotSettingsService) SetGreetingMessage(ctx context.Context, message string) error {
	return s.saveCachedSetting(ctx, settingGreetingMessage, message)
}

// GetGreetingMessage returns the greeting for the mentioned user, and
// false if no greeting has been set.
func (s *BotSettingsService) GetGreetingMessage(ctx context.Context, userMention string) (string, bool, error) {
	setting, err := s.cachedSetting(ctx, settingGreetingMessage)
	if err != nil || !setting.Found {
		return "", false, err
	}
	return strings.ReplaceAll(setting.Value, templateUserVariable, userMention), true, nil
}

func (s *BotSettingsService) SetQuarantineMessage(ctx context.Context, message string) error {
	return s.saveCachedSetting(ctx, settingQuarantineMessage, message)
}

// GetQuarantineMessage returns the quarantine message for the mentioned
// user, and false if no quarantine message has been set.
func (s *BotSettingsService) GetQuarantineMessage(
	ctx context.Context,
	userMention string,
	reason string,
) (string, bool, error) {
	setting, err := s.cachedSetting(ctx, settingQuarantineMessage)
	if err != nil || !setting.Found {
		return "", false, err
	}
	msg := strings.ReplaceAll(setting.Value, templateUserVariable, userMention)
	return strings.ReplaceAll(msg, templateReasonVariable, reason), true, nil
}

// AddGoodbyeMessage saves a new goodbye template, which must contain
// the user variable.
func (s *BotSettingsService) AddGoodbyeMessage(ctx context.Context, message string, authorID string) error {
	message = strings.TrimSpace(message)
	if !strings.Contains(message, templateUserVariable) {
		return NewUserInputError("Message must contain %s", templateUserVariable)
	}
	if len([]rune(message)) > maxGoodbyeMessageLength {
		return NewUserInputError("Message can't be longer than %d characters", maxGoodbyeMessageLength)
	}
	_, err := s.templates.CreateMessageTemplate(ctx, messageTemplateTypeGoodbye, message, authorID)
	if err != nil {
		return err
	}
	s.flush(ctx, cacheKeyGoodbyeMessages)
	return nil
}

func (s *BotSettingsService) GetGoodbyeMessages(ctx context.Context) ([]string, error) {
	return loadFromCache(
		s.cache,
		cacheKeyGoodbyeMessages,
		s.ttl,
		func() ([]string, error) {
			templates, err := s.templates.GetAllMessageTemplates(ctx, messageTemplateTypeGoodbye)
			if err != nil {
				return nil, err
			}
			messages := make([]string, 0, len(templates))
			for _, t := range templates {
				messages = append(messages, t.Message)
			}
			return messages, nil
		},
	)
}

func (s *BotSettingsService) SetLastHeartbeat(ctx context.Context, t time.Time) error {
	return s.settings.SaveBotSetting(ctx, settingLastHeartbeat, strconv.FormatInt(t.UnixMilli(), 10))
}

// GetLastHeartbeat returns the last stored heartbeat, and false if
// there isn't a valid one.
func (s *BotSettingsService) GetLastHeartbeat(ctx context.Context) (time.Time, bool, error) {
	v, ok, err := s.settings.GetBotSetting(ctx, settingLastHeartbeat)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// SetAdminCredentials stores the admin API username, and an argon2
// hash of the password.
func (s *BotSettingsService) SetAdminCredentials(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	if err = s.settings.SaveBotSetting(ctx, settingAdminUsername, username); err != nil {
		return err
	}
	return s.settings.SaveBotSetting(ctx, settingAdminPassword, hash)
}

// VerifyAdminCredentials reports whether the username and password
// match the stored admin credentials. It's false if none are set.
func (s *BotSettingsService) VerifyAdminCredentials(
	ctx context.Context,
	username string,
	password string,
) (bool, error) {
	storedUser, ok, err := s.settings.GetBotSetting(ctx, settingAdminUsername)
	if err != nil || !ok {
		return false, err
	}
	hash, ok, err := s.settings.GetBotSetting(ctx, settingAdminPassword)
	if err != nil || !ok {
		return false, err
	}
	valid, err := verifyPassword(hash, password)
	if err != nil {
		return false, err
	}
	return valid && storedUser == username, nil
}

// AdminCredentialsSet reports whether the admin credentials have been
// initialized.
func (s *BotSettingsService) AdminCredentialsSet(ctx context.Context) (bool, error) {
	_, ok, err := s.settings.GetBotSetting(ctx, settingAdminPassword)
	return ok, err
}
