package nellebot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteExecPragma = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix millisecond timestamps
// for creation and update, and soft deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// BotSetting is a key/value setting editable at runtime through commands,
// ex: the greeting message.
type BotSetting struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `json:"value"`
	ModelUnixTime
}

const messageTemplateTypeGoodbye = "goodbye"

type MessageTemplate struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Type     string `gorm:"index;not null" json:"type"`
	Message  string `gorm:"not null" json:"message"`
	AuthorID string `json:"author_id"`
	ModelUnixTime
}

// ModmailTicket is a conversation between a member (over DM) and the
// moderators (in a forum post).
type ModmailTicket struct {
	ID                   string `gorm:"primaryKey" json:"id"`
	RequesterID          string `gorm:"index;not null" json:"requester_id"`
	RequesterDisplayName string `json:"requester_display_name"`
	IsAnonymous          bool   `json:"is_anonymous"`
	ForumPostID          string `gorm:"index" json:"forum_post_id"`
	ForumPostMessageID   string `json:"forum_post_message_id"`
	LastActivity         int64  `gorm:"index" json:"last_activity"`
	IsClosed             bool   `gorm:"index" json:"is_closed"`
	ModelUnixTime
}

// UserLogType identifies the field a UserLog records. The values are
// stored, and must not be renumbered.
type UserLogType int

const (
	UserLogTypeUnknown        UserLogType = 0
	UserLogTypeUsernameChange UserLogType = 1
	UserLogTypeNicknameChange UserLogType = 2
	UserLogTypeJoinedServer   UserLogType = 5
	UserLogTypeLeftServer     UserLogType = 6
	UserLogTypeQuarantined    UserLogType = 7
	UserLogTypeApproved       UserLogType = 8
)

func (t UserLogType) String() string {
	switch t {
	case UserLogTypeUsernameChange:
		return "username_change"
	case UserLogTypeNicknameChange:
		return "nickname_change"
	case UserLogTypeJoinedServer:
		return "joined_server"
	case UserLogTypeLeftServer:
		return "left_server"
	case UserLogTypeQuarantined:
		return "quarantined"
	case UserLogTypeApproved:
		return "approved"
	default:
		return "unknown"
	}
}

// UserLog is a historical value of a member's field. Timestamps are
// Unix milliseconds.
type UserLog struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	UserID            string      `gorm:"index:idx_user_log_type;not null" json:"user_id"`
	LogType           UserLogType `gorm:"index:idx_user_log_type;not null" json:"log_type"`
	Value             string      `json:"value"`
	ResponsibleUserID *string     `json:"responsible_user_id,omitempty"`
	Timestamp         int64       `gorm:"index;not null" json:"timestamp"`
}

// MessageRef records the author of a guild message, so the author of
// a deleted message can still be named.
type MessageRef struct {
	MessageID string `gorm:"primaryKey" json:"message_id"`
	ChannelID string `gorm:"not null" json:"channel_id"`
	UserID    string `gorm:"index;not null" json:"user_id"`
	CreatedAt int64  `gorm:"autoCreateTime:milli" json:"created_at"`
}

// database wraps a gorm connection. Writes are serialized unless
// concurrent writes are enabled, because sqlite only allows a single
// writer.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

func newDatabase(db *gorm.DB, logger *slog.Logger, enableConcurrentWrites bool) *database {
	if logger == nil {
		logger = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 logger.With(loggerNameKey, "database"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() func() {
	if d.enableConcurrentWrites {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

// withTimeout applies dbOperationTimeout to ctx when it has no deadline
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

// read returns a session bound to ctx, for queries. The returned
// cancel func must be called once the query completes.
func (d *database) read(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := withTimeout(ctx)
	return d.db.WithContext(ctx), cancel
}

func (d *database) Create(ctx context.Context, value any) (rowsAffected int64, err error) {
	defer d.lock()()
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rv := d.db.WithContext(ctx).Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any) (rowsAffected int64, err error) {
	defer d.lock()()
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (rowsAffected int64, err error) {
	defer d.lock()()
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) UpdatesWhere(
	ctx context.Context,
	model any,
	values map[string]any,
	query any,
	conds ...any,
) (rowsAffected int64, err error) {
	defer d.lock()()
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rv := d.db.WithContext(ctx).Model(model).Where(query, conds...).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) error {
	defer d.lock()()
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

// CreateDB opens the database and migrates the schema.
//   - databaseType must be 'sqlite' or 'postgres'
//   - database is the connection string, or the SQLite file path
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
	logLevel slog.Leveler,
	slowThreshold time.Duration,
) (*gorm.DB, error) {
	if logLevel == nil {
		logLevel = DefaultDatabaseLogLevel
	}
	handler := newLogHandler(os.Stdout, logLevel)
	dbLogger := slog.New(handler).With(loggerNameKey, "database")

	dbLogger.InfoContext(ctx, "initializing database", "database_type", databaseType)
	db, err := getDB(databaseType, database, newGORMLogger(handler, slowThreshold))
	if err != nil {
		return nil, err
	}

	if databaseType == dbTypeSQLite {
		var pragmaErrs []error
		for _, p := range sqliteExecPragma {
			if e := db.WithContext(ctx).Exec(p).Error; e != nil {
				pragmaErrs = append(pragmaErrs, fmt.Errorf("%s: %w", p, e))
			}
		}
		if len(pragmaErrs) > 0 {
			return db, errors.Join(pragmaErrs...)
		}
		sqlDB, e := db.DB()
		if e != nil {
			return db, e
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	err = db.WithContext(ctx).AutoMigrate(
		&BotSetting{},
		&MessageTemplate{},
		&ModmailTicket{},
		&UserLog{},
		&MessageRef{},
	)
	if err != nil {
		return db, fmt.Errorf("error migrating database: %w", err)
	}
	return db, nil
}

func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" && database != ":memory:" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, err
			}
		}
		return gorm.Open(sqlite.Open(database), cfg)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), cfg)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
