//nolint:lll // struct tags can't be split
package nellebot

import (
	"crypto/tls"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix     = "NELLEBOT_ENV_PREFIX"
	DefaultEnvPrefix       = "NB"
	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "nellebot.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultQueueSize = 1024

	DefaultCommandPrefix              = "!"
	DefaultDiscordGatewayIntent       = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentsGuildMembers | discordgo.IntentsMessageContent
	DefaultDiscordLogLevel            = slog.LevelInfo
	DefaultDiscordgoLogLevel          = slog.LevelWarn
	DefaultDiscordStartupMessage      = "Ready!"
	DefaultSuspiciousAccountAgeDays   = 7
	DefaultQuarantineMaxMemberAgeDays = 7
	DefaultValhallKickMaxAgeHours     = 24
	DefaultValhallBanMaxAgeDays       = 14
	DefaultModmailInactiveHours       = 72
	DefaultGoodbyeBufferDelay         = 5 * time.Second
	DefaultVerificationDelay          = 10 * time.Second
	DefaultSettingsCacheTTL           = 5 * time.Minute

	DefaultOrdbokBaseURL           = "https://ord.uib.no"
	DefaultOrdbokLogLevel          = slog.LevelInfo
	DefaultOrdbokRequestsPerSecond = 5
	DefaultOrdbokTimeout           = 10 * time.Second

	DefaultJobsLogLevel                = slog.LevelInfo
	DefaultRoleMaintenanceInterval     = 24 * time.Hour
	DefaultModmailCleanupInterval      = time.Hour
	DefaultHeartbeatInterval           = time.Minute
	DefaultRoleMaintenanceMemberDelay  = 100 * time.Millisecond
	DefaultRoleMaintenanceRetryBackoff = time.Second
	DefaultMigrationPostDelay          = 5 * time.Second
	DefaultMigrationSendDelay          = time.Second

	DefaultReadTimeout        = 5 * time.Second
	DefaultReadHeaderTimeout  = 5 * time.Second
	DefaultWriteTimeout       = 10 * time.Second
	DefaultIdleTimeout        = 30 * time.Second
	DefaultAPIListen          = "127.0.0.1:5000"
	DefaultAPITLSMinVersion   = tls.VersionTLS12
	DefaultAPISessionMaxAge   = 6 * time.Hour
	DefaultAPILogLevel        = slog.LevelInfo
	DefaultDatabaseLogLevel   = slog.LevelWarn
	DefaultDatabaseSlowThresh = 200 * time.Millisecond
	defaultListenNetwork      = "tcp"

	DefaultAPICORSAllowCredentials = true
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect and register commands. If this is passed, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow workers to finish in-flight
	// requests. After this elapses, connections are closed regardless.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// SettingsCacheTTL is how long greeting/quarantine messages and goodbye
	// templates are cached. With PostgreSQL, updates made by another
	// instance also flush the cache via LISTEN/NOTIFY.
	SettingsCacheTTL time.Duration `yaml:"settings_cache_ttl" mapstructure:"settings_cache_ttl" json:"settings_cache_ttl"`

	Queue *QueueConfig `yaml:"queue" mapstructure:"queue" json:"queue"`

	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Bot holds guild-specific role and channel IDs and moderation thresholds
	Bot *BotConfig `yaml:"bot" mapstructure:"bot" json:"bot"`

	Ordbok *OrdbokConfig `yaml:"ordbok" mapstructure:"ordbok" json:"ordbok"`

	Jobs *JobsConfig `yaml:"jobs" mapstructure:"jobs" json:"jobs"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// QueueConfig sets the capacity of each request queue. A full queue
// blocks its writers until a worker reads from it.
type QueueConfig struct {
	Size int `yaml:"size" mapstructure:"size" json:"size" binding:"min=1"`
}

// DiscordConfig configures the discord bot connection.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// Prefix for text commands, ex: '!' for '!vkick @user'
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If set, this message is sent to the operation log channel whenever
	// the bot connects to the gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Discord gateway intents. Guild member and message content intents are required.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// BotConfig holds guild-specific IDs and moderation thresholds.
type BotConfig struct {
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required"`

	// Role with access to admin commands
	ModRoleID string `yaml:"mod_role_id" mapstructure:"mod_role_id" json:"mod_role_id"`

	// Roles with access to some moderation commands
	TrustedRoleIDs []string `yaml:"trusted_role_ids" mapstructure:"trusted_role_ids" json:"trusted_role_ids"`

	SpammerRoleID    string   `yaml:"spammer_role_id" mapstructure:"spammer_role_id" json:"spammer_role_id"`
	MemberRoleID     string   `yaml:"member_role_id" mapstructure:"member_role_id" json:"member_role_id"`
	MemberRoleIDs    []string `yaml:"member_role_ids" mapstructure:"member_role_ids" json:"member_role_ids"`
	GhostRoleID      string   `yaml:"ghost_role_id" mapstructure:"ghost_role_id" json:"ghost_role_id"`
	QuarantineRoleID string   `yaml:"quarantine_role_id" mapstructure:"quarantine_role_id" json:"quarantine_role_id"`

	// Roles members pick themselves. Picking many at once on join is a bot tell.
	UserAssignableRoleIDs []string `yaml:"user_assignable_role_ids" mapstructure:"user_assignable_role_ids" json:"user_assignable_role_ids"`

	TrustedChannelID             string   `yaml:"trusted_channel_id" mapstructure:"trusted_channel_id" json:"trusted_channel_id"`
	ModAlertsChannelID           string   `yaml:"mod_alerts_channel_id" mapstructure:"mod_alerts_channel_id" json:"mod_alerts_channel_id"`
	ActivityLogChannelID         string   `yaml:"activity_log_channel_id" mapstructure:"activity_log_channel_id" json:"activity_log_channel_id"`
	ExtendedActivityLogChannelID string   `yaml:"extended_activity_log_channel_id" mapstructure:"extended_activity_log_channel_id" json:"extended_activity_log_channel_id"`
	GreetingsChannelID           string   `yaml:"greetings_channel_id" mapstructure:"greetings_channel_id" json:"greetings_channel_id"`
	QuarantineChannelID          string   `yaml:"quarantine_channel_id" mapstructure:"quarantine_channel_id" json:"quarantine_channel_id"`
	OperationLogChannelID        string   `yaml:"operation_log_channel_id" mapstructure:"operation_log_channel_id" json:"operation_log_channel_id"`
	ErrorLogChannelID            string   `yaml:"error_log_channel_id" mapstructure:"error_log_channel_id" json:"error_log_channel_id"`
	MetaChannelIDs               []string `yaml:"meta_channel_ids" mapstructure:"meta_channel_ids" json:"meta_channel_ids"`
	AwardVoteGroupIDs            []string `yaml:"award_vote_group_ids" mapstructure:"award_vote_group_ids" json:"award_vote_group_ids"`
	ModmailChannelID             string   `yaml:"modmail_channel_id" mapstructure:"modmail_channel_id" json:"modmail_channel_id"`

	// Channels whose flagged messages are migrated into ResourceForumChannelID
	ResourceSourceChannelIDs []string `yaml:"resource_source_channel_ids" mapstructure:"resource_source_channel_ids" json:"resource_source_channel_ids"`
	ResourceForumChannelID   string   `yaml:"resource_forum_channel_id" mapstructure:"resource_forum_channel_id" json:"resource_forum_channel_id"`

	// Forum tag names applied to every post migrated from a source channel, by channel ID
	ResourceChannelTags map[string]string `yaml:"resource_channel_tags" mapstructure:"resource_channel_tags" json:"resource_channel_tags"`

	SuspiciousAccountAgeDays     int `yaml:"suspicious_account_age_days" mapstructure:"suspicious_account_age_days" json:"suspicious_account_age_days" binding:"min=0"`
	QuarantineMaxMemberAgeDays   int `yaml:"quarantine_max_member_age_days" mapstructure:"quarantine_max_member_age_days" json:"quarantine_max_member_age_days" binding:"min=0"`
	ValhallKickMaxMemberAgeHours int `yaml:"valhall_kick_max_member_age_hours" mapstructure:"valhall_kick_max_member_age_hours" json:"valhall_kick_max_member_age_hours" binding:"min=0"`
	ValhallBanMaxMemberAgeDays   int `yaml:"valhall_ban_max_member_age_days" mapstructure:"valhall_ban_max_member_age_days" json:"valhall_ban_max_member_age_days" binding:"min=0"`
	ModmailTicketInactiveHours   int `yaml:"modmail_ticket_inactive_hours" mapstructure:"modmail_ticket_inactive_hours" json:"modmail_ticket_inactive_hours" binding:"min=1"`

	GoodbyeBufferDelay time.Duration `yaml:"goodbye_buffer_delay" mapstructure:"goodbye_buffer_delay" json:"goodbye_buffer_delay"`
	VerificationDelay  time.Duration `yaml:"verification_delay" mapstructure:"verification_delay" json:"verification_delay"`
}

// OrdbokConfig configures the ord.uib.no dictionary client
type OrdbokConfig struct {
	BaseURL           string         `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`
	LogLevel          *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	RequestsPerSecond float64        `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second" binding:"gt=0"`
	Timeout           time.Duration  `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
}

// JobsConfig sets job schedules. A zero interval disables the schedule,
// the job can still be triggered manually.
type JobsConfig struct {
	LogLevel                *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	RoleMaintenanceInterval time.Duration  `yaml:"role_maintenance_interval" mapstructure:"role_maintenance_interval" json:"role_maintenance_interval"`
	ModmailCleanupInterval  time.Duration  `yaml:"modmail_cleanup_interval" mapstructure:"modmail_cleanup_interval" json:"modmail_cleanup_interval"`
	HeartbeatInterval       time.Duration  `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval" json:"heartbeat_interval"`

	RoleMaintenanceMemberDelay  time.Duration `yaml:"role_maintenance_member_delay" mapstructure:"role_maintenance_member_delay" json:"role_maintenance_member_delay"`
	RoleMaintenanceRetryBackoff time.Duration `yaml:"role_maintenance_retry_backoff" mapstructure:"role_maintenance_retry_backoff" json:"role_maintenance_retry_backoff"`
	MigrationPostDelay          time.Duration `yaml:"migration_post_delay" mapstructure:"migration_post_delay" json:"migration_post_delay"`
	MigrationSendDelay          time.Duration `yaml:"migration_send_delay" mapstructure:"migration_send_delay" json:"migration_send_delay"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret used for signing cookies
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]" binding:"required_if=Enabled true"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// Max age for session cookies
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age"`

	// Enables pprof and disables gin's recovery middleware
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	Cert          string `yaml:"cert" mapstructure:"cert" json:"cert"`
	Key           string `yaml:"key" mapstructure:"key" json:"key"`
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string{}, DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string{}, DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string{}, DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

func newLevelVar(level slog.Level) *slog.LevelVar {
	lv := &slog.LevelVar{}
	lv.Set(level)
	return lv
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      newLevelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThresh,
		LogLevel:              newLevelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		SettingsCacheTTL:      DefaultSettingsCacheTTL,
		Queue:                 &QueueConfig{Size: DefaultQueueSize},
		Discord: &DiscordConfig{
			CommandPrefix:     DefaultCommandPrefix,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          newLevelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel: newLevelVar(DefaultDiscordgoLogLevel),
			StartupMessage:    DefaultDiscordStartupMessage,
		},
		Bot: &BotConfig{
			SuspiciousAccountAgeDays:     DefaultSuspiciousAccountAgeDays,
			QuarantineMaxMemberAgeDays:   DefaultQuarantineMaxMemberAgeDays,
			ValhallKickMaxMemberAgeHours: DefaultValhallKickMaxAgeHours,
			ValhallBanMaxMemberAgeDays:   DefaultValhallBanMaxAgeDays,
			ModmailTicketInactiveHours:   DefaultModmailInactiveHours,
			GoodbyeBufferDelay:           DefaultGoodbyeBufferDelay,
			VerificationDelay:            DefaultVerificationDelay,
		},
		Ordbok: &OrdbokConfig{
			BaseURL:           DefaultOrdbokBaseURL,
			LogLevel:          newLevelVar(DefaultOrdbokLogLevel),
			RequestsPerSecond: DefaultOrdbokRequestsPerSecond,
			Timeout:           DefaultOrdbokTimeout,
		},
		Jobs: &JobsConfig{
			LogLevel:                    newLevelVar(DefaultJobsLogLevel),
			RoleMaintenanceInterval:     DefaultRoleMaintenanceInterval,
			ModmailCleanupInterval:      DefaultModmailCleanupInterval,
			HeartbeatInterval:           DefaultHeartbeatInterval,
			RoleMaintenanceMemberDelay:  DefaultRoleMaintenanceMemberDelay,
			RoleMaintenanceRetryBackoff: DefaultRoleMaintenanceRetryBackoff,
			MigrationPostDelay:          DefaultMigrationPostDelay,
			MigrationSendDelay:          DefaultMigrationSendDelay,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          newLevelVar(DefaultAPILogLevel),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
			CORS:              DefaultCORSConfig(),
		},
	}
}
