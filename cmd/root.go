package cmd

import (
	"context"
	"fmt"
	"github.com/NELLExchange/Reifnir/nellebot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = nellebot.DefaultConfig()
	configFile string
)

// logLevelKeys are decoded into *slog.LevelVar when unmarshaling
var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"ordbok.log_level",
	"jobs.log_level",
	"api.log_level",
}

// stringSliceKeys are space-separated when set from the environment.
// Viper keeps the raw values, conversion happens in configDecodeHook.
var stringSliceKeys = []string{
	"bot.trusted_role_ids",
	"bot.member_role_ids",
	"bot.user_assignable_role_ids",
	"bot.meta_channel_ids",
	"bot.award_vote_group_ids",
	"bot.resource_source_channel_ids",
	"api.cors.allow_headers",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.expose_headers",
}

var rootCmd = &cobra.Command{
	Use:   "nellebot [flags]",
	Short: "Discord moderation bot for the Norwegian-English language exchange",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// decode into a fresh config, mapstructure merges into existing
		// maps and slices
		c := nellebot.DefaultConfig()
		err := viper.Unmarshal(c, viper.DecodeHook(configDecodeHook()))
		if err != nil {
			log.Fatalln(err)
		}
		cfg = c
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

// StringToFieldsHookFunc splits strings on whitespace when decoding
// into a []string
func StringToFieldsHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]string{}) {
			return data, nil
		}
		return strings.Fields(data.(string)), nil
	}
}

// StringToChannelTagsHookFunc decodes "channelID=tag" pairs into a
// map[string]string
func StringToChannelTagsHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(map[string]string{}) {
			return data, nil
		}
		return parseChannelTags(data.(string))
	}
}

func configDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		StringToFieldsHookFunc(),
		StringToChannelTagsHookFunc(),
		LevelToStringHookFunc(),
	)
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseChannelTags parses "channelID=tag" pairs separated by spaces
// or commas
func parseChannelTags(s string) (map[string]string, error) {
	tags := map[string]string{}
	for _, pair := range strings.FieldsFunc(
		s,
		func(r rune) bool { return r == ' ' || r == ',' },
	) {
		channelID, tag, ok := strings.Cut(pair, "=")
		if !ok || channelID == "" || tag == "" {
			return nil, fmt.Errorf("invalid channel tag %q (expected channelID=tag)", pair)
		}
		tags[channelID] = tag
	}
	return tags, nil
}

func setDefaults() {
	viper.SetDefault("database", nellebot.DefaultDatabase)
	viper.SetDefault("database_type", nellebot.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", nellebot.DefaultDatabaseSlowThresh)
	viper.SetDefault("database_log_level", nellebot.DefaultDatabaseLogLevel.String())
	viper.SetDefault("log_level", nellebot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", nellebot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", nellebot.DefaultShutdownTimeout)
	viper.SetDefault("settings_cache_ttl", nellebot.DefaultSettingsCacheTTL)
	viper.SetDefault("queue.size", nellebot.DefaultQueueSize)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.command_prefix", nellebot.DefaultCommandPrefix)
	viper.SetDefault("discord.log_level", nellebot.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", nellebot.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", nellebot.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.startup_message", nellebot.DefaultDiscordStartupMessage)

	// Guild roles, channels and thresholds
	for _, key := range []string{
		"bot.guild_id",
		"bot.mod_role_id",
		"bot.spammer_role_id",
		"bot.member_role_id",
		"bot.ghost_role_id",
		"bot.quarantine_role_id",
		"bot.trusted_channel_id",
		"bot.mod_alerts_channel_id",
		"bot.activity_log_channel_id",
		"bot.extended_activity_log_channel_id",
		"bot.greetings_channel_id",
		"bot.quarantine_channel_id",
		"bot.operation_log_channel_id",
		"bot.error_log_channel_id",
		"bot.modmail_channel_id",
		"bot.resource_forum_channel_id",
		"bot.resource_channel_tags",
	} {
		viper.SetDefault(key, "")
	}
	for _, key := range stringSliceKeys {
		if strings.HasPrefix(key, "bot.") {
			viper.SetDefault(key, []string{})
		}
	}
	viper.SetDefault("bot.suspicious_account_age_days", nellebot.DefaultSuspiciousAccountAgeDays)
	viper.SetDefault("bot.quarantine_max_member_age_days", nellebot.DefaultQuarantineMaxMemberAgeDays)
	viper.SetDefault("bot.valhall_kick_max_member_age_hours", nellebot.DefaultValhallKickMaxAgeHours)
	viper.SetDefault("bot.valhall_ban_max_member_age_days", nellebot.DefaultValhallBanMaxAgeDays)
	viper.SetDefault("bot.modmail_ticket_inactive_hours", nellebot.DefaultModmailInactiveHours)
	viper.SetDefault("bot.goodbye_buffer_delay", nellebot.DefaultGoodbyeBufferDelay)
	viper.SetDefault("bot.verification_delay", nellebot.DefaultVerificationDelay)

	// Dictionary lookups
	viper.SetDefault("ordbok.base_url", nellebot.DefaultOrdbokBaseURL)
	viper.SetDefault("ordbok.log_level", nellebot.DefaultOrdbokLogLevel.String())
	viper.SetDefault("ordbok.requests_per_second", nellebot.DefaultOrdbokRequestsPerSecond)
	viper.SetDefault("ordbok.timeout", nellebot.DefaultOrdbokTimeout)

	// Jobs
	viper.SetDefault("jobs.log_level", nellebot.DefaultJobsLogLevel.String())
	viper.SetDefault("jobs.role_maintenance_interval", nellebot.DefaultRoleMaintenanceInterval)
	viper.SetDefault("jobs.modmail_cleanup_interval", nellebot.DefaultModmailCleanupInterval)
	viper.SetDefault("jobs.heartbeat_interval", nellebot.DefaultHeartbeatInterval)
	viper.SetDefault("jobs.role_maintenance_member_delay", nellebot.DefaultRoleMaintenanceMemberDelay)
	viper.SetDefault("jobs.role_maintenance_retry_backoff", nellebot.DefaultRoleMaintenanceRetryBackoff)
	viper.SetDefault("jobs.migration_post_delay", nellebot.DefaultMigrationPostDelay)
	viper.SetDefault("jobs.migration_send_delay", nellebot.DefaultMigrationSendDelay)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.listen", nellebot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.log_level", nellebot.DefaultAPILogLevel.String())
	viper.SetDefault("api.session_max_age", nellebot.DefaultAPISessionMaxAge)
	viper.SetDefault("api.read_timeout", nellebot.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", nellebot.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", nellebot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", nellebot.DefaultIdleTimeout)
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", nellebot.DefaultAPITLSMinVersion)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", nellebot.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", nellebot.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", nellebot.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", nellebot.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", nellebot.DefaultAPICORSAllowCredentials)
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	setDefaults()

	envPrefix := os.Getenv(nellebot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = nellebot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Values stay as set so initConfig can run again for every Execute,
	// only check that they will decode
	if v, ok := viper.Get("bot.resource_channel_tags").(string); ok {
		if _, err := parseChannelTags(v); err != nil {
			log.Fatalf("error parsing bot.resource_channel_tags: %v", err)
		}
	}
	for _, key := range logLevelKeys {
		if _, err := getLogLevel(viper.GetString(key)); err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
	}
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
