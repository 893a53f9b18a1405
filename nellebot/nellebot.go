package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/NELLExchange/Reifnir/ordbok"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

var (
	// Set at build time, ex:
	// -ldflags "-X github.com/NELLExchange/Reifnir/nellebot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Bot owns the configuration, queues, workers, Discord connection,
// jobs and the admin API.
type Bot struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler
	runMu      sync.Mutex

	// signalStop is sent on to stop Run, by the settings notifier
	// when any instance is asked to quit
	signalStop chan struct{}

	session       DiscordSessionHandler
	metrics       *Metrics
	cache         *SharedCache
	queues        *Queues
	resolver      *DiscordResolver
	discordLogger *DiscordLogger
	errLogger     *DiscordErrorLogger

	gormDB    *gorm.DB
	db        *database
	notifier  settingsNotifier
	settings  *BotSettingsService
	userLogs  *UserLogRepository
	refs      *MessageRefRepository
	tickets   *ModmailTicketRepository
	mediator  *Mediator
	goodbyes  *BatchingBuffer[string]
	scheduler *JobScheduler
	router    *CommandRouter
	discord   *Discord
	api       *API

	startedAt time.Time
}

// New builds a Bot from config. Nothing is opened or connected
// until Run.
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:     config,
		signalStop: make(chan struct{}, 1),
		metrics:    NewMetrics(),
		cache:      NewSharedCache(),
	}
	b.logHandler = newLogHandler(os.Stdout, leveler(config.LogLevel))
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(os.Stdout, leveler(config.Discord.DiscordGoLogLevel)),
	)

	session, err := newDiscordSession(
		config.Discord,
		config.HTTPClient,
		b.componentLogger(config.Discord.LogLevel),
	)
	if err != nil {
		errs = append(errs, err)
	} else {
		b.session = session
	}

	queueSize := DefaultQueueSize
	if config.Queue != nil && config.Queue.Size > 0 {
		queueSize = config.Queue.Size
	}
	b.queues = NewQueues(queueSize)
	for _, q := range b.queues.all() {
		b.metrics.registerQueue(q)
	}

	return b, errors.Join(errs...)
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// leveler returns lv, or the default level when unset
func leveler(lv *slog.LevelVar) slog.Leveler {
	if lv == nil {
		return DefaultLogLevel
	}
	return lv
}

func (b *Bot) componentLogger(level *slog.LevelVar) *slog.Logger {
	if level == nil {
		return b.logger
	}
	return slog.New(newLogHandler(os.Stdout, level))
}

// initDB opens the database, and the repositories and settings
// services on top of it
func (b *Bot) initDB(ctx context.Context) error {
	var dbLevel slog.Leveler
	if b.config.DatabaseLogLevel != nil {
		dbLevel = b.config.DatabaseLogLevel
	}
	gormDB, err := CreateDB(
		ctx,
		b.config.DatabaseType,
		b.config.Database,
		dbLevel,
		b.config.DatabaseSlowThreshold,
	)
	b.gormDB = gormDB
	if err != nil {
		return err
	}
	b.db = newDatabase(gormDB, b.logger, b.config.DatabaseType == dbTypePostgres)

	notifier, err := newSettingsNotifier(
		b.config.DatabaseType,
		b.config.Database,
		b.db,
		b.cache,
		b.signalStop,
		b.logger,
	)
	if err != nil {
		return fmt.Errorf("error creating settings notifier: %w", err)
	}
	b.notifier = notifier
	b.settings = NewBotSettingsService(
		NewBotSettingsRepository(b.db),
		NewMessageTemplateRepository(b.db),
		b.cache,
		notifier,
		b.config.SettingsCacheTTL,
	)
	b.userLogs = NewUserLogRepository(b.db)
	b.refs = NewMessageRefRepository(b.db)
	b.tickets = NewModmailTicketRepository(b.db)
	return nil
}

// init wires everything Run needs. ctx is the runtime context, handed
// to the goodbye buffer and the gateway handlers.
func (b *Bot) init(startCtx context.Context, ctx context.Context) error {
	if err := b.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	botConfig := b.config.Bot
	discordLogger := b.componentLogger(b.config.Discord.LogLevel)
	jobsLogger := b.componentLogger(b.config.Jobs.LogLevel)

	b.resolver = NewDiscordResolver(b.session, botConfig.GuildID, b.cache, discordLogger)
	b.discordLogger = NewDiscordLogger(botConfig, b.queues.DiscordLog, discordLogger, b.metrics)
	b.errLogger = NewDiscordErrorLogger(b.discordLogger)
	publisher := NewNotificationPublisher(b.queues.Event)
	quarantine := NewQuarantineService(
		botConfig,
		b.session,
		b.resolver,
		publisher,
		b.errLogger,
		b.logger,
	)

	ordbokClient, err := ordbok.NewClient(
		b.config.Ordbok.BaseURL,
		&http.Client{
			Transport: b.config.HTTPClient.Transport,
			Timeout:   b.config.Ordbok.Timeout,
		},
		b.config.Ordbok.RequestsPerSecond,
		b.componentLogger(b.config.Ordbok.LogLevel),
	)
	if err != nil {
		return fmt.Errorf("error creating ordbok client: %w", err)
	}
	ordbokHandler := newOrdbokHandler(ordbokClient, b.cache, b.logger)

	b.scheduler = NewJobScheduler(b.errLogger, b.metrics, jobsLogger)
	b.registerJobs(jobsLogger)
	b.goodbyes = newGoodbyeMessageBuffer(
		ctx,
		botConfig.GoodbyeBufferDelay,
		publisher,
		b.errLogger,
		b.logger,
	)

	builder := NewMediatorBuilder(b.logger.With(loggerNameKey, "mediator"))
	for _, h := range []interface{ register(*MediatorBuilder) }{
		newModerationHandlers(botConfig, b.session, b.resolver, quarantine, b.logger),
		newMessageTemplateHandlers(botConfig, b.session, b.resolver, b.settings, b.discordLogger, b.logger),
		newVerificationHandler(botConfig, b.resolver, quarantine, publisher, b.queues.CommandParallel, b.logger),
		newGreetingHandler(botConfig, b.settings, b.discordLogger, b.errLogger, b.goodbyes, b.logger),
		newRoleIntegrityHandler(botConfig, b.session, b.resolver, quarantine, b.scheduler, b.logger),
		newActivityLogHandler(botConfig, b.resolver, b.discordLogger, b.errLogger, b.userLogs, b.refs, b.logger),
		newModmailHandlers(botConfig, b.session, b.resolver, b.tickets, b.errLogger, b.queues.Command, b.logger),
		ordbokHandler,
		newRandomHandlers(botConfig, b.resolver, b.logger),
		newJobHandlers(b.scheduler, jobsLogger),
	} {
		h.register(builder)
	}
	mediator, err := builder.Build(NewErrorPipeline(b.errLogger, b.logger))
	if err != nil {
		return fmt.Errorf("error building mediator: %w", err)
	}
	b.mediator = mediator

	var jobNames []string
	for _, j := range b.scheduler.List() {
		jobNames = append(jobNames, j.Key.Name)
	}
	b.router = NewCommandRouter(
		botConfig,
		b.config.Discord.CommandPrefix,
		b.session,
		b.queues,
		ordbokHandler,
		jobNames,
		b.logger,
	)
	b.discord = newDiscord(
		b.config.Discord,
		botConfig,
		b.session,
		b.resolver,
		publisher,
		b.router,
		b.metrics,
		discordLogger,
	)

	if b.config.API != nil && b.config.API.Enabled {
		api, e := newAPI(b, b.config.API, b.metrics, b.componentLogger(b.config.API.LogLevel))
		if e != nil {
			return fmt.Errorf("error creating api: %w", e)
		}
		b.api = api
	}
	return nil
}

func (b *Bot) registerJobs(logger *slog.Logger) {
	botConfig := b.config.Bot
	jobs := b.config.Jobs

	roleMaintenance := newRoleMaintenanceJob(
		botConfig,
		jobs,
		b.session,
		b.resolver,
		b.discordLogger,
		logger,
	)
	modmailCleanup := newModmailCleanupJob(botConfig, b.tickets, b.queues.Command, logger)
	migrateResources := newMigrateResourcesJob(
		botConfig,
		jobs,
		b.session,
		b.resolver,
		b.discordLogger,
		b.errLogger,
		b.config.HTTPClient,
		logger,
	)
	heartbeat := newHeartbeatJob(b.settings, logger)

	b.scheduler.Register(RoleMaintenanceJobKey, jobs.RoleMaintenanceInterval, roleMaintenance.Run)
	b.scheduler.Register(ModmailCleanupJobKey, jobs.ModmailCleanupInterval, modmailCleanup.Run)
	b.scheduler.Register(MigrateResourcesJobKey, 0, migrateResources.Run)
	b.scheduler.Register(HeartbeatJobKey, jobs.HeartbeatInterval, heartbeat.Run)
}

// startWorkers starts one worker per queue
func (b *Bot) startWorkers(ctx context.Context, g *errgroup.Group) {
	workerLogger := b.logger
	for _, w := range []interface{ Run(context.Context) }{
		newRequestWorker(b.queues.Request, b.mediator, workerLogger, b.metrics),
		newCommandWorker(b.queues.Command, b.mediator, workerLogger, b.metrics),
		newCommandParallelWorker(b.queues.CommandParallel, b.mediator, workerLogger, b.metrics),
		newEventWorker(b.queues.Event, b.mediator, workerLogger, b.metrics),
		newDiscordLogWorker(b.queues.DiscordLog, b.session, workerLogger, b.metrics),
	} {
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
}

// Run connects to Discord and serves until ctx is canceled, or a stop
// signal is received. It returns once everything has shut down, or
// the shutdown timeout elapses.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}
	if b.session == nil {
		return errors.New("no discord session")
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	ctx = WithLogger(ctx, logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	if err := b.init(startCtx, ctx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		b.closeDB()
		return err
	}

	g := &errgroup.Group{}
	b.startWorkers(ctx, g)
	g.Go(func() error {
		b.scheduler.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := b.notifier.Listen(ctx); err != nil {
			logger.ErrorContext(ctx, "settings notifier stopped", tint.Err(err))
		}
		return nil
	})
	if b.api != nil {
		g.Go(func() error {
			err := b.api.Serve(ctx)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(err))
			}
			return nil
		})
	}

	if err := b.connect(startCtx, ctx); err != nil {
		cancel()
		return errors.Join(err, b.shutdown(g))
	}
	startCancel()
	logger.InfoContext(ctx, "startup complete", "elapsed", time.Since(b.startedAt))

	<-ctx.Done()
	return b.shutdown(g)
}

// connect opens the gateway connection, waits for the session to be
// ready and registers the application commands
func (b *Bot) connect(startCtx context.Context, ctx context.Context) error {
	b.logger.InfoContext(ctx, "connecting to discord")
	if err := b.discord.Open(ctx); err != nil {
		return err
	}
	select {
	case <-b.discord.Ready():
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
	}
	if _, err := b.discord.RegisterCommands(startCtx); err != nil {
		return err
	}
	return nil
}

func (b *Bot) shutdown(g *errgroup.Group) error {
	b.logger.Warn("shutting down", "shutdown_timeout", b.config.ShutdownTimeout)
	closeCtx, closeCancel := context.WithTimeout(context.Background(), b.config.ShutdownTimeout)
	defer closeCancel()

	var errs []error
	if err := b.discord.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
	}
	b.goodbyes.Close()
	if b.api != nil {
		if err := b.api.Shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down api: %w", err))
		}
	}

	done := make(chan error, 1)
	go func() {
		b.router.Wait()
		done <- g.Wait()
	}()
	select {
	case err := <-done:
		errs = append(errs, err)
		b.logger.Info("workers stopped")
	case <-closeCtx.Done():
		errs = append(errs, errors.New("workers did not stop before the shutdown timeout"))
	}
	b.closeDB()
	return errors.Join(errs...)
}

func (b *Bot) closeDB() {
	if b.gormDB == nil {
		return
	}
	sqlDB, err := b.gormDB.DB()
	if err != nil {
		b.logger.Error("error getting database connection", tint.Err(err))
		return
	}
	if err = sqlDB.Close(); err != nil {
		b.logger.Error("error closing database", tint.Err(err))
	}
}

func (b *Bot) Connected() bool {
	return b.discord != nil && b.discord.Connected()
}

func (b *Bot) QueueStats() []queueStats {
	return b.queues.Stats()
}

func (b *Bot) Jobs() []JobStatus {
	return b.scheduler.List()
}

func (b *Bot) TriggerJob(name string, dryRun bool) (JobKey, error) {
	return b.scheduler.Trigger(name, dryRun)
}

func (b *Bot) CancelJob(name string) error {
	return b.scheduler.Cancel(name)
}

func (b *Bot) RegisterCommands(ctx context.Context) ([]*discordgo.ApplicationCommand, error) {
	return b.discord.RegisterCommands(ctx)
}

// Stop tells every instance sharing the database to shut down
func (b *Bot) Stop(ctx context.Context) bool {
	return b.notifier.Stop(ctx)
}

func (b *Bot) VerifyAdminCredentials(ctx context.Context, username string, password string) (bool, error) {
	return b.settings.VerifyAdminCredentials(ctx, username, password)
}

// InitDatabase opens and migrates the database, without connecting
// to Discord
func (b *Bot) InitDatabase(ctx context.Context) error {
	return b.initDB(ctx)
}

func (b *Bot) AdminCredentialsSet(ctx context.Context) (bool, error) {
	return b.settings.AdminCredentialsSet(ctx)
}

func (b *Bot) SetAdminCredentials(ctx context.Context, username string, password string) error {
	return b.settings.SetAdminCredentials(ctx, username, password)
}

// Close closes the database connection opened by InitDatabase
func (b *Bot) Close() {
	b.closeDB()
}
