package nellebot

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
	"time"
)

const (
	postgresNotifyChannelFlushCache = "nellebot_flush_cache"
	postgresNotifyChannelStop       = "nellebot_stop"
	recordSeparator                 = string(rune(30))
)

var (
	notifierSendTimeout  = 15 * time.Second
	notifierRetryBackoff = 5 * time.Second
)

// settingsNotifier tells every running bot instance to flush cached
// settings after one instance changes them, or to stop.
type settingsNotifier interface {
	// ID identifies this instance. Instances ignore their own notifications.
	ID() string

	// FlushCache flushes key from every instance's cache, this one included
	FlushCache(ctx context.Context, key string) bool

	// Stop sends a shutdown signal to every instance
	Stop(ctx context.Context) bool

	// Listen handles notifications from other instances until ctx is
	// canceled
	Listen(ctx context.Context) error
}

func newSettingsNotifier(
	databaseType string,
	connString string,
	db *database,
	cache *SharedCache,
	signalStop chan<- struct{},
	logger *slog.Logger,
) (settingsNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(loggerNameKey, "settings_notifier")
	switch databaseType {
	case dbTypeSQLite:
		return &localNotifier{
			id:         notifyID,
			cache:      cache,
			signalStop: signalStop,
			logger:     logger,
		}, nil
	case dbTypePostgres:
		return &postgresNotifier{
			localNotifier: localNotifier{
				id:         notifyID,
				cache:      cache,
				signalStop: signalStop,
				logger:     logger,
			},
			connString: connString,
			db:         db,
		}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

// localNotifier serves a single instance, as with sqlite
type localNotifier struct {
	id         string
	cache      *SharedCache
	signalStop chan<- struct{}
	logger     *slog.Logger
}

func (l *localNotifier) ID() string {
	return l.id
}

func (l *localNotifier) FlushCache(_ context.Context, key string) bool {
	l.logger.Debug("flushing cache", "key", key)
	l.cache.Flush(key)
	return true
}

func (l *localNotifier) Stop(ctx context.Context) bool {
	l.logger.Info("sending stop signal")
	select {
	case l.signalStop <- struct{}{}:
		return true
	case <-ctx.Done():
		l.logger.Warn("timeout sending stop signal")
		return false
	}
}

func (l *localNotifier) Listen(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// postgresNotifier relays flushes and stop signals between instances
// sharing a postgres database, with LISTEN/NOTIFY.
type postgresNotifier struct {
	localNotifier
	connString string
	db         *database
}

func newFlushNotificationMessage(notifierID string, key string) string {
	return strings.Join([]string{notifierID, key}, recordSeparator)
}

func parseFlushNotification(s string) (notifierID, key string) {
	before, after, _ := strings.Cut(s, recordSeparator)
	return before, after
}

func (p *postgresNotifier) notify(ctx context.Context, channel string, payload string) bool {
	err := p.db.DB().WithContext(ctx).Exec("SELECT pg_notify(?, ?)", channel, payload).Error
	if err != nil {
		p.logger.ErrorContext(ctx, "error sending NOTIFY", "channel", channel, tint.Err(err))
		return false
	}
	p.logger.InfoContext(ctx, "sent notification", "channel", channel, "notify_id", p.id)
	return true
}

func (p *postgresNotifier) FlushCache(ctx context.Context, key string) bool {
	p.localNotifier.FlushCache(ctx, key)
	return p.notify(ctx, postgresNotifyChannelFlushCache, newFlushNotificationMessage(p.id, key))
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	return p.notify(ctx, postgresNotifyChannelStop, p.id)
}

func (p *postgresNotifier) Listen(ctx context.Context) error {
	config, err := pgxpool.ParseConfig(p.connString)
	if err != nil {
		return fmt.Errorf("error parsing database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("error creating connection pool: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("error acquiring connection: %w", err)
	}
	defer conn.Release()

	for _, channel := range []string{postgresNotifyChannelFlushCache, postgresNotifyChannelStop} {
		if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return fmt.Errorf("error listening on %s: %w", channel, err)
		}
	}
	p.logger.InfoContext(ctx, "started listening for notifications")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.ErrorContext(ctx, "error waiting for notification", tint.Err(e))
			select {
			case <-ctx.Done():
			case <-time.After(notifierRetryBackoff):
			}
			continue
		}
		p.handleNotification(ctx, notification.Channel, notification.Payload)
	}
	return nil
}

func (p *postgresNotifier) handleNotification(ctx context.Context, channel string, payload string) {
	logger := p.logger.With("channel", channel)
	switch channel {
	case postgresNotifyChannelFlushCache:
		notifierID, key := parseFlushNotification(payload)
		if notifierID == p.id {
			logger.DebugContext(ctx, "received notification from self, ignoring")
			return
		}
		p.localNotifier.FlushCache(ctx, key)
	case postgresNotifyChannelStop:
		logger.InfoContext(ctx, "received stop signal via NOTIFY", "from", payload)
		select {
		case p.signalStop <- struct{}{}:
		case <-time.After(notifierSendTimeout):
			logger.Warn("timed out forwarding stop signal")
		}
	default:
		logger.Warn("received unknown notification")
	}
}
