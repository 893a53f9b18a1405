package nellebot

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestSharedCache_LoadAndExpire(t *testing.T) {
	c := NewSharedCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	loads := 0
	loader := func() (string, error) {
		loads++
		return "value", nil
	}

	v, err := loadFromCache(c, "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	_, err = loadFromCache(c, "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)

	now = now.Add(2 * time.Minute)
	_, err = loadFromCache(c, "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestSharedCache_ErrorsNotCached(t *testing.T) {
	c := NewSharedCache()
	_, err := loadFromCache(c, "k", time.Minute, func() (int, error) {
		return 0, errors.New("db down")
	})
	assert.EqualError(t, err, "db down")
	assert.Equal(t, 0, c.Len())
}

func TestSharedCache_Flush(t *testing.T) {
	c := NewSharedCache()
	for _, k := range []string{cacheKeyDiscordChannel + "1", cacheKeyDiscordChannel + "2", "other"} {
		_, err := loadFromCache(c, k, time.Minute, func() (bool, error) { return true, nil })
		require.NoError(t, err)
	}
	c.Flush("other")
	assert.Equal(t, 2, c.Len())
	c.FlushPrefix(cacheKeyDiscordChannel)
	assert.Equal(t, 0, c.Len())
}

func TestLocalNotifier(t *testing.T) {
	cache := NewSharedCache()
	stop := make(chan struct{}, 1)
	n, err := newSettingsNotifier(dbTypeSQLite, "", nil, cache, stop, nil)
	require.NoError(t, err)
	assert.Len(t, n.ID(), 16)

	_, err = loadFromCache(cache, "k", time.Minute, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.True(t, n.FlushCache(context.Background(), "k"))
	assert.Equal(t, 0, cache.Len())

	assert.True(t, n.Stop(context.Background()))
	select {
	case <-stop:
	default:
		t.Fatal("expected stop signal")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, n.Listen(ctx))

	_, err = newSettingsNotifier("mysql", "", nil, cache, stop, nil)
	assert.Error(t, err)
}

func TestFlushNotificationMessage(t *testing.T) {
	msg := newFlushNotificationMessage("abc", cacheKeyGreetingMessage)
	id, key := parseFlushNotification(msg)
	assert.Equal(t, "abc", id)
	assert.Equal(t, cacheKeyGreetingMessage, key)
}

func TestPostgresNotifier_HandleNotification(t *testing.T) {
	cache := NewSharedCache()
	stop := make(chan struct{}, 1)
	n, err := newSettingsNotifier(dbTypePostgres, "", nil, cache, stop, nil)
	require.NoError(t, err)
	pn := n.(*postgresNotifier)
	ctx := context.Background()

	_, err = loadFromCache(cache, "k", time.Minute, func() (int, error) { return 1, nil })
	require.NoError(t, err)

	pn.handleNotification(ctx, postgresNotifyChannelFlushCache, newFlushNotificationMessage(pn.ID(), "k"))
	assert.Equal(t, 1, cache.Len())

	pn.handleNotification(ctx, postgresNotifyChannelFlushCache, newFlushNotificationMessage("other", "k"))
	assert.Equal(t, 0, cache.Len())

	pn.handleNotification(ctx, postgresNotifyChannelStop, "other")
	select {
	case <-stop:
	default:
		t.Fatal("expected stop signal")
	}
}
