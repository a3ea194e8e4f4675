package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-commerce/console/internal/auth"
	"github.com/odyssey-commerce/console/internal/auth/authtest"
	"github.com/odyssey-commerce/console/internal/credstore"
	"github.com/odyssey-commerce/console/internal/observability"
)

func TestSessionsAcquireReusesManager(t *testing.T) {
	api := authtest.NewServer(t)
	metrics := observability.NewMetrics()
	sessions := NewSessions(auth.NewHTTPGateway(api.URL, nil, nil), nil, time.Hour, nil, metrics)
	t.Cleanup(sessions.Close)

	a := sessions.Acquire("a")
	require.Same(t, a, sessions.Acquire("a"))
	require.NotSame(t, a, sessions.Acquire("b"))
	require.Equal(t, 2, sessions.Len())

	count, err := testutil.GatherAndCount(metrics.Gatherer(), "console_browser_sessions")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSessionsEvictIdleManagers(t *testing.T) {
	api := authtest.NewServer(t)
	stores := &memoryStores{byID: make(map[string]*credstore.Memory)}
	sessions := NewSessions(auth.NewHTTPGateway(api.URL, nil, nil), stores.get, time.Hour, nil, nil)
	sessions.OnEvict(stores.release)
	t.Cleanup(sessions.Close)

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return clock }

	idle := sessions.Acquire("idle")
	sessions.Acquire("busy")
	sessions.Acquire("anonymous")
	held := stores.get("idle")
	require.NoError(t, held.Set(context.Background(), credstore.KeyAccessToken, "token-idle"))

	clock = clock.Add(45 * time.Minute)
	sessions.Acquire("busy")

	clock = clock.Add(30 * time.Minute)
	require.Equal(t, 2, sessions.Evict())
	require.Equal(t, 1, sessions.Len())

	stores.mu.Lock()
	_, anonymousKept := stores.byID["anonymous"]
	_, idleKept := stores.byID["idle"]
	stores.mu.Unlock()
	require.False(t, anonymousKept)
	require.True(t, idleKept)

	// A store holding credentials survives eviction; a new manager is built on it.
	require.NotSame(t, idle, sessions.Acquire("idle"))
	require.Same(t, held, stores.get("idle"))
}

func TestSessionsRunStopsWithContext(t *testing.T) {
	sessions := NewSessions(nil, nil, time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sessions.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
