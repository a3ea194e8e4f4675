package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-commerce/console/internal/auth"
	"github.com/odyssey-commerce/console/internal/credstore"
	"github.com/odyssey-commerce/console/internal/guard"
	"github.com/odyssey-commerce/console/internal/observability"
)

// Console is the assembled HTTP application.
type Console struct {
	Router   http.Handler
	Sessions *Sessions
}

// NewConsole wires the console from configuration. redisClient is required
// only for the redis store driver.
func NewConsole(cfg *Config, logger *slog.Logger, redisClient *redis.Client, metrics *observability.Metrics) (*Console, error) {
	if logger == nil {
		logger = slog.Default()
	}
	routes, err := guard.LoadRoutes(cfg.GuardRoutesFile)
	if err != nil {
		return nil, err
	}
	sessionStores, browserStore, err := Stores(cfg, redisClient, logger)
	if err != nil {
		return nil, err
	}

	gateway := auth.NewHTTPGateway(cfg.APIBaseURL, &http.Client{Timeout: cfg.APITimeout}, logger)
	sessions := NewSessions(gateway, sessionStores.Open, cfg.SessionTTL, logger, metrics)
	if sessionStores.Release != nil {
		sessions.OnEvict(sessionStores.Release)
	}
	browser := NewBrowserSessions(browserStore, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction(), logger)
	csrf := NewCSRFManager(cfg.CSRFSecret)
	handler := NewHandler(logger, cfg, sessions, routes, csrf, metrics)

	router := NewRouter(RouterParams{
		Logger:  logger,
		Config:  cfg,
		Browser: browser,
		CSRF:    csrf,
		Handler: handler,
		Metrics: metrics,
	})
	return &Console{Router: router, Sessions: sessions}, nil
}

// Stores returns the per-session credential store factory and the store for
// browser payloads selected by cfg.StoreDriver.
func Stores(cfg *Config, client *redis.Client, logger *slog.Logger) (SessionStores, credstore.Store, error) {
	switch cfg.StoreDriver {
	case StoreRedis:
		if client == nil {
			return SessionStores{}, nil, errors.New("app: redis store driver requires a redis client")
		}
		factory := func(sessionID string) credstore.Store {
			return credstore.NewRedis(client, "session:"+sessionID, cfg.SessionTTL, logger)
		}
		return SessionStores{Open: factory}, credstore.NewRedis(client, "web", cfg.SessionTTL, logger), nil
	case StoreMemory:
		stores := &memoryStores{byID: make(map[string]*credstore.Memory)}
		return SessionStores{Open: stores.get, Release: stores.release}, credstore.NewMemory(), nil
	case StoreNoop:
		factory := func(string) credstore.Store { return credstore.Noop{} }
		return SessionStores{Open: factory}, credstore.NewMemory(), nil
	default:
		return SessionStores{}, nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
	}
}

// SessionStores opens per-session credential stores. Release, when set,
// frees the store of an evicted session.
type SessionStores struct {
	Open    StoreFactory
	Release func(sessionID string)
}

// memoryStores keeps one in-process store per browser session so an evicted
// manager can rehydrate.
type memoryStores struct {
	mu   sync.Mutex
	byID map[string]*credstore.Memory
}

func (m *memoryStores) get(sessionID string) credstore.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok {
		s = credstore.NewMemory()
		m.byID[sessionID] = s
	}
	return s
}

// release drops the store of sessionID once it holds no credentials.
func (m *memoryStores) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok {
		return
	}
	for _, key := range credstore.Keys() {
		if _, held := s.Get(context.Background(), key); held {
			return
		}
	}
	delete(m.byID, sessionID)
}
