package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-commerce/console/internal/credstore"
	"github.com/odyssey-commerce/console/internal/shared"
)

const browserStoreTimeout = 2 * time.Second

// BrowserSessions issues the console cookie and keeps the per-browser
// notification payload in a credential store. Payload updates are applied
// read-modify-write under one lock, so concurrent requests from the same
// browser do not overwrite each other.
type BrowserSessions struct {
	store      credstore.Store
	cookieName string
	ttl        time.Duration
	secure     bool
	logger     *slog.Logger

	mu sync.Mutex
}

// BrowserSession identifies one browser. Its methods are safe for use from
// session watchers running on other goroutines.
type BrowserSession struct {
	ID    string
	owner *BrowserSessions
}

type browserPayload struct {
	Flashes   []shared.FlashMessage `json:"flashes,omitempty"`
	LoggedOut bool                  `json:"logged_out,omitempty"`
}

// NewBrowserSessions constructs a BrowserSessions backed by store.
func NewBrowserSessions(store credstore.Store, cookieName string, ttl time.Duration, secure bool, logger *slog.Logger) *BrowserSessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserSessions{
		store:      store,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		logger:     logger,
	}
}

// Load returns the session named by the request cookie, or a new one.
func (bs *BrowserSessions) Load(r *http.Request) *BrowserSession {
	if cookie, err := r.Cookie(bs.cookieName); err == nil {
		if _, err := uuid.Parse(cookie.Value); err == nil {
			return &BrowserSession{ID: cookie.Value, owner: bs}
		}
	}
	return &BrowserSession{ID: uuid.NewString(), owner: bs}
}

// Commit refreshes the session cookie.
func (bs *BrowserSessions) Commit(w http.ResponseWriter, sess *BrowserSession) {
	if sess == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     bs.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   bs.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(bs.ttl),
	})
}

// TTL exposes the configured session lifetime.
func (bs *BrowserSessions) TTL() time.Duration {
	return bs.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (bs *BrowserSessions) CookieName() string {
	return bs.cookieName
}

// update applies fn to the stored payload of id and writes the result back.
// Storage failures are logged; notifications are best effort.
func (bs *BrowserSessions) update(id string, fn func(p *browserPayload) bool) {
	ctx, cancel := context.WithTimeout(context.Background(), browserStoreTimeout)
	defer cancel()

	bs.mu.Lock()
	defer bs.mu.Unlock()

	var p browserPayload
	if raw, ok := bs.store.Get(ctx, payloadKey(id)); ok {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			bs.logger.Warn("discard browser session payload", slog.String("session_id", id), slog.Any("error", err))
			p = browserPayload{}
		}
	}
	if !fn(&p) {
		return
	}

	var err error
	if len(p.Flashes) == 0 && !p.LoggedOut {
		err = bs.store.Remove(ctx, payloadKey(id))
	} else {
		data, _ := json.Marshal(p)
		err = bs.store.Set(ctx, payloadKey(id), string(data))
	}
	if err != nil {
		bs.logger.Warn("browser session not persisted", slog.String("session_id", id), slog.Any("error", err))
	}
}

// AddFlash queues a notification.
func (s *BrowserSession) AddFlash(msg shared.FlashMessage) {
	s.owner.update(s.ID, func(p *browserPayload) bool {
		p.Flashes = append(p.Flashes, msg)
		return true
	})
}

// Notify queues msg as a flash.
func (s *BrowserSession) Notify(_ context.Context, msg shared.FlashMessage) {
	s.AddFlash(msg)
}

// PopFlashes drains queued notifications, oldest first.
func (s *BrowserSession) PopFlashes() []shared.FlashMessage {
	var out []shared.FlashMessage
	s.owner.update(s.ID, func(p *browserPayload) bool {
		out, p.Flashes = p.Flashes, nil
		return len(out) > 0
	})
	return out
}

// MarkLoggedOut records an explicit logout for the next guarded page.
func (s *BrowserSession) MarkLoggedOut() {
	s.owner.update(s.ID, func(p *browserPayload) bool {
		p.LoggedOut = true
		return true
	})
}

// TakeLoggedOut reports and clears the logout marker.
func (s *BrowserSession) TakeLoggedOut() bool {
	var was bool
	s.owner.update(s.ID, func(p *browserPayload) bool {
		was, p.LoggedOut = p.LoggedOut, false
		return was
	})
	return was
}

func payloadKey(id string) string {
	return "flash:" + id
}

type browserContextKey struct{}

// ContextWithBrowserSession stores the browser session in context.
func ContextWithBrowserSession(ctx context.Context, sess *BrowserSession) context.Context {
	return context.WithValue(ctx, browserContextKey{}, sess)
}

// BrowserSessionFromContext extracts the browser session from context.
func BrowserSessionFromContext(ctx context.Context) *BrowserSession {
	sess, _ := ctx.Value(browserContextKey{}).(*BrowserSession)
	return sess
}
