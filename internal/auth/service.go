package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-commerce/console/internal/credstore"
	"github.com/odyssey-commerce/console/internal/observability"
	"github.com/odyssey-commerce/console/internal/rbac"
	"github.com/odyssey-commerce/console/internal/shared"
)

// ErrSuperseded is returned when the session changed (logout, another login)
// while an operation was waiting on the API. Its result was discarded.
var ErrSuperseded = errors.New("auth: session changed during operation")

// Options configures a Manager.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Manager owns the authoritative session state of one console user and the
// transitions between login, logout, rehydration and permission refresh.
//
// Mutations are serialized by mu and publish a fresh immutable *Session;
// readers load the current snapshot without locking. Results of network
// calls are applied only if the session generation they were issued for is
// still current, so a late response can never resurrect a cleared session.
type Manager struct {
	gateway  Gateway
	store    credstore.Store
	logger   *slog.Logger
	metrics  *observability.Metrics
	validate *validator.Validate

	mu      sync.Mutex
	current atomic.Pointer[Session]

	initOnce sync.Once
	flights  singleflight.Group

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
	bgMu     sync.Mutex
	closed   bool

	listenersMu  sync.Mutex
	listeners    map[int]func(Session)
	nextListener int
}

// NewManager constructs a Manager with an empty session.
func NewManager(gateway Gateway, store credstore.Store, opts Options) *Manager {
	if store == nil {
		store = credstore.Noop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		gateway:   gateway,
		store:     store,
		logger:    logger.With(slog.String("component", "session_manager")),
		metrics:   opts.Metrics,
		validate:  validator.New(),
		bgCtx:     ctx,
		bgCancel:  cancel,
		listeners: make(map[int]func(Session)),
	}
	m.current.Store(emptySession(0))
	return m
}

// Snapshot returns the current session.
func (m *Manager) Snapshot() Session {
	return *m.current.Load()
}

// User returns the signed-in user, if any.
func (m *Manager) User() (User, bool) {
	s := m.current.Load()
	if s.User == nil {
		return User{}, false
	}
	return *s.User, true
}

// IsAdmin reports whether the current user is admin or above.
func (m *Manager) IsAdmin() bool { return m.Snapshot().IsAdmin() }

// IsAuthorized reports whether the current user's role is one of roles.
func (m *Manager) IsAuthorized(roles []string) bool {
	return m.Snapshot().IsAuthorized(rbac.ParseRoles(roles))
}

// HasPermission checks one slug against the loaded permissions.
func (m *Manager) HasPermission(slug string) bool { return m.Snapshot().HasPermission(slug) }

// HasAnyPermission checks slugs with OR semantics.
func (m *Manager) HasAnyPermission(slugs []string) bool {
	return m.Snapshot().HasAnyPermission(slugs)
}

// HasAllPermissions checks slugs with AND semantics.
func (m *Manager) HasAllPermissions(slugs []string) bool {
	return m.Snapshot().HasAllPermissions(slugs)
}

// HasResourcePermission checks action on resource.
func (m *Manager) HasResourcePermission(resource, action string) bool {
	return m.Snapshot().HasResourcePermission(resource, action)
}

// Subscribe registers fn to receive every published snapshot. The returned
// function removes the subscription.
func (m *Manager) Subscribe(fn func(Session)) func() {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenersMu.Unlock()
	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

// Wait blocks until all background work has settled.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// Close cancels background work and waits for it to finish.
// Background work requested after Close is dropped.
func (m *Manager) Close() {
	m.bgMu.Lock()
	m.closed = true
	m.bgMu.Unlock()
	m.bgCancel()
	m.bg.Wait()
}

// Initialize reads the credential store once. A cached token and user are
// restored optimistically and revalidated in the background; a cached token
// without a user is revalidated to recover the user. Later calls are no-ops.
func (m *Manager) Initialize(ctx context.Context) {
	m.initOnce.Do(func() { m.initialize(ctx) })
}

func (m *Manager) initialize(ctx context.Context) {
	c := m.readCache(ctx)
	if c.tokens.Access == "" {
		return
	}
	if c.user == nil {
		gen := m.current.Load().Generation
		m.goBackground(func(ctx context.Context) {
			m.recover(ctx, gen, c.tokens)
		})
		return
	}

	restored, ok := m.commit(func(cur *Session) *Session {
		if cur.State != StateEmpty {
			return nil
		}
		next := &Session{
			State:           StatePendingPermissions,
			User:            c.user,
			Tokens:          c.tokens,
			IsAuthenticated: true,
			Generation:      cur.Generation + 1,
		}
		if env := c.envelope; env != nil && env.PermissionsLoaded && env.User != nil && env.User.ID == c.user.ID {
			next.Permissions = rbac.NormalizePermissions(env.Permissions)
			next.PermissionsLoaded = true
			next.State = StateReady
		}
		return next
	})
	if !ok {
		return
	}
	m.logger.Info("session restored from cache",
		slog.Int64("user_id", c.user.ID),
		slog.Bool("permissions_cached", restored.PermissionsLoaded))
	gen := restored.Generation
	m.goBackground(func(ctx context.Context) {
		_ = m.revalidate(ctx, gen)
	})
}

type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// Login exchanges credentials with the API and establishes a new session.
// Permissions are fetched in the background; until they settle the session
// stays in StatePendingPermissions. Errors wrap shared.ErrInvalidCredentials
// or shared.ErrNetwork.
func (m *Manager) Login(ctx context.Context, email, password string) (*User, error) {
	if err := m.validate.Struct(credentials{Email: email, Password: password}); err != nil {
		err = fmt.Errorf("auth: login: %w: %w", shared.ErrInvalidCredentials, err)
		m.metrics.ObserveLogin("invalid_credentials")
		m.commit(func(cur *Session) *Session {
			if cur.State != StateEmpty && cur.State != StateError {
				return nil
			}
			return &Session{State: StateError, Err: err, Generation: cur.Generation}
		})
		return nil, err
	}

	pending, _ := m.commit(func(cur *Session) *Session {
		if cur.IsAuthenticated {
			// The previous user's credentials must not survive a failed re-login.
			m.clearCache(ctx)
		}
		return &Session{State: StateAuthenticating, IsLoading: true, Generation: cur.Generation + 1}
	})
	gen := pending.Generation

	result, err := m.gateway.Login(ctx, email, password)
	if err == nil && result.User == nil {
		var user User
		user, err = m.gateway.Profile(ctx, result.Tokens.Access)
		if err == nil {
			result.User = &user
		} else if shared.IsSessionRejected(err) {
			err = fmt.Errorf("auth: profile after login: %w: %w", shared.ErrNetwork, err)
		}
	}
	if err != nil {
		err = classifyLoginError(err)
		m.failLogin(gen, err)
		return nil, err
	}

	user := result.User.normalized()
	established, ok := m.commit(func(cur *Session) *Session {
		if cur.Generation != gen {
			return nil
		}
		next := &Session{
			State:           StatePendingPermissions,
			User:            &user,
			Tokens:          result.Tokens,
			IsAuthenticated: result.Tokens.Access != "",
			Generation:      gen,
		}
		m.persistSession(ctx, next)
		return next
	})
	if !ok {
		m.metrics.ObserveLogin("superseded")
		return nil, ErrSuperseded
	}
	m.metrics.ObserveLogin("ok")
	m.logger.Info("login succeeded", slog.Int64("user_id", user.ID), slog.String("role", string(user.Role)))

	m.goBackground(func(ctx context.Context) {
		_ = m.FetchUserPermissions(ctx, established.User.ID)
	})
	return &user, nil
}

func classifyLoginError(err error) error {
	if errors.Is(err, shared.ErrInvalidCredentials) || errors.Is(err, shared.ErrNetwork) {
		return err
	}
	return fmt.Errorf("auth: login: %w: %w", shared.ErrNetwork, err)
}

func (m *Manager) failLogin(gen uint64, err error) {
	outcome := "network_error"
	if errors.Is(err, shared.ErrInvalidCredentials) {
		outcome = "invalid_credentials"
	}
	m.metrics.ObserveLogin(outcome)
	m.logger.Warn("login failed", slog.Any("error", err))
	m.commit(func(cur *Session) *Session {
		if cur.Generation != gen {
			return nil
		}
		return &Session{State: StateError, Err: err, Generation: gen}
	})
}

// ClearError returns a failed login to the empty state so it can be retried.
func (m *Manager) ClearError() {
	m.commit(func(cur *Session) *Session {
		if cur.State != StateError {
			return nil
		}
		return emptySession(cur.Generation)
	})
}

// FetchUserPermissions loads the permission set of userID. Overlapping calls
// for the same session generation share one request. On failure the session
// is left with no permissions but marked loaded, so guards deny rather than
// wait forever; the returned error wraps shared.ErrPermissionFetchFailed and
// is informational only.
func (m *Manager) FetchUserPermissions(ctx context.Context, userID int64) error {
	cur := m.current.Load()
	if !cur.IsAuthenticated || cur.User == nil || cur.User.ID != userID {
		return ErrSuperseded
	}
	gen, token := cur.Generation, cur.Tokens.Access
	key := strconv.FormatUint(gen, 10) + "/" + strconv.FormatInt(userID, 10)

	ch := m.flights.DoChan(key, func() (any, error) {
		return nil, m.fetchPermissions(m.bgCtx, gen, token, userID)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (m *Manager) fetchPermissions(ctx context.Context, gen uint64, token string, userID int64) error {
	perms, fetchErr := m.gateway.UserPermissions(ctx, token, userID)
	if fetchErr != nil {
		perms = []rbac.Permission{}
		fetchErr = fmt.Errorf("auth: permissions for user %d: %w: %w", userID, shared.ErrPermissionFetchFailed, fetchErr)
	} else {
		perms = rbac.NormalizePermissions(perms)
	}

	_, applied := m.commit(func(cur *Session) *Session {
		if cur.Generation != gen {
			return nil
		}
		next := *cur
		next.Permissions = perms
		next.PermissionsLoaded = true
		if next.State == StatePendingPermissions {
			next.State = StateReady
		}
		m.persistEnvelope(ctx, &next)
		return &next
	})

	switch {
	case !applied:
		m.metrics.ObservePermissionFetch("stale")
		m.logger.Debug("discard stale permissions", slog.Int64("user_id", userID))
		return ErrSuperseded
	case fetchErr != nil:
		m.metrics.ObservePermissionFetch("failed")
		m.logger.Warn("permission fetch failed, denying elevated access", slog.Int64("user_id", userID), slog.Any("error", fetchErr))
		return fetchErr
	default:
		m.metrics.ObservePermissionFetch("ok")
		return nil
	}
}

// RefreshProfile revalidates the current session against the API. A rejected
// token logs the user out; connectivity failures keep the cached session.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	cur := m.current.Load()
	if !cur.IsAuthenticated {
		return nil
	}
	return m.revalidate(ctx, cur.Generation)
}

func (m *Manager) revalidate(ctx context.Context, gen uint64) error {
	cur := m.current.Load()
	if cur.Generation != gen || !cur.IsAuthenticated {
		return ErrSuperseded
	}
	profile, err := m.gateway.Profile(ctx, cur.Tokens.Access)
	if err != nil {
		if shared.IsSessionRejected(err) {
			m.forceLogout(ctx, gen, err)
			return err
		}
		m.logger.Warn("profile revalidation failed, keeping cached session", slog.Any("error", err))
		if !cur.PermissionsLoaded && cur.User != nil {
			_ = m.FetchUserPermissions(ctx, cur.User.ID)
		}
		return err
	}

	user := profile.normalized()
	next, ok := m.commit(func(cur *Session) *Session {
		if cur.Generation != gen {
			return nil
		}
		next := *cur
		next.User = &user
		if cur.User == nil || cur.User.ID != user.ID {
			next.Generation = cur.Generation + 1
			next.Permissions = nil
			next.PermissionsLoaded = false
			next.State = StatePendingPermissions
		}
		m.persistSession(ctx, &next)
		return &next
	})
	if !ok {
		return ErrSuperseded
	}
	return m.FetchUserPermissions(ctx, next.User.ID)
}

// recover establishes a user from a cached token that has no cached profile.
func (m *Manager) recover(ctx context.Context, gen uint64, tokens Tokens) {
	profile, err := m.gateway.Profile(ctx, tokens.Access)
	if err != nil {
		if shared.IsSessionRejected(err) {
			// Only a session still waiting on this token may drop it; a login
			// in the meantime owns the store now.
			m.commit(func(cur *Session) *Session {
				if cur.Generation == gen && cur.State == StateEmpty {
					m.clearCache(ctx)
				}
				return nil
			})
		}
		m.logger.Info("cached token not usable", slog.Any("error", err))
		return
	}
	user := profile.normalized()
	next, ok := m.commit(func(cur *Session) *Session {
		if cur.Generation != gen || cur.State != StateEmpty {
			return nil
		}
		next := &Session{
			State:           StatePendingPermissions,
			User:            &user,
			Tokens:          tokens,
			IsAuthenticated: true,
			Generation:      gen + 1,
		}
		m.persistSession(ctx, next)
		return next
	})
	if ok {
		_ = m.FetchUserPermissions(ctx, next.User.ID)
	}
}

// forceLogout clears the session after the API rejected its token.
func (m *Manager) forceLogout(ctx context.Context, gen uint64, cause error) {
	_, ok := m.commit(func(cur *Session) *Session {
		if cur.Generation != gen {
			return nil
		}
		m.clearCache(ctx)
		next := emptySession(gen + 1)
		next.Err = cause
		return next
	})
	if ok {
		m.metrics.ObserveForcedLogout()
		m.logger.Info("session invalidated by api", slog.Any("error", cause))
	}
}

// Logout clears the local session immediately and notifies the API in the
// background. API failures are logged and never block local cleanup.
func (m *Manager) Logout(ctx context.Context) {
	var token string
	m.commit(func(cur *Session) *Session {
		token = cur.Tokens.Access
		m.clearCache(ctx)
		return emptySession(cur.Generation + 1)
	})
	if token == "" {
		return
	}
	m.goBackground(func(ctx context.Context) {
		if err := m.gateway.Logout(ctx, token); err != nil {
			m.logger.Warn("api logout failed", slog.Any("error", err))
		}
	})
}

// commit applies fn to the current snapshot under the mutation lock. A nil
// result leaves the session unchanged. Listeners are notified after unlock.
func (m *Manager) commit(fn func(cur *Session) *Session) (*Session, bool) {
	m.mu.Lock()
	next := fn(m.current.Load())
	if next == nil {
		m.mu.Unlock()
		return m.current.Load(), false
	}
	next.IsAuthenticated = next.Tokens.Access != ""
	m.current.Store(next)
	m.mu.Unlock()
	m.notify(*next)
	return next, true
}

func (m *Manager) notify(s Session) {
	m.listenersMu.Lock()
	fns := make([]func(Session), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (m *Manager) goBackground(fn func(ctx context.Context)) {
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.closed {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		fn(m.bgCtx)
	}()
}
