package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/odyssey-commerce/console/internal/auth"
	"github.com/odyssey-commerce/console/internal/observability"
	"github.com/odyssey-commerce/console/internal/shared"
)

const (
	DefaultLoginPath      = "/login"
	DefaultLandingPath    = "/dashboard"
	DefaultLoadingMessage = "Loading..."
)

// Messages shown alongside guard redirects.
const (
	MessageLoginRequired = "Please log in to access this page"
	MessageForbidden     = "You do not have permission to access this page"
)

// SessionSource is the part of the session manager a guard reads.
type SessionSource interface {
	Initialize(ctx context.Context)
	Snapshot() auth.Session
	Subscribe(fn func(auth.Session)) (unsubscribe func())
}

// Navigator performs redirects.
type Navigator interface {
	Navigate(ctx context.Context, to string)
}

// Notifier shows one-shot notifications.
type Notifier interface {
	Notify(ctx context.Context, msg shared.FlashMessage)
}

// Marker holds the "just logged out" flag. TakeLoggedOut reports and clears it.
type Marker interface {
	MarkLoggedOut()
	TakeLoggedOut() bool
}

// OneShot is an in-memory Marker.
type OneShot struct {
	set atomic.Bool
}

func (o *OneShot) MarkLoggedOut()      { o.set.Store(true) }
func (o *OneShot) TakeLoggedOut() bool { return o.set.Swap(false) }

// SuppressPolicy selects which notifications the logged-out marker hides.
type SuppressPolicy string

const (
	// SuppressUnauthenticated hides only the login-required notification.
	SuppressUnauthenticated SuppressPolicy = "unauthenticated"
	// SuppressAll also hides a permission-denied notification.
	SuppressAll SuppressPolicy = "all"
)

// ParseSuppressPolicy validates a configured policy. Empty selects the default.
func ParseSuppressPolicy(raw string) (SuppressPolicy, error) {
	switch SuppressPolicy(raw) {
	case "", SuppressUnauthenticated:
		return SuppressUnauthenticated, nil
	case SuppressAll:
		return SuppressAll, nil
	default:
		return "", fmt.Errorf("guard: unknown suppress policy %q", raw)
	}
}

// Decision is a decided outcome together with the side effects applied.
type Decision struct {
	Outcome        Outcome              `json:"outcome"`
	RedirectTo     string               `json:"redirectTo,omitempty"`
	Notice         *shared.FlashMessage `json:"notice,omitempty"`
	LoadingMessage string               `json:"loadingMessage,omitempty"`
}

// Options configures a Guard.
type Options struct {
	LoginPath   string
	LandingPath string
	Policy      SuppressPolicy
	Marker      Marker
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Guard wraps Decide with initialization, navigation and notification.
type Guard struct {
	source      SessionSource
	navigator   Navigator
	notifier    Notifier
	marker      Marker
	loginPath   string
	landingPath string
	policy      SuppressPolicy
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New constructs a Guard. Nil collaborators are replaced by no-ops.
func New(source SessionSource, navigator Navigator, notifier Notifier, opts Options) *Guard {
	g := &Guard{
		source:      source,
		navigator:   navigator,
		notifier:    notifier,
		marker:      opts.Marker,
		loginPath:   opts.LoginPath,
		landingPath: opts.LandingPath,
		policy:      opts.Policy,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if g.navigator == nil {
		g.navigator = noopNavigator{}
	}
	if g.notifier == nil {
		g.notifier = noopNotifier{}
	}
	if g.marker == nil {
		g.marker = &OneShot{}
	}
	if g.loginPath == "" {
		g.loginPath = DefaultLoginPath
	}
	if g.landingPath == "" {
		g.landingPath = DefaultLandingPath
	}
	if g.policy == "" {
		g.policy = SuppressUnauthenticated
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// MarkLoggedOut sets the one-shot marker after an explicit logout.
func (g *Guard) MarkLoggedOut() {
	g.marker.MarkLoggedOut()
}

// Evaluate initializes the session if needed, decides cfg against the
// current snapshot and applies the resulting redirect and notification.
func (g *Guard) Evaluate(ctx context.Context, cfg Config) Decision {
	g.source.Initialize(ctx)
	s := g.source.Snapshot()
	return g.apply(ctx, cfg, s, Decide(s, cfg.Requirement()))
}

// Watch keeps guarding a page that has already been evaluated. The first
// time the session fails cfg, the redirect and notification are applied;
// later changes are ignored. A change that landed between Evaluate and
// Watch is caught by checking the current snapshot once after subscribing.
// The returned function stops watching.
func (g *Guard) Watch(ctx context.Context, cfg Config) (stop func()) {
	req := cfg.Requirement()
	var once sync.Once
	check := func(s auth.Session) {
		outcome := Decide(s, req)
		if outcome != Unauthenticated && outcome != Forbidden {
			return
		}
		once.Do(func() {
			g.apply(ctx, cfg, s, outcome)
		})
	}
	stop = g.source.Subscribe(check)
	check(g.source.Snapshot())
	return stop
}

func (g *Guard) apply(ctx context.Context, cfg Config, s auth.Session, outcome Outcome) Decision {
	g.metrics.ObserveGuardDecision(outcome.String())
	d := Decision{Outcome: outcome}
	switch outcome {
	case Loading:
		d.LoadingMessage = cfg.LoadingMessage
		if d.LoadingMessage == "" {
			d.LoadingMessage = DefaultLoadingMessage
		}
		return d
	case Render:
		return d
	case Unauthenticated:
		d.RedirectTo = cfg.RedirectTo
		if d.RedirectTo == "" {
			d.RedirectTo = g.loginPath
		}
		if !g.marker.TakeLoggedOut() {
			d.Notice = &shared.FlashMessage{Kind: "warning", Message: loginMessage(s.Err)}
		}
	case Forbidden:
		d.RedirectTo = g.landingPath
		if g.policy != SuppressAll || !g.marker.TakeLoggedOut() {
			d.Notice = &shared.FlashMessage{Kind: "error", Message: MessageForbidden}
		}
		g.logger.Info("guard denied access",
			slog.Any("user_id", userID(s)),
			slog.String("role", string(s.Role())),
			slog.Any("permissions", cfg.Permissions),
			slog.Any("roles", cfg.Roles))
	}
	if d.Notice != nil {
		g.notifier.Notify(ctx, *d.Notice)
	}
	g.navigator.Navigate(ctx, d.RedirectTo)
	return d
}

func loginMessage(cause error) string {
	if errors.Is(cause, shared.ErrTokenExpired) {
		return shared.UserMessage(cause)
	}
	return MessageLoginRequired
}

func userID(s auth.Session) int64 {
	if s.User == nil {
		return 0
	}
	return s.User.ID
}

type noopNavigator struct{}

func (noopNavigator) Navigate(context.Context, string) {}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, shared.FlashMessage) {}
