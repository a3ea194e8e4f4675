package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-commerce/console/internal/auth"
	"github.com/odyssey-commerce/console/internal/guard"
	"github.com/odyssey-commerce/console/internal/observability"
	"github.com/odyssey-commerce/console/internal/platform/httpx"
	"github.com/odyssey-commerce/console/internal/shared"
)

const loginAttemptsPerMinute = 10

// Handler serves the console's session and page endpoints.
type Handler struct {
	logger   *slog.Logger
	config   *Config
	sessions *Sessions
	routes   *guard.Table
	csrf     *CSRFManager
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, cfg *Config, sessions *Sessions, routes *guard.Table, csrf *CSRFManager, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		config:   cfg,
		sessions: sessions,
		routes:   routes,
		csrf:     csrf,
		metrics:  metrics,
		validate: validator.New(),
	}
}

// MountRoutes registers the console endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.With(httprate.LimitByIP(loginAttemptsPerMinute, time.Minute)).Post("/login", h.login)
		r.Post("/logout", h.logout)
		r.Get("/session", h.session)
		r.Get("/watch", h.watch)
	})
	r.Get("/notifications", h.notifications)
	r.Get("/pages", h.listPages)
	r.Get("/pages/*", h.page)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Next     string `json:"next"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	form, isForm, err := decodeLogin(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, bs := h.manager(r)

	if err := h.validate.Struct(form); err != nil {
		h.loginFailed(w, r, bs, isForm, fmt.Errorf("%w: %s", httpx.ErrValidation, validationDetail(err)))
		return
	}

	if _, err := m.Login(r.Context(), form.Email, form.Password); err != nil {
		if errors.Is(err, auth.ErrSuperseded) {
			err = fmt.Errorf("%w: %w", httpx.ErrConflict, err)
		}
		h.loginFailed(w, r, bs, isForm, err)
		return
	}

	if isForm {
		http.Redirect(w, r, h.safeNext(form.Next), http.StatusSeeOther)
		return
	}
	httpx.JSON(w, http.StatusOK, h.sessionView(m.Snapshot(), bs))
}

func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request, bs *BrowserSession, isForm bool, err error) {
	if !isForm {
		httpx.RespondError(w, err)
		return
	}
	msg := shared.UserMessage(err)
	if errors.Is(err, httpx.ErrValidation) {
		msg = shared.UserMessage(shared.ErrInvalidCredentials)
	}
	bs.AddFlash(shared.FlashMessage{Kind: "error", Message: msg})
	http.Redirect(w, r, h.config.LoginPath, http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	m, bs := h.manager(r)
	// Marked first: open watchers observe the logout synchronously.
	bs.MarkLoggedOut()
	m.Logout(r.Context())
	bs.AddFlash(shared.FlashMessage{Kind: "success", Message: "You have been logged out"})
	if isFormRequest(r) {
		http.Redirect(w, r, h.config.LoginPath, http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	m, bs := h.manager(r)
	httpx.JSON(w, http.StatusOK, h.sessionView(m.Snapshot(), bs))
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	bs := BrowserSessionFromContext(r.Context())
	flashes := bs.PopFlashes()
	if flashes == nil {
		flashes = []shared.FlashMessage{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notifications": flashes})
}

type pageSummary struct {
	Path    string        `json:"path"`
	Title   string        `json:"title"`
	Outcome guard.Outcome `json:"outcome"`
}

// listPages reports what each page would decide right now, for navigation
// menus. It has no redirect or notification side effects.
func (h *Handler) listPages(w http.ResponseWriter, r *http.Request) {
	m, _ := h.manager(r)
	s := m.Snapshot()
	routes := h.routes.Routes()
	pages := make([]pageSummary, 0, len(routes))
	for _, route := range routes {
		pages = append(pages, pageSummary{
			Path:    route.Path,
			Title:   route.Title,
			Outcome: guard.Decide(s, route.Guard.Requirement()),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pages": pages})
}

type pageView struct {
	Path           string        `json:"path"`
	Title          string        `json:"title"`
	Outcome        guard.Outcome `json:"outcome"`
	RedirectTo     string        `json:"redirectTo,omitempty"`
	LoadingMessage string        `json:"loadingMessage,omitempty"`
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	route, ok := h.routes.Lookup("/" + chi.URLParam(r, "*"))
	if !ok {
		httpx.RespondError(w, fmt.Errorf("page %s: %w", r.URL.Path, httpx.ErrNotFound))
		return
	}
	m, bs := h.manager(r)
	d := h.guardFor(m, bs, nil).Evaluate(r.Context(), route.Guard)
	writeDecision(w, route, d)
}

// watch long-polls a rendered page: it answers as soon as a session change
// forces the page away, or with 204 after WatchTimeout.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	route, ok := h.routes.Lookup(r.URL.Query().Get("path"))
	if !ok {
		httpx.RespondError(w, fmt.Errorf("watch %q: %w", r.URL.Query().Get("path"), httpx.ErrNotFound))
		return
	}
	m, bs := h.manager(r)
	nav := &redirectSignal{to: make(chan string, 1)}
	g := h.guardFor(m, bs, nav)

	d := g.Evaluate(r.Context(), route.Guard)
	if d.Outcome != guard.Render {
		writeDecision(w, route, d)
		return
	}
	stop := g.Watch(r.Context(), route.Guard)
	defer stop()

	timer := time.NewTimer(h.config.WatchTimeout)
	defer timer.Stop()
	select {
	case <-r.Context().Done():
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
	case to := <-nav.to:
		writeDecision(w, route, guard.Decision{
			Outcome:    guard.Decide(m.Snapshot(), route.Guard.Requirement()),
			RedirectTo: to,
		})
	}
}

func writeDecision(w http.ResponseWriter, route guard.Route, d guard.Decision) {
	view := pageView{
		Path:           route.Path,
		Title:          route.Title,
		Outcome:        d.Outcome,
		RedirectTo:     d.RedirectTo,
		LoadingMessage: d.LoadingMessage,
	}
	switch d.Outcome {
	case guard.Render:
		httpx.JSON(w, http.StatusOK, view)
	case guard.Loading:
		w.Header().Set("Retry-After", "1")
		httpx.JSON(w, http.StatusAccepted, view)
	default:
		w.Header().Set("Location", d.RedirectTo)
		httpx.JSON(w, http.StatusSeeOther, view)
	}
}

// manager returns the initialized session manager of the calling browser.
func (h *Handler) manager(r *http.Request) (*auth.Manager, *BrowserSession) {
	bs := BrowserSessionFromContext(r.Context())
	m := h.sessions.Acquire(bs.ID)
	m.Initialize(r.Context())
	return m, bs
}

func (h *Handler) guardFor(m *auth.Manager, bs *BrowserSession, nav guard.Navigator) *guard.Guard {
	return guard.New(m, nav, bs, guard.Options{
		LoginPath:   h.config.LoginPath,
		LandingPath: h.config.LandingPath,
		Policy:      h.config.SuppressPolicy(),
		Marker:      bs,
		Logger:      h.logger,
		Metrics:     h.metrics,
	})
}

// safeNext only follows same-origin absolute paths.
func (h *Handler) safeNext(next string) string {
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") && !strings.Contains(next, "\\") {
		return next
	}
	return h.config.LandingPath
}

type sessionView struct {
	State             string          `json:"state"`
	IsAuthenticated   bool            `json:"isAuthenticated"`
	IsLoading         bool            `json:"isLoading"`
	PermissionsLoaded bool            `json:"permissionsLoaded"`
	User              *auth.User      `json:"user"`
	IsAdmin           bool            `json:"isAdmin"`
	Permissions       []string        `json:"permissions"`
	Capabilities      map[string]bool `json:"capabilities"`
	Error             string          `json:"error,omitempty"`
	CSRFToken         string          `json:"csrfToken"`
}

func (h *Handler) sessionView(s auth.Session, bs *BrowserSession) sessionView {
	view := sessionView{
		State:             s.State.String(),
		IsAuthenticated:   s.IsAuthenticated,
		IsLoading:         s.IsLoading,
		PermissionsLoaded: s.PermissionsLoaded,
		User:              s.User,
		IsAdmin:           s.IsAdmin(),
		Permissions:       make([]string, 0, len(s.Permissions)),
		Capabilities:      make(map[string]bool),
		Error:             shared.UserMessage(s.Err),
		CSRFToken:         h.csrf.Token(bs),
	}
	for _, p := range s.Permissions {
		view.Permissions = append(view.Permissions, p.Slug)
	}
	if s.PermissionsLoaded {
		for _, scope := range shared.ConsoleScopes() {
			view.Capabilities[scope] = s.HasPermission(scope)
		}
	}
	return view
}

type redirectSignal struct {
	to chan string
}

func (n *redirectSignal) Navigate(_ context.Context, to string) {
	select {
	case n.to <- to:
	default:
	}
}

func decodeLogin(r *http.Request) (loginForm, bool, error) {
	var form loginForm
	if isFormRequest(r) {
		if err := r.ParseForm(); err != nil {
			return form, true, fmt.Errorf("%w: %w", httpx.ErrValidation, err)
		}
		form.Email = strings.TrimSpace(r.PostForm.Get("email"))
		form.Password = r.PostForm.Get("password")
		form.Next = r.PostForm.Get("next")
		return form, true, nil
	}
	if err := httpx.DecodeJSON(r, &form); err != nil {
		return form, false, err
	}
	form.Email = strings.TrimSpace(form.Email)
	return form, false, nil
}

func isFormRequest(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/x-www-form-urlencoded"
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return strings.Join(fields, ", ")
}
