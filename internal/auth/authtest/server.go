// Package authtest runs an in-process fake of the platform API for tests.
package authtest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-commerce/console/internal/auth"
	"github.com/odyssey-commerce/console/internal/rbac"
)

var signingKey = []byte("authtest-signing-key")

// Account is a user known to the fake API.
type Account struct {
	User        auth.User
	Password    string
	Permissions []string
	// EmbedUser controls whether the login response carries the profile.
	EmbedUser bool
	// NoRefresh drops refresh_token from the login response.
	NoRefresh bool
}

type account struct {
	user        auth.User
	hash        []byte
	permissions []rbac.Permission
	embedUser   bool
	noRefresh   bool
}

// Server is a fake platform API.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*account
	byID     map[int64]*account
	tokenTTL time.Duration
	revoked  map[string]bool

	permissionsGate chan struct{}
	profileGate     chan struct{}
	failPermissions atomic.Bool
	failProfile     atomic.Int32
	profileCalls    atomic.Int32
	permissionCalls atomic.Int32
	logoutCalls     atomic.Int32
}

// NewServer starts a fake API with the given accounts and registers cleanup.
func NewServer(t testing.TB, accounts ...Account) *Server {
	t.Helper()
	s := &Server{
		accounts: make(map[string]*account),
		byID:     make(map[int64]*account),
		tokenTTL: time.Hour,
		revoked:  make(map[string]bool),
	}
	for _, a := range accounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		perms := make([]rbac.Permission, 0, len(a.Permissions))
		for i, slug := range a.Permissions {
			perms = append(perms, rbac.Permission{ID: int64(i + 1), Slug: slug, Name: slug})
		}
		acc := &account{user: a.User, hash: hash, permissions: perms, embedUser: a.EmbedUser, noRefresh: a.NoRefresh}
		s.accounts[strings.ToLower(a.User.Email)] = acc
		s.byID[a.User.ID] = acc
	}

	r := chi.NewRouter()
	r.Post("/auth/login", s.login)
	r.Post("/auth/logout", s.logout)
	r.Get("/users/profile", s.profile)
	r.Get("/admin/users/{id}/permissions", s.permissions)
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// SetTokenTTL changes the lifetime of tokens issued afterwards.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	s.tokenTTL = ttl
	s.mu.Unlock()
}

// IssueToken returns a token for userID valid for ttl (negative for expired).
func (s *Server) IssueToken(userID int64, ttl time.Duration) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	return token
}

// Revoke makes the API reject token.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	s.revoked[token] = true
	s.mu.Unlock()
}

// HoldPermissions blocks permission responses until the returned release
// function is called.
func (s *Server) HoldPermissions() (release func()) {
	return s.hold(&s.permissionsGate)
}

// HoldProfile blocks profile responses until the returned release function
// is called.
func (s *Server) HoldProfile() (release func()) {
	return s.hold(&s.profileGate)
}

func (s *Server) hold(slot *chan struct{}) func() {
	gate := make(chan struct{})
	s.mu.Lock()
	*slot = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			*slot = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *Server) wait(r *http.Request, slot *chan struct{}) bool {
	s.mu.Lock()
	gate := *slot
	s.mu.Unlock()
	if gate == nil {
		return true
	}
	select {
	case <-gate:
		return true
	case <-r.Context().Done():
		return false
	}
}

// FailPermissions makes the permission endpoint answer 500.
func (s *Server) FailPermissions(fail bool) { s.failPermissions.Store(fail) }

// FailProfile makes the profile endpoint answer status (0 restores normal).
func (s *Server) FailProfile(status int) { s.failProfile.Store(int32(status)) }

// ProfileCalls returns how many profile requests were served.
func (s *Server) ProfileCalls() int { return int(s.profileCalls.Load()) }

// PermissionCalls returns how many permission requests were served.
func (s *Server) PermissionCalls() int { return int(s.permissionCalls.Load()) }

// LogoutCalls returns how many logout requests were served.
func (s *Server) LogoutCalls() int { return int(s.logoutCalls.Load()) }

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}
	s.mu.Lock()
	acc := s.accounts[strings.ToLower(req.Email)]
	ttl := s.tokenTTL
	s.mu.Unlock()
	if acc == nil || bcrypt.CompareHashAndPassword(acc.hash, []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		return
	}
	resp := map[string]any{"access_token": s.IssueToken(acc.user.ID, ttl)}
	if !acc.noRefresh {
		resp["refresh_token"] = "refresh-" + strconv.FormatInt(acc.user.ID, 10)
	}
	if acc.embedUser {
		resp["user"] = acc.user
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)
	if token := bearer(r); token != "" {
		s.Revoke(token)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	s.profileCalls.Add(1)
	if !s.wait(r, &s.profileGate) {
		return
	}
	if status := int(s.failProfile.Load()); status != 0 {
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	acc, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": acc.user})
}

func (s *Server) permissions(w http.ResponseWriter, r *http.Request) {
	s.permissionCalls.Add(1)
	if !s.wait(r, &s.permissionsGate) {
		return
	}
	if s.failPermissions.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_id"})
		return
	}
	s.mu.Lock()
	acc := s.byID[id]
	s.mu.Unlock()
	if acc == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, acc.permissions)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*account, bool) {
	raw := bearer(r)
	s.mu.Lock()
	revoked := s.revoked[raw]
	s.mu.Unlock()
	if raw == "" || revoked {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return nil, false
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		code := "unauthorized"
		if errors.Is(err, jwt.ErrTokenExpired) {
			code = "token_expired"
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": code})
		return nil, false
	}
	id, _ := strconv.ParseInt(claims.Subject, 10, 64)
	s.mu.Lock()
	acc := s.byID[id]
	s.mu.Unlock()
	if acc == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return nil, false
	}
	return acc, true
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
