package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-commerce/console/internal/rbac"
	"github.com/odyssey-commerce/console/internal/shared"
)

// LoginResult is the outcome of a credential exchange.
type LoginResult struct {
	Tokens Tokens
	// User is nil when the API does not embed the profile in the response.
	User *User
}

// Gateway is the remote API the session manager depends on.
type Gateway interface {
	Login(ctx context.Context, email, password string) (LoginResult, error)
	Profile(ctx context.Context, accessToken string) (User, error)
	UserPermissions(ctx context.Context, accessToken string, userID int64) ([]rbac.Permission, error)
	Logout(ctx context.Context, accessToken string) error
}

// HTTPGateway implements Gateway over the platform's JSON API.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPGateway constructs a gateway rooted at baseURL.
func NewHTTPGateway(baseURL string, httpClient *http.Client, logger *slog.Logger) *HTTPGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "api_gateway")),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

type apiError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Login exchanges credentials for tokens.
func (g *HTTPGateway) Login(ctx context.Context, email, password string) (LoginResult, error) {
	resp, err := g.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{Email: email, Password: password})
	if err != nil {
		return LoginResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnprocessableEntity:
		return LoginResult{}, fmt.Errorf("auth: login status %d: %w", resp.StatusCode, shared.ErrInvalidCredentials)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return LoginResult{}, statusError("login", resp)
	}

	var body loginResponse
	if err := decodeData(resp.Body, &body); err != nil {
		return LoginResult{}, fmt.Errorf("auth: decode login: %w: %w", shared.ErrNetwork, err)
	}
	if body.AccessToken == "" {
		return LoginResult{}, fmt.Errorf("auth: login response without access token: %w", shared.ErrNetwork)
	}
	return LoginResult{
		Tokens: Tokens{Access: body.AccessToken, Refresh: body.RefreshToken},
		User:   body.User,
	}, nil
}

// Profile fetches the user owning accessToken.
func (g *HTTPGateway) Profile(ctx context.Context, accessToken string) (User, error) {
	resp, err := g.do(ctx, http.MethodGet, "/users/profile", accessToken, nil)
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return User{}, statusError("profile", resp)
	}
	var user User
	if err := decodeData(resp.Body, &user); err != nil {
		return User{}, fmt.Errorf("auth: decode profile: %w: %w", shared.ErrNetwork, err)
	}
	return user, nil
}

// UserPermissions lists the effective permissions of userID.
func (g *HTTPGateway) UserPermissions(ctx context.Context, accessToken string, userID int64) ([]rbac.Permission, error) {
	path := "/admin/users/" + strconv.FormatInt(userID, 10) + "/permissions"
	resp, err := g.do(ctx, http.MethodGet, path, accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("permissions", resp)
	}
	var perms []rbac.Permission
	if err := decodeData(resp.Body, &perms); err != nil {
		return nil, fmt.Errorf("auth: decode permissions: %w: %w", shared.ErrNetwork, err)
	}
	return perms, nil
}

// Logout notifies the API that accessToken is no longer in use.
func (g *HTTPGateway) Logout(ctx context.Context, accessToken string) error {
	resp, err := g.do(ctx, http.MethodPost, "/auth/logout", accessToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return statusError("logout", resp)
	}
	return nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path, token string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("auth: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("auth: build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Debug("api request failed", slog.String("path", path), slog.Any("error", err))
		return nil, fmt.Errorf("auth: %s %s: %w: %w", method, path, shared.ErrNetwork, err)
	}
	return resp, nil
}

// statusError classifies a non-success response. A 401 whose body or
// WWW-Authenticate header mentions expiry is reported as ErrTokenExpired.
func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		var body apiError
		_ = json.Unmarshal(raw, &body)
		hint := strings.ToLower(body.Error + " " + body.Code + " " + body.Message + " " + resp.Header.Get("WWW-Authenticate"))
		if strings.Contains(hint, "expired") {
			return fmt.Errorf("auth: %s: %w", op, shared.ErrTokenExpired)
		}
		return fmt.Errorf("auth: %s: %w", op, shared.ErrUnauthorized)
	case http.StatusForbidden:
		return fmt.Errorf("auth: %s status 403: %w", op, shared.ErrUnauthorized)
	default:
		return fmt.Errorf("auth: %s status %d: %w", op, resp.StatusCode, shared.ErrNetwork)
	}
}

// decodeData accepts both a bare payload and a {"data": payload} envelope.
func decodeData(r io.Reader, target any) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && !bytes.Equal(envelope.Data, []byte("null")) {
		raw = envelope.Data
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.Join(errors.New("unexpected response body"), err)
	}
	return nil
}

var _ Gateway = (*HTTPGateway)(nil)
