package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-commerce/console/internal/rbac"
	"github.com/odyssey-commerce/console/internal/shared"
)

func response(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(strings.NewReader(body))}
}

func TestStatusErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		resp   *http.Response
		target error
	}{
		{"expired body", response(401, `{"error":"token_expired"}`, nil), shared.ErrTokenExpired},
		{"expired message", response(401, `{"message":"JWT has Expired"}`, nil), shared.ErrTokenExpired},
		{"expired header", response(401, ``, http.Header{"Www-Authenticate": {`Bearer error="invalid_token", error_description="expired"`}}), shared.ErrTokenExpired},
		{"plain 401", response(401, `{"error":"unauthorized"}`, nil), shared.ErrUnauthorized},
		{"forbidden", response(403, `{}`, nil), shared.ErrUnauthorized},
		{"server error", response(502, `bad gateway`, nil), shared.ErrNetwork},
		{"not found", response(404, ``, nil), shared.ErrNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := statusError("profile", tc.resp)
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestDecodeDataAcceptsEnvelopeAndBarePayload(t *testing.T) {
	var u User
	require.NoError(t, decodeData(strings.NewReader(`{"data":{"id":3,"email":"a@b.c","role":"admin"}}`), &u))
	assert.Equal(t, int64(3), u.ID)

	var perms []rbac.Permission
	require.NoError(t, decodeData(strings.NewReader(`[{"id":1,"slug":"orders.manage"}]`), &perms))
	require.Len(t, perms, 1)
	assert.Equal(t, "orders.manage", perms[0].Slug)

	perms = nil
	require.NoError(t, decodeData(strings.NewReader(`{"data":[{"id":2,"slug":"products.read"}]}`), &perms))
	require.Len(t, perms, 1)

	assert.Error(t, decodeData(strings.NewReader(`<html>`), &u))
}

func TestHTTPGatewayLoginMapsRejectionToInvalidCredentials(t *testing.T) {
	for _, status := range []int{400, 401, 403, 422} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		_, err := NewHTTPGateway(srv.URL, nil, nil).Login(context.Background(), "a@b.c", "x")
		assert.ErrorIs(t, err, shared.ErrInvalidCredentials, "status %d", status)
		srv.Close()
	}
}

func TestHTTPGatewayLoginWithoutTokenIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"user":{"id":1}}`)
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, nil, nil).Login(context.Background(), "a@b.c", "x")
	assert.ErrorIs(t, err, shared.ErrNetwork)
}

func TestHTTPGatewaySendsBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		assert.Equal(t, "/admin/users/42/permissions", r.URL.Path)
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	perms, err := NewHTTPGateway(srv.URL+"/", nil, nil).UserPermissions(context.Background(), "tok", 42)
	require.NoError(t, err)
	assert.Empty(t, perms)
	assert.Equal(t, "Bearer tok", got)
}
