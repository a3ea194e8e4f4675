package shared

import "errors"

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNetwork covers transport failures, timeouts and unexpected API responses.
	ErrNetwork = errors.New("network error")
	// ErrTokenExpired indicates the API rejected an expired access token.
	ErrTokenExpired = errors.New("token expired")
	// ErrUnauthorized indicates the API rejected the access token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPermissionFetchFailed indicates the permission list could not be loaded.
	ErrPermissionFetchFailed = errors.New("permission fetch failed")
	// ErrStorageUnavailable indicates the credential store could not be written.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// IsSessionRejected reports whether err means the API no longer accepts the session.
func IsSessionRejected(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTokenExpired)
}

// UserMessage returns the text shown to users for an authentication failure.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, ErrNetwork):
		return "Unable to reach the server, please try again"
	case IsSessionRejected(err):
		return "Your session has expired, please log in again"
	default:
		return "Something went wrong, please try again"
	}
}
