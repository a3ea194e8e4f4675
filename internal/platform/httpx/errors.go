package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-commerce/console/internal/shared"
)

// Sentinel errors for the HTTP layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Authentication failures carry the user-facing message as detail.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Invalid Credentials", shared.UserMessage(err))
	case shared.IsSessionRejected(err):
		Problem(w, http.StatusUnauthorized, "Unauthorized", shared.UserMessage(err))
	case errors.Is(err, shared.ErrNetwork):
		Problem(w, http.StatusBadGateway, "Bad Gateway", shared.UserMessage(err))
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
