package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/automl/internal/api/response"
	"github.com/kiranshivaraju/automl/internal/auth"
	"github.com/kiranshivaraju/automl/pkg/models"
)

// Authenticator resolves a bearer token to its user. *auth.Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// Auth provides bearer-token authentication middleware.
type Auth struct {
	authenticator Authenticator
}

func NewAuth(a Authenticator) *Auth {
	return &Auth{authenticator: a}
}

// Authenticate validates the Bearer JWT and sets the user in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		user, err := a.authenticator.Authenticate(r.Context(), token)
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Could not validate credentials", nil)
			return
		case errors.Is(err, auth.ErrInactiveUser):
			response.Error(w, http.StatusUnauthorized,
				"INACTIVE_USER", "Inactive user", nil)
			return
		case err != nil:
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate token", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetUser(r.Context(), user)))
	})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
