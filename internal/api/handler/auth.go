package handler

import (
	"errors"
	"net/http"
	"strings"

	mw "github.com/kiranshivaraju/automl/internal/api/middleware"
	"github.com/kiranshivaraju/automl/internal/api/response"
	"github.com/kiranshivaraju/automl/internal/auth"
)

type signupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NewSignupHandler returns an http.HandlerFunc for POST /api/auth/signup.
func NewSignupHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		sess, err := svc.Signup(r.Context(), req.Email, req.Name, req.Password)
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			response.Error(w, http.StatusBadRequest, "EMAIL_TAKEN", "Email already registered", nil)
			return
		case errors.Is(err, auth.ErrInvalidInput):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "), nil)
			return
		case err != nil:
			response.Internal(w, r, err)
			return
		}

		response.Created(w, sess)
	}
}

// NewLoginHandler returns an http.HandlerFunc for POST /api/auth/login.
func NewLoginHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		sess, err := svc.Login(r.Context(), req.Email, req.Password)
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			w.Header().Set("WWW-Authenticate", "Bearer")
			response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Incorrect email or password", nil)
			return
		case errors.Is(err, auth.ErrInactiveUser):
			response.Error(w, http.StatusBadRequest, "INACTIVE_USER", "Inactive user", nil)
			return
		case err != nil:
			response.Internal(w, r, err)
			return
		}

		response.JSON(w, sess)
	}
}

// NewProfileHandler returns an http.HandlerFunc for GET /api/auth/profile.
func NewProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		response.JSON(w, user)
	}
}
