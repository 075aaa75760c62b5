package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bookstore/library/internal/apperr"
	"github.com/bookstore/library/internal/auth"
	"github.com/bookstore/library/internal/library"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

// register answers 202 rather than an error status for duplicate or invalid
// signups, which clients treat as a soft failure.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in library.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeErrorStatus(w, s.log, http.StatusAccepted, err)
		return
	}

	user, err := s.accounts.Register(r.Context(), in)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindDuplicate, apperr.KindInvalidInput:
			writeErrorStatus(w, s.log, http.StatusAccepted, err)
		default:
			writeError(w, s.log, err)
		}
		return
	}

	writeSuccess(w, http.StatusCreated,
		"Registration successful. Please check your email for verification.",
		map[string]interface{}{"user": user})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Verify(r.Context(), mux.Vars(r)["token"]); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Email verified successfully!", nil)
}

// login answers 202 for wrong credentials and 401 for unverified accounts
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	creds := auth.Credentials{Username: req.Username, Password: req.Password, Token: req.Token}
	if s.authStrategy == auth.StrategyToken && creds.Token == "" {
		creds.Token = sessionToken(r)
	}

	result, err := s.accounts.Login(r.Context(), creds)
	if err != nil {
		if apperr.IsKind(err, apperr.KindInvalidCredentials) {
			writeErrorStatus(w, s.log, http.StatusAccepted, err)
			return
		}
		writeError(w, s.log, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    result.Token,
		Path:     "/",
		Expires:  result.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeSuccess(w, http.StatusOK, "Authenticated successfully", result)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeSuccess(w, http.StatusOK, "Logged Out", nil)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in library.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, s.log, err)
		return
	}

	user, err := s.accounts.UpdateProfile(r.Context(), in)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User information updated successfully", map[string]interface{}{"user": user})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.accounts.ListUsers(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{"users": users})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.accounts.GetUser(r.Context(), mux.Vars(r)["uniqueId"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{"user": user})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{"user": userFromContext(r.Context())})
}
