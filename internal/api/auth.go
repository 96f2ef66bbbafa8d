package api

import (
	"net/http"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/ratelimit"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	FriendlyName string `json:"friendlyName"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type sessionResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

type loginResponse struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Session  sessionResponse `json:"session"`
}

// Signup handles POST /auth/signup.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if err := h.limiter.Check(r.Context(), ratelimit.ClientIP(r), ratelimit.RuleLogin); err != nil {
		apierror.Write(w, r, err)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, w, &req); err != nil {
		apierror.Write(w, r, err)
		return
	}

	u, err := h.auth.Signup(r.Context(), req.Username, req.Password)
	if err != nil {
		apierror.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: u.ID, Username: u.Username})
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := h.limiter.Check(r.Context(), ratelimit.ClientIP(r), ratelimit.RuleLogin); err != nil {
		apierror.Write(w, r, err)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, w, &req); err != nil {
		apierror.Write(w, r, err)
		return
	}

	u, sess, err := h.auth.Login(r.Context(), req.Username, req.Password, req.FriendlyName)
	if err != nil {
		apierror.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		ID:       u.ID,
		Username: u.Username,
		Session:  sessionResponse{ID: sess.ID, Token: sess.Token},
	})
}

// CurrentUser handles GET /auth/user.
func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	writeJSON(w, http.StatusOK, userResponse{ID: id.UserID, Username: id.Username})
}

// Logout handles DELETE /auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), identity(r).SessionID); err != nil {
		apierror.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out."})
}
