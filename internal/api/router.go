// Package api exposes the HTTP surface: account endpoints, friend management,
// chat history and message posting, plus the WebSocket, health and metrics
// endpoints mounted on the same gorilla/mux router.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/auth"
	"github.com/whisper/dm-server/internal/dm"
	"github.com/whisper/dm-server/internal/metrics"
	"github.com/whisper/dm-server/internal/ratelimit"
	"github.com/whisper/dm-server/internal/ws"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the HTTP API.
type Handler struct {
	auth    *auth.Service
	dm      *dm.Service
	limiter *ratelimit.Limiter
}

// NewRouter builds the application router. wsServer may be nil, in which case
// /ws is not mounted and /health reports no connections.
func NewRouter(authSvc *auth.Service, dmSvc *dm.Service, limiter *ratelimit.Limiter, wsServer *ws.Server) *mux.Router {
	h := &Handler{auth: authSvc, dm: dmSvc, limiter: limiter}

	r := mux.NewRouter()

	if wsServer != nil {
		r.Handle("/ws", wsServer).Methods(http.MethodGet)
		r.HandleFunc("/health", wsServer.HandleHealth).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}).Methods(http.MethodGet)
	}
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Auth endpoints.
	a := r.PathPrefix("/auth").Subrouter()
	a.HandleFunc("/signup", h.Signup).Methods(http.MethodPost)
	a.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	a.Handle("/user", authSvc.Middleware(http.HandlerFunc(h.CurrentUser))).Methods(http.MethodGet)
	a.Handle("/logout", authSvc.Middleware(http.HandlerFunc(h.Logout))).Methods(http.MethodDelete)

	// Friend endpoints.
	u := r.PathPrefix("/users").Subrouter()
	u.Use(authSvc.Middleware)
	u.HandleFunc("/{user}/friend", h.AddFriend).Methods(http.MethodPut)
	u.HandleFunc("/{user}/friend", h.RemoveFriend).Methods(http.MethodDelete)

	// Chat endpoints.
	c := r.PathPrefix("/chat").Subrouter()
	c.Use(authSvc.Middleware)
	c.HandleFunc("/{chatId}/messages", h.GetMessages).Methods(http.MethodGet)
	c.HandleFunc("/{chatId}/messages", h.SendMessage).Methods(http.MethodPost)

	return r
}

// decodeJSON reads a JSON body into v. Any decoding failure is reported as
// apierror.ErrInvalidJSON.
func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if !errors.Is(err, io.EOF) {
			log.Printf("api: decode %s %s: %v", r.Method, r.URL.Path, err)
		}
		return apierror.ErrInvalidJSON
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// identity returns the caller stored by auth.Middleware.
func identity(r *http.Request) *auth.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}
