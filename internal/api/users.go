package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/model"
)

type addFriendResponse struct {
	User    userResponse `json:"user"`
	Chat    *model.Chat  `json:"chat,omitempty"`
	Message string       `json:"message"`
}

type removedUser struct {
	ID string `json:"id"`
}

type removeFriendResponse struct {
	User    removedUser `json:"user"`
	Message string      `json:"message"`
	ChatID  string      `json:"chatId,omitempty"`
}

// AddFriend handles PUT /users/{user}/friend. The path names the target by
// username unless ?type=id is given.
func (h *Handler) AddFriend(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	target := mux.Vars(r)["user"]
	byID := strings.EqualFold(r.URL.Query().Get("type"), "id")

	res, err := h.dm.AddFriend(r.Context(), model.PublicUser{ID: id.UserID, Username: id.Username}, target, byID)
	if err != nil {
		apierror.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addFriendResponse{
		User:    userResponse{ID: res.User.ID, Username: res.User.Username},
		Chat:    res.Chat,
		Message: res.Message,
	})
}

// RemoveFriend handles DELETE /users/{user}/friend. It removes a friend,
// cancels an outgoing request or declines an incoming one.
func (h *Handler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	target := mux.Vars(r)["user"]

	res, err := h.dm.RemoveFriend(r.Context(), id.UserID, target)
	if err != nil {
		apierror.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removeFriendResponse{
		User:    removedUser{ID: res.UserID},
		Message: res.Message,
		ChatID:  res.ChatID,
	})
}
