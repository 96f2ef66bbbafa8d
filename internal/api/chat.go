package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/message"
)

type sendMessageRequest struct {
	Content string `json:"content"`
	AckID   string `json:"ackId"`
}

// GetMessages handles GET /chat/{chatId}/messages?before&after&limit.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	page, err := message.ParsePage(r.URL.Query())
	if err != nil {
		apierror.Write(w, r, err)
		return
	}

	msgs, err := h.dm.GetMessages(r.Context(), identity(r).UserID, mux.Vars(r)["chatId"], page)
	if err != nil {
		apierror.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage handles POST /chat/{chatId}/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, w, &req); err != nil {
		apierror.Write(w, r, err)
		return
	}

	data, err := h.dm.SendMessage(r.Context(), identity(r).UserID, mux.Vars(r)["chatId"], req.Content, req.AckID)
	if err != nil {
		apierror.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
