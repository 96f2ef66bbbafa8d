// Package protocol defines the WebSocket events exchanged between client and
// server. Every frame is a JSON object with an "event" discriminator and an
// optional "data" payload, except the pre-auth Authenticate frame which
// carries its token at the top level.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/whisper/dm-server/internal/model"
)

// ---------------------------------------------------------------------------
// Event kinds
// ---------------------------------------------------------------------------

// EventKind is the closed set of events the server understands. Unrecognised
// wire names map to EventUnknown.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventAuthenticate
	EventReady
	EventError
	EventChatStartTyping
	EventChatEndTyping
	EventChatNewMessage
	EventUserUpdate
	EventChatUpdate
)

var eventNames = map[EventKind]string{
	EventAuthenticate:    "Authenticate",
	EventReady:           "Ready",
	EventError:           "Error",
	EventChatStartTyping: "ChatStartTyping",
	EventChatEndTyping:   "ChatEndTyping",
	EventChatNewMessage:  "ChatNewMessage",
	EventUserUpdate:      "UserUpdate",
	EventChatUpdate:      "ChatUpdate",
}

var eventKinds = func() map[string]EventKind {
	m := make(map[string]EventKind, len(eventNames))
	for k, name := range eventNames {
		m[name] = k
	}
	return m
}()

// String returns the wire name of k.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "Unknown"
}

// KindOf maps a wire name to its kind.
func KindOf(name string) EventKind {
	return eventKinds[name]
}

// ---------------------------------------------------------------------------
// Client-facing reasons
// ---------------------------------------------------------------------------

// Reasons sent in {"event":"Error","data":{"msg":...}} before a pre-auth close.
const (
	ReasonInvalidJSON     = "Invalid JSON data."
	ReasonInvalidAuthType = "Invalid authentication type."
	ReasonInvalidToken    = "Invalid token."
	ReasonInternal        = "Internal Server Error"
	ReasonAuthTimeout     = "Authentication timed out: No data received."
)

// In-band error payloads for authenticated sockets.
const (
	InbandUnknownEvent = "Unknown event."
	InbandInvalidJSON  = "Invalid json data."
)

// Parse errors.
var (
	ErrMalformed     = errors.New("protocol: malformed frame")
	ErrWrongAuthType = errors.New("protocol: not an authenticate event")
)

// ---------------------------------------------------------------------------
// Client -> Server
// ---------------------------------------------------------------------------

// Envelope is the generic frame shape.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseAuthenticate extracts the bearer token from a pre-auth frame. Frames
// that are not a JSON object with string "event" and "token" fields return
// ErrMalformed; any event other than Authenticate returns ErrWrongAuthType.
func ParseAuthenticate(data []byte) (string, error) {
	var m struct {
		Event *string `json:"event"`
		Token *string `json:"token"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Event == nil || m.Token == nil {
		return "", ErrMalformed
	}
	if KindOf(*m.Event) != EventAuthenticate {
		return "", ErrWrongAuthType
	}
	return *m.Token, nil
}

// ClientEvent is a decoded post-auth frame.
type ClientEvent struct {
	Kind   EventKind
	Name   string // wire name as received
	ChatID string // set for typing events
}

// ParseClientEvent decodes a frame from an authenticated socket. Only typing
// events are accepted from clients; every other name yields EventUnknown.
// ErrMalformed is returned for frames that are not valid JSON or whose
// typing payload is not a chat id string.
func ParseClientEvent(data []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ev := ClientEvent{Kind: KindOf(env.Event), Name: env.Event}
	switch ev.Kind {
	case EventChatStartTyping, EventChatEndTyping:
		if err := json.Unmarshal(env.Data, &ev.ChatID); err != nil || ev.ChatID == "" {
			return ClientEvent{}, ErrMalformed
		}
	default:
		ev.Kind = EventUnknown
	}
	return ev, nil
}

// ---------------------------------------------------------------------------
// Server -> Client payloads
// ---------------------------------------------------------------------------

// ReadyData is the initial state pushed after authentication.
type ReadyData struct {
	ID           string              `json:"id"`
	Username     string              `json:"username"`
	Users        []model.RelatedUser `json:"users"`
	Chats        []model.Chat        `json:"chats"`
	LastMessages []model.Message     `json:"lastMessages"`
	SessionID    string              `json:"sessionId"`
}

// TypingData identifies who is typing where.
type TypingData struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// MessageData is a ChatNewMessage payload: the message plus the author's
// optional client-generated ack id.
type MessageData struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	AckID     string `json:"ackId,omitempty"`
}

// NewMessageData builds a MessageData from a stored message.
func NewMessageData(m model.Message, ackID string) MessageData {
	return MessageData{
		ID:        m.ID,
		ChatID:    m.ChatID,
		AuthorID:  m.AuthorID,
		Content:   m.Content,
		Timestamp: m.Timestamp().UnixMilli(),
		AckID:     ackID,
	}
}

// UserPatch carries the changed fields of a related user.
type UserPatch struct {
	ID           string                `json:"id"`
	Username     string                `json:"username,omitempty"`
	Relationship *model.RelationStatus `json:"relationship,omitempty"`
	Online       *bool                 `json:"online,omitempty"`
	LastSeen     *int64                `json:"lastSeen,omitempty"` // unix seconds
}

// UserUpdateData wraps a UserPatch.
type UserUpdateData struct {
	User UserPatch `json:"user"`
}

// ---------------------------------------------------------------------------
// Builders
// ---------------------------------------------------------------------------

// Marshal encodes a server event.
func Marshal(kind EventKind, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %s payload: %w", kind, err)
	}
	out, err := json.Marshal(Envelope{Event: kind.String(), Data: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %s event: %w", kind, err)
	}
	return out, nil
}

func mustMarshal(kind EventKind, data any) []byte {
	out, err := Marshal(kind, data)
	if err != nil {
		panic(err)
	}
	return out
}

// Ready encodes the Ready event.
func Ready(data ReadyData) ([]byte, error) {
	return Marshal(EventReady, data)
}

// AuthError encodes a terminal pre-auth error with reason.
func AuthError(reason string) []byte {
	return mustMarshal(EventError, map[string]string{"msg": reason})
}

// InbandError encodes a non-terminal error for an authenticated socket.
func InbandError(msg string) []byte {
	return mustMarshal(EventError, msg)
}

// Typing encodes a ChatStartTyping or ChatEndTyping event.
func Typing(kind EventKind, chatID, userID string) []byte {
	return mustMarshal(kind, TypingData{ChatID: chatID, UserID: userID})
}

// NewMessage encodes a ChatNewMessage event.
func NewMessage(m model.Message, ackID string) []byte {
	return mustMarshal(EventChatNewMessage, NewMessageData(m, ackID))
}

// UserUpdate encodes a UserUpdate event.
func UserUpdate(p UserPatch) []byte {
	return mustMarshal(EventUserUpdate, UserUpdateData{User: p})
}

// ChatUpdate encodes a ChatUpdate event carrying the whole chat.
func ChatUpdate(c model.Chat) []byte {
	return mustMarshal(EventChatUpdate, c)
}
