// Package model holds the persisted and wire-level data types shared by the
// storage, relationship, messaging and realtime layers.
package model

import (
	"encoding/json"
	"time"

	"github.com/whisper/dm-server/internal/idgen"
)

// RelationStatus is one side's view of a friendship edge. None is never
// stored: the absence of a row is None.
type RelationStatus string

const (
	RelationNone           RelationStatus = "None"
	RelationOutgoing       RelationStatus = "Outgoing"
	RelationIncoming       RelationStatus = "Incoming"
	RelationFriend         RelationStatus = "Friend"
	RelationBlocked        RelationStatus = "Blocked"
	RelationBlockedByOther RelationStatus = "BlockedByOther"
)

// Valid reports whether s may be written to storage.
func (s RelationStatus) Valid() bool {
	switch s {
	case RelationOutgoing, RelationIncoming, RelationFriend, RelationBlocked, RelationBlockedByOther:
		return true
	}
	return false
}

// Mirror returns the status the other side of the edge must hold.
func (s RelationStatus) Mirror() RelationStatus {
	switch s {
	case RelationOutgoing:
		return RelationIncoming
	case RelationIncoming:
		return RelationOutgoing
	case RelationBlocked:
		return RelationBlockedByOther
	case RelationBlockedByOther:
		return RelationBlocked
	}
	return s
}

// User is an account row.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// PublicUser is the subset of a user exposed to other users.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// Relation is one directed edge as seen from its owner.
type Relation struct {
	PeerID string         `json:"id"`
	Status RelationStatus `json:"status"`
}

// RelatedUser is a user the viewer has a relation or a chat with, merged with
// live presence.
type RelatedUser struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Relationship *RelationStatus `json:"relationship,omitempty"`
	Online       bool            `json:"online"`
	LastSeen     *int64          `json:"lastSeen,omitempty"` // unix seconds
}

// ChatType distinguishes two-party chats from group chats.
type ChatType string

const (
	ChatDirect ChatType = "Direct"
	ChatGroup  ChatType = "Group"
)

// Recipient is a chat member reference.
type Recipient struct {
	ID string `json:"id"`
}

// Chat is a conversation. Direct chats have exactly two recipients.
type Chat struct {
	ID            string      `json:"id"`
	Type          ChatType    `json:"type"`
	Recipients    []Recipient `json:"recipients"`
	LastMessageID *string     `json:"lastMessageId,omitempty"`
}

// HasRecipient reports whether userID is a member of c.
func (c *Chat) HasRecipient(userID string) bool {
	for _, r := range c.Recipients {
		if r.ID == userID {
			return true
		}
	}
	return false
}

// Other returns the first recipient that is not userID, or "".
func (c *Chat) Other(userID string) string {
	for _, r := range c.Recipients {
		if r.ID != userID {
			return r.ID
		}
	}
	return ""
}

// RecipientIDs returns the member ids in order.
func (c *Chat) RecipientIDs() []string {
	ids := make([]string, len(c.Recipients))
	for i, r := range c.Recipients {
		ids[i] = r.ID
	}
	return ids
}

// Message is a chat message. Its creation time is encoded in the id.
type Message struct {
	ID       string `json:"id"`
	ChatID   string `json:"chatId"`
	AuthorID string `json:"authorId"`
	Content  string `json:"content"`
}

// Timestamp returns the creation time recovered from the id.
func (m *Message) Timestamp() time.Time {
	t, _ := idgen.Time(m.ID)
	return t
}

// MarshalJSON adds the derived millisecond timestamp to the payload.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	return json.Marshal(struct {
		plain
		Timestamp int64 `json:"timestamp"`
	}{plain(m), m.Timestamp().UnixMilli()})
}
