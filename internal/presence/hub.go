package presence

import (
	"slices"
	"time"

	"github.com/whisper/dm-server/internal/metrics"
)

// Hub couples the Registry with the ChatIndex and delivers events to users
// and chats.
//
// Lock order is entry then index shard. Broadcasts read the index, release
// it, and only then take entry locks, so no path holds both in reverse.
type Hub struct {
	Registry *Registry
	Index    *ChatIndex
}

// NewHub returns a Hub with an empty registry and index.
func NewHub() *Hub {
	return &Hub{Registry: NewRegistry(), Index: NewChatIndex()}
}

// Connect registers a new channel for userID. See Registry.Connect.
func (h *Hub) Connect(userID string) (*Channel, bool) {
	return h.Registry.Connect(userID)
}

// Disconnect removes ch. When it was the user's last channel the user leaves
// every chat in the index and the disconnect time is returned.
func (h *Hub) Disconnect(userID string, ch *Channel) (last bool, lastSeen time.Time) {
	return h.Registry.disconnect(userID, ch, func(chats []string) {
		for _, chatID := range chats {
			h.Index.RemoveMember(chatID, userID)
		}
	})
}

// SyncChats replaces userID's cached chat set and, if the user is online,
// moves the user between chats in the index accordingly.
func (h *Hub) SyncChats(userID string, chatIDs []string) {
	h.Registry.refresh(userID, chatIDs, func(online bool, old []string) {
		if online {
			h.Index.ReplaceUserChats(userID, old, chatIDs)
		}
	})
}

// AttachChat adds chatID to the cached set of each user that has an entry
// and indexes the ones that are online. Users never seen pick the chat up
// from storage on their next connect.
func (h *Hub) AttachChat(chatID string, userIDs ...string) {
	for _, userID := range userIDs {
		h.Registry.update(userID, func(e *entry) {
			e.chats[chatID] = struct{}{}
			e.record(chatID, true)
			if e.online {
				h.Index.AddMember(chatID, userID)
			}
		})
	}
}

// DetachChat removes chatID from the cached set and index membership of each
// user.
func (h *Hub) DetachChat(chatID string, userIDs ...string) {
	for _, userID := range userIDs {
		h.Registry.update(userID, func(e *entry) {
			delete(e.chats, chatID)
			e.record(chatID, false)
		})
		h.Index.RemoveMember(chatID, userID)
	}
}

// ChatSync is a routing load in progress for one user. Attach and detach
// calls made between BeginSync and Finish are replayed over the loaded
// snapshot, so a relationship change that commits while the snapshot is read
// is not lost.
type ChatSync struct {
	hub      *Hub
	userID   string
	attached map[string]struct{}
	detached map[string]struct{}
}

// BeginSync starts recording userID's membership changes. Call it before
// reading the user's chats from storage, then Finish or Abort.
func (h *Hub) BeginSync(userID string) *ChatSync {
	sy := &ChatSync{
		hub:      h,
		userID:   userID,
		attached: make(map[string]struct{}),
		detached: make(map[string]struct{}),
	}
	e := h.Registry.getOrCreate(userID)
	e.mu.Lock()
	e.syncs = append(e.syncs, sy)
	e.mu.Unlock()
	return sy
}

// Finish replaces the cached chat set with chatIDs plus the chats attached
// since BeginSync, minus those detached since, and moves an online user
// between chats in the index accordingly. It returns the resulting set.
func (sy *ChatSync) Finish(chatIDs []string) []string {
	var final []string
	h := sy.hub
	h.Registry.update(sy.userID, func(e *entry) {
		sy.detach(e)
		merged := make(map[string]struct{}, len(chatIDs)+len(sy.attached))
		for _, id := range chatIDs {
			merged[id] = struct{}{}
		}
		for id := range sy.attached {
			merged[id] = struct{}{}
		}
		for id := range sy.detached {
			delete(merged, id)
		}
		final = keys(merged)

		old := keys(e.chats)
		e.chats = merged
		if e.online {
			h.Index.ReplaceUserChats(sy.userID, old, final)
		}
	})
	return final
}

// Abort stops recording without touching the cached chat set.
func (sy *ChatSync) Abort() {
	sy.hub.Registry.update(sy.userID, sy.detach)
}

// detach removes sy from the entry's in-flight loads. Caller holds e.mu.
func (sy *ChatSync) detach(e *entry) {
	if i := slices.Index(e.syncs, sy); i >= 0 {
		e.syncs = slices.Delete(e.syncs, i, i+1)
	}
}

// Presence returns userID's current presence.
func (h *Hub) Presence(userID string) Presence {
	return h.Registry.Snapshot(userID)
}

// UserHasChatMembership reports whether userID currently holds chatID in its
// cached chat set.
func (h *Hub) UserHasChatMembership(userID, chatID string) bool {
	return h.Registry.HasChat(userID, chatID)
}

// ToUser delivers event to every live channel of userID.
func (h *Hub) ToUser(userID string, event []byte) {
	h.Registry.SendTo(userID, event)
}

// ToUsers delivers event to every live channel of each user.
func (h *Hub) ToUsers(userIDs []string, event []byte) {
	start := time.Now()
	for _, userID := range userIDs {
		h.Registry.SendTo(userID, event)
	}
	metrics.FanoutLatency.Observe(time.Since(start).Seconds())
}

// ToChat delivers event to every online member of chatID.
func (h *Hub) ToChat(chatID string, event []byte) {
	h.ToUsers(h.Index.MembersOf(chatID), event)
}

// ToChatExcept delivers event to every online member of chatID other than
// excluded.
func (h *Hub) ToChatExcept(chatID string, event []byte, excluded string) {
	members := h.Index.MembersOf(chatID)
	out := members[:0]
	for _, id := range members {
		if id != excluded {
			out = append(out, id)
		}
	}
	h.ToUsers(out, event)
}
