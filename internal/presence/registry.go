package presence

import (
	"log"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/whisper/dm-server/internal/metrics"
)

const shardCount = 64

// entry is one user's presence record. Every field is guarded by mu.
type entry struct {
	mu       sync.Mutex
	online   bool
	lastSeen time.Time // zero while online or if never disconnected
	channels []*Channel
	chats    map[string]struct{}
	syncs    []*ChatSync // routing loads in flight
}

// record notes a membership change on every routing load in flight so its
// snapshot can be corrected when it finishes.
func (e *entry) record(chatID string, attached bool) {
	for _, sy := range e.syncs {
		if attached {
			sy.attached[chatID] = struct{}{}
			delete(sy.detached, chatID)
		} else {
			sy.detached[chatID] = struct{}{}
			delete(sy.attached, chatID)
		}
	}
}

type registryShard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Presence is a point-in-time view of a user's connection state.
type Presence struct {
	Online   bool
	LastSeen *time.Time // nil while online
}

// Registry maps user ids to their live channels and cached chat ids.
// Entries are kept after the last channel closes so lastSeen survives.
type Registry struct {
	shards [shardCount]*registryShard
	now    func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{now: time.Now}
	for i := range r.shards {
		r.shards[i] = &registryShard{entries: make(map[string]*entry)}
	}
	return r
}

func (r *Registry) shard(userID string) *registryShard {
	return r.shards[xxhash.Sum64String(userID)%shardCount]
}

func (r *Registry) lookup(userID string) *entry {
	s := r.shard(userID)
	s.mu.RLock()
	e := s.entries[userID]
	s.mu.RUnlock()
	return e
}

func (r *Registry) getOrCreate(userID string) *entry {
	if e := r.lookup(userID); e != nil {
		return e
	}
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{chats: make(map[string]struct{})}
		s.entries[userID] = e
	}
	return e
}

// Connect adds a new delivery channel for userID and marks the user online.
// first reports whether the user was offline before this call.
func (r *Registry) Connect(userID string) (ch *Channel, first bool) {
	ch = NewChannel()
	e := r.getOrCreate(userID)

	e.mu.Lock()
	first = len(e.channels) == 0
	e.channels = append(e.channels, ch)
	e.online = true
	e.lastSeen = time.Time{}
	e.mu.Unlock()

	if first {
		metrics.OnlineUsers.Inc()
	}
	return ch, first
}

// Disconnect removes exactly ch from userID's channels and closes it. It
// reports whether ch was the user's last channel.
func (r *Registry) Disconnect(userID string, ch *Channel) (last bool) {
	last, _ = r.disconnect(userID, ch, nil)
	return last
}

// disconnect runs onLast under the entry lock with the chat ids the user held
// when its last channel closes. The cached chat set is cleared in that case.
func (r *Registry) disconnect(userID string, ch *Channel, onLast func(chats []string)) (bool, time.Time) {
	ch.Close()
	e := r.lookup(userID)
	if e == nil {
		return false, time.Time{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	i := slices.Index(e.channels, ch)
	if i < 0 {
		return false, time.Time{}
	}
	e.channels = slices.Delete(e.channels, i, i+1)
	if len(e.channels) > 0 {
		return false, time.Time{}
	}

	e.channels = nil
	e.online = false
	e.lastSeen = r.now()
	if onLast != nil {
		onLast(keys(e.chats))
	}
	clear(e.chats)
	metrics.OnlineUsers.Dec()
	return true, e.lastSeen
}

// RefreshChatMembership replaces the cached chat ids of userID and returns
// the previously cached set.
func (r *Registry) RefreshChatMembership(userID string, chatIDs []string) (old []string) {
	return r.refresh(userID, chatIDs, nil)
}

func (r *Registry) refresh(userID string, chatIDs []string, swap func(online bool, old []string)) []string {
	e := r.getOrCreate(userID)

	e.mu.Lock()
	defer e.mu.Unlock()

	old := keys(e.chats)
	e.chats = make(map[string]struct{}, len(chatIDs))
	for _, id := range chatIDs {
		e.chats[id] = struct{}{}
	}
	if swap != nil {
		swap(e.online, old)
	}
	return old
}

// Snapshot returns the current presence of userID.
func (r *Registry) Snapshot(userID string) Presence {
	e := r.lookup(userID)
	if e == nil {
		return Presence{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p := Presence{Online: e.online}
	if !e.online && !e.lastSeen.IsZero() {
		ts := e.lastSeen
		p.LastSeen = &ts
	}
	return p
}

// SendTo enqueues event on every live channel of userID and returns how many
// channels accepted it.
func (r *Registry) SendTo(userID string, event []byte) int {
	e := r.lookup(userID)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	channels := slices.Clone(e.channels)
	e.mu.Unlock()

	sent := 0
	for _, ch := range channels {
		if err := ch.Send(event); err != nil {
			log.Printf("presence: send to user=%s failed: %v", userID, err)
			metrics.EventsDropped.Inc()
			continue
		}
		sent++
	}
	return sent
}

// HasChat reports whether chatID is in userID's cached chat set.
func (r *Registry) HasChat(userID, chatID string) bool {
	e := r.lookup(userID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.chats[chatID]
	return ok
}

// ChatIDs returns a copy of userID's cached chat set.
func (r *Registry) ChatIDs(userID string) []string {
	e := r.lookup(userID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return keys(e.chats)
}

// ChannelCount returns the number of live channels of userID.
func (r *Registry) ChannelCount(userID string) int {
	e := r.lookup(userID)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

// update runs fn under userID's entry lock if the entry exists.
func (r *Registry) update(userID string, fn func(e *entry)) {
	e := r.lookup(userID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
