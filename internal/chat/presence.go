package chat

import (
	"sort"
	"sync"
	"time"
)

type presenceEntry struct {
	user     UserRef
	client   *Client
	joinedAt time.Time
	seq      uint64
}

// Registry tracks who is online right now. Entries are keyed by user id,
// so a second join for the same user replaces the first connection's entry
// while the older connection stays open. That quirk is deliberate (it
// matches the online-table the service grew up with) and is pinned by tests.
//
// The registry is purely in-memory: a restart empties it regardless of how
// many sockets were connected.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*presenceEntry
	nextSeq uint64
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*presenceEntry),
	}
}

func (r *Registry) Join(client *Client, userID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	r.entries[userID] = &presenceEntry{
		user:     UserRef{UserID: userID, Name: name},
		client:   client,
		joinedAt: time.Now(),
		seq:      r.nextSeq,
	}
}

// Leave removes the entry owned by the given connection. A connection whose
// entry was already superseded by a newer join holds no entry, so leaving is
// a no-op; the return value reports whether anything was removed.
func (r *Registry) Leave(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, entry := range r.entries {
		if entry.client == client {
			delete(r.entries, userID)
			return true
		}
	}
	return false
}

// List returns the online users in join order, oldest first.
func (r *Registry) List() []OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*presenceEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	users := make([]OnlineUser, 0, len(entries))
	for _, entry := range entries {
		users = append(users, OnlineUser{
			UserID: entry.user.UserID,
			Name:   entry.user.Name,
			Online: true,
		})
	}
	return users
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
