package core

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/vovakirdan/relaychat/internal/errs"
)

type presenceEntry struct {
	userName string
	client   *Client
	seq      uint64
}

// Presence maps user identities to their live connection.
// It holds at most one entry per user id; a newer connect replaces the older one.
type Presence struct {
	mu      sync.RWMutex
	entries map[string]*presenceEntry
	seq     uint64
}

// NewPresence creates an empty registry.
func NewPresence() *Presence {
	return &Presence{entries: make(map[string]*presenceEntry)}
}

// Connect registers client as the connection for userID.
// If another connection was registered it is returned; it is dropped from the
// registry but not closed.
func (p *Presence) Connect(userID, userName string, client *Client) (*Client, error) {
	switch {
	case userID == "":
		return nil, errs.Required("userId")
	case userName == "":
		return nil, errs.Required("userName")
	case client == nil:
		return nil, errs.Required("connection")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.entries[userID]; ok {
		// Keep the original position in snapshots.
		prev := existing.client
		existing.userName = userName
		existing.client = client
		if prev == client {
			return nil, nil
		}
		return prev, nil
	}

	p.seq++
	p.entries[userID] = &presenceEntry{userName: userName, client: client, seq: p.seq}
	return nil, nil
}

// Disconnect removes userID only while client is still its registered connection.
// It reports whether an entry was removed.
func (p *Presence) Disconnect(userID string, client *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[userID]
	if !ok || entry.client != client {
		return false
	}
	delete(p.entries, userID)
	return true
}

// Lookup returns the live connection for userID, if any.
func (p *Presence) Lookup(userID string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[userID]
	if !ok {
		return nil, false
	}
	return entry.client, true
}

// Snapshot returns the online users in first-connect order.
func (p *Presence) Snapshot() []OnlineUser {
	type ordered struct {
		user OnlineUser
		seq  uint64
	}

	p.mu.RLock()
	entries := lo.MapToSlice(p.entries, func(userID string, e *presenceEntry) ordered {
		return ordered{user: OnlineUser{UserID: userID, UserName: e.userName}, seq: e.seq}
	})
	p.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	return lo.Map(entries, func(e ordered, _ int) OnlineUser {
		return e.user
	})
}

// Len returns the number of online users.
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Clear drops every entry. Used on shutdown.
func (p *Presence) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]*presenceEntry)
}
