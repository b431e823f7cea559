package chat

import (
	"sort"
	"sync"
	"time"
)

// Registry maps room ports to their membership sets. It is created once per
// process and shared by every room listener and connection handler; nothing
// else mutates membership.
//
// The room map has its own lock, and each room's set is guarded by a
// separate mutex so that broadcasts in one room never wait on another.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int]*members
	now   func() time.Time
}

type members struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	expires time.Time
	closed  bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[int]*members),
		now:   time.Now,
	}
}

// Open creates an empty membership set for room. A zero expires means new
// joins are accepted for as long as the room is open. Opening an already
// open room only updates its deadline.
func (r *Registry) Open(room int, expires time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rooms[room]; ok {
		m.mu.Lock()
		m.expires = expires
		m.mu.Unlock()
		return
	}
	r.rooms[room] = &members{
		clients: make(map[*Client]struct{}),
		expires: expires,
	}
}

// Close removes room and returns the clients that were in it. The caller
// is responsible for closing them.
func (r *Registry) Close(room int) []*Client {
	r.mu.Lock()
	m, ok := r.rooms[room]
	delete(r.rooms, room)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	out := make([]*Client, 0, len(m.clients))
	for c := range m.clients {
		c.unbind()
		out = append(out, c)
	}
	m.clients = make(map[*Client]struct{})
	return out
}

func (r *Registry) room(room int) *members {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[room]
}

// Add registers client in room.
func (r *Registry) Add(room int, client *Client) error {
	m := r.room(room)
	if m == nil {
		return ErrRoomNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrRoomNotFound
	}
	if !m.expires.IsZero() && !r.now().Before(m.expires) {
		return ErrRoomExpired
	}
	if !client.bind(room) {
		return ErrAlreadyMember
	}
	m.clients[client] = struct{}{}
	return nil
}

// Remove unregisters client from room. Removing an absent client is a no-op;
// the result reports whether anything was removed.
func (r *Registry) Remove(room int, client *Client) bool {
	m := r.room(room)
	if m == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client]; !ok {
		return false
	}
	delete(m.clients, client)
	client.unbind()
	return true
}

// Snapshot returns the current members of room.
func (r *Registry) Snapshot(room int) []*Client {
	m := r.room(room)
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Client, 0, len(m.clients))
	for c := range m.clients {
		out = append(out, c)
	}
	return out
}

// ForEach calls fn for every member of a snapshot of room. fn runs outside
// the room lock, so it may call Remove.
func (r *Registry) ForEach(room int, fn func(*Client)) {
	for _, c := range r.Snapshot(room) {
		fn(c)
	}
}

// Rename changes a member's username in place and returns the old one.
func (r *Registry) Rename(room int, client *Client, name string) (string, error) {
	m := r.room(room)
	if m == nil {
		return "", ErrRoomNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client]; !ok {
		return "", ErrNotMember
	}
	return client.setUsername(name), nil
}

// Members returns the number of clients in room.
func (r *Registry) Members(room int) int {
	m := r.room(room)
	if m == nil {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Usernames returns the sorted usernames of the members of room.
func (r *Registry) Usernames(room int) []string {
	clients := r.Snapshot(room)
	names := make([]string, 0, len(clients))
	for _, c := range clients {
		names = append(names, c.Username())
	}
	sort.Strings(names)
	return names
}

// Expires returns the admission deadline of room, zero if none is set.
func (r *Registry) Expires(room int) (time.Time, bool) {
	m := r.room(room)
	if m == nil {
		return time.Time{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expires, true
}

// Rooms returns the open rooms in ascending order.
func (r *Registry) Rooms() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.rooms))
	for room := range r.rooms {
		out = append(out, room)
	}
	sort.Ints(out)
	return out
}
