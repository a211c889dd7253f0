// Package room maintains the in-memory mapping of room identifiers to their
// connected participants. The registry is owned by the relay instance that
// creates it; nothing here is process-global, so multiple isolated registries
// can coexist under test.
package room

import (
	"sync"
)

// Participant is one member of a room.
type Participant struct {
	ConnectionID string
	UserID       string
	DisplayName  string
}

// Sender delivers raw bytes to a connection. It is implemented by the
// WebSocket server in production and by fakes in tests, keeping the registry
// transport-agnostic.
type Sender interface {
	Send(connectionID string, data []byte) error
}

// Registry is a goroutine-safe mapping of room ID -> participant set. Rooms
// are created on first join and deleted when the last participant leaves;
// nothing is persisted.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]Participant // roomID -> connID -> participant
	inRoom  map[string]string                 // connID -> roomID
	sender  Sender
}

// NewRegistry creates an empty registry that delivers broadcasts through the
// given sender.
func NewRegistry(sender Sender) *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]Participant),
		inRoom: make(map[string]string),
		sender: sender,
	}
}

// Join adds a participant to a room, creating the room if needed, and returns
// a snapshot of the members that were present before the join. A connection
// may be in at most one room; joining a second room implicitly leaves the
// first, and the returned leftRoom reports which one (empty if none).
func (r *Registry) Join(roomID string, p Participant) (existing []Participant, leftRoom string) {
	r.mu.Lock()
	if prev, ok := r.inRoom[p.ConnectionID]; ok && prev != roomID {
		r.removeLocked(prev, p.ConnectionID)
		leftRoom = prev
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Participant)
		r.rooms[roomID] = members
	}

	existing = make([]Participant, 0, len(members))
	for _, m := range members {
		existing = append(existing, m)
	}

	members[p.ConnectionID] = p
	r.inRoom[p.ConnectionID] = roomID
	r.mu.Unlock()
	return existing, leftRoom
}

// Leave removes a connection from the given room. It returns the removed
// participant and true if the connection was a member, or a zero participant
// and false otherwise. The room is deleted when its last member leaves.
func (r *Registry) Leave(roomID string, connectionID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	p, ok := members[connectionID]
	if !ok {
		return Participant{}, false
	}
	r.removeLocked(roomID, connectionID)
	return p, true
}

// RoomOf returns the room a connection currently belongs to, or "" if it is
// not in any room.
func (r *Registry) RoomOf(connectionID string) string {
	r.mu.RLock()
	roomID := r.inRoom[connectionID]
	r.mu.RUnlock()
	return roomID
}

// Members returns a snapshot of the participants currently in a room.
func (r *Registry) Members(roomID string) []Participant {
	r.mu.RLock()
	members := r.rooms[roomID]
	out := make([]Participant, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	r.mu.RUnlock()
	return out
}

// RoomCount returns the number of rooms with at least one participant.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	n := len(r.rooms)
	r.mu.RUnlock()
	return n
}

// Broadcast delivers data to every participant of the room except the sender.
// Delivery is best effort: a failed send (closed connection) is ignored and
// does not affect the other participants. It returns the number of successful
// deliveries.
func (r *Registry) Broadcast(roomID string, senderConnectionID string, data []byte) int {
	r.mu.RLock()
	members := r.rooms[roomID]
	targets := make([]string, 0, len(members))
	for connID := range members {
		if connID == senderConnectionID {
			continue
		}
		targets = append(targets, connID)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, connID := range targets {
		if err := r.sender.Send(connID, data); err == nil {
			delivered++
		}
	}
	return delivered
}

// removeLocked deletes a connection from a room and garbage-collects the room
// if it became empty. The caller must hold the write lock.
func (r *Registry) removeLocked(roomID, connectionID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	delete(r.inRoom, connectionID)
}
