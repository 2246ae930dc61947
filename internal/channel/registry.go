package channel

import (
	"slices"
	"sync"
)

// Registry maps live connections to logical users and users to the rooms
// they joined. It is process-local and lost on restart: running more than
// one node needs it moved into a shared store.
type Registry struct {
	mu        sync.RWMutex
	connUser  map[string]string
	userConns map[string]map[string]struct{}
	userRooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		connUser:  make(map[string]string),
		userConns: make(map[string]map[string]struct{}),
		userRooms: make(map[string]map[string]struct{}),
	}
}

// Add binds connID to userID.
func (r *Registry) Add(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.connUser[connID]; ok && prev != userID {
		r.dropConnLocked(connID, prev)
	}
	r.connUser[connID] = userID
	conns := r.userConns[userID]
	if conns == nil {
		conns = make(map[string]struct{})
		r.userConns[userID] = conns
	}
	conns[connID] = struct{}{}
}

// UserOf returns the logical user of a connection.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.connUser[connID]
	return u, ok
}

func (r *Registry) Join(userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := r.userRooms[userID]
	if rooms == nil {
		rooms = make(map[string]struct{})
		r.userRooms[userID] = rooms
	}
	rooms[roomID] = struct{}{}
}

// Leave reports whether the user was in the room.
func (r *Registry) Leave(userID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := r.userRooms[userID]
	if _, ok := rooms[roomID]; !ok {
		return false
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(r.userRooms, userID)
	}
	return true
}

func (r *Registry) IsMember(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.userRooms[userID][roomID]
	return ok
}

// Rooms returns the user's rooms in sorted order.
func (r *Registry) Rooms(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.userRooms[userID])
}

// Remove unbinds a connection. When it was the user's last connection the
// user's room memberships are dropped too and returned with last=true.
func (r *Registry) Remove(connID string) (userID string, rooms []string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.connUser[connID]
	if !ok {
		return "", nil, false
	}
	if !r.dropConnLocked(connID, userID) {
		return userID, nil, false
	}
	rooms = sortedKeys(r.userRooms[userID])
	delete(r.userRooms, userID)
	return userID, rooms, true
}

// dropConnLocked reports whether userID has no connections left.
func (r *Registry) dropConnLocked(connID, userID string) bool {
	delete(r.connUser, connID)
	conns := r.userConns[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.userConns, userID)
		return true
	}
	return false
}

// RoomConnections returns every connection of every user joined to roomID.
func (r *Registry) RoomConnections(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for userID, rooms := range r.userRooms {
		if _, ok := rooms[roomID]; !ok {
			continue
		}
		for c := range r.userConns[userID] {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

// Stats returns the number of live connections and distinct users.
func (r *Registry) Stats() (conns, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connUser), len(r.userConns)
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
