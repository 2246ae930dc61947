package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"docchat/internal/domain"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// RoomSessions materializes users and rooms on first realtime contact.
type RoomSessions struct {
	store  domain.MessageStore
	logger *slog.Logger

	mu    sync.RWMutex
	users *lru.Cache[string, domain.User] // userID -> last known record
}

// userCacheSize bounds the user records kept for display names.
const userCacheSize = 4096

func NewRoomSessions(store domain.MessageStore, logger *slog.Logger) *RoomSessions {
	if logger == nil {
		logger = slog.Default()
	}
	users, _ := lru.New[string, domain.User](userCacheSize) // errors only on size <= 0
	return &RoomSessions{
		store:  store,
		logger: logger,
		users:  users,
	}
}

// EnsureTempUser returns the temp user bound to tempID, creating it on
// first contact.
func (rs *RoomSessions) EnsureTempUser(ctx context.Context, tempID string) (*domain.User, error) {
	if tempID == "" {
		return nil, fmt.Errorf("temp identity is required")
	}

	// Fast path: read lock
	rs.mu.RLock()
	u, err := rs.store.GetUserByTempID(ctx, tempID)
	rs.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if u != nil {
		rs.remember(*u)
		return u, nil
	}

	// Slow path: write lock, double-check
	rs.mu.Lock()
	defer rs.mu.Unlock()

	u, err = rs.store.GetUserByTempID(ctx, tempID)
	if err != nil {
		return nil, err
	}
	if u != nil {
		rs.users.Add(u.ID, *u)
		return u, nil
	}

	nu := domain.User{
		ID:     uuid.NewString(),
		Name:   guestName(tempID),
		Role:   domain.RoleTemp,
		IsTemp: true,
		TempID: tempID,
	}
	if err := rs.store.UpsertUser(ctx, nu); err != nil {
		return nil, err
	}
	rs.users.Add(nu.ID, nu)
	rs.logger.Info("created temp user", "user", nu.ID, "temp_id", tempID)
	return &nu, nil
}

// EnsureUser upserts a user recognized by the identity provider.
func (rs *RoomSessions) EnsureUser(ctx context.Context, id, name string) (*domain.User, error) {
	if id == "" {
		return nil, fmt.Errorf("user id is required")
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	u, err := rs.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u != nil && (name == "" || u.Name == name) {
		rs.users.Add(u.ID, *u)
		return u, nil
	}
	if u == nil {
		u = &domain.User{ID: id, Role: domain.RoleUser}
		rs.logger.Info("registered user", "user", id)
	}
	if name != "" {
		u.Name = name
	}
	if u.Name == "" {
		u.Name = id
	}
	if err := rs.store.UpsertUser(ctx, *u); err != nil {
		return nil, err
	}
	rs.users.Add(u.ID, *u)
	return u, nil
}

// User returns a user by id, from cache when possible.
func (rs *RoomSessions) User(ctx context.Context, id string) (*domain.User, error) {
	if u, ok := rs.users.Get(id); ok {
		return &u, nil
	}
	found, err := rs.store.GetUser(ctx, id)
	if err != nil || found == nil {
		return found, err
	}
	rs.remember(*found)
	return found, nil
}

func (rs *RoomSessions) remember(u domain.User) {
	rs.users.Add(u.ID, u)
}

// EnsureRoom returns the room, creating it owned by ownerID when it does
// not exist yet. name and private only apply on creation.
func (rs *RoomSessions) EnsureRoom(ctx context.Context, roomID, name, ownerID string, private bool) (*domain.Room, error) {
	rs.mu.RLock()
	room, err := rs.store.GetRoom(ctx, roomID)
	rs.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if room != nil {
		return room, nil
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	room, err = rs.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room != nil {
		return room, nil
	}

	nr := domain.Room{ID: roomID, Name: roomTitle(name, roomID), OwnerID: ownerID, IsPrivate: private}
	if err := rs.store.UpsertRoom(ctx, nr); err != nil {
		return nil, err
	}
	rs.logger.Info("created room", "room", roomID, "owner", ownerID, "private", private)
	return &nr, nil
}

// guestName labels a temp user with the first six runes of its temp id.
func guestName(tempID string) string {
	n := 0
	for i := range tempID {
		if n == 6 {
			return "Guest " + tempID[:i]
		}
		n++
	}
	return "Guest " + tempID
}

// roomTitle cleans a client-supplied room name: first line only, at most
// 60 bytes cut on a word boundary. An empty name falls back to the id.
func roomTitle(name, roomID string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return roomID
	}
	if idx := strings.IndexAny(name, "\n\r"); idx > 0 {
		name = name[:idx]
	}
	if len(name) > 60 {
		cut := strings.LastIndex(name[:60], " ")
		if cut < 20 {
			cut = 60
			for cut > 0 && !utf8.RuneStart(name[cut]) {
				cut--
			}
		}
		name = name[:cut] + "..."
	}
	return name
}
