package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docchat/internal/bus"
	"docchat/internal/domain"

	"github.com/google/uuid"
)

// Connect registers a new connection for an identified user or for the temp
// user behind req.TempID.
func (o *Orchestrator) Connect(ctx context.Context, req domain.ConnectRequest) (*domain.Connected, error) {
	if req.TempID == "" {
		return nil, fmt.Errorf("temporary identity is required")
	}

	var (
		user *domain.User
		err  error
	)
	if req.UserID != "" {
		user, err = o.sessions.EnsureUser(ctx, req.UserID, req.UserName)
	} else {
		user, err = o.sessions.EnsureTempUser(ctx, req.TempID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	o.registry.Add(req.ConnID, user.ID)
	o.logger.Info("client connected", "conn", req.ConnID, "user", user.ID, "temp", user.IsTemp)
	o.emit(bus.EventConnected, "", map[string]any{"conn": req.ConnID, "user": user.ID})
	return &domain.Connected{
		ConnectionID:  req.ConnID,
		LogicalUserID: user.ID,
		TempIdentity:  req.TempID,
	}, nil
}

func (o *Orchestrator) JoinRoom(ctx context.Context, connID string, req domain.JoinRoomRequest) domain.JoinRoomResult {
	userID, ok := o.registry.UserOf(connID)
	if !ok {
		return domain.JoinRoomResult{Error: errUnknownConnection}
	}
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		return domain.JoinRoomResult{Error: "roomId is required"}
	}

	room, err := o.sessions.EnsureRoom(ctx, roomID, req.RoomName, userID, req.IsPrivate)
	if err != nil {
		o.logger.Error("ensure room failed", "room", roomID, "err", err)
		return domain.JoinRoomResult{Error: "Failed to join room"}
	}
	if room.IsPrivate && room.OwnerID != userID {
		return domain.JoinRoomResult{Error: "This room is private"}
	}

	o.registry.Join(userID, roomID)
	o.emit(bus.EventRoomJoined, roomID, map[string]any{"user": userID})
	return domain.JoinRoomResult{
		Success: true,
		RoomID:  roomID,
		UserID:  userID,
		Message: "Joined room " + room.Name,
	}
}

func (o *Orchestrator) LeaveRoom(_ context.Context, connID string, req domain.LeaveRoomRequest) domain.LeaveRoomResult {
	userID, ok := o.registry.UserOf(connID)
	if !ok {
		return domain.LeaveRoomResult{Error: errUnknownConnection}
	}
	if !o.registry.Leave(userID, req.RoomID) {
		return domain.LeaveRoomResult{Error: "You are not in this room"}
	}
	o.emit(bus.EventRoomLeft, req.RoomID, map[string]any{"user": userID})
	return domain.LeaveRoomResult{Success: true, RoomID: req.RoomID}
}

// Disconnect drops the connection. When it was the user's last one, every
// room the user had joined gets a notice. The notice is not stored.
func (o *Orchestrator) Disconnect(ctx context.Context, connID string) {
	userID, rooms, last := o.registry.Remove(connID)
	if userID == "" {
		return
	}
	o.emit(bus.EventDisconnected, "", map[string]any{"conn": connID, "user": userID})
	if !last {
		return
	}

	name := userID
	if u, err := o.sessions.User(ctx, userID); err == nil && u != nil && u.Name != "" {
		name = u.Name
	}
	now := time.Now()
	for _, roomID := range rooms {
		o.broadcast(roomID, systemSenderID, domain.Message{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			Text:      name + " left the chat",
			Type:      domain.MessageSystem,
			CreatedAt: now,
		})
	}
	o.logger.Info("client disconnected", "conn", connID, "user", userID, "rooms", len(rooms))
}
