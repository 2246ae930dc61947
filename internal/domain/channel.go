package domain

// Broadcaster pushes a named event to every connection of every user
// currently joined to a room.
type Broadcaster interface {
	BroadcastToRoom(roomID, event string, payload any)
}

// MessageEvent is the payload of the "message" realtime event.
type MessageEvent struct {
	UserID  string  `json:"userId"`
	Message Message `json:"message"`
}
