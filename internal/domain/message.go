package domain

import "time"

// UserRole is the authorization role of a chat participant.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleTemp  UserRole = "temp"
	RoleAdmin UserRole = "admin"
)

// MessageType classifies who authored a persisted message.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      UserRole  `json:"role"`
	IsTemp    bool      `json:"isTemp"`
	TempID    string    `json:"tempId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Room doubles as the realtime channel name: its ID is client-supplied.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId,omitempty"`
	IsPrivate bool      `json:"isPrivate"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is an immutable entry in a room's append-only log.
type Message struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"roomId"`
	UserID    string      `json:"userId,omitempty"` // empty for anonymous and AI senders
	TempID    string      `json:"tempId,omitempty"`
	Text      string      `json:"text,omitempty"`
	FileURL   string      `json:"fileUrl,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
	Type      MessageType `json:"messageType"`
	IsAI      bool        `json:"isAi"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Attachment is an uploaded file carried by one sendMessage event.
// It is never persisted.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
	Size     int64  `json:"size"`
}

// Turn is one entry of the conversation handed to the language model.
type Turn struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// Usage is the token accounting reported by the model backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
