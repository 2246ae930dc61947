package domain

// Realtime event names.
const (
	EventConnected   = "connected"
	EventMessage     = "message"
	EventError       = "error"
	EventAck         = "ack"
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
)

// ConnectRequest describes a new realtime connection. UserID and UserName
// are set when the identity provider recognized the caller.
type ConnectRequest struct {
	ConnID   string
	TempID   string
	UserID   string
	UserName string
}

type Connected struct {
	ConnectionID  string `json:"connectionId"`
	LogicalUserID string `json:"logicalUserId"`
	TempIdentity  string `json:"tempIdentity"`
}

type JoinRoomRequest struct {
	RoomID    string `json:"roomId"`
	RoomName  string `json:"roomName,omitempty"`
	IsPrivate bool   `json:"isPrivate,omitempty"` // honored when the join creates the room
}

type JoinRoomResult struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type LeaveRoomRequest struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomResult struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type SendMessageRequest struct {
	RoomID      string       `json:"roomId"`
	Message     string       `json:"message"`
	Attachments []Attachment `json:"attachments,omitempty"`
	FormatFlag  string       `json:"formatFlag"`
}

// Pipeline stages reported in SendResult.Stage.
const (
	StageValidation = "validation"
	StagePersist    = "persist"
	StageModel      = "model"
	StageRender     = "render"
)

type SendResult struct {
	Success      bool   `json:"success"`
	ResponseType Format `json:"responseType,omitempty"`
	FileURL      string `json:"fileUrl,omitempty"`
	Error        string `json:"error,omitempty"`
	Stage        string `json:"stage,omitempty"`
}
