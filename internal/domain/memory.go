package domain

import "context"

// MessageStore is the persistence adapter used by the pipeline.
// Messages are append-only; reads are ordered by creation time.
type MessageStore interface {
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByTempID(ctx context.Context, tempID string) (*User, error)

	UpsertRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)

	// AddMessage assigns ID and CreatedAt when they are empty.
	AddMessage(ctx context.Context, msg *Message) error
	// ListMessages returns the newest messages first.
	ListMessages(ctx context.Context, roomID string, limit, offset int) ([]Message, error)

	Close() error
}
