package agent

import (
	"context"
	"fmt"

	"docchat/internal/domain"
)

const defaultHistoryLimit = 50

// ContextLoader rebuilds a room's recent history as model turns.
type ContextLoader struct {
	store domain.MessageStore
}

func NewContextLoader(store domain.MessageStore) *ContextLoader {
	return &ContextLoader{store: store}
}

type ContextQuery struct {
	RoomID  string
	Pending *string // appended as the final user turn when non-nil
	Limit   int     // history messages; <= 0 means 50
	// ExcludeID drops one stored message, normally the inbound message the
	// pending turn stands in for.
	ExcludeID string
}

// LoadContext returns up to limit messages of roomID in chronological
// order, followed by pending when it is non-nil.
func (l *ContextLoader) LoadContext(ctx context.Context, roomID string, pending *string, limit int) ([]domain.Turn, error) {
	return l.Load(ctx, ContextQuery{RoomID: roomID, Pending: pending, Limit: limit})
}

func (l *ContextLoader) Load(ctx context.Context, q ContextQuery) ([]domain.Turn, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	fetch := limit
	if q.ExcludeID != "" {
		fetch++
	}

	msgs, err := l.store.ListMessages(ctx, q.RoomID, fetch, 0)
	if err != nil {
		return nil, fmt.Errorf("load context for room %s: %w", q.RoomID, err)
	}

	kept := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if q.ExcludeID != "" && m.ID == q.ExcludeID {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}

	// Newest first from the store; walk backwards for chronological order.
	turns := make([]domain.Turn, 0, len(kept)+1)
	for i := len(kept) - 1; i >= 0; i-- {
		turns = append(turns, domain.Turn{Role: roleFor(kept[i].Type), Content: kept[i].Text})
	}
	if q.Pending != nil {
		turns = append(turns, domain.Turn{Role: "user", Content: *q.Pending})
	}
	return turns, nil
}

// roleFor maps stored message types to model roles. System notices are
// presented as assistant turns.
func roleFor(t domain.MessageType) string {
	if t == domain.MessageUser {
		return "user"
	}
	return "assistant"
}
