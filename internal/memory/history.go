package memory

import (
	"context"

	"companion/internal/domain"
)

// DefaultHistoryTurns is the number of stored messages (not exchanges)
// handed to generation.
const DefaultHistoryTurns = 16

// History is a bounded, ordered view of a user's recent turns.
type History struct {
	store    domain.MessageStore
	maxTurns int
}

func NewHistory(store domain.MessageStore, maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	return &History{store: store, maxTurns: maxTurns}
}

func (h *History) MaxTurns() int { return h.maxTurns }

// Window returns the user's last turns, oldest first. A store failure yields
// an empty window together with the error, so callers can still proceed.
func (h *History) Window(ctx context.Context, userID string) ([]domain.Turn, error) {
	return h.WindowN(ctx, userID, h.maxTurns)
}

// WindowN is Window with an explicit bound.
func (h *History) WindowN(ctx context.Context, userID string, maxTurns int) ([]domain.Turn, error) {
	msgs, err := h.store.Recent(ctx, userID, maxTurns)
	if err != nil {
		return []domain.Turn{}, err
	}
	turns := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, domain.Turn{Direction: m.Direction, Text: m.Text})
	}
	return turns, nil
}
