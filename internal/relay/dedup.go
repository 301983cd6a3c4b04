package relay

import (
	"context"

	"companion/internal/domain"
)

// DedupGuard answers whether an inbound delivery was already processed. The
// stored IN message is the dedup record; there is no separate table.
type DedupGuard struct {
	store domain.MessageStore
}

func NewDedupGuard(store domain.MessageStore) *DedupGuard {
	return &DedupGuard{store: store}
}

// Seen is false for an empty delivery id: such events are never deduplicated.
func (g *DedupGuard) Seen(ctx context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, nil
	}
	return g.store.HasDelivery(ctx, deliveryID)
}
