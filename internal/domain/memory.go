package domain

import "context"

// MessageStore is the durable log of conversation turns.
type MessageStore interface {
	// Append stores msg unless a message with the same (DeliveryID, Direction)
	// already exists. inserted is false for such a no-op.
	Append(ctx context.Context, msg Message) (inserted bool, err error)

	// Recent returns at most limit of the user's latest messages, oldest first.
	Recent(ctx context.Context, userID string, limit int) ([]Message, error)

	// HasDelivery reports whether an inbound message with deliveryID is stored.
	HasDelivery(ctx context.Context, deliveryID string) (bool, error)
}
