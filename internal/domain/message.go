package domain

import (
	"strings"
	"time"
)

// Direction tells whether a stored turn came from the user or from the bot.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelInternal = "internal"
)

// Message is one stored turn of a conversation. Messages are append-only.
type Message struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Channel    string    `json:"channel"`
	Direction  Direction `json:"direction"`
	DeliveryID string    `json:"delivery_id,omitempty"` // empty when the channel supplied none
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// Turn is the slice of a Message handed to generation as context.
type Turn struct {
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
}

// InboundEvent is a delivery received from a channel, before any processing.
type InboundEvent struct {
	Channel    string
	Sender     string // raw channel address, e.g. "whatsapp:+33600000000"
	Text       string
	DeliveryID string

	// Signature material; only meaningful for externally delivered events.
	Signature string
	URL       string
	Params    map[string]string
}

// NormalizeUserID strips the channel prefix from a sender address so the same
// person always maps to the same key.
func NormalizeUserID(raw string) string {
	id := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "whatsapp:"))
	if id == "" {
		return "unknown"
	}
	return id
}
