// Package notify tells the outside world when the mind crystallizes a
// pattern or reaches an insight.
package notify

import (
	"context"
	"time"
)

// Notifier delivers notices to one chat platform.
type Notifier interface {
	Platform() string
	Notify(ctx context.Context, n *Notice) error
	Close() error
}

// Notice is a rendered, platform-neutral message.
type Notice struct {
	Kind      string    `json:"kind"`
	PersonaID string    `json:"persona_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
}
