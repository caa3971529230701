// Package notify carries change events from repositories to external
// consumers. Publishers are best-effort: a failed publish is reported, not
// retried, and never affects the write it follows.
package notify

import "context"

// ChangeEvent is the payload emitted after a successful repository write.
type ChangeEvent struct {
	Table    string         `json:"table"`
	EntityID string         `json:"entity_id"`
	Version  string         `json:"version,omitempty"`
	Deleted  bool           `json:"deleted,omitempty"`
	Entity   map[string]any `json:"entity,omitempty"`
}

// Publisher is the interface for emitting change events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
