// Package events publishes domain events of the bot (batch created, file
// added) to a message broker. Publishing is best-effort, the bot keeps
// working when the broker is unavailable.
package events

import (
	"context"
	"time"
)

const (
	KeyBatchCreated   = "batch.created"
	KeyBatchFileAdded = "batch.file_added"
)

type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type Meta struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BatchCreated struct {
	BatchID string `json:"batch_id"`
	UserID  int64  `json:"user_id"`
}

type BatchFileAdded struct {
	BatchID      string `json:"batch_id"`
	UserID       int64  `json:"user_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileType     string `json:"file_type"`
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, Envelope) error { return nil }
func (Noop) Close() error                                    { return nil }
