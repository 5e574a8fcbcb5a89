package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one line of short-term memory for a business/customer
// pair. Append-only; purged wholesale on a new session or by retention age.
type ConversationTurn struct {
	ID            int64
	BusinessID    string
	CustomerPhone string
	Role          string
	Content       string
	CreatedAt     time.Time
}
