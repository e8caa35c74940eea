package chat

import "time"

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn of the lab assistant transcript. Messages are never
// mutated after they are appended.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	IsError   bool      `json:"isError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
