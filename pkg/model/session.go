package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type SessionID string

// NewSessionSentinel is sent by clients that want a fresh conversation thread
const NewSessionSentinel SessionID = "new_session_id"

// NewSessionID mints a timestamp-derived session ID. The random suffix keeps
// two IDs minted within the same clock tick distinct.
func NewSessionID() SessionID {
	ts := time.Now().UTC().Format("20060102-150405.000000")
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return SessionID(ts + "-" + suffix)
}

type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation thread
type Turn struct {
	Role      Role      `json:"role" firestore:"role"`
	Content   string    `json:"content" firestore:"content"`
	CreatedAt time.Time `json:"created_at" firestore:"created_at"`
}
