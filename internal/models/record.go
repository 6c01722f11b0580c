// Package models holds the data types shared by the store, index, retrieval, and conversation layers.
package models

import "time"

// Record is one question/answer pair. ID is the row's current 0-based offset in the store;
// it is reassigned whenever an earlier row is deleted.
type Record struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// RecordInput is the body for adding a record.
type RecordInput struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Role identifies the speaker of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a session transcript.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SideTable is auxiliary reference data passed verbatim to generation.
type SideTable struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}
