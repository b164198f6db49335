// Package session defines the session domain model: live session records,
// the options factory for the Claude CLI, the startup tracker, and the
// in-memory session store.
package session

import "time"

// Mode controls the tool surface available to a session.
type Mode string

const (
	// ModePlan restricts the session to read-only tools.
	ModePlan Mode = "plan"
	// ModeBuild leaves the tool surface unrestricted.
	ModeBuild Mode = "build"
)

// Status is the lifecycle state of a live session.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusErrored  Status = "errored"
)

// Session is a live session record. ConversationID is assigned by the
// CLI on the first result message and is thereafter the resume token.
type Session struct {
	ID               string    `json:"id"`
	EntityID         string    `json:"entity_id"`
	ProjectID        string    `json:"project_id"`
	Mode             Mode      `json:"mode"`
	WorkingDirectory string    `json:"working_directory"`
	Model            string    `json:"model"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	ConversationID   string    `json:"conversation_id,omitempty"`
}
