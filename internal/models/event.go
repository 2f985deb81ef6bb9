package models

const (
	EventSessionCreated = "session_created"
	EventSessionUpdated = "session_updated"
	EventSessionDeleted = "session_deleted"
	EventPDFReady       = "pdf_ready"
)

// SessionEvent is pushed to connected admin dashboards.
type SessionEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"sessionId"`
}
