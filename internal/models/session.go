package models

import (
	"time"
)

type SessionState string

const (
	StateDrawn              SessionState = "DRAWN"
	StateBasicReadingIssued SessionState = "BASIC_READING_ISSUED"
	StateFollowUp           SessionState = "FOLLOWUP"
	StatePremiumFlagged     SessionState = "PREMIUM_FLAGGED"
	StateApprovedPaid       SessionState = "APPROVED_PAID"
	StatePDFReady           SessionState = "PDF_READY"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Card struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one draw-to-reading interaction for a chat-platform user.
type Session struct {
	ID             string        `json:"id"`
	UID            string        `json:"uid"`
	Name           string        `json:"name,omitempty"`
	DOB            string        `json:"dob,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	Cards          []Card        `json:"cards"`
	CompositeImage string        `json:"compositeImage,omitempty"`
	Paid           bool          `json:"paid"`
	GPTResult      *string       `json:"gptResult,omitempty"`
	BasicResult    *string       `json:"basicResult,omitempty"`
	ChatHistory    []ChatMessage `json:"chatHistory,omitempty"`
	NeedsPremium   bool          `json:"needsPremium"`
	State          SessionState  `json:"state,omitempty"`
	ApprovedAt     *time.Time    `json:"approvedAt,omitempty"`
	EditedAt       *time.Time    `json:"editedAt,omitempty"`
}

// Public returns a copy safe to hand to end users: the paid reading is
// withheld until the session is paid.
func (s Session) Public() Session {
	if !s.Paid {
		s.GPTResult = nil
	}
	return s
}

func (s Session) HasReading() bool {
	return s.GPTResult != nil && *s.GPTResult != ""
}

func (s Session) CardNames() []string {
	names := make([]string, len(s.Cards))
	for i, card := range s.Cards {
		names[i] = card.Name
	}
	return names
}

// SessionPatch holds the only fields a caller may change after creation.
type SessionPatch struct {
	Paid         *bool         `json:"paid,omitempty"`
	GPTResult    *string       `json:"gptResult,omitempty"`
	BasicResult  *string       `json:"basicResult,omitempty"`
	Name         *string       `json:"name,omitempty"`
	DOB          *string       `json:"dob,omitempty"`
	NeedsPremium *bool         `json:"needsPremium,omitempty"`
	State        *SessionState `json:"state,omitempty"`
	AppendChat   []ChatMessage `json:"appendChat,omitempty"`
}

// Apply mutates s according to the patch. Empty strings are ignored, chat
// messages are appended and ApprovedAt is only ever set once.
func (p SessionPatch) Apply(s *Session, now time.Time) {
	if p.Paid != nil {
		s.Paid = *p.Paid
	}
	if p.GPTResult != nil && *p.GPTResult != "" {
		result := *p.GPTResult
		s.GPTResult = &result
		s.EditedAt = timePtr(now)
	}
	if p.BasicResult != nil && *p.BasicResult != "" {
		result := *p.BasicResult
		s.BasicResult = &result
		if s.EditedAt == nil {
			s.EditedAt = timePtr(now)
		}
	}
	if p.Name != nil && *p.Name != "" {
		s.Name = *p.Name
	}
	if p.DOB != nil && *p.DOB != "" {
		s.DOB = *p.DOB
	}
	if p.NeedsPremium != nil {
		s.NeedsPremium = *p.NeedsPremium
	}
	if p.State != nil && *p.State != "" {
		s.State = *p.State
	}
	for _, msg := range p.AppendChat {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		s.ChatHistory = append(s.ChatHistory, msg)
	}
	if p.Paid != nil && *p.Paid && s.ApprovedAt == nil {
		s.ApprovedAt = timePtr(now)
	}
}

type SessionFilter struct {
	UID       string
	StartDate *time.Time
	EndDate   *time.Time
}

func (f SessionFilter) IsEmpty() bool {
	return f.UID == "" && f.StartDate == nil && f.EndDate == nil
}

func (f SessionFilter) Matches(s Session) bool {
	if f.UID != "" && s.UID != f.UID {
		return false
	}
	if f.StartDate != nil && s.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && s.Timestamp.After(*f.EndDate) {
		return false
	}
	return true
}

func timePtr(t time.Time) *time.Time {
	return &t
}
