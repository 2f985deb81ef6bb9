package models

import (
	"time"
)

// SessionRecord is the relational form of Session used by the SQL-backed store.
type SessionRecord struct {
	ID             string        `gorm:"primaryKey;size:36"`
	UID            string        `gorm:"index;not null"`
	Name           string
	DOB            string
	Timestamp      time.Time     `gorm:"index;not null"`
	Cards          []Card        `gorm:"serializer:json;not null"`
	CompositeImage string
	Paid           bool
	GPTResult      *string
	BasicResult    *string
	ChatHistory    []ChatMessage `gorm:"serializer:json"`
	NeedsPremium   bool
	State          string `gorm:"size:32"`
	ApprovedAt     *time.Time
	EditedAt       *time.Time
}

func (SessionRecord) TableName() string {
	return "tarot_sessions"
}

func NewSessionRecord(s Session) SessionRecord {
	return SessionRecord{
		ID:             s.ID,
		UID:            s.UID,
		Name:           s.Name,
		DOB:            s.DOB,
		Timestamp:      s.Timestamp,
		Cards:          s.Cards,
		CompositeImage: s.CompositeImage,
		Paid:           s.Paid,
		GPTResult:      s.GPTResult,
		BasicResult:    s.BasicResult,
		ChatHistory:    s.ChatHistory,
		NeedsPremium:   s.NeedsPremium,
		State:          string(s.State),
		ApprovedAt:     s.ApprovedAt,
		EditedAt:       s.EditedAt,
	}
}

func (r SessionRecord) ToSession() Session {
	return Session{
		ID:             r.ID,
		UID:            r.UID,
		Name:           r.Name,
		DOB:            r.DOB,
		Timestamp:      r.Timestamp,
		Cards:          r.Cards,
		CompositeImage: r.CompositeImage,
		Paid:           r.Paid,
		GPTResult:      r.GPTResult,
		BasicResult:    r.BasicResult,
		ChatHistory:    r.ChatHistory,
		NeedsPremium:   r.NeedsPremium,
		State:          SessionState(r.State),
		ApprovedAt:     r.ApprovedAt,
		EditedAt:       r.EditedAt,
	}
}

// ConfigRecord stores the single ReadingConfig row as JSON.
type ConfigRecord struct {
	ID        uint          `gorm:"primaryKey"`
	Config    ReadingConfig `gorm:"serializer:json"`
	UpdatedAt time.Time
}

func (ConfigRecord) TableName() string {
	return "tarot_config"
}
