package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion is the on-disk document version written by this build.
// Version 0 is the untyped legacy layout, version 1 added typed sessions and
// version 2 added the explicit session state.
const SchemaVersion = 2

// ErrNewerVersion marks a stored document written by a newer build.
var ErrNewerVersion = errors.New("document version is newer than supported")

type Document struct {
	Version  int           `json:"version"`
	Sessions []Session     `json:"sessions"`
	Config   ReadingConfig `json:"config"`
}

func DefaultDocument() Document {
	return Document{
		Version:  SchemaVersion,
		Sessions: []Session{},
		Config:   DefaultReadingConfig(),
	}
}

// MigrationReport describes what DecodeDocument had to change to bring a
// stored document up to SchemaVersion.
type MigrationReport struct {
	FromVersion     int
	DroppedSessions int
	BackfilledState int
}

func (r MigrationReport) Changed() bool {
	return r.FromVersion != SchemaVersion || r.DroppedSessions > 0 || r.BackfilledState > 0
}

type legacySession struct {
	Session
	FullName          string `json:"full_name"`
	CompositeImageURL string `json:"compositeImageUrl"`
}

type legacyDocument struct {
	Version  int             `json:"version"`
	Sessions []legacySession `json:"sessions"`
	Config   *ReadingConfig  `json:"config"`
}

// DecodeDocument parses a stored document of any known version and migrates
// it forward. Sessions without an id or cards, and duplicate ids, are dropped.
func DecodeDocument(data []byte) (Document, MigrationReport, error) {
	var raw legacyDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, MigrationReport{}, fmt.Errorf("decode document: %w", err)
	}
	if raw.Version > SchemaVersion {
		return Document{}, MigrationReport{}, fmt.Errorf("%w: %d > %d", ErrNewerVersion, raw.Version, SchemaVersion)
	}

	report := MigrationReport{FromVersion: raw.Version}
	doc := Document{Version: SchemaVersion, Sessions: make([]Session, 0, len(raw.Sessions))}

	if raw.Config != nil {
		doc.Config = raw.Config.WithDefaults()
	} else {
		doc.Config = DefaultReadingConfig()
	}

	seen := make(map[string]struct{}, len(raw.Sessions))
	for _, ls := range raw.Sessions {
		s := ls.Session
		if s.ID == "" || len(s.Cards) == 0 {
			report.DroppedSessions++
			continue
		}
		if _, dup := seen[s.ID]; dup {
			report.DroppedSessions++
			continue
		}
		seen[s.ID] = struct{}{}

		if raw.Version < 1 {
			if s.Name == "" && ls.FullName != "" {
				s.Name = ls.FullName
			}
			if s.CompositeImage == "" && ls.CompositeImageURL != "" {
				s.CompositeImage = ls.CompositeImageURL
			}
		}
		if s.State == "" {
			s.State = InferState(s)
			report.BackfilledState++
		}
		doc.Sessions = append(doc.Sessions, s)
	}
	return doc, report, nil
}

// InferState derives the conversation state of a session stored before
// states were persisted.
func InferState(s Session) SessionState {
	switch {
	case s.Paid:
		return StateApprovedPaid
	case s.NeedsPremium:
		return StatePremiumFlagged
	case len(s.ChatHistory) > 2:
		return StateFollowUp
	case s.BasicResult != nil:
		return StateBasicReadingIssued
	default:
		return StateDrawn
	}
}
