package services

import (
	"context"
	"io"

	"tarot_reading_go_backend/internal/models"
)

// SessionStore owns sessions and the reading config. Operational failures
// are logged and degraded: lookups return nil, mutations report false.
type SessionStore interface {
	GetAllSessions(ctx context.Context) []models.Session
	GetSessionByID(ctx context.Context, id string) *models.Session
	GetLatestSessionByUID(ctx context.Context, uid string) *models.Session
	AddSession(ctx context.Context, session models.Session) (models.Session, bool)
	UpdateSession(ctx context.Context, id string, patch models.SessionPatch) *models.Session
	DeleteSession(ctx context.Context, id string) bool
	FilterSessions(ctx context.Context, filter models.SessionFilter) []models.Session
	GetConfig(ctx context.Context) models.ReadingConfig
	UpdateConfig(ctx context.Context, patch models.ConfigPatch) models.ReadingConfig
	Close() error
}

type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

type ReadingGenerator interface {
	Generate(ctx context.Context, cards []models.Card, user UserInfo, history []models.ChatMessage) (string, error)
	Reply(ctx context.Context, session models.Session) (string, error)
}

type PremiumEvaluator interface {
	Evaluate(ctx context.Context, sessionID string) (PremiumEvaluation, error)
	UpdateStatus(ctx context.Context, sessionID string, needsPremium bool) (*models.Session, error)
}

type ImageCompositor interface {
	Compose(ctx context.Context, cards []models.Card) (string, error)
}

type PDFRenderer interface {
	Render(ctx context.Context, session models.Session) (string, error)
	Exists(sessionID string) bool
	Remove(sessionID string) error
	FileName(sessionID string) string
}

type CardSource interface {
	List() ([]CardImage, error)
}

type EventPublisher interface {
	Publish(topic string, msg interface{})
}

type CloudStorageManager interface {
	UploadFile(ctx context.Context, bucketName, objectName string, content io.Reader) error
	DeleteFile(ctx context.Context, bucketName, objectName string) error
	ListFiles(ctx context.Context, bucketName, prefix string) ([]string, error)
}

// BackupMirror receives a copy of every local backup the JSON store writes.
type BackupMirror interface {
	MirrorBackup(ctx context.Context, name string, content []byte) error
}
