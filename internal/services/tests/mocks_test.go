package services_test

import (
	"context"
	"io"
	"testing"
	"time"

	"tarot_reading_go_backend/internal/models"
	"tarot_reading_go_backend/internal/services"

	"github.com/stretchr/testify/mock"
)

type MockReadingGenerator struct {
	mock.Mock
}

func (m *MockReadingGenerator) Generate(ctx context.Context, cards []models.Card, user services.UserInfo, history []models.ChatMessage) (string, error) {
	args := m.Called(ctx, cards, user, history)
	return args.String(0), args.Error(1)
}

func (m *MockReadingGenerator) Reply(ctx context.Context, session models.Session) (string, error) {
	args := m.Called(ctx, session)
	return args.String(0), args.Error(1)
}

type MockPremiumEvaluator struct {
	mock.Mock
}

func (m *MockPremiumEvaluator) Evaluate(ctx context.Context, sessionID string) (services.PremiumEvaluation, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(services.PremiumEvaluation), args.Error(1)
}

func (m *MockPremiumEvaluator) UpdateStatus(ctx context.Context, sessionID string, needsPremium bool) (*models.Session, error) {
	args := m.Called(ctx, sessionID, needsPremium)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

type MockImageCompositor struct {
	mock.Mock
}

func (m *MockImageCompositor) Compose(ctx context.Context, cards []models.Card) (string, error) {
	args := m.Called(ctx, cards)
	return args.String(0), args.Error(1)
}

type MockPDFRenderer struct {
	mock.Mock
}

func (m *MockPDFRenderer) Render(ctx context.Context, session models.Session) (string, error) {
	args := m.Called(ctx, session)
	return args.String(0), args.Error(1)
}

func (m *MockPDFRenderer) Exists(sessionID string) bool {
	args := m.Called(sessionID)
	return args.Bool(0)
}

func (m *MockPDFRenderer) Remove(sessionID string) error {
	args := m.Called(sessionID)
	return args.Error(0)
}

func (m *MockPDFRenderer) FileName(sessionID string) string {
	return sessionID + ".pdf"
}

type MockCardSource struct {
	mock.Mock
}

func (m *MockCardSource) List() ([]services.CardImage, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.CardImage), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(topic string, msg interface{}) {
	m.Called(topic, msg)
}

type MockCloudStorageManager struct {
	mock.Mock
}

func (m *MockCloudStorageManager) UploadFile(ctx context.Context, bucketName, objectName string, content io.Reader) error {
	args := m.Called(ctx, bucketName, objectName, content)
	return args.Error(0)
}

func (m *MockCloudStorageManager) DeleteFile(ctx context.Context, bucketName, objectName string) error {
	args := m.Called(ctx, bucketName, objectName)
	return args.Error(0)
}

func (m *MockCloudStorageManager) ListFiles(ctx context.Context, bucketName, prefix string) ([]string, error) {
	args := m.Called(ctx, bucketName, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func newJSONStore(t *testing.T) *services.JSONStore {
	t.Helper()
	store := services.OpenJSONStore(services.JSONStoreOptions{
		DataDir:     t.TempDir(),
		FallbackDir: t.TempDir(),
		Now:         func() time.Time { return time.Now().UTC() },
	})
	t.Cleanup(func() { store.Close() })
	return store
}

func cardImages(names ...string) []services.CardImage {
	images := make([]services.CardImage, len(names))
	for i, name := range names {
		images[i] = services.CardImage{Filename: name + ".jpg", DisplayName: name, Path: "/images/" + name + ".jpg"}
	}
	return images
}
