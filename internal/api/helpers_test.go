package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tarot_reading_go_backend/internal/auth"
	"tarot_reading_go_backend/internal/models"
	"tarot_reading_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
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

type apiFixture struct {
	router    *gin.Engine
	store     *services.JSONStore
	generator *MockReadingGenerator
	cards     *services.CardLibrary
	pdf       *services.PDFService
	stripe    *services.StripeService
}

func newAPIFixture(t *testing.T, cardFiles ...string) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cardsDir := t.TempDir()
	for _, name := range cardFiles {
		writePNG(t, filepath.Join(cardsDir, name))
	}

	f := &apiFixture{
		store: services.OpenJSONStore(services.JSONStoreOptions{
			DataDir:     t.TempDir(),
			FallbackDir: t.TempDir(),
			Now:         func() time.Time { return time.Now().UTC() },
		}),
		generator: new(MockReadingGenerator),
		cards:     services.NewCardLibrary(cardsDir),
		pdf:       services.NewPDFService(t.TempDir(), nil, ""),
		stripe: services.NewStripeService(services.StripeSettings{
			SecretKey:     "sk_test_123",
			WebhookSecret: "whsec_test",
		}),
	}
	t.Cleanup(func() { f.store.Close() })

	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Store:     f.store,
		Generator: f.generator,
		Cards:     f.cards,
		PDF:       f.pdf,
		Rand:      rand.New(rand.NewSource(3)),
	})

	f.router = gin.New()
	SetupRoutes(f.router, Dependencies{
		Orchestrator: orchestrator,
		Cards:        f.cards,
		PDF:          f.pdf,
		Auth:         auth.NewAuthenticator("", "", 0),
		Stripe:       f.stripe,
		URLs:         BaseURL{Public: "https://tarot.example"},
	})
	return f
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 16))
	img.Set(1, 1, color.White)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func (f *apiFixture) seedSession(t *testing.T, uid string, patch models.SessionPatch) models.Session {
	t.Helper()
	ctx := context.Background()
	session, ok := f.store.AddSession(ctx, models.Session{
		UID:   uid,
		Name:  "Lan",
		DOB:   "1990-01-02",
		Cards: []models.Card{{Name: "The Sun", Image: "/images/the_sun.png"}},
	})
	require.True(t, ok)
	if updated := f.store.UpdateSession(ctx, session.ID, patch); updated != nil {
		return *updated
	}
	return session
}

func (f *apiFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
