package services_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"tarot_reading_go_backend/internal/models"
	"tarot_reading_go_backend/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type orchestratorFixture struct {
	store      *services.JSONStore
	generator  *MockReadingGenerator
	premium    *MockPremiumEvaluator
	compositor *MockImageCompositor
	pdf        *MockPDFRenderer
	cards      *MockCardSource
	events     *MockEventPublisher
	service    *services.Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	f := &orchestratorFixture{
		store:      newJSONStore(t),
		generator:  new(MockReadingGenerator),
		premium:    new(MockPremiumEvaluator),
		compositor: new(MockImageCompositor),
		pdf:        new(MockPDFRenderer),
		cards:      new(MockCardSource),
		events:     new(MockEventPublisher),
	}
	f.events.On("Publish", services.AdminEventsTopic, mock.Anything).Maybe()
	f.service = services.NewOrchestrator(services.OrchestratorDeps{
		Store:      f.store,
		Generator:  f.generator,
		Premium:    f.premium,
		Compositor: f.compositor,
		PDF:        f.pdf,
		Cards:      f.cards,
		Events:     f.events,
		Rand:       rand.New(rand.NewSource(7)),
	})
	return f
}

// seedSession stores a session that already has a basic reading.
func (f *orchestratorFixture) seedSession(t *testing.T, uid string, patch models.SessionPatch) models.Session {
	ctx := context.Background()
	session, ok := f.store.AddSession(ctx, models.Session{
		UID:   uid,
		Name:  "Lan",
		DOB:   "1990-01-02",
		Cards: []models.Card{{Name: "The Sun", Image: "/images/the_sun.jpg"}},
	})
	require.True(t, ok)
	basic := "basic reading"
	state := models.StateBasicReadingIssued
	patch.BasicResult = &basic
	if patch.State == nil {
		patch.State = &state
	}
	patch.AppendChat = append([]models.ChatMessage{
		{Role: models.RoleUser, Content: "draw"},
		{Role: models.RoleAssistant, Content: basic},
	}, patch.AppendChat...)
	return *f.store.UpdateSession(ctx, session.ID, patch)
}

func TestOrchestrator_Draw(t *testing.T) {
	ctx := context.Background()

	t.Run("Draws distinct cards and hides the paid reading", func(t *testing.T) {
		// Setup
		f := newOrchestratorFixture(t)
		f.cards.On("List").Return(cardImages("A", "B", "C", "D", "E"), nil).Once()
		f.compositor.On("Compose", ctx, mock.Anything).Return("/images/composites/composite_1.jpg", nil).Once()

		// Execute
		result, err := f.service.Draw(ctx, services.DrawRequest{UID: "u1", Name: "Lan", Source: "public"})

		// Assert
		require.NoError(t, err)
		session := result.Session
		require.Len(t, session.Cards, 3)
		seen := map[string]bool{}
		for _, card := range session.Cards {
			assert.False(t, seen[card.Name], "duplicate card %s", card.Name)
			seen[card.Name] = true
		}
		assert.Equal(t, "/images/composites/composite_1.jpg", session.CompositeImage)
		assert.Equal(t, models.StateDrawn, session.State)

		stored := f.store.GetLatestSessionByUID(ctx, "u1")
		require.NotNil(t, stored)
		assert.Nil(t, stored.Public().GPTResult)
		f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.events.AssertCalled(t, "Publish", services.AdminEventsTopic, mock.MatchedBy(func(e models.SessionEvent) bool {
			return e.Type == models.EventSessionCreated && e.SessionID == session.ID
		}))
	})

	t.Run("Card count is capped by the configured default", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.store.UpdateConfig(ctx, models.ConfigPatch{DefaultCardCount: intPtr(2)})
		f.cards.On("List").Return(cardImages("A", "B", "C"), nil).Once()
		f.compositor.On("Compose", ctx, mock.Anything).Return("", errors.New("decode failed")).Once()

		result, err := f.service.Draw(ctx, services.DrawRequest{UID: "u1", CardCount: 5})

		require.NoError(t, err)
		assert.Len(t, result.Session.Cards, 2)
		assert.Empty(t, result.Session.CompositeImage)
	})

	t.Run("Too few images", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.cards.On("List").Return(cardImages("A", "B"), nil).Once()

		_, err := f.service.Draw(ctx, services.DrawRequest{UID: "u1"})

		assert.ErrorIs(t, err, services.ErrNotEnoughCards)
		assert.Empty(t, f.store.GetAllSessions(ctx))
	})

	t.Run("Missing uid", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		_, err := f.service.Draw(ctx, services.DrawRequest{UID: "  "})

		assert.ErrorIs(t, err, services.ErrMissingUID)
		f.cards.AssertNotCalled(t, "List")
	})

	t.Run("Basic reading seeds the conversation", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.cards.On("List").Return(cardImages("A", "B", "C"), nil).Once()
		f.compositor.On("Compose", ctx, mock.Anything).Return("/images/composites/c.jpg", nil).Once()
		f.generator.On("Generate", ctx, mock.Anything, services.UserInfo{Name: "Bạn"}, []models.ChatMessage(nil)).
			Return("free reading", nil).Once()

		result, err := f.service.Draw(ctx, services.DrawRequest{UID: "u1", WithReading: true})

		require.NoError(t, err)
		assert.Equal(t, "free reading", result.Reading)
		assert.NoError(t, result.ReadingErr)
		assert.Equal(t, models.StateBasicReadingIssued, result.Session.State)
		require.Len(t, result.Session.ChatHistory, 2)
		assert.Equal(t, models.RoleAssistant, result.Session.ChatHistory[1].Role)
		assert.Equal(t, "free reading", *result.Session.BasicResult)

		response := services.BasicReadingResponse(result, "https://tarot.example")
		require.Len(t, response.Messages, 5)
		assert.Equal(t, "https://tarot.example/images/composites/c.jpg", response.Messages[1].Attachment.Payload.URL)
		assert.Equal(t, "free reading", response.Messages[3].Text)
		assert.Equal(t, []string{"Premium Reading"}, response.Messages[4].Attachment.Payload.Buttons[0].BlockNames)
		assert.Equal(t, result.Session.ID, response.SessionID)
		f.generator.AssertExpectations(t)
	})

	t.Run("Reading failure falls back to the apology", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.cards.On("List").Return(cardImages("A", "B", "C"), nil).Once()
		f.compositor.On("Compose", ctx, mock.Anything).Return("", errors.New("no images")).Once()
		f.generator.On("Generate", ctx, mock.Anything, mock.Anything, mock.Anything).
			Return("", services.ErrUpstream).Once()

		result, err := f.service.Draw(ctx, services.DrawRequest{UID: "u1", WithReading: true})

		require.NoError(t, err)
		assert.Equal(t, services.ApologyText, result.Reading)
		assert.ErrorIs(t, result.ReadingErr, services.ErrUpstream)

		response := services.BasicReadingResponse(result, "http://localhost")
		require.Len(t, response.Messages, 3)
		assert.Equal(t, services.ApologyText, response.Messages[1].Text)
	})
}

func TestOrchestrator_FollowUp(t *testing.T) {
	ctx := context.Background()

	t.Run("Answers and records the exchange", func(t *testing.T) {
		// Setup
		f := newOrchestratorFixture(t)
		session := f.seedSession(t, "u1", models.SessionPatch{})
		f.premium.On("Evaluate", ctx, session.ID).Return(services.PremiumEvaluation{NeedsPremium: false}, nil).Once()
		f.generator.On("Reply", ctx, mock.MatchedBy(func(s models.Session) bool {
			last := s.ChatHistory[len(s.ChatHistory)-1]
			return last.Role == models.RoleUser && last.Content == "what about love?"
		})).Return("love is near", nil).Once()

		// Execute
		result, err := f.service.FollowUp(ctx, services.FollowUpRequest{UID: "u1", Message: "what about love?"})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "love is near", result.Reply)
		assert.False(t, result.NeedsPremium)
		assert.Equal(t, models.StateFollowUp, result.Session.State)
		require.Len(t, result.Session.ChatHistory, 4)
		assert.Equal(t, "love is near", result.Session.ChatHistory[3].Content)
		f.generator.AssertExpectations(t)
		f.premium.AssertExpectations(t)
	})

	t.Run("Flagged unpaid sessions get the upgrade prompt", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session := f.seedSession(t, "u1", models.SessionPatch{})
		flagged := session
		flagged.NeedsPremium = true
		f.premium.On("Evaluate", ctx, session.ID).Return(services.PremiumEvaluation{NeedsPremium: true, Reason: "deep"}, nil).Once()
		f.premium.On("UpdateStatus", ctx, session.ID, true).Return(&flagged, nil).Once()

		result, err := f.service.FollowUp(ctx, services.FollowUpRequest{SessionID: session.ID, Message: "when will I marry?"})

		require.NoError(t, err)
		assert.True(t, result.NeedsPremium)
		assert.Equal(t, services.UpgradePromptText, result.Reply)
		assert.Equal(t, models.StatePremiumFlagged, result.Session.State)
		f.generator.AssertNotCalled(t, "Reply", mock.Anything, mock.Anything)

		response := services.FollowUpResponse(result)
		require.Len(t, response.Messages, 2)
		assert.Equal(t, "button", response.Messages[1].Attachment.Payload.TemplateType)
	})

	t.Run("Evaluator failure keeps answering", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session := f.seedSession(t, "u1", models.SessionPatch{})
		f.premium.On("Evaluate", ctx, session.ID).Return(services.PremiumEvaluation{}, services.ErrUpstream).Once()
		f.generator.On("Reply", ctx, mock.Anything).Return("answer", nil).Once()

		result, err := f.service.FollowUp(ctx, services.FollowUpRequest{SessionID: session.ID, Message: "and work?"})

		require.NoError(t, err)
		assert.Equal(t, "answer", result.Reply)
	})

	t.Run("Session without a reading is rejected", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session, _ := f.store.AddSession(ctx, models.Session{UID: "u1", Cards: []models.Card{{Name: "The Sun"}}})

		_, err := f.service.FollowUp(ctx, services.FollowUpRequest{SessionID: session.ID, Message: "hi"})

		assert.ErrorIs(t, err, services.ErrInvalidTransition)
		assert.Empty(t, f.store.GetSessionByID(ctx, session.ID).ChatHistory)
	})

	t.Run("Unknown session", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		_, err := f.service.FollowUp(ctx, services.FollowUpRequest{UID: "nobody", Message: "hi"})

		assert.ErrorIs(t, err, services.ErrSessionNotFound)
	})

	t.Run("Empty message", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		_, err := f.service.FollowUp(ctx, services.FollowUpRequest{UID: "u1"})

		assert.ErrorIs(t, err, services.ErrMissingMessage)
	})
}

func TestOrchestrator_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("Generates the paid reading", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session := f.seedSession(t, "u1", models.SessionPatch{})
		f.generator.On("Generate", ctx, session.Cards, services.UserInfo{Name: "Lan", DOB: "1990-01-02"}, []models.ChatMessage(nil)).
			Return("premium reading", nil).Once()

		approved, err := f.service.Approve(ctx, session.ID)

		require.NoError(t, err)
		assert.True(t, approved.Paid)
		require.NotNil(t, approved.ApprovedAt)
		assert.Equal(t, "premium reading", *approved.GPTResult)
		assert.Equal(t, models.StateApprovedPaid, approved.State)
		assert.Equal(t, "premium reading", *f.store.GetSessionByID(ctx, session.ID).Public().GPTResult)
		f.generator.AssertExpectations(t)
	})

	t.Run("Already paid sessions are returned unchanged", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		result := "existing"
		session := f.seedSession(t, "u1", models.SessionPatch{Paid: boolPtr(true), GPTResult: &result})

		approved, err := f.service.Approve(ctx, session.ID)

		require.NoError(t, err)
		assert.Equal(t, "existing", *approved.GPTResult)
		assert.Equal(t, session.ApprovedAt, approved.ApprovedAt)
		f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Generation failure leaves the session unpaid", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session := f.seedSession(t, "u1", models.SessionPatch{})
		f.generator.On("Generate", ctx, mock.Anything, mock.Anything, mock.Anything).Return("", services.ErrConfiguration).Once()

		_, err := f.service.Approve(ctx, session.ID)

		assert.ErrorIs(t, err, services.ErrConfiguration)
		assert.False(t, f.store.GetSessionByID(ctx, session.ID).Paid)
	})

	t.Run("Unknown and missing ids", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		_, err := f.service.Approve(ctx, "nope")
		assert.ErrorIs(t, err, services.ErrSessionNotFound)

		_, err = f.service.Approve(ctx, "")
		assert.ErrorIs(t, err, services.ErrMissingSessionID)
	})
}

func TestOrchestrator_PDF(t *testing.T) {
	ctx := context.Background()
	paidPatch := func() models.SessionPatch {
		result := "premium"
		state := models.StateApprovedPaid
		return models.SessionPatch{Paid: boolPtr(true), GPTResult: &result, State: &state}
	}

	t.Run("Renders once and then serves the cached file", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session := f.seedSession(t, "u1", paidPatch())
		f.pdf.On("Exists", session.ID).Return(false).Once()
		f.pdf.On("Render", ctx, mock.Anything).Return("/pdfs/"+session.ID+".pdf", nil).Once()
		f.pdf.On("Exists", session.ID).Return(true).Once()

		name, err := f.service.EnsurePDF(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.ID+".pdf", name)
		assert.Equal(t, models.StatePDFReady, f.store.GetSessionByID(ctx, session.ID).State)

		_, err = f.service.EnsurePDF(ctx, session.ID)
		require.NoError(t, err)
		f.pdf.AssertExpectations(t)
	})

	t.Run("Regenerate removes the old file first", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session := f.seedSession(t, "u1", paidPatch())
		f.pdf.On("Remove", session.ID).Return(nil).Once()
		f.pdf.On("Render", ctx, mock.Anything).Return("path", nil).Once()

		_, err := f.service.RegeneratePDF(ctx, session.ID)

		require.NoError(t, err)
		f.pdf.AssertExpectations(t)
	})

	t.Run("Sessions without a reading have no PDF", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session := f.seedSession(t, "u1", models.SessionPatch{})

		_, err := f.service.EnsurePDF(ctx, session.ID)

		assert.ErrorIs(t, err, services.ErrNoReading)
		f.pdf.AssertNotCalled(t, "Render", mock.Anything, mock.Anything)
	})

	t.Run("Editing the reading drops the stale PDF", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		state := models.StatePDFReady
		patch := paidPatch()
		patch.State = &state
		session := f.seedSession(t, "u1", patch)
		f.pdf.On("Exists", session.ID).Return(true).Once()
		f.pdf.On("Remove", session.ID).Return(nil).Once()

		updated, err := f.service.EditResult(ctx, session.ID, "corrected")

		require.NoError(t, err)
		assert.Equal(t, "corrected", *updated.GPTResult)
		assert.Equal(t, models.StateApprovedPaid, updated.State)
		assert.NotNil(t, updated.EditedAt)
		f.pdf.AssertExpectations(t)
	})
}

func TestOrchestrator_WebhookResult(t *testing.T) {
	ctx := context.Background()
	baseURL := "https://tarot.example"

	t.Run("Missing and unknown sessions", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		assert.Equal(t, "Thiếu thông tin phiên đọc bài", f.service.WebhookResult(ctx, "", baseURL).Messages[0].Text)
		assert.Equal(t, "Không tìm thấy phiên đọc bài", f.service.WebhookResult(ctx, "nope", baseURL).Messages[0].Text)
	})

	t.Run("Unpaid with a basic reading", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session := f.seedSession(t, "u1", models.SessionPatch{})

		response := f.service.WebhookResult(ctx, session.ID, baseURL)

		require.Len(t, response.Messages, 3)
		assert.Equal(t, "basic reading", response.Messages[1].Text)
		assert.Contains(t, response.Messages[2].Text, "chưa được thanh toán")
	})

	t.Run("Unpaid without any reading", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session, _ := f.store.AddSession(ctx, models.Session{UID: "u1", Cards: []models.Card{{Name: "The Sun"}}})

		response := f.service.WebhookResult(ctx, session.ID, baseURL)

		require.Len(t, response.Messages, 1)
		assert.Contains(t, response.Messages[0].Text, "chưa được xử lý")
	})

	t.Run("Paid reading links the PDF", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		session, _ := f.store.AddSession(ctx, models.Session{
			UID:            "u1",
			Cards:          []models.Card{{Name: "The Sun"}},
			CompositeImage: "/images/composites/c.jpg",
		})
		result := "premium"
		f.store.UpdateSession(ctx, session.ID, models.SessionPatch{Paid: boolPtr(true), GPTResult: &result})
		f.pdf.On("Exists", session.ID).Return(true).Once()

		response := f.service.WebhookResult(ctx, session.ID, baseURL)

		require.Len(t, response.Messages, 4)
		assert.Equal(t, "premium", response.Messages[1].Text)
		assert.Equal(t, baseURL+"/images/composites/c.jpg", response.Messages[2].Attachment.Payload.URL)
		button := response.Messages[3].Attachment.Payload.Buttons[0]
		assert.Equal(t, "web_url", button.Type)
		assert.Equal(t, baseURL+"/pdfs/"+session.ID+".pdf", button.URL)
	})

	t.Run("PDF failure degrades to text", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		result := "premium"
		session := f.seedSession(t, "u1", models.SessionPatch{Paid: boolPtr(true), GPTResult: &result})
		f.pdf.On("Exists", session.ID).Return(false).Once()
		f.pdf.On("Render", ctx, mock.Anything).Return("", errors.New("disk full")).Once()

		response := f.service.WebhookResult(ctx, session.ID, baseURL)

		require.Len(t, response.Messages, 2)
		assert.Equal(t, session.ID, response.SessionID)
	})
}

func TestOrchestrator_Delete(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)
	session := f.seedSession(t, "u1", models.SessionPatch{})
	f.pdf.On("Exists", session.ID).Return(false).Once()

	require.NoError(t, f.service.Delete(ctx, session.ID))
	assert.Nil(t, f.store.GetSessionByID(ctx, session.ID))
	assert.ErrorIs(t, f.service.Delete(ctx, session.ID), services.ErrSessionNotFound)
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
