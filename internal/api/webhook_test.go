package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"tarot_reading_go_backend/internal/models"
	"tarot_reading_go_backend/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func webhookMessages(t *testing.T, body []byte) models.WebhookResponse {
	t.Helper()
	var resp models.WebhookResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestWebhookDrawHandler(t *testing.T) {
	t.Run("Missing user answers with a message", func(t *testing.T) {
		f := newAPIFixture(t, "a.png", "b.png", "c.png")

		w := f.do(http.MethodPost, "/api/webhook", map[string]string{"name": "Lan"})

		assert.Equal(t, http.StatusOK, w.Code)
		resp := webhookMessages(t, w.Body.Bytes())
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, "Lỗi: Thiếu thông tin người dùng", resp.Messages[0].Text)
	})

	t.Run("Messenger user id and string card count", func(t *testing.T) {
		// Setup
		f := newAPIFixture(t, "a.png", "b.png", "c.png", "d.png")
		f.generator.On("Generate", mock.Anything, mock.MatchedBy(func(cards []models.Card) bool {
			return len(cards) == 2
		}), services.UserInfo{Name: "Bạn"}, []models.ChatMessage(nil)).Return("free reading", nil).Once()

		// Execute
		w := f.do(http.MethodPost, "/api/webhook", map[string]string{"messenger user id": "m1", "cardCount": "2"})

		// Assert
		require.Equal(t, http.StatusOK, w.Code)
		resp := webhookMessages(t, w.Body.Bytes())
		require.Len(t, resp.Messages, 3)
		assert.Equal(t, "📜 Kết quả đọc bài cơ bản (miễn phí):", resp.Messages[0].Text)
		assert.Equal(t, "free reading", resp.Messages[1].Text)
		require.NotNil(t, resp.Messages[2].Attachment)
		assert.Equal(t, "Premium Reading", resp.Messages[2].Attachment.Payload.Buttons[0].BlockNames[0])
		assert.NotEmpty(t, resp.SessionID)

		session := f.store.GetSessionByID(context.Background(), resp.SessionID)
		require.NotNil(t, session)
		assert.Equal(t, "m1", session.UID)
		assert.Equal(t, models.StateBasicReadingIssued, session.State)
		f.generator.AssertExpectations(t)
	})

	t.Run("Generation failure degrades to the apology", func(t *testing.T) {
		f := newAPIFixture(t, "a.png", "b.png", "c.png")
		f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("rate limited")).Once()

		w := f.do(http.MethodPost, "/api/webhook", map[string]interface{}{"uid": "u1", "cardCount": 3})

		require.Equal(t, http.StatusOK, w.Code)
		resp := webhookMessages(t, w.Body.Bytes())
		assert.Equal(t, services.ApologyText, resp.Messages[1].Text)
	})

	t.Run("Not enough cards", func(t *testing.T) {
		f := newAPIFixture(t, "a.png")

		w := f.do(http.MethodPost, "/api/webhook", map[string]string{"uid": "u1"})

		resp := webhookMessages(t, w.Body.Bytes())
		assert.Equal(t, "Không đủ ảnh lá bài tarot (cần ít nhất 3 lá)", resp.Messages[0].Text)
	})
}

func TestWebhookFollowUpHandler(t *testing.T) {
	t.Run("Answers on the latest session of the user", func(t *testing.T) {
		f := newAPIFixture(t)
		state := models.StateBasicReadingIssued
		session := f.seedSession(t, "u1", models.SessionPatch{
			BasicResult: strPtr("free"),
			State:       &state,
			AppendChat: []models.ChatMessage{
				{Role: models.RoleUser, Content: "Tôi muốn rút 1 lá bài tarot"},
				{Role: models.RoleAssistant, Content: "free"},
			},
		})
		f.generator.On("Reply", mock.Anything, mock.Anything).Return("the sun means joy", nil).Once()

		w := f.do(http.MethodPost, "/api/webhook/follow-up", map[string]string{"uid": "u1", "message": "What does it mean?"})

		require.Equal(t, http.StatusOK, w.Code)
		resp := webhookMessages(t, w.Body.Bytes())
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, "the sun means joy", resp.Messages[0].Text)
		assert.Equal(t, session.ID, resp.SessionID)
	})

	t.Run("Session without a reading", func(t *testing.T) {
		f := newAPIFixture(t)
		session := f.seedSession(t, "u1", models.SessionPatch{})

		w := f.do(http.MethodPost, "/api/webhook/follow-up", map[string]string{"session_id": session.ID, "message": "hi"})

		resp := webhookMessages(t, w.Body.Bytes())
		assert.Equal(t, "Bạn cần rút bài và nhận kết quả đọc bài trước khi hỏi thêm.", resp.Messages[0].Text)
		f.generator.AssertNotCalled(t, "Reply", mock.Anything, mock.Anything)
	})
}

func TestWebhookResultHandler(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("Unknown session", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/webhook/result", map[string]string{"session_id": "missing"})

		assert.Equal(t, http.StatusOK, w.Code)
		resp := webhookMessages(t, w.Body.Bytes())
		assert.Equal(t, "Không tìm thấy phiên đọc bài", resp.Messages[0].Text)
	})

	t.Run("Paid session gets the reading and a PDF link", func(t *testing.T) {
		session := f.seedSession(t, "u1", models.SessionPatch{Paid: boolPtr(true), GPTResult: strPtr("## Deep\n\nThe sun rises.")})

		w := f.do(http.MethodPost, "/api/webhook/result", map[string]string{"session_id": session.ID})

		resp := webhookMessages(t, w.Body.Bytes())
		require.Len(t, resp.Messages, 3)
		assert.Equal(t, "## Deep\n\nThe sun rises.", resp.Messages[1].Text)
		require.NotNil(t, resp.Messages[2].Attachment)
		assert.Equal(t, "https://tarot.example/pdfs/"+session.ID+".pdf", resp.Messages[2].Attachment.Payload.Buttons[0].URL)
		assert.FileExists(t, f.pdf.Path(session.ID))
	})
}
