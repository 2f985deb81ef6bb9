package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"tarot_reading_go_backend/internal/models"
	"tarot_reading_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Chatfuel shows whatever messages it receives, so every webhook reply is a
// 200 with a message list, errors included.
const (
	msgWebhookMissingUser = "Lỗi: Thiếu thông tin người dùng"
	msgWebhookFailed      = "Đã xảy ra lỗi. Vui lòng thử lại sau."
	msgWebhookResultError = "Đã xảy ra lỗi khi lấy kết quả đọc bài. Vui lòng thử lại sau."
)

func webhookText(c *gin.Context, text string) {
	c.JSON(http.StatusOK, models.WebhookResponse{
		Messages: []models.WebhookMessage{models.TextMessage(text)},
	})
}

func webhookDrawHandler(orchestrator *services.Orchestrator, urls BaseURL) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			UID          string      `json:"uid"`
			MessengerUID string      `json:"messenger user id"`
			CardCount    json.Number `json:"cardCount"`
			Name         string      `json:"name"`
			DOB          string      `json:"dob"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			log.Warn().Err(err).Msg("Malformed webhook body")
			webhookText(c, msgWebhookMissingUser)
			return
		}
		uid := request.UID
		if uid == "" {
			uid = request.MessengerUID
		}
		if uid == "" {
			webhookText(c, msgWebhookMissingUser)
			return
		}
		requested, _ := request.CardCount.Int64()

		ctx := c.Request.Context()
		result, err := orchestrator.Draw(ctx, services.DrawRequest{
			UID:         uid,
			Name:        request.Name,
			DOB:         request.DOB,
			CardCount:   int(requested),
			Source:      "webhook",
			WithReading: true,
		})
		if err != nil {
			if errors.Is(err, services.ErrNotEnoughCards) {
				webhookText(c, notEnoughCardsText(orchestrator.CardCount(ctx, int(requested))))
				return
			}
			log.Error().Err(err).Str("uid", uid).Msg("Webhook draw failed")
			webhookText(c, msgWebhookFailed)
			return
		}

		c.JSON(http.StatusOK, services.BasicReadingResponse(result, urls.For(c)))
	}
}

func webhookFollowUpHandler(orchestrator *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			SessionID    string `json:"session_id"`
			UID          string `json:"uid"`
			MessengerUID string `json:"messenger user id"`
			Message      string `json:"message"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			webhookText(c, msgWebhookMissingUser)
			return
		}
		uid := request.UID
		if uid == "" {
			uid = request.MessengerUID
		}

		result, err := orchestrator.FollowUp(c.Request.Context(), services.FollowUpRequest{
			SessionID: request.SessionID,
			UID:       uid,
			Message:   request.Message,
		})
		switch {
		case err == nil:
			c.JSON(http.StatusOK, services.FollowUpResponse(result))
		case errors.Is(err, services.ErrMissingUID):
			webhookText(c, msgWebhookMissingUser)
		case errors.Is(err, services.ErrSessionNotFound):
			webhookText(c, "Không tìm thấy phiên đọc bài")
		case errors.Is(err, services.ErrMissingMessage):
			webhookText(c, "Bạn muốn hỏi thêm điều gì về lá bài của mình?")
		case errors.Is(err, services.ErrInvalidTransition):
			webhookText(c, "Bạn cần rút bài và nhận kết quả đọc bài trước khi hỏi thêm.")
		default:
			log.Error().Err(err).Str("uid", uid).Msg("Webhook follow-up failed")
			webhookText(c, msgWebhookFailed)
		}
	}
}

func webhookResultHandler(orchestrator *services.Orchestrator, urls BaseURL) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			SessionID string `json:"session_id"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			log.Warn().Err(err).Msg("Malformed webhook result body")
			webhookText(c, msgWebhookResultError)
			return
		}
		c.JSON(http.StatusOK, orchestrator.WebhookResult(c.Request.Context(), request.SessionID, urls.For(c)))
	}
}
