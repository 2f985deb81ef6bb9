package api

import (
	"errors"
	"io"
	"net/http"

	apperrors "tarot_reading_go_backend/internal/errors"
	"tarot_reading_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxStripeBodyBytes = int64(65536)

func checkoutHandler(stripeService *services.StripeService, store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !stripeService.Enabled() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Thanh toán chưa được cấu hình"})
			return
		}
		var request struct {
			SessionID string `json:"session_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError(msgSessionIDRequired))
			return
		}
		session := store.GetSessionByID(c.Request.Context(), request.SessionID)
		if session == nil {
			apperrors.HandleError(c, apperrors.NewNotFoundError(msgSessionNotFound))
			return
		}
		if session.Paid {
			apperrors.HandleError(c, apperrors.NewValidationError("Phiên đọc bài đã được thanh toán"))
			return
		}

		checkout, err := stripeService.CreateCheckoutSession(session.ID, session.UID)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewInternalErrorWithMessage("Không thể tạo phiên thanh toán", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":             true,
			"checkout_session_id": checkout.ID,
			"url":                 checkout.URL,
			"public_key":          stripeService.PublicKey(),
		})
	}
}

// stripeWebhookHandler approves the tarot session named by a completed
// checkout. Approval failures answer 500 so Stripe retries the delivery.
func stripeWebhookHandler(stripeService *services.StripeService, orchestrator *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxStripeBodyBytes)
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
			return
		}

		sessionID, err := stripeService.HandleWebhook(payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, services.ErrPaymentsDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			log.Warn().Err(err).Msg("Rejected Stripe webhook")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to verify webhook signature"})
			return
		}
		if sessionID == "" {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		if _, err := orchestrator.Approve(c.Request.Context(), sessionID); err != nil {
			if errors.Is(err, services.ErrSessionNotFound) {
				log.Warn().Str("session_id", sessionID).Msg("Checkout completed for unknown session")
				c.JSON(http.StatusOK, gin.H{"received": true})
				return
			}
			log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to approve paid session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process checkout session"})
			return
		}
		log.Info().Str("session_id", sessionID).Msg("Checkout completed, session approved")
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
