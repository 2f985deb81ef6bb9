package api

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"

	apperrors "tarot_reading_go_backend/internal/errors"
	"tarot_reading_go_backend/internal/services"

	"github.com/gin-gonic/gin"
)

var dobPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const (
	msgMissingUID      = "User ID là bắt buộc"
	msgInvalidDOB      = "Ngày sinh phải có định dạng YYYY-MM-DD"
	msgNoSessionForUID = "Không tìm thấy phiên đọc bài nào cho người dùng này"
)

func drawHandler(orchestrator *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			UID      string `json:"uid"`
			FullName string `json:"full_name"`
			DOB      string `json:"dob"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError(msgMissingUID))
			return
		}
		if request.UID == "" {
			apperrors.HandleError(c, apperrors.NewValidationError(msgMissingUID))
			return
		}
		if request.DOB != "" && !dobPattern.MatchString(request.DOB) {
			apperrors.HandleError(c, apperrors.NewValidationError(msgInvalidDOB))
			return
		}

		ctx := c.Request.Context()
		cardCount := orchestrator.Store().GetConfig(ctx).DefaultCardCount
		result, err := orchestrator.Draw(ctx, services.DrawRequest{
			UID:       request.UID,
			Name:      request.FullName,
			DOB:       request.DOB,
			CardCount: cardCount,
			Source:    "public",
		})
		if err != nil {
			if errors.Is(err, services.ErrNotEnoughCards) {
				apperrors.HandleError(c, apperrors.NewInternalErrorWithMessage(notEnoughCardsText(orchestrator.CardCount(ctx, cardCount)), err))
				return
			}
			apperrors.HandleError(c, serviceError(err))
			return
		}

		session := result.Session
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"sessionId":      session.ID,
			"cards":          session.Cards,
			"full_name":      session.Name,
			"dob":            session.DOB,
			"compositeImage": session.CompositeImage,
		})
	}
}

func resultHandler(store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Query("uid")
		if uid == "" {
			apperrors.HandleError(c, apperrors.NewValidationError(msgMissingUID))
			return
		}
		session := store.GetLatestSessionByUID(c.Request.Context(), uid)
		if session == nil {
			apperrors.HandleError(c, apperrors.NewNotFoundError(msgNoSessionForUID))
			return
		}
		c.JSON(http.StatusOK, session.Public())
	}
}

func notEnoughCardsText(count int) string {
	return fmt.Sprintf("Không đủ ảnh lá bài tarot (cần ít nhất %d lá)", count)
}

// serviceError maps orchestrator errors onto the HTTP error taxonomy.
func serviceError(err error) error {
	switch {
	case errors.Is(err, services.ErrMissingUID), errors.Is(err, services.ErrMissingSessionID):
		return apperrors.NewValidationError(unwrapMessage(err))
	case errors.Is(err, services.ErrMissingMessage):
		return apperrors.NewValidationError("Tin nhắn là bắt buộc")
	case errors.Is(err, services.ErrSessionNotFound):
		return apperrors.NewNotFoundError("Không tìm thấy session")
	case errors.Is(err, services.ErrInvalidTransition):
		return apperrors.NewValidationError("Thao tác không hợp lệ với trạng thái hiện tại của phiên đọc bài")
	case errors.Is(err, services.ErrNoReading):
		return apperrors.NewValidationError("Phiên đọc bài chưa có kết quả chuyên sâu")
	case errors.Is(err, services.ErrStorageUnavailable):
		return apperrors.NewStorageDegradedError("Không thể lưu dữ liệu", err)
	case errors.Is(err, services.ErrConfiguration), errors.Is(err, services.ErrUpstream):
		return apperrors.NewUpstreamError("Lỗi khi tạo kết quả GPT", err)
	}
	return err
}

// unwrapMessage returns the innermost error text, which for the missing id
// sentinels is the user-facing message.
func unwrapMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
