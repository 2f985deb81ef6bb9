package api

import (
	"bytes"
	"encoding/csv"
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "tarot_reading_go_backend/internal/errors"
	"tarot_reading_go_backend/internal/models"
	"tarot_reading_go_backend/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	msgSessionIDRequired = "Session ID là bắt buộc"
	msgSessionNotFound   = "Không tìm thấy session"
	msgInvalidDate       = "Ngày không hợp lệ"
)

var adminEndpoints = []gin.H{
	{"method": "GET", "path": "/admin/data", "description": "Danh sách phiên đọc bài (lọc theo uid, startDate, endDate)"},
	{"method": "POST", "path": "/admin/approve", "description": "Duyệt phiên và tạo kết quả chuyên sâu"},
	{"method": "POST", "path": "/admin/edit", "description": "Sửa kết quả chuyên sâu"},
	{"method": "POST", "path": "/admin/delete", "description": "Xóa phiên đọc bài"},
	{"method": "POST", "path": "/admin/filter", "description": "Lọc phiên đọc bài"},
	{"method": "GET", "path": "/admin/export", "description": "Xuất CSV"},
	{"method": "GET|POST", "path": "/admin/config", "description": "Cấu hình đọc bài"},
	{"method": "GET|POST", "path": "/admin/prompt", "description": "Prompt đọc bài"},
	{"method": "GET|POST", "path": "/admin/template", "description": "Mẫu kết quả"},
	{"method": "POST", "path": "/admin/upload-card", "description": "Tải lên ảnh lá bài"},
	{"method": "GET", "path": "/admin/cards", "description": "Danh sách lá bài"},
	{"method": "POST", "path": "/admin/delete-card", "description": "Xóa ảnh lá bài"},
	{"method": "POST", "path": "/admin/generate-pdf", "description": "Tạo PDF kết quả"},
	{"method": "GET", "path": "/admin/ws", "description": "Luồng sự kiện phiên đọc bài"},
}

func adminIndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"title":     "Quản lý Tarot - Admin Dashboard",
		"activeTab": c.DefaultQuery("tab", "sessions"),
		"endpoints": adminEndpoints,
	})
}

func adminDataHandler(store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseFilter(c.Query("uid"), c.Query("startDate"), c.Query("endDate"))
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError(msgInvalidDate))
			return
		}
		ctx := c.Request.Context()
		var sessions []models.Session
		if filter.IsEmpty() {
			sessions = store.GetAllSessions(ctx)
		} else {
			sessions = store.FilterSessions(ctx, filter)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "sessions": nonNil(sessions)})
	}
}

func filterHandler(store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			UID       string `json:"uid"`
			StartDate string `json:"startDate"`
			EndDate   string `json:"endDate"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError(err.Error()))
			return
		}
		filter, err := parseFilter(request.UID, request.StartDate, request.EndDate)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError(msgInvalidDate))
			return
		}
		sessions := store.FilterSessions(c.Request.Context(), filter)
		c.JSON(http.StatusOK, gin.H{"success": true, "sessions": nonNil(sessions)})
	}
}

func approveHandler(orchestrator *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			SessionID string `json:"sessionId"`
		}
		_ = c.ShouldBindJSON(&request)
		if request.SessionID == "" {
			apperrors.HandleError(c, apperrors.NewValidationError(msgSessionIDRequired))
			return
		}

		session, err := orchestrator.Approve(c.Request.Context(), request.SessionID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"success": true, "gptResult": session.GPTResult})
		case errors.Is(err, services.ErrSessionNotFound):
			apperrors.HandleError(c, apperrors.NewNotFoundError(msgSessionNotFound))
		case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrStorageUnavailable):
			apperrors.HandleError(c, serviceError(err))
		default:
			apperrors.HandleError(c, apperrors.NewUpstreamError("Lỗi khi tạo kết quả GPT", err))
		}
	}
}

func editHandler(orchestrator *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			SessionID string `json:"sessionId"`
			NewText   string `json:"newText"`
		}
		_ = c.ShouldBindJSON(&request)
		if request.SessionID == "" || strings.TrimSpace(request.NewText) == "" {
			apperrors.HandleError(c, apperrors.NewValidationError("Session ID và nội dung mới là bắt buộc"))
			return
		}

		session, err := orchestrator.EditResult(c.Request.Context(), request.SessionID, request.NewText)
		if err != nil {
			if errors.Is(err, services.ErrSessionNotFound) {
				apperrors.HandleError(c, apperrors.NewNotFoundError(msgSessionNotFound))
				return
			}
			apperrors.HandleError(c, serviceError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
	}
}

func deleteHandler(orchestrator *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			SessionID string `json:"sessionId"`
		}
		_ = c.ShouldBindJSON(&request)
		if request.SessionID == "" {
			apperrors.HandleError(c, apperrors.NewValidationError(msgSessionIDRequired))
			return
		}

		if err := orchestrator.Delete(c.Request.Context(), request.SessionID); err != nil {
			if errors.Is(err, services.ErrSessionNotFound) {
				apperrors.HandleError(c, apperrors.NewNotFoundError("Không tìm thấy session hoặc không thể xóa"))
				return
			}
			apperrors.HandleError(c, serviceError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func exportHandler(store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := store.GetAllSessions(c.Request.Context())
		if len(sessions) == 0 {
			apperrors.HandleError(c, apperrors.NewNotFoundError("Không có dữ liệu để xuất"))
			return
		}

		data, err := sessionsCSV(sessions)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewInternalErrorWithMessage("Lỗi khi tạo file CSV", err))
			return
		}
		stamp := strings.ReplaceAll(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-")
		c.Header("Content-Disposition", `attachment; filename="tarot_sessions_`+stamp+`.csv"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
	}
}

func sessionsCSV(sessions []models.Session) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"ID", "UID", "Thời gian", "Đã thanh toán", "Các lá bài", "Có kết quả"}); err != nil {
		return nil, err
	}
	for _, s := range sessions {
		record := []string{
			s.ID,
			s.UID,
			s.Timestamp.UTC().Format(time.RFC3339),
			yesNo(s.Paid),
			strings.Join(s.CardNames(), ", "),
			yesNo(s.HasReading()),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func getConfigHandler(store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "config": store.GetConfig(c.Request.Context())})
	}
}

func updateConfigHandler(store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch models.ConfigPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError(err.Error()))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "config": store.UpdateConfig(c.Request.Context(), patch)})
	}
}

func getPromptHandler(store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "prompt": store.GetConfig(c.Request.Context()).Prompt})
	}
}

func updatePromptHandler(store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Prompt string `json:"prompt"`
		}
		_ = c.ShouldBindJSON(&request)
		if strings.TrimSpace(request.Prompt) == "" {
			apperrors.HandleError(c, apperrors.NewValidationError("Nội dung prompt là bắt buộc"))
			return
		}
		config := store.UpdateConfig(c.Request.Context(), models.ConfigPatch{Prompt: &request.Prompt})
		c.JSON(http.StatusOK, gin.H{"success": true, "config": config})
	}
}

func getTemplateHandler(store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "template": store.GetConfig(c.Request.Context()).ResponseTemplate})
	}
}

func updateTemplateHandler(store services.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Template string `json:"template"`
		}
		_ = c.ShouldBindJSON(&request)
		if strings.TrimSpace(request.Template) == "" {
			apperrors.HandleError(c, apperrors.NewValidationError("Nội dung template là bắt buộc"))
			return
		}
		config := store.UpdateConfig(c.Request.Context(), models.ConfigPatch{ResponseTemplate: &request.Template})
		c.JSON(http.StatusOK, gin.H{"success": true, "config": config})
	}
}

func generatePDFHandler(orchestrator *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			SessionID  string `json:"sessionId"`
			Regenerate bool   `json:"regenerate"`
		}
		_ = c.ShouldBindJSON(&request)
		if request.SessionID == "" {
			apperrors.HandleError(c, apperrors.NewValidationError(msgSessionIDRequired))
			return
		}

		render := orchestrator.EnsurePDF
		if request.Regenerate {
			render = orchestrator.RegeneratePDF
		}
		fileName, err := render(c.Request.Context(), request.SessionID)
		if err != nil {
			if errors.Is(err, services.ErrSessionNotFound) || errors.Is(err, services.ErrNoReading) ||
				errors.Is(err, services.ErrMissingSessionID) {
				apperrors.HandleError(c, serviceError(err))
				return
			}
			apperrors.HandleError(c, apperrors.NewInternalErrorWithMessage("Lỗi khi tạo PDF", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"fileName": fileName,
			"url":      "/pdfs/" + fileName,
		})
	}
}

// parseFilter accepts RFC 3339 timestamps or plain YYYY-MM-DD dates, the
// latter read as midnight UTC.
func parseFilter(uid, start, end string) (models.SessionFilter, error) {
	filter := models.SessionFilter{UID: uid}
	var err error
	if filter.StartDate, err = parseDate(start); err != nil {
		return filter, err
	}
	if filter.EndDate, err = parseDate(end); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("invalid date " + value)
}

func yesNo(v bool) string {
	if v {
		return "Có"
	}
	return "Không"
}

func nonNil(sessions []models.Session) []models.Session {
	if sessions == nil {
		return []models.Session{}
	}
	return sessions
}
