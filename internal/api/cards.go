package api

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "tarot_reading_go_backend/internal/errors"
	"tarot_reading_go_backend/internal/services"

	"github.com/gin-gonic/gin"
)

func uploadCardHandler(cards *services.CardLibrary) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, services.MaxCardImageSize+(1<<20))

		header, err := c.FormFile("cardImage")
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("Không có file ảnh nào được tải lên"))
			return
		}
		if err := cards.ValidateUpload(header.Header.Get("Content-Type"), header.Size); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError(err.Error()))
			return
		}

		file, err := header.Open()
		if err != nil {
			apperrors.HandleError(c, apperrors.NewInternalErrorWithMessage("Lỗi khi tải lên file", err))
			return
		}
		defer file.Close()

		filename, err := cards.Save(header.Filename, file)
		if err != nil {
			if errors.Is(err, services.ErrInvalidCardName) {
				apperrors.HandleError(c, apperrors.NewValidationError("Tên file không hợp lệ"))
				return
			}
			apperrors.HandleError(c, apperrors.NewInternalErrorWithMessage("Lỗi khi tải lên file", err))
			return
		}

		cardName := c.PostForm("cardName")
		if cardName == "" {
			cardName = cards.DisplayName(filename)
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"cardName": cardName,
			"filePath": services.ImagesWebPrefix + filename,
		})
	}
}

func listCardsHandler(cards *services.CardLibrary) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := cards.List()
		if err != nil {
			apperrors.HandleError(c, apperrors.NewInternalErrorWithMessage("Lỗi khi lấy danh sách lá bài", err))
			return
		}
		if list == nil {
			list = []services.CardImage{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "cards": list})
	}
}

func deleteCardHandler(cards *services.CardLibrary) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Filename string `json:"filename"`
		}
		_ = c.ShouldBindJSON(&request)
		if request.Filename == "" {
			apperrors.HandleError(c, apperrors.NewValidationError("Tên file lá bài là bắt buộc"))
			return
		}

		err := cards.Delete(request.Filename)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"message": fmt.Sprintf("Đã xóa lá bài %s thành công", request.Filename),
			})
		case errors.Is(err, services.ErrInvalidCardName):
			apperrors.HandleError(c, apperrors.NewValidationError("Tên file không hợp lệ"))
		case errors.Is(err, services.ErrCardNotFound):
			apperrors.HandleError(c, apperrors.NewNotFoundError("File ảnh không tồn tại"))
		default:
			apperrors.HandleError(c, apperrors.NewInternalErrorWithMessage("Lỗi khi xóa lá bài", err))
		}
	}
}
