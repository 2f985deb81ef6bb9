package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tarot_reading_go_backend/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestGCSBackupMirror_MirrorBackup(t *testing.T) {
	ctx := context.Background()
	name := "db_2024-05-01T10-00-12.000Z.json"

	t.Run("Uploads and prunes the oldest remote backups", func(t *testing.T) {
		// Setup
		mockStorage := new(MockCloudStorageManager)
		mirror := services.NewGCSBackupMirror(mockStorage, "bucket", "", 2)
		remote := []string{
			"tarot-backups/db_2024-05-01T10-00-10.000Z.json",
			"tarot-backups/db_2024-05-01T10-00-12.000Z.json",
			"tarot-backups/notes.txt",
			"tarot-backups/db_2024-05-01T10-00-11.000Z.json",
		}
		mockStorage.On("UploadFile", ctx, "bucket", "tarot-backups/"+name, mock.AnythingOfType("*bytes.Reader")).Return(nil).Once()
		mockStorage.On("ListFiles", ctx, "bucket", "tarot-backups/").Return(remote, nil).Once()
		mockStorage.On("DeleteFile", ctx, "bucket", "tarot-backups/db_2024-05-01T10-00-10.000Z.json").Return(nil).Once()

		// Execute
		err := mirror.MirrorBackup(ctx, name, []byte(`{"version":2}`))

		// Assert
		assert.NoError(t, err)
		mockStorage.AssertExpectations(t)
	})

	t.Run("Upload failure is reported without pruning", func(t *testing.T) {
		mockStorage := new(MockCloudStorageManager)
		mirror := services.NewGCSBackupMirror(mockStorage, "bucket", "custom/", 10)
		mockStorage.On("UploadFile", ctx, "bucket", "custom/"+name, mock.Anything).Return(errors.New("forbidden")).Once()

		err := mirror.MirrorBackup(ctx, name, []byte("{}"))

		assert.Error(t, err)
		mockStorage.AssertNotCalled(t, "ListFiles", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Within retention nothing is deleted", func(t *testing.T) {
		mockStorage := new(MockCloudStorageManager)
		mirror := services.NewGCSBackupMirror(mockStorage, "bucket", "", 10)
		var remote []string
		for i := 0; i < 10; i++ {
			remote = append(remote, fmt.Sprintf("tarot-backups/db_2024-05-01T10-00-%02d.000Z.json", i))
		}
		mockStorage.On("UploadFile", ctx, "bucket", mock.Anything, mock.Anything).Return(nil).Once()
		mockStorage.On("ListFiles", ctx, "bucket", "tarot-backups/").Return(remote, nil).Once()

		assert.NoError(t, mirror.MirrorBackup(ctx, name, []byte("{}")))
		mockStorage.AssertNotCalled(t, "DeleteFile", mock.Anything, mock.Anything, mock.Anything)
	})
}
