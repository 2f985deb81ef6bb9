package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
)

const DefaultBackupPrefix = "tarot-backups/"

type GCSService struct {
	client *storage.Client
}

func NewGCSService(ctx context.Context) (*GCSService, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSService{client: client}, nil
}

func (s *GCSService) Close() error {
	return s.client.Close()
}

func (s *GCSService) UploadFile(ctx context.Context, bucketName, objectName string, content io.Reader) error {
	writer := s.client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, content); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func (s *GCSService) DeleteFile(ctx context.Context, bucketName, objectName string) error {
	return s.client.Bucket(bucketName).Object(objectName).Delete(ctx)
}

func (s *GCSService) ListFiles(ctx context.Context, bucketName, prefix string) ([]string, error) {
	var fileNames []string
	it := s.client.Bucket(bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		fileNames = append(fileNames, attrs.Name)
	}
	return fileNames, nil
}

// GCSBackupMirror copies each local store backup into a bucket and keeps
// the same number of remote backups as the store keeps locally.
type GCSBackupMirror struct {
	storage   CloudStorageManager
	bucket    string
	prefix    string
	retention int
	logger    zerolog.Logger
}

func NewGCSBackupMirror(remote CloudStorageManager, bucket, prefix string, retention int) *GCSBackupMirror {
	if prefix == "" {
		prefix = DefaultBackupPrefix
	}
	if retention <= 0 {
		retention = defaultBackupRetain
	}
	return &GCSBackupMirror{
		storage:   remote,
		bucket:    bucket,
		prefix:    prefix,
		retention: retention,
		logger:    log.With().Str("component", "backup_mirror").Logger(),
	}
}

func (m *GCSBackupMirror) MirrorBackup(ctx context.Context, name string, content []byte) error {
	if err := m.storage.UploadFile(ctx, m.bucket, m.prefix+name, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("upload backup %s: %w", name, err)
	}
	return m.prune(ctx)
}

func (m *GCSBackupMirror) prune(ctx context.Context) error {
	names, err := m.storage.ListFiles(ctx, m.bucket, m.prefix)
	if err != nil {
		return fmt.Errorf("list remote backups: %w", err)
	}
	var backups []string
	for _, name := range names {
		if isBackupName(strings.TrimPrefix(name, m.prefix)) {
			backups = append(backups, name)
		}
	}
	if len(backups) <= m.retention {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	for _, name := range backups[m.retention:] {
		if err := m.storage.DeleteFile(ctx, m.bucket, name); err != nil {
			m.logger.Warn().Err(err).Str("object", name).Msg("Could not delete old remote backup")
		}
	}
	return nil
}
