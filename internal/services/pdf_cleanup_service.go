package services

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tarot_reading_go_backend/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPDFRetention       = 30 * 24 * time.Hour
	DefaultPDFCleanupInterval = 24 * time.Hour
)

// PDFCleanupService deletes rendered PDFs once they are older than the
// retention window. Cached PDFs are re-rendered on demand.
type PDFCleanupService struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	logger   zerolog.Logger
}

func NewPDFCleanupService(dir string, retention, interval time.Duration, m *metrics.Metrics) *PDFCleanupService {
	if retention <= 0 {
		retention = DefaultPDFRetention
	}
	if interval <= 0 {
		interval = DefaultPDFCleanupInterval
	}
	return &PDFCleanupService{
		dir:       dir,
		retention: retention,
		interval:  interval,
		metrics:   m,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    log.With().Str("component", "pdf_cleanup").Logger(),
	}
}

// Start runs one cleanup immediately and then one per interval until Stop.
func (s *PDFCleanupService) Start() {
	go s.periodicCleanup()
}

func (s *PDFCleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *PDFCleanupService) periodicCleanup() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.CleanupOldPDFs()
	for {
		select {
		case <-ticker.C:
			s.CleanupOldPDFs()
		case <-s.stop:
			return
		}
	}
}

// CleanupOldPDFs removes every .pdf whose modification time is past the
// retention window and returns how many were deleted.
func (s *PDFCleanupService) CleanupOldPDFs() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error().Err(err).Str("dir", s.dir).Msg("Could not list PDF directory")
		}
		return 0
	}

	cutoff := s.now().Add(-s.retention)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("Could not delete old PDF")
			continue
		}
		deleted++
	}

	s.metrics.PDFsDeleted(deleted)
	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("Old PDFs cleaned up")
	}
	return deleted
}
