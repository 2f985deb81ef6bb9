package services

import (
	"context"
	"errors"
	"time"

	"tarot_reading_go_backend/internal/metrics"
	"tarot_reading_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const configRecordID = 1

// GormStore is the SQL-backed SessionStore. Like the JSON store it logs
// failures and degrades to nil or false instead of returning errors.
type GormStore struct {
	db      *gorm.DB
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger
}

func NewGormStore(db *gorm.DB, m *metrics.Metrics) *GormStore {
	return &GormStore{
		db:      db,
		metrics: m,
		now:     time.Now,
		logger:  log.With().Str("component", "gorm_store").Logger(),
	}
}

func (s *GormStore) GetAllSessions(ctx context.Context) []models.Session {
	return s.find(s.db.WithContext(ctx))
}

func (s *GormStore) find(q *gorm.DB) []models.Session {
	var records []models.SessionRecord
	if err := q.Order("timestamp asc").Find(&records).Error; err != nil {
		s.logger.Error().Err(err).Msg("Error loading sessions")
		return []models.Session{}
	}
	sessions := make([]models.Session, len(records))
	for i, r := range records {
		sessions[i] = r.ToSession()
	}
	return sessions
}

func (s *GormStore) first(q *gorm.DB) *models.Session {
	var record models.SessionRecord
	err := q.First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Error loading session")
		return nil
	}
	session := record.ToSession()
	return &session
}

func (s *GormStore) GetSessionByID(ctx context.Context, id string) *models.Session {
	return s.first(s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *GormStore) GetLatestSessionByUID(ctx context.Context, uid string) *models.Session {
	return s.first(s.db.WithContext(ctx).Where("uid = ?", uid).Order("timestamp desc"))
}

func (s *GormStore) AddSession(ctx context.Context, session models.Session) (models.Session, bool) {
	session.ID = uuid.NewString()
	session.Timestamp = s.now().UTC()
	if session.State == "" {
		session.State = models.StateDrawn
	}
	record := models.NewSessionRecord(session)
	err := s.db.WithContext(ctx).Create(&record).Error
	s.metrics.StoreSave(err == nil)
	if err != nil {
		s.logger.Error().Err(err).Str("uid", session.UID).Msg("Error adding session")
		return session, false
	}
	return session, true
}

func (s *GormStore) UpdateSession(ctx context.Context, id string, patch models.SessionPatch) *models.Session {
	var updated *models.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.SessionRecord
		if err := tx.Where("id = ?", id).First(&record).Error; err != nil {
			return err
		}
		session := record.ToSession()
		patch.Apply(&session, s.now().UTC())
		next := models.NewSessionRecord(session)
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		updated = &session
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	s.metrics.StoreSave(err == nil)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("Error updating session")
		return nil
	}
	return updated
}

func (s *GormStore) DeleteSession(ctx context.Context, id string) bool {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.SessionRecord{})
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Str("session_id", id).Msg("Error deleting session")
		return false
	}
	return result.RowsAffected > 0
}

func (s *GormStore) FilterSessions(ctx context.Context, filter models.SessionFilter) []models.Session {
	q := s.db.WithContext(ctx)
	if filter.UID != "" {
		q = q.Where("uid = ?", filter.UID)
	}
	if filter.StartDate != nil {
		q = q.Where("timestamp >= ?", filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		q = q.Where("timestamp <= ?", filter.EndDate.UTC())
	}
	return s.find(q)
}

func (s *GormStore) GetConfig(ctx context.Context) models.ReadingConfig {
	config, err := s.loadConfig(s.db.WithContext(ctx))
	if err != nil {
		s.logger.Error().Err(err).Msg("Error loading config, using defaults")
		return models.DefaultReadingConfig()
	}
	return config
}

func (s *GormStore) loadConfig(q *gorm.DB) (models.ReadingConfig, error) {
	var record models.ConfigRecord
	err := q.Where("id = ?", configRecordID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultReadingConfig(), nil
	}
	if err != nil {
		return models.ReadingConfig{}, err
	}
	return record.Config.WithDefaults(), nil
}

func (s *GormStore) UpdateConfig(ctx context.Context, patch models.ConfigPatch) models.ReadingConfig {
	var merged models.ReadingConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadConfig(tx)
		if err != nil {
			return err
		}
		merged = patch.Merge(current)
		return tx.Save(&models.ConfigRecord{ID: configRecordID, Config: merged}).Error
	})
	s.metrics.StoreSave(err == nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error updating config")
		return s.GetConfig(ctx)
	}
	return merged
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
