package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tarot_reading_go_backend/internal/metrics"
	"tarot_reading_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	dbFileName           = "db.json"
	backupDirName        = "backups"
	backupPrefix         = "db_"
	backupSuffix         = ".json"
	backupTimeLayout     = "2006-01-02T15-04-05.000000000Z"
	defaultBackupRetain  = 10
	mirrorUploadDeadline = 2 * time.Minute
)

var ErrStoreClosed = errors.New("store is closed")

type JSONStoreOptions struct {
	DataDir         string
	FallbackDir     string
	BackupRetention int
	Mirror          BackupMirror
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// JSONStore keeps every session and the reading config in a single JSON
// document, snapshotting the previous file into backups/ before each write.
type JSONStore struct {
	mu          sync.Mutex
	dataDir     string
	fallbackDir string
	retention   int
	mirror      BackupMirror
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      zerolog.Logger
	mirrors     sync.WaitGroup
	closed      bool
	// lastBackup keeps backup names strictly increasing within the process.
	lastBackup time.Time
}

// OpenJSONStore prepares the data directory and migrates an existing
// document to the current schema version.
func OpenJSONStore(opts JSONStoreOptions) *JSONStore {
	s := &JSONStore{
		dataDir:     opts.DataDir,
		fallbackDir: opts.FallbackDir,
		retention:   opts.BackupRetention,
		mirror:      opts.Mirror,
		metrics:     opts.Metrics,
		now:         opts.Now,
		logger:      log.With().Str("component", "json_store").Logger(),
	}
	if s.retention <= 0 {
		s.retention = defaultBackupRetain
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ensureDataStructure() {
		s.logger.Error().Msg("No writable data directory, running on in-memory defaults")
		return s
	}
	s.migrate()
	return s
}

func (s *JSONStore) DBFile() string {
	return filepath.Join(s.dataDir, dbFileName)
}

func (s *JSONStore) BackupDir() string {
	return filepath.Join(s.dataDir, backupDirName)
}

// EnsureDataStructure creates the data and backup directories and seeds a
// default document. It falls back to the alternate directory when the
// primary one is not writable and only reports false if both fail.
func (s *JSONStore) EnsureDataStructure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureDataStructure()
}

func (s *JSONStore) ensureDataStructure() bool {
	err := s.prepareDir(s.dataDir)
	if err == nil {
		return true
	}
	s.logger.Error().Err(err).Str("dir", s.dataDir).Msg("Error ensuring data structure")

	if s.fallbackDir == "" || s.fallbackDir == s.dataDir {
		return false
	}
	if err := s.prepareDir(s.fallbackDir); err != nil {
		s.logger.Error().Err(err).Str("dir", s.fallbackDir).Msg("Could not create fallback data directory")
		return false
	}
	s.logger.Warn().Str("dir", s.fallbackDir).Msg("Using fallback data directory")
	s.dataDir = s.fallbackDir
	return true
}

func (s *JSONStore) prepareDir(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, backupDirName), 0o755); err != nil {
		return err
	}
	dbFile := filepath.Join(dir, dbFileName)
	if _, err := os.Stat(dbFile); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := writeDocument(dbFile, models.DefaultDocument()); err != nil {
		return err
	}
	s.logger.Info().Str("file", dbFile).Msg("Created new db.json with default structure")
	return nil
}

func (s *JSONStore) migrate() {
	data, err := os.ReadFile(s.DBFile())
	if err != nil {
		s.logger.Error().Err(err).Msg("Error reading database for migration")
		return
	}
	doc, report, err := models.DecodeDocument(data)
	if err != nil {
		s.logger.Error().Err(err).Msg("Stored document is unreadable, leaving it untouched")
		return
	}
	if !report.Changed() {
		return
	}
	s.logger.Info().
		Int("from_version", report.FromVersion).
		Int("to_version", models.SchemaVersion).
		Int("dropped_sessions", report.DroppedSessions).
		Int("backfilled_state", report.BackfilledState).
		Msg("Migrating stored document")
	s.save(doc)
}

// Read returns the stored document, or the default document if the file
// cannot be read or parsed.
func (s *JSONStore) Read() models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *JSONStore) read() models.Document {
	if !s.ensureDataStructure() {
		return models.DefaultDocument()
	}
	data, err := os.ReadFile(s.DBFile())
	if err != nil {
		s.logger.Error().Err(err).Msg("Error reading database")
		return models.DefaultDocument()
	}
	doc, _, err := models.DecodeDocument(data)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error parsing database")
		return models.DefaultDocument()
	}
	return doc
}

// Save backs up the current file and writes doc in its place.
func (s *JSONStore) Save(doc models.Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(doc)
}

func (s *JSONStore) save(doc models.Document) bool {
	if s.closed {
		s.logger.Error().Err(ErrStoreClosed).Msg("Error saving database")
		return false
	}
	if !s.ensureDataStructure() {
		s.metrics.StoreSave(false)
		return false
	}
	current, err := os.ReadFile(s.DBFile())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error().Err(err).Msg("Error reading database before save")
		s.metrics.StoreSave(false)
		return false
	}
	if _, _, err := models.DecodeDocument(current); errors.Is(err, models.ErrNewerVersion) {
		s.logger.Error().Err(err).Msg("Refusing to overwrite database written by a newer version")
		s.metrics.StoreSave(false)
		return false
	}
	if current != nil {
		s.createBackup(current)
	}

	doc.Version = models.SchemaVersion
	if doc.Sessions == nil {
		doc.Sessions = []models.Session{}
	}
	if err := writeDocument(s.DBFile(), doc); err != nil {
		s.logger.Error().Err(err).Msg("Error saving database")
		s.metrics.StoreSave(false)
		return false
	}
	s.metrics.StoreSave(true)
	return true
}

func (s *JSONStore) createBackup(data []byte) {
	name := s.nextBackupName()
	if err := os.WriteFile(filepath.Join(s.BackupDir(), name), data, 0o644); err != nil {
		s.logger.Error().Err(err).Msg("Error creating backup")
		return
	}
	s.pruneBackups()
	s.logger.Debug().Str("backup", name).Msg("Created backup")

	if s.mirror != nil {
		s.mirrors.Add(1)
		go s.mirrorBackup(name, data)
	}
}

// nextBackupName returns an unused name that sorts after every backup taken
// earlier by this store, even when the clock is coarse or repeats.
func (s *JSONStore) nextBackupName() string {
	stamp := s.now().UTC()
	if !stamp.After(s.lastBackup) {
		stamp = s.lastBackup.Add(time.Nanosecond)
	}
	for {
		name := backupPrefix + stamp.Format(backupTimeLayout) + backupSuffix
		if _, err := os.Stat(filepath.Join(s.BackupDir(), name)); errors.Is(err, os.ErrNotExist) {
			s.lastBackup = stamp
			return name
		}
		stamp = stamp.Add(time.Nanosecond)
	}
}

func (s *JSONStore) pruneBackups() {
	backups, err := s.ListBackups()
	if err != nil {
		s.logger.Error().Err(err).Msg("Error listing backups")
		return
	}
	for _, name := range backups[min(len(backups), s.retention):] {
		if err := os.Remove(filepath.Join(s.BackupDir(), name)); err != nil {
			s.logger.Error().Err(err).Str("backup", name).Msg("Error removing old backup")
		}
	}
}

// ListBackups returns backup file names, newest first.
func (s *JSONStore) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(s.BackupDir())
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && isBackupName(name) {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (s *JSONStore) mirrorBackup(name string, data []byte) {
	defer s.mirrors.Done()
	ctx, cancel := context.WithTimeout(context.Background(), mirrorUploadDeadline)
	defer cancel()
	if err := s.mirror.MirrorBackup(ctx, name, data); err != nil {
		s.logger.Error().Err(err).Str("backup", name).Msg("Error mirroring backup")
	}
}

func isBackupName(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix)
}

func writeDocument(path string, doc models.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Close waits for in-flight backup mirrors. Later writes report failure.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.mirrors.Wait()
	return nil
}

func (s *JSONStore) GetAllSessions(ctx context.Context) []models.Session {
	return s.Read().Sessions
}

func (s *JSONStore) GetSessionByID(ctx context.Context, id string) *models.Session {
	for _, session := range s.Read().Sessions {
		if session.ID == id {
			return &session
		}
	}
	return nil
}

// GetLatestSessionByUID returns the session with the greatest timestamp for
// uid. On equal timestamps the later entry wins.
func (s *JSONStore) GetLatestSessionByUID(ctx context.Context, uid string) *models.Session {
	var latest *models.Session
	for _, session := range s.Read().Sessions {
		if session.UID != uid {
			continue
		}
		if latest == nil || !session.Timestamp.Before(latest.Timestamp) {
			candidate := session
			latest = &candidate
		}
	}
	return latest
}

func (s *JSONStore) AddSession(ctx context.Context, session models.Session) (models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.ID = uuid.NewString()
	session.Timestamp = s.now().UTC()
	if session.State == "" {
		session.State = models.StateDrawn
	}

	doc := s.read()
	doc.Sessions = append(doc.Sessions, session)
	return session, s.save(doc)
}

func (s *JSONStore) UpdateSession(ctx context.Context, id string, patch models.SessionPatch) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	for i := range doc.Sessions {
		if doc.Sessions[i].ID != id {
			continue
		}
		patch.Apply(&doc.Sessions[i], s.now().UTC())
		if !s.save(doc) {
			return nil
		}
		updated := doc.Sessions[i]
		return &updated
	}
	return nil
}

func (s *JSONStore) DeleteSession(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	kept := doc.Sessions[:0]
	for _, session := range doc.Sessions {
		if session.ID != id {
			kept = append(kept, session)
		}
	}
	if len(kept) == len(doc.Sessions) {
		return false
	}
	doc.Sessions = kept
	return s.save(doc)
}

func (s *JSONStore) FilterSessions(ctx context.Context, filter models.SessionFilter) []models.Session {
	sessions := []models.Session{}
	for _, session := range s.Read().Sessions {
		if filter.Matches(session) {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

func (s *JSONStore) GetConfig(ctx context.Context) models.ReadingConfig {
	return s.Read().Config
}

func (s *JSONStore) UpdateConfig(ctx context.Context, patch models.ConfigPatch) models.ReadingConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	doc.Config = patch.Merge(doc.Config)
	s.save(doc)
	return doc.Config
}
