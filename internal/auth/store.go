package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sjtu-chatbot/campusd/internal/logging"
	"github.com/sjtu-chatbot/campusd/internal/portal"
	"github.com/sjtu-chatbot/campusd/internal/storage"
)

const (
	sessionRecordName    = "session"
	sessionRecordVersion = 1
)

// sessionRecord is the on-disk form of a persisted session.
type sessionRecord struct {
	Version int             `json:"version"`
	Session *portal.Session `json:"session"`
	SavedAt time.Time       `json:"savedAt"`
}

// Store persists the current session to disk. Pure load/save: freshness
// against the live portal is the Manager's responsibility.
type Store struct {
	records *storage.Store
	log     zerolog.Logger
}

// NewStore creates a session store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		records: storage.New(dir),
		log:     logging.Component("auth.store"),
	}
}

// Load reads the persisted session record. A missing, corrupt, or
// version-mismatched record is treated as absent (nil, nil), never as an
// error: the record is only a hint.
func (s *Store) Load() (*portal.Session, error) {
	var rec sessionRecord
	err := s.records.Get(sessionRecordName, &rec)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		s.log.Warn().Err(err).Msg("discarding unreadable session record")
		return nil, nil
	}

	if rec.Version != sessionRecordVersion {
		s.log.Warn().Int("version", rec.Version).Msg("discarding session record with unknown schema version")
		return nil, nil
	}
	if rec.Session == nil || len(rec.Session.Cookies) == 0 {
		return nil, nil
	}

	return rec.Session, nil
}

// Save writes the session to disk atomically.
func (s *Store) Save(session *portal.Session) error {
	rec := sessionRecord{
		Version: sessionRecordVersion,
		Session: session,
		SavedAt: time.Now(),
	}
	if err := s.records.Put(sessionRecordName, rec); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Clear removes the persisted record. Clearing an absent record is fine.
func (s *Store) Clear() error {
	return s.records.Delete(sessionRecordName)
}
